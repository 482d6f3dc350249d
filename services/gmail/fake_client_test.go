package gmail

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	mailerrors "github.com/customeros/mailreader/internal/errors"
)

type fakeGmailMessage struct {
	id        string
	messageID string
	subject   string
	labels    []string
	date      time.Time
}

func (m fakeGmailMessage) raw() []byte {
	return []byte(fmt.Sprintf("Message-ID: <%s>\r\nFrom: Ana <ana@example.com>\r\nTo: me@example.com\r\nSubject: %s\r\nDate: %s\r\nContent-Type: text/html\r\n\r\n<p>%s</p>\r\n",
		m.messageID, m.subject, m.date.Format(time.RFC1123Z), m.subject))
}

type fakeClient struct {
	mu         sync.Mutex
	labels     []Label
	messages   map[string][]*fakeGmailMessage
	listCalls  []ListQuery
	metaCalls  int
	labelCalls int
	rawCalls   int
	removed    map[string][]string
	created    []string
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		labels: []Label{
			{ID: "INBOX", Name: "INBOX"},
			{ID: "Label_1", Name: "Work", Total: 0},
			{ID: "Label_2", Name: "Work/Projects", Total: 7, Unread: 2},
		},
		messages: map[string][]*fakeGmailMessage{},
		removed:  map[string][]string{},
	}
}

// fill adds count messages to label, newest first as Gmail lists them.
func (f *fakeClient) fill(labelID string, count int) {
	for n := count; n >= 1; n-- {
		f.messages[labelID] = append(f.messages[labelID], &fakeGmailMessage{
			id:        fmt.Sprintf("g%d", n),
			messageID: fmt.Sprintf("gm-%d@example.com", n),
			subject:   fmt.Sprintf("Message %d", n),
			labels:    []string{labelID},
			date:      time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(n) * time.Hour),
		})
	}
}

func (f *fakeClient) find(id string) *fakeGmailMessage {
	for _, list := range f.messages {
		for _, m := range list {
			if m.id == id {
				return m
			}
		}
	}
	return nil
}

func (f *fakeClient) ListLabels(ctx context.Context) ([]Label, error) {
	return f.labels, nil
}

func (f *fakeClient) GetLabel(ctx context.Context, id string) (Label, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.labelCalls++
	for _, label := range f.labels {
		if label.ID == id {
			label.Total = max(label.Total, int64(len(f.messages[id])))
			return label, nil
		}
	}
	return Label{}, mailerrors.NotFound("gmail label %s", id)
}

func (f *fakeClient) CreateLabel(ctx context.Context, name string) (Label, error) {
	label := Label{ID: fmt.Sprintf("Label_%d", len(f.labels)+1), Name: name}
	f.labels = append(f.labels, label)
	f.created = append(f.created, name)
	return label, nil
}

func (f *fakeClient) ListMessages(ctx context.Context, query ListQuery) ([]string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls = append(f.listCalls, query)

	list := f.messages[query.LabelID]
	if strings.HasPrefix(query.Query, "rfc822msgid:") {
		want := strings.TrimPrefix(query.Query, "rfc822msgid:")
		for _, m := range list {
			if m.messageID == want {
				return []string{m.id}, "", nil
			}
		}
		return nil, "", nil
	}

	offset := 0
	if query.PageToken != "" {
		offset, _ = strconv.Atoi(strings.TrimPrefix(query.PageToken, "tok-"))
	}
	if offset >= len(list) {
		return nil, "", nil
	}
	end := offset + int(query.MaxResults)
	if end > len(list) {
		end = len(list)
	}

	var ids []string
	for _, m := range list[offset:end] {
		ids = append(ids, m.id)
	}
	next := ""
	if end < len(list) {
		next = fmt.Sprintf("tok-%d", end)
	}
	return ids, next, nil
}

func (f *fakeClient) GetMetadata(ctx context.Context, id string, headers []string) (MessageMeta, error) {
	f.mu.Lock()
	f.metaCalls++
	f.mu.Unlock()

	m := f.find(id)
	if m == nil {
		return MessageMeta{}, mailerrors.NotFound("gmail message %s", id)
	}
	return MessageMeta{
		ID:       m.id,
		LabelIDs: m.labels,
		Headers: map[string]string{
			"Message-ID": "<" + m.messageID + ">",
			"Subject":    m.subject,
			"From":       "Ana <ana@example.com>",
			"Date":       m.date.Format(time.RFC1123Z),
		},
		InternalDate: m.date,
	}, nil
}

func (f *fakeClient) GetRaw(ctx context.Context, id string) ([]byte, []string, error) {
	f.rawCalls++
	m := f.find(id)
	if m == nil {
		return nil, nil, mailerrors.NotFound("gmail message %s", id)
	}
	return m.raw(), m.labels, nil
}

func (f *fakeClient) RemoveLabels(ctx context.Context, id string, labelIDs ...string) error {
	f.removed[id] = append(f.removed[id], labelIDs...)
	return nil
}
