package retrieval

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/customeros/mailreader/interfaces"
	"github.com/customeros/mailreader/internal/enum"
	"github.com/customeros/mailreader/internal/models"
)

type fakeMessage struct {
	uid  uint32
	date time.Time
	seen bool
	raw  string
}

type fakeSession struct {
	boxes       map[string][]*fakeMessage
	uidValidity uint32
	uidNext     uint32
	selected    string
	readOnly    bool

	searches []models.SearchFilter
	fetches  []models.FetchOptions
	created  []string
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		boxes:       map[string][]*fakeMessage{"INBOX": nil},
		uidValidity: 1,
		uidNext:     1,
	}
}

var baseDate = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func (f *fakeSession) appendMessage(box, messageID, subject string, date time.Time) {
	raw := fmt.Sprintf("Message-ID: <%s>\r\nFrom: Sender <sender@example.com>\r\nTo: me@example.com\r\nSubject: %s\r\nDate: %s\r\nContent-Type: text/plain\r\n\r\nBody of %s\r\n",
		messageID, subject, date.Format(time.RFC1123Z), subject)
	f.appendRaw(box, raw, date)
}

func (f *fakeSession) appendRaw(box, raw string, date time.Time) {
	f.boxes[box] = append(f.boxes[box], &fakeMessage{uid: f.uidNext, date: date, raw: raw})
	f.uidNext++
}

// fill appends count messages numbered from the current size of box.
func (f *fakeSession) fill(box string, count int) {
	for i := 0; i < count; i++ {
		n := len(f.boxes[box]) + 1
		f.appendMessage(box, fmt.Sprintf("msg-%d@example.com", n), fmt.Sprintf("Message %d", n), baseDate.Add(time.Duration(n)*time.Hour))
	}
}

func (f *fakeSession) expunge(box string, seq int) {
	messages := f.boxes[box]
	f.boxes[box] = append(messages[:seq-1:seq-1], messages[seq:]...)
}

func (f *fakeSession) Identity() string {
	return "acct_test"
}

func (f *fakeSession) ListBoxes(ctx context.Context) ([]models.MailBox, error) {
	var boxes []models.MailBox
	for name := range f.boxes {
		boxes = append(boxes, models.MailBox{ID: name, Name: name, Delimiter: "/"})
	}
	return models.BuildHierarchy(boxes), nil
}

func (f *fakeSession) GetBox(ctx context.Context, name string, readOnly bool) (*models.MailBox, error) {
	messages, ok := f.boxes[name]
	if !ok {
		return nil, fmt.Errorf("imap getBox: no such mailbox %s", name)
	}
	f.selected = name
	f.readOnly = readOnly

	return &models.MailBox{
		ID:          name,
		Name:        name,
		Counts:      models.Counts{Total: uint32(len(messages))},
		UIDValidity: f.uidValidity,
		UIDNext:     f.uidNext,
	}, nil
}

func (f *fakeSession) CloseBox(ctx context.Context) error {
	f.selected = ""
	return nil
}

func (f *fakeSession) Search(ctx context.Context, filters ...models.SearchFilter) ([]uint32, error) {
	f.searches = append(f.searches, filters...)

	var ids []uint32
	for i, message := range f.boxes[f.selected] {
		if matchesAll(message, filters) {
			ids = append(ids, uint32(i+1))
		}
	}
	return ids, nil
}

func matchesAll(message *fakeMessage, filters []models.SearchFilter) bool {
	for _, filter := range filters {
		switch filter.Kind {
		case models.SearchText:
			if !strings.Contains(strings.ToLower(message.raw), strings.ToLower(filter.Value)) {
				return false
			}
		case models.SearchSentSince:
			if message.date.Before(filter.Since) {
				return false
			}
		case models.SearchHeader:
			// servers match header values as substrings
			if !strings.Contains(strings.ToLower(message.raw), strings.ToLower(filter.Field+": ")) ||
				!strings.Contains(strings.ToLower(message.raw), strings.ToLower(filter.Value)) {
				return false
			}
		case models.SearchUID:
			if message.uid != filter.UID {
				return false
			}
		}
	}
	return true
}

func (f *fakeSession) Fetch(ctx context.Context, opts models.FetchOptions) ([]models.RawMessage, error) {
	f.fetches = append(f.fetches, opts)
	messages := f.boxes[f.selected]

	var seqNums []uint32
	if opts.ByIDs() {
		seqNums = opts.IDs
	} else {
		low, high := opts.EndSeq, opts.StartSeq
		if low > high {
			low, high = high, low
		}
		for seq := low; seq <= high; seq++ {
			seqNums = append(seqNums, seq)
		}
	}

	var raws []models.RawMessage
	for _, seq := range seqNums {
		if seq == 0 || int(seq) > len(messages) {
			continue
		}
		message := messages[seq-1]
		if opts.MarkAsRead {
			message.seen = true
		}
		var flags []string
		if message.seen {
			flags = append(flags, "\\Seen")
		}
		raws = append(raws, models.RawMessage{
			SeqNum:       seq,
			UID:          message.uid,
			Flags:        flags,
			InternalDate: message.date,
			Body:         []byte(message.raw),
		})
	}
	return raws, nil
}

func (f *fakeSession) CreateBox(ctx context.Context, name string) error {
	if _, exists := f.boxes[name]; exists {
		return fmt.Errorf("imap createBox: mailbox already exists")
	}
	f.boxes[name] = nil
	f.created = append(f.created, name)
	return nil
}

func (f *fakeSession) searchedFor(kind models.SearchKind) bool {
	for _, filter := range f.searches {
		if filter.Kind == kind {
			return true
		}
	}
	return false
}

type fakeRunner struct {
	session *fakeSession
}

func (r *fakeRunner) WithSession(ctx context.Context, account *models.MailAccount, fn func(ctx context.Context, session interfaces.MailSession) error) error {
	return fn(ctx, r.session)
}

type publishedEvent struct {
	entityId   string
	entityType enum.EntityType
	message    interface{}
}

type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *fakePublisher) PublishFanoutEvent(ctx context.Context, entityId string, entityType enum.EntityType, message interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{entityId: entityId, entityType: entityType, message: message})
	return nil
}

func (p *fakePublisher) Close() error {
	return nil
}

type fakeAttachmentStore struct {
	stored map[string]*models.AttachmentContent
	loads  int
}

func (s *fakeAttachmentStore) GetOrLoad(ctx context.Context, identity string, req models.AttachmentRequest, load func(ctx context.Context) (*models.AttachmentContent, error)) (*models.AttachmentContent, error) {
	key := fmt.Sprintf("%s/%s/%s/%d", identity, req.BoxID, req.MessageID, req.Index)
	if content, ok := s.stored[key]; ok {
		return content, nil
	}
	s.loads++
	content, err := load(ctx)
	if err != nil {
		return nil, err
	}
	s.stored[key] = content
	return content, nil
}
