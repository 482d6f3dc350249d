package imap

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/pkg/errors"

	"github.com/customeros/mailreader/config"
	"github.com/customeros/mailreader/internal/enum"
	"github.com/customeros/mailreader/internal/logger"
	"github.com/customeros/mailreader/internal/models"
)

type fakeMessage struct {
	uid   uint32
	flags []string
	body  string
}

// fakeClient is an in-memory stand-in for *client.Client.
type fakeClient struct {
	mu         sync.Mutex
	state      imap.ConnState
	boxes      map[string][]fakeMessage
	selected   string
	timeouts   []time.Duration
	lastFetch  *imap.SeqSet
	lastItems  []imap.FetchItem
	lastQuery  *imap.SearchCriteria
	noops      int
	loggedOut  bool
	terminated bool

	selectErr error
	searchErr error
	fetchErr  error
	noopErr   error
	fetchHook func()
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		state: imap.AuthenticatedState,
		boxes: map[string][]fakeMessage{
			"INBOX": {
				{uid: 10, flags: []string{imap.SeenFlag}, body: "Subject: one\r\n\r\n"},
				{uid: 11, body: "Subject: two\r\n\r\n"},
				{uid: 12, body: "Subject: three\r\n\r\n"},
			},
			"Archive":      {},
			"Archive/2023": {},
		},
	}
}

func (f *fakeClient) List(ref, name string, ch chan *imap.MailboxInfo) error {
	defer close(ch)
	for box := range f.boxes {
		ch <- &imap.MailboxInfo{Name: box, Delimiter: "/"}
	}
	return nil
}

func (f *fakeClient) Select(name string, readOnly bool) (*imap.MailboxStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.selectErr != nil {
		return nil, f.selectErr
	}
	messages, ok := f.boxes[name]
	if !ok {
		f.state = imap.AuthenticatedState
		return nil, errors.New("No such mailbox")
	}
	f.selected = name
	f.state = imap.SelectedState
	return &imap.MailboxStatus{
		Name:        name,
		ReadOnly:    readOnly,
		Messages:    uint32(len(messages)),
		Recent:      1,
		UidValidity: 7,
		UidNext:     13,
	}, nil
}

func (f *fakeClient) Search(criteria *imap.SearchCriteria) ([]uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = criteria
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	var ids []uint32
	for i, msg := range f.boxes[f.selected] {
		if len(criteria.WithoutFlags) > 0 && len(msg.flags) > 0 {
			continue
		}
		ids = append(ids, uint32(i+1))
	}
	return ids, nil
}

func (f *fakeClient) Fetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error {
	defer close(ch)
	f.mu.Lock()
	f.lastFetch = seqset
	f.lastItems = items
	hook := f.fetchHook
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if f.fetchErr != nil {
		return f.fetchErr
	}

	section, err := imap.ParseBodySectionName(items[len(items)-1])
	if err != nil {
		return err
	}
	for i, msg := range f.boxes[f.selected] {
		seq := uint32(i + 1)
		if !seqset.Contains(seq) {
			continue
		}
		m := imap.NewMessage(seq, items)
		m.Uid = msg.uid
		m.Flags = msg.flags
		m.InternalDate = time.Date(2024, 1, int(seq), 0, 0, 0, 0, time.UTC)
		m.Body[section] = bytes.NewBufferString(msg.body)
		ch <- m
	}
	return nil
}

func (f *fakeClient) Create(name string) error {
	if _, exists := f.boxes[name]; exists {
		return errors.New("Mailbox already exists")
	}
	f.boxes[name] = nil
	return nil
}

func (f *fakeClient) Close() error {
	f.selected = ""
	f.state = imap.AuthenticatedState
	return nil
}

func (f *fakeClient) Noop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.noops++
	return f.noopErr
}

func (f *fakeClient) Logout() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loggedOut = true
	f.state = imap.LogoutState
	return nil
}

func (f *fakeClient) Terminate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = true
	f.state = imap.LogoutState
	return nil
}

func (f *fakeClient) State() imap.ConnState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeClient) SetTimeout(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timeouts = append(f.timeouts, d)
}

func testImapConfig() *config.ImapConfig {
	return &config.ImapConfig{
		DialTimeout:    5 * time.Second,
		CommandTimeout: 5 * time.Second,
		FetchTimeout:   10 * time.Second,
		IdleLogout:     time.Minute,
	}
}

func testAccount() *models.MailAccount {
	return &models.MailAccount{
		ID:           "acct_test",
		Provider:     enum.ProviderIMAP,
		Email:        "user@example.com",
		ImapServer:   "127.0.0.1",
		ImapPort:     143,
		ImapSecurity: enum.EmailSecurityNone,
	}
}

func connectedSession(fake *fakeClient) *Session {
	dial := func(ctx context.Context, account *models.MailAccount) (imapClient, error) {
		return fake, nil
	}
	session := newSession(testAccount(), testImapConfig(), logger.NewNopLogger(), dial)
	_ = session.Connect(context.Background())
	return session
}
