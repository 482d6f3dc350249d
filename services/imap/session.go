package imap

import (
	"context"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailreader/config"
	mailerrors "github.com/customeros/mailreader/internal/errors"
	"github.com/customeros/mailreader/internal/logger"
	"github.com/customeros/mailreader/internal/models"
	"github.com/customeros/mailreader/internal/tracing"
	"github.com/customeros/mailreader/internal/utils"
)

type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateBoxSelected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateBoxSelected:
		return "boxSelected"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Session is one IMAP connection for one account. It performs no locking;
// SessionPool serializes access to it.
type Session struct {
	account  *models.MailAccount
	cfg      *config.ImapConfig
	log      logger.Logger
	dial     dialFunc
	client   imapClient
	state    State
	box      string
	lastUsed time.Time
	// hierarchy delimiters learned from LIST
	delimiters map[string]string
}

func NewSession(account *models.MailAccount, cfg *config.ImapConfig, log logger.Logger) *Session {
	return newSession(account, cfg, log, newDialer(cfg))
}

func newSession(account *models.MailAccount, cfg *config.ImapConfig, log logger.Logger, dial dialFunc) *Session {
	return &Session{
		account:    account,
		cfg:        cfg,
		log:        log,
		dial:       dial,
		state:      StateDisconnected,
		lastUsed:   utils.Now(),
		delimiters: make(map[string]string),
	}
}

func (s *Session) Identity() string {
	return s.account.Identity()
}

func (s *Session) State() State {
	return s.state
}

// SelectedBox is the name of the selected box, empty unless BoxSelected.
func (s *Session) SelectedBox() string {
	return s.box
}

func (s *Session) LastUsed() time.Time {
	return s.lastUsed
}

func (s *Session) Connect(ctx context.Context) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPSession.Connect")
	defer span.Finish()
	tracing.SetDefaultImapSpanTags(ctx, span)
	span.SetTag("account.id", s.Identity())

	if err := s.begin(ctx, "connect", StateDisconnected); err != nil {
		return err
	}

	c, err := s.dial(ctx, s.account)
	if err != nil {
		tracing.TraceErr(span, err)
		return mailerrors.NewConnectionError(s.Identity(), "connect", err)
	}

	s.client = c
	s.state = StateConnected
	s.box = ""
	return nil
}

func (s *Session) ListBoxes(ctx context.Context) ([]models.MailBox, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPSession.ListBoxes")
	defer span.Finish()
	tracing.SetDefaultImapSpanTags(ctx, span)
	span.SetTag("account.id", s.Identity())

	if err := s.begin(ctx, "listBoxes", StateConnected, StateBoxSelected); err != nil {
		return nil, err
	}

	s.client.SetTimeout(timeoutFor(ctx, s.cfg.CommandTimeout))
	defer s.client.SetTimeout(0)

	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)

	go func() {
		done <- s.client.List("", "*", mailboxes)
	}()

	var flat []models.MailBox
	for m := range mailboxes {
		flat = append(flat, boxFromInfo(m))
		s.delimiters[m.Name] = m.Delimiter
	}

	if err := <-done; err != nil {
		tracing.TraceErr(span, err)
		return nil, s.fail("listBoxes", err)
	}

	sort.Slice(flat, func(i, j int) bool {
		return flat[i].ID < flat[j].ID
	})
	span.SetTag("boxes.count", len(flat))

	return models.BuildHierarchy(flat), nil
}

func boxFromInfo(info *imap.MailboxInfo) models.MailBox {
	name := info.Name
	if info.Delimiter != "" {
		if idx := strings.LastIndex(info.Name, info.Delimiter); idx >= 0 {
			name = info.Name[idx+len(info.Delimiter):]
		}
	}
	return models.MailBox{
		ID:        info.Name,
		Name:      name,
		Delimiter: info.Delimiter,
	}
}

// GetBox selects (or examines, when readOnly) the box and reports its counts.
func (s *Session) GetBox(ctx context.Context, name string, readOnly bool) (*models.MailBox, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPSession.GetBox")
	defer span.Finish()
	tracing.SetDefaultImapSpanTags(ctx, span)
	span.SetTag("account.id", s.Identity())
	span.SetTag("box.id", name)
	span.SetTag("readOnly", readOnly)

	if err := s.begin(ctx, "getBox", StateConnected, StateBoxSelected); err != nil {
		return nil, err
	}

	s.client.SetTimeout(timeoutFor(ctx, s.cfg.CommandTimeout))
	defer s.client.SetTimeout(0)

	mbox, err := s.client.Select(name, readOnly)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, s.fail("getBox", err)
	}

	s.state = StateBoxSelected
	s.box = name

	unseen := mbox.Unseen
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	if ids, err := s.client.Search(criteria); err == nil {
		unseen = uint32(len(ids))
	} else if isTransportError(s.client, err) {
		tracing.TraceErr(span, err)
		return nil, s.fail("getBox", err)
	} else {
		s.log.Warnf("[%s][%s] Error counting unseen messages: %v", s.Identity(), name, err)
	}

	span.SetTag("messages.total", mbox.Messages)
	span.SetTag("messages.recent", mbox.Recent)
	span.SetTag("messages.unseen", unseen)

	delimiter := s.delimiters[name]

	return &models.MailBox{
		ID:        name,
		Name:      lastSegment(name, delimiter),
		Delimiter: delimiter,
		Counts: models.Counts{
			Total:  mbox.Messages,
			New:    mbox.Recent,
			Unseen: unseen,
		},
		UIDValidity: mbox.UidValidity,
		UIDNext:     mbox.UidNext,
	}, nil
}

func lastSegment(name, delimiter string) string {
	if delimiter == "" {
		return name
	}
	if idx := strings.LastIndex(name, delimiter); idx >= 0 {
		return name[idx+len(delimiter):]
	}
	return name
}

func (s *Session) CloseBox(ctx context.Context) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPSession.CloseBox")
	defer span.Finish()
	tracing.SetDefaultImapSpanTags(ctx, span)
	span.SetTag("account.id", s.Identity())

	if err := s.begin(ctx, "closeBox", StateBoxSelected); err != nil {
		return err
	}

	s.client.SetTimeout(timeoutFor(ctx, s.cfg.CommandTimeout))
	defer s.client.SetTimeout(0)

	if err := s.client.Close(); err != nil {
		tracing.TraceErr(span, err)
		return s.fail("closeBox", err)
	}

	s.state = StateConnected
	s.box = ""
	return nil
}

// Search runs SEARCH in the selected box. No matches is not an error.
func (s *Session) Search(ctx context.Context, filters ...models.SearchFilter) ([]uint32, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPSession.Search")
	defer span.Finish()
	tracing.SetDefaultImapSpanTags(ctx, span)
	span.SetTag("account.id", s.Identity())
	span.SetTag("box.id", s.box)
	tracing.LogObjectAsJson(span, "filters", filters)

	if err := s.begin(ctx, "search", StateBoxSelected); err != nil {
		return nil, err
	}

	s.client.SetTimeout(timeoutFor(ctx, s.cfg.CommandTimeout))
	defer s.client.SetTimeout(0)

	ids, err := s.client.Search(buildCriteria(filters))
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, s.fail("search", err)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	span.SetTag("results.count", len(ids))
	return ids, nil
}

// Fetch retrieves flags, internal date, uid and the requested body section,
// either for an explicit id list or for a sequence range.
func (s *Session) Fetch(ctx context.Context, opts models.FetchOptions) ([]models.RawMessage, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPSession.Fetch")
	defer span.Finish()
	tracing.SetDefaultImapSpanTags(ctx, span)
	span.SetTag("account.id", s.Identity())
	span.SetTag("box.id", s.box)
	span.SetTag("bodyParts", opts.BodyParts)
	span.SetTag("markAsRead", opts.MarkAsRead)

	seqSet, err := seqSetFor(opts)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	span.SetTag("seqSet", seqSet.String())

	section, err := bodySection(opts)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(mailerrors.ErrInvalidFetchOptions, err.Error())
	}

	if err = s.begin(ctx, "fetch", StateBoxSelected); err != nil {
		return nil, err
	}

	items := []imap.FetchItem{
		imap.FetchFlags,
		imap.FetchInternalDate,
		imap.FetchUid,
		section.FetchItem(),
	}

	s.client.SetTimeout(timeoutFor(ctx, s.cfg.FetchTimeout))
	defer s.client.SetTimeout(0)

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)

	go func() {
		done <- s.client.Fetch(seqSet, items, messages)
	}()

	var result []models.RawMessage
	for msg := range messages {
		result = append(result, rawMessage(msg, section))
	}

	if err = <-done; err != nil {
		tracing.TraceErr(span, err)
		return nil, s.fail("fetch", err)
	}

	span.SetTag("messages.count", len(result))
	return result, nil
}

func seqSetFor(opts models.FetchOptions) (*imap.SeqSet, error) {
	byRange := opts.StartSeq > 0 || opts.EndSeq > 0
	if opts.ByIDs() == byRange {
		return nil, errors.Wrap(mailerrors.ErrInvalidFetchOptions, "exactly one of ids or sequence range is required")
	}

	seqSet := new(imap.SeqSet)
	if opts.ByIDs() {
		for _, id := range opts.IDs {
			if id == 0 {
				return nil, errors.Wrap(mailerrors.ErrInvalidFetchOptions, "sequence numbers start at 1")
			}
			seqSet.AddNum(id)
		}
		return seqSet, nil
	}

	start, end := opts.StartSeq, opts.EndSeq
	if start == 0 || end == 0 {
		return nil, errors.Wrap(mailerrors.ErrInvalidFetchOptions, "sequence numbers start at 1")
	}
	if start > end {
		start, end = end, start
	}
	seqSet.AddRange(start, end)
	return seqSet, nil
}

// bodySection passes the body parts through verbatim; PEEK keeps \Seen untouched.
func bodySection(opts models.FetchOptions) (*imap.BodySectionName, error) {
	name := "BODY.PEEK[" + opts.BodyParts + "]"
	if opts.MarkAsRead {
		name = "BODY[" + opts.BodyParts + "]"
	}
	return imap.ParseBodySectionName(imap.FetchItem(name))
}

func rawMessage(msg *imap.Message, section *imap.BodySectionName) models.RawMessage {
	raw := models.RawMessage{
		SeqNum:       msg.SeqNum,
		UID:          msg.Uid,
		Flags:        msg.Flags,
		InternalDate: msg.InternalDate,
	}

	literal := msg.GetBody(section)
	if literal == nil {
		// some servers echo a differently spelled section name
		for _, body := range msg.Body {
			if body != nil {
				literal = body
				break
			}
		}
	}
	if literal != nil {
		if body, err := io.ReadAll(literal); err == nil {
			raw.Body = body
		}
	}
	return raw
}

func (s *Session) CreateBox(ctx context.Context, name string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPSession.CreateBox")
	defer span.Finish()
	tracing.SetDefaultImapSpanTags(ctx, span)
	span.SetTag("account.id", s.Identity())
	span.SetTag("box.id", name)

	if err := s.begin(ctx, "createBox", StateConnected, StateBoxSelected); err != nil {
		return err
	}

	s.client.SetTimeout(timeoutFor(ctx, s.cfg.CommandTimeout))
	defer s.client.SetTimeout(0)

	if err := s.client.Create(name); err != nil {
		tracing.TraceErr(span, err)
		return s.fail("createBox", err)
	}
	return nil
}

// Ping sends NOOP to verify the connection is still usable.
func (s *Session) Ping(ctx context.Context) error {
	if err := s.begin(ctx, "noop", StateConnected, StateBoxSelected); err != nil {
		return err
	}

	s.client.SetTimeout(timeoutFor(ctx, s.cfg.CommandTimeout))
	defer s.client.SetTimeout(0)

	if err := s.client.Noop(); err != nil {
		return s.fail("noop", err)
	}
	return nil
}

// Logout is valid in any state and always ends Disconnected.
func (s *Session) Logout(ctx context.Context) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPSession.Logout")
	defer span.Finish()
	tracing.SetDefaultImapSpanTags(ctx, span)
	span.SetTag("account.id", s.Identity())

	if s.client == nil {
		s.state = StateDisconnected
		s.box = ""
		return nil
	}

	s.state = StateClosing
	c := s.client

	c.SetTimeout(5 * time.Second)
	err := c.Logout()

	s.client = nil
	s.state = StateDisconnected
	s.box = ""

	if err != nil && !isTransportError(c, err) {
		s.log.Warnf("[%s] Error during logout: %v", s.Identity(), err)
		tracing.TraceErr(span, err)
		return err
	}
	s.log.Debugf("[%s] Logged out", s.Identity())
	return nil
}

func (s *Session) begin(ctx context.Context, op string, allowed ...State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, state := range allowed {
		if s.state == state {
			s.lastUsed = utils.Now()
			return nil
		}
	}
	if s.state == StateClosing {
		return errors.Wrap(mailerrors.ErrSessionClosing, op)
	}
	return mailerrors.NewInvalidStateError(op, s.state.String())
}

// fail moves the session to the state a failed command leaves it in.
func (s *Session) fail(op string, err error) error {
	if isTransportError(s.client, err) {
		// the reader goroutine may already be gone; only closing the conn frees the socket
		if c := s.client; c != nil {
			if closeErr := c.Terminate(); closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
				s.log.Debugf("[%s] Closing broken connection: %v", s.Identity(), closeErr)
			}
		}
		s.client = nil
		s.state = StateDisconnected
		s.box = ""
		return mailerrors.NewConnectionError(s.Identity(), op, err)
	}

	s.state = StateConnected
	s.box = ""
	return errors.Wrap(err, fmt.Sprintf("imap %s", op))
}
