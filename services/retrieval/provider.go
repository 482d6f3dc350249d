package retrieval

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailreader/dto"
	"github.com/customeros/mailreader/interfaces"
	"github.com/customeros/mailreader/internal/caches"
	"github.com/customeros/mailreader/internal/enum"
	mailerrors "github.com/customeros/mailreader/internal/errors"
	"github.com/customeros/mailreader/internal/logger"
	"github.com/customeros/mailreader/internal/models"
	"github.com/customeros/mailreader/internal/tracing"
	"github.com/customeros/mailreader/internal/utils"
	"github.com/customeros/mailreader/services/parser"
)

// ImapProvider answers mail queries for one IMAP account through the shared
// session pool and the listing cache.
type ImapProvider struct {
	account     *models.MailAccount
	sessions    interfaces.SessionRunner
	cache       *caches.Cache
	log         logger.Logger
	publisher   interfaces.EventPublisher
	attachments interfaces.AttachmentStore
}

type Option func(*ImapProvider)

func WithPublisher(publisher interfaces.EventPublisher) Option {
	return func(p *ImapProvider) {
		p.publisher = publisher
	}
}

func WithAttachmentStore(store interfaces.AttachmentStore) Option {
	return func(p *ImapProvider) {
		p.attachments = store
	}
}

func NewImapProvider(account *models.MailAccount, sessions interfaces.SessionRunner, cache *caches.Cache, log logger.Logger, opts ...Option) *ImapProvider {
	p := &ImapProvider{
		account:  account,
		sessions: sessions,
		cache:    cache,
		log:      log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *ImapProvider) ListBoxes(ctx context.Context) ([]models.MailBox, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ImapProvider.ListBoxes")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	var boxes []models.MailBox
	err := p.sessions.WithSession(ctx, p.account, func(ctx context.Context, session interfaces.MailSession) error {
		var err error
		boxes, err = session.ListBoxes(ctx)
		return err
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	return boxes, nil
}

func (p *ImapProvider) GetBox(ctx context.Context, boxID string) (*models.MailBox, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ImapProvider.GetBox")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("box.id", boxID)

	var box *models.MailBox
	err := p.sessions.WithSession(ctx, p.account, func(ctx context.Context, session interfaces.MailSession) error {
		var err error
		box, err = session.GetBox(ctx, boxID, true)
		return err
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	return box, nil
}

func (p *ImapProvider) CreateBox(ctx context.Context, boxID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ImapProvider.CreateBox")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("box.id", boxID)

	err := p.sessions.WithSession(ctx, p.account, func(ctx context.Context, session interfaces.MailSession) error {
		return session.CreateBox(ctx, boxID)
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	p.publish(ctx, boxID, dto.MailBoxCreated{AccountID: p.account.Identity(), BoxID: boxID})
	return nil
}

// GetMessage loads the full message. The cache is neither read nor written.
func (p *ImapProvider) GetMessage(ctx context.Context, req models.MessageRequest) (*models.FullMessage, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ImapProvider.GetMessage")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, req.ID)
	span.SetTag("box.id", req.BoxID)
	span.SetTag("markAsRead", req.MarkAsRead)

	var message *models.FullMessage
	err := p.sessions.WithSession(ctx, p.account, func(ctx context.Context, session interfaces.MailSession) error {
		raw, err := p.fetchRawMessage(ctx, session, req.BoxID, req.ID, req.MarkAsRead)
		if err != nil {
			return err
		}

		full := parser.ParseFull(raw, req.BoxID, parser.RenderOptions{NoImages: req.NoImages, DarkMode: req.DarkMode})
		if req.MarkAsRead {
			full.Flags.Seen = true
		}
		message = &full
		return nil
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	return message, nil
}

func (p *ImapProvider) GetAttachment(ctx context.Context, req models.AttachmentRequest) (*models.AttachmentContent, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ImapProvider.GetAttachment")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, req.MessageID)
	span.SetTag("attachment.index", req.Index)

	load := func(ctx context.Context) (*models.AttachmentContent, error) {
		var content *models.AttachmentContent
		err := p.sessions.WithSession(ctx, p.account, func(ctx context.Context, session interfaces.MailSession) error {
			raw, err := p.fetchRawMessage(ctx, session, req.BoxID, req.MessageID, false)
			if err != nil {
				return err
			}
			content, err = parser.ExtractAttachment(raw.Body, req.Index)
			return err
		})
		if err != nil {
			return nil, err
		}
		return content, nil
	}

	var content *models.AttachmentContent
	var err error
	if p.attachments != nil {
		content, err = p.attachments.GetOrLoad(ctx, p.account.Identity(), req, load)
	} else {
		content, err = load(ctx)
	}
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	return content, nil
}

// fetchRawMessage selects boxID and fetches the complete payload of the first
// message whose id equals id.
func (p *ImapProvider) fetchRawMessage(ctx context.Context, session interfaces.MailSession, boxID, id string, markAsRead bool) (models.RawMessage, error) {
	if _, err := session.GetBox(ctx, boxID, !markAsRead); err != nil {
		return models.RawMessage{}, err
	}

	ids, err := session.Search(ctx, messageFilter(id))
	if err != nil {
		return models.RawMessage{}, err
	}
	if len(ids) == 0 {
		return models.RawMessage{}, mailerrors.NotFound("message %s in box %s", id, boxID)
	}

	seq := ids[0]
	if _, byUID := utils.ParseUIDMessageID(id); !byUID {
		// header search is a substring match; confirm against the parsed id
		seq, err = p.exactMatch(ctx, session, boxID, id, ids)
		if err != nil {
			return models.RawMessage{}, err
		}
	}

	raws, err := session.Fetch(ctx, models.FetchOptions{IDs: []uint32{seq}, BodyParts: "", MarkAsRead: markAsRead})
	if err != nil {
		return models.RawMessage{}, err
	}
	if len(raws) == 0 {
		return models.RawMessage{}, mailerrors.NotFound("message %s in box %s", id, boxID)
	}

	return raws[0], nil
}

// exactMatch returns the lowest sequence number among candidates whose
// Message-ID equals id.
func (p *ImapProvider) exactMatch(ctx context.Context, session interfaces.MailSession, boxID, id string, candidates []uint32) (uint32, error) {
	summaries, err := fetchSummaries(ctx, session, boxID, models.FetchOptions{IDs: candidates, BodyParts: headerFields})
	if err != nil {
		return 0, err
	}

	want := utils.NormalizeMessageID(id)
	var matches []uint32
	for _, summary := range summaries {
		if summary.ID == want {
			matches = append(matches, summary.InternalID)
		}
	}
	if len(matches) == 0 {
		return 0, mailerrors.NotFound("message %s in box %s", id, boxID)
	}
	if len(matches) > 1 {
		p.log.Warnf("[%s][%s] %d messages match id %s, using the first", p.account.Identity(), boxID, len(matches), id)
	}

	first := matches[0]
	for _, seq := range matches[1:] {
		if seq < first {
			first = seq
		}
	}
	return first, nil
}

func messageFilter(id string) models.SearchFilter {
	if uid, ok := utils.ParseUIDMessageID(id); ok {
		return models.SearchFilter{Kind: models.SearchUID, UID: uid}
	}
	return models.SearchFilter{Kind: models.SearchHeader, Field: "Message-ID", Value: id}
}

func (p *ImapProvider) publish(ctx context.Context, boxID string, event interface{}) {
	if p.publisher == nil {
		return
	}

	err := p.publisher.PublishFanoutEvent(ctx, boxID, enum.MAILBOX, event)
	if err != nil {
		p.log.Errorf("[%s][%s] Error publishing %T: %v", p.account.Identity(), boxID, event, errors.Cause(err))
	}
}
