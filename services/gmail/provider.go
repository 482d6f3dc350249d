package gmail

import (
	"context"
	"fmt"
	"strings"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/log"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/customeros/mailreader/config"
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

const (
	labelDelimiter = "/"
	// largest page Gmail accepts for messages.list
	maxListResults = 500
)

var summaryHeaders = []string{"From", "Subject", "Message-ID", "Date"}

// Provider serves one Gmail account. Boxes are labels addressed by their
// full name, so nested labels form the same hierarchy IMAP folders do.
type Provider struct {
	account     *models.MailAccount
	client      Client
	cache       *caches.Cache
	cfg         *config.GmailConfig
	log         logger.Logger
	publisher   interfaces.EventPublisher
	attachments interfaces.AttachmentStore
}

type Option func(*Provider)

func WithPublisher(publisher interfaces.EventPublisher) Option {
	return func(p *Provider) {
		p.publisher = publisher
	}
}

func WithAttachmentStore(store interfaces.AttachmentStore) Option {
	return func(p *Provider) {
		p.attachments = store
	}
}

func NewProvider(account *models.MailAccount, client Client, cache *caches.Cache, cfg *config.GmailConfig, log logger.Logger, opts ...Option) *Provider {
	p := &Provider{
		account: account,
		client:  client,
		cache:   cache,
		cfg:     cfg,
		log:     log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) ListBoxes(ctx context.Context) ([]models.MailBox, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "GmailProvider.ListBoxes")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	labels, err := p.labels(ctx, true)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	boxes := make([]models.MailBox, 0, len(labels))
	for _, label := range labels {
		boxes = append(boxes, toBox(label))
	}
	return models.BuildHierarchy(boxes), nil
}

func (p *Provider) GetBox(ctx context.Context, boxID string) (*models.MailBox, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "GmailProvider.GetBox")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("box.id", boxID)

	labelID, err := p.labelID(ctx, boxID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	label, err := p.client.GetLabel(ctx, labelID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	box := toBox(label)
	return &box, nil
}

func (p *Provider) CreateBox(ctx context.Context, boxID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "GmailProvider.CreateBox")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("box.id", boxID)

	if _, err := p.client.CreateLabel(ctx, boxID); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	p.cache.Delete(caches.NewKey(p.account.Identity(), caches.KindLabels, ""))

	if p.publisher != nil {
		err := p.publisher.PublishFanoutEvent(ctx, boxID, enum.MAILBOX, dto.MailBoxCreated{AccountID: p.account.Identity(), BoxID: boxID})
		if err != nil {
			p.log.Errorf("[%s][%s] Error publishing box created event: %v", p.account.Identity(), boxID, err)
		}
	}
	return nil
}

// GetBoxMessages walks Gmail's continuation tokens to the requested offset,
// reusing tokens remembered from earlier pages of the same listing.
func (p *Provider) GetBoxMessages(ctx context.Context, boxID string, page models.PageRequest) ([]models.MessageSummary, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "GmailProvider.GetBoxMessages")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("box.id", boxID)
	span.LogFields(log.String("filter", page.Filter), log.Int("start", page.Start), log.Int("end", page.End))

	if page.Start < 0 || page.End < page.Start {
		err := errors.Wrapf(mailerrors.ErrInvalidPage, "start %d end %d", page.Start, page.End)
		tracing.TraceErr(span, err)
		return nil, err
	}

	identity := p.account.Identity()
	pageKey := caches.NewKey(identity, caches.KindMessages, boxID, fmt.Sprintf("%s:%d-%d", page.Filter, page.Start, page.End))

	var cached []models.MessageSummary
	if p.cache.GetJSON(pageKey, &cached) {
		span.LogFields(log.Bool("result.cached", true))
		return cached, nil
	}

	labelID, err := p.labelID(ctx, boxID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	ids, err := p.pageIDs(ctx, labelID, boxID, page)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	messages, err := p.summaries(ctx, boxID, ids)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	if err := p.cache.SetJSON(pageKey, messages); err != nil {
		p.log.Errorf("[%s][%s] Error caching message page: %v", identity, boxID, err)
	}
	return messages, nil
}

// pageIDs lists the message ids at offsets [start, end] of the box.
func (p *Provider) pageIDs(ctx context.Context, labelID, boxID string, page models.PageRequest) ([]string, error) {
	tokensKey := caches.NewKey(p.account.Identity(), caches.KindPageTokens, boxID, page.Filter)
	tokens := map[int]string{}
	p.cache.GetJSON(tokensKey, &tokens)
	tokens[0] = ""

	offset := 0
	for known := range tokens {
		if known <= page.Start && known > offset {
			offset = known
		}
	}

	query := ListQuery{LabelID: labelID, Query: page.Filter, IncludeSpamTrash: p.cfg.IncludeSpamTrash}

	defer func() {
		if err := p.cache.SetJSON(tokensKey, tokens); err != nil {
			p.log.Errorf("[%s][%s] Error caching page tokens: %v", p.account.Identity(), boxID, err)
		}
	}()

	if offset < page.Start && page.Filter == "" {
		// an unfiltered listing past the label total has nothing to walk to
		label, err := p.client.GetLabel(ctx, labelID)
		if err != nil {
			return nil, err
		}
		if label.Total <= int64(page.Start) {
			return []string{}, nil
		}
	}

	for offset < page.Start {
		query.PageToken = tokens[offset]
		query.MaxResults = int64(min(page.Start-offset, maxListResults))

		skipped, next, err := p.client.ListMessages(ctx, query)
		if err != nil {
			return nil, err
		}
		if next == "" || len(skipped) == 0 {
			return []string{}, nil
		}
		offset += len(skipped)
		tokens[offset] = next
	}

	query.PageToken = tokens[page.Start]
	query.MaxResults = int64(min(page.End-page.Start, maxListResults-1) + 1)

	ids, next, err := p.client.ListMessages(ctx, query)
	if err != nil {
		return nil, err
	}
	if next != "" {
		tokens[page.Start+len(ids)] = next
	}
	return ids, nil
}

// summaries fetches metadata for ids with bounded concurrency, keeping the
// listing order.
func (p *Provider) summaries(ctx context.Context, boxID string, ids []string) ([]models.MessageSummary, error) {
	messages := make([]models.MessageSummary, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(p.cfg.MetadataConcurrency, 1))

	for i, id := range ids {
		g.Go(func() error {
			meta, err := p.client.GetMetadata(gctx, id, summaryHeaders)
			if err != nil {
				return err
			}
			messages[i] = summaryFromMeta(meta, boxID)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return utils.UniqueBy(messages, func(m models.MessageSummary) string { return m.ID }), nil
}

func (p *Provider) GetMessage(ctx context.Context, req models.MessageRequest) (*models.FullMessage, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "GmailProvider.GetMessage")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, req.ID)
	span.SetTag("markAsRead", req.MarkAsRead)

	gmailID, err := p.resolveMessage(ctx, req.BoxID, req.ID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	raw, labels, err := p.client.GetRaw(ctx, gmailID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	full := parser.ParseFull(models.RawMessage{Body: raw, Flags: flagsFor(labels)}, req.BoxID, parser.RenderOptions{NoImages: req.NoImages, DarkMode: req.DarkMode})
	if full.ID == utils.UIDMessageID(0) {
		full.ID = gmailID
	}

	if req.MarkAsRead {
		if utils.IsStringInSlice(labelUnread, labels) {
			if err := p.client.RemoveLabels(ctx, gmailID, labelUnread); err != nil {
				tracing.TraceErr(span, err)
				return nil, err
			}
		}
		full.Flags.Seen = true
	}

	return &full, nil
}

func (p *Provider) GetAttachment(ctx context.Context, req models.AttachmentRequest) (*models.AttachmentContent, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "GmailProvider.GetAttachment")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, req.MessageID)
	span.SetTag("attachment.index", req.Index)

	load := func(ctx context.Context) (*models.AttachmentContent, error) {
		gmailID, err := p.resolveMessage(ctx, req.BoxID, req.MessageID)
		if err != nil {
			return nil, err
		}
		raw, _, err := p.client.GetRaw(ctx, gmailID)
		if err != nil {
			return nil, err
		}
		return parser.ExtractAttachment(raw, req.Index)
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

// resolveMessage maps a listing id to a Gmail message id. Message-ID values
// are looked up with an rfc822msgid query; anything else is a Gmail id.
func (p *Provider) resolveMessage(ctx context.Context, boxID, id string) (string, error) {
	if !strings.Contains(id, "@") {
		return id, nil
	}

	query := ListQuery{Query: "rfc822msgid:" + id, MaxResults: 1, IncludeSpamTrash: true}
	if boxID != "" {
		labelID, err := p.labelID(ctx, boxID)
		if err != nil {
			return "", err
		}
		query.LabelID = labelID
	}

	ids, _, err := p.client.ListMessages(ctx, query)
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", mailerrors.NotFound("message %s in box %s", id, boxID)
	}
	return ids[0], nil
}

// labels returns the account's labels, from the cache unless refresh is set.
func (p *Provider) labels(ctx context.Context, refresh bool) ([]Label, error) {
	key := caches.NewKey(p.account.Identity(), caches.KindLabels, "")

	var labels []Label
	if !refresh && p.cache.GetJSON(key, &labels) {
		return labels, nil
	}

	labels, err := p.client.ListLabels(ctx)
	if err != nil {
		return nil, err
	}
	if err := p.cache.SetJSON(key, labels); err != nil {
		p.log.Errorf("[%s] Error caching labels: %v", p.account.Identity(), err)
	}
	return labels, nil
}

func (p *Provider) labelID(ctx context.Context, boxID string) (string, error) {
	labels, err := p.labels(ctx, false)
	if err != nil {
		return "", err
	}
	for _, label := range labels {
		if label.Name == boxID || label.ID == boxID {
			return label.ID, nil
		}
	}
	return "", mailerrors.NotFound("box %s", boxID)
}

func toBox(label Label) models.MailBox {
	name := label.Name
	if idx := strings.LastIndex(name, labelDelimiter); idx >= 0 {
		name = name[idx+1:]
	}
	return models.MailBox{
		ID:        label.Name,
		Name:      name,
		Delimiter: labelDelimiter,
		Counts: models.Counts{
			Total:  uint32(label.Total),
			Unseen: uint32(label.Unread),
		},
	}
}

func flagsFor(labels []string) []string {
	if utils.IsStringInSlice(labelUnread, labels) {
		return nil
	}
	return []string{"\\Seen"}
}

// summaryFromMeta runs the metadata headers through the regular header parser.
func summaryFromMeta(meta MessageMeta, boxID string) models.MessageSummary {
	var header strings.Builder
	hasMessageID := false
	for name, value := range meta.Headers {
		if strings.EqualFold(name, "Message-ID") {
			hasMessageID = true
		}
		header.WriteString(name + ": " + value + "\r\n")
	}
	header.WriteString("\r\n")

	summary := parser.ParseSummary(models.RawMessage{
		Flags:        flagsFor(meta.LabelIDs),
		InternalDate: meta.InternalDate,
		Body:         []byte(header.String()),
	}, boxID)
	if !hasMessageID {
		summary.ID = meta.ID
	}
	return summary
}
