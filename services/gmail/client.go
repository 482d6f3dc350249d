package gmail

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/customeros/mailreader/config"
	mailerrors "github.com/customeros/mailreader/internal/errors"
	"github.com/customeros/mailreader/internal/models"
)

const (
	me          = "me"
	labelUnread = "UNREAD"
)

type Label struct {
	ID     string
	Name   string
	Total  int64
	Unread int64
}

type MessageMeta struct {
	ID           string
	LabelIDs     []string
	Headers      map[string]string
	InternalDate time.Time
}

type ListQuery struct {
	LabelID          string
	Query            string
	PageToken        string
	MaxResults       int64
	IncludeSpamTrash bool
}

// Client is the part of the Gmail API the provider needs.
type Client interface {
	ListLabels(ctx context.Context) ([]Label, error)
	GetLabel(ctx context.Context, id string) (Label, error)
	CreateLabel(ctx context.Context, name string) (Label, error)
	ListMessages(ctx context.Context, query ListQuery) ([]string, string, error)
	GetMetadata(ctx context.Context, id string, headers []string) (MessageMeta, error)
	GetRaw(ctx context.Context, id string) ([]byte, []string, error)
	RemoveLabels(ctx context.Context, id string, labelIDs ...string) error
}

// googleClient adapts *gmail.Service to Client. Every call waits on the
// limiter first; the limiter belongs to the account, not to the client.
type googleClient struct {
	svc     *gmail.Service
	limiter *rate.Limiter
}

// NewLimiter is the per-account request budget.
func NewLimiter(cfg *config.GmailConfig) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
}

func NewGoogleClient(ctx context.Context, cfg *config.GmailConfig, account *models.MailAccount, limiter *rate.Limiter) (Client, error) {
	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: account.AccessToken, TokenType: "Bearer"})
	return newGoogleClient(ctx, limiter, option.WithEndpoint(cfg.BaseURL), option.WithTokenSource(tokenSource))
}

func newGoogleClient(ctx context.Context, limiter *rate.Limiter, opts ...option.ClientOption) (*googleClient, error) {
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create gmail service")
	}

	return &googleClient{svc: svc, limiter: limiter}, nil
}

func (g *googleClient) ListLabels(ctx context.Context) ([]Label, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	res, err := g.svc.Users.Labels.List(me).Context(ctx).Do()
	if err != nil {
		return nil, apiError(err, "labels")
	}

	labels := make([]Label, 0, len(res.Labels))
	for _, l := range res.Labels {
		labels = append(labels, toLabel(l))
	}
	return labels, nil
}

func (g *googleClient) GetLabel(ctx context.Context, id string) (Label, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return Label{}, err
	}

	l, err := g.svc.Users.Labels.Get(me, id).Context(ctx).Do()
	if err != nil {
		return Label{}, apiError(err, "label "+id)
	}
	return toLabel(l), nil
}

func (g *googleClient) CreateLabel(ctx context.Context, name string) (Label, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return Label{}, err
	}

	created, err := g.svc.Users.Labels.Create(me, &gmail.Label{
		Name:                  name,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}).Context(ctx).Do()
	if err != nil {
		return Label{}, apiError(err, "label "+name)
	}
	return toLabel(created), nil
}

func (g *googleClient) ListMessages(ctx context.Context, query ListQuery) ([]string, string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, "", err
	}

	call := g.svc.Users.Messages.List(me).
		MaxResults(query.MaxResults).
		IncludeSpamTrash(query.IncludeSpamTrash)
	if query.LabelID != "" {
		call = call.LabelIds(query.LabelID)
	}
	if query.Query != "" {
		call = call.Q(query.Query)
	}
	if query.PageToken != "" {
		call = call.PageToken(query.PageToken)
	}

	res, err := call.Context(ctx).Do()
	if err != nil {
		return nil, "", apiError(err, "messages")
	}

	ids := make([]string, 0, len(res.Messages))
	for _, m := range res.Messages {
		ids = append(ids, m.Id)
	}
	return ids, res.NextPageToken, nil
}

func (g *googleClient) GetMetadata(ctx context.Context, id string, headers []string) (MessageMeta, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return MessageMeta{}, err
	}

	msg, err := g.svc.Users.Messages.Get(me, id).Format("metadata").MetadataHeaders(headers...).Context(ctx).Do()
	if err != nil {
		return MessageMeta{}, apiError(err, "message "+id)
	}

	meta := MessageMeta{
		ID:           msg.Id,
		LabelIDs:     msg.LabelIds,
		Headers:      map[string]string{},
		InternalDate: time.UnixMilli(msg.InternalDate).UTC(),
	}
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			meta.Headers[h.Name] = h.Value
		}
	}
	return meta, nil
}

func (g *googleClient) GetRaw(ctx context.Context, id string) ([]byte, []string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}

	msg, err := g.svc.Users.Messages.Get(me, id).Format("raw").Context(ctx).Do()
	if err != nil {
		return nil, nil, apiError(err, "message "+id)
	}

	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(msg.Raw, "="))
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to decode message %s", id)
	}
	return raw, msg.LabelIds, nil
}

func (g *googleClient) RemoveLabels(ctx context.Context, id string, labelIDs ...string) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}

	_, err := g.svc.Users.Messages.Modify(me, id, &gmail.ModifyMessageRequest{RemoveLabelIds: labelIDs}).Context(ctx).Do()
	if err != nil {
		return apiError(err, "message "+id)
	}
	return nil
}

func toLabel(l *gmail.Label) Label {
	return Label{ID: l.Id, Name: l.Name, Total: l.MessagesTotal, Unread: l.MessagesUnread}
}

// apiError maps 404 to NotFound. Auth failures, server errors and transport
// errors are connection errors.
func apiError(err error, resource string) error {
	var gErr *googleapi.Error
	if !errors.As(err, &gErr) {
		return mailerrors.NewConnectionError(me, "gmail "+resource, err)
	}
	switch {
	case gErr.Code == http.StatusNotFound:
		return mailerrors.NotFound("gmail %s", resource)
	case gErr.Code == http.StatusUnauthorized, gErr.Code == http.StatusForbidden, gErr.Code >= http.StatusInternalServerError:
		return mailerrors.NewConnectionError(me, "gmail "+resource, err)
	}
	return errors.Wrapf(err, "gmail %s", resource)
}
