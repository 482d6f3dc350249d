package attachments

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/log"
	"github.com/pkg/errors"

	"github.com/customeros/mailreader/interfaces"
	mailerrors "github.com/customeros/mailreader/internal/errors"
	"github.com/customeros/mailreader/internal/logger"
	"github.com/customeros/mailreader/internal/models"
	"github.com/customeros/mailreader/internal/tracing"
	"github.com/customeros/mailreader/internal/utils"
)

const metadataFile = "meta.json"

// Store keeps downloaded attachments in object storage so repeated downloads
// do not go back to the mail server. Storage failures degrade to a direct load.
type Store struct {
	storage interfaces.StorageService
	log     logger.Logger
}

func NewStore(storage interfaces.StorageService, log logger.Logger) *Store {
	return &Store{storage: storage, log: log}
}

// objectPrefix is "<identity>/<box>/<message>/<index>" with every segment
// path-escaped, since box names and message ids may contain "/".
func objectPrefix(identity string, req models.AttachmentRequest) string {
	return fmt.Sprintf("%s/%s/%s/%d",
		url.PathEscape(identity), url.PathEscape(req.BoxID), url.PathEscape(req.MessageID), req.Index)
}

func dataKey(prefix string, attachment models.Attachment) string {
	return fmt.Sprintf("%s/content.%s", prefix, utils.AttachmentExtension(attachment.Filename, attachment.ContentType))
}

func (s *Store) GetOrLoad(ctx context.Context, identity string, req models.AttachmentRequest, load func(ctx context.Context) (*models.AttachmentContent, error)) (*models.AttachmentContent, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "AttachmentStore.GetOrLoad")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, req.MessageID)

	prefix := objectPrefix(identity, req)

	stored, err := s.read(ctx, prefix)
	switch {
	case err == nil:
		span.LogFields(log.Bool("result.stored", true))
		return stored, nil
	case !mailerrors.IsNotFound(err):
		s.log.Warnf("[%s] Error reading stored attachment %s: %v", identity, prefix, err)
	}

	content, err := load(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	if err := s.write(ctx, prefix, content); err != nil {
		s.log.Warnf("[%s] Error storing attachment %s: %v", identity, prefix, err)
	}

	span.LogFields(log.Bool("result.stored", false))
	return content, nil
}

func (s *Store) read(ctx context.Context, prefix string) (*models.AttachmentContent, error) {
	raw, err := s.storage.Download(ctx, prefix+"/"+metadataFile)
	if err != nil {
		return nil, err
	}

	var attachment models.Attachment
	if err := json.Unmarshal(raw, &attachment); err != nil {
		return nil, errors.Wrap(err, "corrupt attachment metadata")
	}

	data, err := s.storage.Download(ctx, dataKey(prefix, attachment))
	if err != nil {
		return nil, err
	}

	return &models.AttachmentContent{Attachment: attachment, Data: data}, nil
}

// write stores the content before the metadata, so a reader that finds the
// metadata always finds the content too.
func (s *Store) write(ctx context.Context, prefix string, content *models.AttachmentContent) error {
	if err := s.storage.Upload(ctx, dataKey(prefix, content.Attachment), content.Data, content.ContentType); err != nil {
		return err
	}

	meta, err := json.Marshal(content.Attachment)
	if err != nil {
		return errors.Wrap(err, "failed to marshal attachment metadata")
	}
	return s.storage.Upload(ctx, prefix+"/"+metadataFile, meta, "application/json")
}
