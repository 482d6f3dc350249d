package parser

import (
	"bytes"
	"html"
	"log"
	"strings"

	"github.com/jhillyerd/enmime"
	"github.com/pkg/errors"

	"github.com/customeros/mailreader/internal/enum"
	mailerrors "github.com/customeros/mailreader/internal/errors"
	"github.com/customeros/mailreader/internal/models"
)

type RenderOptions struct {
	NoImages bool
	DarkMode bool
}

// ParseSummary builds the listing record from a fetched header block.
func ParseSummary(raw models.RawMessage, boxID string) models.MessageSummary {
	header := readHeader(raw.Body)

	return models.MessageSummary{
		ID:         messageID(header, raw.UID),
		InternalID: raw.SeqNum,
		Date:       headerDate(header, raw.InternalDate),
		Subject:    headerText(header, "Subject"),
		From:       headerAddresses(header, "From"),
		Flags:      models.Flags{Seen: isSeen(raw.Flags)},
		Box:        models.BoxRef{ID: boxID},
	}
}

// ParseFull builds the complete message from a fetched RFC 822 payload.
func ParseFull(raw models.RawMessage, boxID string, opts RenderOptions) models.FullMessage {
	header := readHeader(raw.Body)

	full := models.FullMessage{
		MessageSummary: ParseSummary(raw, boxID),
		To:             headerAddresses(header, "To"),
		Cc:             headerAddresses(header, "Cc"),
		Bcc:            headerAddresses(header, "Bcc"),
		Content:        models.Content{Type: enum.ContentTypeText},
		Attachments:    []models.Attachment{},
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw.Body))
	if err != nil {
		log.Printf("Error parsing message %s with enmime: %v", full.ID, err)
		full.Content.HTML = wrapText(string(bodyAfterHeader(raw.Body)))
		return full
	}

	if strings.TrimSpace(env.HTML) != "" {
		full.Content.Type = enum.ContentTypeHTML
		full.Content.HTML = Render(env.HTML, opts.NoImages, opts.DarkMode)
	} else {
		full.Content.HTML = wrapText(env.Text)
	}

	for i, part := range attachmentParts(env) {
		full.Attachments = append(full.Attachments, attachmentMeta(i, part))
	}

	return full
}

// ExtractAttachment returns the attachment at index, counting regular
// attachments first and inline parts after them.
func ExtractAttachment(body []byte, index int) (*models.AttachmentContent, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse message")
	}

	parts := attachmentParts(env)
	if index < 0 || index >= len(parts) {
		return nil, mailerrors.NotFound("attachment %d", index)
	}

	part := parts[index]
	return &models.AttachmentContent{
		Attachment: attachmentMeta(index, part),
		Data:       part.Content,
	}, nil
}

func attachmentParts(env *enmime.Envelope) []*enmime.Part {
	parts := make([]*enmime.Part, 0, len(env.Attachments)+len(env.Inlines))
	parts = append(parts, env.Attachments...)
	parts = append(parts, env.Inlines...)
	return parts
}

func attachmentMeta(index int, part *enmime.Part) models.Attachment {
	return models.Attachment{
		Index:       index,
		Filename:    part.FileName,
		ContentType: part.ContentType,
		Size:        len(part.Content),
		ContentID:   part.ContentID,
		Inline:      part.Disposition == "inline" || part.ContentID != "",
	}
}

func wrapText(text string) string {
	escaped := html.EscapeString(strings.TrimSpace(text))
	return "<html><head></head><body><pre style=\"white-space: pre-wrap\">" + escaped + "</pre></body></html>"
}

func bodyAfterHeader(raw []byte) []byte {
	if idx := bytes.Index(raw, []byte("\r\n\r\n")); idx >= 0 {
		return raw[idx+4:]
	}
	if idx := bytes.Index(raw, []byte("\n\n")); idx >= 0 {
		return raw[idx+2:]
	}
	return nil
}
