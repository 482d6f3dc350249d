package interfaces

import (
	"context"

	"github.com/customeros/mailreader/internal/models"
)

// MailProvider is the retrieval contract shared by the IMAP and Gmail backends.
type MailProvider interface {
	ListBoxes(ctx context.Context) ([]models.MailBox, error)
	GetBox(ctx context.Context, boxID string) (*models.MailBox, error)
	GetBoxMessages(ctx context.Context, boxID string, page models.PageRequest) ([]models.MessageSummary, error)
	GetMessage(ctx context.Context, req models.MessageRequest) (*models.FullMessage, error)
	CreateBox(ctx context.Context, boxID string) error
	GetAttachment(ctx context.Context, req models.AttachmentRequest) (*models.AttachmentContent, error)
}

type ProviderFactory interface {
	ForAccount(ctx context.Context, account *models.MailAccount) (MailProvider, error)
	// Forget releases per-account state after the account is removed.
	Forget(identity string)
}
