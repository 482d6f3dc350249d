package interfaces

import (
	"context"

	"github.com/customeros/mailreader/internal/models"
)

type StorageService interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	// Download fails with errors.ErrNotFound when the key does not exist.
	Download(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// AttachmentStore serves attachment bodies from object storage, falling back
// to load when the object is not stored yet.
type AttachmentStore interface {
	GetOrLoad(ctx context.Context, identity string, req models.AttachmentRequest, load func(ctx context.Context) (*models.AttachmentContent, error)) (*models.AttachmentContent, error)
}
