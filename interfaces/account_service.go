package interfaces

import (
	"context"

	"github.com/customeros/mailreader/internal/models"
)

type AccountService interface {
	Register(ctx context.Context, input models.AccountInput) (*models.MailAccount, error)
	Get(ctx context.Context, id string) (*models.MailAccount, error)
	List(ctx context.Context) ([]*models.MailAccount, error)
	Delete(ctx context.Context, id string) error
}
