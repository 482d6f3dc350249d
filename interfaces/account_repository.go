package interfaces

import (
	"context"

	"github.com/customeros/mailreader/internal/models"
)

type AccountRepository interface {
	CreateAccount(ctx context.Context, account *models.MailAccount) error
	GetAccount(ctx context.Context, id string) (*models.MailAccount, error)
	ListAccounts(ctx context.Context) ([]*models.MailAccount, error)
	DeleteAccount(ctx context.Context, id string) error
}
