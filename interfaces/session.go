package interfaces

import (
	"context"

	"github.com/customeros/mailreader/internal/models"
)

// MailSession is one stateful connection to a mail store. Implementations are
// not safe for concurrent use; access goes through a SessionRunner.
type MailSession interface {
	Identity() string
	ListBoxes(ctx context.Context) ([]models.MailBox, error)
	GetBox(ctx context.Context, name string, readOnly bool) (*models.MailBox, error)
	CloseBox(ctx context.Context) error
	// Search returns the sequence numbers of matching messages, ascending.
	Search(ctx context.Context, filters ...models.SearchFilter) ([]uint32, error)
	Fetch(ctx context.Context, opts models.FetchOptions) ([]models.RawMessage, error)
	CreateBox(ctx context.Context, name string) error
}

type SessionStatus struct {
	Identity    string `json:"identity"`
	State       string `json:"state"`
	SelectedBox string `json:"selectedBox,omitempty"`
	IdleSeconds int64  `json:"idleSeconds"`
}

// SessionRunner serializes access to the session of one identity.
type SessionRunner interface {
	WithSession(ctx context.Context, account *models.MailAccount, fn func(ctx context.Context, session MailSession) error) error
}
