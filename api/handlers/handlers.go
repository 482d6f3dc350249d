package handlers

import (
	"context"

	"github.com/customeros/mailreader/interfaces"
)

// SessionStatusProvider reports the pooled IMAP sessions.
type SessionStatusProvider interface {
	Status() []interfaces.SessionStatus
}

type Handlers struct {
	accounts  interfaces.AccountService
	providers interfaces.ProviderFactory
	sessions  SessionStatusProvider
}

func NewHandlers(accounts interfaces.AccountService, providers interfaces.ProviderFactory, sessions SessionStatusProvider) *Handlers {
	return &Handlers{
		accounts:  accounts,
		providers: providers,
		sessions:  sessions,
	}
}

// provider resolves the account and returns the backend serving it.
func (h *Handlers) provider(ctx context.Context, accountId string) (interfaces.MailProvider, error) {
	account, err := h.accounts.Get(ctx, accountId)
	if err != nil {
		return nil, err
	}
	return h.providers.ForAccount(ctx, account)
}
