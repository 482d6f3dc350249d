package providers

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/customeros/mailreader/config"
	"github.com/customeros/mailreader/interfaces"
	"github.com/customeros/mailreader/internal/caches"
	"github.com/customeros/mailreader/internal/enum"
	mailerrors "github.com/customeros/mailreader/internal/errors"
	"github.com/customeros/mailreader/internal/logger"
	"github.com/customeros/mailreader/internal/models"
	"github.com/customeros/mailreader/services/gmail"
	"github.com/customeros/mailreader/services/retrieval"
)

type gmailClientFunc func(ctx context.Context, cfg *config.GmailConfig, account *models.MailAccount, limiter *rate.Limiter) (gmail.Client, error)

// gmailAccount is the long-lived API state of one Gmail account. The client
// is rebuilt when the access token changes; the limiter never is.
type gmailAccount struct {
	limiter *rate.Limiter
	token   string
	client  gmail.Client
}

// Factory builds the provider matching an account. Providers are cheap; the
// shared state lives in the session pool, the cache and the Gmail clients.
type Factory struct {
	sessions    interfaces.SessionRunner
	cache       *caches.Cache
	gmailCfg    *config.GmailConfig
	log         logger.Logger
	publisher   interfaces.EventPublisher
	attachments interfaces.AttachmentStore
	gmailClient gmailClientFunc

	mu            sync.Mutex
	gmailAccounts map[string]*gmailAccount
}

// NewFactory wires providers. publisher and attachments may be nil.
func NewFactory(sessions interfaces.SessionRunner, cache *caches.Cache, gmailCfg *config.GmailConfig, log logger.Logger, publisher interfaces.EventPublisher, attachments interfaces.AttachmentStore) *Factory {
	return &Factory{
		sessions:      sessions,
		cache:         cache,
		gmailCfg:      gmailCfg,
		log:           log,
		publisher:     publisher,
		attachments:   attachments,
		gmailClient:   gmail.NewGoogleClient,
		gmailAccounts: make(map[string]*gmailAccount),
	}
}

func (f *Factory) ForAccount(ctx context.Context, account *models.MailAccount) (interfaces.MailProvider, error) {
	if account == nil {
		return nil, mailerrors.ErrAccountNotFound
	}

	switch account.Provider {
	case enum.ProviderIMAP:
		var opts []retrieval.Option
		if f.publisher != nil {
			opts = append(opts, retrieval.WithPublisher(f.publisher))
		}
		if f.attachments != nil {
			opts = append(opts, retrieval.WithAttachmentStore(f.attachments))
		}
		return retrieval.NewImapProvider(account, f.sessions, f.cache, f.log, opts...), nil
	case enum.ProviderGmail:
		client, err := f.gmailClientFor(ctx, account)
		if err != nil {
			return nil, err
		}
		var opts []gmail.Option
		if f.publisher != nil {
			opts = append(opts, gmail.WithPublisher(f.publisher))
		}
		if f.attachments != nil {
			opts = append(opts, gmail.WithAttachmentStore(f.attachments))
		}
		return gmail.NewProvider(account, client, f.cache, f.gmailCfg, f.log, opts...), nil
	default:
		return nil, errors.Wrapf(mailerrors.ErrUnsupportedProvider, "provider %q", account.Provider)
	}
}

// gmailClientFor returns the account's shared client so the rate limit holds
// across requests.
func (f *Factory) gmailClientFor(ctx context.Context, account *models.MailAccount) (gmail.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	state, exists := f.gmailAccounts[account.Identity()]
	if !exists {
		state = &gmailAccount{limiter: gmail.NewLimiter(f.gmailCfg)}
		f.gmailAccounts[account.Identity()] = state
	}
	if state.client != nil && state.token == account.AccessToken {
		return state.client, nil
	}

	client, err := f.gmailClient(ctx, f.gmailCfg, account, state.limiter)
	if err != nil {
		return nil, err
	}
	state.client = client
	state.token = account.AccessToken
	return client, nil
}

// Forget drops the cached Gmail state of a removed account.
func (f *Factory) Forget(identity string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.gmailAccounts, identity)
}
