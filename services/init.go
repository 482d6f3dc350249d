package services

import (
	"github.com/pkg/errors"

	"github.com/customeros/mailreader/config"
	"github.com/customeros/mailreader/interfaces"
	"github.com/customeros/mailreader/internal/caches"
	"github.com/customeros/mailreader/internal/logger"
	"github.com/customeros/mailreader/internal/repository"
	"github.com/customeros/mailreader/services/accounts"
	"github.com/customeros/mailreader/services/attachments"
	"github.com/customeros/mailreader/services/events"
	"github.com/customeros/mailreader/services/imap"
	"github.com/customeros/mailreader/services/providers"
	"github.com/customeros/mailreader/services/storage"
)

type Services struct {
	Cache           *caches.Cache
	SessionPool     *imap.SessionPool
	Publisher       *events.RabbitMQPublisher
	AccountService  *accounts.Service
	ProviderFactory interfaces.ProviderFactory
}

func InitServices(cfg *config.Config, log logger.Logger, repos *repository.Repositories) (*Services, error) {
	cache := caches.NewCache(cfg.AppConfig.CacheTTL())
	pool := imap.NewSessionPool(cfg.ImapConfig, log)

	// events are optional; without a broker nothing is published
	var (
		rabbit    *events.RabbitMQPublisher
		publisher interfaces.EventPublisher
	)
	if cfg.AppConfig.RabbitMQURL != "" {
		var err error
		rabbit, err = events.NewRabbitMQPublisher(cfg.AppConfig.RabbitMQURL, log, nil)
		if err != nil {
			return nil, errors.Wrap(err, "connect event publisher")
		}
		publisher = rabbit
	} else {
		log.Warn("RABBITMQ_URL not set, mail events will not be published")
	}

	var attachmentStore interfaces.AttachmentStore
	if cfg.R2StorageConfig.Enabled() {
		attachmentStore = attachments.NewStore(storage.NewR2StorageService(cfg.R2StorageConfig), log)
	}

	services := Services{
		Cache:           cache,
		SessionPool:     pool,
		Publisher:       rabbit,
		AccountService:  accounts.NewService(repos.AccountRepository),
		ProviderFactory: providers.NewFactory(pool, cache, cfg.GmailConfig, log, publisher, attachmentStore),
	}

	return &services, nil
}

// Close logs out pooled sessions and closes the broker connection.
func (s *Services) Close() error {
	s.SessionPool.Close()
	if s.Publisher != nil {
		return errors.Wrap(s.Publisher.Close(), "close event publisher")
	}
	return nil
}
