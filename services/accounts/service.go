package accounts

import (
	"context"
	"strings"

	"github.com/customeros/mailsherpa/mailvalidate"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailreader/interfaces"
	"github.com/customeros/mailreader/internal/enum"
	mailerrors "github.com/customeros/mailreader/internal/errors"
	"github.com/customeros/mailreader/internal/models"
	"github.com/customeros/mailreader/internal/tracing"
)

type Service struct {
	repository interfaces.AccountRepository
}

func NewService(repository interfaces.AccountRepository) *Service {
	return &Service{repository: repository}
}

func (s *Service) Register(ctx context.Context, input models.AccountInput) (*models.MailAccount, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountService.Register")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	account, err := validateAccountInput(input)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	if err := s.repository.CreateAccount(ctx, account); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return account, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.MailAccount, error) {
	return s.repository.GetAccount(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]*models.MailAccount, error) {
	return s.repository.ListAccounts(ctx)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repository.DeleteAccount(ctx, id)
}

func validateAccountInput(input models.AccountInput) (*models.MailAccount, error) {
	var validationErrors []string

	if !input.Provider.IsValid() {
		validationErrors = append(validationErrors, "Provider must be imap or gmail")
	}

	validation := mailvalidate.ValidateEmailSyntax(input.Email)
	if !validation.IsValid {
		validationErrors = append(validationErrors, "Email address is not valid")
	}

	account := &models.MailAccount{
		Provider:          input.Provider,
		Email:             validation.CleanEmail,
		ImapServer:        strings.TrimSpace(input.ImapServer),
		ImapPort:          input.ImapPort,
		ImapSecurity:      input.ImapSecurity,
		ImapUsername:      input.ImapUsername,
		ImapPassword:      input.ImapPassword,
		ImapAuthMechanism: input.ImapAuthMechanism,
		AccessToken:       input.AccessToken,
		Scopes:            input.Scopes,
	}

	switch input.Provider {
	case enum.ProviderIMAP:
		validationErrors = append(validationErrors, validateImap(account)...)
	case enum.ProviderGmail:
		if account.AccessToken == "" {
			validationErrors = append(validationErrors, "Access token is required for gmail accounts")
		}
	}

	if len(validationErrors) > 0 {
		return nil, errors.Wrap(mailerrors.ErrInvalidAccount, strings.Join(validationErrors, "; "))
	}
	return account, nil
}

// validateImap checks the IMAP settings and fills in defaults.
func validateImap(account *models.MailAccount) []string {
	var validationErrors []string

	if account.ImapServer == "" {
		validationErrors = append(validationErrors, "IMAP server is required")
	}

	switch account.ImapSecurity {
	case "":
		account.ImapSecurity = enum.EmailSecurityTLS
	case enum.EmailSecurityNone, enum.EmailSecuritySSL, enum.EmailSecurityTLS, enum.EmailSecurityStartTLS:
	default:
		validationErrors = append(validationErrors, "IMAP security must be none, ssl, tls or startTLS")
	}

	if account.ImapPort == 0 {
		account.ImapPort = 143
		if account.ImapSecurity.ImplicitTLS() {
			account.ImapPort = 993
		}
	}
	if account.ImapPort < 0 || account.ImapPort > 65535 {
		validationErrors = append(validationErrors, "IMAP port is out of range")
	}

	switch account.ImapAuthMechanism {
	case "":
		account.ImapAuthMechanism = enum.ImapAuthPassword
		fallthrough
	case enum.ImapAuthPassword:
		if account.ImapPassword == "" {
			validationErrors = append(validationErrors, "IMAP password is required")
		}
	case enum.ImapAuthOAuthBearer:
		if account.AccessToken == "" {
			validationErrors = append(validationErrors, "Access token is required for oauthbearer")
		}
	default:
		validationErrors = append(validationErrors, "IMAP auth mechanism must be password or oauthbearer")
	}

	return validationErrors
}
