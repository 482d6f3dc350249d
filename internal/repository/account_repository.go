package repository

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/customeros/mailreader/interfaces"
	mailerrors "github.com/customeros/mailreader/internal/errors"
	"github.com/customeros/mailreader/internal/models"
	"github.com/customeros/mailreader/internal/tracing"
)

type accountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) interfaces.AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) CreateAccount(ctx context.Context, account *models.MailAccount) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.CreateAccount")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	err := r.db.WithContext(ctx).Create(account).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to create account")
	}

	tracing.TagEntity(span, account.ID)
	return nil
}

func (r *accountRepository) GetAccount(ctx context.Context, id string) (*models.MailAccount, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.GetAccount")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, id)

	var account models.MailAccount
	err := r.db.WithContext(ctx).First(&account, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(mailerrors.ErrAccountNotFound, "account %s", id)
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) ListAccounts(ctx context.Context) ([]*models.MailAccount, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.ListAccounts")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	var accounts []*models.MailAccount
	err := r.db.WithContext(ctx).Order("created_at").Find(&accounts).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return accounts, nil
}

func (r *accountRepository) DeleteAccount(ctx context.Context, id string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.DeleteAccount")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, id)

	result := r.db.WithContext(ctx).Delete(&models.MailAccount{}, "id = ?", id)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.Wrapf(mailerrors.ErrAccountNotFound, "account %s", id)
	}
	return nil
}
