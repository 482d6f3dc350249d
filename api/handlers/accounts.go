package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	apierrors "github.com/customeros/mailreader/api/errors"
	"github.com/customeros/mailreader/internal/models"
	"github.com/customeros/mailreader/internal/tracing"
)

type AccountResponse struct {
	Account *models.MailAccount `json:"account"`
}

type AccountsResponse struct {
	Accounts []*models.MailAccount `json:"accounts"`
}

func (h *Handlers) RegisterAccount() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "Handlers.RegisterAccount")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		var input models.AccountInput
		if err := c.ShouldBindJSON(&input); err != nil {
			apierrors.BadRequest(c, span, err.Error())
			return
		}

		account, err := h.accounts.Register(ctx, input)
		if err != nil {
			apierrors.Abort(c, span, err)
			return
		}
		tracing.TagIdentity(span, account.ID)

		c.JSON(http.StatusCreated, AccountResponse{Account: account})
	}
}

func (h *Handlers) ListAccounts() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "Handlers.ListAccounts")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		accounts, err := h.accounts.List(ctx)
		if err != nil {
			apierrors.Abort(c, span, err)
			return
		}
		c.JSON(http.StatusOK, AccountsResponse{Accounts: accounts})
	}
}

func (h *Handlers) GetAccount() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "Handlers.GetAccount")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		account, err := h.accounts.Get(ctx, c.Param("accountId"))
		if err != nil {
			apierrors.Abort(c, span, err)
			return
		}
		c.JSON(http.StatusOK, AccountResponse{Account: account})
	}
}

func (h *Handlers) DeleteAccount() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "Handlers.DeleteAccount")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		accountId := c.Param("accountId")
		if err := h.accounts.Delete(ctx, accountId); err != nil {
			apierrors.Abort(c, span, err)
			return
		}
		h.providers.Forget(accountId)
		c.JSON(http.StatusOK, gin.H{"status": "account removed", "id": accountId})
	}
}
