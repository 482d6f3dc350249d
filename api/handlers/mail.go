package handlers

import (
	"mime"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	apierrors "github.com/customeros/mailreader/api/errors"
	"github.com/customeros/mailreader/internal/models"
	"github.com/customeros/mailreader/internal/tracing"
)

// defaultPageSize applies when a messages request omits end.
const defaultPageSize = 20

type CreateBoxRequest struct {
	ID string `json:"id" binding:"required"`
}

type BoxesResponse struct {
	Boxes []models.MailBox `json:"boxes"`
}

type BoxResponse struct {
	Box *models.MailBox `json:"box"`
}

type MessagesResponse struct {
	Messages []models.MessageSummary `json:"messages"`
	Start    int                     `json:"start"`
	End      int                     `json:"end"`
}

type MessageResponse struct {
	Message *models.FullMessage `json:"message"`
}

type boxQuery struct {
	Box string `form:"box" binding:"required"`
}

type messagesQuery struct {
	Box    string `form:"box" binding:"required"`
	Filter string `form:"filter"`
	Start  *int   `form:"start" binding:"omitempty,min=0,max=2147483647"`
	End    *int   `form:"end" binding:"omitempty,min=0,max=2147483647"`
}

// page applies the defaults start=0 and end=start+19.
func (q messagesQuery) page() models.PageRequest {
	page := models.PageRequest{Filter: q.Filter}
	if q.Start != nil {
		page.Start = *q.Start
	}
	page.End = page.Start + defaultPageSize - 1
	if q.End != nil {
		page.End = *q.End
	}
	return page
}

type messageQuery struct {
	Box        string `form:"box" binding:"required"`
	ID         string `form:"id" binding:"required"`
	MarkAsRead bool   `form:"markAsRead"`
	NoImages   bool   `form:"noImages"`
	DarkMode   bool   `form:"darkMode"`
}

type attachmentQuery struct {
	Box   string `form:"box" binding:"required"`
	ID    string `form:"id" binding:"required"`
	Index *int   `form:"index" binding:"required,min=0"`
}

func (h *Handlers) ListBoxes() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "Handlers.ListBoxes")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		provider, err := h.provider(ctx, c.Param("accountId"))
		if err != nil {
			apierrors.Abort(c, span, err)
			return
		}

		boxes, err := provider.ListBoxes(ctx)
		if err != nil {
			apierrors.Abort(c, span, err)
			return
		}
		c.JSON(http.StatusOK, BoxesResponse{Boxes: boxes})
	}
}

func (h *Handlers) CreateBox() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "Handlers.CreateBox")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		var req CreateBoxRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apierrors.BadRequest(c, span, "Missing required field: id")
			return
		}

		provider, err := h.provider(ctx, c.Param("accountId"))
		if err != nil {
			apierrors.Abort(c, span, err)
			return
		}

		if err := provider.CreateBox(ctx, req.ID); err != nil {
			apierrors.Abort(c, span, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"status": "box created", "id": req.ID})
	}
}

func (h *Handlers) GetBox() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "Handlers.GetBox")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		var query boxQuery
		if err := c.ShouldBindQuery(&query); err != nil {
			apierrors.BadRequest(c, span, "Missing required parameter: box")
			return
		}

		provider, err := h.provider(ctx, c.Param("accountId"))
		if err != nil {
			apierrors.Abort(c, span, err)
			return
		}

		box, err := provider.GetBox(ctx, query.Box)
		if err != nil {
			apierrors.Abort(c, span, err)
			return
		}
		c.JSON(http.StatusOK, BoxResponse{Box: box})
	}
}

func (h *Handlers) GetBoxMessages() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "Handlers.GetBoxMessages")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		var query messagesQuery
		if err := c.ShouldBindQuery(&query); err != nil {
			apierrors.BadRequest(c, span, err.Error())
			return
		}
		page := query.page()
		if page.Start > page.End {
			apierrors.BadRequest(c, span, "start must not be greater than end")
			return
		}
		span.LogKV("box", query.Box, "start", page.Start, "end", page.End)

		provider, err := h.provider(ctx, c.Param("accountId"))
		if err != nil {
			apierrors.Abort(c, span, err)
			return
		}

		messages, err := provider.GetBoxMessages(ctx, query.Box, page)
		if err != nil {
			apierrors.Abort(c, span, err)
			return
		}
		if messages == nil {
			messages = []models.MessageSummary{}
		}
		c.JSON(http.StatusOK, MessagesResponse{Messages: messages, Start: page.Start, End: page.End})
	}
}

func (h *Handlers) GetMessage() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "Handlers.GetMessage")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		var query messageQuery
		if err := c.ShouldBindQuery(&query); err != nil {
			apierrors.BadRequest(c, span, err.Error())
			return
		}
		tracing.TagEntity(span, query.ID)

		provider, err := h.provider(ctx, c.Param("accountId"))
		if err != nil {
			apierrors.Abort(c, span, err)
			return
		}

		message, err := provider.GetMessage(ctx, models.MessageRequest{
			ID:         query.ID,
			BoxID:      query.Box,
			MarkAsRead: query.MarkAsRead,
			NoImages:   query.NoImages,
			DarkMode:   query.DarkMode,
		})
		if err != nil {
			apierrors.Abort(c, span, err)
			return
		}
		c.JSON(http.StatusOK, MessageResponse{Message: message})
	}
}

// GetAttachment streams one attachment body.
func (h *Handlers) GetAttachment() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "Handlers.GetAttachment")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		var query attachmentQuery
		if err := c.ShouldBindQuery(&query); err != nil {
			apierrors.BadRequest(c, span, err.Error())
			return
		}
		tracing.TagEntity(span, query.ID)

		provider, err := h.provider(ctx, c.Param("accountId"))
		if err != nil {
			apierrors.Abort(c, span, err)
			return
		}

		content, err := provider.GetAttachment(ctx, models.AttachmentRequest{
			BoxID:     query.Box,
			MessageID: query.ID,
			Index:     *query.Index,
		})
		if err != nil {
			apierrors.Abort(c, span, err)
			return
		}

		contentType := content.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		filename := content.Filename
		if filename == "" {
			filename = "attachment-" + strconv.Itoa(content.Index)
		}
		c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
		c.Data(http.StatusOK, contentType, content.Data)
	}
}
