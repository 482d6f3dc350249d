package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	mailerrors "github.com/customeros/mailreader/internal/errors"
	"github.com/customeros/mailreader/internal/tracing"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusCode maps a service error to the status returned to API callers.
func StatusCode(err error) int {
	switch {
	case mailerrors.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, mailerrors.ErrInvalidPage),
		errors.Is(err, mailerrors.ErrInvalidFetchOptions),
		errors.Is(err, mailerrors.ErrInvalidAccount),
		errors.Is(err, mailerrors.ErrUnsupportedProvider):
		return http.StatusBadRequest
	case mailerrors.IsConnectionError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Abort records err on the span and writes it with the mapped status.
func Abort(c *gin.Context, span opentracing.Span, err error) {
	tracing.TraceErr(span, err)
	c.AbortWithStatusJSON(StatusCode(err), ErrorResponse{Error: err.Error()})
}

// BadRequest writes a 400 with message.
func BadRequest(c *gin.Context, span opentracing.Span, message string) {
	tracing.TraceErr(span, errors.New(message))
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: message})
}
