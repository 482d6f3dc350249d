package api

import (
	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailreader/api/handlers"
	"github.com/customeros/mailreader/api/middleware"
	"github.com/customeros/mailreader/internal/tracing"
)

const (
	APIKeyHeader = "X-MAILREADER-API-KEY"
	AppSource    = "mailreader"
)

// RegisterRoutes sets up all API endpoints
func RegisterRoutes(r *gin.Engine, h *handlers.Handlers, apikey string) {
	if h == nil {
		panic("Handlers cannot be nil")
	}

	// Add recovery middlewares
	r.Use(gin.Recovery())                                         // Gin's built-in recovery
	r.Use(tracing.RecoveryWithJaeger(opentracing.GlobalTracer())) // Our custom Jaeger recovery

	// Health check and status endpoints (no custom context needed)
	r.GET("/health", h.HealthCheck)
	r.GET("/status", h.Status)

	apiKeyMiddleware := middleware.APIKeyMiddleware(middleware.APIKeyConfig{
		HeaderName: APIKeyHeader,
		Keys:       apikey,
	})

	// API group with version and custom context
	api := r.Group("/v1")
	api.Use(apiKeyMiddleware)
	api.Use(middleware.CustomContextMiddleware(AppSource))
	api.Use(middleware.TracingMiddleware())
	{
		accounts := api.Group("/accounts")
		{
			accounts.POST("", h.RegisterAccount())
			accounts.GET("", h.ListAccounts())
			accounts.GET("/:accountId", h.GetAccount())
			accounts.DELETE("/:accountId", h.DeleteAccount())

			accounts.GET("/:accountId/boxes", h.ListBoxes())
			accounts.POST("/:accountId/boxes", h.CreateBox())
			accounts.GET("/:accountId/box", h.GetBox())
			accounts.GET("/:accountId/messages", h.GetBoxMessages())
			accounts.GET("/:accountId/message", h.GetMessage())
			accounts.GET("/:accountId/attachment", h.GetAttachment())
		}
	}
}
