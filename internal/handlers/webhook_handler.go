package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"flint/internal/logger"
	"flint/internal/models"
	"flint/internal/services"
	"flint/internal/webhook"
)

// maxWebhookBody caps a delivery; providers send small JSON documents.
const maxWebhookBody = 1 << 20

// WebhookProcessor applies a verified delivery.
type WebhookProcessor interface {
	Handle(ctx context.Context, p models.Provider, header http.Header, body []byte) webhook.Outcome
}

// WebhookHandler receives provider webhooks and exposes their log.
type WebhookHandler struct {
	processor WebhookProcessor
	logs      services.WebhookLogServicer
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(processor WebhookProcessor, logs services.WebhookLogServicer) *WebhookHandler {
	return &WebhookHandler{processor: processor, logs: logs}
}

// Receive returns the ingress handler for p. It always answers 200 so the
// provider does not retry a delivery we have already logged.
// @Summary     Receive a provider webhook
// @Tags        webhooks
// @Accept      json
// @Produce     json
// @Param       provider path string true "snaptrade or teller"
// @Success     200 {object} map[string]bool "Acknowledged"
// @Router      /webhooks/{provider} [post]
func (h *WebhookHandler) Receive(p models.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
		if err != nil {
			logger.Get().Warnw("failed to read webhook body", "provider", p, "error", err)
			c.JSON(http.StatusOK, gin.H{"ok": true})
			return
		}

		out := h.processor.Handle(c.Request.Context(), p, c.Request.Header, body)
		if out.Err != nil {
			logger.Get().Debugw("webhook acknowledged with error", "provider", p, "log_id", out.LogID, "error", out.Err)
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

// ListLogs returns recorded webhooks, newest first. Rows span every user,
// so the route is served to internal callers only.
// @Summary     List webhook deliveries
// @Tags        webhooks
// @Produce     json
// @Security    ApiKeyAuth
// @Param       provider  query string false "Filter by provider"
// @Param       page      query int    false "Page number"
// @Param       page_size query int    false "Items per page"
// @Success     200 {object} pagination.PageResponse[models.WebhookLog]
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Router      /internal/webhooks/logs [get]
func (h *WebhookHandler) ListLogs(c *gin.Context) {
	page, err := parsePage(c)
	if err != nil {
		respondWithError(c, err)
		return
	}
	p := models.Provider(c.Query("provider"))
	if p != "" && !p.Valid() {
		respondWithError(c, errUnknownProvider(string(p)))
		return
	}

	logs, err := h.logs.List(c.Request.Context(), p, page)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}
