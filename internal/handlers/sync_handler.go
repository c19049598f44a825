package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SweepTrigger starts a background sweep outside its schedule.
type SweepTrigger interface {
	TriggerNow()
}

// SyncHandler exposes operator controls for the background sweep.
type SyncHandler struct {
	trigger SweepTrigger
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(trigger SweepTrigger) *SyncHandler {
	return &SyncHandler{trigger: trigger}
}

// TriggerSweep queues a holdings sweep over every registered user.
// @Summary     Trigger a sweep
// @Tags        internal
// @Produce     json
// @Security    ApiKeyAuth
// @Success     202 {object} map[string]string
// @Failure     401 {object} ErrorResponse "Invalid API key"
// @Failure     503 {object} ErrorResponse "Sync disabled or internal API not configured"
// @Router      /internal/sync [post]
func (h *SyncHandler) TriggerSweep(c *gin.Context) {
	if h.trigger == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": gin.H{"code": "SYNC_DISABLED", "message": "Background sync is disabled"},
		})
		return
	}
	h.trigger.TriggerNow()
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}
