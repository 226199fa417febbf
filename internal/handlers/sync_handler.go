package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"refund-insights-service/internal/middleware"
	"refund-insights-service/internal/models"
	"refund-insights-service/internal/services"
)

// SyncHandler handles sync run endpoints
type SyncHandler struct {
	service *services.SyncService
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(service *services.SyncService) *SyncHandler {
	return &SyncHandler{service: service}
}

// StartSync handles POST /api/v1/sync
func (h *SyncHandler) StartSync(c *gin.Context) {
	shop := middleware.GetShop(c)

	run, err := h.service.StartSync(c.Request.Context(), shop, models.TriggerManual)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, services.ErrSyncInProgress) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, run)
}

// GetRun handles GET /api/v1/sync/runs/:id
func (h *SyncHandler) GetRun(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return
	}

	run, err := h.service.GetRun(c.Request.Context(), id)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch run"})
		return
	}

	c.JSON(http.StatusOK, run)
}

// GetStatus handles GET /api/v1/sync/status, returning the shop's most
// recent run plus the raw platform-side bulk operation when reachable
func (h *SyncHandler) GetStatus(c *gin.Context) {
	shop := middleware.GetShop(c)

	run, op, err := h.service.GetStatus(c.Request.Context(), shop)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch sync status"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"run": run, "bulkOperation": op})
}

// GetRunLogs handles GET /api/v1/sync/runs/:id/logs
func (h *SyncHandler) GetRunLogs(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return
	}

	logs, err := h.service.GetRunLogs(c.Request.Context(), id, models.LogLevel(c.Query("level")), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch run logs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

// CancelRun handles POST /api/v1/sync/runs/:id/cancel
func (h *SyncHandler) CancelRun(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return
	}

	if err := h.service.CancelRun(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}
