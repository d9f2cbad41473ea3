package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pingpongshow/audiblez-webui/internal/cleanup"
	"github.com/pingpongshow/audiblez-webui/internal/config"
	"github.com/pingpongshow/audiblez-webui/internal/jobs"
	"github.com/pingpongshow/audiblez-webui/internal/storage"
)

// HealthHandler reports service liveness and basic runtime facts
type HealthHandler struct {
	logger  *slog.Logger
	config  *config.Config
	store   *jobs.Store
	cleanup *cleanup.Service
	db      *storage.Client
}

// NewHealthHandler creates a new HealthHandler instance
func NewHealthHandler(deps *Dependencies) *HealthHandler {
	return &HealthHandler{
		logger:  deps.Logger,
		config:  deps.Config,
		store:   deps.Store,
		cleanup: deps.Cleanup,
		db:      deps.DBClient,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	health := gin.H{
		"status":           "healthy",
		"ebook_folder":     h.config.Paths.EbookFolder,
		"audiobook_folder": h.config.Paths.AudiobookFolder,
		"active_jobs":      h.store.ActiveCount(),
		"auto_cleanup":     h.cleanup.AutoEnabled(),
	}

	if h.db != nil {
		if err := h.db.HealthCheck(c.Request.Context()); err != nil {
			h.logger.Error("Database health check failed",
				slog.Any("error", err),
			)
			health["status"] = "degraded"
			health["database"] = "unreachable"
			c.JSON(http.StatusServiceUnavailable, health)
			return
		}
		health["database"] = "ok"
	}

	c.JSON(http.StatusOK, health)
}
