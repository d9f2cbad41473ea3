package handler

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pingpongshow/audiblez-webui/internal/api/dto"
	"github.com/pingpongshow/audiblez-webui/internal/cleanup"
	"github.com/pingpongshow/audiblez-webui/internal/jobs"
)

// CleanupHandler exposes the temporary-file maintenance operations
type CleanupHandler struct {
	logger  *slog.Logger
	store   *jobs.Store
	cleanup *cleanup.Service
}

// NewCleanupHandler creates a new CleanupHandler instance
func NewCleanupHandler(deps *Dependencies) *CleanupHandler {
	return &CleanupHandler{
		logger:  deps.Logger,
		store:   deps.Store,
		cleanup: deps.Cleanup,
	}
}

// Status handles GET /api/cleanup/status
// Classifies everything in the audiobook folder
func (h *CleanupHandler) Status(c *gin.Context) {
	status, err := h.cleanup.Status()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			respondError(c, http.StatusNotFound, codeNotFound, "Audiobook folder not found")
			return
		}
		respondDomainError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

// All handles POST /api/cleanup/all
// Deletes every temporary file in the audiobook folder
func (h *CleanupHandler) All(c *gin.Context) {
	result, err := h.cleanup.All()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			respondError(c, http.StatusNotFound, codeNotFound, "Audiobook folder not found")
			return
		}
		respondDomainError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"files_deleted":  result.FilesDeleted,
		"space_freed_mb": result.SpaceFreedMB,
	})
}

// Job handles POST /api/cleanup/job/:job_id
// Deletes the byproducts of one job and records the count on it
func (h *CleanupHandler) Job(c *gin.Context) {
	jobID := c.Param("job_id")

	job, err := h.store.Get(jobID)
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}

	deleted, _, err := h.cleanup.ForJob(job.EpubName)
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}

	if err := h.store.AttachCleanupCount(jobID, deleted); err != nil {
		h.logger.Warn("Failed to record cleanup count",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"files_deleted": deleted,
	})
}

// GetAutoConfig handles GET /api/config/cleanup
func (h *CleanupHandler) GetAutoConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"auto_cleanup": h.cleanup.AutoEnabled(),
	})
}

// SetAutoConfig handles POST /api/config/cleanup
// Updates and persists the auto-cleanup policy
func (h *CleanupHandler) SetAutoConfig(c *gin.Context) {
	var req dto.AutoCleanupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, codeInvalidInput, "Missing auto_cleanup parameter")
		return
	}

	if err := h.cleanup.SetAuto(*req.AutoCleanup); err != nil {
		respondDomainError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"auto_cleanup": h.cleanup.AutoEnabled(),
	})
}
