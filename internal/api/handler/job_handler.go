package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/pingpongshow/audiblez-webui/internal/api/dto"
	"github.com/pingpongshow/audiblez-webui/internal/convert"
	"github.com/pingpongshow/audiblez-webui/internal/jobs"
	"github.com/pingpongshow/audiblez-webui/internal/library"
	"github.com/pingpongshow/audiblez-webui/internal/storage"
)

// JobHandler handles conversion job HTTP requests
type JobHandler struct {
	logger  *slog.Logger
	store   *jobs.Store
	engine  *convert.Engine
	history *storage.HistoryStore
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:  deps.Logger,
		store:   deps.Store,
		engine:  deps.Engine,
		history: deps.History,
	}
}

// Convert handles POST /api/convert
// Accepts a conversion request and starts it in the background
func (h *JobHandler) Convert(c *gin.Context) {
	var req dto.ConvertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		respondError(c, http.StatusBadRequest, codeInvalidInput, "No epub file specified")
		return
	}

	// compression is opt-out
	compress := true
	if req.Compress != nil {
		compress = *req.Compress
	}

	// the synthesis tool is the authority on voices; an id outside the
	// served catalog still goes through, it just gets flagged
	if req.Voice != "" && !library.KnownVoice(req.Voice) {
		h.logger.Warn("Requested voice is not in the catalog",
			slog.String("voice", req.Voice),
		)
	}

	job, err := h.engine.Submit(convert.SubmitRequest{
		EpubPath:     req.EpubPath,
		Voice:        req.Voice,
		Speed:        req.Speed,
		UseCuda:      req.UseCuda,
		Compress:     compress,
		OutputFolder: req.OutputFolder,
	})
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}

	h.logger.Info("Conversion started",
		slog.String("job_id", job.ID),
		slog.String("epub", job.EpubName),
	)

	c.JSON(http.StatusOK, dto.ConvertResponse{
		Success: true,
		JobID:   job.ID,
	})
}

// GetStatus handles GET /api/status/:job_id
// Returns the full record of one job
func (h *JobHandler) GetStatus(c *gin.Context) {
	jobID := c.Param("job_id")

	job, err := h.store.Get(jobID)
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
// Lists every tracked job, newest first
func (h *JobHandler) ListJobs(c *gin.Context) {
	list := h.store.List()

	// the store keeps submission order; readers want newest first
	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}

	c.JSON(http.StatusOK, list)
}

// Cancel handles POST /api/cancel/:job_id
// Requests termination of a pending or active job
func (h *JobHandler) Cancel(c *gin.Context) {
	jobID := c.Param("job_id")

	h.logger.Info("Cancel requested",
		slog.String("job_id", jobID),
	)

	if err := h.engine.Cancel(jobID); err != nil {
		respondDomainError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Delete handles DELETE /api/delete/:job_id
// Removes a finished job record from the list
func (h *JobHandler) Delete(c *gin.Context) {
	jobID := c.Param("job_id")

	if err := h.store.Delete(jobID); err != nil {
		respondDomainError(c, h.logger, err)
		return
	}

	h.logger.Info("Job record deleted",
		slog.String("job_id", jobID),
	)

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// History handles GET /api/history
// Returns archived terminal jobs, newest first
func (h *JobHandler) History(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			respondError(c, http.StatusBadRequest, codeInvalidInput, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	entries, err := h.history.List(c.Request.Context(), limit)
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, entries)
}
