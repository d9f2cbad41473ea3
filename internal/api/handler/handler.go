package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pingpongshow/audiblez-webui/internal/api/dto"
	"github.com/pingpongshow/audiblez-webui/internal/cleanup"
	"github.com/pingpongshow/audiblez-webui/internal/config"
	"github.com/pingpongshow/audiblez-webui/internal/convert"
	"github.com/pingpongshow/audiblez-webui/internal/jobs"
	"github.com/pingpongshow/audiblez-webui/internal/library"
	"github.com/pingpongshow/audiblez-webui/internal/storage"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger   *slog.Logger
	Config   *config.Config
	Store    *jobs.Store
	Engine   *convert.Engine
	Library  *library.Service
	Cleanup  *cleanup.Service
	History  *storage.HistoryStore
	DBClient *storage.Client
	Gatherer prometheus.Gatherer
}

// error codes carried in the response envelope
const (
	codeInvalidInput = "invalid_input"
	codeNotFound     = "not_found"
	codeConflict     = "conflict"
	codeTooLarge     = "payload_too_large"
	codeUnavailable  = "unavailable"
	codeInternal     = "internal"
)

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, dto.ErrorResponse{Error: message, Code: code})
}

// respondDomainError maps service errors onto the HTTP envelope
func respondDomainError(c *gin.Context, logger *slog.Logger, err error) {
	var transition *jobs.TransitionError

	switch {
	case errors.Is(err, jobs.ErrNotFound):
		respondError(c, http.StatusNotFound, codeNotFound, "Job not found")
	case errors.Is(err, jobs.ErrConflict), errors.As(err, &transition):
		respondError(c, http.StatusConflict, codeConflict, err.Error())
	case errors.Is(err, convert.ErrInvalidInput):
		respondError(c, http.StatusBadRequest, codeInvalidInput, err.Error())
	case errors.Is(err, library.ErrInvalidUpload):
		respondError(c, http.StatusBadRequest, codeInvalidInput, err.Error())
	case errors.Is(err, convert.ErrEngineStopped):
		respondError(c, http.StatusServiceUnavailable, codeUnavailable, "Server is shutting down")
	default:
		logger.Error("Request failed",
			slog.String("path", c.Request.URL.Path),
			slog.Any("error", err),
		)
		respondError(c, http.StatusInternalServerError, codeInternal, "Internal server error")
	}
}
