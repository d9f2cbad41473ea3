package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pingpongshow/audiblez-webui/internal/api/dto"
	"github.com/pingpongshow/audiblez-webui/internal/library"
)

// LibraryHandler serves the ebook catalog, voice catalog and uploads
type LibraryHandler struct {
	logger  *slog.Logger
	library *library.Service
}

// NewLibraryHandler creates a new LibraryHandler instance
func NewLibraryHandler(deps *Dependencies) *LibraryHandler {
	return &LibraryHandler{
		logger:  deps.Logger,
		library: deps.Library,
	}
}

// Voices handles GET /api/voices
// Returns the available voices grouped by language
func (h *LibraryHandler) Voices(c *gin.Context) {
	c.JSON(http.StatusOK, library.Voices())
}

// Ebooks handles GET /api/ebooks
// Lists the source files available for conversion
func (h *LibraryHandler) Ebooks(c *gin.Context) {
	books, err := h.library.ListEbooks()
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, books)
}

// Upload handles POST /api/upload
// Stores an uploaded epub in the upload folder
func (h *LibraryHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, http.StatusRequestEntityTooLarge, codeTooLarge, "Uploaded file is too large")
			return
		}
		respondError(c, http.StatusBadRequest, codeInvalidInput, "No file provided")
		return
	}

	src, err := fileHeader.Open()
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}
	defer src.Close()

	book, err := h.library.SaveUpload(fileHeader.Filename, src)
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.UploadResponse{
		Success:  true,
		Filename: book.Name,
		Filepath: book.Path,
	})
}
