package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/solverai/companion/internal/domain"
	"github.com/solverai/companion/internal/service"
)

// DocumentsHandler handles document upload and lifecycle requests
type DocumentsHandler struct {
	ingestService *service.IngestService
}

// NewDocumentsHandler creates a new documents handler
func NewDocumentsHandler(ingestService *service.IngestService) *DocumentsHandler {
	return &DocumentsHandler{ingestService: ingestService}
}

// RegisterRoutes registers document routes
func (h *DocumentsHandler) RegisterRoutes(r *gin.Engine) {
	r.POST("/upload", h.Upload)
	r.GET("/documents", h.List)
	r.DELETE("/documents/:id", h.Delete)
	r.POST("/documents/:id/reingest", h.Reingest)
}

// Upload accepts a document for ingestion
func (h *DocumentsHandler) Upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer src.Close()

	doc, err := h.ingestService.Upload(
		c.Request.Context(),
		file.Filename,
		file.Header.Get("Content-Type"),
		src,
	)
	if err != nil {
		if errors.Is(err, domain.ErrUnsupportedFormat) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		status := http.StatusInternalServerError
		body := gin.H{"error": err.Error()}
		if doc != nil {
			body["document"] = doc
		}
		c.JSON(status, body)
		return
	}

	c.JSON(http.StatusOK, doc)
}

// List returns all documents, newest first
func (h *DocumentsHandler) List(c *gin.Context) {
	docs, err := h.ingestService.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, docs)
}

// Delete removes a document's metadata, stored file and index entries
func (h *DocumentsHandler) Delete(c *gin.Context) {
	removed, err := h.ingestService.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":        "Document deleted successfully",
		"chunks_removed": removed,
	})
}

// Reingest reprocesses an existing document
func (h *DocumentsHandler) Reingest(c *gin.Context) {
	doc, err := h.ingestService.Reingest(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
		case errors.Is(err, domain.ErrInvalidRequest):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			body := gin.H{"error": err.Error()}
			if doc != nil {
				body["document"] = doc
			}
			c.JSON(http.StatusInternalServerError, body)
		}
		return
	}

	c.JSON(http.StatusOK, doc)
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
