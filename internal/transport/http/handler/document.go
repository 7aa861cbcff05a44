package handler

import (
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"bankchat/internal/ingest"
	"bankchat/internal/transport/http/response"
)

const maxDocumentSize = 20 << 20 // 20 MB

type DocumentHandler struct {
	pipeline *ingest.Pipeline
}

func NewDocumentHandler(pipeline *ingest.Pipeline) *DocumentHandler {
	return &DocumentHandler{pipeline: pipeline}
}

// Ingest accepts a multipart upload and runs the full ingestion pipeline
// synchronously. Re-uploading an already processed file is a no-op unless
// force=true.
func (h *DocumentHandler) Ingest(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing file field")
		return
	}
	if fileHeader.Size > maxDocumentSize {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "file too large")
		return
	}

	ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
	switch ext {
	case ".md", ".markdown", ".pdf":
	default:
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "unsupported file type "+ext)
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "open uploaded file failed")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "read uploaded file failed")
		return
	}

	category := c.PostForm("category")
	description := c.PostForm("description")
	force := c.PostForm("force") == "true"

	doc, err := h.pipeline.Ingest(c.Request.Context(), data, fileHeader.Filename, category, description, force)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeIngestionFailed, err.Error())
		return
	}

	response.OK(c, doc)
}

// List returns document records, optionally filtered by ?category=.
func (h *DocumentHandler) List(c *gin.Context) {
	docs, err := h.pipeline.List(c.Query("category"))
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list documents failed")
		return
	}
	response.OK(c, gin.H{
		"documents": docs,
		"count":     len(docs),
	})
}

// Delete removes a document, its chunks and its embeddings. Deleting an
// unknown id succeeds, so clients can retry safely.
func (h *DocumentHandler) Delete(c *gin.Context) {
	documentID := c.Param("documentID")
	if documentID == "" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing document id")
		return
	}

	if err := h.pipeline.Delete(c.Request.Context(), documentID); err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, err.Error())
		return
	}

	response.OK(c, gin.H{"deleted_document_id": documentID})
}
