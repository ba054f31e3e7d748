// handlers.go - HTTP handlers for prescription analysis

package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bosocmputer/prescription_ocr_gemini/internal/common"
	"github.com/bosocmputer/prescription_ocr_gemini/internal/pipeline"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// UploadField is the multipart field carrying the prescription image.
const UploadField = "prescription"

// DefaultMaxUploadBytes is the upload limit when none is configured.
const DefaultMaxUploadBytes = 5 * 1024 * 1024

const analysisTimeout = 2 * time.Minute

var allowedExtensions = map[string]bool{
	".jpeg": true, ".jpg": true, ".png": true, ".gif": true, ".webp": true,
}

var allowedContentTypes = map[string]bool{
	"image/jpeg": true, "image/png": true, "image/gif": true, "image/webp": true,
}

const (
	msgNoImage       = "No prescription image uploaded"
	msgNotAnImage    = "Only image files are allowed (jpeg, jpg, png, gif, webp)"
	msgImageTooLarge = "Prescription image exceeds the upload limit"
	msgUploadFailed  = "Failed to store upload"
)

// Analyzer is the pipeline the handlers drive.
type Analyzer interface {
	Analyze(ctx context.Context, imagePath string) pipeline.Result
	AnalyzeText(ctx context.Context, text string) pipeline.Result
}

// Handler serves the prescription endpoints.
type Handler struct {
	analyzer  Analyzer
	uploadDir string
	maxBytes  int64
	ready     func() bool
}

// NewHandler creates a handler saving uploads under uploadDir. ready reports
// whether the catalogue has loaded and may be nil.
func NewHandler(analyzer Analyzer, uploadDir string, maxBytes int64, ready func() bool) *Handler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return &Handler{analyzer: analyzer, uploadDir: uploadDir, maxBytes: maxBytes, ready: ready}
}

// RegisterRoutes mounts the handlers on r.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/health", h.Health)
	v1 := r.Group("/api/v1/prescriptions")
	v1.POST("/analyze", h.AnalyzePrescription)
	v1.POST("/analyze-text", h.AnalyzeText)
}

// AnalyzePrescription handles POST /api/v1/prescriptions/analyze.
// The uploaded image is stored under a random name and removed once the
// analysis finishes.
func (h *Handler) AnalyzePrescription(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes+1<<20)

	file, err := c.FormFile(UploadField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			rejectUpload(c, http.StatusRequestEntityTooLarge, msgImageTooLarge)
			return
		}
		rejectUpload(c, http.StatusBadRequest, msgNoImage)
		return
	}

	if status, message := h.validateUpload(file); status != http.StatusOK {
		common.Logger().Warn("⚠️  Upload rejected",
			zap.String("filename", file.Filename),
			zap.Int64("size", file.Size),
			zap.String("reason", message),
		)
		rejectUpload(c, status, message)
		return
	}

	if err := os.MkdirAll(h.uploadDir, 0755); err != nil {
		common.Logger().Error("❌ Failed to create upload directory", zap.Error(err))
		rejectUpload(c, http.StatusInternalServerError, msgUploadFailed)
		return
	}
	path := filepath.Join(h.uploadDir, uuid.New().String()+strings.ToLower(filepath.Ext(file.Filename)))
	if err := c.SaveUploadedFile(file, path); err != nil {
		common.Logger().Error("❌ Failed to save upload", zap.Error(err))
		rejectUpload(c, http.StatusInternalServerError, msgUploadFailed)
		return
	}
	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			common.Logger().Warn("⚠️  Failed to remove upload", zap.String("path", path), zap.Error(err))
		}
	}()

	ctx, cancel := context.WithTimeout(c.Request.Context(), analysisTimeout)
	defer cancel()

	c.JSON(http.StatusOK, h.analyzer.Analyze(ctx, path))
}

// AnalyzeTextRequest is the body of POST /api/v1/prescriptions/analyze-text.
type AnalyzeTextRequest struct {
	Text string `json:"text" binding:"required"`
}

// AnalyzeText handles POST /api/v1/prescriptions/analyze-text.
func (h *Handler) AnalyzeText(c *gin.Context) {
	var req AnalyzeTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"medicines": []any{},
			"message":   "Invalid request format",
			"details":   err.Error(),
			"expected":  `JSON with a non-empty "text" field`,
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), analysisTimeout)
	defer cancel()

	c.JSON(http.StatusOK, h.analyzer.AnalyzeText(ctx, req.Text))
}

// Health reports liveness and whether the catalogue is loaded.
func (h *Handler) Health(c *gin.Context) {
	loaded := h.ready == nil || h.ready()
	c.JSON(http.StatusOK, gin.H{
		"status":           "ok",
		"service":          "prescription-analyzer",
		"version":          "1.0.0",
		"catalogue_loaded": loaded,
	})
}

// validateUpload checks size, extension and the sniffed content type. It
// returns http.StatusOK when the upload is acceptable.
func (h *Handler) validateUpload(file *multipart.FileHeader) (int, string) {
	if file.Size > h.maxBytes {
		return http.StatusRequestEntityTooLarge, msgImageTooLarge
	}
	if !allowedExtensions[strings.ToLower(filepath.Ext(file.Filename))] {
		return http.StatusBadRequest, msgNotAnImage
	}

	contentType, err := sniffContentType(file)
	if err != nil {
		return http.StatusBadRequest, fmt.Sprintf("Failed to read upload: %v", err)
	}
	if !allowedContentTypes[contentType] {
		return http.StatusBadRequest, msgNotAnImage
	}
	return http.StatusOK, ""
}

func sniffContentType(file *multipart.FileHeader) (string, error) {
	f, err := file.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", err
	}
	return http.DetectContentType(head[:n]), nil
}

func rejectUpload(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{
		"medicines": []any{},
		"message":   message,
	})
}
