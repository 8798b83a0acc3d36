package handlers

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/imageclassify/internal/logging"
	"github.com/example/imageclassify/internal/usecase"
)

// MaxUploadSize is the default limit on the multipart request body.
const MaxUploadSize = 16 << 20

// Options tunes the HTTP surface.
type Options struct {
	MaxUploadBytes int64
	// AllowedOrigin is sent as Access-Control-Allow-Origin. Empty means "*".
	AllowedOrigin string
	Logger        *zap.Logger
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, uc *usecase.ClassificationUseCase, opts Options) {
	maxBytes := opts.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = MaxUploadSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api", CORS(opts.AllowedOrigin))
	api.OPTIONS("/*path", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	api.POST("/upload", func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"message": "File too large"})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)

		file, err := c.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"message": "File too large"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"message": "No file part in the request"})
			return
		}
		if strings.TrimSpace(file.Filename) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"message": "No selected file"})
			return
		}

		contentType := file.Header.Get("Content-Type")
		if !acceptedContentType(contentType) {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"message": "Unsupported file type"})
			return
		}

		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "Unable to open file"})
			return
		}
		defer src.Close()

		data, err := io.ReadAll(src)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to read file"})
			return
		}

		receipt, err := uc.Upload(c.Request.Context(), usecase.UploadRequest{
			Filename:    file.Filename,
			ContentType: contentType,
			Data:        data,
		})
		switch {
		case errors.Is(err, usecase.ErrValidation):
			c.JSON(http.StatusBadRequest, gin.H{"message": "No selected file"})
			return
		case errors.Is(err, usecase.ErrBusy):
			c.JSON(http.StatusServiceUnavailable, gin.H{"message": "Server busy, try again later"})
			return
		case err != nil:
			logger.Error("upload failed", logging.ErrorFields(err)...)
			c.JSON(http.StatusInternalServerError, gin.H{"message": "Error uploading file to object store"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"message":  "File uploaded successfully",
			"filename": receipt.JobID,
		})
	})

	api.GET("/retrieve/:id", func(c *gin.Context) {
		result, ready, err := uc.Retrieve(c.Request.Context(), c.Param("id"))
		switch {
		case errors.Is(err, usecase.ErrValidation):
			c.JSON(http.StatusBadRequest, gin.H{"message": "id is required"})
			return
		case err != nil:
			logger.Error("retrieve failed", logging.ErrorFields(err)...)
			c.JSON(http.StatusInternalServerError, gin.H{"message": "Error retrieving result"})
			return
		case !ready:
			c.JSON(http.StatusAccepted, gin.H{"message": "Result not ready"})
			return
		}
		c.JSON(http.StatusOK, result)
	})

	api.GET("/metrics", func(c *gin.Context) {
		summary, err := uc.GetMetricsSummary(c.Request.Context())
		switch {
		case errors.Is(err, usecase.ErrMetricsUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{"message": "Metrics unavailable"})
			return
		case err != nil:
			logger.Error("metrics summary failed", logging.ErrorFields(err)...)
			c.JSON(http.StatusInternalServerError, gin.H{"message": "Error computing metrics"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

// acceptedContentType lets through image types and the generic binary type
// browsers fall back to. Missing headers are accepted and left to the decoder.
func acceptedContentType(value string) bool {
	if value == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(value)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "image/") || mediaType == "application/octet-stream"
}
