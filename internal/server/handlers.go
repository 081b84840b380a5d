package server

import (
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/bdougie/vibematch/internal/models"
)

var allowedExtensions = map[string]bool{
	".mp4": true,
	".mov": true,
	".avi": true,
}

// Handlers serves the HTTP API
type Handlers struct {
	analyzer  Analyzer
	status    StatusFunc
	uploadDir string
	logger    *slog.Logger
}

func NewHandlers(a Analyzer, status StatusFunc, uploadDir string, logger *slog.Logger) *Handlers {
	return &Handlers{
		analyzer:  a,
		status:    status,
		uploadDir: uploadDir,
		logger:    logger,
	}
}

func errorJSON(c echo.Context, code int, msg string) error {
	return c.JSON(code, map[string]string{"error": msg})
}

// HandleAnalyze accepts a multipart upload in the "video" field and returns
// the analysis result
func (h *Handlers) HandleAnalyze(c echo.Context) error {
	file, err := c.FormFile("video")
	if err != nil || file.Filename == "" {
		return errorJSON(c, http.StatusBadRequest, "no video file provided")
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	if !allowedExtensions[ext] {
		return errorJSON(c, http.StatusBadRequest, "invalid file type, allowed: mp4, mov, avi")
	}

	videoID := uuid.NewString()
	path := filepath.Join(h.uploadDir, videoID+ext)
	defer os.Remove(path)

	if err := saveUpload(file, path); err != nil {
		h.logger.Error("failed to store upload", "video_id", videoID, "error", err)
		return errorJSON(c, http.StatusInternalServerError, "processing error: "+err.Error())
	}

	result, err := h.analyzer.ProcessVideo(c.Request().Context(), videoID, path)
	if err != nil {
		if models.IsClientError(err) {
			h.logger.Warn("invalid video", "video_id", videoID, "error", err)
			return errorJSON(c, http.StatusBadRequest, "invalid video file: "+err.Error())
		}
		h.logger.Error("video processing failed", "video_id", videoID, "error", err)
		return errorJSON(c, http.StatusInternalServerError, "processing error: "+err.Error())
	}

	return c.JSON(http.StatusOK, result)
}

func saveUpload(file *multipart.FileHeader, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create upload dir: %w", err)
	}

	src, err := file.Open()
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create upload file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("write upload file: %w", err)
	}
	return dst.Close()
}

// HandleStatus reports catalog and vocabulary sizes
func (h *Handlers) HandleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, h.status())
}

// HandleVibes returns the vibe vocabulary
func (h *Handlers) HandleVibes(c echo.Context) error {
	vibes := h.status().Vibes
	if vibes == nil {
		vibes = []string{}
	}
	return c.JSON(http.StatusOK, vibes)
}
