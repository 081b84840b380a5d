package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/bdougie/vibematch/internal/analyzer"
	"github.com/bdougie/vibematch/internal/models"
)

// Analyzer runs the pipeline for one uploaded video
type Analyzer interface {
	ProcessVideo(ctx context.Context, videoID, path string) (models.AnalysisResult, error)
}

// StatusFunc reports what the pipeline has loaded
type StatusFunc func() analyzer.Status

// Options configures the HTTP server
type Options struct {
	UploadDir string
	BodyLimit string
}

// Server is the HTTP API in front of the analyzer
type Server struct {
	echo     *echo.Echo
	handlers *Handlers
	logger   *slog.Logger
}

// New builds the server and registers routes
func New(a Analyzer, status StatusFunc, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.UploadDir == "" {
		opts.UploadDir = "uploads"
	}
	if opts.BodyLimit == "" {
		opts.BodyLimit = "100M"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(requestLogger(logger))
	e.Use(middleware.CORS())
	e.Use(middleware.BodyLimit(opts.BodyLimit))

	h := NewHandlers(a, status, opts.UploadDir, logger)
	e.POST("/analyze", h.HandleAnalyze)
	e.GET("/api/status", h.HandleStatus)
	e.GET("/api/vibes", h.HandleVibes)

	return &Server{echo: e, handlers: h, logger: logger}
}

func requestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			}
			if v.Error != nil {
				logger.Warn("request failed", append(attrs, "error", v.Error)...)
				return nil
			}
			logger.Info("request", attrs...)
			return nil
		},
	})
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr until Shutdown is called
func (s *Server) Start(addr string) error {
	s.logger.Info("server listening", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
