package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/secura/anonymizer/config"
	"github.com/secura/anonymizer/pii"
)

const shutdownTimeout = 10 * time.Second

// Anonymizer is the recognition capability the HTTP layer serves.
type Anonymizer interface {
	Anonymize(ctx context.Context, text string) (pii.Result, error)
	Analyze(ctx context.Context, text string, entities []string, threshold float64) ([]pii.Analysis, error)
}

// ModelController exposes the model lifecycle operations.
type ModelController interface {
	GetInfo() pii.ModelInfo
	IsHealthy() bool
	ReloadModel(directory string) error
}

// Server represents the HTTP server
type Server struct {
	config  *config.Config
	service Anonymizer
	models  ModelController
	audit   pii.AuditStore
	limiter *rate.Limiter
	logger  *zap.Logger
}

type Option func(*Server)

// WithModelController enables the model info, reload and health reporting.
func WithModelController(models ModelController) Option {
	return func(s *Server) {
		s.models = models
	}
}

// WithAuditStore enables audit recording. The server closes the store on Close.
func WithAuditStore(store pii.AuditStore) Option {
	return func(s *Server) {
		s.audit = store
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, service Anonymizer, opts ...Option) *Server {
	s := &Server{
		config:  cfg,
		service: service,
		limiter: newLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("server")
	return s
}

// Handler returns the complete HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler {
	limit := s.rateLimitMiddleware(s.limiter)

	api := http.NewServeMux()
	api.HandleFunc("POST /api/v1/anonymize", s.handleAnonymize)
	api.HandleFunc("POST /api/v1/analyze", s.handleAnalyze)
	api.HandleFunc("GET /api/v1/model", s.handleModelInfo)
	api.HandleFunc("POST /api/v1/model/reload", s.handleModelReload)
	api.HandleFunc("GET /api/v1/audit/events", s.handleAuditEvents)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("/api/", limit(api))

	sentryHandler := sentryhttp.New(sentryhttp.Options{Repanic: true})
	return chain(mux,
		requestIDMiddleware,
		s.loggingMiddleware,
		s.recoverMiddleware,
		sentryHandler.Handle,
		corsMiddleware,
	)
}

// Start serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting anonymization service",
		zap.String("port", s.config.Port),
		zap.String("environment", s.config.Environment),
		zap.Strings("detectors", s.config.Detectors),
		zap.Bool("audit_database", s.config.Database.Enabled),
	)

	server := &http.Server{
		Addr:         s.config.Port,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if s.audit != nil && s.config.Database.CleanupHours > 0 {
		go s.cleanupLoop(ctx, time.Duration(s.config.Database.CleanupHours)*time.Hour)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// cleanupLoop drops audit events older than retention once per hour.
func (s *Server) cleanupLoop(ctx context.Context, retention time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.audit.Cleanup(ctx, retention)
			if err != nil {
				s.logger.Warn("Audit cleanup failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				s.logger.Info("Cleaned up audit events", zap.Int64("removed", removed))
			}
		}
	}
}

// Close closes the server and cleans up resources
func (s *Server) Close() error {
	if s.audit != nil {
		return s.audit.Close()
	}
	return nil
}
