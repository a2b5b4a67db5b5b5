package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/secura/anonymizer/config"
	"github.com/secura/anonymizer/metrics"
	"github.com/secura/anonymizer/pii"
	"github.com/secura/anonymizer/pii/detectors"
)

// app holds the components shared by the serve and anonymize commands.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	engine  *pii.AnalyzerEngine
	service *pii.AnonymizationService
	models  *pii.ModelManager
}

func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	dets, models, err := buildDetectors(cfg, logger)
	if err != nil {
		return nil, err
	}

	engine := pii.NewAnalyzerEngine(dets,
		pii.WithAnalyzerLogger(logger),
		pii.WithSupportedLanguages(cfg.Language),
	)

	operator, err := pii.NewOperator(cfg.Operator, nil)
	if err != nil {
		_ = engine.Close()
		return nil, err
	}

	service := pii.NewAnonymizationService(engine,
		pii.WithOperator(operator),
		pii.WithLanguage(cfg.Language),
		pii.WithEntities(cfg.Entities),
		pii.WithScoreThreshold(cfg.ScoreThreshold),
		pii.WithMaxTextLength(cfg.MaxTextLength),
		pii.WithLogger(logger),
	)

	logger.Info("Recognition configured",
		zap.Strings("detectors", engine.Detectors()),
		zap.String("operator", service.OperatorName()),
		zap.String("language", cfg.Language),
		zap.Float64("score_threshold", cfg.ScoreThreshold),
	)

	return &app{cfg: cfg, logger: logger, engine: engine, service: service, models: models}, nil
}

// buildDetectors instantiates the configured detectors. The ONNX detector is
// owned by a ModelManager so it can be reloaded; a model that fails to load
// leaves the service running in degraded mode.
func buildDetectors(cfg *config.Config, logger *zap.Logger) ([]detectors.Detector, *pii.ModelManager, error) {
	var (
		dets   []detectors.Detector
		models *pii.ModelManager
	)
	closeAll := func() {
		for _, d := range dets {
			_ = detectors.CloseDetector(d)
		}
	}

	for _, name := range cfg.Detectors {
		switch name {
		case detectors.DetectorNameONNXModel:
			models = pii.NewModelManager(cfg.ModelDirectory,
				pii.WithModelManagerLogger(logger),
				pii.WithHealthObserver(metrics.SetRecognizerHealthy),
			)
			if !models.IsHealthy() {
				logger.Warn("Model not loaded, running degraded",
					zap.String("directory", cfg.ModelDirectory),
					zap.Error(models.GetLastError()),
				)
			}
			dets = append(dets, models)
		case detectors.DetectorNameModel:
			d, err := detectors.NewDetector(name, map[string]interface{}{
				"base_url": cfg.ModelBaseURL,
				"timeout":  cfg.ModelTimeout,
			})
			if err != nil {
				closeAll()
				return nil, nil, fmt.Errorf("failed to create %s: %w", name, err)
			}
			dets = append(dets, d)
		default:
			d, err := detectors.NewDetector(name, nil)
			if err != nil {
				closeAll()
				return nil, nil, fmt.Errorf("failed to create %s: %w", name, err)
			}
			dets = append(dets, d)
		}
	}

	if models == nil {
		// no model-backed recognizer to report on
		metrics.SetRecognizerHealthy(true)
	}
	return dets, models, nil
}

// newAuditStore returns the PostgreSQL store when the database is enabled and
// an in-memory ring buffer otherwise.
func newAuditStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (pii.AuditStore, error) {
	if !cfg.Database.Enabled {
		logger.Info("Using in-memory audit store", zap.Int("max_events", cfg.AuditMaxEvents))
		return pii.NewInMemoryAuditStore(cfg.AuditMaxEvents), nil
	}

	store, err := pii.NewPostgresAuditStore(ctx, cfg.Database.StoreConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audit database: %w", err)
	}
	logger.Info("Database audit store enabled",
		zap.String("host", cfg.Database.Host),
		zap.String("database", cfg.Database.Database),
	)
	return store, nil
}

func (a *app) Close() error {
	// the engine closes every detector, the model manager included
	return a.engine.Close()
}
