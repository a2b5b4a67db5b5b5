package pii

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/secura/anonymizer/pii/detectors"
)

// Files a model directory must contain.
const (
	ModelFile        = "model_quantized.onnx"
	TokenizerFile    = "tokenizer.json"
	LabelMappingFile = "label_mappings.json"
)

const probeText = "Test with John Smith"

// ModelConfig holds paths to required model files
type ModelConfig struct {
	ModelPath     string
	TokenizerPath string
	LabelMapPath  string
}

// DetectorLoader builds a detector from a validated model directory.
type DetectorLoader func(cfg ModelConfig) (detectors.Detector, error)

// ModelInfo describes the state of the managed model.
type ModelInfo struct {
	Directory string     `json:"directory"`
	Healthy   bool       `json:"healthy"`
	Error     string     `json:"error,omitempty"`
	LoadedAt  *time.Time `json:"loaded_at,omitempty"`
}

// ModelManager owns the lifecycle of the model-backed detector and supports
// hot reload. It is itself a Detector: Detect runs against whichever model
// is current and fails with detectors.ErrUnavailable while none is healthy.
type ModelManager struct {
	mu              sync.RWMutex
	reloadMu        sync.Mutex
	currentDetector detectors.Detector
	modelDirectory  string
	isHealthy       bool
	lastError       error
	loadedAt        time.Time

	loader         DetectorLoader
	logger         *zap.Logger
	healthObserver func(healthy bool)
}

type ModelManagerOption func(*ModelManager)

// WithDetectorLoader replaces the ONNX loader, mainly for tests.
func WithDetectorLoader(loader DetectorLoader) ModelManagerOption {
	return func(mm *ModelManager) {
		mm.loader = loader
	}
}

func WithModelManagerLogger(logger *zap.Logger) ModelManagerOption {
	return func(mm *ModelManager) {
		if logger != nil {
			mm.logger = logger
		}
	}
}

// WithHealthObserver registers a callback invoked after every health change.
func WithHealthObserver(observer func(healthy bool)) ModelManagerOption {
	return func(mm *ModelManager) {
		mm.healthObserver = observer
	}
}

// NewModelManager creates a model manager and loads the model in directory.
// A failed initial load leaves the manager unhealthy rather than failing, so
// the service can start and report itself degraded.
func NewModelManager(directory string, opts ...ModelManagerOption) *ModelManager {
	mm := &ModelManager{
		modelDirectory: directory,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(mm)
	}
	mm.logger = mm.logger.Named("model_manager")
	if mm.loader == nil {
		mm.loader = mm.loadONNXDetector
	}

	if err := mm.ReloadModel(directory); err != nil {
		mm.logger.Warn("initial model load failed, starting unhealthy",
			zap.String("directory", directory),
			zap.Error(err))
	}
	return mm
}

func (mm *ModelManager) loadONNXDetector(cfg ModelConfig) (detectors.Detector, error) {
	detector, err := detectors.NewONNXModelDetector(cfg.ModelPath, cfg.TokenizerPath, cfg.LabelMapPath,
		detectors.WithONNXLogger(mm.logger.Named("onnx")))
	if err != nil {
		return nil, err
	}
	return detector, nil
}

// GetName returns the name of this detector
func (mm *ModelManager) GetName() string {
	return detectors.DetectorNameONNXModel
}

// SafeForConcurrentUse reports false: the managed ONNX detector reuses its
// tensors between calls.
func (mm *ModelManager) SafeForConcurrentUse() bool {
	return false
}

// Detect runs the current detector. The read lock is held for the whole
// call so a concurrent reload never closes a detector that is in use.
func (mm *ModelManager) Detect(ctx context.Context, input detectors.DetectorInput) (detectors.DetectorOutput, error) {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	if !mm.isHealthy || mm.currentDetector == nil {
		if mm.lastError != nil {
			return detectors.DetectorOutput{}, fmt.Errorf("%w: model is unhealthy: %v", detectors.ErrUnavailable, mm.lastError)
		}
		return detectors.DetectorOutput{}, fmt.Errorf("%w: no model loaded", detectors.ErrUnavailable)
	}
	return mm.currentDetector.Detect(ctx, input)
}

// ReloadModel reloads the model from the specified directory with validation.
// On failure the manager becomes unhealthy and stops serving the previous
// model until a reload succeeds.
func (mm *ModelManager) ReloadModel(newDirectory string) error {
	mm.reloadMu.Lock()
	defer mm.reloadMu.Unlock()

	log := mm.logger.With(zap.String("directory", newDirectory))
	log.Info("reloading model")

	config, err := validateModelDirectory(newDirectory)
	if err != nil {
		mm.markUnhealthy(err)
		log.Error("model directory validation failed", zap.Error(err))
		return fmt.Errorf("validation failed: %w", err)
	}

	newDetector, err := mm.loader(*config)
	if err != nil {
		mm.markUnhealthy(err)
		log.Error("failed to load model", zap.Error(err))
		return fmt.Errorf("failed to load model: %w", err)
	}

	if _, err := newDetector.Detect(context.Background(), detectors.DetectorInput{Text: probeText, Language: DefaultLanguage}); err != nil {
		if closeErr := newDetector.Close(); closeErr != nil {
			log.Warn("failed to close rejected detector", zap.Error(closeErr))
		}
		mm.markUnhealthy(err)
		log.Error("model validation inference failed", zap.Error(err))
		return fmt.Errorf("model validation failed: %w", err)
	}

	mm.mu.Lock()
	oldDetector := mm.currentDetector
	mm.currentDetector = newDetector
	mm.modelDirectory = newDirectory
	mm.isHealthy = true
	mm.lastError = nil
	mm.loadedAt = time.Now().UTC()
	mm.mu.Unlock()
	mm.notify(true)

	if oldDetector != nil {
		if err := oldDetector.Close(); err != nil {
			log.Warn("failed to close previous detector", zap.Error(err))
		}
	}

	log.Info("model reload complete")
	return nil
}

func (mm *ModelManager) markUnhealthy(err error) {
	mm.mu.Lock()
	mm.isHealthy = false
	mm.lastError = err
	mm.mu.Unlock()
	mm.notify(false)
}

func (mm *ModelManager) notify(healthy bool) {
	if mm.healthObserver != nil {
		mm.healthObserver(healthy)
	}
}

// IsHealthy returns whether the current model is healthy
func (mm *ModelManager) IsHealthy() bool {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return mm.isHealthy
}

// GetLastError returns the last error encountered (if any)
func (mm *ModelManager) GetLastError() error {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return mm.lastError
}

// GetInfo returns information about the current model state
func (mm *ModelManager) GetInfo() ModelInfo {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	info := ModelInfo{
		Directory: mm.modelDirectory,
		Healthy:   mm.isHealthy,
	}
	if mm.lastError != nil {
		info.Error = mm.lastError.Error()
	}
	if !mm.loadedAt.IsZero() {
		loadedAt := mm.loadedAt
		info.LoadedAt = &loadedAt
	}
	return info
}

// validateModelDirectory checks that dir exists and contains every required
// file.
func validateModelDirectory(dir string) (*ModelConfig, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("directory does not exist: %s", dir)
		}
		return nil, fmt.Errorf("failed to access directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", dir)
	}

	var missingFiles []string
	for _, filename := range []string{ModelFile, TokenizerFile, LabelMappingFile} {
		if _, err := os.Stat(filepath.Join(dir, filename)); errors.Is(err, os.ErrNotExist) {
			missingFiles = append(missingFiles, filename)
		}
	}
	if len(missingFiles) > 0 {
		return nil, fmt.Errorf("missing required files in directory: %v", missingFiles)
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		absDir = dir
	}
	return &ModelConfig{
		ModelPath:     filepath.Join(absDir, ModelFile),
		TokenizerPath: filepath.Join(absDir, TokenizerFile),
		LabelMapPath:  filepath.Join(absDir, LabelMappingFile),
	}, nil
}

// Close closes the current detector and cleans up resources
func (mm *ModelManager) Close() error {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	mm.isHealthy = false
	if mm.currentDetector != nil {
		err := mm.currentDetector.Close()
		mm.currentDetector = nil
		if err != nil {
			return fmt.Errorf("failed to close detector: %w", err)
		}
	}
	return nil
}
