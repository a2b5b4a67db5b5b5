package detectors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"
)

const (
	DetectorNameModel     = "model_detector"
	DetectorNameRegex     = "regex_detector"
	DetectorNameONNXModel = "onnx_model_detector"
)

// ErrUnavailable is wrapped by detectors that cannot serve a request because
// their backing model or service is not loaded or not reachable.
var ErrUnavailable = errors.New("recognizer unavailable")

type Detector interface {
	GetName() string
	Detect(ctx context.Context, input DetectorInput) (DetectorOutput, error)
	Close() error
}

// ConcurrencyAware is implemented by detectors that know whether Detect may be
// called from several goroutines at once.
type ConcurrencyAware interface {
	SafeForConcurrentUse() bool
}

// IsConcurrencySafe reports whether d may be shared between goroutines
// without external locking. Detectors that do not say are assumed unsafe.
func IsConcurrencySafe(d Detector) bool {
	if ca, ok := d.(ConcurrencyAware); ok {
		return ca.SafeForConcurrentUse()
	}
	return false
}

type NewDetectorFunc func(config map[string]interface{}) (Detector, error)

var (
	factoriesMu       sync.RWMutex
	detectorFactories = make(map[string]NewDetectorFunc)
)

func RegisterDetectorFactory(name string, factory NewDetectorFunc) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	detectorFactories[name] = factory
}

func NewDetector(name string, config map[string]interface{}) (Detector, error) {
	factoriesMu.RLock()
	factory, ok := detectorFactories[name]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("detector factory not found for name: %s", name)
	}
	return factory(config)
}

// RegisteredDetectors returns the sorted names of all registered factories.
func RegisteredDetectors() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()

	names := make([]string, 0, len(detectorFactories))
	for name := range detectorFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	RegisterDetectorFactory(DetectorNameModel, func(config map[string]interface{}) (Detector, error) {
		baseURL, ok := config["base_url"].(string)
		if !ok || baseURL == "" {
			return nil, fmt.Errorf("base_url is required for model detector")
		}
		if timeout, ok := config["timeout"].(time.Duration); ok && timeout > 0 {
			return NewModelDetectorWithClient(baseURL, &http.Client{Timeout: timeout}), nil
		}
		return NewModelDetector(baseURL), nil
	})

	RegisterDetectorFactory(DetectorNameRegex, func(config map[string]interface{}) (Detector, error) {
		return NewRegexDetector(DefaultPatternRecognizers()), nil
	})

	RegisterDetectorFactory(DetectorNameONNXModel, func(config map[string]interface{}) (Detector, error) {
		modelPath, ok := config["model_path"].(string)
		if !ok {
			return nil, fmt.Errorf("model_path is required for ONNX model detector")
		}
		tokenizerPath, ok := config["tokenizer_path"].(string)
		if !ok {
			return nil, fmt.Errorf("tokenizer_path is required for ONNX model detector")
		}
		labelMapPath, ok := config["label_map_path"].(string)
		if !ok {
			return nil, fmt.Errorf("label_map_path is required for ONNX model detector")
		}
		detector, err := NewONNXModelDetector(modelPath, tokenizerPath, labelMapPath)
		if err != nil {
			return nil, err
		}
		return detector, nil
	})
}

func CloseDetector(detector Detector) error {
	return detector.Close()
}
