package pii

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/secura/anonymizer/pii/detectors"
)

const tracerName = "github.com/secura/anonymizer/pii"

// AnalyzeRequest is the input of the recognition capability. An empty
// Entities list means every type the recognizers produce.
type AnalyzeRequest struct {
	Text           string
	Language       string
	Entities       []string
	ScoreThreshold float64
}

// RecognizerResult is one recognized span. Start and End are byte offsets
// into the analyzed text, half-open.
type RecognizerResult struct {
	EntityType string
	Start      int
	End        int
	Score      float64
	Recognizer string
}

// Analyzer returns the PII spans found in a text.
type Analyzer interface {
	Analyze(ctx context.Context, req AnalyzeRequest) ([]RecognizerResult, error)
}

// mergeableEntities are split by token models into adjacent pieces, e.g.
// FIRSTNAME + SURNAME.
var mergeableEntities = map[string]bool{
	detectors.EntityPerson:   true,
	detectors.EntityLocation: true,
}

// AnalyzerEngine runs a fixed set of detectors over the text and
// post-processes their output into canonical results.
type AnalyzerEngine struct {
	detectors []detectors.Detector
	languages map[string]struct{}
	logger    *zap.Logger
	tracer    trace.Tracer
}

type AnalyzerOption func(*AnalyzerEngine)

func WithAnalyzerLogger(logger *zap.Logger) AnalyzerOption {
	return func(a *AnalyzerEngine) {
		a.logger = logger
	}
}

// WithSupportedLanguages replaces the default ["en"].
func WithSupportedLanguages(languages ...string) AnalyzerOption {
	return func(a *AnalyzerEngine) {
		a.languages = lo.SliceToMap(languages, func(l string) (string, struct{}) {
			return strings.ToLower(l), struct{}{}
		})
	}
}

// NewAnalyzerEngine wraps every detector that is not safe for concurrent use
// in an exclusive lock.
func NewAnalyzerEngine(dets []detectors.Detector, opts ...AnalyzerOption) *AnalyzerEngine {
	a := &AnalyzerEngine{
		languages: map[string]struct{}{"en": {}},
		logger:    zap.NewNop(),
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.Named("analyzer")

	for _, d := range dets {
		if !detectors.IsConcurrencySafe(d) {
			d = &lockedDetector{Detector: d}
		}
		a.detectors = append(a.detectors, d)
	}
	return a
}

// Detectors returns the names of the configured detectors.
func (a *AnalyzerEngine) Detectors() []string {
	return lo.Map(a.detectors, func(d detectors.Detector, _ int) string {
		return d.GetName()
	})
}

func (a *AnalyzerEngine) Analyze(ctx context.Context, req AnalyzeRequest) ([]RecognizerResult, error) {
	ctx, span := a.tracer.Start(ctx, "AnalyzerEngine.Analyze", trace.WithAttributes(
		attribute.Int("text.length", len(req.Text)),
		attribute.String("language", req.Language),
	))
	defer span.End()

	results, err := a.analyze(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("results", len(results)))
	return results, nil
}

func (a *AnalyzerEngine) analyze(ctx context.Context, req AnalyzeRequest) ([]RecognizerResult, error) {
	language := strings.ToLower(req.Language)
	if language == "" {
		language = "en"
	}
	if _, ok := a.languages[language]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, req.Language)
	}
	if len(a.detectors) == 0 {
		return nil, fmt.Errorf("%w: no recognizers configured", detectors.ErrUnavailable)
	}

	allowed := lo.SliceToMap(req.Entities, func(e string) (string, struct{}) {
		return detectors.CanonicalLabel(e), struct{}{}
	})

	input := detectors.DetectorInput{Text: req.Text, Language: language}
	var results []RecognizerResult
	for _, d := range a.detectors {
		out, err := d.Detect(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("recognizer %s: %w", d.GetName(), err)
		}

		for _, e := range out.Entities {
			if e.StartPos < 0 || e.EndPos > len(req.Text) || e.StartPos >= e.EndPos {
				return nil, fmt.Errorf("recognizer %s returned span [%d:%d] outside text of length %d",
					d.GetName(), e.StartPos, e.EndPos, len(req.Text))
			}
			entityType := detectors.CanonicalLabel(e.Label)
			if len(allowed) > 0 {
				if _, ok := allowed[entityType]; !ok {
					continue
				}
			}
			if e.Confidence < req.ScoreThreshold {
				continue
			}
			start, end := runeBounds(req.Text, e.StartPos, e.EndPos)
			results = append(results, RecognizerResult{
				EntityType: entityType,
				Start:      start,
				End:        end,
				Score:      e.Confidence,
				Recognizer: d.GetName(),
			})
		}
	}

	results = mergeAdjacent(req.Text, dedupeResults(results))
	a.logger.Debug("analysis complete",
		zap.Int("text_length", len(req.Text)),
		zap.Int("results", len(results)),
	)
	return results, nil
}

// Close closes every detector and returns the first error.
func (a *AnalyzerEngine) Close() error {
	var firstErr error
	for _, d := range a.detectors {
		if err := detectors.CloseDetector(d); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// runeBounds widens a byte span so that it never splits a UTF-8 sequence.
func runeBounds(text string, start, end int) (int, int) {
	for start > 0 && !utf8.RuneStart(text[start]) {
		start--
	}
	for end < len(text) && !utf8.RuneStart(text[end]) {
		end++
	}
	return start, end
}

// dedupeResults keeps one result per (type, span), the one with the highest
// score, and orders the survivors by start then by longest span.
func dedupeResults(results []RecognizerResult) []RecognizerResult {
	type key struct {
		entityType string
		start, end int
	}
	index := make(map[key]int, len(results))
	deduped := make([]RecognizerResult, 0, len(results))
	for _, r := range results {
		k := key{r.EntityType, r.Start, r.End}
		if i, ok := index[k]; ok {
			if r.Score > deduped[i].Score {
				deduped[i] = r
			}
			continue
		}
		index[k] = len(deduped)
		deduped = append(deduped, r)
	}
	sortResults(deduped)
	return deduped
}

// mergeAdjacent joins same-type PERSON/LOCATION results that are separated
// only by spaces. Input must be sorted.
func mergeAdjacent(text string, results []RecognizerResult) []RecognizerResult {
	if len(results) < 2 {
		return results
	}
	merged := make([]RecognizerResult, 0, len(results))
	for _, r := range results {
		if n := len(merged); n > 0 {
			prev := &merged[n-1]
			if prev.EntityType == r.EntityType && mergeableEntities[r.EntityType] &&
				prev.End <= r.Start && strings.TrimLeft(text[prev.End:r.Start], " ") == "" {
				prev.End = r.End
				if r.Score > prev.Score {
					prev.Score = r.Score
				}
				continue
			}
		}
		merged = append(merged, r)
	}
	sortResults(merged)
	return merged
}

func sortResults(results []RecognizerResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Start != results[j].Start {
			return results[i].Start < results[j].Start
		}
		return results[i].End > results[j].End
	})
}

// lockedDetector serializes calls into a detector that keeps per-call state.
type lockedDetector struct {
	mu sync.Mutex
	detectors.Detector
}

func (l *lockedDetector) Detect(ctx context.Context, input detectors.DetectorInput) (detectors.DetectorOutput, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Detector.Detect(ctx, input)
}

func (l *lockedDetector) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Detector.Close()
}
