package pii

import (
	"context"
	"fmt"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/secura/anonymizer/pii/detectors"
)

const (
	DefaultLanguage       = "en"
	DefaultScoreThreshold = 0.5
)

// Entity is one detected span. Offsets are character (code point) indices
// into the original text, half-open.
type Entity struct {
	Type        string `json:"type"`
	Text        string `json:"text"`
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
}

// Result is the outcome of Anonymize. Entities are ordered by StartOffset.
type Result struct {
	AnonymizedText string   `json:"anonymized_text"`
	Entities       []Entity `json:"entities"`
}

// Analysis is one analyzer result with character offsets.
type Analysis struct {
	EntityType string  `json:"entity_type"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Score      float64 `json:"score"`
	Text       string  `json:"text"`
}

// AnonymizationService detects PII through an Analyzer and substitutes
// every detected span with the output of its Operator.
type AnonymizationService struct {
	analyzer       Analyzer
	operator       Operator
	language       string
	entities       []string
	scoreThreshold float64
	maxTextLength  int
	logger         *zap.Logger
	tracer         trace.Tracer
}

type ServiceOption func(*AnonymizationService)

func WithOperator(op Operator) ServiceOption {
	return func(s *AnonymizationService) {
		if op != nil {
			s.operator = op
		}
	}
}

func WithLanguage(language string) ServiceOption {
	return func(s *AnonymizationService) {
		if language != "" {
			s.language = language
		}
	}
}

// WithEntities replaces the default allow-list.
func WithEntities(entities []string) ServiceOption {
	return func(s *AnonymizationService) {
		if len(entities) > 0 {
			s.entities = entities
		}
	}
}

func WithScoreThreshold(threshold float64) ServiceOption {
	return func(s *AnonymizationService) {
		s.scoreThreshold = threshold
	}
}

// WithMaxTextLength limits input size in characters. Zero, the default,
// disables the check.
func WithMaxTextLength(n int) ServiceOption {
	return func(s *AnonymizationService) {
		s.maxTextLength = n
	}
}

func WithLogger(logger *zap.Logger) ServiceOption {
	return func(s *AnonymizationService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewAnonymizationService(analyzer Analyzer, opts ...ServiceOption) *AnonymizationService {
	s := &AnonymizationService{
		analyzer:       analyzer,
		operator:       replaceOperator{},
		language:       DefaultLanguage,
		entities:       detectors.DefaultEntities,
		scoreThreshold: DefaultScoreThreshold,
		logger:         zap.NewNop(),
		tracer:         otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("anonymizer")
	return s
}

// OperatorName returns the name of the configured operator.
func (s *AnonymizationService) OperatorName() string {
	return s.operator.Name()
}

// Anonymize detects PII in text and returns the substituted text together
// with the detected entities. Every error is an *AnonymizationError.
func (s *AnonymizationService) Anonymize(ctx context.Context, text string) (Result, error) {
	if text == "" {
		return Result{AnonymizedText: "", Entities: []Entity{}}, nil
	}

	ctx, span := s.tracer.Start(ctx, "AnonymizationService.Anonymize", trace.WithAttributes(
		attribute.Int("text.length", len(text)),
		attribute.String("operator", s.operator.Name()),
	))
	defer span.End()

	results, err := s.analyze(ctx, AnalyzeRequest{
		Text:           text,
		Language:       s.language,
		Entities:       s.entities,
		ScoreThreshold: s.scoreThreshold,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	kept := resolveOverlaps(results)
	if dropped := len(results) - len(kept); dropped > 0 {
		s.logger.Debug("dropped overlapping results", zap.Int("dropped", dropped))
	}

	cursor := newRuneCursor(text)
	entities := make([]Entity, 0, len(kept))
	for _, r := range kept {
		entities = append(entities, Entity{
			Type:        r.EntityType,
			Text:        text[r.Start:r.End],
			StartOffset: cursor.offset(r.Start),
			EndOffset:   cursor.offset(r.End),
		})
	}

	anonymized := text
	for i := len(kept) - 1; i >= 0; i-- {
		r := kept[i]
		anonymized = anonymized[:r.Start] + s.operator.Apply(r.EntityType, text[r.Start:r.End]) + anonymized[r.End:]
	}

	span.SetAttributes(attribute.Int("entities", len(entities)))
	s.logger.Debug("anonymized text",
		zap.Int("text_length", len(text)),
		zap.Int("entities", len(entities)),
		zap.Strings("entity_types", entityTypes(entities)),
	)

	return Result{AnonymizedText: anonymized, Entities: entities}, nil
}

// Analyze returns the raw analyzer results for text with character offsets.
// Empty entities and a negative threshold fall back to the service defaults.
// Overlapping results are not resolved.
func (s *AnonymizationService) Analyze(ctx context.Context, text string, entities []string, threshold float64) ([]Analysis, error) {
	if text == "" {
		return []Analysis{}, nil
	}
	if len(entities) == 0 {
		entities = s.entities
	}
	if threshold < 0 {
		threshold = s.scoreThreshold
	}

	results, err := s.analyze(ctx, AnalyzeRequest{
		Text:           text,
		Language:       s.language,
		Entities:       entities,
		ScoreThreshold: threshold,
	})
	if err != nil {
		return nil, err
	}

	cursor := newRuneCursor(text)
	analyses := make([]Analysis, 0, len(results))
	for _, r := range results {
		analyses = append(analyses, Analysis{
			EntityType: r.EntityType,
			Start:      cursor.offset(r.Start),
			End:        cursor.offset(r.End),
			Score:      r.Score,
			Text:       text[r.Start:r.End],
		})
	}
	return analyses, nil
}

// analyze validates the input, calls the analyzer and checks that every
// returned span lies inside the text. Results are sorted by start.
func (s *AnonymizationService) analyze(ctx context.Context, req AnalyzeRequest) ([]RecognizerResult, error) {
	if !utf8.ValidString(req.Text) {
		return nil, &AnonymizationError{Kind: KindInvalidInput, Err: ErrInvalidUTF8}
	}
	if s.maxTextLength > 0 {
		if n := utf8.RuneCountInString(req.Text); n > s.maxTextLength {
			return nil, invalidInput("%w: %d characters, limit is %d", ErrTextTooLong, n, s.maxTextLength)
		}
	}
	if s.analyzer == nil {
		return nil, wrapError(fmt.Errorf("%w: no analyzer configured", detectors.ErrUnavailable))
	}

	results, err := s.analyzer.Analyze(ctx, req)
	if err != nil {
		s.logger.Warn("analysis failed", zap.Error(err))
		return nil, wrapError(err)
	}

	checked := make([]RecognizerResult, 0, len(results))
	for _, r := range results {
		if r.Start < 0 || r.End > len(req.Text) || r.Start >= r.End {
			return nil, wrapError(fmt.Errorf("analyzer returned span [%d:%d] outside text of length %d", r.Start, r.End, len(req.Text)))
		}
		r.Start, r.End = runeBounds(req.Text, r.Start, r.End)
		checked = append(checked, r)
	}
	sortResults(checked)
	return checked, nil
}

func entityTypes(entities []Entity) []string {
	types := make([]string, len(entities))
	for i, e := range entities {
		types[i] = e.Type
	}
	return types
}
