package pii

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secura/anonymizer/pii/detectors"
)

// fakeDetector returns fixed entities, or finds each word of words in the
// text and labels it with the word's label.
type fakeDetector struct {
	name     string
	safe     bool
	entities []detectors.Entity
	words    map[string]string
	err      error
	delay    time.Duration

	calls    atomic.Int32
	inFlight atomic.Int32
	overlap  atomic.Bool
	closed   atomic.Bool
}

func (f *fakeDetector) GetName() string {
	if f.name == "" {
		return "fake_detector"
	}
	return f.name
}

func (f *fakeDetector) SafeForConcurrentUse() bool { return f.safe }

func (f *fakeDetector) Detect(ctx context.Context, input detectors.DetectorInput) (detectors.DetectorOutput, error) {
	f.calls.Add(1)
	if f.inFlight.Add(1) > 1 {
		f.overlap.Store(true)
	}
	defer f.inFlight.Add(-1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	if f.err != nil {
		return detectors.DetectorOutput{}, f.err
	}
	entities := append([]detectors.Entity{}, f.entities...)
	for word, label := range f.words {
		offset := 0
		for {
			i := strings.Index(input.Text[offset:], word)
			if i < 0 {
				break
			}
			start := offset + i
			entities = append(entities, detectors.Entity{
				Text: word, Label: label, StartPos: start, EndPos: start + len(word), Confidence: 0.9,
			})
			offset = start + len(word)
		}
	}
	return detectors.DetectorOutput{Text: input.Text, Entities: entities}, nil
}

func (f *fakeDetector) Close() error {
	f.closed.Store(true)
	return nil
}

// nameDetector stands in for the token classification model.
func nameDetector() *fakeDetector {
	return &fakeDetector{
		name:  "names",
		safe:  true,
		words: map[string]string{"John": "B-FIRSTNAME", "Smith": "B-SURNAME"},
	}
}

// fakeAnalyzer returns fixed results.
type fakeAnalyzer struct {
	results []RecognizerResult
	err     error
	calls   atomic.Int32
	lastReq AnalyzeRequest
}

func (f *fakeAnalyzer) Analyze(_ context.Context, req AnalyzeRequest) ([]RecognizerResult, error) {
	f.calls.Add(1)
	f.lastReq = req
	return f.results, f.err
}

func TestAnalyzerEngine_CanonicalizesLabels(t *testing.T) {
	engine := NewAnalyzerEngine([]detectors.Detector{nameDetector()})

	results, err := engine.Analyze(context.Background(), AnalyzeRequest{Text: "Hello John", Language: "en"})
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, detectors.EntityPerson, results[0].EntityType)
	assert.Equal(t, 6, results[0].Start)
	assert.Equal(t, 10, results[0].End)
	assert.Equal(t, "names", results[0].Recognizer)
}

func TestAnalyzerEngine_MergesAdjacentNameParts(t *testing.T) {
	engine := NewAnalyzerEngine([]detectors.Detector{nameDetector()})
	text := "My name is John Smith."

	results, err := engine.Analyze(context.Background(), AnalyzeRequest{Text: text})
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, "John Smith", text[results[0].Start:results[0].End])
}

func TestAnalyzerEngine_DoesNotMergeAcrossWords(t *testing.T) {
	engine := NewAnalyzerEngine([]detectors.Detector{nameDetector()})
	text := "John met Smith"

	results, err := engine.Analyze(context.Background(), AnalyzeRequest{Text: text})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestAnalyzerEngine_AllowListAndThreshold(t *testing.T) {
	detector := &fakeDetector{safe: true, entities: []detectors.Entity{
		{Label: "EMAIL_ADDRESS", StartPos: 0, EndPos: 3, Confidence: 0.9},
		{Label: "PHONE_NUMBER", StartPos: 4, EndPos: 7, Confidence: 0.4},
		{Label: "PHONE_NUMBER", StartPos: 8, EndPos: 11, Confidence: 0.5},
		{Label: "USERNAME", StartPos: 12, EndPos: 15, Confidence: 1.0},
	}}
	engine := NewAnalyzerEngine([]detectors.Detector{detector})

	results, err := engine.Analyze(context.Background(), AnalyzeRequest{
		Text:           "aaa bbb ccc ddd",
		Entities:       []string{"EMAIL_ADDRESS", "PHONE_NUMBER"},
		ScoreThreshold: 0.5,
	})
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, "EMAIL_ADDRESS", results[0].EntityType)
	assert.Equal(t, 8, results[1].Start, "a score equal to the threshold is kept")
}

func TestAnalyzerEngine_DedupesAcrossDetectors(t *testing.T) {
	low := &fakeDetector{name: "low", safe: true, entities: []detectors.Entity{
		{Label: "EMAIL_ADDRESS", StartPos: 0, EndPos: 5, Confidence: 0.6},
	}}
	high := &fakeDetector{name: "high", safe: true, entities: []detectors.Entity{
		{Label: "EMAIL", StartPos: 0, EndPos: 5, Confidence: 0.95},
	}}
	engine := NewAnalyzerEngine([]detectors.Detector{low, high})

	results, err := engine.Analyze(context.Background(), AnalyzeRequest{Text: "a@b.c"})
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, 0.95, results[0].Score)
	assert.Equal(t, "high", results[0].Recognizer)
}

func TestAnalyzerEngine_UnsupportedLanguage(t *testing.T) {
	engine := NewAnalyzerEngine([]detectors.Detector{nameDetector()})

	_, err := engine.Analyze(context.Background(), AnalyzeRequest{Text: "hola", Language: "es"})
	assert.ErrorIs(t, err, ErrUnsupportedLanguage)

	engine = NewAnalyzerEngine([]detectors.Detector{nameDetector()}, WithSupportedLanguages("en", "ES"))
	_, err = engine.Analyze(context.Background(), AnalyzeRequest{Text: "hola", Language: "es"})
	assert.NoError(t, err)
}

func TestAnalyzerEngine_DetectorErrors(t *testing.T) {
	down := &fakeDetector{safe: true, err: fmt.Errorf("%w: model not loaded", detectors.ErrUnavailable)}
	engine := NewAnalyzerEngine([]detectors.Detector{down})

	_, err := engine.Analyze(context.Background(), AnalyzeRequest{Text: "x"})
	assert.ErrorIs(t, err, detectors.ErrUnavailable)

	_, err = NewAnalyzerEngine(nil).Analyze(context.Background(), AnalyzeRequest{Text: "x"})
	assert.ErrorIs(t, err, detectors.ErrUnavailable)
}

func TestAnalyzerEngine_SpanOutsideText(t *testing.T) {
	bad := &fakeDetector{safe: true, entities: []detectors.Entity{
		{Label: "PERSON", StartPos: 2, EndPos: 40, Confidence: 0.9},
	}}
	engine := NewAnalyzerEngine([]detectors.Detector{bad})

	_, err := engine.Analyze(context.Background(), AnalyzeRequest{Text: "short"})
	require.Error(t, err)
	assert.Equal(t, KindRecognitionFailed, KindOf(err))
}

func TestAnalyzerEngine_SerializesUnsafeDetectors(t *testing.T) {
	unsafe := &fakeDetector{safe: false, delay: 2 * time.Millisecond}
	engine := NewAnalyzerEngine([]detectors.Detector{unsafe})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = engine.Analyze(context.Background(), AnalyzeRequest{Text: "text"})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), unsafe.calls.Load())
	assert.False(t, unsafe.overlap.Load(), "unsafe detector must never run concurrently")
}

func TestAnalyzerEngine_Close(t *testing.T) {
	safe := &fakeDetector{safe: true}
	unsafe := &fakeDetector{}
	engine := NewAnalyzerEngine([]detectors.Detector{safe, unsafe})

	require.NoError(t, engine.Close())
	assert.True(t, safe.closed.Load())
	assert.True(t, unsafe.closed.Load())
	assert.Equal(t, []string{"fake_detector", "fake_detector"}, engine.Detectors())
}

func TestRuneBounds(t *testing.T) {
	text := "héllo wörld"

	start, end := runeBounds(text, 2, 4)
	assert.Equal(t, 1, start)
	assert.Equal(t, 4, end)

	start, end = runeBounds(text, 8, 9)
	assert.Equal(t, 8, start)
	assert.Equal(t, 10, end)
	assert.Equal(t, "ö", text[start:end])
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindRecognitionUnavailable, KindOf(fmt.Errorf("x: %w", detectors.ErrUnavailable)))
	assert.Equal(t, KindInvalidInput, KindOf(ErrUnsupportedLanguage))
	assert.Equal(t, KindRecognitionFailed, KindOf(errors.New("boom")))

	wrapped := fmt.Errorf("outer: %w", &AnonymizationError{Kind: KindInvalidInput, Err: errors.New("bad")})
	assert.Equal(t, KindInvalidInput, KindOf(wrapped))
	assert.False(t, IsRetryable(wrapped))
	assert.True(t, IsRetryable(wrapError(detectors.ErrUnavailable)))
	assert.Equal(t, "recognition_unavailable", KindRecognitionUnavailable.String())
}
