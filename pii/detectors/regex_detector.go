package detectors

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"unicode"
)

const (
	contextSimilarityFactor = 0.35
	minScoreWithContext     = 0.4
	contextPrefixWords      = 5
	contextLookbehindBytes  = 128
)

// PatternRecognizer describes one regular expression recognizer. Matches
// rejected by Validate are dropped; Context words found just before a match
// raise its score.
type PatternRecognizer struct {
	Name     string
	Label    string
	Pattern  string
	Score    float64
	Context  []string
	Validate func(match string) bool
}

type compiledRecognizer struct {
	PatternRecognizer
	re      *regexp.Regexp
	context map[string]struct{}
}

// RegexDetector implements Detector using regular expressions
type RegexDetector struct {
	recognizers []compiledRecognizer
}

func NewRegexDetector(recognizers []PatternRecognizer) *RegexDetector {
	compiled := make([]compiledRecognizer, 0, len(recognizers))
	for _, r := range recognizers {
		words := make(map[string]struct{}, len(r.Context))
		for _, w := range r.Context {
			words[strings.ToLower(w)] = struct{}{}
		}
		compiled = append(compiled, compiledRecognizer{
			PatternRecognizer: r,
			re:                regexp.MustCompile(r.Pattern),
			context:           words,
		})
	}

	return &RegexDetector{
		recognizers: compiled,
	}
}

// GetName returns the name of this detector
func (r *RegexDetector) GetName() string {
	return DetectorNameRegex
}

// SafeForConcurrentUse reports true: compiled regexps are safe to share.
func (r *RegexDetector) SafeForConcurrentUse() bool {
	return true
}

// Detect processes the input and returns detected entities
func (r *RegexDetector) Detect(ctx context.Context, input DetectorInput) (DetectorOutput, error) {
	entities := []Entity{}

	for _, recognizer := range r.recognizers {
		if err := ctx.Err(); err != nil {
			return DetectorOutput{}, err
		}

		for _, match := range recognizer.re.FindAllStringIndex(input.Text, -1) {
			startPos, endPos := match[0], match[1]
			if startPos == endPos {
				continue
			}
			matchedText := input.Text[startPos:endPos]
			if recognizer.Validate != nil && !recognizer.Validate(matchedText) {
				continue
			}

			entities = append(entities, Entity{
				Text:       matchedText,
				Label:      recognizer.Label,
				StartPos:   startPos,
				EndPos:     endPos,
				Confidence: recognizer.score(input.Text, startPos),
			})
		}
	}

	sort.SliceStable(entities, func(i, j int) bool {
		if entities[i].StartPos != entities[j].StartPos {
			return entities[i].StartPos < entities[j].StartPos
		}
		return entities[i].EndPos > entities[j].EndPos
	})

	return DetectorOutput{
		Text:     input.Text,
		Entities: entities,
	}, nil
}

// score applies the context boost when one of the recognizer's context words
// appears among the words preceding the match.
func (c compiledRecognizer) score(text string, start int) float64 {
	score := c.Score
	if len(c.context) == 0 || score >= 1.0 {
		return score
	}

	from := start - contextLookbehindBytes
	if from < 0 {
		from = 0
	}
	words := strings.FieldsFunc(strings.ToLower(text[from:start]), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
	if len(words) > contextPrefixWords {
		words = words[len(words)-contextPrefixWords:]
	}

	for _, w := range words {
		if _, ok := c.context[w]; ok {
			score += contextSimilarityFactor
			if score < minScoreWithContext {
				score = minScoreWithContext
			}
			if score > 1.0 {
				score = 1.0
			}
			return score
		}
	}
	return score
}

// Close implements the Detector interface
func (r *RegexDetector) Close() error {
	return nil
}
