package detectors

import (
	"context"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newPatternDetector builds a detector from a label -> pattern map with
// every match scored 1.0.
func newPatternDetector(patterns map[string]string) *RegexDetector {
	labels := make([]string, 0, len(patterns))
	for label := range patterns {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	recognizers := make([]PatternRecognizer, 0, len(labels))
	for _, label := range labels {
		recognizers = append(recognizers, PatternRecognizer{
			Name:    strings.ToLower(label),
			Label:   label,
			Pattern: patterns[label],
			Score:   1.0,
		})
	}
	return NewRegexDetector(recognizers)
}

func entitiesWithLabel(entities []Entity, label string) []Entity {
	var out []Entity
	for _, e := range entities {
		if e.Label == label {
			out = append(out, e)
		}
	}
	return out
}

func TestRegexDetector_GetName(t *testing.T) {
	detector := newPatternDetector(map[string]string{
		EntityUSSSN: `\b\d{3}-\d{2}-\d{4}\b`,
	})
	assert.Equal(t, "regex_detector", detector.GetName())
	assert.True(t, IsConcurrencySafe(detector))
}

func TestRegexDetector_Detect_NoMatches(t *testing.T) {
	detector := newPatternDetector(map[string]string{
		EntityUSSSN: `\b\d{3}-\d{2}-\d{4}\b`,
	})
	input := DetectorInput{Text: "This text has no SSN numbers."}

	output, err := detector.Detect(context.Background(), input)
	require.NoError(t, err)

	assert.NotNil(t, output.Entities)
	assert.Empty(t, output.Entities)
	assert.Equal(t, input.Text, output.Text)
}

func TestRegexDetector_Detect_WithMatches(t *testing.T) {
	detector := newPatternDetector(map[string]string{
		EntityUSSSN: `\b\d{3}-\d{2}-\d{4}\b`,
	})
	input := DetectorInput{Text: "My SSN is 123-45-6789 and another is 987-65-4321."}

	output, err := detector.Detect(context.Background(), input)
	require.NoError(t, err)
	require.Len(t, output.Entities, 2)

	first := output.Entities[0]
	assert.Equal(t, "123-45-6789", first.Text)
	assert.Equal(t, EntityUSSSN, first.Label)
	assert.Equal(t, 10, first.StartPos)
	assert.Equal(t, 21, first.EndPos)
	assert.Equal(t, 1.0, first.Confidence)

	second := output.Entities[1]
	assert.Equal(t, "987-65-4321", second.Text)
	assert.Equal(t, 37, second.StartPos)
	assert.Equal(t, 48, second.EndPos)
}

func TestRegexDetector_Detect_Email(t *testing.T) {
	detector := NewRegexDetector(DefaultPatternRecognizers())
	input := DetectorInput{Text: "Contact me at john.doe@example.com or jane@test.org"}

	output, err := detector.Detect(context.Background(), input)
	require.NoError(t, err)

	emails := entitiesWithLabel(output.Entities, EntityEmailAddress)
	require.Len(t, emails, 2)
	assert.Equal(t, "john.doe@example.com", emails[0].Text)
	assert.Equal(t, "jane@test.org", emails[1].Text)
	assert.Equal(t, 1.0, emails[0].Confidence)
}

func TestRegexDetector_Detect_PhoneNumbers(t *testing.T) {
	detector := NewRegexDetector(DefaultPatternRecognizers())
	text := "Call me at 555-123-4567 or (123) 456-7890."

	output, err := detector.Detect(context.Background(), DetectorInput{Text: text})
	require.NoError(t, err)

	phones := entitiesWithLabel(output.Entities, EntityPhoneNumber)
	require.Len(t, phones, 2)
	assert.Equal(t, "555-123-4567", phones[0].Text)
	assert.Equal(t, "(123) 456-7890", phones[1].Text)
	for _, p := range phones {
		assert.Equal(t, text[p.StartPos:p.EndPos], p.Text)
	}
}

func TestRegexDetector_Detect_ContextBoost(t *testing.T) {
	detector := NewRegexDetector(DefaultPatternRecognizers())

	plain, err := detector.Detect(context.Background(), DetectorInput{Text: "Reach 555-123-4567 today"})
	require.NoError(t, err)
	boosted, err := detector.Detect(context.Background(), DetectorInput{Text: "My phone is 555-123-4567"})
	require.NoError(t, err)

	plainPhones := entitiesWithLabel(plain.Entities, EntityPhoneNumber)
	boostedPhones := entitiesWithLabel(boosted.Entities, EntityPhoneNumber)
	require.Len(t, plainPhones, 1)
	require.Len(t, boostedPhones, 1)
	assert.InDelta(t, 0.75, plainPhones[0].Confidence, 1e-9)
	assert.InDelta(t, 1.0, boostedPhones[0].Confidence, 1e-9)
}

func TestRegexDetector_Detect_CreditCardLuhn(t *testing.T) {
	detector := NewRegexDetector(DefaultPatternRecognizers())

	valid, err := detector.Detect(context.Background(), DetectorInput{Text: "Card: 4111 1111 1111 1111"})
	require.NoError(t, err)
	cards := entitiesWithLabel(valid.Entities, EntityCreditCard)
	require.Len(t, cards, 1)
	assert.Equal(t, "4111 1111 1111 1111", cards[0].Text)

	invalid, err := detector.Detect(context.Background(), DetectorInput{Text: "Card: 4111 1111 1111 1112"})
	require.NoError(t, err)
	assert.Empty(t, entitiesWithLabel(invalid.Entities, EntityCreditCard))
}

func TestRegexDetector_Detect_SSNValidation(t *testing.T) {
	detector := NewRegexDetector(DefaultPatternRecognizers())

	output, err := detector.Detect(context.Background(), DetectorInput{Text: "SSN: 078-05-1120, not 000-12-3456"})
	require.NoError(t, err)

	ssns := entitiesWithLabel(output.Entities, EntityUSSSN)
	require.Len(t, ssns, 1)
	assert.Equal(t, "078-05-1120", ssns[0].Text)
	assert.InDelta(t, 0.85, ssns[0].Confidence, 1e-9)
}

func TestRegexDetector_Detect_IPAddress(t *testing.T) {
	detector := NewRegexDetector(DefaultPatternRecognizers())

	output, err := detector.Detect(context.Background(), DetectorInput{Text: "Server at 192.168.1.1 and 2001:db8::1"})
	require.NoError(t, err)

	ips := entitiesWithLabel(output.Entities, EntityIPAddress)
	require.Len(t, ips, 2)
	assert.Equal(t, "192.168.1.1", ips[0].Text)
	assert.Equal(t, "2001:db8::1", ips[1].Text)
}

func TestRegexDetector_Detect_SortedByStart(t *testing.T) {
	detector := NewRegexDetector(DefaultPatternRecognizers())

	output, err := detector.Detect(context.Background(), DetectorInput{
		Text: "Mail bob@example.com, call 555-123-4567, born 2024-01-15",
	})
	require.NoError(t, err)
	require.NotEmpty(t, output.Entities)

	for i := 1; i < len(output.Entities); i++ {
		assert.LessOrEqual(t, output.Entities[i-1].StartPos, output.Entities[i].StartPos)
	}
}

func TestRegexDetector_Detect_CancelledContext(t *testing.T) {
	detector := NewRegexDetector(DefaultPatternRecognizers())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := detector.Detect(ctx, DetectorInput{Text: "john@example.com"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestValidators(t *testing.T) {
	assert.True(t, luhnValid("4111-1111-1111-1111"))
	assert.False(t, luhnValid("4111-1111-1111-1112"))
	assert.False(t, luhnValid("1234"))

	assert.True(t, validSSN("078-05-1120"))
	assert.False(t, validSSN("666-12-3456"))
	assert.False(t, validSSN("123-00-4567"))
	assert.False(t, validSSN("123-45-0000"))
	assert.False(t, validSSN("111-11-1111"))
	assert.False(t, validSSN("123-45.6789"))

	assert.True(t, validNHS("943 476 5919"))
	assert.False(t, validNHS("943 476 5918"))

	assert.True(t, validIP("10.0.0.1"))
	assert.True(t, validIPv6("fe80::1"))
	assert.False(t, validIPv6("12:34"))

	assert.True(t, validEmail("a.b@example.co.uk"))
	assert.False(t, validEmail("a..b@example.com"))
	assert.False(t, validEmail("a@-example.com"))
}
