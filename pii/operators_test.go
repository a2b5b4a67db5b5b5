package pii

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOperator(t *testing.T) {
	for _, name := range OperatorNames {
		op, err := NewOperator(name, nil)
		require.NoError(t, err, name)
		assert.Equal(t, name, op.Name())
	}

	op, err := NewOperator("", nil)
	require.NoError(t, err)
	assert.Equal(t, OperatorReplace, op.Name())

	_, err = NewOperator("shred", nil)
	assert.Error(t, err)
}

func TestOperators_Apply(t *testing.T) {
	replace, _ := NewOperator(OperatorReplace, nil)
	mask, _ := NewOperator(OperatorMask, nil)
	redact, _ := NewOperator(OperatorRedact, nil)
	hash, _ := NewOperator(OperatorHash, nil)

	assert.Equal(t, "<PERSON>", replace.Apply("PERSON", "Zoë"))
	assert.Equal(t, "***", mask.Apply("PERSON", "Zoë"))
	assert.Equal(t, "", redact.Apply("PERSON", "Zoë"))
	assert.Equal(t,
		"a665a45920422f9d417e4867efdc4fb8a04a1f3fff1fa07e998e86f7f7a27ae3",
		hash.Apply("US_SSN", "123"))
}

func TestGeneratorService_Deterministic(t *testing.T) {
	a := NewGeneratorServiceWithSeed(5)
	b := NewGeneratorServiceWithSeed(5)

	for _, entityType := range []string{"PERSON", "EMAIL_ADDRESS", "B-CITY", "UNKNOWN"} {
		assert.Equal(t, a.GenerateReplacement(entityType, "Foo Bar"), b.GenerateReplacement(entityType, "Foo Bar"))
	}
	assert.Regexp(t, `^[A-Z][a-z] [A-Z][a-z]{2}$`, NewGeneratorServiceWithSeed(1).GenerateReplacement("UNKNOWN", "Ab Cde"))
}

func TestResolveOverlaps(t *testing.T) {
	tests := []struct {
		name    string
		results []RecognizerResult
		want    []RecognizerResult
	}{
		{
			name: "disjoint spans kept in order",
			results: []RecognizerResult{
				{EntityType: "B", Start: 10, End: 12, Score: 0.5},
				{EntityType: "A", Start: 0, End: 5, Score: 0.5},
			},
			want: []RecognizerResult{
				{EntityType: "A", Start: 0, End: 5, Score: 0.5},
				{EntityType: "B", Start: 10, End: 12, Score: 0.5},
			},
		},
		{
			name: "higher score wins",
			results: []RecognizerResult{
				{EntityType: "A", Start: 0, End: 10, Score: 0.6},
				{EntityType: "B", Start: 5, End: 8, Score: 0.9},
			},
			want: []RecognizerResult{{EntityType: "B", Start: 5, End: 8, Score: 0.9}},
		},
		{
			name: "tie goes to longer span",
			results: []RecognizerResult{
				{EntityType: "A", Start: 0, End: 4, Score: 0.8},
				{EntityType: "B", Start: 2, End: 10, Score: 0.8},
			},
			want: []RecognizerResult{{EntityType: "B", Start: 2, End: 10, Score: 0.8}},
		},
		{
			name: "then earlier span",
			results: []RecognizerResult{
				{EntityType: "B", Start: 3, End: 7, Score: 0.8},
				{EntityType: "A", Start: 0, End: 4, Score: 0.8},
			},
			want: []RecognizerResult{{EntityType: "A", Start: 0, End: 4, Score: 0.8}},
		},
		{
			name: "adjacent spans do not overlap",
			results: []RecognizerResult{
				{EntityType: "A", Start: 0, End: 4, Score: 0.8},
				{EntityType: "B", Start: 4, End: 8, Score: 0.9},
			},
			want: []RecognizerResult{
				{EntityType: "A", Start: 0, End: 4, Score: 0.8},
				{EntityType: "B", Start: 4, End: 8, Score: 0.9},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveOverlaps(tt.results))
		})
	}
}

func TestRuneCursor(t *testing.T) {
	text := "aé b€c"
	cursor := newRuneCursor(text)

	assert.Equal(t, 0, cursor.offset(0))
	assert.Equal(t, 2, cursor.offset(3))
	assert.Equal(t, 4, cursor.offset(5))
	assert.Equal(t, 6, cursor.offset(len(text)))
	// moving backwards restarts from the beginning
	assert.Equal(t, 1, cursor.offset(1))
}
