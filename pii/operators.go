package pii

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	OperatorReplace = "replace"
	OperatorMask    = "mask"
	OperatorRedact  = "redact"
	OperatorHash    = "hash"
	OperatorFake    = "fake"
)

// OperatorNames lists the accepted ANONYMIZE_OPERATOR values.
var OperatorNames = []string{OperatorReplace, OperatorMask, OperatorRedact, OperatorHash, OperatorFake}

// Operator computes the substitution for one detected span.
type Operator interface {
	Name() string
	Apply(entityType, original string) string
}

// NewOperator returns the named operator. generator is only used by "fake"
// and may be nil, in which case a time-seeded one is created.
func NewOperator(name string, generator *GeneratorService) (Operator, error) {
	switch strings.ToLower(name) {
	case "", OperatorReplace:
		return replaceOperator{}, nil
	case OperatorMask:
		return maskOperator{}, nil
	case OperatorRedact:
		return redactOperator{}, nil
	case OperatorHash:
		return hashOperator{}, nil
	case OperatorFake:
		if generator == nil {
			generator = NewGeneratorService()
		}
		return fakeOperator{generator: generator}, nil
	}
	return nil, fmt.Errorf("unknown anonymize operator %q, expected one of %v", name, OperatorNames)
}

type replaceOperator struct{}

func (replaceOperator) Name() string { return OperatorReplace }

func (replaceOperator) Apply(entityType, _ string) string {
	return "<" + entityType + ">"
}

type maskOperator struct{}

func (maskOperator) Name() string { return OperatorMask }

func (maskOperator) Apply(_, original string) string {
	return strings.Repeat("*", utf8.RuneCountInString(original))
}

type redactOperator struct{}

func (redactOperator) Name() string { return OperatorRedact }

func (redactOperator) Apply(string, string) string { return "" }

type hashOperator struct{}

func (hashOperator) Name() string { return OperatorHash }

func (hashOperator) Apply(_, original string) string {
	sum := sha256.Sum256([]byte(original))
	return hex.EncodeToString(sum[:])
}

type fakeOperator struct {
	generator *GeneratorService
}

func (fakeOperator) Name() string { return OperatorFake }

func (f fakeOperator) Apply(entityType, original string) string {
	return f.generator.GenerateReplacement(entityType, original)
}
