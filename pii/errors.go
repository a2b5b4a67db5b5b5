package pii

import (
	"context"
	"errors"
	"fmt"

	"github.com/secura/anonymizer/pii/detectors"
)

// ErrorKind classifies why an anonymization call failed.
type ErrorKind int

const (
	KindRecognitionFailed ErrorKind = iota
	KindRecognitionUnavailable
	KindInvalidInput
)

func (k ErrorKind) String() string {
	switch k {
	case KindRecognitionUnavailable:
		return "recognition_unavailable"
	case KindInvalidInput:
		return "invalid_input"
	default:
		return "recognition_failed"
	}
}

var (
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrTextTooLong         = errors.New("text exceeds maximum length")
	ErrInvalidUTF8         = errors.New("text is not valid UTF-8")
)

// AnonymizationError is returned by AnonymizationService for every failure.
type AnonymizationError struct {
	Kind ErrorKind
	Err  error
}

func (e *AnonymizationError) Error() string {
	return e.Err.Error()
}

func (e *AnonymizationError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the same request may succeed later. Only an
// unavailable recognizer is transient.
func (e *AnonymizationError) Retryable() bool {
	return e.Kind == KindRecognitionUnavailable
}

// KindOf returns the kind of an AnonymizationError anywhere in err's chain.
// Errors of any other type are classified as recognition failures.
func KindOf(err error) ErrorKind {
	var ae *AnonymizationError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return classify(err)
}

// IsRetryable is a shorthand for KindOf(err) == KindRecognitionUnavailable.
func IsRetryable(err error) bool {
	return err != nil && KindOf(err) == KindRecognitionUnavailable
}

func classify(err error) ErrorKind {
	switch {
	case errors.Is(err, detectors.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return KindRecognitionUnavailable
	case errors.Is(err, ErrUnsupportedLanguage),
		errors.Is(err, ErrTextTooLong),
		errors.Is(err, ErrInvalidUTF8):
		return KindInvalidInput
	default:
		return KindRecognitionFailed
	}
}

// wrapError tags err with its kind unless it already carries one.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	var ae *AnonymizationError
	if errors.As(err, &ae) {
		return err
	}
	return &AnonymizationError{Kind: classify(err), Err: err}
}

func invalidInput(format string, args ...any) error {
	return &AnonymizationError{Kind: KindInvalidInput, Err: fmt.Errorf(format, args...)}
}
