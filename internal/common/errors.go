package common

import (
	"errors"
	"fmt"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Pipeline error taxonomy. Errors surfaced by the core wrap exactly one of
// these sentinels so callers can branch with errors.Is.
var (
	// ErrProcessing means the raw image bytes were unreadable; the upload is
	// rejected and no document row exists.
	ErrProcessing = errors.New("image processing failed")
	// ErrExtraction means OCR failed; classification proceeds without text.
	ErrExtraction = errors.New("text extraction failed")
	// ErrClassification means an inference call failed or returned
	// unparseable output; recovered per-stage by escalation.
	ErrClassification = errors.New("classification failed")
	// ErrPersistence is an opaque storage failure, propagated to the caller.
	ErrPersistence = errors.New("persistence failed")

	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// ProcessingError wraps err as an ErrProcessing failure.
func ProcessingError(message string, err error) error {
	if err == nil {
		return fmt.Errorf("%s: %w", message, ErrProcessing)
	}
	return fmt.Errorf("%s: %w: %w", message, ErrProcessing, err)
}

// ExtractionError wraps err as an ErrExtraction failure.
func ExtractionError(message string, err error) error {
	if err == nil {
		return fmt.Errorf("%s: %w", message, ErrExtraction)
	}
	return fmt.Errorf("%s: %w: %w", message, ErrExtraction, err)
}

// ClassificationError wraps err as an ErrClassification failure.
func ClassificationError(message string, err error) error {
	if err == nil {
		return fmt.Errorf("%s: %w", message, ErrClassification)
	}
	return fmt.Errorf("%s: %w: %w", message, ErrClassification, err)
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
