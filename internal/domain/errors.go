package domain

import (
	"context"
	"errors"
	"fmt"
)

// Domain errors.
var (
	ErrValidation      = errors.New("validation failed")
	ErrEmbedding       = errors.New("embedding failed")
	ErrGeneration      = errors.New("generation failed")
	ErrStorage         = errors.New("storage failure")
	ErrEncoding        = errors.New("invalid character encoding")
	ErrIngestion       = errors.New("ingestion failed")
	ErrConnUnavailable = errors.New("no connection available")
	ErrClosed          = errors.New("store is closed")
)

// Invalidf returns an error wrapping ErrValidation.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// StorageError wraps a vector store failure with the operation that caused it.
type StorageError struct {
	Op        string
	Err       error
	Encoding  bool
	Transient bool
}

func (e *StorageError) Error() string {
	if e.Encoding {
		return fmt.Sprintf("storage %s: encoding: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

// Unwrap exposes ErrStorage, the cause and, for encoding failures, ErrEncoding.
func (e *StorageError) Unwrap() []error {
	errs := []error{ErrStorage, e.Err}
	if e.Encoding {
		errs = append(errs, ErrEncoding)
	}
	return errs
}

// IngestionError is returned when a run finishes without a single successful file.
type IngestionError struct {
	Attempted int
	Skipped   int
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("%v: no files were successfully processed (%d attempted, %d skipped)",
		ErrIngestion, e.Attempted, e.Skipped)
}

func (e *IngestionError) Unwrap() error { return ErrIngestion }

type retryableError struct{ error }

func (e retryableError) Unwrap() error { return e.error }

// Retryable marks err as a failure that may succeed when repeated, such as a
// rate limit or a server-side error of a remote provider.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return retryableError{err}
}

// IsTransient reports whether err is worth retrying: deadlines, errors marked
// with Retryable and transient storage errors.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, ErrValidation) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, new(retryableError)) {
		return true
	}
	var se *StorageError
	if errors.As(err, &se) {
		return se.Transient
	}
	return false
}
