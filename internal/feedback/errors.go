package feedback

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinels for errors.Is checks at the transport boundary.
var (
	ErrValidation  = errors.New("validation failed")
	ErrAuth        = errors.New("unauthorized")
	ErrRateLimited = errors.New("rate limited")
	ErrStorage     = errors.New("storage failure")
	ErrFormat      = errors.New("invalid export format")
)

// FieldError describes one rejected field. Field is a JSON path such as
// "original.grams" or "adjustments[0].ingredient".
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports every problem found in a payload.
type ValidationError struct {
	Fields []FieldError
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		if f.Field == "" {
			parts = append(parts, f.Message)
			continue
		}
		parts = append(parts, f.Field+": "+f.Message)
	}
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(parts, "; "))
}

// Unwrap allows errors.Is(err, ErrValidation).
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// AuthError is returned when a credential is missing or unknown.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s", ErrAuth, e.Reason)
}

func (e *AuthError) Unwrap() error {
	return ErrAuth
}

// RateLimitError is returned when an endpoint class budget is exhausted.
type RateLimitError struct {
	Class      string
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: %d requests per window exceeded for %s", ErrRateLimited, e.Limit, e.Class)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// StorageError wraps a failed store operation. The transaction has been
// rolled back by the time callers see it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStorage, e.Op, e.Err)
}

// Unwrap exposes both the sentinel and the driver error.
func (e *StorageError) Unwrap() []error {
	return []error{ErrStorage, e.Err}
}

// NewStorageError wraps err, or returns nil when err is nil.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// FormatError is returned for an unrecognized export format.
type FormatError struct {
	Format string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%s %q (must be jsonl or csv)", ErrFormat, e.Format)
}

func (e *FormatError) Unwrap() error {
	return ErrFormat
}
