package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrGone               = errors.New("result expired")
	ErrNotReady           = errors.New("result not ready")
	ErrDuplicateKey       = errors.New("duplicate idempotency key")
	ErrOverloaded         = errors.New("generation queue is full")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrPayloadTooLarge    = errors.New("payload too large")
	ErrUnavailable        = errors.New("service unavailable")
)

// ValidationError carries a user-facing message describing why an upload was rejected.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError builds a ValidationError with a formatted message.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// RateLimitedError signals that the caller exhausted one of its windows.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// RetryAfterSeconds rounds the retry hint down to whole seconds, never below one.
func (e *RateLimitedError) RetryAfterSeconds() int {
	secs := int(e.RetryAfter / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
