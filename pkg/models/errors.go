package models

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind is a stable error classification carried in error frames and logs.
type ErrorKind string

const (
	ErrAuth             ErrorKind = "AUTH_ERROR"
	ErrValidation       ErrorKind = "VALIDATION_ERROR"
	ErrPermissionDenied ErrorKind = "PERMISSION_DENIED"
	ErrNotFound         ErrorKind = "NOT_FOUND"
	ErrTimeout          ErrorKind = "TIMEOUT"
	ErrUpstream         ErrorKind = "UPSTREAM_ERROR"
	ErrCancelled        ErrorKind = "CANCELLED"
	ErrInternal         ErrorKind = "INTERNAL"
)

// KindError pairs an error kind with an underlying error so failures keep
// their classification as they cross component boundaries.
type KindError struct {
	Kind ErrorKind
	Err  error
}

func (e *KindError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *KindError) Unwrap() error { return e.Err }

// NewError creates a classified error.
func NewError(kind ErrorKind, err error) error {
	return &KindError{Kind: kind, Err: err}
}

// Errorf creates a classified error from a format string.
func Errorf(kind ErrorKind, format string, args ...any) error {
	return &KindError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the error kind from err, defaulting to INTERNAL.
// Context cancellation and deadline errors map to CANCELLED and TIMEOUT.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	if errors.Is(err, context.Canceled) {
		return ErrCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ErrInternal
}
