package core

import (
	"errors"
	"fmt"
)

// Sentinel categories. Every typed error below matches exactly one of these
// through errors.Is.
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("resource not found")
	ErrConflict   = errors.New("conflicting write")
	ErrUpstream   = errors.New("upstream failure")
)

// ValidationError reports caller-supplied data that violates an invariant.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Reason
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NewValidationError is shorthand for &ValidationError{...}.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFoundError reports a missing entity, or one owned by someone else.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NewNotFoundError is shorthand for &NotFoundError{...}.
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

// ConflictError reports a write that lost a race at the storage layer.
// Callers should re-fetch and retry once.
type ConflictError struct {
	Entity string
	ID     string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s %q: %s", e.Entity, e.ID, e.Reason)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// UpstreamError wraps a failure of the storage or notification collaborator.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }

// Upstream wraps err as an UpstreamError unless it already carries one of the
// taxonomy categories, in which case it is returned unchanged.
func Upstream(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict) || errors.Is(err, ErrUpstream) {
		return err
	}
	return &UpstreamError{Op: op, Err: err}
}
