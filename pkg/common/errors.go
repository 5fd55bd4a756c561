package common

import (
	"errors"
	"fmt"
)

// Error kinds used across the telemetry core. Handlers and the ingestion
// pipeline branch on these with errors.Is; the concrete types carry the
// human-readable detail.
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrTransport  = errors.New("transport error")
	ErrConflict   = errors.New("conflict")
)

type ValidationError struct {
	Detail string
	Cause  error
}

func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("validation error: %s: %v", e.Detail, e.Cause)
	}
	return fmt.Sprintf("validation error: %s", e.Detail)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func NewValidationError(detail string, cause error) *ValidationError {
	return &ValidationError{Detail: detail, Cause: cause}
}

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

type TransportError struct {
	Op    string
	Cause error
}

func (e *TransportError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transport error during %s: %v", e.Op, e.Cause)
	}
	return fmt.Sprintf("transport error during %s", e.Op)
}

func (e *TransportError) Unwrap() error { return ErrTransport }

func NewTransportError(op string, cause error) *TransportError {
	return &TransportError{Op: op, Cause: cause}
}

type ConflictError struct {
	Detail string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s", e.Detail)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

func NewConflictError(detail string) *ConflictError {
	return &ConflictError{Detail: detail}
}
