package common

import (
	"errors"
	"fmt"
	"strings"
)

var (

	// schema errors
	ErrValidation = errors.New("validation error")

	// repository specific errors
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrStorage      = errors.New("storage error")

	// sync transport errors, retried by the sync engine
	ErrNetwork = errors.New("network error")
	ErrTimeout = errors.New("request timed out")
	ErrOffline = errors.New("offline")

	// signalled internally by the sync engine, never returned to UI callers
	ErrConflict = errors.New("conflict")

	// backup errors
	ErrIntegrity = errors.New("backup integrity check failed")
)

// FieldError describes a single failed constraint.
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

func (e FieldError) String() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError is returned when an entity violates its schema.
// It matches ErrValidation with errors.Is.
type ValidationError struct {
	Type   string
	Fields []FieldError
}

func NewValidationError(entityType string, fields []FieldError) *ValidationError {
	return &ValidationError{Type: entityType, Fields: fields}
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.String())
	}
	return fmt.Sprintf("invalid %s: %s", e.Type, strings.Join(parts, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// StorageError wraps an underlying storage failure with the operation name.
// It matches ErrStorage with errors.Is and unwraps to the driver error.
type StorageError struct {
	Op  string
	Err error
}

func NewStorageError(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}
