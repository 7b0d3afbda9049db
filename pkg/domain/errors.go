package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Error categories. Every error returned by the store matches at most one of
// these through errors.Is; raw I/O errors match none and are propagated as-is.
var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrDuplicate  = errors.New("already exists")
	ErrCrypto     = errors.New("crypto failure")
)

// ErrProjectNotFound is returned when a directory holds no project
// configuration file.
var ErrProjectNotFound = NotFoundError{Entity: EntityProject}

// NotFoundError reports a missing record.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Entity)
	}
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// Unwrap exposes the ErrNotFound category.
func (e NotFoundError) Unwrap() error { return ErrNotFound }

// DuplicateError reports an insert whose identity already exists.
type DuplicateError struct {
	Entity EntityType
	ID     string
}

func (e DuplicateError) Error() string {
	return fmt.Sprintf("%s %s already exists", e.Entity, e.ID)
}

// Unwrap exposes the ErrDuplicate category.
func (e DuplicateError) Unwrap() error { return ErrDuplicate }

// ValidationError lists the required fields missing from an input record.
type ValidationError struct {
	Entity EntityType
	Fields []string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: missing required fields: %s", e.Entity, strings.Join(e.Fields, ", "))
}

// Unwrap exposes the ErrValidation category.
func (e ValidationError) Unwrap() error { return ErrValidation }
