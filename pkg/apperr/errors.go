// Package apperr holds the error kinds shared by the store, registry, renderer and HTTP layer.
package apperr

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Sentinels matched through errors.Is by the typed errors below.
var (
	ErrValidation  = errors.New("validation failed")
	ErrNotFound    = errors.New("not found")
	ErrPersistence = errors.New("persistence failure")
	ErrRender      = errors.New("render failure")
	ErrSchema      = errors.New("schema error")
	ErrForbidden   = errors.New("forbidden")
)

// Violation reasons
const (
	ReasonMissing    = "missing"
	ReasonNotAllowed = "not_allowed"
	ReasonInvalid    = "invalid"
	ReasonOutOfRange = "out_of_range"
)

// Violation describes one field that failed validation.
type Violation struct {
	Section string `json:"section,omitempty"`
	Field   string `json:"field"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// ValidationError is returned for user-correctable input problems.
type ValidationError struct {
	Violations []Violation
}

// NewValidation builds a ValidationError from violations.
func NewValidation(v ...Violation) *ValidationError {
	return &ValidationError{Violations: v}
}

// Missing is a shortcut for a single required-field violation.
func Missing(section string, fields ...string) *ValidationError {
	e := &ValidationError{}
	for _, f := range fields {
		e.Violations = append(e.Violations, Violation{
			Section: section,
			Field:   f,
			Reason:  ReasonMissing,
			Message: f + " is required",
		})
	}
	return e
}

// Fields lists the offending field names in order.
func (e *ValidationError) Fields() []string {
	out := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		out = append(out, v.Field)
	}
	return out
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Fields(), ", ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFoundError reports an unknown project, section or user.
type NotFoundError struct {
	Kind string
	Key  string
}

func NotFound(kind, key string) *NotFoundError {
	return &NotFoundError{Kind: kind, Key: key}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Key)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// PersistenceError wraps a storage failure. Its message is for logs only.
type PersistenceError struct {
	Op  string
	Err error
}

// Persistence wraps err, keeping nil as nil.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// StageFailure records why one render stage did not produce a document.
type StageFailure struct {
	Stage string
	Err   error
}

// RenderError is raised once every render stage has failed, or the project is unknown.
type RenderError struct {
	ProjectNo string
	Failures  []StageFailure
	Err       error
}

func (e *RenderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("render %s: %v", e.ProjectNo, e.Err)
	}
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Stage, f.Err))
	}
	return fmt.Sprintf("render %s: all stages failed (%s)", e.ProjectNo, strings.Join(parts, "; "))
}

func (e *RenderError) Unwrap() error { return e.Err }

func (e *RenderError) Is(target error) bool { return target == ErrRender }

// SchemaError is a configuration problem: unknown variant or malformed declaration.
type SchemaError struct {
	Variant string
	Reason  string
}

func (e *SchemaError) Error() string {
	if e.Variant == "" {
		return "schema: " + e.Reason
	}
	return fmt.Sprintf("schema %q: %s", e.Variant, e.Reason)
}

func (e *SchemaError) Is(target error) bool { return target == ErrSchema }

// ForbiddenError is returned when a caller's role does not allow an action.
type ForbiddenError struct {
	Action string
}

func (e *ForbiddenError) Error() string { return "forbidden: " + e.Action }

func (e *ForbiddenError) Is(target error) bool { return target == ErrForbidden }
