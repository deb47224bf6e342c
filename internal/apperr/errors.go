// Package apperr defines the error taxonomy shared by the lifecycle engine,
// the fan-out dispatcher and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Typed errors below match them via errors.Is.
var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("not found")
	ErrAlreadyTransitioned = errors.New("already transitioned")
	ErrConflict            = errors.New("conflict")
	ErrTransitionFailed    = errors.New("transition failed")
	ErrPartialSuccess      = errors.New("partial success")
	ErrDanglingReference   = errors.New("dangling reference")
)

// ValidationError reports malformed or missing input. Never retried.
type ValidationError struct {
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error        { return e.Err }
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Validation wraps err (typically an ozzo-validation error map) as a ValidationError.
func Validation(message string, err error) *ValidationError {
	return &ValidationError{Message: message, Err: err}
}

// NotFoundError reports an absent entity.
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.Key)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// AlreadyTransitionedError reports that a racing caller moved the entity out of
// the expected source state first. It also matches ErrNotFound: from the
// loser's point of view the item it saw no longer exists in that state.
type AlreadyTransitionedError struct {
	Resource string
	Key      string
	Status   string
}

func (e *AlreadyTransitionedError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("%s %q already transitioned (status %s)", e.Resource, e.Key, e.Status)
	}
	return fmt.Sprintf("%s %q already transitioned", e.Resource, e.Key)
}

func (e *AlreadyTransitionedError) Is(target error) bool {
	return target == ErrAlreadyTransitioned || target == ErrNotFound
}

// ConflictError reports a uniqueness violation, e.g. a reused fileName.
type ConflictError struct {
	Resource string
	Key      string
	Message  string
}

func (e *ConflictError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s %q already exists", e.Resource, e.Key)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// TransitionFailedError reports that the primary document write did not land.
// Nothing else was attempted.
type TransitionFailedError struct {
	Action string
	Err    error
}

func (e *TransitionFailedError) Error() string {
	return fmt.Sprintf("%s: transition failed: %v", e.Action, e.Err)
}

func (e *TransitionFailedError) Unwrap() error        { return e.Err }
func (e *TransitionFailedError) Is(target error) bool { return target == ErrTransitionFailed }

// StepFailure describes one side-effect step that did not complete.
type StepFailure struct {
	Step      string `json:"step"`
	Recipient string `json:"recipient,omitempty"`
	Err       error  `json:"-"`
}

func (f StepFailure) String() string {
	if f.Recipient != "" {
		return fmt.Sprintf("%s[%s]: %v", f.Step, f.Recipient, f.Err)
	}
	return fmt.Sprintf("%s: %v", f.Step, f.Err)
}

// PartialSuccessError reports that the primary write committed but at least one
// dependent side effect did not. Operators reconcile the listed steps manually.
type PartialSuccessError struct {
	Action     string
	Incomplete []StepFailure
}

func (e *PartialSuccessError) Error() string {
	parts := make([]string, 0, len(e.Incomplete))
	for _, f := range e.Incomplete {
		parts = append(parts, f.String())
	}
	return fmt.Sprintf("%s: partial success, incomplete steps: %s", e.Action, strings.Join(parts, "; "))
}

func (e *PartialSuccessError) Is(target error) bool { return target == ErrPartialSuccess }

// DanglingReferenceFault reports a membership or favorite reference to an
// entity that does not exist. Never fatal; callers skip and log it.
type DanglingReferenceFault struct {
	Kind string `json:"kind"`
	From string `json:"from"`
	To   string `json:"to"`
}

func (e *DanglingReferenceFault) Error() string {
	return fmt.Sprintf("dangling %s reference from %s to %s", e.Kind, e.From, e.To)
}

func (e *DanglingReferenceFault) Is(target error) bool { return target == ErrDanglingReference }
