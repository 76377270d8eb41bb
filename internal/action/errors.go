package action

import (
	"errors"

	"github.com/roach88/actiongraph/internal/capture"
	"github.com/roach88/actiongraph/internal/schema"
	"github.com/roach88/actiongraph/internal/store"
)

// ErrUnknownKind is returned when an Input names an unregistered kind.
var ErrUnknownKind = errors.New("unknown action kind")

// ErrUnknownActor is returned when the actor id or slug resolves to no live
// Actor entity.
var ErrUnknownActor = errors.New("unknown actor")

// ValidationError is the schema collaborator's error type. Public ones are
// safe to show end users.
type ValidationError = schema.ValidationError

// IntegrityError is raised by the runner and the change-capture recorder.
type IntegrityError = capture.IntegrityError

// Conflict is implemented by errors that represent a refused reversal.
// The runner counts them by reason.
type Conflict interface {
	error
	ConflictReason() string
}

// IsValidationError returns true if err is a ValidationError.
func IsValidationError(err error) bool {
	return schema.IsValidationError(err)
}

// IsIntegrityError returns true if err is an IntegrityError.
func IsIntegrityError(err error) bool {
	return capture.IsIntegrityError(err)
}

func conflictReason(err error) (string, bool) {
	var c Conflict
	if errors.As(err, &c) {
		return c.ConflictReason(), true
	}
	return "", false
}

// Error codes reported by ErrorCode besides conflict reasons and integrity
// codes.
const (
	CodeValidation   = "VALIDATION_ERROR"
	CodeUnknownKind  = "UNKNOWN_KIND"
	CodeUnknownActor = "UNKNOWN_ACTOR"
	CodeInternal     = "INTERNAL_ERROR"
)

// CodeUnrecordedWrite reports a commit that changed the graph outside any
// Action while change capture was active.
const CodeUnrecordedWrite = "UNRECORDED_WRITE"

// ErrorCode classifies an error returned by Runner.Run: the conflict reason
// for refused reversals, the integrity code for integrity errors, and one of
// the Code constants otherwise.
func ErrorCode(err error) string {
	if reason, ok := conflictReason(err); ok {
		return reason
	}
	var ie *IntegrityError
	switch {
	case errors.As(err, &ie):
		return string(ie.Code)
	case IsValidationError(err):
		return CodeValidation
	case errors.Is(err, ErrUnknownKind):
		return CodeUnknownKind
	case errors.Is(err, ErrUnknownActor):
		return CodeUnknownActor
	case errors.Is(err, store.ErrUnrecordedWrite):
		return CodeUnrecordedWrite
	}
	return CodeInternal
}
