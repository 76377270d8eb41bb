package undo

import (
	"errors"
	"fmt"
)

// ErrConflict matches every ConflictError via errors.Is.
var ErrConflict = errors.New("undo conflict")

// Reason categorizes undo conflicts.
type Reason string

const (
	// ReasonAlreadyUndone: the target was already reverted.
	ReasonAlreadyUndone Reason = "ALREADY_UNDONE"

	// ReasonPermanentDeletion: the target permanently deleted entities.
	ReasonPermanentDeletion Reason = "PERMANENT_DELETION"

	// ReasonTargetMissing: the target Action, or an entity it changed, no
	// longer exists.
	ReasonTargetMissing Reason = "TARGET_MISSING"

	// ReasonRelationshipRecreation: the relationships the target created or
	// deleted can no longer be brought back to their prior state.
	ReasonRelationshipRecreation Reason = "RELATIONSHIP_RECREATION"

	// ReasonStaleProperty: a property changed again after the target.
	ReasonStaleProperty Reason = "STALE_PROPERTY"

	// ReasonModifiedSinceCreation: an entity the target created has been
	// changed since.
	ReasonModifiedSinceCreation Reason = "MODIFIED_SINCE_CREATION"

	// ReasonAlreadyDeleted: an entity the target created is already deleted.
	ReasonAlreadyDeleted Reason = "ALREADY_DELETED"
)

// ConflictError reports that reverting an Action is unsafe because the graph
// diverged from what the Action recorded. It aborts the Undo Action with no
// partial effect.
type ConflictError struct {
	Reason   Reason
	Message  string
	ActionID string
	EntityID string
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	if e.EntityID != "" {
		return fmt.Sprintf("%s: %s (action=%s, entity=%s)", e.Reason, e.Message, e.ActionID, e.EntityID)
	}
	return fmt.Sprintf("%s: %s (action=%s)", e.Reason, e.Message, e.ActionID)
}

// Is makes errors.Is(err, ErrConflict) true for every ConflictError.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// ConflictReason reports the reason for metrics.
func (e *ConflictError) ConflictReason() string {
	return string(e.Reason)
}

// HasReason returns true if err is a ConflictError with the given reason.
func HasReason(err error, reason Reason) bool {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce.Reason == reason
	}
	return false
}

func conflict(reason Reason, actionID, entityID, format string, args ...any) *ConflictError {
	return &ConflictError{
		Reason:   reason,
		Message:  fmt.Sprintf(format, args...),
		ActionID: actionID,
		EntityID: entityID,
	}
}
