package capture

import (
	"errors"
	"fmt"
)

// IntegrityError reports a violated structural invariant of an Action's
// transaction. It always aborts the transaction and is never retried.
type IntegrityError struct {
	// Code identifies the violated invariant.
	Code IntegrityCode

	// Message is a human-readable description.
	Message string

	// EntityID identifies the offending entity or relationship, if any.
	EntityID string
}

// IntegrityCode categorizes integrity errors.
type IntegrityCode string

const (
	// CodeActionCount indicates a transaction created zero or several Actions.
	CodeActionCount IntegrityCode = "ACTION_COUNT"

	// CodeUndeclaredMutation indicates an entity changed without a touched-link.
	CodeUndeclaredMutation IntegrityCode = "UNDECLARED_MUTATION"

	// CodeRelationshipPropertyEdit indicates relationship properties were
	// edited in place.
	CodeRelationshipPropertyEdit IntegrityCode = "RELATIONSHIP_PROPERTY_EDIT"

	// CodeCaptureInactive indicates an Action ran while change capture was not
	// installed or was paused by a migration.
	CodeCaptureInactive IntegrityCode = "CAPTURE_INACTIVE"
)

// Error implements the error interface.
func (e *IntegrityError) Error() string {
	if e.EntityID != "" {
		return fmt.Sprintf("%s: %s (entity=%s)", e.Code, e.Message, e.EntityID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsIntegrityError returns true if err is an IntegrityError.
// Uses errors.As to handle wrapped errors.
func IsIntegrityError(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}

// HasCode returns true if err is an IntegrityError with the given code.
func HasCode(err error, code IntegrityCode) bool {
	var ie *IntegrityError
	if errors.As(err, &ie) {
		return ie.Code == code
	}
	return false
}

// NewUndeclaredError creates an IntegrityError for an entity modified without
// being declared by the Action.
func NewUndeclaredError(entityID string) *IntegrityError {
	return &IntegrityError{
		Code:     CodeUndeclaredMutation,
		Message:  "entity modified but not declared by the Action",
		EntityID: entityID,
	}
}
