package engine

import (
	"fmt"

	"helioflow/internal/domain"
)

// InvalidTransitionError indicates a status change the project's schema does
// not allow from the current status.
type InvalidTransitionError struct {
	From domain.ProjectStatus
	To   domain.ProjectStatus
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

// ForbiddenError indicates the actor's role does not permit the operation.
type ForbiddenError struct {
	Operation string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("operation %s not permitted for this role", e.Operation)
}

// NotOwnerError indicates the actor's crew does not currently hold the
// reclamation it tried to act on.
type NotOwnerError struct {
	ReclamationID string
}

func (e NotOwnerError) Error() string {
	return fmt.Sprintf("reclamation %s is not assigned to this crew", e.ReclamationID)
}

// InvalidStateError indicates the entity is not in a state that allows the
// operation.
type InvalidStateError struct {
	Entity string
	State  string
	Reason string
}

func (e InvalidStateError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s in state %s: %s", e.Entity, e.State, e.Reason)
	}
	return fmt.Sprintf("%s in state %s does not allow this operation", e.Entity, e.State)
}

// ConflictError indicates a concurrent writer won the race, or a uniqueness
// rule would be violated.
type ConflictError struct {
	Reason string
}

func (e ConflictError) Error() string {
	return e.Reason
}

// ValidationError indicates malformed or out-of-range input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// ExternalServiceError wraps a failure from an outbound dependency such as
// the invoicing service.
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e ExternalServiceError) Error() string {
	return fmt.Sprintf("%s service: %v", e.Service, e.Err)
}

func (e ExternalServiceError) Unwrap() error {
	return e.Err
}
