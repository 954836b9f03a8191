package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed requests rejected before any state change.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidTransition marks changes the job state machine does not allow.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrNotFound marks references to jobs the store does not hold.
	ErrNotFound = errors.New("not found")
	// ErrPersistence marks snapshot storage that could not be read or written.
	ErrPersistence = errors.New("persistence failure")
	// ErrWorkerFailure marks a transfer attempt that failed.
	ErrWorkerFailure = errors.New("worker failure")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

type InvalidTransitionError struct {
	ID     JobID
	From   JobStatus
	To     JobStatus
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("job %s: invalid transition %s -> %s", e.ID, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

type NotFoundError struct {
	ID JobID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("job %s not found", e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// PersistenceError reports a failed snapshot load or save. The in-memory
// state stays authoritative when it is returned from a mutation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s snapshot: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

// WorkerFailure describes why a transfer ended a job in error status.
type WorkerFailure struct {
	ID  JobID
	Err error
}

func (e *WorkerFailure) Error() string {
	return fmt.Sprintf("job %s transfer failed: %v", e.ID, e.Err)
}

func (e *WorkerFailure) Unwrap() []error { return []error{ErrWorkerFailure, e.Err} }
