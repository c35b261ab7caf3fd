package core

import (
	"errors"
	"fmt"
)

// Command errors.
var (
	ErrTaskNotFound       = errors.New("task not found")
	ErrNotCompleted       = errors.New("task is not completed")
	ErrDestinationInUse   = errors.New("destination is used by another task")
	ErrInvalidPriority    = errors.New("invalid priority")
	ErrInvalidDestination = errors.New("invalid destination")
	ErrInvalidChecksum    = errors.New("invalid checksum")
	ErrSchedulerClosed    = errors.New("scheduler is closed")
)

// ErrorKind classifies transfer failures.
type ErrorKind string

const (
	KindNetwork            ErrorKind = "network"
	KindChecksumMismatch   ErrorKind = "checksum_mismatch"
	KindInvalidDestination ErrorKind = "invalid_destination"
	KindAuthentication     ErrorKind = "authentication"
	// KindCancelled is never stored on a task.
	KindCancelled ErrorKind = "cancelled"
)

// Retryable reports whether the retry policy may requeue the task.
func (k ErrorKind) Retryable() bool {
	return k == KindNetwork || k == KindChecksumMismatch
}

// TaskError is a classified transfer failure.
type TaskError struct {
	Kind     ErrorKind
	Provider string // set for authentication failures
	Err      error
}

func (e *TaskError) Error() string {
	switch e.Kind {
	case KindAuthentication:
		p := e.Provider
		if p == "" {
			p = "remote host"
		}
		return fmt.Sprintf("authentication failed for %s: %v", p, e.Err)
	case KindInvalidDestination:
		return fmt.Sprintf("invalid destination: %v", e.Err)
	case KindChecksumMismatch:
		return fmt.Sprintf("checksum mismatch: %v", e.Err)
	default:
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match ErrInvalidDestination.
func (e *TaskError) Is(target error) bool {
	return target == ErrInvalidDestination && e.Kind == KindInvalidDestination
}

func networkError(err error) *TaskError {
	return &TaskError{Kind: KindNetwork, Err: err}
}

func destinationError(err error) *TaskError {
	return &TaskError{Kind: KindInvalidDestination, Err: err}
}

func authenticationError(provider string, err error) *TaskError {
	return &TaskError{Kind: KindAuthentication, Provider: provider, Err: err}
}

// Classify returns err as a TaskError. Unclassified errors are network
// errors.
func Classify(err error) *TaskError {
	var te *TaskError
	if errors.As(err, &te) {
		return te
	}
	return networkError(err)
}

// ChecksumMismatchError carries both digests.
type ChecksumMismatchError struct {
	Algorithm string
	Expected  string
	Actual    string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("%s expected %s, got %s", e.Algorithm, e.Expected, e.Actual)
}

// TransitionError is returned for a state change the lifecycle forbids.
type TransitionError struct {
	ID   string
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("task %s: invalid transition %s -> %s", e.ID, e.From, e.To)
}

// StopError is returned by a worker that stopped on request.
type StopError struct {
	Reason StopReason
}

func (e *StopError) Error() string {
	return fmt.Sprintf("transfer stopped: %s", e.Reason)
}
