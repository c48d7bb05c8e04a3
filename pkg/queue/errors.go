package queue

import (
	"errors"
	"fmt"
)

// Sentinel errors for the expected, recoverable conditions of the queue
// contract. Callers branch on these with errors.Is instead of parsing
// messages.
var (
	// ErrNotFound: the referenced task does not exist.
	ErrNotFound = errors.New("task not found")

	// ErrNotReady: a result was requested before the task reached a
	// terminal state.
	ErrNotReady = errors.New("task not ready")

	// ErrInvalidTransition: a result or error was stored for a task that
	// is still PENDING or was never seen.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrTimeout: ProcessInline gave up because its context expired.
	ErrTimeout = errors.New("timed out waiting for task")
)

// ProcessingError is returned by Result when the task finished in the ERROR
// state. Message carries the error text the worker stored.
type ProcessingError struct {
	Module  string
	ID      string
	Message string
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processing %s/%s failed: %s", e.Module, e.ID, e.Message)
}

// RemoteError is a non-success, non-sentinel response from the remote queue
// service. It carries the HTTP status code and response body so the caller
// can decide whether to retry.
type RemoteError struct {
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote queue error: status %d: %s", e.StatusCode, e.Body)
}

// StorageError wraps an unexpected fault from the backing store. Benign
// races ("already exists", "claimed by someone else") are handled inside
// the backends and never surface as StorageError.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
