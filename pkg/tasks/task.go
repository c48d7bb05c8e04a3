// Package tasks defines the core data structures for task representation in docq.
// A task is a document submitted for processing by a named module; its identity
// is a content hash, so resubmitting the same document is a no-op.
package tasks

import (
	"time"
)

// Status is the processing state of a task. A task occupies exactly one
// state at a time; StatusUnknown is never stored, it is the answer when no
// record exists for an id.
type Status string

const (
	StatusUnknown Status = "UNKNOWN"
	StatusPending Status = "PENDING"
	StatusStarted Status = "STARTED"
	StatusDone    Status = "DONE"
	StatusError   Status = "ERROR"
)

// Statuses lists the four stored states in lifecycle order. StatusUnknown is
// deliberately absent: it is never written anywhere.
var Statuses = []Status{StatusPending, StatusStarted, StatusDone, StatusError}

// Terminal reports whether the status holds an outcome (result or error).
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// Valid reports whether s is one of the five known status values.
func (s Status) Valid() bool {
	switch s {
	case StatusUnknown, StatusPending, StatusStarted, StatusDone, StatusError:
		return true
	}
	return false
}

// Task represents a document queued for processing by a module.
//
// ID is the content hash of Doc (see GetID) unless the submitter supplied an
// explicit id. Ids are unique only within a module namespace.
type Task struct {
	// ID identifies the task within its module namespace.
	ID string `json:"id"`

	// Module is the name of the processing module the task belongs to.
	Module string `json:"module"`

	// Status is the current lifecycle state.
	Status Status `json:"status"`

	// Doc is the submitted document text.
	Doc string `json:"doc"`

	// CreatedAt is the submission timestamp, used for FIFO claim ordering.
	CreatedAt time.Time `json:"created_at"`
}
