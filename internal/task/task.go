// Package task defines the record describing one tracked backend operation.
package task

import (
	"encoding/json"
	"time"
)

// Kind identifies the category of backend operation a record tracks.
type Kind string

// Supported task kinds.
const (
	KindParse   Kind = "parse"
	KindSyncOne Kind = "sync-one"
	KindSyncAll Kind = "sync-all"
)

// Status is the lifecycle state of a task.
type Status string

// Task statuses. Transitions run queued→running→{completed,failed} or
// {queued,running}→cancelled.
const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status ends the task's lifecycle.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is one of the five known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether moving from one status to another is allowed.
// Self-transitions are permitted so repeated updates in the same state pass.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusQueued:
		return to == StatusRunning || to == StatusCancelled || to == StatusCompleted || to == StatusFailed
	case StatusRunning:
		return to.Terminal()
	default:
		return false
	}
}

// Record holds everything known about one tracked task. Records are owned by
// the tracker loop; callers receive copies.
type Record struct {
	// ID is the backend task identifier shared with the push channel topic.
	ID string
	// Kind distinguishes parse jobs from single and bulk syncs.
	Kind Kind
	// Status is the current lifecycle state.
	Status Status
	// Phase names the sub-stage within running (scanning, parsing, saving...).
	Phase string
	// Progress is the completion percentage, clamped to [0,100].
	Progress float64
	// Message is the latest human-readable progress text.
	Message string
	// ETASeconds is the backend-supplied remaining time; nil when omitted.
	ETASeconds *float64
	// CreatedAt is when the record was first seen locally or listed.
	CreatedAt time.Time
	// StartedAt is stamped on the queued→running transition.
	StartedAt *time.Time
	// CompletedAt is stamped when the task reaches a terminal status.
	CompletedAt *time.Time
	// Result carries the backend's terminal payload, if any.
	Result json.RawMessage
}

// Terminal reports whether the record has finished.
func (r Record) Terminal() bool {
	return r.Status.Terminal()
}

// Clone returns a deep copy safe to hand outside the tracker loop.
func (r Record) Clone() Record {
	cp := r
	if r.ETASeconds != nil {
		v := *r.ETASeconds
		cp.ETASeconds = &v
	}
	if r.StartedAt != nil {
		t := *r.StartedAt
		cp.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	if len(r.Result) > 0 {
		cp.Result = append(json.RawMessage(nil), r.Result...)
	}
	return cp
}
