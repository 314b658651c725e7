// Package store declares the interface for persisting observed task status
// transitions.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/mibworks/tasktrack/internal/task"
)

// ErrNotFound signals that the requested rows do not exist.
var ErrNotFound = errors.New("transition not found")

// Transition is one persisted status change of a tracked task.
type Transition struct {
	// TaskID is the backend task identifier.
	TaskID string
	// Kind distinguishes parse jobs from single and bulk syncs.
	Kind task.Kind
	// From and To bracket the status change.
	From task.Status
	To   task.Status
	// Progress is the percentage at the moment of transition.
	Progress float64
	// Phase and Message capture the last known sub-stage and text.
	Phase   string
	Message string
	// At is when the tracker observed the transition.
	At time.Time
}

// Journal persists transitions for audit and post-hoc timing analysis.
type Journal interface {
	// RecordTransition appends one transition row.
	RecordTransition(ctx context.Context, tr Transition) error
	// ListTransitions returns a task's transitions, newest first, or
	// ErrNotFound when the task has none.
	ListTransitions(ctx context.Context, taskID string, limit, offset int) ([]Transition, error)
}
