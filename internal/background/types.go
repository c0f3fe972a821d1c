// Package background implements the background agent scheduler: launching,
// resuming, and canceling delegated sub-agent sessions on behalf of a
// parent conversation, subject to per-concurrency-key limits and FIFO
// fairness.
package background

import "time"

// Status is a BackgroundTask's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusCanceled  Status = "cancelled"
)

// Terminal reports whether the status ends the task's lifecycle.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusCanceled:
		return true
	default:
		return false
	}
}

// BackgroundTask is a single delegated sub-agent run.
//
// Invariants (unchanged from the originating specification):
//  1. A task's ID is assigned once at creation and never reused.
//  2. ChildSessionID is empty until the task transitions out of Pending.
//  3. Status only ever moves forward through Pending -> Running -> a
//     terminal state; it never regresses.
//  4. A task belongs to exactly one ConcurrencyKey for its entire lifetime.
type BackgroundTask struct {
	ID               string
	ParentSessionID  string
	ChildSessionID   string
	ConcurrencyKey   string
	ConcurrencyGroup string
	Description      string
	Prompt           string
	Agent            string
	Model            string
	Category         string
	SkillContent     string

	Status Status

	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time

	Error string

	// Result holds a completed task's output text, populated from the
	// child session's final assistant message when the task reaches a
	// terminal status. Empty for a task that produced no output (a silent
	// reply, a cancellation, or a completion signal that carried none).
	// Retrieved by BackgroundOutput, the equivalent of the parent-facing
	// background_output(task_id=...) tool.
	Result string

	// ToolCallCount, LastUpdateTime, LastTool, and LastMessage are the
	// BackgroundTask progress attributes, updated by OnToolCompleted and
	// OnMessageUpdated as the child session runs.
	ToolCallCount  int
	LastUpdateTime time.Time
	LastTool       string
	LastMessage    string
}

// Snapshot returns a shallow copy safe to hand to a caller outside the
// TaskStateManager's lock.
func (t *BackgroundTask) Snapshot() BackgroundTask {
	return *t
}
