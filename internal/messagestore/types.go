// Package messagestore implements the append-only, content-addressed
// message and part log that backs a session's conversation history.
//
// Layout on disk (rooted at two independently configurable directories):
//
//	<message_root>/<session_id>/<message_id>.json
//	<part_root>/<message_id>/<part_id>.json
//
// Every mutating operation is atomic: writers stage the new content in a
// sibling temp file and rename it onto the final path, so a reader never
// observes a partially written file.
package messagestore

import "time"

// PartKind distinguishes the shape of a message part.
type PartKind string

const (
	PartKindText       PartKind = "text"
	PartKindToolCall   PartKind = "tool-call"
	PartKindToolResult PartKind = "tool-result"
	PartKindStepStart  PartKind = "step-start"
)

// Part is one entry in a message's part log. ToolCallID links a
// PartKindToolResult back to the PartKindToolCall it answers.
type Part struct {
	ID         string    `json:"id"`
	MessageID  string    `json:"message_id"`
	Kind       PartKind  `json:"kind"`
	Text       string    `json:"text,omitempty"`
	ToolName   string    `json:"tool_name,omitempty"`
	ToolCallID string    `json:"tool_call_id,omitempty"`
	Input      string    `json:"input,omitempty"`
	Output     string    `json:"output,omitempty"`
	IsError    bool      `json:"is_error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// OutputSize returns the size in bytes of the part's truncatable payload.
func (p Part) OutputSize() int {
	return len(p.Output)
}

// Message is the top-level, append-only record for one turn of a session.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	PartIDs   []string  `json:"part_ids"`
}

// AgentUsageState is the sidecar file shape tracking whether a session has
// already been reminded that background-task tools are available. No
// operation in this module reads or writes it yet; the type exists to keep
// the wire contract complete for a future reminder hook.
type AgentUsageState struct {
	SessionID     string    `json:"session_id"`
	RemindedAt    time.Time `json:"reminded_at,omitempty"`
	ReminderCount int       `json:"reminder_count,omitempty"`
}

const truncationBanner = "[TOOL RESULT TRUNCATED - Context limit exceeded. Original output was too large and has been truncated to recover the session. Please re-run this tool if you need the full output.]"

// TruncationBanner is the fixed placeholder substituted for a truncated
// tool part's output.
func TruncationBanner() string { return truncationBanner }
