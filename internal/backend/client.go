// Package backend defines the narrow interface the scheduler and recovery
// controller use to reach the outer agent runtime, isolating them from the
// concrete model providers and session transport (both explicitly out of
// scope of this core: see SPEC_FULL.md §1).
package backend

import "context"

// SessionInfo is the subset of session metadata the core needs to inherit a
// working directory and route notifications.
type SessionInfo struct {
	ID        string
	Directory string
}

// SessionHandle identifies a freshly created child session.
type SessionHandle struct {
	ID string
}

// MessagePart is one unit of a prompt submission. The core never interprets
// Content beyond JSON truthiness.
type MessagePart struct {
	PartType string
	Text     string
	Tool     string
	Name     string
	Content  string
}

// PromptRequest is submitted to a session. NoReply suppresses an assistant
// turn, used for "still waiting" reminders that shouldn't provoke a reply.
type PromptRequest struct {
	Agent   string
	Model   string
	NoReply bool
	System  string
	Parts   []MessagePart
}

// Message is a single entry in a session's transcript, as seen from outside
// the message log (i.e. after MessageStore has assembled it).
type Message struct {
	ID      string
	Role    string
	Content string
}

// TodoStatus is the lifecycle state of one todo item tracked within a
// session.
type TodoStatus string

const (
	TodoStatusPending    TodoStatus = "pending"
	TodoStatusInProgress TodoStatus = "in_progress"
	TodoStatusCompleted  TodoStatus = "completed"
)

// Todo is one item of a session's todo list.
type Todo struct {
	ID     string
	Text   string
	Status TodoStatus
}

// Client is the full surface the core consumes from the agent runtime:
// session lifecycle, prompt submission, and enough introspection to decide
// whether a background task produced anything worth reporting.
type Client interface {
	SessionGet(ctx context.Context, id string) (*SessionInfo, error)
	SessionCreate(ctx context.Context, parent, title, directory string) (*SessionHandle, error)
	SessionPrompt(ctx context.Context, id string, req PromptRequest) (bool, error)
	SessionAbort(ctx context.Context, id string) error
	SessionMessages(ctx context.Context, id string) ([]Message, error)
	SessionTodo(ctx context.Context, id string) ([]Todo, error)
}

// ValidateSessionHasOutput reports whether a completed background session
// produced any assistant-visible output, so the scheduler can distinguish a
// silently-failed run from a genuinely empty one.
func ValidateSessionHasOutput(messages []Message) bool {
	for _, m := range messages {
		if m.Role == "assistant" && m.Content != "" {
			return true
		}
	}
	return false
}

// CheckSessionTodos reports whether every todo item tracked by a session has
// reached a terminal (completed) status. A session with no todos is
// considered complete.
func CheckSessionTodos(todos []Todo) bool {
	for _, t := range todos {
		if t.Status != TodoStatusCompleted {
			return false
		}
	}
	return true
}
