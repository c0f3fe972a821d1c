package backend

import (
	"context"
	"fmt"
	"sync"
)

// FakeClient is an in-memory Client double for tests, in the spirit of the
// originating runtime's CallbackExecutor: each method delegates to an
// optional function field, falling back to a small in-memory model when the
// field is nil.
type FakeClient struct {
	mu sync.Mutex

	SessionGetFn    func(ctx context.Context, id string) (*SessionInfo, error)
	SessionCreateFn func(ctx context.Context, parent, title, directory string) (*SessionHandle, error)
	SessionPromptFn func(ctx context.Context, id string, req PromptRequest) (bool, error)
	SessionAbortFn  func(ctx context.Context, id string) error

	sessions  map[string]*SessionInfo
	messages  map[string][]Message
	todos     map[string][]Todo
	prompts   []recordedPrompt
	aborted   map[string]bool
	nextChild int
}

type recordedPrompt struct {
	SessionID string
	Request   PromptRequest
}

var _ Client = (*FakeClient)(nil)

// NewFakeClient returns a FakeClient seeded with no sessions.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		sessions: make(map[string]*SessionInfo),
		messages: make(map[string][]Message),
		todos:    make(map[string][]Todo),
		aborted:  make(map[string]bool),
	}
}

// SeedSession registers a pre-existing session, as a parent session the
// scheduler will look up via SessionGet.
func (f *FakeClient) SeedSession(id, directory string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[id] = &SessionInfo{ID: id, Directory: directory}
}

// SeedMessages installs the transcript SessionMessages returns for id.
func (f *FakeClient) SeedMessages(id string, messages []Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[id] = messages
}

// SeedTodos installs the todo list SessionTodo returns for id.
func (f *FakeClient) SeedTodos(id string, todos []Todo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.todos[id] = todos
}

// Prompts returns every SessionPrompt call recorded so far, in call order.
func (f *FakeClient) Prompts() []PromptRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]PromptRequest, len(f.prompts))
	for i, p := range f.prompts {
		out[i] = p.Request
	}
	return out
}

// PromptsFor returns every recorded PromptRequest submitted to sessionID.
func (f *FakeClient) PromptsFor(sessionID string) []PromptRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []PromptRequest
	for _, p := range f.prompts {
		if p.SessionID == sessionID {
			out = append(out, p.Request)
		}
	}
	return out
}

// Aborted reports whether SessionAbort was called for id.
func (f *FakeClient) Aborted(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.aborted[id]
}

func (f *FakeClient) SessionGet(ctx context.Context, id string) (*SessionInfo, error) {
	if f.SessionGetFn != nil {
		return f.SessionGetFn(ctx, id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.sessions[id]
	if !ok {
		return nil, nil
	}
	return info, nil
}

func (f *FakeClient) SessionCreate(ctx context.Context, parent, title, directory string) (*SessionHandle, error) {
	if f.SessionCreateFn != nil {
		return f.SessionCreateFn(ctx, parent, title, directory)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextChild++
	id := fmt.Sprintf("child-%d", f.nextChild)
	f.sessions[id] = &SessionInfo{ID: id, Directory: directory}
	return &SessionHandle{ID: id}, nil
}

func (f *FakeClient) SessionPrompt(ctx context.Context, id string, req PromptRequest) (bool, error) {
	if f.SessionPromptFn != nil {
		return f.SessionPromptFn(ctx, id, req)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, recordedPrompt{SessionID: id, Request: req})
	return true, nil
}

func (f *FakeClient) SessionAbort(ctx context.Context, id string) error {
	if f.SessionAbortFn != nil {
		return f.SessionAbortFn(ctx, id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted[id] = true
	return nil
}

func (f *FakeClient) SessionMessages(ctx context.Context, id string) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages[id], nil
}

func (f *FakeClient) SessionTodo(ctx context.Context, id string) ([]Todo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.todos[id], nil
}
