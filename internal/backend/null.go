package backend

import "context"

// NullClient is a no-op Client. It creates sessions that immediately report
// empty transcripts and accepts every prompt without doing anything; useful
// as a default wiring target before a real provider adapter is configured,
// and in tests that only exercise task bookkeeping.
type NullClient struct{}

var _ Client = (*NullClient)(nil)

func (NullClient) SessionGet(ctx context.Context, id string) (*SessionInfo, error) {
	return &SessionInfo{ID: id}, nil
}

func (NullClient) SessionCreate(ctx context.Context, parent, title, directory string) (*SessionHandle, error) {
	return &SessionHandle{ID: "null-" + parent}, nil
}

func (NullClient) SessionPrompt(ctx context.Context, id string, req PromptRequest) (bool, error) {
	return true, nil
}

func (NullClient) SessionAbort(ctx context.Context, id string) error {
	return nil
}

func (NullClient) SessionMessages(ctx context.Context, id string) ([]Message, error) {
	return nil, nil
}

func (NullClient) SessionTodo(ctx context.Context, id string) ([]Todo, error) {
	return nil, nil
}
