package messagestore

import (
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := NewStore(filepath.Join(dir, "message"), filepath.Join(dir, "part"))
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return store
}

func TestAppendMessageAndLoad(t *testing.T) {
	store := newTestStore(t)

	msg, err := store.AppendMessage("session-1", "assistant", []Part{
		{Kind: PartKindText, Text: "hello"},
		{Kind: PartKindToolResult, ToolCallID: "tc-1", Output: "result body"},
	})
	if err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}
	if len(msg.PartIDs) != 2 {
		t.Fatalf("PartIDs length = %d, want 2", len(msg.PartIDs))
	}

	loaded, err := store.LoadSessionMessages("session-1")
	if err != nil {
		t.Fatalf("LoadSessionMessages() error = %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("loaded messages = %d, want 1", len(loaded))
	}

	parts, err := store.LoadParts(msg.ID)
	if err != nil {
		t.Fatalf("LoadParts() error = %v", err)
	}
	if len(parts) != 2 {
		t.Fatalf("loaded parts = %d, want 2", len(parts))
	}
}

func TestTruncatePart(t *testing.T) {
	store := newTestStore(t)

	msg, err := store.AppendMessage("session-1", "assistant", []Part{
		{Kind: PartKindToolResult, ToolCallID: "tc-1", Output: "a very long tool output body"},
	})
	if err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}

	changed, err := store.TruncatePart(msg.ID, msg.PartIDs[0])
	if err != nil {
		t.Fatalf("TruncatePart() error = %v", err)
	}
	if !changed {
		t.Fatalf("expected TruncatePart to report a change")
	}

	part, err := store.LoadPart(msg.ID, msg.PartIDs[0])
	if err != nil {
		t.Fatalf("LoadPart() error = %v", err)
	}
	if part.Output != TruncationBanner() {
		t.Fatalf("Output = %q, want truncation banner", part.Output)
	}

	// Truncating an already-truncated part is a no-op.
	changed, err = store.TruncatePart(msg.ID, msg.PartIDs[0])
	if err != nil {
		t.Fatalf("TruncatePart() second call error = %v", err)
	}
	if changed {
		t.Fatalf("expected second TruncatePart call to be a no-op")
	}
}

func TestReplaceEmptyTextParts(t *testing.T) {
	store := newTestStore(t)

	msg, err := store.AppendMessage("session-1", "assistant", []Part{
		{Kind: PartKindText, Text: ""},
		{Kind: PartKindText, Text: "non-empty"},
	})
	if err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}

	repaired, err := store.ReplaceEmptyTextParts(msg.ID)
	if err != nil {
		t.Fatalf("ReplaceEmptyTextParts() error = %v", err)
	}
	if repaired != 1 {
		t.Fatalf("repaired = %d, want 1", repaired)
	}

	parts, err := store.LoadParts(msg.ID)
	if err != nil {
		t.Fatalf("LoadParts() error = %v", err)
	}
	for _, part := range parts {
		if part.Text == "" {
			t.Fatalf("found part with empty text after repair: %+v", part)
		}
	}
}

func TestFindToolResultsBySizeRespectsFloor(t *testing.T) {
	store := newTestStore(t)

	msg, err := store.AppendMessage("session-1", "assistant", []Part{
		{Kind: PartKindToolResult, ToolCallID: "tc-small", Output: "tiny"},
		{Kind: PartKindToolResult, ToolCallID: "tc-big", Output: stringOfLen(2000)},
	})
	if err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}

	refs, err := store.FindToolResultsBySize("session-1", 500)
	if err != nil {
		t.Fatalf("FindToolResultsBySize() error = %v", err)
	}
	if len(refs) != 1 {
		t.Fatalf("refs = %d, want 1 (floor should exclude the tiny part)", len(refs))
	}
	if refs[0].MessageID != msg.ID {
		t.Fatalf("unexpected message id in ref: %+v", refs[0])
	}
}

func TestTruncateLargestCapsPassSize(t *testing.T) {
	store := newTestStore(t)

	_, err := store.AppendMessage("session-1", "assistant", []Part{
		{Kind: PartKindToolResult, ToolCallID: "tc-1", Output: stringOfLen(1000)},
		{Kind: PartKindToolResult, ToolCallID: "tc-2", Output: stringOfLen(2000)},
		{Kind: PartKindToolResult, ToolCallID: "tc-3", Output: stringOfLen(3000)},
	})
	if err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}

	truncated, err := store.TruncateLargest("session-1", 500, 2)
	if err != nil {
		t.Fatalf("TruncateLargest() error = %v", err)
	}
	if truncated != 2 {
		t.Fatalf("truncated = %d, want 2", truncated)
	}
}

func stringOfLen(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'x'
	}
	return string(b)
}
