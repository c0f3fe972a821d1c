package messagestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the on-disk message/part log. A single Store instance owns one
// message root and one part root; callers share it across sessions.
type Store struct {
	messageRoot string
	partRoot    string

	mu sync.Mutex
}

// NewStore creates the message/part roots if needed and returns a Store.
func NewStore(messageRoot, partRoot string) (*Store, error) {
	if err := os.MkdirAll(messageRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create message root: %w", err)
	}
	if err := os.MkdirAll(partRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create part root: %w", err)
	}
	return &Store{messageRoot: messageRoot, partRoot: partRoot}, nil
}

func (s *Store) messagePath(sessionID, messageID string) string {
	return filepath.Join(s.messageRoot, sessionID, messageID+".json")
}

func (s *Store) partPath(messageID, partID string) string {
	return filepath.Join(s.partRoot, messageID, partID+".json")
}

// writeAtomic stages data in a sibling temp file and renames it onto path,
// so a concurrent reader never observes a partial write.
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmpPath := fmt.Sprintf("%s.tmp-%d-%s", path, os.Getpid(), uuid.NewString()[:8])
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath) //nolint:errcheck
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// AppendMessage writes a new message record and its parts, returning the
// generated message ID.
func (s *Store) AppendMessage(sessionID, role string, parts []Part) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	msg := &Message{
		ID:        "msg_" + uuid.NewString()[:12],
		SessionID: sessionID,
		Role:      role,
		CreatedAt: now,
	}
	for i := range parts {
		if parts[i].ID == "" {
			parts[i].ID = "part_" + uuid.NewString()[:12]
		}
		parts[i].MessageID = msg.ID
		if parts[i].CreatedAt.IsZero() {
			// Offset each part by its index so parts within one message
			// still sort in append order despite sharing a timestamp.
			parts[i].CreatedAt = now.Add(time.Duration(i) * time.Nanosecond)
		}
		msg.PartIDs = append(msg.PartIDs, parts[i].ID)

		data, err := json.Marshal(parts[i])
		if err != nil {
			return nil, fmt.Errorf("marshal part %s: %w", parts[i].ID, err)
		}
		if err := writeAtomic(s.partPath(msg.ID, parts[i].ID), data); err != nil {
			return nil, fmt.Errorf("write part %s: %w", parts[i].ID, err)
		}
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal message %s: %w", msg.ID, err)
	}
	if err := writeAtomic(s.messagePath(sessionID, msg.ID), data); err != nil {
		return nil, fmt.Errorf("write message %s: %w", msg.ID, err)
	}
	return msg, nil
}

// LoadSessionMessages reads every message in a session directory, sorted by
// creation time (ID is a random UUID and ties broken by it only when two
// messages land in the same instant).
func (s *Store) LoadSessionMessages(sessionID string) ([]*Message, error) {
	dir := filepath.Join(s.messageRoot, sessionID)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session directory: %w", err)
	}

	var messages []*Message
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read message %s: %w", entry.Name(), err)
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("parse message %s: %w", entry.Name(), err)
		}
		messages = append(messages, &msg)
	}
	sort.Slice(messages, func(i, j int) bool {
		if !messages[i].CreatedAt.Equal(messages[j].CreatedAt) {
			return messages[i].CreatedAt.Before(messages[j].CreatedAt)
		}
		return messages[i].ID < messages[j].ID
	})
	return messages, nil
}

// LoadParts reads every part belonging to a message, sorted by creation
// time (append order), falling back to ID to break same-instant ties.
func (s *Store) LoadParts(messageID string) ([]Part, error) {
	dir := filepath.Join(s.partRoot, messageID)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read part directory: %w", err)
	}

	var parts []Part
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read part %s: %w", entry.Name(), err)
		}
		var part Part
		if err := json.Unmarshal(data, &part); err != nil {
			return nil, fmt.Errorf("parse part %s: %w", entry.Name(), err)
		}
		parts = append(parts, part)
	}
	sort.Slice(parts, func(i, j int) bool {
		if !parts[i].CreatedAt.Equal(parts[j].CreatedAt) {
			return parts[i].CreatedAt.Before(parts[j].CreatedAt)
		}
		return parts[i].ID < parts[j].ID
	})
	return parts, nil
}

// LoadPart reads a single part by message and part ID.
func (s *Store) LoadPart(messageID, partID string) (*Part, error) {
	data, err := os.ReadFile(s.partPath(messageID, partID))
	if err != nil {
		return nil, fmt.Errorf("read part %s/%s: %w", messageID, partID, err)
	}
	var part Part
	if err := json.Unmarshal(data, &part); err != nil {
		return nil, fmt.Errorf("parse part %s/%s: %w", messageID, partID, err)
	}
	return &part, nil
}

// TruncatePart replaces a tool part's output with the fixed truncation
// banner. It is a no-op (returns false) if the part is not a tool-result or
// is already truncated.
func (s *Store) TruncatePart(messageID, partID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	part, err := s.LoadPart(messageID, partID)
	if err != nil {
		return false, err
	}
	if part.Kind != PartKindToolResult || part.Output == truncationBanner {
		return false, nil
	}

	part.Output = truncationBanner
	data, err := json.Marshal(part)
	if err != nil {
		return false, fmt.Errorf("marshal truncated part: %w", err)
	}
	if err := writeAtomic(s.partPath(messageID, partID), data); err != nil {
		return false, fmt.Errorf("write truncated part: %w", err)
	}
	return true, nil
}

// ReplaceEmptyTextParts rewrites any zero-length text part in a message with
// a single space, which is the minimal content Anthropic's API accepts for a
// non-empty message. Returns the number of parts rewritten.
func (s *Store) ReplaceEmptyTextParts(messageID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parts, err := s.LoadParts(messageID)
	if err != nil {
		return 0, err
	}

	repaired := 0
	for _, part := range parts {
		if part.Kind != PartKindText || part.Text != "" {
			continue
		}
		part.Text = " "
		data, err := json.Marshal(part)
		if err != nil {
			return repaired, fmt.Errorf("marshal repaired part: %w", err)
		}
		if err := writeAtomic(s.partPath(messageID, part.ID), data); err != nil {
			return repaired, fmt.Errorf("write repaired part: %w", err)
		}
		repaired++
	}
	return repaired, nil
}
