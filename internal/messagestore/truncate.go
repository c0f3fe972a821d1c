package messagestore

import "sort"

// PartRef locates a part within the message log.
type PartRef struct {
	MessageID string
	PartID    string
	Size      int
}

// FindToolResultsBySize scans every message in a session and returns every
// tool-result part at least minSize bytes, largest first, tied deterministically
// by part ID. Parts smaller than minSize are never worth truncating.
func (s *Store) FindToolResultsBySize(sessionID string, minSize int) ([]PartRef, error) {
	messages, err := s.LoadSessionMessages(sessionID)
	if err != nil {
		return nil, err
	}

	var refs []PartRef
	for _, msg := range messages {
		parts, err := s.LoadParts(msg.ID)
		if err != nil {
			return nil, err
		}
		for _, part := range parts {
			if part.Kind != PartKindToolResult {
				continue
			}
			if part.Output == truncationBanner {
				continue
			}
			size := part.OutputSize()
			if size < minSize {
				continue
			}
			refs = append(refs, PartRef{MessageID: msg.ID, PartID: part.ID, Size: size})
		}
	}

	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Size != refs[j].Size {
			return refs[i].Size > refs[j].Size
		}
		return refs[i].PartID < refs[j].PartID
	})
	return refs, nil
}

// TruncateLargest truncates up to maxParts of the largest truncatable tool
// results in a session and returns how many parts were actually changed.
func (s *Store) TruncateLargest(sessionID string, minSize, maxParts int) (int, error) {
	refs, err := s.FindToolResultsBySize(sessionID, minSize)
	if err != nil {
		return 0, err
	}
	if len(refs) > maxParts {
		refs = refs[:maxParts]
	}

	truncated := 0
	for _, ref := range refs {
		changed, err := s.TruncatePart(ref.MessageID, ref.PartID)
		if err != nil {
			return truncated, err
		}
		if changed {
			truncated++
		}
	}
	return truncated, nil
}
