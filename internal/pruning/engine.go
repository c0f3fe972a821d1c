package pruning

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/relaycore/relaycore/internal/messagestore"
	"github.com/relaycore/relaycore/internal/observability"
)

// DefaultProtectedTools are never deduplicated or superseded regardless of
// config — a read and a list, for instance, are idempotent by nature and
// re-running them is how a model confirms current state, not redundancy.
var DefaultProtectedTools = map[string]struct{}{
	"read": {},
	"ls":   {},
	"grep": {},
}

// fileOpTools are the tool names whose first input field named "file_path"
// (or "path") makes them a write-supersede candidate.
var fileOpTools = map[string]struct{}{
	"write":              {},
	"edit":               {},
	"patch":              {},
	"str_replace_editor": {},
}

// Config controls which strategies an Engine pass runs.
type Config struct {
	DeduplicationEnabled bool
	SupersedeEnabled     bool
	PurgeErrorsEnabled   bool

	// ProtectedTools are additionally exempted from deduplication/supersede
	// beyond DefaultProtectedTools.
	ProtectedTools map[string]struct{}

	// PurgeErrorAgeTurns is how many turns must have elapsed since an
	// errored tool call before it becomes purgeable.
	PurgeErrorAgeTurns int
}

// DefaultConfig enables every strategy with a 3-turn error purge window.
func DefaultConfig() Config {
	return Config{
		DeduplicationEnabled: true,
		SupersedeEnabled:     true,
		PurgeErrorsEnabled:   true,
		PurgeErrorAgeTurns:   3,
	}
}

// Engine owns one Store and the per-session pruning state accumulated
// across repeated passes.
type Engine struct {
	store   *messagestore.Store
	metrics *observability.Metrics
	tracer  *observability.Tracer
	config  Config

	mu     sync.Mutex
	states map[string]*State
}

// NewEngine wires an Engine to the message log it reads and marks against.
func NewEngine(store *messagestore.Store, metrics *observability.Metrics, config Config) *Engine {
	return &Engine{store: store, metrics: metrics, config: config, states: make(map[string]*State)}
}

// SetTracer wires a Tracer that spans each Run call. Without it Run executes
// untraced.
func (e *Engine) SetTracer(tracer *observability.Tracer) {
	e.tracer = tracer
}

func (e *Engine) stateFor(sessionID string) *State {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[sessionID]
	if !ok {
		st = newState()
		e.states[sessionID] = st
	}
	return st
}

// IsPruned reports whether a tool-call/tool-result part has been marked
// prunable by any prior Run for sessionID. A prompt packer calls this to
// decide whether to include a given part.
func (e *Engine) IsPruned(sessionID, partID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[sessionID]
	if !ok {
		return false
	}
	return st.isMarked(partID)
}

// toolPart is a convenience view over one (tool-call, tool-result) pair
// found while walking a session's parts in order.
type toolPart struct {
	callPart   messagestore.Part
	resultPart *messagestore.Part
	turn       int
}

// walk loads every message in the session and returns its tool-call parts
// in document order, paired with their tool-result part when present, along
// with the turn number each call fell in (incremented by step-start parts,
// matching the original step-start-delimited turn counting).
func (e *Engine) walk(sessionID string) ([]toolPart, error) {
	messages, err := e.store.LoadSessionMessages(sessionID)
	if err != nil {
		return nil, err
	}

	var calls []toolPart
	resultsByCallID := make(map[string]*messagestore.Part)
	turn := 0

	var allParts []messagestore.Part
	for _, msg := range messages {
		parts, err := e.store.LoadParts(msg.ID)
		if err != nil {
			return nil, err
		}
		allParts = append(allParts, parts...)
	}

	for i := range allParts {
		p := allParts[i]
		if p.Kind == messagestore.PartKindToolResult && p.ToolCallID != "" {
			resultsByCallID[p.ToolCallID] = &allParts[i]
		}
	}

	for _, p := range allParts {
		switch p.Kind {
		case messagestore.PartKindStepStart:
			turn++
		case messagestore.PartKindToolCall:
			calls = append(calls, toolPart{
				callPart:   p,
				resultPart: resultsByCallID[p.ID],
				turn:       turn,
			})
		}
	}
	return calls, nil
}

func (e *Engine) isProtected(toolName string) bool {
	if _, ok := DefaultProtectedTools[toolName]; ok {
		return true
	}
	if _, ok := e.config.ProtectedTools[toolName]; ok {
		return true
	}
	return false
}

// Run executes every enabled strategy once against sessionID's current
// message log and returns a summary of what it marked this pass. Prior
// passes' marks are preserved; Run never unmarks anything.
func (e *Engine) Run(sessionID string) (Result, error) {
	var finish func(int64)
	if e.tracer != nil {
		_, finish = e.tracer.TracePruningPass(context.Background(), sessionID)
	}

	st := e.stateFor(sessionID)

	calls, err := e.walk(sessionID)
	if err != nil {
		if finish != nil {
			finish(0)
		}
		return Result{}, err
	}
	st.CurrentTurn = maxTurn(calls)

	var result Result
	if e.config.DeduplicationEnabled {
		n, tokens := e.deduplicate(st, calls)
		result.Strategies.Deduplication = n
		result.ItemsPruned += n
		result.TotalTokensSaved += tokens
		e.recordSavings("dedup", tokens)
	}
	if e.config.SupersedeEnabled {
		n, tokens := e.supersedeWrites(st, calls)
		result.Strategies.SupersedeWrites = n
		result.ItemsPruned += n
		result.TotalTokensSaved += tokens
		e.recordSavings("supersede", tokens)
	}
	if e.config.PurgeErrorsEnabled {
		n, tokens := e.purgeErrors(st, calls)
		result.Strategies.PurgeErrors = n
		result.ItemsPruned += n
		result.TotalTokensSaved += tokens
		e.recordSavings("purge_errors", tokens)
	}

	observability.EmitPruningPass(&observability.PruningPassEvent{
		SessionID:    sessionID,
		Deduplicated: result.Strategies.Deduplication,
		Superseded:   result.Strategies.SupersedeWrites,
		Purged:       result.Strategies.PurgeErrors,
		TokensSaved:  result.TotalTokensSaved,
	})
	if finish != nil {
		finish(result.TotalTokensSaved)
	}
	return result, nil
}

func (e *Engine) recordSavings(strategy string, tokens int64) {
	if e.metrics == nil || tokens == 0 {
		return
	}
	e.metrics.RecordPruningSavings(strategy, tokens)
}

func maxTurn(calls []toolPart) int {
	max := 0
	for _, c := range calls {
		if c.turn > max {
			max = c.turn
		}
	}
	return max
}

// deduplicate groups tool calls by their canonical signature and marks
// every occurrence but the last as prunable — the pattern is "ask the same
// read/list/search again to double-check", and only the most recent answer
// is ever still relevant.
func (e *Engine) deduplicate(st *State, calls []toolPart) (int, int64) {
	bySignature := make(map[string][]toolPart)
	for _, c := range calls {
		if e.isProtected(c.callPart.ToolName) {
			continue
		}
		if st.isMarked(c.callPart.ID) {
			continue
		}
		sig := CreateToolSignature(c.callPart.ToolName, c.callPart.Input)
		bySignature[sig] = append(bySignature[sig], c)
		st.Signatures[sig] = append(st.Signatures[sig], ToolSignature{
			ToolName:  c.callPart.ToolName,
			Signature: sig,
			PartID:    c.callPart.ID,
			MessageID: c.callPart.MessageID,
			Turn:      c.turn,
		})
	}

	pruned := 0
	var tokensSaved int64
	for _, group := range bySignature {
		if len(group) < 2 {
			continue
		}
		for _, c := range group[:len(group)-1] {
			st.mark(c.callPart.ID)
			pruned++
			if c.resultPart != nil {
				tokensSaved += estimateTokens(c.resultPart.Output)
			}
		}
	}
	return pruned, tokensSaved
}

// supersedeWrites groups file-mutating tool calls by the file path they
// touch and marks every occurrence but the last — an earlier write or edit
// to a path a later call also wrote to no longer reflects the file's
// current content, so its recorded output is dead weight.
func (e *Engine) supersedeWrites(st *State, calls []toolPart) (int, int64) {
	byPath := make(map[string][]toolPart)
	for _, c := range calls {
		if _, ok := fileOpTools[c.callPart.ToolName]; !ok {
			continue
		}
		if st.isMarked(c.callPart.ID) {
			continue
		}
		path := extractFilePath(c.callPart.Input)
		if path == "" {
			continue
		}
		byPath[path] = append(byPath[path], c)
		st.FileOps[path] = append(st.FileOps[path], FileOperation{
			PartID:    c.callPart.ID,
			MessageID: c.callPart.MessageID,
			Tool:      c.callPart.ToolName,
			FilePath:  path,
			Turn:      c.turn,
		})
	}

	pruned := 0
	var tokensSaved int64
	for _, group := range byPath {
		if len(group) < 2 {
			continue
		}
		for _, c := range group[:len(group)-1] {
			st.mark(c.callPart.ID)
			pruned++
			if c.resultPart != nil {
				tokensSaved += estimateTokens(c.resultPart.Output)
			}
		}
	}
	return pruned, tokensSaved
}

// purgeErrors marks tool calls whose result came back as an error and whose
// age (in turns since that call) exceeds PurgeErrorAgeTurns — recent errors
// still inform the model's next move, stale ones are just noise.
func (e *Engine) purgeErrors(st *State, calls []toolPart) (int, int64) {
	pruned := 0
	var tokensSaved int64
	for _, c := range calls {
		if c.resultPart == nil || !c.resultPart.IsError {
			continue
		}
		if st.isMarked(c.callPart.ID) {
			continue
		}
		age := st.CurrentTurn - c.turn
		if age < e.config.PurgeErrorAgeTurns {
			continue
		}
		st.ErroredTools[c.callPart.ID] = ErroredCall{
			PartID:    c.callPart.ID,
			MessageID: c.callPart.MessageID,
			ToolName:  c.callPart.ToolName,
			Turn:      c.turn,
		}
		st.mark(c.callPart.ID)
		pruned++
		tokensSaved += estimateTokens(c.resultPart.Output)
	}
	return pruned, tokensSaved
}

// extractFilePath pulls a "file_path" or "path" string field out of a tool
// call's raw JSON input, the two field names observed across the teacher's
// tool surface for file-mutating calls.
func extractFilePath(inputJSON string) string {
	if inputJSON == "" {
		return ""
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(inputJSON), &obj); err != nil {
		return ""
	}
	if v, ok := obj["file_path"].(string); ok {
		return v
	}
	if v, ok := obj["path"].(string); ok {
		return v
	}
	return ""
}
