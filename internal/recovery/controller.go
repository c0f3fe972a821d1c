package recovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/relaycore/relaycore/internal/backend"
	"github.com/relaycore/relaycore/internal/backoff"
	"github.com/relaycore/relaycore/internal/compaction"
	"github.com/relaycore/relaycore/internal/config"
	"github.com/relaycore/relaycore/internal/messagestore"
	"github.com/relaycore/relaycore/internal/observability"
)

// Outcome reports how a recovery attempt ended.
type Outcome string

const (
	OutcomeRecovered Outcome = "recovered"
	OutcomeExhausted Outcome = "exhausted"
	OutcomeError     Outcome = "error"
	OutcomeSkipped   Outcome = "skipped"
)

const (
	// emptyContentMaxAttempts and emptyContentRetryDelay tune Phase 1 (empty
	// text part repair) only; config.RecoveryConfig has no fields for this
	// phase, since the originating data model ties it to a fixed retry
	// count rather than a tunable policy.
	emptyContentMaxAttempts = 3
	emptyContentRetryDelay  = 500 * time.Millisecond

	truncateTargetRatio = 0.5
)

// defaultRecoveryConfig mirrors config.applyRecoveryDefaults, used when a
// Controller is built without an explicit config (e.g. in tests that only
// care about the recovery state machine, not its tuning).
var defaultRecoveryConfig = config.RecoveryConfig{
	Retry: config.RetryConfig{
		InitialMs:   2000,
		MaxMs:       30000,
		Factor:      2.0,
		MaxAttempts: 2,
		ResetWindow: 300 * time.Second,
	},
	Truncate: config.TruncateConfig{
		MinOutputSizeToTruncate: 500,
		MaxPartsPerPass:         10,
	},
}

// autoCompactState is the per-session bookkeeping RecoveryController keeps
// across recovery attempts, mirroring the AutoCompactState data model entry.
type autoCompactState struct {
	inProgress          bool
	emptyContentAttempt int
	truncateAttempt     int
	retryAttempt        int
	lastAttemptTime     time.Time
}

// Controller drives the truncate-then-summarize recovery pipeline for a
// session whose most recent prompt failed with a token-limit or
// empty-content error. A single Controller is shared across sessions; it
// guarantees at most one recovery runs per session at a time.
type Controller struct {
	store      *messagestore.Store
	client     backend.Client
	summarizer compaction.Summarizer
	cfg        config.RecoveryConfig
	logger     *observability.Logger
	metrics    *observability.Metrics
	tracer     *observability.Tracer

	mu     sync.Mutex
	states map[string]*autoCompactState
}

// NewController wires a RecoveryController to the message log it repairs,
// the backend it re-submits prompts through, the summarizer it falls back
// to once truncation alone cannot make room, and the config.RecoveryConfig
// tuning its truncation floor and summarize-retry backoff. A nil cfg
// applies defaultRecoveryConfig.
func NewController(store *messagestore.Store, client backend.Client, summarizer compaction.Summarizer, cfg *config.RecoveryConfig, logger *observability.Logger, metrics *observability.Metrics) *Controller {
	resolved := defaultRecoveryConfig
	if cfg != nil {
		resolved = *cfg
	}
	return &Controller{
		store:      store,
		client:     client,
		summarizer: summarizer,
		cfg:        resolved,
		logger:     logger,
		metrics:    metrics,
		states:     make(map[string]*autoCompactState),
	}
}

// SetTracer wires a Tracer that spans each Recover call. Without it Recover
// runs untraced; this is a setter rather than a NewController parameter so
// tracing can be enabled independently of the config/backend wiring other
// tests exercise.
func (c *Controller) SetTracer(tracer *observability.Tracer) {
	c.tracer = tracer
}

func (c *Controller) summarizeBackoffPolicy() backoff.BackoffPolicy {
	return backoff.BackoffPolicy{
		InitialMs: c.cfg.Retry.InitialMs,
		MaxMs:     c.cfg.Retry.MaxMs,
		Factor:    c.cfg.Retry.Factor,
		Jitter:    0,
	}
}

func (c *Controller) stateFor(sessionID string) *autoCompactState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[sessionID]
	if !ok {
		st = &autoCompactState{}
		c.states[sessionID] = st
	}
	return st
}

// acquire enters the single-flight guard for sessionID. It returns false if
// a recovery is already in progress for that session.
func (c *Controller) acquire(sessionID string) (*autoCompactState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[sessionID]
	if !ok {
		st = &autoCompactState{}
		c.states[sessionID] = st
	}
	if st.inProgress {
		return nil, false
	}
	st.inProgress = true
	return st, true
}

func (c *Controller) release(st *autoCompactState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st.inProgress = false
}

// Recover runs the repair pipeline appropriate to rawErr's shape: empty-text
// parts are patched directly; a token-limit error is met with aggressive
// truncation and, if that alone is insufficient, staged summarization. It
// returns OutcomeSkipped without doing anything if a recovery for sessionID
// is already running, and OutcomeError / OutcomeExhausted is never treated
// as a reason to retry indefinitely — the caller owns the surrounding retry
// of the original prompt.
func (c *Controller) Recover(ctx context.Context, sessionID, providerID, modelID string, rawErr any) (Outcome, error) {
	st, ok := c.acquire(sessionID)
	if !ok {
		return OutcomeSkipped, nil
	}
	defer c.release(st)

	if c.tracer != nil {
		var finish func(string, error)
		ctx, finish = c.tracer.TraceRecovery(ctx, sessionID, providerID, modelID)
		outcome, err := c.recover(ctx, sessionID, providerID, modelID, st, rawErr)
		finish(string(outcome), err)
		return outcome, err
	}
	return c.recover(ctx, sessionID, providerID, modelID, st, rawErr)
}

func (c *Controller) recover(ctx context.Context, sessionID, providerID, modelID string, st *autoCompactState, rawErr any) (Outcome, error) {
	if !st.lastAttemptTime.IsZero() && time.Since(st.lastAttemptTime) > c.cfg.Retry.ResetWindow {
		st.retryAttempt = 0
		st.truncateAttempt = 0
		st.emptyContentAttempt = 0
	}
	st.lastAttemptTime = time.Now()

	parsed := Parse(rawErr)
	parsed.ProviderID = providerID
	parsed.ModelID = modelID

	switch parsed.Kind {
	case ErrorKindEmptyContent:
		return c.recoverEmptyContent(ctx, sessionID, st, parsed)
	case ErrorKindTokenLimit:
		return c.recoverTokenLimit(ctx, sessionID, st, parsed)
	default:
		return OutcomeError, fmt.Errorf("recovery: unrecognized error shape")
	}
}

func (c *Controller) emitPhase(sessionID, phase string, attempt int) {
	observability.EmitRecoveryPhase(&observability.RecoveryPhaseEvent{SessionID: sessionID, Phase: phase, Attempt: attempt})
}

func (c *Controller) emitOutcome(sessionID string, outcome Outcome, start time.Time) {
	observability.EmitRecoveryOutcome(&observability.RecoveryOutcomeEvent{
		SessionID:  sessionID,
		Outcome:    string(outcome),
		DurationMs: time.Since(start).Milliseconds(),
	})
	if c.metrics != nil {
		c.metrics.RecordRecoveryAttempt("total", string(outcome), time.Since(start).Seconds())
	}
}

// recoverEmptyContent patches the offending message's empty text parts,
// retrying up to emptyContentMaxAttempts times with a fixed delay: the
// message log write that produced the empty part may not yet be visible to
// a reader racing the writer.
func (c *Controller) recoverEmptyContent(ctx context.Context, sessionID string, st *autoCompactState, parsed ParsedError) (Outcome, error) {
	start := time.Now()
	messageID, err := c.resolveMessageID(sessionID, parsed.MessageIndex)
	if err != nil {
		c.emitOutcome(sessionID, OutcomeError, start)
		return OutcomeError, err
	}

	for attempt := 1; attempt <= emptyContentMaxAttempts; attempt++ {
		st.emptyContentAttempt = attempt
		c.emitPhase(sessionID, "empty_content", attempt)

		replaced, err := c.store.ReplaceEmptyTextParts(messageID)
		if err != nil {
			c.emitOutcome(sessionID, OutcomeError, start)
			return OutcomeError, fmt.Errorf("replace empty text parts: %w", err)
		}
		if replaced > 0 {
			c.emitOutcome(sessionID, OutcomeRecovered, start)
			return OutcomeRecovered, nil
		}

		if attempt < emptyContentMaxAttempts {
			if err := sleep(ctx, emptyContentRetryDelay); err != nil {
				c.emitOutcome(sessionID, OutcomeError, start)
				return OutcomeError, err
			}
		}
	}

	c.emitOutcome(sessionID, OutcomeExhausted, start)
	return OutcomeExhausted, nil
}

// resolveMessageID maps the message index a provider reported (messages.N)
// back to the message ID in the on-disk log, which is the only identifier
// the store understands.
func (c *Controller) resolveMessageID(sessionID string, index int) (string, error) {
	messages, err := c.store.LoadSessionMessages(sessionID)
	if err != nil {
		return "", fmt.Errorf("load session messages: %w", err)
	}
	if index < 0 || index >= len(messages) {
		if len(messages) == 0 {
			return "", fmt.Errorf("session %s has no messages to repair", sessionID)
		}
		return messages[len(messages)-1].ID, nil
	}
	return messages[index].ID, nil
}

// recoverTokenLimit runs Phase 2 (aggressive truncation) and, if truncation
// alone cannot free enough room, Phase 3 (staged summarization with
// exponential backoff, capped at summarizeMaxAttempts).
func (c *Controller) recoverTokenLimit(ctx context.Context, sessionID string, st *autoCompactState, parsed ParsedError) (Outcome, error) {
	start := time.Now()
	c.emitPhase(sessionID, "truncate", 1)

	removed, err := c.truncate(sessionID, parsed)
	if err != nil {
		c.emitOutcome(sessionID, OutcomeError, start)
		return OutcomeError, fmt.Errorf("truncate: %w", err)
	}
	st.truncateAttempt++

	target := int(float64(parsed.Max) * truncateTargetRatio)
	tokensToReduce := parsed.Current - target
	charsToReduce := tokensToReduce * compaction.CharsPerToken
	if tokensToReduce <= 0 || removed >= charsToReduce {
		c.emitOutcome(sessionID, OutcomeRecovered, start)
		return OutcomeRecovered, nil
	}

	if c.summarizer == nil {
		c.emitOutcome(sessionID, OutcomeExhausted, start)
		return OutcomeExhausted, nil
	}

	result, err := backoff.RetryWithBackoff(ctx, c.summarizeBackoffPolicy(), c.cfg.Retry.MaxAttempts, func(attempt int) (string, error) {
		st.retryAttempt = attempt
		c.emitPhase(sessionID, "summarize", attempt)
		return c.summarize(ctx, sessionID)
	})
	if err != nil {
		c.emitOutcome(sessionID, OutcomeExhausted, start)
		return OutcomeExhausted, fmt.Errorf("summarize after %d attempts: %w", result.Attempts, err)
	}

	c.emitOutcome(sessionID, OutcomeRecovered, start)
	return OutcomeRecovered, nil
}

// truncate removes the largest truncatable tool-result parts in session
// order until enough bytes have been freed or truncateMaxAttempts parts
// have been touched, and returns the total bytes removed.
func (c *Controller) truncate(sessionID string, parsed ParsedError) (int, error) {
	target := int(float64(parsed.Max) * truncateTargetRatio)
	tokensToReduce := parsed.Current - target
	if tokensToReduce <= 0 {
		return 0, nil
	}
	charsToReduce := tokensToReduce * compaction.CharsPerToken

	refs, err := c.store.FindToolResultsBySize(sessionID, c.cfg.Truncate.MinOutputSizeToTruncate)
	if err != nil {
		return 0, err
	}

	removed := 0
	attempts := 0
	for _, ref := range refs {
		if removed >= charsToReduce || attempts >= c.cfg.Truncate.MaxPartsPerPass {
			break
		}
		changed, err := c.store.TruncatePart(ref.MessageID, ref.PartID)
		if err != nil {
			return removed, err
		}
		attempts++
		if changed {
			removed += ref.Size - len(messagestore.TruncationBanner())
			if c.metrics != nil {
				c.metrics.RecordPruningSavings("truncate", int64((ref.Size-len(messagestore.TruncationBanner()))/compaction.CharsPerToken))
			}
		}
	}
	return removed, nil
}

// summarize loads the session's current history and replaces it with a
// single summary message, following the same empty-history fallback and
// oversized-message notes as compaction.SummarizeWithFallback.
func (c *Controller) summarize(ctx context.Context, sessionID string) (string, error) {
	messages, err := c.store.LoadSessionMessages(sessionID)
	if err != nil {
		return "", fmt.Errorf("load session messages: %w", err)
	}

	compactionMessages := make([]*compaction.Message, 0, len(messages))
	for _, msg := range messages {
		parts, err := c.store.LoadParts(msg.ID)
		if err != nil {
			return "", fmt.Errorf("load parts for %s: %w", msg.ID, err)
		}
		content := ""
		for _, p := range parts {
			if p.Kind == messagestore.PartKindText {
				content += p.Text
			}
		}
		compactionMessages = append(compactionMessages, &compaction.Message{
			ID:        msg.ID,
			Role:      msg.Role,
			Content:   content,
			Timestamp: msg.CreatedAt.Unix(),
		})
	}

	summary, err := compaction.SummarizeWithFallback(ctx, compactionMessages, c.summarizer, compaction.DefaultSummarizationConfig())
	if err != nil {
		return "", err
	}

	if _, err := c.store.AppendMessage(sessionID, "system", []messagestore.Part{
		{Kind: messagestore.PartKindText, Text: summary},
	}); err != nil {
		return "", fmt.Errorf("append summary message: %w", err)
	}
	return summary, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
