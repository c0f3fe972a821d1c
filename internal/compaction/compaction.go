// Package compaction turns a session's message history into a single
// summary when the RecoveryController's truncation pass alone cannot free
// enough room under a token-limit error. It chunks history to fit a
// summarizer's own context window, sets aside any single message that is
// itself oversized, and merges the resulting chunk summaries into one.
package compaction

import (
	"context"
	"fmt"
	"strings"
)

const (
	// BaseChunkRatio is the fraction of a summarizer's context window used to
	// size each chunk when the caller doesn't set MaxChunkTokens explicitly.
	BaseChunkRatio = 0.4

	// DefaultSummaryFallback is returned when there is no history to summarize.
	DefaultSummaryFallback = "No prior history."

	// OversizedThreshold is the fraction of the context window above which a
	// single message is set aside rather than fed to the summarizer.
	OversizedThreshold = 0.5

	// CharsPerToken is the character-to-token ratio RecoveryController uses
	// to convert the ParsedError token counts its ErrorParser extracts into
	// a byte budget for truncation and summarization alike.
	CharsPerToken = 4

	// DefaultContextWindow is the summarizer context window assumed when a
	// SummarizationConfig doesn't specify one.
	DefaultContextWindow = 100000
)

// Message is one entry of session history as compaction sees it: a flat
// role/content pair, already stripped of the tool-part structure
// messagestore.Part carries, since a summarizer only ever reads text.
type Message struct {
	Role        string
	Content     string
	Timestamp   int64
	ID          string
	ToolCalls   string
	ToolResults string
}

// EstimateTokens approximates a message's token count at CharsPerToken
// characters per token, ceiling-divided.
func EstimateTokens(msg *Message) int {
	if msg == nil {
		return 0
	}
	chars := len(msg.Content) + len(msg.ToolCalls) + len(msg.ToolResults)
	return (chars + CharsPerToken - 1) / CharsPerToken
}

// EstimateMessagesTokens sums EstimateTokens across messages.
func EstimateMessagesTokens(messages []*Message) int {
	total := 0
	for _, msg := range messages {
		total += EstimateTokens(msg)
	}
	return total
}

// ChunkMessagesByMaxTokens splits messages into chunks that each stay at or
// under maxTokens, in original order. A single message that alone exceeds
// maxTokens gets its own chunk rather than being dropped.
func ChunkMessagesByMaxTokens(messages []*Message, maxTokens int) [][]*Message {
	if len(messages) == 0 {
		return nil
	}
	if maxTokens <= 0 {
		return [][]*Message{messages}
	}

	var result [][]*Message
	current := make([]*Message, 0)
	currentTokens := 0

	for _, msg := range messages {
		msgTokens := EstimateTokens(msg)

		if msgTokens > maxTokens {
			if len(current) > 0 {
				result = append(result, current)
				current = make([]*Message, 0)
				currentTokens = 0
			}
			result = append(result, []*Message{msg})
			continue
		}

		if currentTokens+msgTokens > maxTokens && len(current) > 0 {
			result = append(result, current)
			current = make([]*Message, 0)
			currentTokens = 0
		}

		current = append(current, msg)
		currentTokens += msgTokens
	}

	if len(current) > 0 {
		result = append(result, current)
	}
	return result
}

// IsOversizedForSummary reports whether a single message exceeds
// OversizedThreshold of contextWindow and should be set aside rather than
// summarized.
func IsOversizedForSummary(msg *Message, contextWindow int) bool {
	if msg == nil || contextWindow <= 0 {
		return false
	}
	threshold := float64(contextWindow) * OversizedThreshold
	return float64(EstimateTokens(msg)) > threshold
}

// SummarizationConfig tunes a single summarization pass.
type SummarizationConfig struct {
	// Model is the model identifier the summarizer should use, if it has a
	// choice (BackendSummarizer ignores this and uses its scratch session's
	// own default).
	Model string

	// MaxChunkTokens caps each chunk handed to the summarizer in one call.
	// Zero derives a chunk size from ContextWindow * BaseChunkRatio.
	MaxChunkTokens int

	// ContextWindow is the summarizer's own context window, used both to
	// size chunks and to decide whether a message is oversized.
	ContextWindow int

	// CustomInstructions are appended to the summarization prompt.
	CustomInstructions string
}

// DefaultSummarizationConfig returns sensible defaults for summarizing
// inside a scratch session with an assumed 100k-token context window.
func DefaultSummarizationConfig() *SummarizationConfig {
	return &SummarizationConfig{
		MaxChunkTokens: 20000,
		ContextWindow:  DefaultContextWindow,
	}
}

// Summarizer generates a summary of a batch of messages. RecoveryController
// consumes this through BackendSummarizer, which drives it via a scratch
// backend.Client session.
type Summarizer interface {
	GenerateSummary(ctx context.Context, messages []*Message, config *SummarizationConfig) (string, error)
}

// SummarizeChunks summarizes messages in token-bounded chunks, then merges
// the per-chunk summaries into one. Single-chunk histories skip the merge
// pass entirely.
func SummarizeChunks(ctx context.Context, messages []*Message, summarizer Summarizer, config *SummarizationConfig) (string, error) {
	if len(messages) == 0 {
		return DefaultSummaryFallback, nil
	}
	if summarizer == nil {
		return "", fmt.Errorf("summarizer is nil")
	}
	if config == nil {
		config = DefaultSummarizationConfig()
	}

	maxChunkTokens := config.MaxChunkTokens
	if maxChunkTokens <= 0 {
		maxChunkTokens = int(float64(config.ContextWindow) * BaseChunkRatio)
	}

	chunks := ChunkMessagesByMaxTokens(messages, maxChunkTokens)
	if len(chunks) == 0 {
		return DefaultSummaryFallback, nil
	}
	if len(chunks) == 1 {
		return summarizer.GenerateSummary(ctx, chunks[0], config)
	}

	chunkSummaries := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		summary, err := summarizer.GenerateSummary(ctx, chunk, config)
		if err != nil {
			return "", fmt.Errorf("summarizing chunk %d: %w", i, err)
		}
		chunkSummaries = append(chunkSummaries, summary)
	}

	return mergeSummaries(ctx, chunkSummaries, summarizer, config)
}

// mergeSummaries folds multiple chunk summaries into a single coherent one
// by feeding them back to the summarizer as synthetic system messages.
func mergeSummaries(ctx context.Context, summaries []string, summarizer Summarizer, config *SummarizationConfig) (string, error) {
	if len(summaries) == 0 {
		return DefaultSummaryFallback, nil
	}
	if len(summaries) == 1 {
		return summaries[0], nil
	}

	mergeMessages := make([]*Message, len(summaries))
	for i, s := range summaries {
		mergeMessages[i] = &Message{
			Role:    "system",
			Content: fmt.Sprintf("Chunk %d summary:\n%s", i+1, s),
		}
	}

	mergeConfig := *config
	mergeConfig.CustomInstructions = "Merge these chunk summaries into a single coherent summary. Preserve key details and maintain chronological flow."
	if config.CustomInstructions != "" {
		mergeConfig.CustomInstructions = config.CustomInstructions + "\n\n" + mergeConfig.CustomInstructions
	}

	return summarizer.GenerateSummary(ctx, mergeMessages, &mergeConfig)
}

// SummarizeWithFallback summarizes messages, setting aside any individually
// oversized message as a note rather than failing the whole pass. This is
// the entry point RecoveryController's Phase 3 calls once truncation alone
// hasn't freed enough room.
func SummarizeWithFallback(ctx context.Context, messages []*Message, summarizer Summarizer, config *SummarizationConfig) (string, error) {
	if len(messages) == 0 {
		return DefaultSummaryFallback, nil
	}
	if summarizer == nil {
		return "", fmt.Errorf("summarizer is nil")
	}
	if config == nil {
		config = DefaultSummarizationConfig()
	}

	var normal []*Message
	var oversizedNotes []string

	for _, msg := range messages {
		if IsOversizedForSummary(msg, config.ContextWindow) {
			oversizedNotes = append(oversizedNotes, fmt.Sprintf(
				"[Oversized %s message with %d tokens - content omitted]", msg.Role, EstimateTokens(msg)))
		} else {
			normal = append(normal, msg)
		}
	}

	summary := DefaultSummaryFallback
	if len(normal) > 0 {
		s, err := SummarizeChunks(ctx, normal, summarizer, config)
		if err != nil {
			return "", fmt.Errorf("summarizing normal messages: %w", err)
		}
		summary = s
	}

	if len(oversizedNotes) > 0 {
		summary = summary + "\n\n" + strings.Join(oversizedNotes, "\n")
	}

	return summary, nil
}
