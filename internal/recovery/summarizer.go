package recovery

import (
	"context"
	"fmt"
	"strings"

	"github.com/relaycore/relaycore/internal/backend"
	"github.com/relaycore/relaycore/internal/compaction"
)

// BackendSummarizer implements compaction.Summarizer by delegating to the
// same backend.Client the scheduler uses to run sub-agents: it submits a
// no-reply-suppressed prompt asking the model to summarize the given
// messages against a dedicated scratch session, then reads the reply back.
type BackendSummarizer struct {
	client         backend.Client
	parentSession  string
	scratchSession string
	agent          string
	model          string
}

// NewBackendSummarizer wires a summarizer to an existing scratch session
// that SessionPrompt can address; the caller is responsible for creating
// and eventually tearing down that session alongside the sessions it
// summarizes for.
func NewBackendSummarizer(client backend.Client, scratchSession, agent, model string) *BackendSummarizer {
	return &BackendSummarizer{client: client, scratchSession: scratchSession, agent: agent, model: model}
}

// GenerateSummary satisfies compaction.Summarizer.
func (b *BackendSummarizer) GenerateSummary(ctx context.Context, messages []*compaction.Message, config *compaction.SummarizationConfig) (string, error) {
	if len(messages) == 0 {
		return compaction.DefaultSummaryFallback, nil
	}

	prompt := buildSummarizationPrompt(messages, config)
	if _, err := b.client.SessionPrompt(ctx, b.scratchSession, backend.PromptRequest{
		Agent:   b.agent,
		Model:   b.model,
		NoReply: false,
		System:  "You summarize conversation history concisely and factually. Respond with the summary only.",
		Parts: []backend.MessagePart{
			{PartType: "text", Text: prompt},
		},
	}); err != nil {
		return "", fmt.Errorf("submit summarization prompt: %w", err)
	}

	replies, err := b.client.SessionMessages(ctx, b.scratchSession)
	if err != nil {
		return "", fmt.Errorf("read summarization reply: %w", err)
	}
	for i := len(replies) - 1; i >= 0; i-- {
		if replies[i].Role == "assistant" && replies[i].Content != "" {
			return replies[i].Content, nil
		}
	}
	return compaction.DefaultSummaryFallback, nil
}

const defaultSummaryMaxChars = 2000

func buildSummarizationPrompt(messages []*compaction.Message, config *compaction.SummarizationConfig) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Summarize the following conversation in at most %d characters, preserving key decisions, open tasks, and facts a continuation would need.\n\n", defaultSummaryMaxChars)
	if config != nil && config.CustomInstructions != "" {
		fmt.Fprintf(&sb, "Additional instructions: %s\n\n", config.CustomInstructions)
	}
	for _, m := range messages {
		fmt.Fprintf(&sb, "[%s] %s\n", m.Role, m.Content)
	}
	return sb.String()
}
