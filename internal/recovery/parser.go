// Package recovery implements the context-window recovery pipeline: an
// ErrorParser that recognizes token-limit and empty-content errors across
// heterogeneous provider error shapes, and a RecoveryController that drives
// a per-session truncate-then-summarize state machine in response.
package recovery

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// ErrorKind tags what ErrorParser recognized in a surfaced error.
type ErrorKind int

const (
	// ErrorKindNone means the error did not match any recognized shape.
	ErrorKindNone ErrorKind = iota
	// ErrorKindEmptyContent means a message's text content blocks were
	// empty, which some providers reject outright.
	ErrorKindEmptyContent
	// ErrorKindTokenLimit means the prompt exceeded the model's context
	// window.
	ErrorKindTokenLimit
)

// ParsedError is ErrorParser's structured result. ProviderID and ModelID
// are never populated by the parser itself; the caller attaches them from
// the surrounding session context.
type ParsedError struct {
	Kind         ErrorKind
	MessageIndex int // -1 if not extracted
	Current      int
	Max          int
	ErrorType    string
	ProviderID   string
	ModelID      string
}

// thinkingBlockPatterns are the six families that identify an "extended
// thinking block" shape error, which is never a token-limit error even
// though its message text can otherwise resemble one. Ported verbatim from
// THINKING_BLOCK_ERROR_PATTERNS in
// anthropic_context_window_limit_recovery/parser.rs.
var thinkingBlockPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)thinking.*first block`),
	regexp.MustCompile(`(?i)first block.*thinking`),
	regexp.MustCompile(`(?i)must.*start.*thinking`),
	regexp.MustCompile(`(?i)thinking.*redacted_thinking`),
	regexp.MustCompile(`(?i)expected.*thinking.*found`),
	regexp.MustCompile(`(?i)thinking.*disabled.*cannot.*contain`),
}

var messageIndexPattern = regexp.MustCompile(`messages\.(\d+)`)

// tokenLimitPatterns is TOKEN_LIMIT_PATTERNS from parser.rs, ported
// verbatim. Each regex's first two capture groups are a (current, max) or
// (max, current) pair of token counts; extractTokens sorts them by
// magnitude since the family doesn't fix which side is which.
var tokenLimitPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(\d+)\s*tokens?\s*>\s*(\d+)\s*maximum`),
	regexp.MustCompile(`(?i)prompt.*?(\d+).*?tokens.*?exceeds.*?(\d+)`),
	regexp.MustCompile(`(?i)(\d+).*?tokens.*?limit.*?(\d+)`),
	regexp.MustCompile(`(?i)context.*?length.*?(\d+).*?maximum.*?(\d+)`),
	regexp.MustCompile(`(?i)max.*?context.*?(\d+).*?but.*?(\d+)`),
}

// tokenLimitKeywords is TOKEN_LIMIT_KEYWORDS from parser.rs, ported
// verbatim (order matters only in that "non-empty content" is handled as
// its own ErrorKindEmptyContent branch before this list is consulted).
var tokenLimitKeywords = []string{
	"prompt is too long",
	"is too long",
	"context_length_exceeded",
	"max_tokens",
	"token limit",
	"context length",
	"too many tokens",
	"non-empty content",
}

// Parse applies the heuristics of SPEC_FULL.md §4.E to a raw error value,
// which may be a string or a structured object (already JSON-decoded into
// map[string]any / []any / etc, or a json.RawMessage).
func Parse(raw any) ParsedError {
	text := extractText(raw)
	return ParseText(text)
}

// ParseText applies the same heuristics directly to an already-flattened
// error string.
func ParseText(text string) ParsedError {
	result := ParsedError{Kind: ErrorKindNone, MessageIndex: -1}
	if text == "" {
		return result
	}

	for _, p := range thinkingBlockPatterns {
		if p.MatchString(text) {
			return result
		}
	}

	if strings.Contains(strings.ToLower(text), "non-empty content") {
		result.Kind = ErrorKindEmptyContent
		result.ErrorType = "non-empty content"
		if m := messageIndexPattern.FindStringSubmatch(text); m != nil {
			if idx, err := strconv.Atoi(m[1]); err == nil {
				result.MessageIndex = idx
			}
		}
		return result
	}

	for _, re := range tokenLimitPatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		a, errA := strconv.Atoi(m[1])
		b, errB := strconv.Atoi(m[2])
		if errA != nil || errB != nil {
			continue
		}
		result.Kind = ErrorKindTokenLimit
		result.ErrorType = "token_limit_exceeded"
		if a > b {
			result.Current, result.Max = a, b
		} else {
			result.Current, result.Max = b, a
		}
		return result
	}

	lower := strings.ToLower(text)
	for _, kw := range tokenLimitKeywords {
		if strings.Contains(lower, kw) {
			result.Kind = ErrorKindTokenLimit
			result.ErrorType = "token_limit_exceeded_unknown"
			return result
		}
	}

	return result
}

// extractText flattens a polymorphic error value into the text ParseText
// scans. Structured objects are probed for responseBody, message,
// error.message, body, details, reason, and description, concatenated with
// spaces; if responseBody itself parses as JSON, its nested error.message
// is pulled in too.
func extractText(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.RawMessage:
		var obj map[string]any
		if err := json.Unmarshal(v, &obj); err == nil {
			return extractText(obj)
		}
		return string(v)
	case map[string]any:
		var parts []string
		if rb, ok := v["responseBody"]; ok {
			parts = append(parts, extractText(rb))
			if s, ok := rb.(string); ok {
				var nested map[string]any
				if err := json.Unmarshal([]byte(s), &nested); err == nil {
					if errObj, ok := nested["error"].(map[string]any); ok {
						if msg, ok := errObj["message"].(string); ok {
							parts = append(parts, msg)
						}
					}
				}
			}
		}
		if msg, ok := v["message"].(string); ok {
			parts = append(parts, msg)
		}
		if errObj, ok := v["error"].(map[string]any); ok {
			if msg, ok := errObj["message"].(string); ok {
				parts = append(parts, msg)
			}
		}
		if body, ok := v["body"].(string); ok {
			parts = append(parts, body)
		}
		if details, ok := v["details"].(string); ok {
			parts = append(parts, details)
		}
		if reason, ok := v["reason"].(string); ok {
			parts = append(parts, reason)
		}
		if desc, ok := v["description"].(string); ok {
			parts = append(parts, desc)
		}
		return strings.Join(parts, " ")
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return extractText(json.RawMessage(data))
	}
}
