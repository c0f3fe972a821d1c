package recovery

import "testing"

func TestParseTextThinkingBlockIsNotTokenLimit(t *testing.T) {
	result := ParseText("Expected thinking or redacted_thinking block as first block")
	if result.Kind != ErrorKindNone {
		t.Fatalf("Kind = %v, want ErrorKindNone", result.Kind)
	}
}

func TestParseTextThinkingBlockPatterns(t *testing.T) {
	cases := []string{
		"thinking must be the first block in the message",
		"first block must be a thinking block",
		"messages must start with thinking when extended thinking is enabled",
		"thinking blocks cannot precede redacted_thinking blocks out of order",
		"expected a thinking block but found text instead",
		"thinking is disabled and cannot contain redacted content",
	}
	for _, text := range cases {
		result := ParseText(text)
		if result.Kind != ErrorKindNone {
			t.Fatalf("ParseText(%q).Kind = %v, want ErrorKindNone", text, result.Kind)
		}
	}
}

func TestParseTextThinkingBlockTakesPrecedenceOverTokenLimitKeyword(t *testing.T) {
	// This text matches a thinking-block pattern AND contains a token-limit
	// keyword ("token limit"); the thinking-block exclusion must win.
	result := ParseText("thinking must be the first block: token limit exceeded")
	if result.Kind != ErrorKindNone {
		t.Fatalf("Kind = %v, want ErrorKindNone", result.Kind)
	}
}

func TestParseTextEmptyContent(t *testing.T) {
	result := ParseText("messages.3: text content blocks must have non-empty content")
	if result.Kind != ErrorKindEmptyContent {
		t.Fatalf("Kind = %v, want ErrorKindEmptyContent", result.Kind)
	}
	if result.MessageIndex != 3 {
		t.Fatalf("MessageIndex = %d, want 3", result.MessageIndex)
	}
	// "non-empty content" is one of the eight TOKEN_LIMIT_KEYWORDS in
	// parser.rs, but ParseText checks it ahead of the keyword loop and
	// always classifies it as ErrorKindEmptyContent instead, matching
	// parser.rs's own special-cased handling of this phrase.
	if result.ErrorType != "non-empty content" {
		t.Fatalf("ErrorType = %q, want \"non-empty content\"", result.ErrorType)
	}
}

func TestParseTextTokenLimitNumeric(t *testing.T) {
	result := ParseText("260000 tokens > 200000 maximum")
	if result.Kind != ErrorKindTokenLimit {
		t.Fatalf("Kind = %v, want ErrorKindTokenLimit", result.Kind)
	}
	if result.Current != 260000 || result.Max != 200000 {
		t.Fatalf("Current/Max = %d/%d, want 260000/200000", result.Current, result.Max)
	}
}

func TestParseTextTokenLimitOrderIndependent(t *testing.T) {
	// Some provider messages report (max, current) in the opposite order;
	// current must always end up as the larger value.
	result := ParseText("prompt uses 999 tokens exceeds limit of 100")
	if result.Kind != ErrorKindTokenLimit {
		t.Fatalf("Kind = %v, want ErrorKindTokenLimit", result.Kind)
	}
	if result.Current != 999 || result.Max != 100 {
		t.Fatalf("Current/Max = %d/%d, want 999/100", result.Current, result.Max)
	}
}

func TestParseTextTokenLimitPatternFamilies(t *testing.T) {
	cases := []struct {
		text         string
		current, max int
	}{
		// (\d+)\s*tokens?\s*>\s*(\d+)\s*maximum
		{"260000 tokens > 200000 maximum", 260000, 200000},
		// prompt.*?(\d+).*?tokens.*?exceeds.*?(\d+)
		{"prompt uses 999 tokens exceeds limit of 100", 999, 100},
		// (\d+).*?tokens.*?limit.*?(\d+)
		{"this request used 50000 tokens, limit is 40000", 50000, 40000},
		// context.*?length.*?(\d+).*?maximum.*?(\d+)
		{"context window length 120000 exceeds the maximum of 100000", 120000, 100000},
		// max.*?context.*?(\d+).*?but.*?(\d+)
		{"max context is 80000 tokens but got 90000 tokens in this request", 90000, 80000},
	}
	for _, c := range cases {
		result := ParseText(c.text)
		if result.Kind != ErrorKindTokenLimit {
			t.Fatalf("ParseText(%q).Kind = %v, want ErrorKindTokenLimit", c.text, result.Kind)
		}
		if result.Current != c.current || result.Max != c.max {
			t.Fatalf("ParseText(%q) Current/Max = %d/%d, want %d/%d", c.text, result.Current, result.Max, c.current, c.max)
		}
		if result.ErrorType != "token_limit_exceeded" {
			t.Fatalf("ParseText(%q).ErrorType = %q, want token_limit_exceeded", c.text, result.ErrorType)
		}
	}
}

func TestParseTextTokenLimitKeywordFallback(t *testing.T) {
	result := ParseText("Error: context_length_exceeded, please shorten your input")
	if result.Kind != ErrorKindTokenLimit {
		t.Fatalf("Kind = %v, want ErrorKindTokenLimit", result.Kind)
	}
	if result.ErrorType != "token_limit_exceeded_unknown" {
		t.Fatalf("ErrorType = %q, want token_limit_exceeded_unknown", result.ErrorType)
	}
	if result.Current != 0 || result.Max != 0 {
		t.Fatalf("Current/Max = %d/%d, want 0/0", result.Current, result.Max)
	}
}

func TestParseTextTokenLimitKeywords(t *testing.T) {
	// Every TOKEN_LIMIT_KEYWORDS entry except "non-empty content", which is
	// covered separately by TestParseTextEmptyContent since ParseText
	// special-cases it to ErrorKindEmptyContent before this fallback loop
	// runs. None of these strings contain digits, so no tokenLimitPatterns
	// regex fires first; each must be caught by the keyword loop alone.
	cases := []string{
		"the prompt is too long for this model",
		"your request is too long to process",
		"context_length_exceeded",
		"max_tokens exceeded for this request",
		"you have hit the token limit for this session",
		"reduce the context length and try again",
		"this request has too many tokens to process",
	}
	for _, text := range cases {
		result := ParseText(text)
		if result.Kind != ErrorKindTokenLimit {
			t.Fatalf("ParseText(%q).Kind = %v, want ErrorKindTokenLimit", text, result.Kind)
		}
		if result.ErrorType != "token_limit_exceeded_unknown" {
			t.Fatalf("ParseText(%q).ErrorType = %q, want token_limit_exceeded_unknown", text, result.ErrorType)
		}
	}
}

func TestParseTextNoMatch(t *testing.T) {
	result := ParseText("the tool call failed because the file does not exist")
	if result.Kind != ErrorKindNone {
		t.Fatalf("Kind = %v, want ErrorKindNone", result.Kind)
	}
}

func TestParseStructuredObject(t *testing.T) {
	raw := map[string]any{
		"error": map[string]any{
			"message": "420000 tokens > 200000 maximum",
		},
	}
	result := Parse(raw)
	if result.Kind != ErrorKindTokenLimit {
		t.Fatalf("Kind = %v, want ErrorKindTokenLimit", result.Kind)
	}
	if result.Current != 420000 {
		t.Fatalf("Current = %d, want 420000", result.Current)
	}
}

func TestParseStructuredResponseBody(t *testing.T) {
	raw := map[string]any{
		"responseBody": `{"error":{"message":"300000 tokens > 200000 maximum"}}`,
	}
	result := Parse(raw)
	if result.Kind != ErrorKindTokenLimit {
		t.Fatalf("Kind = %v, want ErrorKindTokenLimit", result.Kind)
	}
	if result.Current != 300000 {
		t.Fatalf("Current = %d, want 300000", result.Current)
	}
}
