// Package tokencount estimates token counts for chat messages. It uses a tiktoken
// BPE encoding when one is available and falls back to a whitespace count, so
// estimation never fails.
package tokencount

import (
	"log/slog"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	chat "github.com/kingidy/kingidy/internal"
)

// DefaultEncoding is the BPE encoding used when none is configured.
const DefaultEncoding = "cl100k_base"

// assistantBias accounts for the structural tokens carried by assistant turns.
const assistantBias = 4

// Encoder is the subset of *tiktoken.Tiktoken the counter needs.
type Encoder interface {
	Encode(text string, allowedSpecial []string, disallowedSpecial []string) []int
}

var _ chat.TokenEstimator = (*Counter)(nil)

// Counter estimates tokens for message content. A nil encoder means
// whitespace counting only. Counter is safe for concurrent use.
type Counter struct {
	enc Encoder
}

// NewCounter loads the named tiktoken encoding. If the encoding cannot be
// loaded (e.g. the BPE ranks are not cached and there is no network), the
// counter degrades to whitespace counting and logs a warning.
func NewCounter(encoding string) *Counter {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		slog.Warn("tokenizer unavailable, using whitespace estimate",
			"encoding", encoding,
			"error", err,
		)
		return &Counter{}
	}
	return &Counter{enc: enc}
}

// NewCounterWithEncoder returns a Counter backed by enc. A nil enc is valid.
func NewCounterWithEncoder(enc Encoder) *Counter {
	return &Counter{enc: enc}
}

// Estimate returns the token estimate for content authored by role.
// Assistant turns carry a fixed bias of 4.
func (c *Counter) Estimate(content string, role chat.Role) int {
	n := c.Count(content)
	if role == chat.RoleAssistant {
		n += assistantBias
	}
	return n
}

// Count returns the token count for text. Empty text counts as 0.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	if c.enc == nil {
		return WhitespaceCount(text)
	}
	return c.encode(text)
}

// encode runs the BPE encoder, recovering to the whitespace count if the
// encoder panics on unexpected input.
func (c *Counter) encode(text string) (n int) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Warn("tokenizer failed, using whitespace estimate", "error", rec)
			n = WhitespaceCount(text)
		}
	}()
	return len(c.enc.Encode(text, nil, nil))
}

// WhitespaceCount splits text on runs of whitespace and counts the non-empty pieces.
func WhitespaceCount(text string) int {
	return len(strings.Fields(text))
}
