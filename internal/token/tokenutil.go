// Package token provides centralized token counting backed by tiktoken-go.
// It lazily initializes the cl100k_base encoding on first use and falls back
// to a character-based heuristic if initialization fails.
//
// Conversation budget bookkeeping deliberately uses the cheap Estimate
// function (ceil(len/4)) so that stored token counts are reproducible across
// processes regardless of encoder availability.
package token

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	once     sync.Once
	encoding *tiktoken.Tiktoken
)

func initEncoding() {
	once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
}

// Count returns an accurate token count using cl100k_base encoding.
// If tiktoken is unavailable, it falls back to Estimate.
func Count(text string) int {
	initEncoding()
	if encoding != nil {
		return len(encoding.Encode(text, nil, nil))
	}
	return Estimate(text)
}

// Estimate returns the budget heuristic used for conversation accounting:
// ceil(len(content)/4), with a floor of 1 for non-empty input.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// Truncate shortens text to approximately maxTokens, using tiktoken when
// available and a rune heuristic otherwise. A non-positive maxTokens returns
// text unchanged.
func Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	initEncoding()
	if encoding != nil {
		tokens := encoding.Encode(text, nil, nil)
		if len(tokens) <= maxTokens {
			return text
		}
		return encoding.Decode(tokens[:maxTokens]) + "..."
	}
	runes := []rune(text)
	limit := maxTokens * 4
	if limit >= len(runes) {
		return text
	}
	return strings.TrimSpace(string(runes[:limit])) + "..."
}
