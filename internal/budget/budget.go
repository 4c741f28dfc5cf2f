// Package budget estimates prompt size and trims retrieved ticket blocks so
// a guide prompt fits the model's context window. Backends tokenize
// differently, so the estimate is a heuristic: one token per four
// characters, counted in runes so accented or CJK ticket text is not
// overcounted.
package budget

import (
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"
)

const (
	charsPerToken = 4

	// messageOverhead approximates the per-message framing tokens most
	// chat APIs add around role and content.
	messageOverhead = 4

	// DefaultMaxContextTokens leaves room for the guide inside an 8k
	// context window. Override with TIXRAG_CONTEXT_TOKENS.
	DefaultMaxContextTokens = 6000
)

// Estimate returns the approximate token count of s. Any non-empty string
// costs at least one token.
func Estimate(s string) int {
	runes := utf8.RuneCountInString(s)
	if runes == 0 {
		return 0
	}
	return max(runes/charsPerToken, 1)
}

// EstimateMessages sums Estimate over role and content plus framing
// overhead for every message.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += messageOverhead + Estimate(string(m.Role)) + Estimate(m.Content)
	}
	return total
}

// FitBlocks reports how many leading ticket blocks fit next to fixed within
// maxTokens. Blocks arrive best match first, so the lowest-ranked ones are
// dropped. One block is always kept when any exist; the caller logs when
// that block alone is over budget.
func FitBlocks(fixed []*schema.Message, blocks []string, maxTokens int) int {
	if len(blocks) == 0 {
		return 0
	}
	used := EstimateMessages(fixed)
	n := 0
	for _, b := range blocks {
		used += Estimate(b)
		if used > maxTokens {
			break
		}
		n++
	}
	return max(n, 1)
}
