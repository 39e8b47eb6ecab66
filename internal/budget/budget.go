// Package budget estimates prompt sizes and trims retrieved context to fit
// the model's input window. Because bowen supports several LLM backends with
// different tokenizers, it uses a character heuristic: 1 token ≈ 4 characters
// of English prose.
package budget

import (
	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default input context budget in tokens.
	// It fits the system prompt, the question and ten legislation excerpts
	// within 8k-context models while leaving room for the answer.
	DefaultMaxContextTokens = 6000

	// messageOverhead approximates the per-message framing most chat APIs add.
	messageOverhead = 4
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for a slice of
// schema.Message values, summing role + content for each message.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += messageOverhead
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// Trim finds the largest keep ≤ n such that build(keep) fits within
// maxTokens, dropping items from the tail (the lowest ranked) first. It
// returns the messages for that keep and keep itself. When even build(0)
// exceeds the budget, build(0) is returned; the fixed part of a prompt is
// never cut here.
func Trim(n, maxTokens int, build func(keep int) []*schema.Message) ([]*schema.Message, int) {
	for keep := n; keep > 0; keep-- {
		msgs := build(keep)
		if EstimateMessages(msgs) <= maxTokens {
			return msgs, keep
		}
	}
	return build(0), 0
}
