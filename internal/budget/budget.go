// Package budget provides token budget estimation for batch classification
// prompts. Because the pipeline supports multiple LLM backends with different
// tokenizers, this package uses a conservative character-based heuristic:
// 1 token ≈ 4 characters (English prose). This deliberately under-estimates
// token counts to leave headroom for model-specific overhead.
package budget

import (
	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the conservative character-to-token ratio used for
	// estimation. 4 chars/token is standard for English; using 3 would be
	// more aggressive but risks overflowing context windows.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default input context budget in tokens.
	// Conservative enough to fit within 8k-context models (Llama 3 8B) while
	// leaving room for the structured classification response.
	DefaultMaxContextTokens = 6000
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
		// Each message has a small per-message overhead (~4 tokens in most APIs).
		total += 4
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// CapRows returns how many of the given row texts fit in a single prompt
// alongside the fixed messages (system prompt and framing) within maxTokens.
// The first row always counts so a single oversized row still gets classified
// rather than looping forever; callers send the remainder in further calls.
func CapRows(fixed []*schema.Message, rowTexts []string, maxTokens int) int {
	if len(rowTexts) == 0 {
		return 0
	}
	remaining := maxTokens - EstimateMessages(fixed)
	count := 0
	for _, text := range rowTexts {
		cost := Estimate(text)
		if count > 0 && cost > remaining {
			break
		}
		remaining -= cost
		count++
	}
	return count
}
