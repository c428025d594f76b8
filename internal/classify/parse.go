package classify

import (
	"encoding/json"
	"fmt"
	"strings"
)

// output is the JSON envelope the model is instructed to return.
type output struct {
	// Rows holds one classification per input row.
	Rows []Result `json:"rows"`
}

// parseOutput extracts the classification envelope from raw model output.
// Models occasionally wrap the JSON in a markdown fence despite instructions,
// so fences are stripped before unmarshalling.
func parseOutput(raw string) (*output, error) {
	cleaned := stripFence(strings.TrimSpace(raw))

	parsed := &output{}
	if err := json.Unmarshal([]byte(cleaned), parsed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal classification output: %w", err)
	}
	return parsed, nil
}

// stripFence removes a surrounding markdown code fence (``` or ```json) if
// present. Input without a fence is returned unchanged.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
