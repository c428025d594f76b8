// Package classify turns batches of VOC rows into structured issue
// classifications using an LLM. It builds a batch classification prompt,
// sends it through the configured chat backend, and parses the JSON response
// back onto the input rows. Retrieval context from prior classifications can
// be injected to keep labels consistent across runs.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/vocsight/vocsight-go/internal/budget"
	"github.com/vocsight/vocsight-go/internal/dataset"
	"github.com/vocsight/vocsight-go/internal/logging"
)

// systemPrompt establishes the classifier persona and the strict JSON output
// contract. The taxonomy fields mirror the analytics schema downstream
// consumers aggregate on.
const systemPrompt = `You are a senior VOC (voice of customer) analyst for a consumer
device manufacturer. You classify customer-reported device issues into a fixed
taxonomy so they can be aggregated, deduplicated, and routed to the right
engineering team.

For each issue you receive, determine:

- module: the top-level product area (e.g. "Camera", "Battery", "Display",
  "Connectivity", "Audio", "System", "Apps")
- sub_module: the specific component within the module (e.g. "Night Mode",
  "Charging", "Bluetooth")
- issue_type: the failure category (e.g. "Crash", "Performance", "Drain",
  "Disconnect", "UI Defect", "Data Loss")
- sub_issue_type: a narrower failure description within the issue_type
- severity: one of "critical", "high", "medium", "low" based on impact and
  reported frequency
- summary: one tightened sentence restating the issue in neutral language

Rules:
- Classify every issue you are given; never skip or merge entries
- Echo each issue's issue_id exactly as received
- When prior classifications are provided as context, reuse their module and
  sub_module labels for similar issues instead of inventing near-duplicates
- If the report is too vague to classify a field, use "Unknown" for that field

Respond with ONLY a JSON object in this exact shape, no markdown fencing and
no explanation outside the JSON:

{
  "rows": [
    {
      "issue_id": "BUG-12345",
      "module": "Camera",
      "sub_module": "Night Mode",
      "issue_type": "Crash",
      "sub_issue_type": "App Exit During Capture",
      "severity": "high",
      "summary": "Camera app exits when capturing photos in night mode."
    }
  ]
}`

// PromptVersion identifies the current revision of the classification
// prompt. Stamped into every stored record so reuse decisions can be audited
// against the prompt that produced them.
const PromptVersion = "v1"

// Result is the classification produced for a single VOC row.
type Result struct {
	// IssueID echoes the input row's tracking identifier.
	IssueID string `json:"issue_id"`
	// Module is the top-level product area.
	Module string `json:"module"`
	// SubModule is the component within the module.
	SubModule string `json:"sub_module"`
	// IssueType is the failure category.
	IssueType string `json:"issue_type"`
	// SubIssueType narrows the failure within the issue type.
	SubIssueType string `json:"sub_issue_type"`
	// Severity is one of critical, high, medium, low.
	Severity string `json:"severity"`
	// Summary is the tightened one-sentence restatement of the issue.
	Summary string `json:"summary"`
}

// Config holds the dependencies required to construct a Classifier.
type Config struct {
	// ChatModel is the LLM backend constructed by the provider factory.
	ChatModel model.ToolCallingChatModel

	// MaxContextTokens is the estimated token budget for a single prompt.
	// Batches whose rows exceed it are split across multiple model calls.
	// Defaults to budget.DefaultMaxContextTokens if zero.
	MaxContextTokens int
}

// Classifier classifies batches of VOC rows through a chat model.
type Classifier struct {
	chatModel        model.ToolCallingChatModel
	maxContextTokens int
}

// New constructs a Classifier from the provided Config.
func New(cfg *Config) (*Classifier, error) {
	if cfg.ChatModel == nil {
		return nil, fmt.Errorf("classify: ChatModel must not be nil")
	}
	maxCtx := cfg.MaxContextTokens
	if maxCtx <= 0 {
		maxCtx = budget.DefaultMaxContextTokens
	}
	return &Classifier{
		chatModel:        cfg.ChatModel,
		maxContextTokens: maxCtx,
	}, nil
}

// Classify classifies the given rows, returning one Result per input row in
// input order. retrievalContext, when non-empty, is injected as an extra
// system message carrying prior classifications for label consistency.
// Oversized batches are transparently split into multiple model calls.
func (c *Classifier) Classify(ctx context.Context, rows []dataset.Row, retrievalContext string) ([]Result, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	fixed := c.fixedMessages(retrievalContext)
	texts := make([]string, len(rows))
	for i, row := range rows {
		texts[i] = row.Text()
	}

	results := make([]Result, 0, len(rows))
	for start := 0; start < len(rows); {
		n := budget.CapRows(fixed, texts[start:], c.maxContextTokens)
		if n <= 0 {
			n = 1
		}
		sub := rows[start : start+n]
		if start > 0 || n < len(rows) {
			logging.FromContext(ctx).Debug("classify: splitting batch to fit token budget",
				slog.Int("offset", start),
				slog.Int("rows", n),
			)
		}
		subResults, err := c.classifyOnce(ctx, fixed, sub)
		if err != nil {
			return nil, err
		}
		results = append(results, subResults...)
		start += n
	}
	return results, nil
}

// classifyOnce sends one prompt for the given rows and aligns the parsed
// results back to the inputs.
func (c *Classifier) classifyOnce(ctx context.Context, fixed []*schema.Message, rows []dataset.Row) ([]Result, error) {
	messages := append(append([]*schema.Message{}, fixed...), schema.UserMessage(buildBatchPrompt(rows)))

	resp, err := c.chatModel.Generate(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("classify: generation failed: %w", err)
	}

	parsed, err := parseOutput(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	return alignResults(rows, parsed.Rows)
}

// fixedMessages returns the messages present in every prompt: the system
// prompt and, when provided, the retrieval context.
func (c *Classifier) fixedMessages(retrievalContext string) []*schema.Message {
	messages := []*schema.Message{schema.SystemMessage(systemPrompt)}
	if retrievalContext != "" {
		messages = append(messages, schema.SystemMessage(
			"## Prior Classifications\n\n"+
				"The following previously classified issues are similar to the batch "+
				"you are about to receive. Reuse their module and sub_module labels "+
				"where the new issues match.\n\n"+retrievalContext))
	}
	return messages
}

// buildBatchPrompt renders the rows as a JSON array the model classifies.
// JSON keeps field boundaries unambiguous for rows with embedded punctuation.
func buildBatchPrompt(rows []dataset.Row) string {
	payload, _ := json.MarshalIndent(rows, "", "  ")
	return fmt.Sprintf("Classify the following %d customer-reported issues:\n\n%s", len(rows), payload)
}

// alignResults maps parsed results back onto the input rows by issue_id,
// falling back to positional order when IDs are missing. A response that
// drops rows is an error; the caller annotates the whole batch.
func alignResults(rows []dataset.Row, parsed []Result) ([]Result, error) {
	if len(parsed) < len(rows) {
		return nil, fmt.Errorf("classify: response covered %d of %d rows", len(parsed), len(rows))
	}

	byID := make(map[string]Result, len(parsed))
	for _, r := range parsed {
		if r.IssueID != "" {
			byID[r.IssueID] = r
		}
	}

	aligned := make([]Result, len(rows))
	for i, row := range rows {
		if r, ok := byID[row.IssueID]; ok && row.IssueID != "" {
			aligned[i] = r
			continue
		}
		aligned[i] = parsed[i]
		aligned[i].IssueID = row.IssueID
	}
	return aligned, nil
}
