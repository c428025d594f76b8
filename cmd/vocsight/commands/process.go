package commands

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/vocsight/vocsight-go/internal/dataset"
	"github.com/vocsight/vocsight-go/internal/discovery"
	"github.com/vocsight/vocsight-go/internal/engine"
	"github.com/vocsight/vocsight-go/internal/governance"
	"github.com/vocsight/vocsight-go/internal/logging"
	"github.com/vocsight/vocsight-go/internal/tracing"
)

// rowOutput is the per-row JSON shape written by `vocsight process`.
type rowOutput struct {
	Index       int    `json:"index"`
	IssueID     string `json:"issue_id"`
	Status      string `json:"status"`
	Module      string `json:"module,omitempty"`
	SubModule   string `json:"sub_module,omitempty"`
	IssueType   string `json:"issue_type,omitempty"`
	SubIssue    string `json:"sub_issue_type,omitempty"`
	Severity    string `json:"severity,omitempty"`
	Summary     string `json:"summary,omitempty"`
	MatchedHash string `json:"matched_hash,omitempty"`
	Error       string `json:"error,omitempty"`
}

// NewProcessCmd constructs the `vocsight process` command, which classifies a
// converted VOC dataset end to end and writes per-row results as JSON.
func NewProcessCmd() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "process <dataset.json>",
		Short: "Classify a converted VOC dataset",
		Long: `Run the full classification pipeline over a converted VOC dataset.

The input is the JSON produced by the spreadsheet converter: either a flat
array of rows or a map of sheet name to row array. Rows are embedded, deduped
against stored inputs, short-circuited from prior results where the governed
similarity threshold allows, and the remainder classified by the LLM in
bounded-concurrency batches. Output order always matches input order.

Examples:
  vocsight process voc_issues.json
  vocsight process voc_issues.json --out results.json
  VOCSIGHT_MODE=discovery vocsight process voc_issues.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			// Langfuse tracing is opt-in, no-op if keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			}

			rows, err := dataset.Load(args[0])
			if err != nil {
				return fmt.Errorf("process: %w", err)
			}
			if len(rows) == 0 {
				return fmt.Errorf("process: %s contains no rows", args[0])
			}
			log.Info("dataset loaded", slog.String("path", args[0]), slog.Int("rows", len(rows)))

			eng, _, sessions, cleanup, err := buildEngine(ctx, log, prometheus.NewRegistry())
			if err != nil {
				return fmt.Errorf("process: %w", err)
			}
			defer cleanup()

			id, progress, err := eng.Start(ctx, rows)
			if err != nil {
				return fmt.Errorf("process: %w", err)
			}

			// Cancel the session if the user interrupts; the engine finishes
			// in-flight batches and abandons the rest.
			go func() {
				<-ctx.Done()
				_ = eng.Cancel(cmd.Context(), id)
			}()

			for p := range progress {
				log.Info("progress",
					slog.String("session_id", id),
					slog.Int("chunks_completed", p.ChunksCompleted),
					slog.Int("total_chunks", p.TotalChunks),
					slog.String("status", fmt.Sprintf("%.0f%%", p.Percent)),
				)
			}

			results, err := eng.Wait(id)
			if err != nil {
				return fmt.Errorf("process: %w", err)
			}

			if sess, found, serr := sessions.Get(cmd.Context(), id); serr == nil && found {
				log.Info("session finished",
					slog.String("session_id", id),
					slog.String("state", string(sess.State)),
					slog.Int("processed_rows", sess.ProcessedRows),
					slog.Int("duplicates_dropped", sess.DuplicatesDropped),
					slog.Int("reuse_hits", sess.ReuseHits),
				)
			}

			if err := recordDiscoveries(log, results); err != nil {
				log.Warn("discovery ledger append failed", slog.Any("error", err))
			}

			return writeResults(outPath, results)
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Write results JSON to this file (default: stdout)")

	return cmd
}

// recordDiscoveries appends classified rows to the discovery ledger when the
// process runs in discovery mode. Other modes skip the ledger entirely.
func recordDiscoveries(log *slog.Logger, results []engine.RowResult) error {
	mode, err := resolveMode()
	if err != nil || mode != governance.ModeDiscovery {
		return err
	}

	path, err := defaultLedgerPath()
	if err != nil {
		return err
	}
	ledger := discovery.Open(path)

	appended := 0
	for _, res := range results {
		if res.Status != engine.StatusClassified {
			continue
		}
		entry := discovery.Entry{
			RowID:         res.Row.IssueID,
			RawDiscovery:  res.Result.Summary,
			Mode:          string(mode),
			EmbeddingRefs: res.EmbeddingRefs,
		}
		if err := ledger.Append(entry); err != nil {
			return err
		}
		appended++
	}
	if appended > 0 {
		log.Info("discovery ledger updated", slog.String("path", path), slog.Int("entries", appended))
	}
	return nil
}

// writeResults renders the per-row outcomes as JSON to path or stdout.
func writeResults(path string, results []engine.RowResult) error {
	out := make([]rowOutput, 0, len(results))
	for _, res := range results {
		row := rowOutput{
			Index:       res.Index,
			IssueID:     res.Row.IssueID,
			Status:      string(res.Status),
			MatchedHash: res.MatchedHash,
			Error:       res.Error,
		}
		if res.Status == engine.StatusClassified || res.Status == engine.StatusReused {
			row.Module = res.Result.Module
			row.SubModule = res.Result.SubModule
			row.IssueType = res.Result.IssueType
			row.SubIssue = res.Result.SubIssueType
			row.Severity = res.Result.Severity
			row.Summary = res.Result.Summary
		}
		out = append(out, row)
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("process: encode results: %w", err)
	}
	data = append(data, '\n')

	if path == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("process: write %s: %w", path, err)
	}
	return nil
}
