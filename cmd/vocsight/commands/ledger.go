package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vocsight/vocsight-go/internal/discovery"
)

// NewLedgerCmd constructs the `vocsight ledger` command group for inspecting
// and maintaining the discovery ledger.
func NewLedgerCmd() *cobra.Command {
	var ledgerPath string

	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and maintain the discovery ledger",
		Long: `The discovery ledger is an append-only JSONL file recording raw discovery
notes per row when processing runs in discovery mode. Over time one row can
accumulate many entries; 'compact' merges them into one entry per row.`,
	}

	cmd.PersistentFlags().StringVar(&ledgerPath, "path", "", "Ledger file path (default: ~/.vocsight/discovery.jsonl)")

	resolvePath := func() (string, error) {
		if ledgerPath != "" {
			return ledgerPath, nil
		}
		return defaultLedgerPath()
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print ledger entries, merged by row",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolvePath()
			if err != nil {
				return fmt.Errorf("ledger: %w", err)
			}

			entries, err := discovery.Open(path).Load()
			if err != nil {
				return fmt.Errorf("ledger: %w", err)
			}
			if len(entries) == 0 {
				fmt.Println("ledger is empty")
				return nil
			}

			for _, e := range discovery.MergeByRow(entries) {
				fmt.Printf("%s [%s] refs=%d\n%s\n\n", e.RowID, e.Mode, len(e.EmbeddingRefs), e.RawDiscovery)
			}
			return nil
		},
	}

	compact := &cobra.Command{
		Use:   "compact",
		Short: "Merge ledger entries to one per row",
		Long: `Rewrite the ledger with one merged entry per row. The previous file is
kept alongside with a .bak suffix until the next compaction.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolvePath()
			if err != nil {
				return fmt.Errorf("ledger: %w", err)
			}

			if err := discovery.Open(path).Compact(); err != nil {
				return fmt.Errorf("ledger: %w", err)
			}
			fmt.Printf("compacted %s\n", path)
			return nil
		},
	}

	cmd.AddCommand(show, compact)
	return cmd
}
