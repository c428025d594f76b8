package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vocsight/vocsight-go/internal/governance"
)

// NewDedupeCmd constructs the `vocsight dedupe` command, which reports groups
// of near-identical stored records without modifying anything.
func NewDedupeCmd() *cobra.Command {
	var threshold float64

	cmd := &cobra.Command{
		Use:   "dedupe",
		Short: "Report near-duplicate record groups in the vector store",
		Long: `Scan the vector store for groups of records whose similarity exceeds the
duplicate threshold. The scan is read-only; nothing is deleted.

The default threshold is the governed REUSE_ROW threshold for the active
mode. Pass --threshold to override it for a one-off scan.

Examples:
  vocsight dedupe
  vocsight dedupe --threshold 0.9`,
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := resolveMode()
			if err != nil {
				return fmt.Errorf("dedupe: %w", err)
			}

			if threshold == 0 {
				threshold, err = governance.NewProfile(mode).Threshold(governance.OpReuseRow)
				if err != nil {
					return fmt.Errorf("dedupe: %w", err)
				}
			}
			if threshold <= 0 || threshold > 1 {
				return fmt.Errorf("dedupe: threshold must be in (0, 1], got %v", threshold)
			}

			vectors, err := openVectorStore(mode)
			if err != nil {
				return fmt.Errorf("dedupe: %w", err)
			}
			defer vectors.Close()

			groups, err := vectors.FindDuplicates(cmd.Context(), threshold)
			if err != nil {
				return fmt.Errorf("dedupe: %w", err)
			}
			if len(groups) == 0 {
				fmt.Printf("no duplicate groups above %.2f\n", threshold)
				return nil
			}

			fmt.Printf("%d duplicate group(s) above %.2f:\n", len(groups), threshold)
			for i, group := range groups {
				fmt.Printf("group %d (%d records):\n", i+1, len(group))
				for _, rec := range group {
					text := rec.Text
					if len(text) > 70 {
						text = text[:67] + "..."
					}
					fmt.Printf("  %s  [%s/%s]  %s\n", rec.Hash[:12], rec.Type, rec.Source, text)
				}
			}
			return nil
		},
	}

	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Similarity threshold override in (0,1]")

	return cmd
}
