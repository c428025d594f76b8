package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// NewSweepCmd constructs the `vocsight sweep` command, which deletes stored
// records older than a cutoff.
func NewSweepCmd() *cobra.Command {
	var olderThanDays int
	var yes bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete stored records older than a cutoff",
		Long: `Delete every record whose creation time is older than the cutoff.

This permanently removes embeddings and their metadata; rows deleted here
will be re-embedded and re-classified on their next appearance.

Examples:
  vocsight sweep --older-than 90 --yes
  vocsight sweep --older-than 30`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThanDays <= 0 {
				return fmt.Errorf("sweep: --older-than must be a positive number of days")
			}
			if !yes {
				return fmt.Errorf("sweep: refusing to delete without --yes")
			}

			mode, err := resolveMode()
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			vectors, err := openVectorStore(mode)
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			defer vectors.Close()

			cutoff := time.Now().AddDate(0, 0, -olderThanDays)
			removed, err := vectors.SweepOlderThan(cmd.Context(), cutoff)
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}

			fmt.Printf("removed %d record(s) older than %s\n", removed, cutoff.Format("2006-01-02"))
			return nil
		},
	}

	cmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Delete records older than this many days")
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deletion")

	return cmd
}
