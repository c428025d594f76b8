package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

// NewStatsCmd constructs the `vocsight stats` command, which reports vector
// store contents.
func NewStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show vector store statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := resolveMode()
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			vectors, err := openVectorStore(mode)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			defer vectors.Close()

			stats, err := vectors.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}

			fmt.Printf("total records: %d\n", stats.Total)
			if stats.Total == 0 {
				return nil
			}

			fmt.Println("by type:")
			byType := make(map[string]int, len(stats.ByType))
			types := make([]string, 0, len(stats.ByType))
			for typ, n := range stats.ByType {
				byType[string(typ)] = n
				types = append(types, string(typ))
			}
			sort.Strings(types)
			for _, typ := range types {
				fmt.Printf("  %-16s %d\n", typ, byType[typ])
			}

			fmt.Println("by source:")
			sources := make([]string, 0, len(stats.BySource))
			for src := range stats.BySource {
				sources = append(sources, src)
			}
			sort.Strings(sources)
			for _, src := range sources {
				fmt.Printf("  %-16s %d\n", src, stats.BySource[src])
			}

			fmt.Printf("oldest: %s\nnewest: %s\n",
				stats.Oldest.Format("2006-01-02 15:04:05"),
				stats.Newest.Format("2006-01-02 15:04:05"))
			return nil
		},
	}
}
