package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vocsight/vocsight-go/internal/logging"
)

// NewQueryCmd constructs the `vocsight query` command, which runs a governed
// similarity search over the stored embeddings.
func NewQueryCmd() *cobra.Command {
	var limit int
	var minSimilarity float64

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Search stored VOC records by similarity",
		Long: `Embed the query text and search the vector store, applying type bias and
profile-weighted re-ranking.

Examples:
  vocsight query "battery drains overnight"
  vocsight query --limit 20 "bluetooth disconnects in car"
  vocsight query --min 0.8 "camera crash"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			mode, err := resolveMode()
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}
			vectors, err := openVectorStore(mode)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}
			defer vectors.Close()

			retriever, err := buildRetriever(vectors, log)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}

			results, err := retriever.Retrieve(ctx, args[0], limit, minSimilarity)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}
			if len(results) == 0 {
				fmt.Println("no matches")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SCORE\tSIM\tTYPE\tSOURCE\tTEXT")
			for _, res := range results {
				text := res.Record.Text
				if len(text) > 80 {
					text = text[:77] + "..."
				}
				fmt.Fprintf(w, "%.3f\t%.3f\t%s\t%s\t%s\n",
					res.FinalScore, res.RawSimilarity, res.Record.Type, res.Record.Source, text)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of results (default 8)")
	cmd.Flags().Float64Var(&minSimilarity, "min", 0, "Minimum raw similarity in [0,1] (default from profile)")

	return cmd
}
