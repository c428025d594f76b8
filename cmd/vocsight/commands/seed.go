package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vocsight/vocsight-go/internal/embedder"
	"github.com/vocsight/vocsight-go/internal/logging"
	"github.com/vocsight/vocsight-go/internal/taxonomy"
)

// NewSeedCmd constructs the `vocsight seed` command, which embeds a canonical
// taxonomy definition and upserts its labels into the vector store.
func NewSeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed <taxonomy.json>",
		Short: "Seed the vector store with canonical taxonomy labels",
		Long: `Load a taxonomy definition, embed every module and issue-type label, and
upsert them into the vector store as typed records. Seeding is idempotent:
labels already present are left untouched.

The definition file maps modules to sub-modules and issue types to
sub-issue types:

  {
    "modules":     {"Battery": ["Charging", "Drain"]},
    "issue_types": {"Hardware Failure": ["Overheating"]}
  }

Examples:
  vocsight seed taxonomy.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			def, err := taxonomy.Load(args[0])
			if err != nil {
				return fmt.Errorf("seed: %w", err)
			}

			mode, err := resolveMode()
			if err != nil {
				return fmt.Errorf("seed: %w", err)
			}
			vectors, err := openVectorStore(mode)
			if err != nil {
				return fmt.Errorf("seed: %w", err)
			}
			defer vectors.Close()

			if err := embedder.Validate(log); err != nil {
				return fmt.Errorf("seed: %w", err)
			}
			emb, err := embedder.NewFromEnv()
			if err != nil {
				return fmt.Errorf("seed: %w", err)
			}

			seeder, err := taxonomy.NewSeeder(emb, vectors)
			if err != nil {
				return fmt.Errorf("seed: %w", err)
			}

			n, err := seeder.Seed(ctx, def)
			if err != nil {
				return fmt.Errorf("seed: %w", err)
			}

			log.Info("taxonomy seeded", "file", args[0], "labels", n)
			fmt.Printf("Seeded %d taxonomy labels\n", n)
			return nil
		},
	}

	return cmd
}
