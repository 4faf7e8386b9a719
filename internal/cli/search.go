package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/semfs/semfs/internal/config"
	"github.com/semfs/semfs/pkg/registry"
	"github.com/semfs/semfs/pkg/search"
	"github.com/semfs/semfs/pkg/semantic"

	"github.com/rs/zerolog"
)

var searchLimit int

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find files semantically similar to a query",
	Long: `Embed the query and rank indexed files by cosine similarity.
Works against the registry directly, so the daemon does not need
to be running.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVar(&searchLimit, "limit", search.DefaultLimit, "maximum number of results")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if cfg.Embedding.APIKey == "" {
		return fmt.Errorf("embedding api key not configured")
	}

	provider := semantic.NewOpenAIProvider(cfg.Embedding.APIKey, cfg.Embedding.Model)

	reg, err := registry.New(registry.Config{
		DBPath:    cfg.DatabasePath,
		Dimension: provider.Dimension(),
	})
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}
	defer reg.Close()

	searcher := search.New(provider, reg, zerolog.Nop())

	query := strings.Join(args, " ")
	results, err := searcher.Search(cmd.Context(), query, searchLimit)
	if err != nil {
		return err
	}

	if len(results) == 0 {
		fmt.Println("No matches")
		return nil
	}

	for i, result := range results {
		fmt.Printf("%2d. %.3f  %s\n", i+1, result.Similarity, result.Path)
	}
	return nil
}
