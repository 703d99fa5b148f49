package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/harun/recall/internal/app"
	"github.com/harun/recall/pkg/search"
	"github.com/spf13/cobra"
)

func newSearchCmd(opts *globalOptions) *cobra.Command {
	var (
		limit     int
		queryType string
		layers    []string
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Hybrid keyword and semantic search",
		Long: `Search runs keyword and semantic retrieval concurrently and fuses the
results. The query type (factual, conceptual, conversational) selects weight
boosts and is inferred from the query unless --type is given.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")

			var qt search.QueryType
			if queryType != "" {
				parsed, ok := search.ParseQueryType(queryType)
				if !ok {
					return fmt.Errorf("unknown query type %q", queryType)
				}
				qt = parsed
			}

			return opts.run(cmd, func(ctx context.Context, a *app.App) error {
				results := a.Engine.Search(ctx, query, search.SearchOptions{
					Limit:     limit,
					Layers:    layers,
					QueryType: qt,
				})
				if results == nil {
					results = []search.Result{}
				}
				return printJSON(cmd, results)
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "maximum results (default from config)")
	cmd.Flags().StringVar(&queryType, "type", "", fmt.Sprintf("query type (%s, %s, %s, %s)", search.Factual, search.Conceptual, search.Conversational, search.Unknown))
	cmd.Flags().StringSliceVar(&layers, "layers", nil, "layers to search (default: all)")
	return cmd
}

func newStatsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show per-layer statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, a *app.App) error {
				return printJSON(cmd, a.Store.Stats(ctx))
			})
		},
	}
}
