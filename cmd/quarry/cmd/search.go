package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/quarry-search/quarry/internal/config"
	"github.com/quarry-search/quarry/internal/output"
	"github.com/quarry-search/quarry/internal/search"
	"github.com/quarry-search/quarry/internal/telemetry"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit    int
	weight   float64
	indexIDs bool
	format   string // "text", "json"
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query> [query...]",
		Short: "Run a batch search over the indexed documents",
		Long: `Run a batch of queries against the hybrid engine.

Plain queries are fused dense + sparse searches. Structured queries run
through the document database and may embed similar() clauses:

Examples:
  quarry search "error handling"
  quarry search "cats" "dogs" --limit 5
  quarry search "select id, text, score from documents where similar('pets') limit 3"
  quarry search "feline" --weight 1.0 --index-ids`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, args, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum results per query (0 = engine default)")
	cmd.Flags().Float64VarP(&opts.weight, "weight", "w", 0.5, "Dense fusion weight; sparse receives 1-w")
	cmd.Flags().BoolVar(&opts.indexIDs, "index-ids", false, "Return raw index positions, bypassing the database")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, queries []string, opts searchOptions) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	out := output.New(cmd.OutOrStdout())

	eng, err := openEngine(cfg, true)
	if err != nil {
		return fmt.Errorf("open engine (run 'quarry index' first): %w", err)
	}
	defer eng.close()

	orch, err := eng.orchestrator(ctx, opts.indexIDs)
	if err != nil {
		return err
	}

	weights := search.ScalarWeights(opts.weight)
	slog.Info("search_started", slog.Int("queries", len(queries)), slog.Int("limit", opts.limit))

	started := time.Now()
	responses, err := orch.Search(ctx, queries, search.Options{
		Limit:   opts.limit,
		Weights: &weights,
	})
	if err != nil {
		return err
	}
	recordSearch(queries, responses, opts.indexIDs, time.Since(started))

	if opts.format == "json" {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(responses)
	}

	for i, response := range responses {
		out.Header(queries[i])
		switch {
		case response.Rows != nil:
			for rank, row := range response.Rows {
				score, _ := row["score"].(float64)
				id, _ := row["id"].(string)
				text, _ := row["text"].(string)
				out.Result(rank+1, id, score, text)
			}
		default:
			for rank, match := range response.Matches {
				out.Result(rank+1, match.ID, match.Score, "")
			}
		}
	}

	return nil
}

// recordSearch feeds per-query events to the telemetry collector and logs
// the batch summary. Latency is apportioned evenly; the batch runs as one
// index pass so per-query timings are not observable.
func recordSearch(queries []string, responses []search.Response, bypass bool, elapsed time.Duration) {
	collector := telemetry.NewCollector()
	perQuery := elapsed / time.Duration(len(queries))

	for i, response := range responses {
		path := telemetry.PathIndex
		results := len(response.Matches)
		if response.Rows != nil {
			path = telemetry.PathDatabase
			results = len(response.Rows)
		}
		if bypass {
			path = telemetry.PathBypass
		}
		collector.Record(telemetry.QueryEvent{
			Query:   queries[i],
			Path:    path,
			Results: results,
			Latency: perQuery,
		})
	}

	s := collector.Snapshot()
	slog.Info("search_complete",
		slog.Int64("queries", s.TotalQueries),
		slog.Int64("zero_results", s.ZeroResultCount),
		slog.Duration("elapsed", elapsed))
	if s.ZeroResultCount > 0 {
		slog.Debug("zero_result_queries", slog.Any("queries", s.ZeroResultQueries))
	}
}
