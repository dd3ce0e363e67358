package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/olexmal/megabrain/internal/api"
	megaerrors "github.com/olexmal/megabrain/internal/errors"
)

type searchOptions struct {
	limit      int
	language   string
	repository string
	entityType string
	transitive bool
	depth      int
	embedding  string
	format     string
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed codebase",
		Long: `Search fans the query out to the keyword index, the vector index (if
an --embedding is given), and the graph closure over structural
relationships (if --transitive is set and the query contains an
implements:, extends: or usages: predicate), then merges the results.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results (default: 10)")
	cmd.Flags().StringVarP(&opts.language, "language", "l", "", "Filter by language (e.g., go, python)")
	cmd.Flags().StringVarP(&opts.repository, "repository", "r", "", "Filter by repository")
	cmd.Flags().StringVarP(&opts.entityType, "entity-type", "e", "", "Filter by entity type (e.g., function, interface)")
	cmd.Flags().BoolVar(&opts.transitive, "transitive", false, "Follow structural relationships (implements/extends/usages)")
	cmd.Flags().IntVar(&opts.depth, "depth", 0, "Closure depth when --transitive is set (default: search.default_depth)")
	cmd.Flags().StringVar(&opts.embedding, "embedding", "", "Comma-separated query embedding, enables the vector index")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	b, err := openBackends()
	if err != nil {
		return err
	}
	defer b.Close()

	embedding, err := parseEmbedding(opts.embedding)
	if err != nil {
		return err
	}

	req := api.QueryRequest{
		QueryText:  query,
		Limit:      opts.limit,
		Language:   opts.language,
		Repository: opts.repository,
		EntityType: opts.entityType,
		Transitive: opts.transitive,
		Depth:      opts.depth,
		Embedding:  embedding,
	}

	orchReq, err := api.ToOrchestratorRequest(req, b.Config.Vector.Dim, b.Config.Search.DefaultDepth, b.Config.Search.MaxDepth, b.Config.Vector.Threshold)
	if err != nil {
		return printSearchError(cmd, err)
	}

	resp, err := b.Orchestrator.Search(ctx, orchReq)
	if err != nil {
		return printSearchError(cmd, err)
	}

	dto := api.FromOrchestratorResponse(resp)

	if opts.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(dto)
	}
	return printSearchText(cmd, dto)
}

func printSearchText(cmd *cobra.Command, dto api.QueryResponse) error {
	out := cmd.OutOrStdout()
	if len(dto.Results) == 0 {
		fmt.Fprintln(out, "no results")
	}
	for i, r := range dto.Results {
		fmt.Fprintf(out, "%d. %s:%d-%d  %s (%s)  score=%.3f\n",
			i+1, r.Chunk.SourceFile, r.Chunk.StartLine, r.Chunk.EndLine, r.Chunk.EntityName, r.Chunk.EntityType, r.Score)
		if r.IsTransitive {
			fmt.Fprintf(out, "   via %s\n", strings.Join(r.RelationshipPath, " -> "))
		}
	}
	if dto.Truncated {
		fmt.Fprintln(out, "(results truncated to the requested limit)")
	}
	if len(dto.Degraded) > 0 {
		fmt.Fprintf(out, "degraded backends: %s\n", strings.Join(dto.Degraded, ", "))
	}
	return nil
}

func printSearchError(cmd *cobra.Command, err error) error {
	fmt.Fprintln(cmd.ErrOrStderr(), megaerrors.FormatForCLI(err))
	return err
}

func parseEmbedding(raw string) ([]float32, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, megaerrors.InvalidArgument(fmt.Sprintf("invalid embedding value %q", p), err)
		}
		out[i] = float32(v)
	}
	return out, nil
}
