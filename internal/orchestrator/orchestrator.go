// Package orchestrator implements the SearchOrchestrator: concurrent
// fan-out to the keyword, vector and graph back-ends, merge, rank and cap.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/olexmal/megabrain/internal/chunk"
	"github.com/olexmal/megabrain/internal/config"
	"github.com/olexmal/megabrain/internal/errors"
	"github.com/olexmal/megabrain/internal/graphclosure"
	"github.com/olexmal/megabrain/internal/merge"
	"github.com/olexmal/megabrain/internal/queryparse"
	"github.com/olexmal/megabrain/internal/resolver"
	"github.com/olexmal/megabrain/internal/vectorindex"
)

// KeywordBackend is the subset of keywordindex.Index the orchestrator needs.
type KeywordBackend interface {
	Query(ctx context.Context, residualText string, facets queryparse.Facets, limit int) ([]*merge.ScoredResult, error)
	resolver.NameLookup
	GetByIDs(ctx context.Context, ids []string) ([]*chunk.Chunk, error)
}

// VectorBackend is the subset of vectorindex.Index the orchestrator needs.
type VectorBackend interface {
	Query(ctx context.Context, query []float32, k int, threshold float64) ([]*vectorindex.Result, error)
	Unavailable() bool
}

// GraphBackend is the subset of graphclosure.Graph the orchestrator needs.
type GraphBackend interface {
	ImplementsClosure(root string, depth int) []graphclosure.ClosureEntry
	ExtendsClosure(root string, depth int) []graphclosure.ClosureEntry
	UsagesClosure(root string, depth int) []graphclosure.ClosureEntry
}

// Request is a SearchRequest (spec section 4). QueryText is required.
type Request struct {
	QueryText  string
	Limit      int
	Language   string
	Repository string
	EntityType string
	Transitive bool
	Depth      int
	Embedding  []float32
	Threshold  float64
}

// Response wraps the ranked results plus degraded-backend provenance.
type Response struct {
	Results   []*merge.Result
	Degraded  []string
	Truncated bool
}

// Orchestrator wires KeywordIndex, VectorIndex, GraphClosure and
// EntityResolver into the single search(request) -> [SearchResult]
// operation described in section 4.7. Each backend leg is guarded by its
// own circuit breaker so a backend that keeps failing stops being hit on
// every request and instead degrades immediately.
type Orchestrator struct {
	Keyword KeywordBackend
	Vector  VectorBackend
	Graph   GraphBackend
	Config  config.SearchConfig
	Weights merge.Weights

	keywordCB *errors.CircuitBreaker
	vectorCB  *errors.CircuitBreaker
	graphCB   *errors.CircuitBreaker
}

// New builds an Orchestrator from its back-ends and configuration.
func New(keyword KeywordBackend, vector VectorBackend, graph GraphBackend, cfg config.SearchConfig, mergeCfg config.MergeConfig) *Orchestrator {
	return &Orchestrator{
		Keyword: keyword,
		Vector:  vector,
		Graph:   graph,
		Config:  cfg,
		Weights: merge.Weights{
			Keyword: mergeCfg.WeightKeyword,
			Vector:  mergeCfg.WeightVector,
			Graph:   mergeCfg.WeightGraph,
		},
		keywordCB: errors.NewCircuitBreaker("keyword"),
		vectorCB:  errors.NewCircuitBreaker("vector"),
		graphCB:   errors.NewCircuitBreaker("graph"),
	}
}

// Search runs the full fan-out/merge/rank/cap pipeline for one request.
func (o *Orchestrator) Search(ctx context.Context, req Request) (*Response, error) {
	if req.QueryText == "" {
		return nil, errors.InvalidArgument("query_text must not be empty", nil)
	}
	if req.Limit < 1 || req.Limit > 200 {
		return nil, errors.InvalidArgument("limit must be in [1, 200]", nil)
	}
	if req.Depth != 0 && (req.Depth < 1 || req.Depth > o.Config.MaxDepth) {
		return nil, errors.InvalidArgument("depth must be in [1, max_depth]", nil)
	}

	parsed := queryparse.Parse(req.QueryText)
	if req.Language != "" {
		parsed.Facets.Language = req.Language
	}
	if req.Repository != "" {
		parsed.Facets.Repository = req.Repository
	}
	if req.EntityType != "" {
		parsed.Facets.EntityType = req.EntityType
	}

	overscanLimit := req.Limit * o.Config.OverscanFactor
	if overscanLimit < req.Limit {
		overscanLimit = req.Limit
	}

	var (
		mu             sync.Mutex
		degraded       []string
		failures       int
		attempted      int
		keywordResults []*merge.ScoredResult
		vectorResults  []*merge.ScoredResult
		graphResults   []*merge.ScoredResult
	)

	markDegraded := func(source string, failed bool) {
		mu.Lock()
		defer mu.Unlock()
		degraded = append(degraded, source)
		if failed {
			failures++
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	attempted++
	g.Go(func() error {
		cctx, cancel := context.WithTimeout(gctx, o.Config.KeywordDeadline)
		defer cancel()

		results, err := withDeadline(cctx, func() ([]*merge.ScoredResult, error) {
			return errors.CircuitExecuteWithResult(o.keywordCB,
				func() ([]*merge.ScoredResult, error) {
					return o.Keyword.Query(cctx, parsed.ResidualText, parsed.Facets, overscanLimit)
				},
				func() ([]*merge.ScoredResult, error) {
					return nil, errors.ErrCircuitOpen
				})
		})
		if err != nil {
			markDegraded("keyword", true)
			return nil
		}
		mu.Lock()
		keywordResults = results
		mu.Unlock()
		return nil
	})

	if len(req.Embedding) > 0 {
		attempted++
		g.Go(func() error {
			if o.Vector == nil || o.Vector.Unavailable() {
				markDegraded("vector", true)
				return nil
			}
			cctx, cancel := context.WithTimeout(gctx, o.Config.VectorDeadline)
			defer cancel()

			hits, err := withDeadline(cctx, func() ([]*vectorindex.Result, error) {
				return errors.CircuitExecuteWithResult(o.vectorCB,
					func() ([]*vectorindex.Result, error) {
						return o.Vector.Query(cctx, req.Embedding, overscanLimit, req.Threshold)
					},
					func() ([]*vectorindex.Result, error) {
						return nil, errors.ErrCircuitOpen
					})
			})
			if err != nil {
				markDegraded("vector", true)
				return nil
			}
			if len(hits) == 0 {
				return nil
			}

			ids := make([]string, len(hits))
			scoreByID := make(map[string]float32, len(hits))
			for i, h := range hits {
				ids[i] = h.ChunkID
				scoreByID[h.ChunkID] = h.Score
			}

			chunks, err := o.Keyword.GetByIDs(cctx, ids)
			if err != nil {
				markDegraded("vector", true)
				return nil
			}

			scored := make([]*merge.ScoredResult, 0, len(chunks))
			for _, c := range chunks {
				scored = append(scored, &merge.ScoredResult{
					Chunk:  c,
					Score:  float64(scoreByID[c.ID]),
					Source: merge.SourceVector,
				})
			}
			mu.Lock()
			vectorResults = scored
			mu.Unlock()
			return nil
		})
	}

	if req.Transitive && parsed.Predicate != nil && o.Graph != nil {
		attempted++
		g.Go(func() error {
			depth := clampDepth(req.Depth, o.Config.DefaultDepth, o.Config.MaxDepth)

			type closureResult struct {
				scored []*merge.ScoredResult
				err    error
			}
			resultCh := make(chan closureResult, 1)

			go func() {
				scored, err := errors.CircuitExecuteWithResult(o.graphCB,
					func() ([]*merge.ScoredResult, error) {
						var entries []graphclosure.ClosureEntry
						switch parsed.Predicate.Kind {
						case queryparse.PredicateImplements:
							entries = o.Graph.ImplementsClosure(parsed.Predicate.TargetName, depth)
						case queryparse.PredicateExtends:
							entries = o.Graph.ExtendsClosure(parsed.Predicate.TargetName, depth)
						case queryparse.PredicateUsages:
							entries = o.Graph.UsagesClosure(parsed.Predicate.TargetName, depth)
						}

						resolved, err := resolver.Resolve(gctx, o.Keyword, entries, parsed.Facets)
						if err != nil {
							return nil, err
						}

						scored := make([]*merge.ScoredResult, 0, len(resolved))
						for _, r := range resolved {
							scored = append(scored, &merge.ScoredResult{
								Chunk:  r.Chunk,
								Score:  1.0,
								Source: merge.SourceGraph,
								Path:   r.Path,
							})
						}
						return scored, nil
					},
					func() ([]*merge.ScoredResult, error) {
						return nil, errors.ErrCircuitOpen
					})
				resultCh <- closureResult{scored: scored, err: err}
			}()

			select {
			case <-time.After(o.Config.GraphDeadline):
				markDegraded("graph", true)
				return nil
			case <-gctx.Done():
				return nil
			case res := <-resultCh:
				if res.err != nil {
					markDegraded("graph", true)
					return nil
				}
				mu.Lock()
				graphResults = res.scored
				mu.Unlock()
				return nil
			}
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if attempted > 0 && failures == attempted {
		return nil, errors.AllBackendsFailed(nil)
	}

	merged := merge.Merge(keywordResults, vectorResults, graphResults, o.Weights)

	truncated := len(merged) > req.Limit
	if truncated {
		merged = merged[:req.Limit]
	}

	return &Response{Results: merged, Degraded: degraded, Truncated: truncated}, nil
}

func clampDepth(requested, defaultDepth, maxDepth int) int {
	if requested <= 0 {
		return defaultDepth
	}
	if requested > maxDepth {
		return maxDepth
	}
	return requested
}

// withDeadline runs fn and returns its result, or a deadline error once ctx
// is done, whichever comes first. Guards back-ends that don't check ctx
// between I/O batches on their own.
func withDeadline[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type out struct {
		val T
		err error
	}
	ch := make(chan out, 1)
	go func() {
		v, err := fn()
		ch <- out{val: v, err: err}
	}()

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case o := <-ch:
		return o.val, o.err
	}
}
