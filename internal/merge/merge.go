// Package merge combines scored results from the keyword, vector, and
// graph back-ends into a single ranked result set.
package merge

import (
	"sort"

	"github.com/olexmal/megabrain/internal/chunk"
)

// Source identifies which back-end contributed a scored result.
type Source string

const (
	SourceKeyword Source = "keyword"
	SourceVector  Source = "vector"
	SourceGraph   Source = "graph"
)

// ScoredResult is a single back-end's contribution for one chunk.
type ScoredResult struct {
	Chunk         *chunk.Chunk
	Score         float64
	Source        Source
	Path          []string // populated only for SourceGraph
	MatchedFields []string // populated only for SourceKeyword
}

// Result is a chunk after merging, carrying provenance for the response.
type Result struct {
	Chunk            *chunk.Chunk
	Score            float64
	IsTransitive     bool
	RelationshipPath []string
	MatchedFields    []string
}

// Weights configures the per-source contribution to the final weighted
// sum. Defaults, per configuration key merge.weight.{keyword,vector,graph},
// are (1.0, 0.8, 0.5).
type Weights struct {
	Keyword float64
	Vector  float64
	Graph   float64
}

// accumulator tracks a chunk's normalized per-source scores as they are
// folded in, plus the provenance fields that survive to the final Result.
type accumulator struct {
	chunk            *chunk.Chunk
	keyword          float64
	vector           float64
	graph            float64
	hasKeyword       bool
	hasVector        bool
	hasGraph         bool
	isTransitive     bool
	relationshipPath []string
	matchedFields    []string
}

// Merge dedups keywordResults, vectorResults, and graphResults by
// chunk.id, min-max normalizes each source's scores to [0,1], combines
// them with a weighted sum, and returns a single descending-score,
// ascending-chunk-id-tiebroken ordering.
func Merge(keywordResults, vectorResults, graphResults []*ScoredResult, weights Weights) []*Result {
	normKeyword := normalize(keywordResults)
	normVector := normalize(vectorResults)
	normGraph := normalize(graphResults)

	acc := make(map[string]*accumulator)

	fold(acc, keywordResults, normKeyword, func(a *accumulator, r *ScoredResult, score float64) {
		a.keyword = score
		a.hasKeyword = true
		a.matchedFields = r.MatchedFields
	})
	fold(acc, vectorResults, normVector, func(a *accumulator, r *ScoredResult, score float64) {
		a.vector = score
		a.hasVector = true
	})
	fold(acc, graphResults, normGraph, func(a *accumulator, r *ScoredResult, score float64) {
		a.graph = score
		a.hasGraph = true
		a.isTransitive = true
		a.relationshipPath = r.Path
	})

	results := make([]*Result, 0, len(acc))
	for _, a := range acc {
		final := weights.Keyword*a.keyword + weights.Vector*a.vector + weights.Graph*a.graph
		results = append(results, &Result{
			Chunk:            a.chunk,
			Score:            final,
			IsTransitive:     a.isTransitive,
			RelationshipPath: a.relationshipPath,
			MatchedFields:    a.matchedFields,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})

	return results
}

func fold(acc map[string]*accumulator, rs []*ScoredResult, normScores map[*ScoredResult]float64, apply func(*accumulator, *ScoredResult, float64)) {
	for _, r := range rs {
		a, ok := acc[r.Chunk.ID]
		if !ok {
			a = &accumulator{chunk: r.Chunk}
			acc[r.Chunk.ID] = a
		}
		apply(a, r, normScores[r])
	}
}

// normalize min-max scales a source's scores to [0, 1]. If the source
// has at most one distinct score value, every score becomes 1.0 since
// there is nothing to scale relative to.
func normalize(rs []*ScoredResult) map[*ScoredResult]float64 {
	out := make(map[*ScoredResult]float64, len(rs))
	if len(rs) == 0 {
		return out
	}

	min, max := rs[0].Score, rs[0].Score
	distinct := map[float64]bool{rs[0].Score: true}
	for _, r := range rs[1:] {
		distinct[r.Score] = true
		if r.Score < min {
			min = r.Score
		}
		if r.Score > max {
			max = r.Score
		}
	}

	if len(distinct) <= 1 {
		for _, r := range rs {
			out[r] = 1.0
		}
		return out
	}

	span := max - min
	for _, r := range rs {
		out[r] = (r.Score - min) / span
	}
	return out
}
