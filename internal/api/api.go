// Package api defines the transport-agnostic JSON request/response
// contract for a search query, independent of any particular transport
// (CLI, RPC, etc).
package api

import (
	"github.com/olexmal/megabrain/internal/chunk"
	"github.com/olexmal/megabrain/internal/errors"
	"github.com/olexmal/megabrain/internal/orchestrator"
)

// QueryRequest is the wire shape of a search request.
type QueryRequest struct {
	QueryText  string    `json:"query_text"`
	Limit      int       `json:"limit,omitempty"`
	Language   string    `json:"language,omitempty"`
	Repository string    `json:"repository,omitempty"`
	EntityType string    `json:"entity_type,omitempty"`
	Transitive bool      `json:"transitive,omitempty"`
	Depth      int       `json:"depth,omitempty"`
	Embedding  []float32 `json:"embedding,omitempty"`
}

// ChunkDTO is the wire shape of a chunk within a query response.
type ChunkDTO struct {
	ID         string            `json:"id"`
	Content    string            `json:"content"`
	Language   string            `json:"language"`
	EntityType string            `json:"entity_type"`
	EntityName string            `json:"entity_name"`
	SourceFile string            `json:"source_file"`
	StartLine  int               `json:"start_line"`
	EndLine    int               `json:"end_line"`
	StartByte  int               `json:"start_byte"`
	EndByte    int               `json:"end_byte"`
	Attributes map[string]string `json:"attributes,omitempty"`
	DocSummary *string           `json:"doc_summary,omitempty"`
}

// ResultDTO is the wire shape of one search result.
type ResultDTO struct {
	Chunk            ChunkDTO `json:"chunk"`
	Score            float64  `json:"score"`
	IsTransitive     bool     `json:"is_transitive"`
	RelationshipPath []string `json:"relationship_path,omitempty"`
	MatchedFields    []string `json:"matched_fields"`
}

// QueryResponse is the wire shape of a search response.
type QueryResponse struct {
	Results   []ResultDTO `json:"results"`
	Truncated bool        `json:"truncated"`
	Degraded  []string    `json:"degraded,omitempty"`
}

// defaultLimit mirrors the request default from section 4 of the
// specification: limit defaults to 10 when omitted.
const defaultLimit = 10

// ToOrchestratorRequest validates req per the wire contract and converts it
// into an orchestrator.Request. maxDepth and defaultDepth come from the
// active search configuration and govern depth validation/defaulting.
func ToOrchestratorRequest(req QueryRequest, vectorDim, defaultDepth, maxDepth int, threshold float64) (orchestrator.Request, error) {
	if req.QueryText == "" {
		return orchestrator.Request{}, errors.InvalidArgument("query_text must not be empty", nil)
	}

	limit := req.Limit
	if limit == 0 {
		limit = defaultLimit
	}
	if limit < 1 || limit > 200 {
		return orchestrator.Request{}, errors.InvalidArgument("limit must be in [1, 200]", nil)
	}

	depth := req.Depth
	if req.Transitive {
		if depth == 0 {
			depth = defaultDepth
		} else if depth < 1 || depth > maxDepth {
			return orchestrator.Request{}, errors.InvalidArgument("depth must be in [1, max_depth]", nil)
		}
	}

	if len(req.Embedding) > 0 && len(req.Embedding) != vectorDim {
		return orchestrator.Request{}, errors.InvalidArgument("embedding length does not match configured vector dimension", nil)
	}

	return orchestrator.Request{
		QueryText:  req.QueryText,
		Limit:      limit,
		Language:   req.Language,
		Repository: req.Repository,
		EntityType: req.EntityType,
		Transitive: req.Transitive,
		Depth:      depth,
		Embedding:  req.Embedding,
		Threshold:  threshold,
	}, nil
}

// FromOrchestratorResponse converts an orchestrator.Response into the wire
// QueryResponse shape.
func FromOrchestratorResponse(resp *orchestrator.Response) QueryResponse {
	results := make([]ResultDTO, 0, len(resp.Results))
	for _, r := range resp.Results {
		results = append(results, ResultDTO{
			Chunk:            chunkToDTO(r.Chunk),
			Score:            r.Score,
			IsTransitive:     r.IsTransitive,
			RelationshipPath: r.RelationshipPath,
			MatchedFields:    r.MatchedFields,
		})
	}

	return QueryResponse{
		Results:   results,
		Truncated: resp.Truncated,
		Degraded:  resp.Degraded,
	}
}

func chunkToDTO(c *chunk.Chunk) ChunkDTO {
	return ChunkDTO{
		ID:         c.ID,
		Content:    c.Content,
		Language:   string(c.Language),
		EntityType: string(c.EntityType),
		EntityName: c.EntityName,
		SourceFile: c.SourceFile,
		StartLine:  c.StartLine,
		EndLine:    c.EndLine,
		StartByte:  c.StartByte,
		EndByte:    c.EndByte,
		Attributes: c.Attributes,
		DocSummary: c.DocSummary,
	}
}
