// Package keywordindex implements the KeywordIndex back-end: a Bleve-backed
// inverted index over chunk text with per-field boosts, facet filtering,
// and exact entity-name lookup.
package keywordindex

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search"
	"github.com/gofrs/flock"

	"github.com/olexmal/megabrain/internal/chunk"
	"github.com/olexmal/megabrain/internal/config"
	"github.com/olexmal/megabrain/internal/merge"
	"github.com/olexmal/megabrain/internal/queryparse"
)

const (
	codeTokenizerName = "megabrain_code_tokenizer"
	codeAnalyzerName  = "megabrain_code_analyzer"

	fieldEntityName      = "entity_name"
	fieldEntityNameExact = "entity_name_exact"
	fieldDocSummary      = "doc_summary"
	fieldContent         = "content"
	fieldSignature       = "attributes_signature"
	fieldLanguage        = "language"
	fieldEntityType      = "entity_type"
	fieldRepository      = "repository"
	fieldChunkJSON       = "chunk_json"
)

func init() {
	_ = registry.RegisterTokenizer(codeTokenizerName, codeTokenizerConstructor)
}

// Index is a Bleve-backed KeywordIndex. A single-writer file lock guards
// batch commits; reads never block on it.
type Index struct {
	mu    sync.RWMutex
	index bleve.Index
	boost config.BoostConfig
	lock  *flock.Flock
}

// document is the per-chunk Bleve document. chunkJSON carries the full
// chunk so search hits can be reconstructed without a side store.
type document struct {
	EntityName      string `json:"entity_name"`
	EntityNameExact string `json:"entity_name_exact"`
	DocSummary      string `json:"doc_summary"`
	Content         string `json:"content"`
	Signature       string `json:"attributes_signature"`
	Language        string `json:"language"`
	EntityType      string `json:"entity_type"`
	Repository      string `json:"repository"`
	ChunkJSON       string `json:"chunk_json"`
}

// New creates or opens a KeywordIndex at path. An empty path creates an
// in-memory index, useful for tests.
func New(path string, boost config.BoostConfig) (*Index, error) {
	m, err := buildMapping()
	if err != nil {
		return nil, fmt.Errorf("build index mapping: %w", err)
	}

	var idx bleve.Index
	var lock *flock.Flock
	if path == "" {
		idx, err = bleve.NewMemOnly(m)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create index directory: %w", err)
		}
		lock = flock.New(path + ".lock")

		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, m)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open keyword index: %w", err)
	}

	return &Index{index: idx, boost: boost, lock: lock}, nil
}

func buildMapping() (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()

	if err := im.AddCustomAnalyzer(codeAnalyzerName, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     codeTokenizerName,
		"token_filters": []string{lowercase.Name},
	}); err != nil {
		return nil, err
	}
	im.DefaultAnalyzer = codeAnalyzerName

	docMapping := bleve.NewDocumentMapping()

	exactField := bleve.NewTextFieldMapping()
	exactField.Analyzer = keyword.Name
	docMapping.AddFieldMappingsAt(fieldEntityNameExact, exactField)

	keywordFacet := bleve.NewTextFieldMapping()
	keywordFacet.Analyzer = keyword.Name
	docMapping.AddFieldMappingsAt(fieldLanguage, keywordFacet)
	docMapping.AddFieldMappingsAt(fieldEntityType, keywordFacet)
	docMapping.AddFieldMappingsAt(fieldRepository, keywordFacet)

	unindexed := bleve.NewTextFieldMapping()
	unindexed.Index = false
	unindexed.Store = true
	docMapping.AddFieldMappingsAt(fieldChunkJSON, unindexed)

	im.AddDocumentMapping("_default", docMapping)
	return im, nil
}

// Upsert batch-inserts chunks, keyed by chunk.ID. Commits across batches
// are not guaranteed atomic, but each individual chunk insert is
// all-or-nothing.
func (idx *Index) Upsert(ctx context.Context, chunks []*chunk.Chunk, repository string) error {
	if len(chunks) == 0 {
		return nil
	}

	if idx.lock != nil {
		if err := idx.lock.Lock(); err != nil {
			return fmt.Errorf("acquire keyword index write lock: %w", err)
		}
		defer idx.lock.Unlock()
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	batch := idx.index.NewBatch()
	for _, c := range chunks {
		raw, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("marshal chunk %s: %w", c.ID, err)
		}

		var signature string
		if c.Attributes != nil {
			signature = c.Attributes["signature"]
		}
		var docSummary string
		if c.DocSummary != nil {
			docSummary = *c.DocSummary
		}

		doc := document{
			EntityName:      c.EntityName,
			EntityNameExact: c.EntityName,
			DocSummary:      docSummary,
			Content:         c.Content,
			Signature:       signature,
			Language:        string(c.Language),
			EntityType:      string(c.EntityType),
			Repository:      repository,
			ChunkJSON:       string(raw),
		}
		if err := batch.Index(c.ID, doc); err != nil {
			return fmt.Errorf("index chunk %s: %w", c.ID, err)
		}
	}

	return idx.index.Batch(batch)
}

// Delete removes chunks by id.
func (idx *Index) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	if idx.lock != nil {
		if err := idx.lock.Lock(); err != nil {
			return fmt.Errorf("acquire keyword index write lock: %w", err)
		}
		defer idx.lock.Unlock()
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	batch := idx.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	return idx.index.Batch(batch)
}

// Query searches residualText against the boosted field set, ANDs the
// given facets post-query, and returns results in non-increasing score
// order.
func (idx *Index) Query(ctx context.Context, residualText string, facets queryparse.Facets, limit int) ([]*merge.ScoredResult, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	residualText = strings.TrimSpace(residualText)
	if residualText == "" {
		return nil, nil
	}

	textQuery := idx.buildTextQuery(residualText)
	finalQuery := idx.applyFacets(textQuery, facets)

	req := bleve.NewSearchRequest(finalQuery)
	req.Size = limit
	req.IncludeLocations = true
	req.Fields = []string{fieldChunkJSON}

	result, err := idx.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}

	results := make([]*merge.ScoredResult, 0, len(result.Hits))
	for _, hit := range result.Hits {
		c, err := chunkFromHit(hit)
		if err != nil {
			continue
		}
		results = append(results, &merge.ScoredResult{
			Chunk:         c,
			Score:         hit.Score,
			Source:        merge.SourceKeyword,
			MatchedFields: matchedFields(hit),
		})
	}

	return results, nil
}

// buildTextQuery builds a boosted, multi-field disjunction over any quoted
// phrases (matched only against content and entity_name) plus a boosted
// multi-field match over the remaining free text.
func (idx *Index) buildTextQuery(residualText string) bleve.Query {
	phrases, freeText := extractPhrases(residualText)

	disjuncts := make([]bleve.Query, 0, len(phrases)*2+4)
	for _, phrase := range phrases {
		contentPhrase := bleve.NewMatchPhraseQuery(phrase)
		contentPhrase.SetField(fieldContent)
		disjuncts = append(disjuncts, contentPhrase)

		namePhrase := bleve.NewMatchPhraseQuery(phrase)
		namePhrase.SetField(fieldEntityName)
		disjuncts = append(disjuncts, namePhrase)
	}

	if strings.TrimSpace(freeText) != "" {
		disjuncts = append(disjuncts, idx.boostedFieldQuery(fieldEntityName, freeText, idx.boost.EntityName))
		disjuncts = append(disjuncts, idx.boostedFieldQuery(fieldDocSummary, freeText, idx.boost.DocSummary))
		disjuncts = append(disjuncts, idx.boostedFieldQuery(fieldContent, freeText, idx.boost.Content))
		disjuncts = append(disjuncts, idx.boostedFieldQuery(fieldSignature, freeText, idx.boost.Signature))
	}

	if len(disjuncts) == 0 {
		return bleve.NewMatchNoneQuery()
	}
	return bleve.NewDisjunctionQuery(disjuncts...)
}

func (idx *Index) boostedFieldQuery(field, text string, boost float64) bleve.Query {
	q := bleve.NewMatchQuery(text)
	q.SetField(field)
	q.SetBoost(boost)
	return q
}

// applyFacets ANDs non-empty facets onto textQuery as exact-match term
// queries against the keyword-analyzed facet fields.
func (idx *Index) applyFacets(textQuery bleve.Query, facets queryparse.Facets) bleve.Query {
	conjuncts := []bleve.Query{textQuery}

	if facets.Language != "" {
		conjuncts = append(conjuncts, termQuery(fieldLanguage, facets.Language))
	}
	if facets.EntityType != "" {
		conjuncts = append(conjuncts, termQuery(fieldEntityType, facets.EntityType))
	}
	if facets.Repository != "" {
		conjuncts = append(conjuncts, termQuery(fieldRepository, facets.Repository))
	}

	if len(conjuncts) == 1 {
		return textQuery
	}
	return bleve.NewConjunctionQuery(conjuncts...)
}

func termQuery(field, value string) bleve.Query {
	q := bleve.NewTermQuery(value)
	q.SetField(field)
	return q
}

// LookupByEntityNames resolves names to chunks via exact (case-sensitive)
// match against the unanalyzed entity-name field, ANDed with facets.
func (idx *Index) LookupByEntityNames(ctx context.Context, names []string, facets queryparse.Facets) ([]*chunk.Chunk, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(names) == 0 {
		return nil, nil
	}

	terms := make([]bleve.Query, 0, len(names))
	for _, name := range names {
		terms = append(terms, termQuery(fieldEntityNameExact, name))
	}

	query := idx.applyFacets(bleve.NewDisjunctionQuery(terms...), facets)

	req := bleve.NewSearchRequest(query)
	req.Size = len(names) * 8 // allow for overloads
	req.Fields = []string{fieldChunkJSON}

	result, err := idx.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("entity name lookup: %w", err)
	}

	chunks := make([]*chunk.Chunk, 0, len(result.Hits))
	for _, hit := range result.Hits {
		if c, err := chunkFromHit(hit); err == nil {
			chunks = append(chunks, c)
		}
	}
	return chunks, nil
}

// GetByIDs resolves chunk ids to their full chunks, used by the
// orchestrator to materialize VectorIndex hits (which carry only ids and
// scores) into complete SearchResults. Unknown ids are dropped silently.
func (idx *Index) GetByIDs(ctx context.Context, ids []string) ([]*chunk.Chunk, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(ids) == 0 {
		return nil, nil
	}

	req := bleve.NewSearchRequest(bleve.NewDocIDQuery(ids))
	req.Size = len(ids)
	req.Fields = []string{fieldChunkJSON}

	result, err := idx.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("get by ids: %w", err)
	}

	chunks := make([]*chunk.Chunk, 0, len(result.Hits))
	for _, hit := range result.Hits {
		if c, err := chunkFromHit(hit); err == nil {
			chunks = append(chunks, c)
		}
	}
	return chunks, nil
}

// Close releases the underlying Bleve index.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.index.Close()
}

func chunkFromHit(hit *search.DocumentMatch) (*chunk.Chunk, error) {
	raw, ok := hit.Fields[fieldChunkJSON].(string)
	if !ok {
		return nil, fmt.Errorf("hit %s missing chunk_json field", hit.ID)
	}
	var c chunk.Chunk
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("unmarshal chunk %s: %w", hit.ID, err)
	}
	return &c, nil
}

func matchedFields(hit *search.DocumentMatch) []string {
	fields := make([]string, 0, len(hit.Locations))
	for field := range hit.Locations {
		fields = append(fields, field)
	}
	return fields
}

// extractPhrases pulls out double-quoted substrings as phrases, returning
// them separately from the remaining free text.
func extractPhrases(text string) (phrases []string, freeText string) {
	var free strings.Builder
	inQuotes := false
	var cur strings.Builder

	for _, r := range text {
		switch {
		case r == '"':
			if inQuotes {
				phrases = append(phrases, cur.String())
				cur.Reset()
			}
			inQuotes = !inQuotes
		case inQuotes:
			cur.WriteRune(r)
		default:
			free.WriteRune(r)
		}
	}

	return phrases, free.String()
}

func codeTokenizerConstructor(_ map[string]interface{}, _ *registry.Cache) (analysis.Tokenizer, error) {
	return &codeTokenizer{}, nil
}

type codeTokenizer struct{}

func (t *codeTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	tokens := tokenizeCode(text)

	result := make(analysis.TokenStream, 0, len(tokens))
	pos := 1
	offset := 0
	for _, token := range tokens {
		start := strings.Index(strings.ToLower(text[offset:]), strings.ToLower(token))
		if start == -1 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(token)

		result = append(result, &analysis.Token{
			Term:     []byte(token),
			Start:    start,
			End:      end,
			Position: pos,
			Type:     analysis.AlphaNumeric,
		})
		pos++
		if end <= len(text) {
			offset = end
		}
	}

	return result
}
