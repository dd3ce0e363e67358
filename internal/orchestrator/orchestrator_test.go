package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olexmal/megabrain/internal/chunk"
	"github.com/olexmal/megabrain/internal/config"
	megaerrors "github.com/olexmal/megabrain/internal/errors"
	"github.com/olexmal/megabrain/internal/graphclosure"
	"github.com/olexmal/megabrain/internal/merge"
	"github.com/olexmal/megabrain/internal/queryparse"
	"github.com/olexmal/megabrain/internal/vectorindex"
)

type stubKeyword struct {
	results   []*merge.ScoredResult
	byID      map[string]*chunk.Chunk
	byName    map[string][]*chunk.Chunk
	err       error
	delay     time.Duration
	gotFacets queryparse.Facets
}

func (s *stubKeyword) Query(ctx context.Context, residualText string, facets queryparse.Facets, limit int) ([]*merge.ScoredResult, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

func (s *stubKeyword) LookupByEntityNames(ctx context.Context, names []string, facets queryparse.Facets) ([]*chunk.Chunk, error) {
	s.gotFacets = facets
	var out []*chunk.Chunk
	for _, n := range names {
		out = append(out, s.byName[n]...)
	}
	return out, nil
}

func (s *stubKeyword) GetByIDs(ctx context.Context, ids []string) ([]*chunk.Chunk, error) {
	var out []*chunk.Chunk
	for _, id := range ids {
		if c, ok := s.byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

type stubVector struct {
	results     []*vectorindex.Result
	unavailable bool
	err         error
}

func (s *stubVector) Query(ctx context.Context, query []float32, k int, threshold float64) ([]*vectorindex.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

func (s *stubVector) Unavailable() bool { return s.unavailable }

func testChunk(id, name string) *chunk.Chunk {
	return &chunk.Chunk{
		ID:         id,
		Content:    "class " + name + " {}",
		Language:   chunk.LanguageJava,
		EntityType: chunk.EntityTypeClass,
		EntityName: name,
		SourceFile: name + ".java",
		StartLine:  1,
		EndLine:    1,
	}
}

func testConfig() config.SearchConfig {
	return config.NewConfig().Search
}

// TestSearch_PureKeyword mirrors scenario S1.
func TestSearch_PureKeyword(t *testing.T) {
	c := testChunk("c1", "UserService")
	kw := &stubKeyword{results: []*merge.ScoredResult{
		{Chunk: c, Score: 1.0, Source: merge.SourceKeyword, MatchedFields: []string{"entity_name"}},
	}}

	o := New(kw, nil, nil, testConfig(), config.NewConfig().Merge)
	resp, err := o.Search(context.Background(), Request{QueryText: "UserService", Limit: 5})

	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.False(t, resp.Results[0].IsTransitive)
	assert.Contains(t, resp.Results[0].MatchedFields, "entity_name")
}

// TestSearch_TransitiveImplements mirrors scenario S3.
func TestSearch_TransitiveImplements(t *testing.T) {
	g := graphclosure.New(5)
	g.AddEdge("UserServiceImpl", "UserService", graphclosure.EdgeImplements)
	g.AddEdge("AdminUserServiceImpl", "UserServiceImpl", graphclosure.EdgeExtends)

	impl := testChunk("impl", "UserServiceImpl")
	admin := testChunk("admin", "AdminUserServiceImpl")
	kw := &stubKeyword{
		byName: map[string][]*chunk.Chunk{
			"UserServiceImpl":      {impl},
			"AdminUserServiceImpl": {admin},
		},
	}

	o := New(kw, nil, g, testConfig(), config.NewConfig().Merge)
	resp, err := o.Search(context.Background(), Request{
		QueryText:  "implements:UserService",
		Limit:      5,
		Transitive: true,
		Depth:      5,
		Language:   "java",
	})

	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	for _, r := range resp.Results {
		assert.True(t, r.IsTransitive)
		assert.Equal(t, "UserService", r.RelationshipPath[0])
	}
	assert.Equal(t, "java", kw.gotFacets.Language)
}

// TestSearch_DepthClamp mirrors scenario S4.
func TestSearch_DepthClamp(t *testing.T) {
	g := graphclosure.New(5)
	g.AddEdge("UserServiceImpl", "UserService", graphclosure.EdgeImplements)
	g.AddEdge("AdminUserServiceImpl", "UserServiceImpl", graphclosure.EdgeExtends)

	impl := testChunk("impl", "UserServiceImpl")
	admin := testChunk("admin", "AdminUserServiceImpl")
	kw := &stubKeyword{
		byName: map[string][]*chunk.Chunk{
			"UserServiceImpl":      {impl},
			"AdminUserServiceImpl": {admin},
		},
	}

	o := New(kw, nil, g, testConfig(), config.NewConfig().Merge)
	resp, err := o.Search(context.Background(), Request{
		QueryText:  "implements:UserService",
		Limit:      5,
		Transitive: true,
		Depth:      1,
	})

	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "impl", resp.Results[0].Chunk.ID)
}

// TestSearch_VectorDegraded mirrors scenario S5.
func TestSearch_VectorDegraded(t *testing.T) {
	c := testChunk("c1", "UserService")
	kw := &stubKeyword{results: []*merge.ScoredResult{
		{Chunk: c, Score: 1.0, Source: merge.SourceKeyword},
	}}
	vec := &stubVector{unavailable: true}

	o := New(kw, vec, nil, testConfig(), config.NewConfig().Merge)
	resp, err := o.Search(context.Background(), Request{
		QueryText: "UserService",
		Limit:     5,
		Embedding: []float32{1, 0, 0},
	})

	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Contains(t, resp.Degraded, "vector")
}

// TestSearch_AllBackendsFailed verifies the escalation when every
// attempted back-end fails.
func TestSearch_AllBackendsFailed(t *testing.T) {
	kw := &stubKeyword{err: assert.AnError}

	o := New(kw, nil, nil, testConfig(), config.NewConfig().Merge)
	_, err := o.Search(context.Background(), Request{QueryText: "UserService", Limit: 5})

	require.Error(t, err)
	assert.Equal(t, megaerrors.KindAllBackendsFailed, megaerrors.GetKind(err))
}

// TestSearch_AllBackendsFailed_UnavailableCountsAsFailure verifies that a
// vector backend reporting Unavailable() counts toward the AllBackendsFailed
// escalation alongside a failing keyword backend, not just explicit errors.
func TestSearch_AllBackendsFailed_UnavailableCountsAsFailure(t *testing.T) {
	kw := &stubKeyword{err: assert.AnError}
	vec := &stubVector{unavailable: true}

	o := New(kw, vec, nil, testConfig(), config.NewConfig().Merge)
	_, err := o.Search(context.Background(), Request{
		QueryText: "UserService",
		Limit:     5,
		Embedding: []float32{1, 0, 0},
	})

	require.Error(t, err)
	assert.Equal(t, megaerrors.KindAllBackendsFailed, megaerrors.GetKind(err))
}

func TestSearch_RejectsEmptyQueryText(t *testing.T) {
	o := New(&stubKeyword{}, nil, nil, testConfig(), config.NewConfig().Merge)
	_, err := o.Search(context.Background(), Request{QueryText: "", Limit: 5})

	require.Error(t, err)
	assert.Equal(t, megaerrors.KindInvalidArgument, megaerrors.GetKind(err))
}

func TestSearch_RejectsLimitOutOfRange(t *testing.T) {
	o := New(&stubKeyword{}, nil, nil, testConfig(), config.NewConfig().Merge)
	_, err := o.Search(context.Background(), Request{QueryText: "x", Limit: 0})

	require.Error(t, err)
	assert.Equal(t, megaerrors.KindInvalidArgument, megaerrors.GetKind(err))
}

func TestSearch_TruncatesToLimit(t *testing.T) {
	kw := &stubKeyword{results: []*merge.ScoredResult{
		{Chunk: testChunk("c1", "A"), Score: 0.9, Source: merge.SourceKeyword},
		{Chunk: testChunk("c2", "B"), Score: 0.5, Source: merge.SourceKeyword},
	}}

	o := New(kw, nil, nil, testConfig(), config.NewConfig().Merge)
	resp, err := o.Search(context.Background(), Request{QueryText: "x", Limit: 1})

	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "c1", resp.Results[0].Chunk.ID)
}
