package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olexmal/megabrain/internal/chunk"
	"github.com/olexmal/megabrain/internal/indexstate"
)

type stubKeyword struct {
	batches [][]*chunk.Chunk
	err     error
}

func (s *stubKeyword) Upsert(ctx context.Context, chunks []*chunk.Chunk, repository string) error {
	if s.err != nil {
		return s.err
	}
	batch := make([]*chunk.Chunk, len(chunks))
	copy(batch, chunks)
	s.batches = append(s.batches, batch)
	return nil
}

type stubState struct {
	saves []indexstate.State
	err   error
}

func (s *stubState) Save(state indexstate.State) (indexstate.State, error) {
	if s.err != nil {
		return indexstate.State{}, s.err
	}
	s.saves = append(s.saves, state)
	return state, nil
}

func testChunk(id string) *chunk.Chunk {
	return &chunk.Chunk{
		ID:         id,
		Content:    "x",
		Language:   chunk.LanguageGo,
		EntityType: chunk.EntityTypeFunction,
		EntityName: "f" + id,
		SourceFile: id + ".go",
		StartLine:  1,
		EndLine:    1,
	}
}

func TestIngest_CommitsFullBatchesOfConfiguredSize(t *testing.T) {
	kw := &stubKeyword{}
	state := &stubState{}
	co := New(kw, state, 2)

	chunks := make(chan *chunk.Chunk, 5)
	chunks <- testChunk("1")
	chunks <- testChunk("2")
	chunks <- testChunk("3")
	close(chunks)

	result, err := co.Ingest(context.Background(), chunks, "repo", "sha1")

	require.NoError(t, err)
	assert.Equal(t, 3, result.ChunksCommitted)
	assert.Equal(t, 2, result.BatchesCommitted) // [1,2] then [3]
	require.Len(t, kw.batches, 2)
	assert.Len(t, kw.batches[0], 2)
	assert.Len(t, kw.batches[1], 1)
}

func TestIngest_RecordsStateAfterEachBatchCommit(t *testing.T) {
	kw := &stubKeyword{}
	state := &stubState{}
	co := New(kw, state, 1)

	chunks := make(chan *chunk.Chunk, 2)
	chunks <- testChunk("1")
	chunks <- testChunk("2")
	close(chunks)

	_, err := co.Ingest(context.Background(), chunks, "repo", "sha1")

	require.NoError(t, err)
	require.Len(t, state.saves, 2)
	for _, s := range state.saves {
		assert.Equal(t, "sha1", s.LastIndexedCommitSHA)
	}
}

func TestIngest_EmptyStreamCommitsNothing(t *testing.T) {
	kw := &stubKeyword{}
	state := &stubState{}
	co := New(kw, state, 10)

	chunks := make(chan *chunk.Chunk)
	close(chunks)

	result, err := co.Ingest(context.Background(), chunks, "repo", "sha1")

	require.NoError(t, err)
	assert.Equal(t, 0, result.ChunksCommitted)
	assert.Empty(t, kw.batches)
	assert.Empty(t, state.saves)
}

func TestIngest_PropagatesKeywordUpsertFailure(t *testing.T) {
	kw := &stubKeyword{err: assert.AnError}
	state := &stubState{}
	co := New(kw, state, 1)

	chunks := make(chan *chunk.Chunk, 1)
	chunks <- testChunk("1")
	close(chunks)

	_, err := co.Ingest(context.Background(), chunks, "repo", "sha1")
	require.Error(t, err)
}

func TestIngest_DefaultsBatchSizeWhenUnconfigured(t *testing.T) {
	co := New(&stubKeyword{}, &stubState{}, 0)
	assert.Equal(t, 1000, co.BatchSize)
}

func TestIngest_StopsOnContextCancellation(t *testing.T) {
	kw := &stubKeyword{}
	state := &stubState{}
	co := New(kw, state, 10)

	ctx, cancel := context.WithCancel(context.Background())
	chunks := make(chan *chunk.Chunk)
	cancel()

	_, err := co.Ingest(ctx, chunks, "repo", "sha1")

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func init() {
	nowFunc = func() time.Time { return time.Unix(0, 0).UTC() }
}
