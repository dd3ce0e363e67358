// Package ingest implements the chunk ingestion coordinator: the boundary
// that turns a bounded stream of Chunk values into durable KeywordIndex
// commits and IndexStateStore progress records. Repository cloning, diffing
// and per-language parsing are external collaborators; this package only
// owns batching, commit-then-record ordering, and the Indexing transient
// state.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/olexmal/megabrain/internal/chunk"
	"github.com/olexmal/megabrain/internal/indexstate"
)

// KeywordUpserter is the subset of keywordindex.Index the coordinator needs.
type KeywordUpserter interface {
	Upsert(ctx context.Context, chunks []*chunk.Chunk, repository string) error
}

// StateStore is the subset of indexstate.Store the coordinator needs.
type StateStore interface {
	Save(state indexstate.State) (indexstate.State, error)
}

// Coordinator batches a chunk stream into KeywordIndex commits, recording
// progress in the state store only after each batch durably commits.
type Coordinator struct {
	Keyword   KeywordUpserter
	State     StateStore
	BatchSize int
}

// New builds a Coordinator. batchSize defaults to 1000 when <= 0, per
// configuration key batch.size.
func New(keyword KeywordUpserter, state StateStore, batchSize int) *Coordinator {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &Coordinator{Keyword: keyword, State: state, BatchSize: batchSize}
}

// Result summarizes one Ingest call.
type Result struct {
	ChunksCommitted int
	BatchesCommitted int
}

// Ingest drains chunks, committing them to the keyword index in batches of
// Coordinator.BatchSize. IndexStateStore progress is recorded after each
// batch's writer commit returns, so a crash mid-stream leaves the state
// store pointing at the last fully-committed batch, never a partial one.
// The channel is drained to completion or until ctx is cancelled.
func (co *Coordinator) Ingest(ctx context.Context, chunks <-chan *chunk.Chunk, repositoryURL, commitSHA string) (Result, error) {
	var result Result
	batch := make([]*chunk.Chunk, 0, co.BatchSize)

	commit := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := co.Keyword.Upsert(ctx, batch, repositoryURL); err != nil {
			return fmt.Errorf("commit batch: %w", err)
		}
		result.ChunksCommitted += len(batch)
		result.BatchesCommitted++

		if _, err := co.State.Save(indexstate.State{
			RepositoryURL:        repositoryURL,
			LastIndexedCommitSHA: commitSHA,
			LastIndexedAt:        nowFunc(),
		}); err != nil {
			return fmt.Errorf("record index state: %w", err)
		}

		batch = batch[:0]
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case ck, ok := <-chunks:
			if !ok {
				if err := commit(); err != nil {
					return result, err
				}
				return result, nil
			}
			batch = append(batch, ck)
			if len(batch) >= co.BatchSize {
				if err := commit(); err != nil {
					return result, err
				}
			}
		}
	}
}

// nowFunc is overridden in tests to produce deterministic timestamps.
var nowFunc = func() time.Time { return time.Now() }
