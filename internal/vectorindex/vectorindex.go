// Package vectorindex implements the VectorIndex back-end: an HNSW
// approximate nearest-neighbor index over chunk embeddings.
package vectorindex

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"

	"github.com/olexmal/megabrain/internal/errors"
)

// Result is a single nearest-neighbor hit: a chunk id plus its cosine
// similarity to the query vector.
type Result struct {
	ChunkID string
	Score   float32
}

// Index is an HNSW-backed VectorIndex. Dimensionality is fixed at
// construction. A zero-value-constructed-via-Unavailable Index reports
// itself unavailable, letting the orchestrator skip vector contributions
// without treating the condition as a query failure.
type Index struct {
	mu          sync.RWMutex
	graph       *hnsw.Graph[uint64]
	dim         int
	available   bool
	idMap       map[string]uint64
	keyMap      map[uint64]string
	nextKey     uint64
	closed      bool
}

// metadata is the persisted form of the id mappings, written alongside
// the exported HNSW graph.
type metadata struct {
	IDMap   map[string]uint64
	NextKey uint64
	Dim     int
}

// New creates an empty, available vector index fixed at dimension dim.
func New(dim int) *Index {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25

	return &Index{
		graph:     graph,
		dim:       dim,
		available: true,
		idMap:     make(map[string]uint64),
		keyMap:    make(map[uint64]string),
	}
}

// Unavailable returns an index that reports itself unavailable. The
// orchestrator treats this as a legitimate degraded-operation mode, not a
// query failure.
func Unavailable() *Index {
	return &Index{available: false}
}

// Unavailable reports whether this back-end is configured and usable.
func (idx *Index) Unavailable() bool {
	return !idx.available
}

// Upsert batch-inserts vectors keyed by chunk id. Re-upserting an existing
// id orphans its old graph node and reassigns the id to a fresh one —
// cheap lazy deletion that avoids the underlying library's edge case when
// the last node in the graph is removed.
func (idx *Index) Upsert(ctx context.Context, ids []string, vectors [][]float32) error {
	if !idx.available {
		return errors.BackendUnavailable("vector", nil)
	}
	if len(ids) != len(vectors) {
		return errors.InvalidArgument(fmt.Sprintf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors)), nil)
	}
	if len(ids) == 0 {
		return nil
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return errors.InternalInvariantViolation("vector index used after close", nil)
	}

	for _, v := range vectors {
		if len(v) != idx.dim {
			return errors.InvalidArgument(fmt.Sprintf("embedding dimension mismatch: expected %d, got %d", idx.dim, len(v)), nil)
		}
	}

	for i, id := range ids {
		if existingKey, exists := idx.idMap[id]; exists {
			delete(idx.keyMap, existingKey)
			delete(idx.idMap, id)
		}

		key := idx.nextKey
		idx.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalize(vec)

		idx.graph.Add(hnsw.MakeNode(key, vec))
		idx.idMap[id] = key
		idx.keyMap[key] = id
	}

	return nil
}

// Query returns the k nearest chunks to the query vector whose cosine
// similarity is >= threshold. Deletes are filtered at read time: a node
// whose id has no current keyMap entry (lazily deleted) is skipped.
func (idx *Index) Query(ctx context.Context, query []float32, k int, threshold float64) ([]*Result, error) {
	if !idx.available {
		return nil, nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.closed {
		return nil, errors.InternalInvariantViolation("vector index used after close", nil)
	}
	if len(query) != idx.dim {
		return nil, errors.InvalidArgument(fmt.Sprintf("query embedding dimension mismatch: expected %d, got %d", idx.dim, len(query)), nil)
	}
	if idx.graph.Len() == 0 {
		return nil, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalize(normalized)

	nodes := idx.graph.Search(normalized, k)

	results := make([]*Result, 0, len(nodes))
	for _, node := range nodes {
		id, ok := idx.keyMap[node.Key]
		if !ok {
			continue // tombstoned: chunk was deleted since this node was added
		}

		distance := idx.graph.Distance(normalized, node.Value)
		score := 1.0 - distance // cosine distance (1 - cos) in [0,2] -> similarity in [-1,1]
		if float64(score) < threshold {
			continue
		}

		results = append(results, &Result{ChunkID: id, Score: score})
	}

	return results, nil
}

// Delete lazily tombstones ids: the graph nodes are left in place but no
// longer resolve, so Query never returns a deleted chunk's id.
func (idx *Index) Delete(ctx context.Context, ids []string) error {
	if !idx.available {
		return nil
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, id := range ids {
		if key, ok := idx.idMap[id]; ok {
			delete(idx.keyMap, key)
			delete(idx.idMap, id)
		}
	}
	return nil
}

// Save persists the graph and id mappings to path (graph) and path+".meta".
func (idx *Index) Save(path string) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if !idx.available || idx.closed {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create vector index directory: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create vector index file: %w", err)
	}
	if err := idx.graph.Export(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("export vector graph: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close vector index file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename vector index file: %w", err)
	}

	return idx.saveMetadata(path + ".meta")
}

func (idx *Index) saveMetadata(path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create vector metadata file: %w", err)
	}
	defer f.Close()

	meta := metadata{IDMap: idx.idMap, NextKey: idx.nextKey, Dim: idx.dim}
	if err := gob.NewEncoder(f).Encode(meta); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("encode vector metadata: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load restores a previously Saved index from path.
func (idx *Index) Load(path string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if err := idx.loadMetadata(path + ".meta"); err != nil {
		return fmt.Errorf("load vector metadata: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open vector index file: %w", err)
	}
	defer f.Close()

	if err := idx.graph.Import(bufio.NewReader(f)); err != nil {
		return fmt.Errorf("import vector graph: %w", err)
	}
	return nil
}

func (idx *Index) loadMetadata(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open vector metadata file: %w", err)
	}
	defer f.Close()

	var meta metadata
	if err := gob.NewDecoder(f).Decode(&meta); err != nil {
		return fmt.Errorf("decode vector metadata: %w", err)
	}

	idx.idMap = meta.IDMap
	idx.nextKey = meta.NextKey
	idx.dim = meta.Dim
	idx.keyMap = make(map[uint64]string, len(meta.IDMap))
	for id, key := range idx.idMap {
		idx.keyMap[key] = id
	}
	return nil
}

// Close releases the index. A closed index reports itself unavailable.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.closed = true
	idx.available = false
	idx.graph = nil
	return nil
}

func normalize(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}
