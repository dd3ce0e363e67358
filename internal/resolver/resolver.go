// Package resolver turns graph closure results (entity names plus
// traversal paths) into chunks by delegating name resolution to the
// keyword index.
package resolver

import (
	"context"

	"github.com/olexmal/megabrain/internal/chunk"
	"github.com/olexmal/megabrain/internal/graphclosure"
	"github.com/olexmal/megabrain/internal/queryparse"
)

// NameLookup is the subset of the keyword index's contract the resolver
// needs: exact, facet-respecting resolution from entity name to chunks.
type NameLookup interface {
	LookupByEntityNames(ctx context.Context, names []string, facets queryparse.Facets) ([]*chunk.Chunk, error)
}

// Resolved pairs a chunk with the closure path that led to its entity
// name. Overloaded entity names (multiple chunks sharing a name) all
// carry the same path.
type Resolved struct {
	Chunk *chunk.Chunk
	Path  []string
}

// Resolve looks up every entity name in entries via lookup, ANDing facets
// onto the lookup, and pairs each returned chunk with that entry's path.
// Names that resolve to nothing are dropped silently — this is not an
// error.
func Resolve(ctx context.Context, lookup NameLookup, entries []graphclosure.ClosureEntry, facets queryparse.Facets) ([]Resolved, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.EntityName
	}

	chunks, err := lookup.LookupByEntityNames(ctx, names, facets)
	if err != nil {
		return nil, err
	}

	byName := make(map[string][]*chunk.Chunk, len(chunks))
	for _, c := range chunks {
		byName[c.EntityName] = append(byName[c.EntityName], c)
	}

	var resolved []Resolved
	for _, e := range entries {
		for _, c := range byName[e.EntityName] {
			resolved = append(resolved, Resolved{Chunk: c, Path: e.Path})
		}
	}
	return resolved, nil
}
