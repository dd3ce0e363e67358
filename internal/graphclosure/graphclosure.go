// Package graphclosure holds a directed labeled graph of entity names and
// answers bounded-depth reachability queries over it. The graph is
// represented as an arena of entity nodes indexed by a dense integer id;
// traversals carry a bitset-visited set over the arena, which guarantees
// termination on cyclic input and bounds per-query cost.
package graphclosure

import (
	"sync"

	"github.com/bits-and-blooms/bitset"
	"github.com/google/uuid"
)

// EdgeLabel is the closed set of relationship kinds an edge can carry.
type EdgeLabel string

const (
	EdgeImplements  EdgeLabel = "IMPLEMENTS"
	EdgeExtends     EdgeLabel = "EXTENDS"
	EdgeCalls       EdgeLabel = "CALLS"
	EdgeInstantiates EdgeLabel = "INSTANTIATES"
	EdgeReferences  EdgeLabel = "REFERENCES"
	EdgeImports     EdgeLabel = "IMPORTS"
)

// ClosureEntry is one entity reached by a closure query, along with the
// path of entity names traversed from the root (inclusive at both ends).
type ClosureEntry struct {
	EntityName string
	Path       []string
}

// Graph is a directed labeled graph of entity names. A Graph with no
// edges added is a legitimate "absent back-end": ImplementsClosure and
// ExtendsClosure on it return empty, and UsagesClosure returns only the
// root, which is the documented degraded-operation mode.
type Graph struct {
	maxDepth int

	mu       sync.RWMutex
	ids      map[string]int // entity name -> dense arena id
	names    []string       // arena id -> entity name
	reverse  map[EdgeLabel]map[int][]int // label -> target id -> source ids
}

// New creates an empty graph. maxDepth bounds the depth any closure query
// on this graph will traverse, regardless of the depth requested by the
// caller.
func New(maxDepth int) *Graph {
	return &Graph{
		maxDepth: maxDepth,
		ids:      make(map[string]int),
		reverse:  make(map[EdgeLabel]map[int][]int),
	}
}

// AddEdge records a directed, labeled edge from -> to. Entity names are
// assigned dense arena ids the first time they are seen.
func (g *Graph) AddEdge(from, to string, label EdgeLabel) {
	g.mu.Lock()
	defer g.mu.Unlock()

	fromID := g.internLocked(from)
	toID := g.internLocked(to)

	byTarget, ok := g.reverse[label]
	if !ok {
		byTarget = make(map[int][]int)
		g.reverse[label] = byTarget
	}
	byTarget[toID] = append(byTarget[toID], fromID)
}

// Edge is one directed, labeled relationship for a batched commit.
type Edge struct {
	From, To string
	Label    EdgeLabel
}

// AddEdgeBatch commits a batch of edges under a single exclusive lock
// acquisition, matching the coarse-grained writer discipline the graph
// store uses at this scale. Returns a batch id the ingestion coordinator
// can log against IndexStateStore progress.
func (g *Graph) AddEdgeBatch(edges []Edge) string {
	batchID := uuid.NewString()

	g.mu.Lock()
	defer g.mu.Unlock()

	for _, e := range edges {
		fromID := g.internLocked(e.From)
		toID := g.internLocked(e.To)

		byTarget, ok := g.reverse[e.Label]
		if !ok {
			byTarget = make(map[int][]int)
			g.reverse[e.Label] = byTarget
		}
		byTarget[toID] = append(byTarget[toID], fromID)
	}

	return batchID
}

func (g *Graph) internLocked(name string) int {
	if id, ok := g.ids[name]; ok {
		return id
	}
	id := len(g.names)
	g.ids[name] = id
	g.names = append(g.names, name)
	return id
}

// ImplementsClosure returns every entity reachable from interface root by
// traversing IMPLEMENTS or EXTENDS edges in reverse, up to depth d.
func (g *Graph) ImplementsClosure(root string, d int) []ClosureEntry {
	return g.closure(root, d, []EdgeLabel{EdgeImplements, EdgeExtends})
}

// ExtendsClosure returns every entity reachable from class root by
// traversing EXTENDS edges in reverse, up to depth d.
func (g *Graph) ExtendsClosure(root string, d int) []ClosureEntry {
	return g.closure(root, d, []EdgeLabel{EdgeExtends})
}

// UsagesClosure returns the union of {root}, ImplementsClosure(root, d),
// and ExtendsClosure(root, d), deduplicated by entity name. This captures
// polymorphic call sites: any subtype of root can be the receiver.
func (g *Graph) UsagesClosure(root string, d int) []ClosureEntry {
	seen := map[string]bool{root: true}
	results := []ClosureEntry{{EntityName: root, Path: []string{root}}}

	for _, e := range g.ImplementsClosure(root, d) {
		if !seen[e.EntityName] {
			seen[e.EntityName] = true
			results = append(results, e)
		}
	}
	for _, e := range g.ExtendsClosure(root, d) {
		if !seen[e.EntityName] {
			seen[e.EntityName] = true
			results = append(results, e)
		}
	}
	return results
}

// closure runs a breadth-first traversal in reverse over the given edge
// labels, clamping d to [1, maxDepth]. At each level, ties among multiple
// first-arriving paths to the same node are broken lexicographically, so
// the result matches the shortest-path / lexicographic tie-break rule.
func (g *Graph) closure(root string, d int, labels []EdgeLabel) []ClosureEntry {
	d = clamp(d, 1, g.maxDepth)

	g.mu.RLock()
	defer g.mu.RUnlock()

	rootID, ok := g.ids[root]
	if !ok {
		return nil
	}

	visited := bitset.New(uint(len(g.names)))
	visited.Set(uint(rootID))

	type frontierItem struct {
		id   int
		path []string
	}
	frontier := []frontierItem{{rootID, []string{root}}}

	var results []ClosureEntry
	for level := 0; level < d && len(frontier) > 0; level++ {
		candidates := make(map[int][]string)
		for _, item := range frontier {
			for _, label := range labels {
				for _, srcID := range g.reverse[label][item.id] {
					if visited.Test(uint(srcID)) {
						continue
					}
					newPath := append(append([]string{}, item.path...), g.names[srcID])
					if existing, exists := candidates[srcID]; !exists || lexLess(newPath, existing) {
						candidates[srcID] = newPath
					}
				}
			}
		}
		if len(candidates) == 0 {
			break
		}

		var next []frontierItem
		for id, path := range candidates {
			visited.Set(uint(id))
			results = append(results, ClosureEntry{EntityName: g.names[id], Path: path})
			next = append(next, frontierItem{id, path})
		}
		frontier = next
	}

	return results
}

// lexLess reports whether path a sorts before path b, comparing element by
// element; when one path is a prefix of the other, the shorter sorts first.
func lexLess(a, b []string) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
