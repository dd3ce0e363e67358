package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/olexmal/megabrain/internal/config"
	"github.com/olexmal/megabrain/internal/graphclosure"
	"github.com/olexmal/megabrain/internal/indexstate"
	"github.com/olexmal/megabrain/internal/keywordindex"
	"github.com/olexmal/megabrain/internal/orchestrator"
	"github.com/olexmal/megabrain/internal/vectorindex"
)

// dataDirFlag backs the --data-dir persistent flag.
var dataDirFlag string

// backends bundles every index-state-store and search back-end the CLI
// commands share, plus the resources that need closing on exit.
type backends struct {
	Config      *config.Config
	Keyword     *keywordindex.Index
	Vector      *vectorindex.Index
	Graph       *graphclosure.Graph
	State       *indexstate.Store
	Orchestrator *orchestrator.Orchestrator

	vectorPath string
}

// dataDir resolves the index data directory: --data-dir if set, else
// ./.megabrain under the current working directory.
func dataDir() (string, error) {
	if dataDirFlag != "" {
		return dataDirFlag, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolve working directory: %w", err)
	}
	return filepath.Join(wd, ".megabrain"), nil
}

// openBackends loads configuration and opens every back-end against the
// resolved data directory, creating it if absent. Callers must call
// backends.Close when done.
func openBackends() (*backends, error) {
	dir, err := dataDir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	keyword, err := keywordindex.New(filepath.Join(dir, "keyword.bleve"), cfg.Boost)
	if err != nil {
		return nil, fmt.Errorf("open keyword index: %w", err)
	}

	vectorPath := filepath.Join(dir, "vectors.hnsw")
	vector := vectorindex.New(cfg.Vector.Dim)
	if _, statErr := os.Stat(vectorPath); statErr == nil {
		if err := vector.Load(vectorPath); err != nil {
			keyword.Close()
			return nil, fmt.Errorf("load vector index: %w", err)
		}
	}

	graph := graphclosure.New(cfg.Search.MaxDepth)

	state, err := indexstate.New(filepath.Join(dir, "state.db"), 1024)
	if err != nil {
		keyword.Close()
		return nil, fmt.Errorf("open index state store: %w", err)
	}

	orch := orchestrator.New(keyword, vector, graph, cfg.Search, cfg.Merge)

	return &backends{
		Config:       cfg,
		Keyword:      keyword,
		Vector:       vector,
		Graph:        graph,
		State:        state,
		Orchestrator: orch,
		vectorPath:   vectorPath,
	}, nil
}

// Close persists the vector index and releases every open resource.
func (b *backends) Close() error {
	saveErr := b.Vector.Save(b.vectorPath)
	closeErr := b.Vector.Close()
	keywordErr := b.Keyword.Close()
	stateErr := b.State.Close()

	for _, err := range []error{saveErr, closeErr, keywordErr, stateErr} {
		if err != nil {
			return err
		}
	}
	return nil
}
