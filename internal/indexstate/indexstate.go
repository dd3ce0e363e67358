// Package indexstate implements the IndexStateStore: durable, per-repository
// indexing progress records with an in-process read cache and a stale-write
// guard.
package indexstate

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite"

	"github.com/olexmal/megabrain/internal/errors"
)

// State is one repository's persisted indexing progress.
type State struct {
	RepositoryURL        string
	LastIndexedCommitSHA string
	LastIndexedAt        time.Time
}

// Store is a sqlite-backed IndexStateStore with a bounded in-process read
// cache and per-URL write locking, single-writer-safe per repository URL.
type Store struct {
	db *sql.DB

	cache *lru.Cache[string, State]

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New opens (creating if absent) a sqlite-backed store at path. path==""
// opens an in-memory store, useful for tests.
func New(path string, cacheSize int) (*Store, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create index state directory: %w", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open index state db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS index_state (
			repository_url TEXT PRIMARY KEY,
			last_indexed_commit_sha TEXT NOT NULL,
			last_indexed_at INTEGER NOT NULL
		)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	if cacheSize <= 0 {
		cacheSize = 1024
	}
	cache, err := lru.New[string, State](cacheSize)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create read cache: %w", err)
	}

	return &Store{
		db:    db,
		cache: cache,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// NormalizeRepositoryURL lowercases the URL, strips scheme/port, and drops
// a trailing ".git" suffix, per the state store's key normalization rule.
func NormalizeRepositoryURL(raw string) string {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.TrimSuffix(normalized, ".git")

	if i := strings.Index(normalized, "://"); i >= 0 {
		normalized = normalized[i+3:]
	}

	host, path, hasPath := strings.Cut(normalized, "/")
	if h, _, hasPort := strings.Cut(host, ":"); hasPort {
		host = h
	}
	if hasPath {
		return host + "/" + path
	}
	return host
}

func (s *Store) lockFor(repositoryURL string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	m, ok := s.locks[repositoryURL]
	if !ok {
		m = &sync.Mutex{}
		s.locks[repositoryURL] = m
	}
	return m
}

// Find returns the current state for a repository, or ok=false if absent.
// Reads are served from the in-process cache when possible; cache misses
// fall through to the database lock-free.
func (s *Store) Find(repositoryURL string) (State, bool, error) {
	key := NormalizeRepositoryURL(repositoryURL)

	if state, ok := s.cache.Get(key); ok {
		return state, true, nil
	}

	row := s.db.QueryRow(`SELECT repository_url, last_indexed_commit_sha, last_indexed_at
		FROM index_state WHERE repository_url = ?`, key)

	var state State
	var atUnix int64
	if err := row.Scan(&state.RepositoryURL, &state.LastIndexedCommitSHA, &atUnix); err != nil {
		if err == sql.ErrNoRows {
			return State{}, false, nil
		}
		return State{}, false, fmt.Errorf("find index state: %w", err)
	}
	state.LastIndexedAt = time.Unix(atUnix, 0).UTC()

	s.cache.Add(key, state)
	return state, true, nil
}

// Exists reports whether a repository has a persisted state record.
func (s *Store) Exists(repositoryURL string) (bool, error) {
	_, ok, err := s.Find(repositoryURL)
	return ok, err
}

// Save durably persists state, rejecting a write whose LastIndexedAt is
// older than the currently persisted record (StaleWrite). Serialized
// per repository URL; concurrent saves to distinct URLs proceed
// independently.
func (s *Store) Save(state State) (State, error) {
	key := NormalizeRepositoryURL(state.RepositoryURL)
	state.RepositoryURL = key

	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	current, ok, err := s.findUncached(key)
	if err != nil {
		return State{}, err
	}
	if ok && state.LastIndexedAt.Before(current.LastIndexedAt) {
		return State{}, errors.StaleWrite(key)
	}

	_, err = s.db.Exec(`
		INSERT INTO index_state (repository_url, last_indexed_commit_sha, last_indexed_at)
		VALUES (?, ?, ?)
		ON CONFLICT(repository_url) DO UPDATE SET
			last_indexed_commit_sha = excluded.last_indexed_commit_sha,
			last_indexed_at = excluded.last_indexed_at`,
		state.RepositoryURL, state.LastIndexedCommitSHA, state.LastIndexedAt.Unix())
	if err != nil {
		return State{}, fmt.Errorf("save index state: %w", err)
	}

	s.cache.Add(key, state)
	return state, nil
}

func (s *Store) findUncached(key string) (State, bool, error) {
	row := s.db.QueryRow(`SELECT repository_url, last_indexed_commit_sha, last_indexed_at
		FROM index_state WHERE repository_url = ?`, key)

	var state State
	var atUnix int64
	if err := row.Scan(&state.RepositoryURL, &state.LastIndexedCommitSHA, &atUnix); err != nil {
		if err == sql.ErrNoRows {
			return State{}, false, nil
		}
		return State{}, false, fmt.Errorf("find index state: %w", err)
	}
	state.LastIndexedAt = time.Unix(atUnix, 0).UTC()
	return state, true, nil
}

// Delete removes a repository's state record, returning true iff a record
// existed.
func (s *Store) Delete(repositoryURL string) (bool, error) {
	key := NormalizeRepositoryURL(repositoryURL)

	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	result, err := s.db.Exec(`DELETE FROM index_state WHERE repository_url = ?`, key)
	if err != nil {
		return false, fmt.Errorf("delete index state: %w", err)
	}
	s.cache.Remove(key)

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete index state rows affected: %w", err)
	}
	return n > 0, nil
}
