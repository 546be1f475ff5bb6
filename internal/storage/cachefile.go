package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio"
)

// ErrPersist wraps every failure to write the cache or index file.
var ErrPersist = errors.New("persisting index cache")

// CacheStore reads and writes the JSON cache file and the rendered index file.
// Every write replaces the target atomically, so readers observe either the
// previous or the new content and never a partial file.
type CacheStore struct {
	cachePath string
	indexPath string
	logger    *slog.Logger
	now       func() time.Time
}

// NewCacheStore creates a store for the given cache and index paths.
func NewCacheStore(cachePath, indexPath string, logger *slog.Logger) *CacheStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CacheStore{
		cachePath: cachePath,
		indexPath: indexPath,
		logger:    logger,
		now:       time.Now,
	}
}

// CachePath returns the cache file path.
func (c *CacheStore) CachePath() string { return c.cachePath }

// IndexPath returns the index file path.
func (c *CacheStore) IndexPath() string { return c.indexPath }

// Exists reports whether the cache file is present on disk.
func (c *CacheStore) Exists() bool {
	_, err := os.Stat(c.cachePath)
	return err == nil
}

// Load reads the cache file. A missing, unreadable or outdated file yields an
// empty state; Load never fails.
func (c *CacheStore) Load() *CacheState {
	state, _ := c.LoadIntact()
	return state
}

// LoadIntact is Load that also reports whether the state came from a current,
// readable cache file. When intact is false the file on disk does not match
// the returned state and should be rewritten.
func (c *CacheStore) LoadIntact() (state *CacheState, intact bool) {
	data, err := os.ReadFile(c.cachePath)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Warn("reading cache file, starting fresh", "path", c.cachePath, "error", err)
		}
		return NewCacheState(c.now()), false
	}

	state, err = DecodeState(data)
	if err != nil {
		c.logger.Warn("decoding cache file, starting fresh", "path", c.cachePath, "error", err)
		return NewCacheState(c.now()), false
	}

	if state.SchemaVersion != CurrentSchemaVersion {
		c.logger.Warn("cache schema version mismatch, starting fresh",
			"path", c.cachePath,
			"expected", CurrentSchemaVersion,
			"actual", state.SchemaVersion)
		return NewCacheState(c.now()), false
	}

	return state, true
}

// Save writes the cache file and then the index file from the same snapshot.
func (c *CacheStore) Save(state *CacheState, indexText string) error {
	data, err := EncodeState(state)
	if err != nil {
		return fmt.Errorf("%w: encoding state: %w", ErrPersist, err)
	}

	if err := writeAtomic(c.cachePath, data); err != nil {
		return fmt.Errorf("%w: writing %s: %w", ErrPersist, c.cachePath, err)
	}
	if err := writeAtomic(c.indexPath, []byte(indexText)); err != nil {
		return fmt.Errorf("%w: writing %s: %w", ErrPersist, c.indexPath, err)
	}

	return nil
}

// ReadIndex returns the rendered index text, or "" if none has been written.
func (c *CacheStore) ReadIndex() (string, error) {
	data, err := os.ReadFile(c.indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("reading index file: %w", err)
	}
	return string(data), nil
}

// EncodeState serializes the state as indented JSON with a trailing newline.
// Map keys are emitted in sorted order so identical states encode identically.
func EncodeState(state *CacheState) ([]byte, error) {
	if state.Sources == nil {
		state.Sources = make(map[string]*SourceRecord)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// DecodeState parses a cache file.
func DecodeState(data []byte) (*CacheState, error) {
	var state CacheState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	if state.Sources == nil {
		state.Sources = make(map[string]*SourceRecord)
	}
	for id, rec := range state.Sources {
		if rec == nil {
			return nil, fmt.Errorf("source %q: empty record", id)
		}
	}
	return &state, nil
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return renameio.WriteFile(path, data, 0644)
}
