package summarize

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jankowtf/kbindex/pkg/fingerprint"
)

// CachedSummarizer wraps a Summarizer with a SQLite cache keyed by the
// fingerprint of the input text. Identical content summarized under the same
// namespace never reaches the backend twice.
type CachedSummarizer struct {
	inner     Summarizer
	db        *sql.DB
	namespace string
}

// NewCachedSummarizer opens or creates the cache database at cachePath.
func NewCachedSummarizer(inner Summarizer, cachePath, namespace string) (*CachedSummarizer, error) {
	if err := os.MkdirAll(filepath.Dir(cachePath), 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	db, err := sql.Open(driverName, cacheDSN(cachePath))
	if err != nil {
		return nil, fmt.Errorf("opening cache db: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS summary_cache (
			cache_key TEXT PRIMARY KEY,
			summary TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating cache table: %w", err)
	}

	return &CachedSummarizer{inner: inner, db: db, namespace: namespace}, nil
}

// Summarize returns a cached summary or asks the wrapped summarizer.
func (c *CachedSummarizer) Summarize(ctx context.Context, text string) (string, error) {
	key := c.key(text)

	if summary, err := c.get(ctx, key); err == nil {
		return summary, nil
	}

	summary, err := c.inner.Summarize(ctx, text)
	if err != nil {
		return "", err
	}

	// A failed cache write does not fail the summary.
	c.put(ctx, key, summary)
	return summary, nil
}

// Len returns the number of cached summaries.
func (c *CachedSummarizer) Len(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM summary_cache").Scan(&n)
	return n, err
}

// Close closes the cache database.
func (c *CachedSummarizer) Close() error {
	return c.db.Close()
}

func (c *CachedSummarizer) key(text string) string {
	h := sha256.Sum256([]byte(c.namespace + "\x00" + fingerprint.Hash(text)))
	return fmt.Sprintf("%x", h[:16])
}

func (c *CachedSummarizer) get(ctx context.Context, key string) (string, error) {
	var summary string
	err := c.db.QueryRowContext(ctx, "SELECT summary FROM summary_cache WHERE cache_key = ?", key).Scan(&summary)
	if err != nil {
		return "", err
	}
	if summary == "" {
		return "", sql.ErrNoRows
	}
	return summary, nil
}

func (c *CachedSummarizer) put(ctx context.Context, key, summary string) {
	if summary == "" {
		return
	}
	c.db.ExecContext(ctx, "INSERT OR REPLACE INTO summary_cache (cache_key, summary) VALUES (?, ?)", key, summary)
}
