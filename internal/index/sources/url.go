package sources

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jankowtf/kbindex/internal/fetch"
	"github.com/jankowtf/kbindex/internal/storage"
	"github.com/jankowtf/kbindex/pkg/fingerprint"
)

// ContentStore keeps fetched bodies keyed by source id.
type ContentStore interface {
	Put(key, text string) error
	Get(key string) (string, error)
	Delete(key string) error
}

// URLConfig configures a URLProvider.
type URLConfig struct {
	LinksFile       string
	RefreshInterval time.Duration
	RetryInterval   time.Duration
	Concurrency     int
}

// URLProvider indexes the URLs listed in a links file. Source ids are the
// URLs themselves.
type URLProvider struct {
	linksFile       string
	fetcher         fetch.Fetcher
	content         ContentStore
	refreshInterval time.Duration
	retryInterval   time.Duration
	concurrency     int
	logger          *slog.Logger

	mu        sync.Mutex
	refetched map[string]validators
}

// validators are the cache validators of a body fetched outside Refresh.
type validators struct {
	etag         string
	lastModified string
}

// NewURLProvider creates a provider reading ids from cfg.LinksFile.
func NewURLProvider(cfg URLConfig, fetcher fetch.Fetcher, content ContentStore, logger *slog.Logger) *URLProvider {
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &URLProvider{
		linksFile:       expandPath(cfg.LinksFile),
		fetcher:         fetcher,
		content:         content,
		refreshInterval: cfg.RefreshInterval,
		retryInterval:   cfg.RetryInterval,
		concurrency:     concurrency,
		logger:          logger.With("provider", string(storage.SourceURL)),
		refetched:       make(map[string]validators),
	}
}

// Type returns storage.SourceURL.
func (p *URLProvider) Type() storage.SourceType {
	return storage.SourceURL
}

// LinksFile returns the path of the links file.
func (p *URLProvider) LinksFile() string {
	return p.linksFile
}

// Discover reads the links file. A missing file is an empty set; any other
// read failure is an error so that existing records are not dropped.
func (p *URLProvider) Discover(ctx context.Context) (map[string]storage.SourceType, error) {
	f, err := os.Open(p.linksFile)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]storage.SourceType{}, nil
		}
		return nil, fmt.Errorf("opening links file: %w", err)
	}
	defer f.Close()

	links, err := ParseLinks(f)
	if err != nil {
		return nil, fmt.Errorf("reading links file: %w", err)
	}

	found := make(map[string]storage.SourceType, len(links))
	for _, link := range links {
		found[link] = storage.SourceURL
	}
	return found, nil
}

// ParseLinks reads one URL per line. Lines are trimmed; blank lines and lines
// starting with # are skipped; repeats keep their first position.
func ParseLinks(r io.Reader) ([]string, error) {
	var links []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || seen[line] {
			continue
		}
		seen[line] = true
		links = append(links, line)
	}
	return links, scanner.Err()
}

// InitRecord performs the first fetch and stores the body before the record
// exists, so a crash after this point never loses downloaded content.
func (p *URLProvider) InitRecord(ctx context.Context, id string, now time.Time) (*storage.SourceRecord, error) {
	res, err := p.fetcher.Fetch(ctx, fetch.Request{URL: id})
	if err != nil {
		return nil, err
	}
	if res.Status != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: unexpected status %d on first fetch", id, res.Status)
	}
	if strings.TrimSpace(res.Body) == "" {
		return nil, fmt.Errorf("fetching %s: empty body", id)
	}

	if err := p.content.Put(id, res.Body); err != nil {
		return nil, fmt.Errorf("storing content for %s: %w", id, err)
	}

	now = now.UTC()
	return &storage.SourceRecord{
		SourceType:     storage.SourceURL,
		ContentHash:    fingerprint.Hash(res.Body),
		LastIndexedAt:  now,
		SummaryPending: true,
		URL: &storage.URLMeta{
			URL:           id,
			LastFetchedAt: now,
			ETag:          storage.StringPtr(res.ETag),
			LastModified:  storage.StringPtr(res.LastModified),
			FetchStatus:   storage.FetchSuccess,
			NextCheckAt:   now.Add(p.refreshInterval),
		},
	}, nil
}

// Refresh re-fetches every URL record that is due, at most p.concurrency at a
// time. Each goroutine only touches its own record.
func (p *URLProvider) Refresh(ctx context.Context, state *storage.CacheState, now time.Time) (bool, error) {
	now = now.UTC()

	var due []*storage.SourceRecord
	var dueIDs []string
	for _, id := range state.IDs() {
		rec := state.Sources[id]
		if rec.SourceType != storage.SourceURL || rec.URL == nil {
			continue
		}
		if rec.URL.NextCheckAt.After(now) {
			continue
		}
		due = append(due, rec)
		dueIDs = append(dueIDs, id)
	}
	if len(due) == 0 {
		return false, nil
	}

	var changed atomic.Bool
	var g errgroup.Group
	g.SetLimit(p.concurrency)

	for i := range due {
		rec, id := due[i], dueIDs[i]
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			if p.refreshOne(ctx, id, rec, now) {
				changed.Store(true)
			}
			return nil
		})
	}
	_ = g.Wait()

	return changed.Load(), ctx.Err()
}

func (p *URLProvider) refreshOne(ctx context.Context, id string, rec *storage.SourceRecord, now time.Time) bool {
	meta := rec.URL

	res, err := p.fetcher.Fetch(ctx, fetch.Request{
		URL:          meta.URL,
		ETag:         deref(meta.ETag),
		LastModified: deref(meta.LastModified),
	})
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		return p.markFailure(id, rec, now, err)
	}

	switch res.Status {
	case http.StatusNotModified:
		meta.FetchStatus = storage.FetchNotModified
		meta.LastFetchedAt = now
		meta.NextCheckAt = now.Add(p.refreshInterval)
		return true

	case http.StatusOK:
		if strings.TrimSpace(res.Body) == "" {
			return p.markFailure(id, rec, now, errors.New("empty body"))
		}
		if err := p.content.Put(id, res.Body); err != nil {
			return p.markFailure(id, rec, now, fmt.Errorf("storing content: %w", err))
		}
		p.dropRefetched(id)

		hash := fingerprint.Hash(res.Body)
		meta.ETag = storage.StringPtr(res.ETag)
		meta.LastModified = storage.StringPtr(res.LastModified)
		meta.FetchStatus = storage.FetchSuccess
		meta.LastFetchedAt = now
		meta.NextCheckAt = now.Add(p.refreshInterval)

		if hash != rec.ContentHash || rec.SummaryPending || strings.TrimSpace(rec.SummaryText) == "" {
			rec.SummaryPending = true
		}
		rec.ContentHash = hash
		return true

	default:
		return p.markFailure(id, rec, now, &fetch.StatusError{URL: meta.URL, Code: res.Status})
	}
}

// markFailure records a failed fetch and schedules a retry. Content fields
// are left alone.
func (p *URLProvider) markFailure(id string, rec *storage.SourceRecord, now time.Time, err error) bool {
	status := storage.FetchError
	if fetch.IsTimeout(err) {
		status = storage.FetchTimeout
	}
	p.logger.Warn("refreshing url source", "source_id", id, "fetch_status", status, "error", err)

	rec.URL.FetchStatus = status
	rec.URL.NextCheckAt = now.Add(p.retryInterval)
	return true
}

// LoadText returns the stored body. When nothing is stored, for example after
// the content database was removed, the URL is fetched and stored again.
func (p *URLProvider) LoadText(ctx context.Context, id string) (string, error) {
	text, err := p.content.Get(id)
	if err == nil {
		return text, nil
	}
	if !errors.Is(err, storage.ErrContentNotFound) {
		return "", fmt.Errorf("loading content for %s: %w", id, err)
	}

	res, err := p.fetcher.Fetch(ctx, fetch.Request{URL: id})
	if err != nil {
		return "", err
	}
	if res.Status != http.StatusOK {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := p.content.Put(id, res.Body); err != nil {
		p.logger.Warn("storing refetched content", "source_id", id, "error", err)
	}

	p.mu.Lock()
	p.refetched[id] = validators{etag: res.ETag, lastModified: res.LastModified}
	p.mu.Unlock()
	return res.Body, nil
}

// SyncRecord copies the validators of a body re-fetched by LoadText into rec,
// so the fetch bookkeeping describes the same body as rec.ContentHash.
func (p *URLProvider) SyncRecord(id string, rec *storage.SourceRecord, now time.Time) {
	p.mu.Lock()
	v, ok := p.refetched[id]
	delete(p.refetched, id)
	p.mu.Unlock()

	if !ok || rec.URL == nil {
		return
	}
	now = now.UTC()
	rec.URL.ETag = storage.StringPtr(v.etag)
	rec.URL.LastModified = storage.StringPtr(v.lastModified)
	rec.URL.FetchStatus = storage.FetchSuccess
	rec.URL.LastFetchedAt = now
	rec.URL.NextCheckAt = now.Add(p.refreshInterval)
}

func (p *URLProvider) dropRefetched(id string) {
	p.mu.Lock()
	delete(p.refetched, id)
	p.mu.Unlock()
}

// Forget deletes the stored body.
func (p *URLProvider) Forget(ctx context.Context, id string) error {
	p.dropRefetched(id)
	return p.content.Delete(id)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
