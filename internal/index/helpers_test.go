package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jankowtf/kbindex/internal/fetch"
	"github.com/jankowtf/kbindex/internal/index/sources"
	"github.com/jankowtf/kbindex/internal/storage"
	"github.com/jankowtf/kbindex/pkg/fingerprint"
)

// testClock is a settable clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeSummarizer counts calls and tracks how many run at once.
type fakeSummarizer struct {
	mu          sync.Mutex
	calls       int
	inFlight    int
	maxInFlight int
	delay       time.Duration
	err         error
	fn          func(text string) (string, error)
}

func (f *fakeSummarizer) Summarize(ctx context.Context, text string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	delay, err, fn := f.delay, f.err, f.fn
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	if fn != nil {
		return fn(text)
	}
	first, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	return "About " + first + ".", nil
}

func (f *fakeSummarizer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeSummarizer) SetErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// memProvider serves sources from memory.
type memProvider struct {
	mu          sync.Mutex
	typ         storage.SourceType
	texts       map[string]string
	initErr     map[string]error
	discoverErr error
	forgotten   []string
}

func newMemProvider(typ storage.SourceType, texts map[string]string) *memProvider {
	if texts == nil {
		texts = map[string]string{}
	}
	return &memProvider{typ: typ, texts: texts, initErr: map[string]error{}}
}

func (m *memProvider) Type() storage.SourceType { return m.typ }

func (m *memProvider) Set(id, text string) {
	m.mu.Lock()
	m.texts[id] = text
	m.mu.Unlock()
}

func (m *memProvider) Remove(id string) {
	m.mu.Lock()
	delete(m.texts, id)
	m.mu.Unlock()
}

func (m *memProvider) Forgotten() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.forgotten...)
}

func (m *memProvider) Discover(ctx context.Context) (map[string]storage.SourceType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.discoverErr != nil {
		return nil, m.discoverErr
	}
	out := make(map[string]storage.SourceType, len(m.texts))
	for id := range m.texts {
		out[id] = m.typ
	}
	return out, nil
}

func (m *memProvider) InitRecord(ctx context.Context, id string, now time.Time) (*storage.SourceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.initErr[id]; err != nil {
		return nil, err
	}
	text, ok := m.texts[id]
	if !ok {
		return nil, sources.ErrNotFound
	}
	return &storage.SourceRecord{
		SourceType:     m.typ,
		ContentHash:    fingerprint.Hash(text),
		LastIndexedAt:  now,
		SummaryPending: true,
	}, nil
}

func (m *memProvider) Refresh(ctx context.Context, state *storage.CacheState, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := false
	for id, rec := range state.Sources {
		if rec.SourceType != m.typ {
			continue
		}
		text, ok := m.texts[id]
		if !ok {
			continue
		}
		if h := fingerprint.Hash(text); h != rec.ContentHash {
			rec.ContentHash = h
			rec.SummaryPending = true
			changed = true
		}
	}
	return changed, nil
}

func (m *memProvider) LoadText(ctx context.Context, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	text, ok := m.texts[id]
	if !ok {
		return "", sources.ErrNotFound
	}
	return text, nil
}

func (m *memProvider) Forget(ctx context.Context, id string) error {
	m.mu.Lock()
	m.forgotten = append(m.forgotten, id)
	m.mu.Unlock()
	return nil
}

// scriptedFetcher answers URL fetches from a function.
type scriptedFetcher struct {
	mu     sync.Mutex
	calls  int
	answer func(req fetch.Request) (*fetch.Result, error)
}

func (f *scriptedFetcher) Fetch(ctx context.Context, req fetch.Request) (*fetch.Result, error) {
	f.mu.Lock()
	f.calls++
	answer := f.answer
	f.mu.Unlock()
	return answer(req)
}

func (f *scriptedFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *scriptedFetcher) SetAnswer(answer func(req fetch.Request) (*fetch.Result, error)) {
	f.mu.Lock()
	f.answer = answer
	f.mu.Unlock()
}

type fixture struct {
	dir   string
	store *storage.CacheStore
	summ  *fakeSummarizer
	clock *testClock
	idx   *Indexer
}

func newFixture(t *testing.T, summ *fakeSummarizer, concurrency int, providers ...sources.Provider) *fixture {
	t.Helper()
	dir := t.TempDir()
	reg, err := sources.NewRegistry(providers...)
	require.NoError(t, err)

	store := storage.NewCacheStore(filepath.Join(dir, "out", "cache.json"), filepath.Join(dir, "out", "index.txt"), nil)
	clock := newTestClock()
	idx := New(reg, store, summ, Options{
		Render:             RenderOptions{Order: []storage.SourceType{storage.SourceFile, storage.SourceURL}},
		SummaryConcurrency: concurrency,
		SummaryTimeout:     5 * time.Second,
		Now:                clock.Now,
	})
	return &fixture{dir: dir, store: store, summ: summ, clock: clock, idx: idx}
}

func (f *fixture) run(t *testing.T) *PassStats {
	t.Helper()
	stats, err := f.idx.RunOnce(context.Background())
	require.NoError(t, err)
	return stats
}

func (f *fixture) cacheBytes(t *testing.T) []byte {
	t.Helper()
	data, err := os.ReadFile(f.store.CachePath())
	require.NoError(t, err)
	return data
}

func (f *fixture) indexText(t *testing.T) string {
	t.Helper()
	text, err := f.store.ReadIndex()
	require.NoError(t, err)
	return text
}

func (f *fixture) record(t *testing.T, id string) *storage.SourceRecord {
	t.Helper()
	rec, ok := f.store.Load().Sources[id]
	require.True(t, ok, "record %q missing", id)
	return rec
}

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// bumpMtime moves a file's mtime forward so the fast path sees a change.
func bumpMtime(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	later := info.ModTime().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, later, later))
}

func sortedIDs(state *storage.CacheState) []string {
	ids := make([]string, 0, len(state.Sources))
	for id := range state.Sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

var errBackendDown = errors.New("backend down")

func manyTexts(n int) map[string]string {
	out := make(map[string]string, n)
	for i := 0; i < n; i++ {
		out[fmt.Sprintf("doc%02d.md", i)] = fmt.Sprintf("Document %d", i)
	}
	return out
}
