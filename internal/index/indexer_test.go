package index

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jankowtf/kbindex/internal/fetch"
	"github.com/jankowtf/kbindex/internal/index/sources"
	"github.com/jankowtf/kbindex/internal/storage"
	"github.com/jankowtf/kbindex/pkg/fingerprint"
)

func TestIndexer_NewFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "notes.md", "Hello")

	summ := &fakeSummarizer{fn: func(text string) (string, error) {
		assert.Equal(t, "Hello", text)
		return "A greeting.", nil
	}}
	f := newFixture(t, summ, 2, sources.NewFileProvider(sources.FileConfig{Root: root}, nil))

	stats := f.run(t)
	assert.Equal(t, 1, stats.Added)
	assert.Equal(t, 1, stats.Summarized)
	assert.Equal(t, 0, stats.Pending)
	assert.NotEmpty(t, stats.PassID)

	rec := f.record(t, "notes.md")
	assert.Equal(t, storage.SourceFile, rec.SourceType)
	assert.Equal(t, fingerprint.Hash("Hello"), rec.ContentHash)
	assert.Equal(t, "A greeting.", rec.SummaryText)
	assert.False(t, rec.SummaryPending)
	require.NotNil(t, rec.File)
	assert.EqualValues(t, 5, rec.File.SizeBytes)

	assert.Equal(t, "file:notes.md\nA greeting.", f.indexText(t))
}

func TestIndexer_Idempotent(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.md", "Alpha")
	writeFile(t, root, "sub/b.md", "Beta")

	summ := &fakeSummarizer{}
	f := newFixture(t, summ, 2, sources.NewFileProvider(sources.FileConfig{Root: root}, nil))
	f.run(t)

	cacheBefore := f.cacheBytes(t)
	indexBefore := f.indexText(t)
	callsBefore := summ.Calls()

	f.clock.Advance(time.Hour)
	stats := f.run(t)

	assert.Equal(t, 0, stats.Commits)
	assert.Equal(t, callsBefore, summ.Calls())
	assert.Equal(t, cacheBefore, f.cacheBytes(t))
	assert.Equal(t, indexBefore, f.indexText(t))
}

func TestIndexer_EmptySourcesWritesArtifactsOnce(t *testing.T) {
	f := newFixture(t, &fakeSummarizer{}, 1, sources.NewFileProvider(sources.FileConfig{Root: t.TempDir()}, nil))

	stats := f.run(t)
	assert.Equal(t, 1, stats.Commits)
	assert.True(t, f.store.Exists())
	assert.Equal(t, "", f.indexText(t))

	stats = f.run(t)
	assert.Equal(t, 0, stats.Commits)
}

func TestIndexer_RewritesIndexOutOfStepWithCache(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(t *testing.T, f *fixture)
	}{
		{
			name: "blanked index",
			corrupt: func(t *testing.T, f *fixture) {
				require.NoError(t, os.WriteFile(f.store.IndexPath(), nil, 0644))
			},
		},
		{
			name: "stale index",
			corrupt: func(t *testing.T, f *fixture) {
				require.NoError(t, os.WriteFile(f.store.IndexPath(), []byte("file:old.md\nOld."), 0644))
			},
		},
		{
			name: "deleted index",
			corrupt: func(t *testing.T, f *fixture) {
				require.NoError(t, os.Remove(f.store.IndexPath()))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := newMemProvider(storage.SourceFile, map[string]string{"notes.md": "hello"})
			summ := &fakeSummarizer{}
			f := newFixture(t, summ, 1, mem)
			f.run(t)
			want := f.indexText(t)
			require.Equal(t, "file:notes.md\nAbout hello.", want)

			tt.corrupt(t, f)

			stats := f.run(t)
			assert.Equal(t, 1, stats.Commits)
			assert.Equal(t, 1, summ.Calls())
			assert.Equal(t, want, f.indexText(t))

			stats = f.run(t)
			assert.Equal(t, 0, stats.Commits)
		})
	}
}

func TestIndexer_SchemaMismatchRewritesCache(t *testing.T) {
	f := newFixture(t, &fakeSummarizer{}, 1, newMemProvider(storage.SourceFile, nil))

	old := storage.NewCacheState(f.clock.Now())
	old.SchemaVersion = storage.CurrentSchemaVersion + 1
	require.NoError(t, f.store.Save(old, ""))

	stats := f.run(t)
	assert.Equal(t, 1, stats.Commits)

	_, intact := f.store.LoadIntact()
	assert.True(t, intact)

	stats = f.run(t)
	assert.Equal(t, 0, stats.Commits)
}

func TestIndexer_ChangeDetection(t *testing.T) {
	root := t.TempDir()
	path := writeFile(t, root, "a.md", "Alpha")

	summ := &fakeSummarizer{}
	f := newFixture(t, summ, 1, sources.NewFileProvider(sources.FileConfig{Root: root}, nil))
	f.run(t)
	require.Equal(t, 1, summ.Calls())

	// Touch without changing content: no new summary.
	bumpMtime(t, path)
	f.run(t)
	assert.Equal(t, 1, summ.Calls())

	// Whitespace-only edit normalizes to the same fingerprint.
	require.NoError(t, os.WriteFile(path, []byte("Alpha   \r\n\r\n"), 0644))
	bumpMtime(t, path)
	f.run(t)
	assert.Equal(t, 1, summ.Calls())

	require.NoError(t, os.WriteFile(path, []byte("Gamma"), 0644))
	bumpMtime(t, path)
	f.run(t)
	assert.Equal(t, 2, summ.Calls())
	assert.Equal(t, "About Gamma.", f.record(t, "a.md").SummaryText)
	assert.Equal(t, "file:a.md\nAbout Gamma.", f.indexText(t))
}

func TestIndexer_SummarizerFailure(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.md", "Alpha")

	summ := &fakeSummarizer{err: errBackendDown}
	f := newFixture(t, summ, 1, sources.NewFileProvider(sources.FileConfig{Root: root}, nil))

	stats := f.run(t)
	assert.Equal(t, 1, stats.SummaryFailed)
	assert.Equal(t, 1, stats.Pending)

	rec := f.record(t, "a.md")
	assert.True(t, rec.SummaryPending)
	assert.Empty(t, rec.SummaryText)
	assert.Equal(t, "", f.indexText(t), "records without summary are not rendered")

	// A failing pass writes nothing.
	before := f.cacheBytes(t)
	f.run(t)
	assert.Equal(t, before, f.cacheBytes(t))
	assert.Equal(t, 2, summ.Calls())

	summ.SetErr(nil)
	stats = f.run(t)
	assert.Equal(t, 1, stats.Summarized)
	assert.False(t, f.record(t, "a.md").SummaryPending)
	assert.Equal(t, "file:a.md\nAbout Alpha.", f.indexText(t))
}

func TestIndexer_FailureKeepsPreviousSummary(t *testing.T) {
	mem := newMemProvider(storage.SourceFile, map[string]string{"a.md": "v1"})
	summ := &fakeSummarizer{}
	f := newFixture(t, summ, 1, mem)
	f.run(t)
	require.Equal(t, "About v1.", f.record(t, "a.md").SummaryText)

	mem.Set("a.md", "v2")
	summ.SetErr(errBackendDown)
	f.run(t)

	rec := f.record(t, "a.md")
	assert.True(t, rec.SummaryPending)
	assert.Equal(t, "About v1.", rec.SummaryText)
	assert.Equal(t, fingerprint.Hash("v2"), rec.ContentHash)
	assert.Equal(t, "file:a.md\nAbout v1.", f.indexText(t))
}

func TestIndexer_EmptySummaryIsFailure(t *testing.T) {
	mem := newMemProvider(storage.SourceFile, map[string]string{"a.md": "text"})
	summ := &fakeSummarizer{fn: func(string) (string, error) { return "  \n", nil }}
	f := newFixture(t, summ, 1, mem)

	stats := f.run(t)
	assert.Equal(t, 1, stats.SummaryFailed)
	assert.True(t, f.record(t, "a.md").SummaryPending)
}

func TestIndexer_Deletion(t *testing.T) {
	mem := newMemProvider(storage.SourceFile, map[string]string{"a.md": "A", "b.md": "B"})
	f := newFixture(t, &fakeSummarizer{}, 2, mem)
	f.run(t)
	require.Equal(t, "file:a.md\nAbout A.\n\nfile:b.md\nAbout B.", f.indexText(t))

	mem.Remove("a.md")
	stats := f.run(t)

	assert.Equal(t, 1, stats.Removed)
	assert.Equal(t, []string{"b.md"}, sortedIDs(f.store.Load()))
	assert.Equal(t, "file:b.md\nAbout B.", f.indexText(t))
	assert.Equal(t, []string{"a.md"}, mem.Forgotten())
}

func TestIndexer_TypeChange(t *testing.T) {
	files := newMemProvider(storage.SourceFile, map[string]string{"shared": "as file"})
	urls := newMemProvider(storage.SourceURL, nil)
	summ := &fakeSummarizer{}
	f := newFixture(t, summ, 1, files, urls)
	f.run(t)
	require.Equal(t, storage.SourceFile, f.record(t, "shared").SourceType)

	files.Remove("shared")
	urls.Set("shared", "as url")
	stats := f.run(t)

	assert.Equal(t, 1, stats.Retyped)
	rec := f.record(t, "shared")
	assert.Equal(t, storage.SourceURL, rec.SourceType)
	assert.Equal(t, "About as url.", rec.SummaryText)
	assert.Equal(t, []string{"shared"}, files.Forgotten())
	assert.Empty(t, urls.Forgotten())
	assert.Equal(t, "url:shared\nAbout as url.", f.indexText(t))
}

func TestIndexer_TypeChangeInitFailureDropsOldRecord(t *testing.T) {
	files := newMemProvider(storage.SourceFile, map[string]string{"shared": "as file"})
	urls := newMemProvider(storage.SourceURL, nil)
	f := newFixture(t, &fakeSummarizer{}, 1, files, urls)
	f.run(t)

	files.Remove("shared")
	urls.Set("shared", "as url")
	urls.initErr["shared"] = errors.New("unreachable")

	stats := f.run(t)
	assert.Equal(t, 1, stats.InitFailed)
	_, ok := f.store.Load().Sources["shared"]
	assert.False(t, ok)
	assert.Equal(t, "", f.indexText(t))
}

func TestIndexer_InitFailureRetriedNextPass(t *testing.T) {
	mem := newMemProvider(storage.SourceFile, map[string]string{"a.md": "A", "b.md": "B"})
	mem.initErr["b.md"] = errors.New("locked")
	f := newFixture(t, &fakeSummarizer{}, 1, mem)

	stats := f.run(t)
	assert.Equal(t, 1, stats.Added)
	assert.Equal(t, 1, stats.InitFailed)
	assert.Equal(t, []string{"a.md"}, sortedIDs(f.store.Load()))

	delete(mem.initErr, "b.md")
	stats = f.run(t)
	assert.Equal(t, 1, stats.Added)
	assert.Equal(t, []string{"a.md", "b.md"}, sortedIDs(f.store.Load()))
}

func TestIndexer_DuplicateIDAbortsPass(t *testing.T) {
	files := newMemProvider(storage.SourceFile, map[string]string{"a": "file"})
	urls := newMemProvider(storage.SourceURL, nil)
	f := newFixture(t, &fakeSummarizer{}, 1, files, urls)
	f.run(t)
	before := f.cacheBytes(t)

	urls.Set("a", "url")
	_, err := f.idx.RunOnce(context.Background())

	var de *DiscoveryError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, storage.SourceURL, de.Provider)
	assert.Equal(t, before, f.cacheBytes(t))
}

func TestIndexer_ProviderDiscoveryError(t *testing.T) {
	mem := newMemProvider(storage.SourceFile, map[string]string{"a.md": "A"})
	f := newFixture(t, &fakeSummarizer{}, 1, mem)
	f.run(t)
	before := f.cacheBytes(t)

	boom := errors.New("disk gone")
	mem.discoverErr = boom
	_, err := f.idx.RunOnce(context.Background())

	assert.ErrorIs(t, err, boom)
	var de *DiscoveryError
	assert.True(t, errors.As(err, &de))
	assert.Equal(t, before, f.cacheBytes(t))
}

func TestIndexer_PersistenceError(t *testing.T) {
	mem := newMemProvider(storage.SourceFile, map[string]string{"a.md": "A"})
	f := newFixture(t, &fakeSummarizer{}, 1, mem)

	// A directory at the index path makes every save fail.
	require.NoError(t, os.MkdirAll(filepath.Join(f.store.IndexPath(), "blocker"), 0755))

	_, err := f.idx.RunOnce(context.Background())
	require.Error(t, err)

	var pe *PersistenceError
	assert.True(t, errors.As(err, &pe))
	assert.ErrorIs(t, err, storage.ErrPersist)
	assert.Equal(t, 0, f.summ.Calls(), "pass stops before summarizing")
}

func TestIndexer_CrashAfterFetchKeepsPendingRecord(t *testing.T) {
	mem := newMemProvider(storage.SourceFile, map[string]string{"a.md": "A"})
	f := newFixture(t, &fakeSummarizer{}, 1, mem)

	// The summarizer sees the record already on disk, pending.
	f.summ.fn = func(text string) (string, error) {
		rec, ok := f.store.Load().Sources["a.md"]
		if assert.True(t, ok) {
			assert.True(t, rec.SummaryPending)
			assert.Equal(t, fingerprint.Hash("A"), rec.ContentHash)
		}

		// Simulate a crash before the summary lands.
		return "", context.Canceled
	}
	f.run(t)

	// A fresh indexer over the same files resumes the owed summary.
	f.summ.fn = nil
	reg, err := sources.NewRegistry(mem)
	require.NoError(t, err)
	restarted := New(reg, f.store, f.summ, Options{Now: f.clock.Now})
	_, err = restarted.RunOnce(context.Background())
	require.NoError(t, err)

	rec := f.record(t, "a.md")
	assert.False(t, rec.SummaryPending)
	assert.Equal(t, "About A.", rec.SummaryText)
}

func TestIndexer_SummaryConcurrencyBound(t *testing.T) {
	mem := newMemProvider(storage.SourceFile, manyTexts(8))
	summ := &fakeSummarizer{delay: 20 * time.Millisecond}
	f := newFixture(t, summ, 3, mem)

	stats := f.run(t)
	assert.Equal(t, 8, stats.Summarized)
	assert.Equal(t, 8, summ.Calls())
	assert.LessOrEqual(t, summ.maxInFlight, 3)
	assert.Greater(t, summ.maxInFlight, 1)
}

func TestIndexer_ConcurrentRunsQueue(t *testing.T) {
	mem := newMemProvider(storage.SourceFile, manyTexts(4))
	summ := &fakeSummarizer{delay: 10 * time.Millisecond}
	f := newFixture(t, summ, 2, mem)

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.idx.RunOnce(context.Background())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 4, summ.Calls(), "each source summarized exactly once")
}

func TestIndexer_URLNotModified(t *testing.T) {
	dir := t.TempDir()
	linksFile := filepath.Join(dir, "links.txt")
	require.NoError(t, os.WriteFile(linksFile, []byte("https://docs.test/page\n"), 0644))

	content, err := storage.OpenContentStore(filepath.Join(dir, "content.db"))
	require.NoError(t, err)
	defer content.Close()

	fetcher := &scriptedFetcher{answer: func(req fetch.Request) (*fetch.Result, error) {
		return &fetch.Result{Status: http.StatusOK, Body: "Page body", ETag: `"v1"`}, nil
	}}
	urls := sources.NewURLProvider(sources.URLConfig{
		LinksFile:       linksFile,
		RefreshInterval: 24 * time.Hour,
		RetryInterval:   5 * time.Minute,
		Concurrency:     2,
	}, fetcher, content, nil)

	summ := &fakeSummarizer{}
	f := newFixture(t, summ, 1, urls)
	f.run(t)
	require.Equal(t, 1, summ.Calls())
	indexBefore := f.indexText(t)
	require.Equal(t, "url:https://docs.test/page\nAbout Page body.", indexBefore)

	// Not due yet: no network.
	f.run(t)
	assert.Equal(t, 1, fetcher.Calls())

	fetcher.SetAnswer(func(req fetch.Request) (*fetch.Result, error) {
		assert.Equal(t, `"v1"`, req.ETag)
		return &fetch.Result{Status: http.StatusNotModified}, nil
	})
	f.clock.Advance(25 * time.Hour)
	f.run(t)

	assert.Equal(t, 2, fetcher.Calls())
	assert.Equal(t, 1, summ.Calls())
	assert.Equal(t, indexBefore, f.indexText(t))

	rec := f.record(t, "https://docs.test/page")
	assert.Equal(t, storage.FetchNotModified, rec.URL.FetchStatus)
	assert.Equal(t, f.clock.Now(), rec.URL.LastFetchedAt)
	assert.Equal(t, f.clock.Now().Add(24*time.Hour), rec.URL.NextCheckAt)
	assert.False(t, rec.SummaryPending)
}

func TestIndexer_URLRefetchOnLoadUpdatesValidators(t *testing.T) {
	dir := t.TempDir()
	linksFile := filepath.Join(dir, "links.txt")
	require.NoError(t, os.WriteFile(linksFile, []byte("https://docs.test/page\n"), 0644))

	content, err := storage.OpenContentStore(filepath.Join(dir, "content.db"))
	require.NoError(t, err)
	defer content.Close()

	fetcher := &scriptedFetcher{answer: func(req fetch.Request) (*fetch.Result, error) {
		return &fetch.Result{Status: http.StatusOK, Body: "Page body", ETag: `"v1"`}, nil
	}}
	urls := sources.NewURLProvider(sources.URLConfig{
		LinksFile:       linksFile,
		RefreshInterval: 24 * time.Hour,
		RetryInterval:   5 * time.Minute,
	}, fetcher, content, nil)

	summ := &fakeSummarizer{err: errBackendDown}
	f := newFixture(t, summ, 1, urls)
	f.run(t)
	require.True(t, f.record(t, "https://docs.test/page").SummaryPending)

	// Stored body lost while the record is still pending and not due.
	require.NoError(t, content.Delete("https://docs.test/page"))
	fetcher.SetAnswer(func(req fetch.Request) (*fetch.Result, error) {
		return &fetch.Result{Status: http.StatusOK, Body: "New body", ETag: `"v2"`}, nil
	})
	summ.SetErr(nil)
	f.clock.Advance(time.Hour)
	f.run(t)

	rec := f.record(t, "https://docs.test/page")
	assert.False(t, rec.SummaryPending)
	assert.Equal(t, "About New body.", rec.SummaryText)
	assert.Equal(t, fingerprint.Hash("New body"), rec.ContentHash)
	require.NotNil(t, rec.URL.ETag)
	assert.Equal(t, `"v2"`, *rec.URL.ETag)
	assert.Equal(t, f.clock.Now(), rec.URL.LastFetchedAt)
	assert.Equal(t, f.clock.Now().Add(24*time.Hour), rec.URL.NextCheckAt)
}

func TestIndexer_URLTimeoutReschedules(t *testing.T) {
	dir := t.TempDir()
	linksFile := filepath.Join(dir, "links.txt")
	require.NoError(t, os.WriteFile(linksFile, []byte("https://docs.test/page\n"), 0644))

	content, err := storage.OpenContentStore(filepath.Join(dir, "content.db"))
	require.NoError(t, err)
	defer content.Close()

	fetcher := &scriptedFetcher{answer: func(req fetch.Request) (*fetch.Result, error) {
		return &fetch.Result{Status: http.StatusOK, Body: "Page body"}, nil
	}}
	urls := sources.NewURLProvider(sources.URLConfig{
		LinksFile:       linksFile,
		RefreshInterval: time.Hour,
		RetryInterval:   5 * time.Minute,
	}, fetcher, content, nil)

	f := newFixture(t, &fakeSummarizer{}, 1, urls)
	f.run(t)

	fetcher.SetAnswer(func(req fetch.Request) (*fetch.Result, error) {
		return nil, fetch.ErrTimeout
	})
	f.clock.Advance(2 * time.Hour)
	f.run(t)

	rec := f.record(t, "https://docs.test/page")
	assert.Equal(t, storage.FetchTimeout, rec.URL.FetchStatus)
	assert.Equal(t, f.clock.Now().Add(5*time.Minute), rec.URL.NextCheckAt)
	assert.Equal(t, fingerprint.Hash("Page body"), rec.ContentHash)
	assert.Equal(t, "About Page body.", rec.SummaryText)
}

func TestIndexer_CancelledContext(t *testing.T) {
	mem := newMemProvider(storage.SourceFile, manyTexts(3))
	f := newFixture(t, &fakeSummarizer{}, 1, mem)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.idx.RunOnce(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIndexer_NotifyChanged(t *testing.T) {
	mem := newMemProvider(storage.SourceFile, map[string]string{"a.md": "A"})
	f := newFixture(t, &fakeSummarizer{}, 1, mem)
	f.run(t)

	mem.Set("a.md", "A2")
	stats, err := f.idx.NotifyChanged(context.Background(), "a.md")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Summarized)
	assert.Equal(t, "About A2.", f.record(t, "a.md").SummaryText)
}

func TestIndexer_Reads(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "guide/setup.md", "Setup steps")
	f := newFixture(t, &fakeSummarizer{}, 1, sources.NewFileProvider(sources.FileConfig{Root: root}, nil))
	f.run(t)

	text, err := f.idx.LoadIndexText()
	require.NoError(t, err)
	assert.Equal(t, "file:guide/setup.md\nAbout Setup steps.", text)

	entries, err := f.idx.LoadIndexEntries()
	require.NoError(t, err)
	assert.Equal(t, []Entry{{ID: "file:guide/setup.md", SourceID: "guide/setup.md", Description: "About Setup steps."}}, entries)

	ctx := context.Background()
	full, err := f.idx.LoadSourceText(ctx, "guide/setup.md")
	require.NoError(t, err)
	assert.Equal(t, "Setup steps", full)

	full, err = f.idx.LoadSourceText(ctx, "file:guide/setup.md")
	require.NoError(t, err)
	assert.Equal(t, "Setup steps", full)

	_, err = f.idx.LoadSourceText(ctx, "missing.md")
	assert.ErrorIs(t, err, ErrSourceNotFound)

	snap := f.idx.Snapshot()
	snap.Sources["guide/setup.md"].SummaryText = "mutated"
	assert.Equal(t, "About Setup steps.", f.idx.Snapshot().Sources["guide/setup.md"].SummaryText)
}

func TestIndexer_LongSourceSummarizesHead(t *testing.T) {
	long := "Intro paragraph.\n\n" + strings.Repeat("filler ", 100)
	mem := newMemProvider(storage.SourceFile, map[string]string{"long.md": long})
	reg, err := sources.NewRegistry(mem)
	require.NoError(t, err)

	var got string
	summ := &fakeSummarizer{fn: func(text string) (string, error) {
		got = text
		return "Long.", nil
	}}
	dir := t.TempDir()
	store := storage.NewCacheStore(filepath.Join(dir, "cache.json"), filepath.Join(dir, "index.txt"), nil)
	idx := New(reg, store, summ, Options{MaxSummaryInput: 30})

	_, err = idx.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Intro paragraph.", got)
	rec := store.Load().Sources["long.md"]
	assert.Equal(t, fingerprint.Hash(long), rec.ContentHash)
}
