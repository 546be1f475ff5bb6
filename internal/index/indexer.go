// Package index keeps the knowledge index synchronized with its sources.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/jankowtf/kbindex/internal/index/sources"
	"github.com/jankowtf/kbindex/internal/storage"
	"github.com/jankowtf/kbindex/internal/summarize"
	"github.com/jankowtf/kbindex/pkg/excerpt"
	"github.com/jankowtf/kbindex/pkg/fingerprint"
)

// Options configures an Indexer.
type Options struct {
	Render             RenderOptions
	SummaryConcurrency int
	SummaryTimeout     time.Duration

	// MaxSummaryInput caps the runes sent to the summarizer; zero sends
	// the whole text. Fingerprints always cover the whole text.
	MaxSummaryInput int

	Logger *slog.Logger
	Now    func() time.Time
}

// Indexer runs reconciliation passes: discover, reconcile, refresh,
// summarize, persist. It is the only writer of the cache state.
type Indexer struct {
	registry   *sources.Registry
	store      *storage.CacheStore
	summarizer summarize.Summarizer
	render     RenderOptions
	sumLimit   int64
	sumTimeout time.Duration
	maxInput   int
	logger     *slog.Logger
	now        func() time.Time

	// runMu serializes passes.
	runMu sync.Mutex

	// stateMu guards the live state while summaries are applied concurrently.
	stateMu sync.Mutex

	snapMu   sync.RWMutex
	snapshot *storage.CacheState
}

// PassStats describes one pass.
type PassStats struct {
	PassID        string        `json:"pass_id"`
	Discovered    int           `json:"discovered"`
	Added         int           `json:"added"`
	Removed       int           `json:"removed"`
	Retyped       int           `json:"retyped"`
	InitFailed    int           `json:"init_failed"`
	Refreshed     bool          `json:"refreshed"`
	Summarized    int           `json:"summarized"`
	SummaryFailed int           `json:"summary_failed"`
	Pending       int           `json:"pending"`
	Commits       int           `json:"commits"`
	Duration      time.Duration `json:"duration"`
}

// New creates an Indexer.
func New(registry *sources.Registry, store *storage.CacheStore, summarizer summarize.Summarizer, opts Options) *Indexer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	limit := int64(opts.SummaryConcurrency)
	if limit < 1 {
		limit = 1
	}
	timeout := opts.SummaryTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	render := opts.Render
	if len(render.Order) == 0 {
		render.Order = registry.Types()
	}

	return &Indexer{
		registry:   registry,
		store:      store,
		summarizer: summarizer,
		render:     render,
		sumLimit:   limit,
		sumTimeout: timeout,
		maxInput:   opts.MaxSummaryInput,
		logger:     logger,
		now:        now,
	}
}

// RunOnce runs one full pass. Concurrent calls queue behind each other.
func (idx *Indexer) RunOnce(ctx context.Context) (*PassStats, error) {
	idx.runMu.Lock()
	defer idx.runMu.Unlock()

	stats := &PassStats{PassID: uuid.NewString()}
	log := idx.logger.With("pass_id", stats.PassID)
	start := time.Now()

	err := idx.runLocked(ctx, log, stats)
	stats.Duration = time.Since(start)

	if err != nil {
		log.Error("index pass failed", "error", err, "commits", stats.Commits)
		return stats, err
	}

	log.Info("index pass complete",
		"discovered", stats.Discovered,
		"added", stats.Added,
		"removed", stats.Removed,
		"retyped", stats.Retyped,
		"init_failed", stats.InitFailed,
		"summarized", stats.Summarized,
		"summary_failed", stats.SummaryFailed,
		"pending", stats.Pending,
		"commits", stats.Commits,
		"duration", stats.Duration)
	return stats, nil
}

// NotifyChanged runs a pass on behalf of a changed source. The id is only
// logged; the whole pass runs so that every invariant is rechecked.
func (idx *Indexer) NotifyChanged(ctx context.Context, sourceID string) (*PassStats, error) {
	idx.logger.Debug("change notification", "source_id", sourceID)
	return idx.RunOnce(ctx)
}

func (idx *Indexer) runLocked(ctx context.Context, log *slog.Logger, stats *PassStats) error {
	state, intact := idx.store.LoadIntact()
	idx.publish(state)

	discovered, err := idx.discover(ctx)
	if err != nil {
		return err
	}
	stats.Discovered = len(discovered)

	if err := idx.reconcile(ctx, log, state, discovered, stats); err != nil {
		return err
	}

	if err := idx.refresh(ctx, log, state, stats); err != nil {
		return err
	}

	if err := idx.summarizePending(ctx, log, state, stats); err != nil {
		return err
	}

	if stats.Commits == 0 && (!intact || !idx.indexMatches(state)) {
		log.Info("rewriting artifacts out of step with cache state")
		if err := idx.commit(state, stats); err != nil {
			return err
		}
	}

	for _, rec := range state.Sources {
		if rec.SummaryPending {
			stats.Pending++
		}
	}
	return ctx.Err()
}

// discover unions every provider's sources. An id claimed by two providers
// aborts the pass.
func (idx *Indexer) discover(ctx context.Context) (map[string]storage.SourceType, error) {
	all := make(map[string]storage.SourceType)
	owner := make(map[string]storage.SourceType)

	for _, p := range idx.registry.Providers() {
		found, err := p.Discover(ctx)
		if err != nil {
			return nil, &DiscoveryError{Provider: p.Type(), Err: err}
		}
		for id, t := range found {
			if prev, dup := owner[id]; dup {
				return nil, &DiscoveryError{
					Provider: p.Type(),
					Err:      fmt.Errorf("source id %q already claimed by %s provider", id, prev),
				}
			}
			owner[id] = p.Type()
			all[id] = t
		}
	}
	return all, nil
}

// reconcile adds, removes and retypes records so that the state matches the
// discovered set. Every change is committed on its own.
func (idx *Indexer) reconcile(ctx context.Context, log *slog.Logger, state *storage.CacheState, discovered map[string]storage.SourceType, stats *PassStats) error {
	ids := make(map[string]bool, len(state.Sources)+len(discovered))
	for id := range state.Sources {
		ids[id] = true
	}
	for id := range discovered {
		ids[id] = true
	}
	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	for _, id := range sorted {
		if err := ctx.Err(); err != nil {
			return err
		}

		rec, cached := state.Sources[id]
		typ, present := discovered[id]

		switch {
		case cached && !present:
			if err := idx.remove(ctx, log, state, id, rec, stats); err != nil {
				return err
			}
			stats.Removed++
			continue

		case cached && rec.SourceType != typ:
			log.Info("source type changed", "source_id", id, "from", rec.SourceType, "to", typ)
			if err := idx.remove(ctx, log, state, id, rec, stats); err != nil {
				return err
			}
			stats.Retyped++

		case cached:
			continue
		}

		p, ok := idx.registry.Get(typ)
		if !ok {
			log.Warn("no provider for source type", "source_id", id, "source_type", typ)
			stats.InitFailed++
			continue
		}

		newRec, err := p.InitRecord(ctx, id, idx.now())
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("initializing source, will retry next pass", "source_id", id, "source_type", typ, "error", err)
			stats.InitFailed++
			continue
		}

		state.Sources[id] = newRec
		if err := idx.commit(state, stats); err != nil {
			return err
		}
		stats.Added++
	}

	return nil
}

func (idx *Indexer) remove(ctx context.Context, log *slog.Logger, state *storage.CacheState, id string, rec *storage.SourceRecord, stats *PassStats) error {
	delete(state.Sources, id)
	if err := idx.commit(state, stats); err != nil {
		return err
	}

	if p, ok := idx.registry.Get(rec.SourceType); ok {
		if err := p.Forget(ctx, id); err != nil {
			log.Warn("releasing removed source", "source_id", id, "error", err)
		}
	}
	log.Info("source removed", "source_id", id, "source_type", rec.SourceType)
	return nil
}

// refresh lets every provider re-check its records and commits once if any
// record changed, so fetched results are on disk before summarization.
func (idx *Indexer) refresh(ctx context.Context, log *slog.Logger, state *storage.CacheState, stats *PassStats) error {
	changed := false
	for _, p := range idx.registry.Providers() {
		ok, err := p.Refresh(ctx, state, idx.now())
		if ok {
			changed = true
		}
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Warn("provider refresh failed", "provider", p.Type(), "error", err)
		}
	}

	stats.Refreshed = changed
	if changed {
		if err := idx.commit(state, stats); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// summarizePending summarizes every pending record, at most sumLimit at a
// time. Each success is committed immediately.
func (idx *Indexer) summarizePending(ctx context.Context, log *slog.Logger, state *storage.CacheState, stats *PassStats) error {
	var pending []string
	for _, id := range state.IDs() {
		rec := state.Sources[id]
		if !rec.SummaryPending {
			continue
		}
		if _, ok := idx.registry.Get(rec.SourceType); !ok {
			continue
		}
		pending = append(pending, id)
	}
	if len(pending) == 0 {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := semaphore.NewWeighted(idx.sumLimit)
	var wg sync.WaitGroup
	var errMu sync.Mutex
	var persistErr error

	for _, id := range pending {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			if err := idx.summarizeOne(ctx, log, state, id, stats); err != nil {
				errMu.Lock()
				if persistErr == nil {
					persistErr = err
				}
				errMu.Unlock()
				cancel()
			}
		}()
	}
	wg.Wait()

	return persistErr
}

// summarizeOne summarizes one record. Summarizer failures are logged and
// leave the record pending; only persistence failures are returned.
func (idx *Indexer) summarizeOne(ctx context.Context, log *slog.Logger, state *storage.CacheState, id string, stats *PassStats) error {
	idx.stateMu.Lock()
	rec, ok := state.Sources[id]
	if !ok || !rec.SummaryPending {
		idx.stateMu.Unlock()
		return nil
	}
	typ := rec.SourceType
	idx.stateMu.Unlock()

	p, _ := idx.registry.Get(typ)

	summary, text, err := idx.produceSummary(ctx, p, id)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("summarization failed, source stays pending", "error", &SummarizationError{SourceID: id, Err: err})
		}
		idx.stateMu.Lock()
		stats.SummaryFailed++
		idx.stateMu.Unlock()
		return nil
	}

	idx.stateMu.Lock()
	defer idx.stateMu.Unlock()

	current, ok := state.Sources[id]
	if !ok || current != rec || !current.SummaryPending {
		return nil
	}

	current.SummaryText = summary
	if hash := fingerprint.Hash(text); hash != current.ContentHash {
		current.ContentHash = hash
	}
	if syncer, ok := p.(sources.RecordSyncer); ok {
		syncer.SyncRecord(id, current, idx.now())
	}
	current.LastIndexedAt = idx.now().UTC()
	current.SummaryPending = false
	stats.Summarized++

	return idx.commitLocked(state, stats)
}

func (idx *Indexer) produceSummary(ctx context.Context, p sources.Provider, id string) (string, string, error) {
	text, err := p.LoadText(ctx, id)
	if err != nil {
		return "", "", fmt.Errorf("loading text: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", "", errors.New("source text is empty")
	}

	input, clipped := excerpt.Head(text, idx.maxInput)
	if clipped {
		idx.logger.Debug("summarizing head of long source", "source_id", id, "max_chars", idx.maxInput)
	}

	sctx, cancel := context.WithTimeout(ctx, idx.sumTimeout)
	defer cancel()

	summary, err := idx.summarizer.Summarize(sctx, input)
	if err != nil {
		return "", "", err
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return "", "", summarize.ErrEmptySummary
	}
	return summary, text, nil
}

// indexMatches reports whether the index file on disk is the rendering of
// state. An unreadable index counts as a mismatch.
func (idx *Indexer) indexMatches(state *storage.CacheState) bool {
	text, err := idx.store.ReadIndex()
	if err != nil {
		return false
	}
	idx.stateMu.Lock()
	defer idx.stateMu.Unlock()
	return text == Render(state, idx.render)
}

// commit persists state and the index rendered from it.
func (idx *Indexer) commit(state *storage.CacheState, stats *PassStats) error {
	idx.stateMu.Lock()
	defer idx.stateMu.Unlock()
	return idx.commitLocked(state, stats)
}

func (idx *Indexer) commitLocked(state *storage.CacheState, stats *PassStats) error {
	state.SchemaVersion = storage.CurrentSchemaVersion
	state.GeneratedAt = idx.now().UTC()

	text := Render(state, idx.render)
	if err := idx.store.Save(state, text); err != nil {
		return &PersistenceError{Err: err}
	}
	stats.Commits++

	idx.publish(state)
	return nil
}

// publish records a copy of state for readers.
func (idx *Indexer) publish(state *storage.CacheState) {
	clone := state.Clone()
	idx.snapMu.Lock()
	idx.snapshot = clone
	idx.snapMu.Unlock()
}

// Snapshot returns a copy of the most recently loaded or committed state.
func (idx *Indexer) Snapshot() *storage.CacheState {
	idx.snapMu.RLock()
	snap := idx.snapshot
	idx.snapMu.RUnlock()

	if snap == nil {
		return idx.store.Load()
	}
	return snap.Clone()
}

// RenderOptions returns the options used to render the index.
func (idx *Indexer) RenderOptions() RenderOptions {
	return idx.render
}

// LoadIndexText returns the index artifact as written on disk.
func (idx *Indexer) LoadIndexText() (string, error) {
	return idx.store.ReadIndex()
}

// LoadIndexEntries returns the index artifact split into entries, with
// source ids resolved from their prefixes.
func (idx *Indexer) LoadIndexEntries() ([]Entry, error) {
	text, err := idx.LoadIndexText()
	if err != nil {
		return nil, err
	}

	entries := ParseEntries(text)
	types := idx.registry.Types()
	for i := range entries {
		if id, _, ok := idx.render.StripPrefix(entries[i].ID, types); ok {
			entries[i].SourceID = id
		}
	}
	return entries, nil
}

// LoadSourceText returns the full text of a cached source. The id may be
// given with its index prefix, as it appears in the index artifact.
func (idx *Indexer) LoadSourceText(ctx context.Context, id string) (string, error) {
	id = strings.TrimSpace(id)
	snap := idx.Snapshot()

	rec, ok := snap.Sources[id]
	if !ok {
		if stripped, _, matched := idx.render.StripPrefix(id, idx.registry.Types()); matched {
			id = stripped
			rec, ok = snap.Sources[id]
		}
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}

	p, ok := idx.registry.Get(rec.SourceType)
	if !ok {
		return "", fmt.Errorf("%w: no provider for %s", ErrSourceNotFound, rec.SourceType)
	}

	text, err := p.LoadText(ctx, id)
	if err != nil {
		if errors.Is(err, sources.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrSourceNotFound, id)
		}
		return "", err
	}
	return text, nil
}
