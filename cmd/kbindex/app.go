package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/jankowtf/kbindex/internal/config"
	"github.com/jankowtf/kbindex/internal/fetch"
	"github.com/jankowtf/kbindex/internal/index"
	"github.com/jankowtf/kbindex/internal/index/sources"
	"github.com/jankowtf/kbindex/internal/storage"
	"github.com/jankowtf/kbindex/internal/summarize"
)

// app is the wired object graph behind every command that runs passes or
// reads source text.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *storage.CacheStore
	indexer *index.Indexer
	files   *sources.FileProvider
	urls    *sources.URLProvider
	closers []func() error
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: logger,
		store:  newCacheStore(cfg, logger),
	}

	var providers []sources.Provider

	if fc := cfg.Sources.Files; fc.Enabled {
		a.files = sources.NewFileProvider(sources.FileConfig{
			Root:       fc.Dir,
			Extensions: fc.Extensions,
			Ignore:     fc.Ignore,
			MaxBytes:   fc.MaxBytes,
		}, logger)
		providers = append(providers, a.files)
	}

	if uc := cfg.Sources.URLs; uc.Enabled {
		content, err := storage.OpenContentStore(uc.ContentCache)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, content.Close)

		fetcher := fetch.NewHTTPFetcher(fetch.Options{
			Timeout:   cfg.Fetch.Timeout,
			MaxBytes:  cfg.Fetch.MaxBytes,
			UserAgent: cfg.Fetch.UserAgent,
		})
		a.urls = sources.NewURLProvider(sources.URLConfig{
			LinksFile:       uc.LinksFile,
			RefreshInterval: cfg.Fetch.RefreshInterval,
			RetryInterval:   cfg.Fetch.RetryInterval,
			Concurrency:     cfg.Fetch.Concurrency,
		}, fetcher, content, logger)
		providers = append(providers, a.urls)
	}

	registry, err := sources.NewRegistry(providers...)
	if err != nil {
		a.Close()
		return nil, err
	}

	summ, closeSumm, err := summarize.New(cfg.Summarizer)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("creating summarizer: %w", err)
	}
	a.closers = append(a.closers, closeSumm)

	a.indexer = index.New(registry, a.store, summ, index.Options{
		Render:             renderOptions(cfg.Index),
		SummaryConcurrency: cfg.Summarizer.Concurrency,
		SummaryTimeout:     cfg.Summarizer.Timeout,
		MaxSummaryInput:    cfg.Summarizer.MaxInputChars,
		Logger:             logger,
	})
	return a, nil
}

// Close releases the content store and summary cache.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// watchConfig lists what the watcher should observe for the enabled sources.
func (a *app) watchConfig() index.WatchConfig {
	wc := index.WatchConfig{Debounce: a.cfg.Runtime.WatchDebounce}
	if a.files != nil {
		wc.Roots = append(wc.Roots, a.files.Root())
	}
	if a.urls != nil {
		wc.Files = append(wc.Files, a.urls.LinksFile())
	}
	return wc
}

func (a *app) resolver() index.PathResolver {
	linksFile := ""
	if a.urls != nil {
		linksFile = a.urls.LinksFile()
	}
	return index.SourceResolver(a.files, linksFile)
}

func newCacheStore(cfg *config.Config, logger *slog.Logger) *storage.CacheStore {
	return storage.NewCacheStore(cfg.Index.CachePath, cfg.Index.Path, logger)
}

func renderOptions(ic config.IndexConfig) index.RenderOptions {
	opts := index.RenderOptions{}
	for _, t := range ic.Order {
		opts.Order = append(opts.Order, storage.SourceType(t))
	}
	if len(ic.Prefixes) > 0 {
		opts.Prefixes = make(map[storage.SourceType]string, len(ic.Prefixes))
		for t, p := range ic.Prefixes {
			opts.Prefixes[storage.SourceType(t)] = p
		}
	}
	return opts
}
