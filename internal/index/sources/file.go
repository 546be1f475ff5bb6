package sources

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/jankowtf/kbindex/internal/storage"
	"github.com/jankowtf/kbindex/pkg/fingerprint"
)

// FileConfig configures a FileProvider.
type FileConfig struct {
	Root       string
	Extensions []string
	Ignore     []string
	MaxBytes   int64
}

// FileProvider indexes the files below one root directory. Source ids are
// slash-separated paths relative to the root.
type FileProvider struct {
	scanner  *Scanner
	maxBytes int64
	logger   *slog.Logger
	hasher   func(string) string
}

// NewFileProvider creates a provider for cfg.Root.
func NewFileProvider(cfg FileConfig, logger *slog.Logger) *FileProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileProvider{
		scanner: NewScanner(ScanConfig{
			Root:       cfg.Root,
			Extensions: cfg.Extensions,
			Ignore:     cfg.Ignore,
		}),
		maxBytes: cfg.MaxBytes,
		logger:   logger.With("provider", string(storage.SourceFile)),
		hasher:   fingerprint.Hash,
	}
}

// Type returns storage.SourceFile.
func (p *FileProvider) Type() storage.SourceType {
	return storage.SourceFile
}

// Root returns the absolute root directory.
func (p *FileProvider) Root() string {
	return p.scanner.Root()
}

// Scanner returns the scanner that decides which paths belong to this provider.
func (p *FileProvider) Scanner() *Scanner {
	return p.scanner
}

// Discover walks the root. A missing root is an empty set.
func (p *FileProvider) Discover(ctx context.Context) (map[string]storage.SourceType, error) {
	files, errs := p.scanner.Scan(ctx)

	found := make(map[string]storage.SourceType)
	for f := range files {
		found[f.RelPath] = storage.SourceFile
	}
	for err := range errs {
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", p.scanner.Root(), err)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return found, nil
}

// InitRecord reads and fingerprints a new file.
func (p *FileProvider) InitRecord(ctx context.Context, id string, now time.Time) (*storage.SourceRecord, error) {
	path, ok := p.scanner.Resolve(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", id, err)
	}

	text, err := readText(path, p.maxBytes)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", id, err)
	}

	return &storage.SourceRecord{
		SourceType:     storage.SourceFile,
		ContentHash:    p.hasher(text),
		LastIndexedAt:  now.UTC(),
		SummaryPending: true,
		File: &storage.FileMeta{
			RelPath:   id,
			SizeBytes: info.Size(),
			MtimeNs:   info.ModTime().UnixNano(),
		},
	}, nil
}

// Refresh compares each file record's size and mtime with the disk. Files
// whose signal is unchanged are neither read nor hashed. Changed files are
// rehashed and marked pending when the content differs.
func (p *FileProvider) Refresh(ctx context.Context, state *storage.CacheState, now time.Time) (bool, error) {
	changed := false

	for _, id := range state.IDs() {
		if err := ctx.Err(); err != nil {
			return changed, err
		}

		rec := state.Sources[id]
		if rec.SourceType != storage.SourceFile {
			continue
		}

		path, ok := p.scanner.Resolve(id)
		if !ok {
			continue
		}

		info, err := os.Stat(path)
		if err != nil {
			p.logger.Warn("stat file source", "source_id", id, "error", err)
			continue
		}

		size, mtime := info.Size(), info.ModTime().UnixNano()
		if rec.File != nil && rec.File.SizeBytes == size && rec.File.MtimeNs == mtime {
			continue
		}

		text, err := readText(path, p.maxBytes)
		if err != nil {
			p.logger.Warn("reading file source", "source_id", id, "error", err)
			continue
		}

		hash := p.hasher(text)
		rec.File = &storage.FileMeta{RelPath: id, SizeBytes: size, MtimeNs: mtime}
		if hash != rec.ContentHash || rec.SummaryPending {
			rec.ContentHash = hash
			rec.SummaryPending = true
		}
		changed = true
	}

	return changed, nil
}

// LoadText reads a file by id. It does not require a prior Discover.
func (p *FileProvider) LoadText(ctx context.Context, id string) (string, error) {
	path, ok := p.scanner.Resolve(id)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	text, err := readText(path, p.maxBytes)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return "", fmt.Errorf("reading %s: %w", id, err)
	}
	return text, nil
}

// Forget is a no-op; file sources hold no provider-side state.
func (p *FileProvider) Forget(ctx context.Context, id string) error {
	return nil
}
