package index

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jankowtf/kbindex/internal/index/sources"
)

// Notifier receives change notifications.
type Notifier interface {
	Notify(sourceID string)
}

// PathResolver maps a changed path to the source id it affects.
type PathResolver func(path string) (sourceID string, ok bool)

// WatchConfig configures a Watcher.
type WatchConfig struct {
	// Roots are watched recursively.
	Roots []string

	// Files are watched through their parent directory only.
	Files []string

	Debounce time.Duration
}

// Watcher monitors source directories and notifies once a path has been
// quiet for the debounce window.
type Watcher struct {
	notifier     Notifier
	resolve      PathResolver
	watcher      *fsnotify.Watcher
	config       WatchConfig
	debounceTime time.Duration
	logger       *slog.Logger
	mu           sync.Mutex
	pending      map[string]time.Time
	done         chan struct{}
}

// NewWatcher creates a file system watcher.
func NewWatcher(notifier Notifier, resolve PathResolver, cfg WatchConfig, logger *slog.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	return &Watcher{
		notifier:     notifier,
		resolve:      resolve,
		watcher:      fsWatcher,
		config:       cfg,
		debounceTime: debounce,
		logger:       logger,
		pending:      make(map[string]time.Time),
		done:         make(chan struct{}),
	}, nil
}

// Start begins watching for file changes. Blocks until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	for _, root := range w.config.Roots {
		path := expandWatchPath(root)
		if err := w.addRecursive(path); err != nil {
			w.logger.Warn("watching directory", "path", path, "error", err)
		}
	}
	for _, file := range w.config.Files {
		dir := filepath.Dir(expandWatchPath(file))
		if err := w.watcher.Add(dir); err != nil {
			w.logger.Warn("watching directory", "path", dir, "error", err)
		}
	}

	go w.debounceLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			close(w.done)
			return w.watcher.Close()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
		return
	}

	// A new directory is watched and its existing files are queued, so a
	// tree moved into place is picked up.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.addRecursive(event.Name)
			filepath.WalkDir(event.Name, func(p string, d fs.DirEntry, err error) error {
				if err == nil && !d.IsDir() {
					w.queue(p)
				}
				return nil
			})
			return
		}
	}

	w.queue(event.Name)
}

func (w *Watcher) queue(path string) {
	w.mu.Lock()
	w.pending[path] = time.Now()
	w.mu.Unlock()
}

// debounceLoop periodically processes pending paths.
func (w *Watcher) debounceLoop(ctx context.Context) {
	ticker := time.NewTicker(w.debounceTime)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-ticker.C:
			w.processPending()
		}
	}
}

// processPending notifies for paths that have settled.
func (w *Watcher) processPending() {
	w.mu.Lock()
	now := time.Now()
	var ready []string

	for path, lastChange := range w.pending {
		if now.Sub(lastChange) >= w.debounceTime {
			ready = append(ready, path)
		}
	}

	for _, path := range ready {
		delete(w.pending, path)
	}
	w.mu.Unlock()

	for _, path := range ready {
		id, ok := w.resolve(path)
		if !ok {
			continue
		}
		w.logger.Debug("source changed on disk", "path", path, "source_id", id)
		w.notifier.Notify(id)
	}
}

// addRecursive adds a directory and all subdirectories to the watcher.
func (w *Watcher) addRecursive(path string) error {
	return filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			name := d.Name()
			if p != path && len(name) > 0 && name[0] == '.' {
				return filepath.SkipDir
			}
			if name == "node_modules" {
				return filepath.SkipDir
			}
			return w.watcher.Add(p)
		}
		return nil
	})
}

// expandWatchPath expands ~ to home directory.
func expandWatchPath(path string) string {
	if len(path) >= 2 && path[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// SourceResolver maps paths below the file provider's root to file source
// ids, and the links file to its own path. Either argument may be empty.
func SourceResolver(files *sources.FileProvider, linksFile string) PathResolver {
	links := ""
	if linksFile != "" {
		links = absPath(expandWatchPath(linksFile))
	}

	return func(path string) (string, bool) {
		abs := absPath(path)
		if links != "" && abs == links {
			return abs, true
		}
		if files == nil || !files.Scanner().MatchesPath(abs) {
			return "", false
		}
		rel, err := filepath.Rel(files.Root(), abs)
		if err != nil {
			return "", false
		}
		return filepath.ToSlash(rel), true
	}
}

func absPath(path string) string {
	path = filepath.Clean(path)
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
