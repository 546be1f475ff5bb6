package sources

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ScanConfig configures the file scanner.
type ScanConfig struct {
	Root       string
	Extensions []string
	Ignore     []string
}

// FileInfo describes a file found by the scanner.
type FileInfo struct {
	Path    string // absolute path on disk
	RelPath string // slash-separated source id
	Size    int64
	MtimeNs int64
}

// Scanner enumerates the files under one root that count as sources.
// Dot-prefixed names are never sources, nor is anything below them.
type Scanner struct {
	root   string
	exts   map[string]struct{}
	ignore []string
}

// NewScanner creates a scanner for config.Root. Extensions are matched
// case-insensitively with or without a leading dot.
func NewScanner(config ScanConfig) *Scanner {
	s := &Scanner{
		root:   normalizePath(expandPath(config.Root)),
		ignore: config.Ignore,
	}
	if len(config.Extensions) > 0 {
		s.exts = make(map[string]struct{}, len(config.Extensions))
		for _, ext := range config.Extensions {
			ext = strings.ToLower(ext)
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			s.exts[ext] = struct{}{}
		}
	}
	return s
}

// Root returns the absolute root directory.
func (s *Scanner) Root() string {
	return s.root
}

// Scan streams every source file under the root. The error channel carries
// at most one error and is closed after the file channel. A missing root
// yields nothing.
func (s *Scanner) Scan(ctx context.Context) (<-chan FileInfo, <-chan error) {
	out := make(chan FileInfo, 64)
	errc := make(chan error, 1)

	go func() {
		defer close(errc)
		defer close(out)

		err := s.walk(ctx, func(f FileInfo) error {
			select {
			case out <- f:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil {
			errc <- err
		}
	}()

	return out, errc
}

func (s *Scanner) walk(ctx context.Context, emit func(FileInfo) error) error {
	info, err := os.Stat(s.root)
	switch {
	case os.IsNotExist(err):
		return nil
	case err != nil:
		return err
	case !info.IsDir():
		return nil
	}

	return filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || path == s.root {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if s.excluded(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() || !s.wantExt(path) {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return nil
		}
		return emit(FileInfo{
			Path:    path,
			RelPath: filepath.ToSlash(rel),
			Size:    fi.Size(),
			MtimeNs: fi.ModTime().UnixNano(),
		})
	})
}

// MatchesPath reports whether an absolute or relative path on disk would be
// picked up by Scan. The file does not need to exist.
func (s *Scanner) MatchesPath(path string) bool {
	path = normalizePath(path)
	if !pathWithin(path, s.root) || path == s.root || !s.wantExt(path) {
		return false
	}
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return false
	}
	for _, seg := range strings.Split(rel, string(filepath.Separator)) {
		if s.excluded(seg) {
			return false
		}
	}
	return true
}

// Resolve maps a source id to a path under the root. Ids that would escape
// the root are rejected.
func (s *Scanner) Resolve(id string) (string, bool) {
	local := filepath.FromSlash(id)
	if id == "" || !filepath.IsLocal(local) {
		return "", false
	}
	return filepath.Join(s.root, local), true
}

func (s *Scanner) wantExt(path string) bool {
	if s.exts == nil {
		return true
	}
	_, ok := s.exts[strings.ToLower(filepath.Ext(path))]
	return ok
}

// excluded reports whether a single path segment is hidden or matches an
// ignore pattern (exact name or glob).
func (s *Scanner) excluded(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	for _, pattern := range s.ignore {
		if name == pattern {
			return true
		}
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

func normalizePath(path string) string {
	if path == "" {
		return ""
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

func pathWithin(path, base string) bool {
	if path == "" || base == "" {
		return false
	}
	return path == base || strings.HasPrefix(path, base+string(filepath.Separator))
}

// expandPath expands a leading ~/ to the home directory.
func expandPath(path string) string {
	rest, ok := strings.CutPrefix(path, "~/")
	if !ok {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}
