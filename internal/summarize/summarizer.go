// Package summarize produces short index descriptions of source text using an LLM.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jankowtf/kbindex/internal/config"
)

// ErrEmptySummary is returned when a backend answers with no usable text.
var ErrEmptySummary = errors.New("summarizer returned an empty summary")

// Summarizer turns source text into a short description.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// Func adapts a plain function to the Summarizer interface.
type Func func(ctx context.Context, text string) (string, error)

// Summarize calls f.
func (f Func) Summarize(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}

// Prompt holds the instructions sent along with every source.
type Prompt struct {
	Instructions        string
	ProjectIntroduction string
}

// System returns the combined system prompt. The project introduction, when
// present, comes first.
func (p Prompt) System() string {
	var parts []string
	if intro := strings.TrimSpace(p.ProjectIntroduction); intro != "" {
		parts = append(parts, "Project introduction:\n"+intro)
	}
	if instr := strings.TrimSpace(p.Instructions); instr != "" {
		parts = append(parts, instr)
	}
	return strings.Join(parts, "\n\n")
}

// New builds the summarizer described by cfg. When cfg.CachePath is set the
// backend is wrapped in a CachedSummarizer, which must be closed by the caller
// through the returned close function.
func New(cfg config.SummarizerConfig) (Summarizer, func() error, error) {
	prompt := Prompt{Instructions: cfg.Prompt, ProjectIntroduction: cfg.ProjectIntroduction}

	var backend Summarizer
	switch cfg.Provider {
	case "ollama":
		backend = NewOllamaSummarizer(cfg.BaseURL, cfg.Model, prompt)
	case "openai":
		backend = NewOpenAISummarizer(cfg.BaseURL, cfg.APIKey, cfg.Model, prompt)
	default:
		return nil, nil, fmt.Errorf("unknown summarizer provider %q", cfg.Provider)
	}

	noop := func() error { return nil }
	if cfg.CachePath == "" {
		return backend, noop, nil
	}

	// The cache namespace changes whenever anything that shapes the output changes.
	namespace := strings.Join([]string{cfg.Provider, cfg.Model, prompt.System()}, "\x00")
	cached, err := NewCachedSummarizer(backend, cfg.CachePath, namespace)
	if err != nil {
		return nil, nil, err
	}
	return cached, cached.Close, nil
}

// requestTimeout bounds a single HTTP round trip to a backend.
const requestTimeout = 120 * time.Second

// finish trims a backend answer and rejects empty ones.
func finish(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptySummary
	}
	return text, nil
}
