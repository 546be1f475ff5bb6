package index

import (
	"errors"
	"fmt"

	"github.com/jankowtf/kbindex/internal/storage"
)

// ErrSourceNotFound is returned for ids that are not in the cache.
var ErrSourceNotFound = errors.New("source not found")

// DiscoveryError aborts a pass before any state is changed.
type DiscoveryError struct {
	Provider storage.SourceType
	Err      error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovering %s sources: %v", e.Provider, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// SummarizationError is a failed summary for one source. It is logged and
// the record stays pending.
type SummarizationError struct {
	SourceID string
	Err      error
}

func (e *SummarizationError) Error() string {
	return fmt.Sprintf("summarizing %s: %v", e.SourceID, e.Err)
}

func (e *SummarizationError) Unwrap() error { return e.Err }

// PersistenceError stops a pass when the cache or index cannot be written.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return e.Err.Error()
}

func (e *PersistenceError) Unwrap() error { return e.Err }
