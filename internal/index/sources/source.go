// Package sources discovers knowledge sources and tracks their content for the index.
package sources

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jankowtf/kbindex/internal/storage"
)

// ErrNotFound is returned by LoadText when a provider has no such source.
var ErrNotFound = errors.New("source not found")

// Provider owns one class of sources. A provider is the only writer of the
// variant metadata of its records.
type Provider interface {
	// Type returns the source type tag this provider owns.
	Type() storage.SourceType

	// Discover enumerates the sources that currently exist.
	Discover(ctx context.Context) (map[string]storage.SourceType, error)

	// InitRecord builds the first record for a newly discovered source.
	// The returned record has SummaryPending set.
	InitRecord(ctx context.Context, id string, now time.Time) (*storage.SourceRecord, error)

	// Refresh re-checks the provider's records in state and reports whether
	// any record was modified.
	Refresh(ctx context.Context, state *storage.CacheState, now time.Time) (bool, error)

	// LoadText returns the full text of a source.
	LoadText(ctx context.Context, id string) (string, error)

	// Forget releases provider-side resources held for a deleted source.
	Forget(ctx context.Context, id string) error
}

// RecordSyncer is implemented by providers whose LoadText can observe a
// newer version of a source than its record describes. SyncRecord is called
// with the state lock held, after the text returned by the last LoadText for
// id was summarized and hashed into rec.
type RecordSyncer interface {
	SyncRecord(id string, rec *storage.SourceRecord, now time.Time)
}

// Registry dispatches by source type and fixes the provider order.
type Registry struct {
	order     []Provider
	providers map[storage.SourceType]Provider
}

// NewRegistry builds a registry. Providers keep the given order; two
// providers for the same type are an error.
func NewRegistry(providers ...Provider) (*Registry, error) {
	r := &Registry{providers: make(map[storage.SourceType]Provider, len(providers))}
	for _, p := range providers {
		if _, dup := r.providers[p.Type()]; dup {
			return nil, fmt.Errorf("duplicate provider for source type %q", p.Type())
		}
		r.providers[p.Type()] = p
		r.order = append(r.order, p)
	}
	return r, nil
}

// Providers returns the providers in declared order.
func (r *Registry) Providers() []Provider {
	return r.order
}

// Get returns the provider for a source type.
func (r *Registry) Get(t storage.SourceType) (Provider, bool) {
	p, ok := r.providers[t]
	return p, ok
}

// Types returns the registered source types in declared order.
func (r *Registry) Types() []storage.SourceType {
	types := make([]storage.SourceType, len(r.order))
	for i, p := range r.order {
		types[i] = p.Type()
	}
	return types
}
