package index

import (
	"time"

	"github.com/jankowtf/kbindex/internal/storage"
)

// Status summarizes a cache state and, when known, the last pass.
type Status struct {
	Total       int                        `json:"total"`
	Summarized  int                        `json:"summarized"`
	Pending     int                        `json:"pending"`
	FetchIssues int                        `json:"fetch_issues"`
	ByType      map[storage.SourceType]int `json:"by_type"`
	GeneratedAt time.Time                  `json:"generated_at"`

	LastPass   *PassStats `json:"last_pass,omitempty"`
	LastPassAt *time.Time `json:"last_pass_at,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}

// SourceInfo is one row of a source listing.
type SourceInfo struct {
	ID            string              `json:"id"`
	Type          storage.SourceType  `json:"type"`
	Pending       bool                `json:"pending"`
	HasSummary    bool                `json:"has_summary"`
	ContentHash   string              `json:"content_hash"`
	LastIndexedAt time.Time           `json:"last_indexed_at"`
	FetchStatus   storage.FetchStatus `json:"fetch_status,omitempty"`
	NextCheckAt   *time.Time          `json:"next_check_at,omitempty"`
}

// Describe counts the records in state.
func Describe(state *storage.CacheState) Status {
	st := Status{
		ByType:      make(map[storage.SourceType]int),
		GeneratedAt: state.GeneratedAt,
	}
	for _, rec := range state.Sources {
		st.Total++
		st.ByType[rec.SourceType]++
		if rec.SummaryPending {
			st.Pending++
		}
		if rec.SummaryText != "" {
			st.Summarized++
		}
		if rec.URL != nil && (rec.URL.FetchStatus == storage.FetchError || rec.URL.FetchStatus == storage.FetchTimeout) {
			st.FetchIssues++
		}
	}
	return st
}

// WithLastPass attaches the outcome of the most recent pass.
func (s Status) WithLastPass(stats *PassStats, at time.Time, err error) Status {
	s.LastPass = stats
	if !at.IsZero() {
		s.LastPassAt = &at
	}
	if err != nil {
		s.LastError = err.Error()
	}
	return s
}

// ListSources returns one row per record, sorted by id.
func ListSources(state *storage.CacheState) []SourceInfo {
	out := make([]SourceInfo, 0, len(state.Sources))
	for _, id := range state.IDs() {
		rec := state.Sources[id]
		info := SourceInfo{
			ID:            id,
			Type:          rec.SourceType,
			Pending:       rec.SummaryPending,
			HasSummary:    rec.SummaryText != "",
			ContentHash:   rec.ContentHash,
			LastIndexedAt: rec.LastIndexedAt,
		}
		if rec.URL != nil {
			next := rec.URL.NextCheckAt
			info.FetchStatus = rec.URL.FetchStatus
			info.NextCheckAt = &next
		}
		out = append(out, info)
	}
	return out
}
