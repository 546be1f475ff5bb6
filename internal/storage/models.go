// Package storage persists the index cache state and fetched source content.
package storage

import (
	"sort"
	"time"
)

// CurrentSchemaVersion is the cache file layout version. Files written with
// any other version are discarded on load.
const CurrentSchemaVersion = 1

// SourceType identifies the class of a source. It never changes for a record.
type SourceType string

const (
	SourceFile SourceType = "file"
	SourceURL  SourceType = "url"
)

// FetchStatus is the outcome of the most recent fetch of a URL source.
type FetchStatus string

const (
	FetchSuccess     FetchStatus = "success"
	FetchNotModified FetchStatus = "not_modified"
	FetchTimeout     FetchStatus = "timeout"
	FetchError       FetchStatus = "error"
)

// CacheState is the persisted set of source records.
type CacheState struct {
	SchemaVersion int                      `json:"schema_version"`
	GeneratedAt   time.Time                `json:"generated_at"`
	Sources       map[string]*SourceRecord `json:"sources"`
}

// SourceRecord is the cached knowledge about one source.
//
// SummaryPending marks a summary that is owed but not yet produced. While it is
// set, SummaryText may describe an older revision of the content.
type SourceRecord struct {
	SourceType     SourceType `json:"source_type"`
	ContentHash    string     `json:"content_hash"`
	SummaryText    string     `json:"summary_text"`
	LastIndexedAt  time.Time  `json:"last_indexed_at"`
	SummaryPending bool       `json:"summary_pending"`
	File           *FileMeta  `json:"file,omitempty"`
	URL            *URLMeta   `json:"url,omitempty"`
}

// FileMeta is the fast-path change signal for file sources.
type FileMeta struct {
	RelPath   string `json:"rel_path"`
	SizeBytes int64  `json:"size_bytes"`
	MtimeNs   int64  `json:"mtime_ns"`
}

// URLMeta holds fetch bookkeeping for URL sources.
type URLMeta struct {
	URL           string      `json:"url"`
	LastFetchedAt time.Time   `json:"last_fetched_at"`
	ETag          *string     `json:"etag"`
	LastModified  *string     `json:"last_modified"`
	FetchStatus   FetchStatus `json:"fetch_status"`
	NextCheckAt   time.Time   `json:"next_check_at"`
}

// NewCacheState returns an empty state at the current schema version.
func NewCacheState(now time.Time) *CacheState {
	return &CacheState{
		SchemaVersion: CurrentSchemaVersion,
		GeneratedAt:   now.UTC(),
		Sources:       make(map[string]*SourceRecord),
	}
}

// IDs returns the source ids in ascending order.
func (s *CacheState) IDs() []string {
	ids := make([]string, 0, len(s.Sources))
	for id := range s.Sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clone returns a deep copy of the state.
func (s *CacheState) Clone() *CacheState {
	out := &CacheState{
		SchemaVersion: s.SchemaVersion,
		GeneratedAt:   s.GeneratedAt,
		Sources:       make(map[string]*SourceRecord, len(s.Sources)),
	}
	for id, rec := range s.Sources {
		out.Sources[id] = rec.Clone()
	}
	return out
}

// Clone returns a deep copy of the record.
func (r *SourceRecord) Clone() *SourceRecord {
	out := *r
	if r.File != nil {
		f := *r.File
		out.File = &f
	}
	if r.URL != nil {
		u := *r.URL
		u.ETag = cloneString(r.URL.ETag)
		u.LastModified = cloneString(r.URL.LastModified)
		out.URL = &u
	}
	return &out
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
