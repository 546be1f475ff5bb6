//go:build cgo && !purego

package summarize

import (
	_ "github.com/mattn/go-sqlite3"
)

// driverName is the database/sql driver backing the summary cache.
const driverName = "sqlite3"

func cacheDSN(path string) string {
	return path + "?_journal_mode=WAL&_busy_timeout=5000"
}
