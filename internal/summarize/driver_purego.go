//go:build !cgo || purego

package summarize

import (
	_ "modernc.org/sqlite"
)

// driverName is the database/sql driver backing the summary cache.
const driverName = "sqlite"

func cacheDSN(path string) string {
	return path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}
