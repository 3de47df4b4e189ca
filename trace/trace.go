// Package trace records every SQL statement plume issues, at the
// database/sql/driver level, so none of the stores have to know they
// are being watched.
//
// Importing the package registers a "sqlite-trace" driver wrapping
// modernc.org/sqlite. Open the service database through it (dbopen has
// a WithTrace option) and each Exec and Query is logged through slog
// at a level matching its outcome: Debug normally, Warn past 100ms,
// Error on failure. Give it a Store backed by a separate file and the
// same statements land in a sql_traces table, tagged with the request
// ID of the HTTP or MCP call that issued them:
//
//	traceDB, _ := dbopen.Open("db/traces.db", dbopen.WithSchema(trace.Schema))
//	trace.SetStore(trace.NewStore(traceDB))
//	db, _ := dbopen.Open("db/plume.db", dbopen.WithTrace())
//
// The trace file itself must be opened with the plain driver, or the
// store would trace its own inserts.
package trace

import (
	"database/sql"
	"sync"

	sqlite "modernc.org/sqlite"
)

// Entry is one traced statement.
type Entry struct {
	RequestID  string // correlates with the HTTP or MCP request
	Op         string // "exec" or "query"
	Query      string
	DurationUs int64
	Error      string // empty on success
	At         int64  // unix milliseconds
}

// Recorder receives entries from the driver. Store is the SQLite
// implementation; tests substitute their own.
type Recorder interface {
	RecordAsync(e *Entry)
	Close() error
}

var (
	storeMu     sync.RWMutex
	globalStore Recorder
)

// SetStore installs the recorder the driver persists through. Pass nil
// to go back to slog-only tracing.
func SetStore(s Recorder) {
	storeMu.Lock()
	globalStore = s
	storeMu.Unlock()
}

func getStore() Recorder {
	storeMu.RLock()
	defer storeMu.RUnlock()
	return globalStore
}

func init() {
	sql.Register("sqlite-trace", &tracingDriver{Driver: &sqlite.Driver{}})
}
