// Package trace records the SQL issued against the catalog and
// observability databases.
//
// Importing the package registers DriverName, a wrapper around the
// modernc.org/sqlite driver. Every statement run through it is logged with
// slog (Debug; Warn when slower than SlowQuery; Error on failure) carrying
// the request's trace and session ids, and handed to the Recorder set with
// SetStore, if any.
//
//	traceDB, _ := dbopen.Open("data/traces.db") // plain "sqlite" driver
//	st := trace.NewStore(traceDB)
//	st.Init()
//	trace.SetStore(st)
//	db, _ := dbopen.Open("data/catalog.db", dbopen.WithDriver(trace.DriverName))
package trace

import (
	"database/sql"
	"sync"
	"time"

	sqlite "modernc.org/sqlite"
)

// DriverName is the database/sql driver registered by this package.
const DriverName = "sqlite-trace"

// SlowQuery is the duration above which a statement is logged at Warn.
const SlowQuery = 100 * time.Millisecond

// Entry is one traced statement.
type Entry struct {
	TraceID    string `json:"trace_id,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	Op         string `json:"op"` // Exec or Query
	Query      string `json:"query"`
	DurationUs int64  `json:"duration_us"`
	Error      string `json:"error,omitempty"`
	Timestamp  int64  `json:"timestamp"` // unix microseconds
}

// Recorder persists entries. RecordAsync must not block.
type Recorder interface {
	RecordAsync(e *Entry)
	Close() error
}

var (
	recorder   Recorder
	recorderMu sync.RWMutex
)

// SetStore installs the process-wide recorder. nil means slog only.
func SetStore(r Recorder) {
	recorderMu.Lock()
	recorder = r
	recorderMu.Unlock()
}

func currentRecorder() Recorder {
	recorderMu.RLock()
	defer recorderMu.RUnlock()
	return recorder
}

func init() {
	sql.Register(DriverName, &tracingDriver{Driver: &sqlite.Driver{}})
}
