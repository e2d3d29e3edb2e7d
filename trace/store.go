package trace

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/texstudio/dbopen"
)

// Schema creates the sql_traces table.
const Schema = `
CREATE TABLE IF NOT EXISTS sql_traces (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	trace_id    TEXT NOT NULL DEFAULT '',
	session_id  TEXT NOT NULL DEFAULT '',
	op          TEXT NOT NULL,
	query       TEXT NOT NULL,
	duration_us INTEGER NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	timestamp   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sql_traces_ts ON sql_traces(timestamp);
CREATE INDEX IF NOT EXISTS idx_sql_traces_session ON sql_traces(session_id) WHERE session_id != '';
CREATE INDEX IF NOT EXISTS idx_sql_traces_slow ON sql_traces(duration_us) WHERE duration_us > 100000;
`

const (
	bufferSize = 1024
	batchSize  = 64
)

// Store writes entries to sql_traces in batches from a background
// goroutine. Its database must be opened with the plain "sqlite" driver,
// otherwise every insert would trace itself.
type Store struct {
	db      *sql.DB
	ch      chan *Entry
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64
}

// NewStore starts the flush goroutine. Call Init before recording.
func NewStore(db *sql.DB) *Store {
	s := &Store{
		db:   db,
		ch:   make(chan *Entry, bufferSize),
		done: make(chan struct{}),
	}
	go s.flushLoop()
	return s
}

// Init creates the sql_traces table.
func (s *Store) Init() error {
	if _, err := s.db.Exec(Schema); err != nil {
		return fmt.Errorf("trace: schema: %w", err)
	}
	return nil
}

// RecordAsync queues e. Entries are dropped while the buffer is full.
func (s *Store) RecordAsync(e *Entry) {
	select {
	case s.ch <- e:
	default:
		s.dropped.Add(1)
	}
}

// Dropped returns how many entries were discarded on a full buffer.
func (s *Store) Dropped() int64 { return s.dropped.Load() }

// Close flushes queued entries and stops the goroutine. Entries recorded
// after Close panic, so uninstall the store with SetStore(nil) first.
func (s *Store) Close() error {
	s.once.Do(func() {
		close(s.ch)
		<-s.done
	})
	return nil
}

// Recent returns the latest entries, newest first. sessionID filters when
// non-empty.
func (s *Store) Recent(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	q := `SELECT trace_id, session_id, op, query, duration_us, error, timestamp FROM sql_traces`
	var args []any
	if sessionID != "" {
		q += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("trace: recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.TraceID, &e.SessionID, &e.Op, &e.Query, &e.DurationUs, &e.Error, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("trace: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) flushLoop() {
	defer close(s.done)

	batch := make([]*Entry, 0, batchSize)
	tick := time.NewTicker(time.Second)
	defer tick.Stop()

	for {
		select {
		case e, ok := <-s.ch:
			if !ok {
				s.flush(batch)
				return
			}
			batch = append(batch, e)
			if len(batch) >= batchSize {
				s.flush(batch)
				batch = batch[:0]
			}
		case <-tick.C:
			if len(batch) > 0 {
				s.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (s *Store) flush(batch []*Entry) {
	if len(batch) == 0 {
		return
	}
	err := dbopen.RunTx(context.Background(), s.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`INSERT INTO sql_traces
			(trace_id, session_id, op, query, duration_us, error, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, e := range batch {
			if _, err := stmt.Exec(e.TraceID, e.SessionID, e.Op, e.Query, e.DurationUs, e.Error, e.Timestamp); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		slog.Error("trace: flush", "entries", len(batch), "error", err)
	}
}
