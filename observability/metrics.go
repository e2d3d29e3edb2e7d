// Package observability records studio business events and timeseries metrics
// (export durations, upload sizes, session counts) in SQLite.
//
// Both components write to the observability database, separate from the
// catalog. Call Init() on the *sql.DB first, then pass it to the constructors.
// Metric persistence is batched and async.
package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/texstudio/dbopen"
)

// Studio metric names.
const (
	MetricExportDurationMs = "export_duration_ms"
	MetricExportBytes      = "export_bytes"
	MetricUploadBytes      = "upload_bytes"
	MetricActiveSessions   = "active_sessions"
	MetricHistoryDepth     = "history_depth"
)

// Metric is one sample.
type Metric struct {
	Name   string            `json:"name"`
	Time   time.Time         `json:"time"`
	Value  float64           `json:"value"`
	Unit   string            `json:"unit,omitempty"` // bytes, milliseconds, count
	Labels map[string]string `json:"labels,omitempty"`
}

// Summary aggregates the samples of one metric.
type Summary struct {
	Name  string  `json:"name"`
	Count int64   `json:"count"`
	Sum   float64 `json:"sum"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
}

// MetricsOption configures a MetricsManager.
type MetricsOption func(*MetricsManager)

// WithBufferSize flushes as soon as n samples are queued. Default: 100.
func WithBufferSize(n int) MetricsOption {
	return func(mm *MetricsManager) {
		if n > 0 {
			mm.bufferSize = n
		}
	}
}

// WithFlushInterval sets the periodic flush. Default: 5s.
func WithFlushInterval(d time.Duration) MetricsOption {
	return func(mm *MetricsManager) {
		if d > 0 {
			mm.flushInterval = d
		}
	}
}

// WithMetricsClock overrides time.Now for sample timestamps.
func WithMetricsClock(now func() time.Time) MetricsOption {
	return func(mm *MetricsManager) { mm.now = now }
}

// MetricsManager buffers samples and writes them to metrics_timeseries in
// batches.
type MetricsManager struct {
	db            *sql.DB
	bufferSize    int
	flushInterval time.Duration
	now           func() time.Time

	mu     sync.Mutex
	buffer []Metric

	stop chan struct{}
	done chan struct{}
}

// NewMetricsManager starts the flush goroutine. Close stops it.
func NewMetricsManager(db *sql.DB, opts ...MetricsOption) *MetricsManager {
	mm := &MetricsManager{
		db:            db,
		bufferSize:    100,
		flushInterval: 5 * time.Second,
		now:           time.Now,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, o := range opts {
		o(mm)
	}
	mm.buffer = make([]Metric, 0, mm.bufferSize)
	go mm.flushLoop()
	return mm
}

// Observe queues one sample. labels are key, value pairs; a trailing odd
// key is ignored. A nil manager drops the sample.
func (mm *MetricsManager) Observe(name string, value float64, unit string, labels ...string) {
	if mm == nil {
		return
	}
	m := Metric{Name: name, Time: mm.now(), Value: value, Unit: unit}
	if len(labels) >= 2 {
		m.Labels = make(map[string]string, len(labels)/2)
		for i := 0; i+1 < len(labels); i += 2 {
			m.Labels[labels[i]] = labels[i+1]
		}
	}

	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.buffer = append(mm.buffer, m)
	if len(mm.buffer) >= mm.bufferSize {
		mm.flushLocked()
	}
}

// Flush writes queued samples now.
func (mm *MetricsManager) Flush() {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.flushLocked()
}

// Query returns samples of name (all names when empty) taken at or after
// since, newest first. limit <= 0 means no limit.
func (mm *MetricsManager) Query(ctx context.Context, name string, since time.Time, limit int) ([]Metric, error) {
	q := `SELECT metric_name, ts_ms, value, unit, labels FROM metrics_timeseries WHERE ts_ms >= ?`
	args := []any{since.UnixMilli()}
	if name != "" {
		q += ` AND metric_name = ?`
		args = append(args, name)
	}
	q += ` ORDER BY ts_ms DESC, rowid DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := mm.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("observability: query metrics: %w", err)
	}
	defer rows.Close()

	var out []Metric
	for rows.Next() {
		var m Metric
		var ts int64
		var labels sql.NullString
		if err := rows.Scan(&m.Name, &ts, &m.Value, &m.Unit, &labels); err != nil {
			return nil, fmt.Errorf("observability: scan metric: %w", err)
		}
		m.Time = time.UnixMilli(ts)
		if labels.Valid {
			json.Unmarshal([]byte(labels.String), &m.Labels)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Summarize aggregates the samples of name taken at or after since.
func (mm *MetricsManager) Summarize(ctx context.Context, name string, since time.Time) (Summary, error) {
	s := Summary{Name: name}
	var sum, lo, hi sql.NullFloat64
	err := mm.db.QueryRowContext(ctx,
		`SELECT COUNT(*), SUM(value), MIN(value), MAX(value) FROM metrics_timeseries
		WHERE metric_name = ? AND ts_ms >= ?`, name, since.UnixMilli()).
		Scan(&s.Count, &sum, &lo, &hi)
	if err != nil {
		return s, fmt.Errorf("observability: summarize %s: %w", name, err)
	}
	if s.Count > 0 {
		s.Sum, s.Min, s.Max = sum.Float64, lo.Float64, hi.Float64
		s.Avg = s.Sum / float64(s.Count)
	}
	return s, nil
}

// Close flushes queued samples and stops the flush goroutine.
func (mm *MetricsManager) Close() error {
	close(mm.stop)
	<-mm.done
	return nil
}

func (mm *MetricsManager) flushLoop() {
	defer close(mm.done)
	tick := time.NewTicker(mm.flushInterval)
	defer tick.Stop()

	for {
		select {
		case <-mm.stop:
			mm.Flush()
			return
		case <-tick.C:
			mm.Flush()
		}
	}
}

func (mm *MetricsManager) flushLocked() {
	if len(mm.buffer) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := dbopen.RunTx(ctx, mm.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO metrics_timeseries (metric_name, ts_ms, value, unit, labels) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, m := range mm.buffer {
			var labels sql.NullString
			if len(m.Labels) > 0 {
				b, _ := json.Marshal(m.Labels)
				labels = sql.NullString{String: string(b), Valid: true}
			}
			if _, err := stmt.ExecContext(ctx, m.Name, m.Time.UnixMilli(), m.Value, m.Unit, labels); err != nil {
				return fmt.Errorf("insert %s: %w", m.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		slog.Error("observability: flush metrics", "samples", len(mm.buffer), "error", err)
	}
	mm.buffer = mm.buffer[:0]
}
