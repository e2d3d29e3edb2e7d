package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/texstudio/idgen"
)

// Business event types recorded by the studio.
const (
	EventImageLoaded    = "image_loaded"
	EventSelectionAdded = "selection_added"
	EventTextureApplied = "texture_applied"
	EventExported       = "exported"
	EventCatalogChanged = "catalog_changed"
	EventSessionExpired = "session_expired"
)

// BusinessEvent represents a domain-level event to record.
type BusinessEvent struct {
	EventType   string
	ServiceName string
	EntityType  string
	EntityID    string
	SessionID   string
	Action      string
	Details     map[string]any // stored as JSON
	Success     bool
}

// StoredEvent is a business event read back from the store.
type StoredEvent struct {
	EventID   string
	EventType string
	EntityID  string
	SessionID string
	Action    string
	Details   string
	Success   bool
	CreatedAt time.Time
}

// EventLogger writes business events and manages retention cleanup.
type EventLogger struct {
	db      *sql.DB
	service string
	newID   idgen.Generator
	now     func() time.Time
}

// EventLoggerOption configures an EventLogger.
type EventLoggerOption func(*EventLogger)

// WithEventIDGenerator sets a custom ID generator for event IDs.
func WithEventIDGenerator(gen idgen.Generator) EventLoggerOption {
	return func(l *EventLogger) { l.newID = gen }
}

// WithEventClock overrides time.Now for created_at.
func WithEventClock(now func() time.Time) EventLoggerOption {
	return func(l *EventLogger) { l.now = now }
}

// NewEventLogger creates a logger backed by the given observability database.
// service fills ServiceName when an event leaves it empty.
func NewEventLogger(db *sql.DB, service string, opts ...EventLoggerOption) *EventLogger {
	l := &EventLogger{
		db:      db,
		service: service,
		newID:   idgen.Prefixed("evt_", idgen.Default),
		now:     time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// LogEvent records a business event. Errors are logged via slog and never
// propagate; a failing observability store must not break an edit.
func (l *EventLogger) LogEvent(ctx context.Context, event BusinessEvent) {
	if l == nil {
		return
	}
	if event.ServiceName == "" {
		event.ServiceName = l.service
	}
	var details sql.NullString
	if len(event.Details) > 0 {
		if b, err := json.Marshal(event.Details); err == nil {
			details = sql.NullString{String: string(b), Valid: true}
		}
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO business_event_logs (
			event_id, event_type, service_name, entity_type, entity_id,
			session_id, action, details, success, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		l.newID(), event.EventType, event.ServiceName, event.EntityType, event.EntityID,
		event.SessionID, event.Action, details, event.Success, l.now().Unix())
	if err != nil {
		slog.Error("observability event log failed", "error", err, "event_type", event.EventType)
	}
}

// Events returns the most recent events of a type, newest first. An empty
// eventType matches all types.
func (l *EventLogger) Events(ctx context.Context, eventType string, limit int) ([]StoredEvent, error) {
	q := `SELECT event_id, event_type, COALESCE(entity_id, ''), COALESCE(session_id, ''),
		action, COALESCE(details, ''), success, created_at FROM business_event_logs`
	var args []any
	if eventType != "" {
		q += " WHERE event_type = ?"
		args = append(args, eventType)
	}
	q += " ORDER BY created_at DESC, rowid DESC"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []StoredEvent
	for rows.Next() {
		var e StoredEvent
		var ts int64
		if err := rows.Scan(&e.EventID, &e.EventType, &e.EntityID, &e.SessionID,
			&e.Action, &e.Details, &e.Success, &ts); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.CreatedAt = time.Unix(ts, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

// RetentionConfig specifies per-table retention in days. Zero means no cleanup.
type RetentionConfig struct {
	EventLogsDays  int
	MetricsDays    int
	RunVacuumAfter bool
}

// Cleanup deletes records exceeding the retention thresholds.
func Cleanup(ctx context.Context, db *sql.DB, cfg RetentionConfig) error {
	now := time.Now().Unix()

	targets := []struct {
		query string
		days  int
		scale int64
	}{
		{"DELETE FROM business_event_logs WHERE created_at < ?", cfg.EventLogsDays, 1},
		{"DELETE FROM metrics_timeseries WHERE ts_ms < ?", cfg.MetricsDays, 1000},
	}
	for _, t := range targets {
		if t.days <= 0 {
			continue
		}
		cutoff := (now - int64(t.days*86400)) * t.scale
		if _, err := db.ExecContext(ctx, t.query, cutoff); err != nil {
			return fmt.Errorf("cleanup: %w", err)
		}
	}

	if cfg.RunVacuumAfter {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			return fmt.Errorf("vacuum: %w", err)
		}
	}
	return nil
}
