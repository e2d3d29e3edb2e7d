// Package history keeps a bounded, linear undo/redo stack of full surface
// snapshots.
package history

import (
	"fmt"
	"log/slog"
	"time"
)

// DefaultMaxSize bounds the number of retained snapshots.
const DefaultMaxSize = 50

// Canvas is anything that can serialise and restore its whole state.
type Canvas interface {
	ToJSON() ([]byte, error)
	LoadFromJSON([]byte) error
}

// Snapshot is one serialised state.
type Snapshot struct {
	State     string
	Timestamp time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxSize overrides DefaultMaxSize. Values below 1 are ignored.
func WithMaxSize(n int) Option {
	return func(m *Manager) {
		if n >= 1 {
			m.maxSize = n
		}
	}
}

// WithClock overrides time.Now for snapshot timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger used for failed restores.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// Manager is the undo/redo stack. index is -1 when empty and otherwise
// points at the snapshot matching the canvas. Not safe for concurrent use.
type Manager struct {
	snapshots []Snapshot
	index     int
	maxSize   int
	now       func() time.Time
	logger    *slog.Logger
}

// New creates an empty manager.
func New(opts ...Option) *Manager {
	m := &Manager{
		index:   -1,
		maxSize: DefaultMaxSize,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Push records the canvas state. Redo entries past the current index are
// discarded; past the bound the oldest snapshot is evicted.
func (m *Manager) Push(c Canvas) error {
	data, err := c.ToJSON()
	if err != nil {
		return fmt.Errorf("history: snapshot: %w", err)
	}
	m.snapshots = append(m.snapshots[:m.index+1], Snapshot{State: string(data), Timestamp: m.now()})
	if len(m.snapshots) > m.maxSize {
		m.snapshots = append(m.snapshots[:0], m.snapshots[1:]...)
	}
	m.index = len(m.snapshots) - 1
	return nil
}

// Undo restores the previous snapshot. It returns false when there is
// nothing to undo or the canvas rejected the snapshot.
func (m *Manager) Undo(c Canvas) bool {
	if !m.CanUndo() {
		return false
	}
	return m.restore(c, m.index-1)
}

// Redo restores the next snapshot.
func (m *Manager) Redo(c Canvas) bool {
	if !m.CanRedo() {
		return false
	}
	return m.restore(c, m.index+1)
}

func (m *Manager) restore(c Canvas, to int) bool {
	if err := c.LoadFromJSON([]byte(m.snapshots[to].State)); err != nil {
		m.logger.Error("history: restore failed", "index", to, "error", err)
		return false
	}
	m.index = to
	return true
}

func (m *Manager) CanUndo() bool { return m.index > 0 }
func (m *Manager) CanRedo() bool { return m.index < len(m.snapshots)-1 }

// Clear drops every snapshot.
func (m *Manager) Clear() {
	m.snapshots = nil
	m.index = -1
}

// Len returns the number of retained snapshots.
func (m *Manager) Len() int { return len(m.snapshots) }

// Index returns the current position, -1 when empty.
func (m *Manager) Index() int { return m.index }

// Current returns the snapshot at the current index.
func (m *Manager) Current() (Snapshot, bool) {
	if m.index < 0 {
		return Snapshot{}, false
	}
	return m.snapshots[m.index], true
}
