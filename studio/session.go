package studio

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hazyhaar/texstudio/editor"
	"github.com/hazyhaar/texstudio/idgen"
	"github.com/hazyhaar/texstudio/observability"
)

var (
	// ErrSessionNotFound is returned for unknown or expired sessions.
	ErrSessionNotFound = errors.New("studio: session not found")
	// ErrTooManySessions is returned when max_sessions is reached.
	ErrTooManySessions = errors.New("studio: too many sessions")
)

// session owns one editor. mu serialises every operation on it.
type session struct {
	id string
	mu sync.Mutex
	ed *editor.Controller

	lastSeen time.Time // guarded by sessionStore.mu
}

type sessionStore struct {
	mu    sync.Mutex
	byID  map[string]*session
	max   int
	ttl   time.Duration
	now   func() time.Time
	newID idgen.Generator
}

func newSessionStore(max int, ttl time.Duration, now func() time.Time) *sessionStore {
	return &sessionStore{
		byID:  make(map[string]*session),
		max:   max,
		ttl:   ttl,
		now:   now,
		newID: idgen.Prefixed("ses_", idgen.Default),
	}
}

func (st *sessionStore) create(ed *editor.Controller) (*session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.byID) >= st.max {
		return nil, ErrTooManySessions
	}
	s := &session{id: st.newID(), ed: ed, lastSeen: st.now()}
	st.byID[s.id] = s
	return s, nil
}

// get returns the session and refreshes its idle timer.
func (st *sessionStore) get(id string) (*session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.byID[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.lastSeen = st.now()
	return s, nil
}

func (st *sessionStore) remove(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.byID[id]; !ok {
		return false
	}
	delete(st.byID, id)
	return true
}

func (st *sessionStore) len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.byID)
}

// expire drops sessions idle for longer than the TTL and returns their ids.
func (st *sessionStore) expire() []string {
	st.mu.Lock()
	defer st.mu.Unlock()
	cutoff := st.now().Add(-st.ttl)
	var ids []string
	for id, s := range st.byID {
		if s.lastSeen.Before(cutoff) {
			delete(st.byID, id)
			ids = append(ids, id)
		}
	}
	return ids
}

// janitor expires idle sessions until ctx is cancelled.
func (s *Studio) janitor(ctx context.Context) {
	interval := max(s.cfg.SessionTTL/4, time.Second)
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			s.expireSessions(ctx)
		}
	}
}

func (s *Studio) expireSessions(ctx context.Context) {
	for _, id := range s.sessions.expire() {
		s.logger.Info("studio: session expired", "session_id", id)
		s.events.LogEvent(ctx, observability.BusinessEvent{
			EventType:  observability.EventSessionExpired,
			EntityType: "session",
			EntityID:   id,
			SessionID:  id,
			Action:     "expire",
			Success:    true,
		})
	}
	s.metrics.Observe(observability.MetricActiveSessions, float64(s.sessions.len()), "count")
}
