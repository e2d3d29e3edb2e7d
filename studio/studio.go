// Package studio serves texture editing sessions over HTTP and MCP.
//
// Each session owns one editor.Controller; calls on a session are
// serialised by a per-session mutex and idle sessions expire after
// session_ttl. The catalog is shared by every session. Business events,
// metrics and rate limit rules live in the observability database.
//
// Usage:
//
//	s, err := studio.New(cfg, logger)
//	defer s.Close()
//	s.Start(ctx)
//	http.ListenAndServe(cfg.Listen, s.Handler())
//	s.RegisterMCP(mcpServer)
package studio

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/texstudio/auth"
	"github.com/hazyhaar/texstudio/catalog"
	"github.com/hazyhaar/texstudio/dbopen"
	"github.com/hazyhaar/texstudio/editor"
	"github.com/hazyhaar/texstudio/imgsrc"
	"github.com/hazyhaar/texstudio/kit"
	"github.com/hazyhaar/texstudio/observability"
	"github.com/hazyhaar/texstudio/shield"
	"github.com/hazyhaar/texstudio/trace"
	"github.com/hazyhaar/texstudio/watch"
)

// SettingWatermark is the catalog setting holding the export watermark.
const SettingWatermark = "watermark"

// Option configures a Studio.
type Option func(*Studio)

// WithClock overrides time.Now for sessions and exports.
func WithClock(now func() time.Time) Option {
	return func(s *Studio) { s.now = now }
}

// WithFetcher replaces the remote texture fetcher shared by all sessions.
func WithFetcher(f editor.ImageFetcher) Option {
	return func(s *Studio) { s.fetcher = f }
}

// Studio is the texstudio service.
type Studio struct {
	cfg      *Config
	catalog  *catalog.Catalog
	obsDB    *sql.DB
	events   *observability.EventLogger
	metrics  *observability.MetricsManager
	limiter  *shield.RateLimiter
	signer   *auth.Signer
	traces   *trace.Store
	traceDB  *sql.DB
	sessions *sessionStore
	fetcher  editor.ImageFetcher
	logger   *slog.Logger
	now      func() time.Time
}

// New validates cfg, opens the catalog and observability databases and
// seeds the rate limit rules.
func New(cfg *Config, logger *slog.Logger, opts ...Option) (*Studio, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("studio: config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Studio{cfg: cfg, logger: logger, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	if cfg.Admin.User != "" && cfg.Admin.TokenSecret != "" {
		signer, err := auth.NewSigner([]byte(cfg.Admin.TokenSecret), cfg.Admin.TokenTTL, auth.WithClock(s.now))
		if err != nil {
			return nil, fmt.Errorf("studio: admin tokens: %w", err)
		}
		s.signer = signer
	}
	if s.fetcher == nil {
		fopts := []imgsrc.FetcherOption{
			imgsrc.WithMaxBytes(cfg.MaxFetchBytes()),
			imgsrc.WithMaxPixels(cfg.Editor.MaxPixels),
		}
		if cfg.Fetch.AllowPrivate {
			fopts = append(fopts, imgsrc.WithAllowPrivate())
		}
		s.fetcher = imgsrc.NewFetcher(fopts...)
	}

	driver := "sqlite"
	if cfg.SQLTrace.Enabled {
		driver = trace.DriverName
		if err := s.openTraceStore(); err != nil {
			return nil, err
		}
	}

	cat, err := catalog.New(&catalog.Config{DBPath: cfg.CatalogDB, Driver: driver}, logger)
	if err != nil {
		s.closeTraceStore()
		return nil, fmt.Errorf("studio: catalog: %w", err)
	}

	obsDB, err := dbopen.Open(cfg.ObservabilityDB, dbopen.WithMkdirAll(), dbopen.WithDriver(driver))
	if err != nil {
		cat.Close()
		s.closeTraceStore()
		return nil, fmt.Errorf("studio: observability db: %w", err)
	}
	if err := initObservability(obsDB, cfg.RateLimits); err != nil {
		obsDB.Close()
		cat.Close()
		s.closeTraceStore()
		return nil, err
	}

	s.catalog = cat
	s.obsDB = obsDB
	s.events = observability.NewEventLogger(obsDB, "texstudio",
		observability.WithEventClock(s.now))
	s.metrics = observability.NewMetricsManager(obsDB, observability.WithMetricsClock(s.now))
	s.limiter = shield.NewRateLimiter(obsDB, "/health")
	s.sessions = newSessionStore(cfg.MaxSessions, cfg.SessionTTL, s.now)
	return s, nil
}

// openTraceStore installs the process-wide SQL trace store when a trace
// database is configured.
func (s *Studio) openTraceStore() error {
	if s.cfg.SQLTrace.DB == "" {
		return nil
	}
	db, err := dbopen.Open(s.cfg.SQLTrace.DB, dbopen.WithMkdirAll())
	if err != nil {
		return fmt.Errorf("studio: trace db: %w", err)
	}
	st := trace.NewStore(db)
	if err := st.Init(); err != nil {
		st.Close()
		db.Close()
		return fmt.Errorf("studio: %w", err)
	}
	trace.SetStore(st)
	s.traces, s.traceDB = st, db
	return nil
}

func (s *Studio) closeTraceStore() {
	if s.traces == nil {
		return
	}
	trace.SetStore(nil)
	s.traces.Close()
	s.traceDB.Close()
	s.traces, s.traceDB = nil, nil
}

func initObservability(db *sql.DB, rules []RateLimitRule) error {
	if err := observability.Init(db); err != nil {
		return fmt.Errorf("studio: observability schema: %w", err)
	}
	if err := shield.Init(db); err != nil {
		return fmt.Errorf("studio: shield schema: %w", err)
	}
	for _, r := range rules {
		err := shield.SetRule(db, r.Endpoint, shield.RateLimitConfig{
			MaxRequests:   r.MaxRequests,
			WindowSeconds: r.WindowSeconds,
			Enabled:       true,
		})
		if err != nil {
			return fmt.Errorf("studio: rate limit %s: %w", r.Endpoint, err)
		}
	}
	return nil
}

// Start runs the session janitor and the rate limit rule watcher until ctx
// is cancelled. Rules edited in the observability database by another
// process take effect within a few seconds.
func (s *Studio) Start(ctx context.Context) {
	if err := s.limiter.Reload(); err != nil {
		s.logger.Warn("studio: rate limit rules", "error", err)
	}
	s.limiter.StartGC(ctx.Done())
	rules := watch.New(s.obsDB, watch.Options{
		Interval: 2 * time.Second,
		Debounce: 500 * time.Millisecond,
		Logger:   s.logger,
	})
	go rules.OnChange(ctx, s.limiter.Reload)
	go s.janitor(ctx)
}

// Stats is the admin view of recent activity.
type Stats struct {
	Sessions int                     `json:"sessions"`
	Window   string                  `json:"window"`
	Metrics  []observability.Summary `json:"metrics"`
}

var statsMetrics = []string{
	observability.MetricActiveSessions,
	observability.MetricUploadBytes,
	observability.MetricHistoryDepth,
	observability.MetricExportDurationMs,
	observability.MetricExportBytes,
}

// Stats flushes pending samples and summarises each studio metric recorded
// within window.
func (s *Studio) Stats(ctx context.Context, window time.Duration) (*Stats, error) {
	s.metrics.Flush()
	since := s.now().Add(-window)
	out := &Stats{Sessions: s.sessions.len(), Window: window.String()}
	for _, name := range statsMetrics {
		sum, err := s.metrics.Summarize(ctx, name, since)
		if err != nil {
			return nil, fmt.Errorf("studio: stats: %w", err)
		}
		out.Metrics = append(out.Metrics, sum)
	}
	return out, nil
}

// Close flushes metrics and closes the databases.
func (s *Studio) Close() error {
	s.metrics.Close()
	err := errors.Join(s.obsDB.Close(), s.catalog.Close())
	s.closeTraceStore()
	return err
}

// Traces returns the SQL trace store, or nil when sql_trace.db is unset.
func (s *Studio) Traces() *trace.Store { return s.traces }

// Catalog returns the shared texture catalog.
func (s *Studio) Catalog() *catalog.Catalog { return s.catalog }

// Events returns the business event logger.
func (s *Studio) Events() *observability.EventLogger { return s.events }

// --- Session operations shared by HTTP and MCP ---

// SessionInfo describes a session and its editor state.
type SessionInfo struct {
	ID    string         `json:"id"`
	State editor.UIState `json:"state"`
}

// withEditor runs fn on the session's editor with the session locked.
func withEditor[T any](s *Studio, ctx context.Context, sid string, fn func(context.Context, *editor.Controller) (T, error)) (T, error) {
	ss, err := s.sessions.get(sid)
	if err != nil {
		var zero T
		return zero, err
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return fn(kit.WithSessionID(ctx, ss.id), ss.ed)
}

// CreateSession opens a session with an empty editor, loading img when
// non-nil.
func (s *Studio) CreateSession(ctx context.Context, img image.Image) (*SessionInfo, error) {
	ecfg := s.cfg.Editor
	ed := editor.New(&ecfg, s.catalog, s.logger, editor.WithFetcher(s.fetcher), editor.WithClock(s.now))
	ss, err := s.sessions.create(ed)
	if err != nil {
		return nil, err
	}
	s.logger.Info("studio: session created", "session_id", ss.id)
	s.metrics.Observe(observability.MetricActiveSessions, float64(s.sessions.len()), "count")

	if img != nil {
		ss.mu.Lock()
		defer ss.mu.Unlock()
		if err := ed.LoadImage(img); err != nil {
			s.sessions.remove(ss.id)
			return nil, err
		}
		s.imageLoaded(kit.WithSessionID(ctx, ss.id), ss.id, img, 0)
	}
	return &SessionInfo{ID: ss.id, State: ed.State()}, nil
}

// DeleteSession drops a session.
func (s *Studio) DeleteSession(ctx context.Context, sid string) error {
	if !s.sessions.remove(sid) {
		return ErrSessionNotFound
	}
	s.logger.Info("studio: session deleted", "session_id", sid)
	return nil
}

// SessionState returns the editor state of a session.
func (s *Studio) SessionState(ctx context.Context, sid string) (*SessionInfo, error) {
	return withEditor(s, ctx, sid, func(ctx context.Context, ed *editor.Controller) (*SessionInfo, error) {
		return &SessionInfo{ID: sid, State: ed.State()}, nil
	})
}

// UploadImage decodes data into the session's surface.
func (s *Studio) UploadImage(ctx context.Context, sid string, data []byte) (*SessionInfo, error) {
	return withEditor(s, ctx, sid, func(ctx context.Context, ed *editor.Controller) (*SessionInfo, error) {
		if err := ed.Upload(bytes.NewReader(data)); err != nil {
			return nil, err
		}
		obj := ed.Surface().ActiveObject()
		var img image.Image
		if obj != nil {
			img, _ = ed.Surface().Image(obj)
		}
		s.imageLoaded(ctx, sid, img, len(data))
		return &SessionInfo{ID: sid, State: ed.State()}, nil
	})
}

func (s *Studio) imageLoaded(ctx context.Context, sid string, img image.Image, size int) {
	details := map[string]any{}
	if img != nil {
		b := img.Bounds()
		details["width"], details["height"] = b.Dx(), b.Dy()
	}
	if size > 0 {
		details["bytes"] = size
		s.metrics.Observe(observability.MetricUploadBytes, float64(size), "bytes", "session", sid)
	}
	s.events.LogEvent(ctx, observability.BusinessEvent{
		EventType:  observability.EventImageLoaded,
		EntityType: "session",
		EntityID:   sid,
		SessionID:  sid,
		Action:     "upload",
		Details:    details,
		Success:    true,
	})
}

// CompleteResult is returned when a selection tool is completed.
type CompleteResult struct {
	SelectionID string         `json:"selection_id,omitempty"`
	Added       bool           `json:"added"`
	State       editor.UIState `json:"state"`
}

// CompleteTool commits the in-progress selection.
func (s *Studio) CompleteTool(ctx context.Context, sid, color string) (*CompleteResult, error) {
	return withEditor(s, ctx, sid, func(ctx context.Context, ed *editor.Controller) (*CompleteResult, error) {
		return s.complete(ctx, sid, ed, color), nil
	})
}

func (s *Studio) complete(ctx context.Context, sid string, ed *editor.Controller, color string) *CompleteResult {
	mode := ed.Mode()
	id, ok := ed.Complete(color)
	if ok {
		s.events.LogEvent(ctx, observability.BusinessEvent{
			EventType:  observability.EventSelectionAdded,
			EntityType: "selection",
			EntityID:   id,
			SessionID:  sid,
			Action:     string(mode),
			Success:    true,
		})
		s.metrics.Observe(observability.MetricHistoryDepth, float64(ed.HistoryLen()), "count", "session", sid, "op", "select")
	}
	return &CompleteResult{SelectionID: id, Added: ok, State: ed.State()}
}

// AddPolygonSelection draws and completes a polygon selection in one call.
// With fewer than three points nothing is added and the editor returns to
// view mode.
func (s *Studio) AddPolygonSelection(ctx context.Context, sid string, points []editor.PointerEvent, color string) (*CompleteResult, error) {
	return withEditor(s, ctx, sid, func(ctx context.Context, ed *editor.Controller) (*CompleteResult, error) {
		if ed.Mode() != editor.ModePolygon {
			if err := ed.TogglePolygon(); err != nil {
				return nil, err
			}
		}
		ed.ClearTool()
		for _, p := range points {
			ed.Pointer(editor.PointerEvent{Type: editor.PointerDown, X: p.X, Y: p.Y})
		}
		res := s.complete(ctx, sid, ed, color)
		if !res.Added {
			ed.Cancel()
			res.State = ed.State()
		}
		return res, nil
	})
}

// ApplyResult is returned after placing a texture.
type ApplyResult struct {
	editor.ApplyResult
	State editor.UIState `json:"state"`
}

// ApplyTexture places a catalog texture in the session.
func (s *Studio) ApplyTexture(ctx context.Context, sid, textureID string) (*ApplyResult, error) {
	return withEditor(s, ctx, sid, func(ctx context.Context, ed *editor.Controller) (*ApplyResult, error) {
		res, err := ed.ApplyTexture(ctx, textureID)
		s.events.LogEvent(ctx, observability.BusinessEvent{
			EventType:  observability.EventTextureApplied,
			EntityType: "texture",
			EntityID:   textureID,
			SessionID:  sid,
			Action:     "apply",
			Details:    map[string]any{"masked": res != nil && res.Masked},
			Success:    err == nil,
		})
		if err != nil {
			return nil, err
		}
		s.metrics.Observe(observability.MetricHistoryDepth, float64(ed.HistoryLen()), "count", "session", sid, "op", "apply")
		return &ApplyResult{ApplyResult: *res, State: ed.State()}, nil
	})
}

// StepResult is returned by undo, redo and other toggled operations.
type StepResult struct {
	OK    bool           `json:"ok"`
	State editor.UIState `json:"state"`
}

// Undo steps the session's history back.
func (s *Studio) Undo(ctx context.Context, sid string) (*StepResult, error) {
	return s.step(ctx, sid, (*editor.Controller).Undo)
}

// Redo steps the session's history forward.
func (s *Studio) Redo(ctx context.Context, sid string) (*StepResult, error) {
	return s.step(ctx, sid, (*editor.Controller).Redo)
}

func (s *Studio) step(ctx context.Context, sid string, fn func(*editor.Controller) bool) (*StepResult, error) {
	return withEditor(s, ctx, sid, func(ctx context.Context, ed *editor.Controller) (*StepResult, error) {
		return &StepResult{OK: fn(ed), State: ed.State()}, nil
	})
}

// Edit runs a state-only operation and returns the resulting state.
func (s *Studio) Edit(ctx context.Context, sid string, fn func(*editor.Controller)) (*SessionInfo, error) {
	return withEditor(s, ctx, sid, func(ctx context.Context, ed *editor.Controller) (*SessionInfo, error) {
		fn(ed)
		return &SessionInfo{ID: sid, State: ed.State()}, nil
	})
}

// EditErr is Edit for operations that can fail.
func (s *Studio) EditErr(ctx context.Context, sid string, fn func(*editor.Controller) error) (*SessionInfo, error) {
	return withEditor(s, ctx, sid, func(ctx context.Context, ed *editor.Controller) (*SessionInfo, error) {
		if err := fn(ed); err != nil {
			return nil, err
		}
		return &SessionInfo{ID: sid, State: ed.State()}, nil
	})
}

// Export renders the session with the current watermark setting.
func (s *Studio) Export(ctx context.Context, sid string, f imgsrc.Format) (*editor.ExportResult, error) {
	return withEditor(s, ctx, sid, func(ctx context.Context, ed *editor.Controller) (*editor.ExportResult, error) {
		wm, err := s.Watermark(ctx)
		if err != nil {
			s.logger.Warn("studio: watermark setting unavailable", "error", err)
		} else {
			ed.SetWatermark(wm)
		}

		start := s.now()
		res, err := ed.Export(f)
		event := observability.BusinessEvent{
			EventType:  observability.EventExported,
			EntityType: "session",
			EntityID:   sid,
			SessionID:  sid,
			Action:     string(f),
			Success:    err == nil,
		}
		if err != nil {
			event.Details = map[string]any{"error": err.Error()}
			s.events.LogEvent(ctx, event)
			return nil, err
		}
		event.Details = map[string]any{"filename": res.Filename, "width": res.Width, "height": res.Height, "bytes": len(res.Data)}
		s.events.LogEvent(ctx, event)
		s.metrics.Observe(observability.MetricExportDurationMs, float64(s.now().Sub(start).Milliseconds()), "milliseconds", "format", string(f))
		s.metrics.Observe(observability.MetricExportBytes, float64(len(res.Data)), "bytes", "format", string(f))
		return res, nil
	})
}

// Watermark returns the export watermark text.
func (s *Studio) Watermark(ctx context.Context) (string, error) {
	fallback := s.cfg.Editor.Watermark
	if fallback == "" {
		fallback = editor.DefaultWatermark
	}
	return s.catalog.Setting(ctx, SettingWatermark, fallback)
}

// SetWatermark stores the export watermark text.
func (s *Studio) SetWatermark(ctx context.Context, text string) error {
	if err := s.catalog.SetSetting(ctx, SettingWatermark, text); err != nil {
		return err
	}
	s.catalogChanged(ctx, SettingWatermark, "watermark")
	return nil
}

func (s *Studio) catalogChanged(ctx context.Context, id, action string) {
	s.events.LogEvent(ctx, observability.BusinessEvent{
		EventType:  observability.EventCatalogChanged,
		EntityType: "texture",
		EntityID:   id,
		Action:     action,
		Success:    true,
	})
}
