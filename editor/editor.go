// Package editor is the editing surface controller. It owns one surface,
// its selections and its undo history, routes pointer input to the polygon
// and brush tools, and places catalog textures clipped to the active
// selection.
//
// A Controller is single-threaded: callers serialise access.
//
// Usage:
//
//	ed := editor.New(&editor.Config{}, cat, logger)
//	ed.Upload(file)
//	ed.TogglePolygon()
//	ed.Pointer(editor.PointerEvent{Type: editor.PointerDown, X: 10, Y: 10})
//	...
//	ed.Complete("")
//	ed.ApplyTexture(ctx, "texture-1")
//	res, err := ed.Export(imgsrc.FormatPNG)
package editor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"time"

	"github.com/hazyhaar/texstudio/catalog"
	"github.com/hazyhaar/texstudio/history"
	"github.com/hazyhaar/texstudio/imgsrc"
	"github.com/hazyhaar/texstudio/selection"
	"github.com/hazyhaar/texstudio/surface"
)

var (
	// ErrNoImage is returned by tool actions before an image is loaded.
	ErrNoImage = errors.New("editor: no image loaded")
	// ErrTextureNotFound is returned when the catalog has no such texture.
	ErrTextureNotFound = errors.New("editor: texture not found")
	// ErrUnsupportedFormat is returned for undecodable images and unknown
	// export formats.
	ErrUnsupportedFormat = errors.New("editor: unsupported image format")
)

// TextureSource resolves catalog entries.
type TextureSource interface {
	Get(ctx context.Context, id string) (*catalog.Texture, error)
}

// ImageFetcher decodes an image from a data URL or remote URL.
type ImageFetcher interface {
	Fetch(ctx context.Context, src string) (image.Image, error)
}

// Option configures a Controller.
type Option func(*Controller)

// WithFetcher replaces the default imgsrc.Fetcher.
func WithFetcher(f ImageFetcher) Option {
	return func(c *Controller) { c.fetcher = f }
}

// WithClock sets the clock used for export filenames and snapshots.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// UIState is the editor state derived after each operation.
type UIState struct {
	Mode            Mode          `json:"mode"`
	BrushWidth      float64       `json:"brush_width"`
	HasImage        bool          `json:"has_image"`
	HasSelection    bool          `json:"has_selection"`
	CanUndo         bool          `json:"can_undo"`
	CanRedo         bool          `json:"can_redo"`
	Exporting       bool          `json:"exporting"`
	PolygonPoints   int           `json:"polygon_points"`
	PendingStrokes  int           `json:"pending_strokes"`
	Objects         int           `json:"objects"`
	HistoryDepth    int           `json:"history_depth"`
	ActiveSelection string        `json:"active_selection,omitempty"`
	ActiveObject    string        `json:"active_object,omitempty"`
	Crop            *surface.Rect `json:"crop,omitempty"`
}

// ApplyResult describes a placed texture.
type ApplyResult struct {
	ObjectID string `json:"object_id"`
	Masked   bool   `json:"masked"`
}

// Transform changes the active object. Nil fields are left alone; RotateBy
// is added after Angle.
type Transform struct {
	Scale    *float64 `json:"scale,omitempty"`
	Angle    *float64 `json:"angle,omitempty"`
	RotateBy *float64 `json:"rotate_by,omitempty"`
}

// Controller is the editing surface controller.
type Controller struct {
	cfg        *Config
	surface    *surface.Surface
	selections *selection.Manager
	history    *history.Manager
	textures   TextureSource
	fetcher    ImageFetcher
	logger     *slog.Logger
	now        func() time.Time

	mode       Mode
	polygon    polygonTool
	brush      brushTool
	brushWidth float64
	watermark  string
	exporting  bool
	suppress   bool
}

// New creates a controller with an empty surface.
func New(cfg *Config, textures TextureSource, logger *slog.Logger, opts ...Option) *Controller {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		cfg:        cfg,
		textures:   textures,
		logger:     logger,
		now:        time.Now,
		mode:       ModeView,
		brushWidth: cfg.BrushWidth,
		watermark:  cfg.Watermark,
	}
	for _, o := range opts {
		o(c)
	}
	if c.fetcher == nil {
		c.fetcher = imgsrc.NewFetcher(imgsrc.WithMaxPixels(cfg.MaxPixels))
	}

	c.surface = surface.New(
		surface.WithSize(cfg.SurfaceWidth, cfg.SurfaceHeight),
		surface.WithBackground(cfg.Background),
	)
	c.selections = selection.New(selection.WithLogger(logger))
	c.history = history.New(
		history.WithMaxSize(cfg.HistorySize),
		history.WithClock(c.now),
		history.WithLogger(logger),
	)
	c.surface.Subscribe(c.onSurfaceEvent)
	return c
}

// onSurfaceEvent snapshots every structural mutation.
func (c *Controller) onSurfaceEvent(ev surface.Event) {
	if c.suppress || !ev.Type.Structural() {
		return
	}
	c.record()
}

func (c *Controller) record() {
	if err := c.history.Push(c.surface); err != nil {
		c.logger.Error("editor: history push failed", "error", err)
	}
}

// batch runs fn with the history hook muted, then records one snapshot.
func (c *Controller) batch(fn func()) {
	c.suppress = true
	fn()
	c.suppress = false
	c.record()
}

// Surface exposes the underlying surface for read access.
func (c *Controller) Surface() *surface.Surface { return c.surface }

// Mode returns the current interaction mode.
func (c *Controller) Mode() Mode { return c.mode }

// HasImage reports whether a background image is on the surface.
func (c *Controller) HasImage() bool {
	for _, o := range c.surface.Objects() {
		if o.Role == surface.RoleBackground {
			return true
		}
	}
	return false
}

// --- Image loading ---

// Upload decodes r and loads it as the background image.
func (c *Controller) Upload(r io.Reader) error {
	img, format, err := imgsrc.Decode(r, imgsrc.WithPixelLimit(c.cfg.MaxPixels))
	if err != nil {
		if errors.Is(err, imgsrc.ErrUnsupportedFormat) {
			return fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)
		}
		return fmt.Errorf("editor: upload: %w", err)
	}
	c.logger.Debug("editor: image decoded", "format", format)
	return c.LoadImage(img)
}

// LoadImage clears the surface, selections and history, then places img
// scaled down to fit the configured footprint and centred. The placement is
// the first history snapshot.
func (c *Controller) LoadImage(img image.Image) error {
	b := img.Bounds()
	if b.Empty() {
		return fmt.Errorf("%w: empty image", ErrUnsupportedFormat)
	}
	c.resetTools()
	c.mode = ModeView
	c.surface.Reset()
	c.selections.Reset()
	c.history.Clear()

	obj := c.surface.NewImage(img, surface.RoleBackground)
	scale := FitScale(b.Dx(), b.Dy(), c.cfg.FitWidth, c.cfg.FitHeight)
	obj.ScaleX, obj.ScaleY = scale, scale
	c.surface.Center(obj)
	c.surface.Add(obj)
	c.surface.SetActiveObject(obj.ID)
	return nil
}

// FitScale is the factor that fits w x h inside maxW x maxH. Images already
// inside are not enlarged.
func FitScale(w, h, maxW, maxH int) float64 {
	if w <= maxW && h <= maxH {
		return 1
	}
	return min(float64(maxW)/float64(w), float64(maxH)/float64(h))
}

// --- Tools ---

// TogglePolygon enters or leaves polygon mode.
func (c *Controller) TogglePolygon() error { return c.toggle(ActionTogglePolygon) }

// ToggleBrush enters or leaves brush mode.
func (c *Controller) ToggleBrush() error { return c.toggle(ActionToggleBrush) }

func (c *Controller) toggle(a Action) error {
	if !c.HasImage() {
		return ErrNoImage
	}
	c.transition(a)
	return nil
}

// transition moves the FSM and discards in-progress tool state whenever
// the mode changes.
func (c *Controller) transition(a Action) {
	next := Next(c.mode, a)
	if next != c.mode {
		c.resetTools()
		if next != ModeView {
			c.surface.DiscardActiveObject()
		}
	}
	c.mode = next
}

func (c *Controller) resetTools() {
	c.polygon.reset()
	c.brush.reset()
}

// Pointer routes a pointer event to the active tool. In view mode a
// pointer-down activates the topmost selectable object under it.
func (c *Controller) Pointer(ev PointerEvent) {
	switch c.mode {
	case ModePolygon:
		c.polygon.handle(ev)
	case ModeBrush:
		c.brush.handle(ev, c.brushWidth)
	default:
		if ev.Type != PointerDown {
			return
		}
		if o := c.surface.ObjectAt(ev.point()); o != nil {
			c.surface.SetActiveObject(o.ID)
		} else {
			c.surface.DiscardActiveObject()
		}
	}
}

// Complete commits the in-progress shape as a selection and returns to
// view mode. An empty color uses the configured selection colour. Polygon
// mode with fewer than three points is a no-op that stays in the mode.
func (c *Controller) Complete(color string) (string, bool) {
	color = c.selectionColor(color)
	var (
		id string
		ok bool
	)
	switch c.mode {
	case ModePolygon:
		if !c.polygon.ready() {
			return "", false
		}
		id, ok = c.selections.AddPolygonSelection(c.surface, c.polygon.points, color, c.cfg.SelectionOpacity)
	case ModeBrush:
		id, ok = c.completeBrush(color)
	}
	c.transition(ActionComplete)
	if ok {
		c.logger.Debug("editor: selection added", "selection", id)
	}
	return id, ok
}

// selectionColor resolves the colour for a new selection: empty means the
// configured colour, and anything ParseColor rejects falls back to it.
func (c *Controller) selectionColor(color string) string {
	if color == "" {
		color = c.cfg.SelectionColor
	}
	if _, err := surface.ParseColor(color); err != nil {
		c.logger.Warn("editor: bad selection colour, using default", "color", color, "error", err)
		color = c.cfg.SelectionColor
		if _, err := surface.ParseColor(color); err != nil {
			color = selection.DefaultColor
		}
	}
	return color
}

// completeBrush attaches the pending strokes and registers them as one
// brush selection in a single history step.
func (c *Controller) completeBrush(color string) (id string, ok bool) {
	if len(c.brush.strokes) == 0 {
		return "", false
	}
	c.batch(func() {
		ids := make([]string, 0, len(c.brush.strokes))
		for _, st := range c.brush.strokes {
			p := surface.NewPath(st.points, color, st.width)
			c.surface.Add(p)
			ids = append(ids, p.ID)
		}
		id, ok = c.selections.AddBrushSelection(c.surface, ids, color, c.cfg.SelectionOpacity)
	})
	return id, ok
}

// Cancel discards the in-progress shape and returns to view mode.
func (c *Controller) Cancel() { c.transition(ActionCancel) }

// ClearTool discards the in-progress shape without leaving the mode.
func (c *Controller) ClearTool() { c.resetTools() }

// BrushWidth returns the current brush width.
func (c *Controller) BrushWidth() float64 { return c.brushWidth }

// SetBrushWidth sets the width of subsequent strokes, clamped to 1..50.
func (c *Controller) SetBrushWidth(w float64) { c.brushWidth = clampBrush(w) }

// --- Selections ---

// Selections returns the registered selections in insertion order.
func (c *Controller) Selections() []selection.Selection { return c.selections.Selections() }

// ActiveSelection returns the active selection.
func (c *Controller) ActiveSelection() (selection.Selection, bool) {
	return c.selections.ActiveSelection()
}

// SetActiveSelection marks id active. Unknown ids are ignored.
func (c *Controller) SetActiveSelection(id string) { c.selections.SetActiveSelection(id) }

// RemoveSelection detaches a selection's shapes as one history step.
func (c *Controller) RemoveSelection(id string) bool {
	if _, ok := c.selections.Selection(id); !ok {
		return false
	}
	c.batch(func() {
		c.selections.RemoveSelection(id, c.surface)
	})
	return true
}

// --- Textures and transforms ---

// ApplyTexture places the catalog texture id at the configured width,
// centred, clipped to the active selection when there is one. A mask that
// cannot be applied leaves the texture unclipped.
func (c *Controller) ApplyTexture(ctx context.Context, id string) (*ApplyResult, error) {
	t, err := c.textures.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("editor: texture %s: %w", id, err)
	}
	if t == nil {
		return nil, fmt.Errorf("%w: %s", ErrTextureNotFound, id)
	}
	img, err := c.fetcher.Fetch(ctx, t.URL)
	if err != nil {
		if errors.Is(err, imgsrc.ErrUnsupportedFormat) {
			return nil, fmt.Errorf("%w: texture %s: %w", ErrUnsupportedFormat, id, err)
		}
		return nil, fmt.Errorf("editor: load texture %s: %w", id, err)
	}

	obj := c.surface.NewImage(img, surface.RoleTexture)
	scale := c.cfg.TextureWidth / obj.Width
	obj.ScaleX, obj.ScaleY = scale, scale
	c.surface.Center(obj)

	res := &ApplyResult{}
	if sel, ok := c.selections.ActiveSelection(); ok {
		res.Masked = c.selections.ApplySelectionMask(c.surface, obj, sel.ID)
		if !res.Masked {
			c.logger.Warn("editor: texture left unclipped", "texture", id, "selection", sel.ID)
		}
	}
	c.surface.Add(obj)
	c.surface.SetActiveObject(obj.ID)
	res.ObjectID = obj.ID
	return res, nil
}

// Transform applies t to the active object as one history step. It reports
// false when there is no active object or nothing valid to apply; a
// non-positive Scale is ignored.
func (c *Controller) Transform(t Transform) bool {
	if t.Scale != nil && *t.Scale <= 0 {
		t.Scale = nil
	}
	active := c.surface.ActiveObject()
	if active == nil || (t.Scale == nil && t.Angle == nil && t.RotateBy == nil) {
		return false
	}
	return c.surface.Modify(active.ID, func(o *surface.Object) {
		if t.Scale != nil {
			o.SetScale(*t.Scale)
		}
		if t.Angle != nil {
			o.SetAngle(*t.Angle)
		}
		if t.RotateBy != nil {
			o.SetAngle(o.Angle + *t.RotateBy)
		}
	})
}

// SetScale sets the uniform scale of the active object.
func (c *Controller) SetScale(s float64) bool { return c.Transform(Transform{Scale: &s}) }

// SetAngle sets the rotation of the active object in degrees.
func (c *Controller) SetAngle(deg float64) bool { return c.Transform(Transform{Angle: &deg}) }

// RotateBy rotates the active object by delta degrees.
func (c *Controller) RotateBy(delta float64) bool { return c.Transform(Transform{RotateBy: &delta}) }

// Crop restricts the visible surface to r. A nil or empty rectangle
// removes the crop.
func (c *Controller) Crop(r *surface.Rect) error {
	if !c.HasImage() {
		return ErrNoImage
	}
	c.surface.SetCrop(r)
	return nil
}

// --- History ---

// Undo restores the previous snapshot and drops selections whose shapes
// are gone.
func (c *Controller) Undo() bool {
	if !c.history.Undo(c.surface) {
		return false
	}
	c.afterRestore()
	return true
}

// Redo restores the next snapshot.
func (c *Controller) Redo() bool {
	if !c.history.Redo(c.surface) {
		return false
	}
	c.afterRestore()
	return true
}

func (c *Controller) afterRestore() {
	if dropped := c.selections.Prune(c.surface); len(dropped) > 0 {
		c.logger.Debug("editor: selections pruned", "selections", dropped)
	}
	if revived := c.selections.Revive(c.surface); len(revived) > 0 {
		c.logger.Debug("editor: selections revived", "selections", revived)
	}
}

// Clear empties the surface, selections and history.
func (c *Controller) Clear() {
	c.resetTools()
	c.mode = ModeView
	c.surface.Reset()
	c.selections.Reset()
	c.history.Clear()
}

// HistoryLen returns the number of retained snapshots.
func (c *Controller) HistoryLen() int { return c.history.Len() }

// --- State ---

// State returns the current UI state.
func (c *Controller) State() UIState {
	st := UIState{
		Mode:           c.mode,
		BrushWidth:     c.brushWidth,
		HasImage:       c.HasImage(),
		HasSelection:   c.selections.Len() > 0,
		CanUndo:        c.history.CanUndo(),
		CanRedo:        c.history.CanRedo(),
		Exporting:      c.exporting,
		PolygonPoints:  len(c.polygon.points),
		PendingStrokes: len(c.brush.strokes),
		Objects:        c.surface.Len(),
		HistoryDepth:   c.history.Len(),
		Crop:           c.surface.Crop(),
	}
	if sel, ok := c.selections.ActiveSelection(); ok {
		st.ActiveSelection = sel.ID
	}
	if o := c.surface.ActiveObject(); o != nil {
		st.ActiveObject = o.ID
	}
	return st
}
