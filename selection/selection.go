// Package selection tracks the user's selection regions (closed polygons
// and freehand brush strokes drawn on the surface) and clips textures to
// them.
package selection

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/hazyhaar/texstudio/surface"
)

// Kind is the selection type.
type Kind string

const (
	KindPolygon Kind = "polygon"
	KindBrush   Kind = "brush"
)

// Default styling.
const (
	DefaultColor       = "#FFA500"
	DefaultOpacity     = 0.3
	OutlineStrokeWidth = 2
)

// Surface is the subset of *surface.Surface the manager needs.
type Surface interface {
	Add(o *surface.Object)
	Remove(id string) bool
	Modify(id string, fn func(*surface.Object)) bool
	Object(id string) *surface.Object
}

// Selection is a registered region. ShapeIDs reference the surface objects
// drawing it; the first one is the representative shape.
type Selection struct {
	ID       string          `json:"id"`
	Kind     Kind            `json:"kind"`
	ShapeIDs []string        `json:"shape_ids"`
	Color    string          `json:"color"`
	Opacity  float64         `json:"opacity"`
	Points   []surface.Point `json:"points,omitempty"`

	seq int
}

func (s Selection) clone() Selection {
	s.ShapeIDs = append([]string(nil), s.ShapeIDs...)
	s.Points = append([]surface.Point(nil), s.Points...)
	return s
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger for masking failures.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// Manager owns the selections. Not safe for concurrent use.
type Manager struct {
	byID    map[string]*Selection
	order   []string
	active  string
	counter int
	logger  *slog.Logger

	// dormant holds selections whose shapes left the surface through a
	// history restore or a removal; Revive brings them back.
	dormant   []*Selection
	wasActive string
}

// New creates an empty manager.
func New(opts ...Option) *Manager {
	m := &Manager{
		byID:   make(map[string]*Selection),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) nextID(k Kind) string {
	id := string(k) + "-" + strconv.Itoa(m.counter)
	m.counter++
	return id
}

func (m *Manager) register(sel *Selection) {
	sel.seq = m.counter
	m.byID[sel.ID] = sel
	m.order = append(m.order, sel.ID)
	m.active = sel.ID
}

// AddPolygonSelection draws a closed polygon through points and registers
// it as the active selection. Fewer than three points is a no-op.
func (m *Manager) AddPolygonSelection(s Surface, points []surface.Point, color string, opacity float64) (string, bool) {
	if len(points) < 3 {
		return "", false
	}
	rgb, err := surface.ParseColor(color)
	if err != nil {
		m.logger.Warn("selection: bad colour, using default", "color", color, "error", err)
		color = DefaultColor
		rgb, _ = surface.ParseColor(color)
	}

	shape := surface.NewPolygon(points, surface.FormatRGBA(rgb, opacity), color, OutlineStrokeWidth)
	shape.Role = surface.RoleSelection
	id := m.nextID(KindPolygon)
	s.Add(shape)

	m.register(&Selection{
		ID:       id,
		Kind:     KindPolygon,
		ShapeIDs: []string{shape.ID},
		Color:    color,
		Opacity:  opacity,
		Points:   append([]surface.Point(nil), points...),
	})
	return id, true
}

// AddBrushSelection restyles the given strokes as a selection outline and
// registers them together as the active selection. Stroke widths are kept:
// they define the masked region. Strokes not on the surface are skipped;
// with none left it is a no-op.
func (m *Manager) AddBrushSelection(s Surface, strokeIDs []string, color string, opacity float64) (string, bool) {
	if _, err := surface.ParseColor(color); err != nil {
		m.logger.Warn("selection: bad colour, using default", "color", color, "error", err)
		color = DefaultColor
	}
	var shapes []string
	for _, sid := range strokeIDs {
		ok := s.Modify(sid, func(o *surface.Object) {
			o.Stroke = color
			o.Fill = "transparent"
			o.Role = surface.RoleSelection
			o.Selectable = false
			o.Evented = false
		})
		if ok {
			shapes = append(shapes, sid)
		}
	}
	if len(shapes) == 0 {
		return "", false
	}

	id := m.nextID(KindBrush)
	m.register(&Selection{
		ID:       id,
		Kind:     KindBrush,
		ShapeIDs: shapes,
		Color:    color,
		Opacity:  opacity,
	})
	return id, true
}

// ActiveSelection returns the active selection.
func (m *Manager) ActiveSelection() (Selection, bool) {
	if m.active == "" {
		return Selection{}, false
	}
	return m.Selection(m.active)
}

// Selection returns the selection with the given id.
func (m *Manager) Selection(id string) (Selection, bool) {
	sel, ok := m.byID[id]
	if !ok {
		return Selection{}, false
	}
	return sel.clone(), true
}

// Selections returns all selections in creation order.
func (m *Manager) Selections() []Selection {
	out := make([]Selection, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.byID[id].clone())
	}
	return out
}

// Len returns the number of selections.
func (m *Manager) Len() int { return len(m.order) }

// SetActiveSelection marks id active. Unknown ids are ignored.
func (m *Manager) SetActiveSelection(id string) {
	if _, ok := m.byID[id]; ok {
		m.active = id
	}
}

// RemoveSelection detaches the selection's shapes and forgets it.
func (m *Manager) RemoveSelection(id string, s Surface) {
	sel, ok := m.byID[id]
	if !ok {
		return
	}
	for _, sid := range sel.ShapeIDs {
		s.Remove(sid)
	}
	m.sleep(id)
}

// sleep moves id to the dormant set.
func (m *Manager) sleep(id string) {
	if m.active == id {
		m.wasActive = id
	}
	m.dormant = append(m.dormant, m.byID[id])
	m.forget(id)
}

func (m *Manager) forget(id string) {
	delete(m.byID, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	if m.active == id {
		m.active = ""
	}
}

// ClearAll removes every selection and its shapes.
func (m *Manager) ClearAll(s Surface) {
	for _, id := range m.order {
		for _, sid := range m.byID[id].ShapeIDs {
			s.Remove(sid)
		}
	}
	m.Reset()
}

// Reset forgets every selection without touching the surface.
func (m *Manager) Reset() {
	m.byID = make(map[string]*Selection)
	m.order = nil
	m.active = ""
	m.dormant = nil
	m.wasActive = ""
}

// Prune puts to sleep the selections that no longer have every shape on the
// surface, e.g. after the surface was reloaded from an older snapshot. It
// returns the ids dropped.
func (m *Manager) Prune(s Surface) []string {
	var dropped []string
	for _, id := range append([]string(nil), m.order...) {
		if !hasShapes(s, m.byID[id]) {
			dropped = append(dropped, id)
			m.sleep(id)
		}
	}
	return dropped
}

// Revive re-registers dormant selections whose shapes are all back on the
// surface, in their original creation order. A revived selection that was
// active when it went dormant becomes active again, as does any revived
// selection when none is active. It returns the ids revived.
func (m *Manager) Revive(s Surface) []string {
	var revived []string
	keep := m.dormant[:0]
	for _, sel := range m.dormant {
		if !hasShapes(s, sel) {
			keep = append(keep, sel)
			continue
		}
		m.byID[sel.ID] = sel
		m.insert(sel)
		revived = append(revived, sel.ID)
	}
	clear(m.dormant[len(keep):])
	m.dormant = keep

	for _, id := range revived {
		if id == m.wasActive {
			m.active = id
			m.wasActive = ""
		}
	}
	if m.active == "" && len(revived) > 0 {
		m.active = revived[len(revived)-1]
	}
	return revived
}

func (m *Manager) insert(sel *Selection) {
	i := len(m.order)
	for i > 0 && m.byID[m.order[i-1]].seq > sel.seq {
		i--
	}
	m.order = append(m.order, "")
	copy(m.order[i+1:], m.order[i:])
	m.order[i] = sel.ID
}

func hasShapes(s Surface, sel *Selection) bool {
	for _, sid := range sel.ShapeIDs {
		if s.Object(sid) == nil {
			return false
		}
	}
	return true
}

// ApplySelectionMask clips target to the selection's region. Polygon
// selections clip to a copy of the outline's current geometry; brush
// selections clip to the union of their strokes at their widths.
func (m *Manager) ApplySelectionMask(s Surface, target *surface.Object, id string) bool {
	if target == nil {
		return false
	}
	sel, ok := m.byID[id]
	if !ok {
		return false
	}
	clip, err := m.clipFor(s, sel)
	if err != nil {
		m.logger.Warn("selection: mask not applied", "selection", id, "error", err)
		return false
	}
	target.Clip = clip
	return true
}

func (m *Manager) clipFor(s Surface, sel *Selection) (*surface.Clip, error) {
	clip := &surface.Clip{}
	for _, sid := range sel.ShapeIDs {
		o := s.Object(sid)
		if o == nil {
			return nil, fmt.Errorf("shape %s not on surface", sid)
		}
		pts := o.AbsolutePoints()
		switch sel.Kind {
		case KindPolygon:
			clip.Polygons = append(clip.Polygons, pts)
		case KindBrush:
			width := o.StrokeWidth * (o.ScaleX + o.ScaleY) / 2
			clip.Strokes = append(clip.Strokes, surface.Stroke{Points: pts, Width: width})
		}
	}
	if clip.Empty() {
		return nil, fmt.Errorf("selection %s has no geometry", sel.ID)
	}
	return clip, nil
}

// RemoveSelectionMask clears target's clip.
func (m *Manager) RemoveSelectionMask(target *surface.Object) {
	if target != nil {
		target.Clip = nil
	}
}
