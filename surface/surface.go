// Package surface is the in-process editing surface: an ordered graph of
// image, polygon and path objects with change events, JSON snapshots, and
// rasterisation to images.
//
// Coordinates are surface pixels. Objects are positioned by the top-left
// corner of their unrotated, scaled box and rotate about its centre.
// Surfaces are not safe for concurrent use.
package surface

import (
	"image"
	"strconv"
	"strings"
)

// Defaults for a new surface.
const (
	DefaultWidth      = 1000
	DefaultHeight     = 700
	DefaultBackground = "#f5f5f5"
)

// Kind is the object type.
type Kind string

const (
	KindImage   Kind = "image"
	KindPolygon Kind = "polygon"
	KindPath    Kind = "path"
)

// Role tags what an object is for. The surface itself ignores it.
type Role string

const (
	RoleBackground Role = "background"
	RoleTexture    Role = "texture"
	RoleSelection  Role = "selection"
	RoleStroke     Role = "stroke"
)

// Point is a 2D point.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is an axis-aligned rectangle.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Empty reports whether r has no area.
func (r Rect) Empty() bool { return r.Width <= 0 || r.Height <= 0 }

// Stroke is a polyline drawn with a round pen of the given width.
type Stroke struct {
	Points []Point `json:"points"`
	Width  float64 `json:"width"`
}

// Clip is clip geometry in absolute surface coordinates. The visible region
// is the union of all polygons and all stroked polylines.
type Clip struct {
	Polygons [][]Point `json:"polygons,omitempty"`
	Strokes  []Stroke  `json:"strokes,omitempty"`
}

// Empty reports whether c clips everything away.
func (c *Clip) Empty() bool {
	return c == nil || (len(c.Polygons) == 0 && len(c.Strokes) == 0)
}

// Clone returns a deep copy of c.
func (c *Clip) Clone() *Clip {
	if c == nil {
		return nil
	}
	out := &Clip{}
	for _, p := range c.Polygons {
		out.Polygons = append(out.Polygons, append([]Point(nil), p...))
	}
	for _, s := range c.Strokes {
		out.Strokes = append(out.Strokes, Stroke{Points: append([]Point(nil), s.Points...), Width: s.Width})
	}
	return out
}

// Object is one element of the surface graph.
//
// Points of polygons and paths are local: relative to the top-left of the
// object's unscaled box (0..Width, 0..Height).
type Object struct {
	ID          string  `json:"id"`
	Kind        Kind    `json:"type"`
	Role        Role    `json:"role,omitempty"`
	Left        float64 `json:"left"`
	Top         float64 `json:"top"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
	ScaleX      float64 `json:"scaleX"`
	ScaleY      float64 `json:"scaleY"`
	Angle       float64 `json:"angle"`
	Opacity     float64 `json:"opacity"`
	Fill        string  `json:"fill,omitempty"`
	Stroke      string  `json:"stroke,omitempty"`
	StrokeWidth float64 `json:"strokeWidth,omitempty"`
	Selectable  bool    `json:"selectable"`
	Evented     bool    `json:"evented"`
	Points      []Point `json:"points,omitempty"`
	Src         string  `json:"src,omitempty"`
	Clip        *Clip   `json:"clipPath,omitempty"`

	img image.Image
}

// Clone returns a deep copy of o, sharing only the decoded image.
func (o *Object) Clone() *Object {
	c := *o
	c.Points = append([]Point(nil), o.Points...)
	c.Clip = o.Clip.Clone()
	return &c
}

// EventType names a surface change.
type EventType string

const (
	ObjectAdded     EventType = "object:added"
	ObjectModified  EventType = "object:modified"
	ObjectRemoved   EventType = "object:removed"
	SurfaceModified EventType = "surface:modified"
	SurfaceCleared  EventType = "surface:cleared"
)

// Structural reports whether the event changes the persisted graph.
func (t EventType) Structural() bool {
	switch t {
	case ObjectAdded, ObjectModified, ObjectRemoved, SurfaceModified:
		return true
	}
	return false
}

// Event is delivered synchronously to subscribers after the change.
type Event struct {
	Type   EventType
	Object *Object
}

// Option configures a Surface.
type Option func(*Surface)

// WithSize sets the surface dimensions.
func WithSize(w, h int) Option {
	return func(s *Surface) { s.width, s.height = w, h }
}

// WithBackground sets the background colour.
func WithBackground(c string) Option {
	return func(s *Surface) { s.background = c }
}

// Surface holds the object graph.
type Surface struct {
	width, height int
	background    string
	crop          *Rect
	objects       []*Object
	active        string
	nextID        int
	assets        map[string]image.Image
	nextAsset     int
	subs          map[int]func(Event)
	nextSub       int
}

// New creates an empty surface.
func New(opts ...Option) *Surface {
	s := &Surface{
		width:      DefaultWidth,
		height:     DefaultHeight,
		background: DefaultBackground,
		assets:     make(map[string]image.Image),
		subs:       make(map[int]func(Event)),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Surface) Width() int         { return s.width }
func (s *Surface) Height() int        { return s.height }
func (s *Surface) Background() string { return s.background }
func (s *Surface) Len() int           { return len(s.objects) }

// Subscribe registers fn for every event and returns its cancel function.
func (s *Surface) Subscribe(fn func(Event)) (cancel func()) {
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() { delete(s.subs, id) }
}

func (s *Surface) emit(t EventType, o *Object) {
	ev := Event{Type: t, Object: o}
	for i := 0; i < s.nextSub; i++ {
		if fn, ok := s.subs[i]; ok {
			fn(ev)
		}
	}
}

// Add appends o on top of the stack, assigning an ID when empty.
func (s *Surface) Add(o *Object) {
	if o.ID == "" {
		s.nextID++
		o.ID = "obj-" + strconv.Itoa(s.nextID)
	}
	s.objects = append(s.objects, o)
	s.emit(ObjectAdded, o)
}

// Remove detaches the object with the given id.
func (s *Surface) Remove(id string) bool {
	for i, o := range s.objects {
		if o.ID == id {
			s.objects = append(s.objects[:i], s.objects[i+1:]...)
			if s.active == id {
				s.active = ""
			}
			s.emit(ObjectRemoved, o)
			return true
		}
	}
	return false
}

// Modify applies fn to the object and emits ObjectModified.
func (s *Surface) Modify(id string, fn func(*Object)) bool {
	o := s.Object(id)
	if o == nil {
		return false
	}
	fn(o)
	s.emit(ObjectModified, o)
	return true
}

// Object returns the attached object with the given id, or nil.
func (s *Surface) Object(id string) *Object {
	for _, o := range s.objects {
		if o.ID == id {
			return o
		}
	}
	return nil
}

// Contains reports whether an object with the given id is attached.
func (s *Surface) Contains(id string) bool { return s.Object(id) != nil }

// Objects returns the objects bottom to top.
func (s *Surface) Objects() []*Object {
	return append([]*Object(nil), s.objects...)
}

// ActiveObject returns the active object, or nil.
func (s *Surface) ActiveObject() *Object {
	if s.active == "" {
		return nil
	}
	return s.Object(s.active)
}

// SetActiveObject marks id active. Unknown ids clear the active object.
func (s *Surface) SetActiveObject(id string) {
	if s.Contains(id) {
		s.active = id
		return
	}
	s.active = ""
}

// DiscardActiveObject clears the active object.
func (s *Surface) DiscardActiveObject() { s.active = "" }

// Crop returns the crop rectangle, or nil when the full surface is visible.
func (s *Surface) Crop() *Rect {
	if s.crop == nil {
		return nil
	}
	c := *s.crop
	return &c
}

// SetCrop restricts rendering to r, clamped to the surface. A nil or empty
// rectangle removes the crop.
func (s *Surface) SetCrop(r *Rect) {
	if r == nil || r.Empty() {
		s.crop = nil
	} else {
		c := clampRect(*r, float64(s.width), float64(s.height))
		if c.Empty() {
			s.crop = nil
		} else {
			s.crop = &c
		}
	}
	s.emit(SurfaceModified, nil)
}

// Clear removes every object and the crop. Registered assets are kept.
func (s *Surface) Clear() {
	s.objects = nil
	s.active = ""
	s.crop = nil
	s.emit(SurfaceCleared, nil)
}

// Reset is Clear plus dropping every registered image asset.
func (s *Surface) Reset() {
	s.Clear()
	s.assets = make(map[string]image.Image)
}

// Center moves o so its scaled box is centred on the surface.
func (s *Surface) Center(o *Object) {
	o.Left = (float64(s.width) - o.Width*o.ScaleX) / 2
	o.Top = (float64(s.height) - o.Height*o.ScaleY) / 2
}

// ObjectAt returns the topmost selectable, evented object under p.
func (s *Surface) ObjectAt(p Point) *Object {
	for i := len(s.objects) - 1; i >= 0; i-- {
		o := s.objects[i]
		if o.Selectable && o.Evented && o.Contains(p) {
			return o
		}
	}
	return nil
}

// AddAsset registers a decoded image and returns its reference, usable as an
// image object's Src.
func (s *Surface) AddAsset(img image.Image) string {
	s.nextAsset++
	ref := assetPrefix + strconv.Itoa(s.nextAsset)
	s.assets[ref] = img
	return ref
}

// NewImage registers img and returns an unattached image object at the
// origin with scale 1.
func (s *Surface) NewImage(img image.Image, role Role) *Object {
	b := img.Bounds()
	return &Object{
		Kind:       KindImage,
		Role:       role,
		Width:      float64(b.Dx()),
		Height:     float64(b.Dy()),
		ScaleX:     1,
		ScaleY:     1,
		Opacity:    1,
		Selectable: true,
		Evented:    true,
		Src:        s.AddAsset(img),
		img:        img,
	}
}

const assetPrefix = "asset:"

func isAssetRef(src string) bool { return strings.HasPrefix(src, assetPrefix) }

func clampRect(r Rect, w, h float64) Rect {
	x0, y0 := max(r.Left, 0), max(r.Top, 0)
	x1, y1 := min(r.Left+r.Width, w), min(r.Top+r.Height, h)
	return Rect{Left: x0, Top: y0, Width: x1 - x0, Height: y1 - y0}
}
