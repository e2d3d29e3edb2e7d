package editor

import "github.com/hazyhaar/texstudio/surface"

// PointerType is the phase of a pointer event.
type PointerType string

const (
	PointerDown PointerType = "down"
	PointerMove PointerType = "move"
	PointerUp   PointerType = "up"
)

// PointerEvent is a pointer position in surface coordinates.
type PointerEvent struct {
	Type PointerType `json:"type"`
	X    float64     `json:"x"`
	Y    float64     `json:"y"`
}

func (e PointerEvent) point() surface.Point { return surface.Point{X: e.X, Y: e.Y} }

// polygonTool collects clicked vertices. Nothing reaches the surface until
// Complete.
type polygonTool struct {
	points []surface.Point
}

func (t *polygonTool) handle(ev PointerEvent) {
	if ev.Type == PointerDown {
		t.points = append(t.points, ev.point())
	}
}

func (t *polygonTool) ready() bool { return len(t.points) >= 3 }

func (t *polygonTool) reset() { t.points = nil }

type pendingStroke struct {
	points []surface.Point
	width  float64
}

// brushTool records freehand strokes as down/move/up sequences.
type brushTool struct {
	strokes []pendingStroke
	current *pendingStroke
}

func (t *brushTool) handle(ev PointerEvent, width float64) {
	switch ev.Type {
	case PointerDown:
		t.current = &pendingStroke{points: []surface.Point{ev.point()}, width: width}
	case PointerMove:
		if t.current != nil {
			t.current.points = append(t.current.points, ev.point())
		}
	case PointerUp:
		if t.current == nil {
			return
		}
		t.current.points = append(t.current.points, ev.point())
		t.strokes = append(t.strokes, *t.current)
		t.current = nil
	}
}

func (t *brushTool) reset() {
	t.strokes = nil
	t.current = nil
}
