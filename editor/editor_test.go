package editor

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/texstudio/catalog"
	"github.com/hazyhaar/texstudio/imgsrc"
	"github.com/hazyhaar/texstudio/selection"
	"github.com/hazyhaar/texstudio/surface"
)

var fixedNow = time.UnixMilli(1700000000000)

func newTestEditor(t *testing.T, cfg *Config) *Controller {
	t.Helper()
	cat, err := catalog.New(&catalog.Config{}, nil)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	t.Cleanup(func() { cat.Close() })
	if cfg == nil {
		cfg = &Config{}
	}
	return New(cfg, cat, nil, WithClock(func() time.Time { return fixedNow }))
}

func testImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y += 7 {
		for x := 0; x < w; x += 7 {
			img.Set(x, y, color.RGBA{R: 40, G: 90, B: 160, A: 255})
		}
	}
	return img
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func drawSquare(t *testing.T, ed *Controller) string {
	t.Helper()
	if err := ed.TogglePolygon(); err != nil {
		t.Fatalf("toggle polygon: %v", err)
	}
	for _, p := range [][2]float64{{100, 100}, {400, 100}, {400, 400}, {100, 400}} {
		ed.Pointer(PointerEvent{Type: PointerDown, X: p[0], Y: p[1]})
	}
	id, ok := ed.Complete("")
	if !ok {
		t.Fatal("polygon complete failed")
	}
	return id
}

func TestFitScale(t *testing.T) {
	tests := []struct {
		w, h int
		want float64
	}{
		{2000, 1500, 700.0 / 1500},
		{3000, 1000, 1000.0 / 3000},
		{500, 300, 1},
		{1000, 700, 1},
	}
	for _, tt := range tests {
		if got := FitScale(tt.w, tt.h, 1000, 700); !near(got, tt.want) {
			t.Errorf("FitScale(%d, %d) = %v, want %v", tt.w, tt.h, got, tt.want)
		}
	}
}

func TestNext(t *testing.T) {
	tests := []struct {
		from Mode
		a    Action
		want Mode
	}{
		{ModeView, ActionTogglePolygon, ModePolygon},
		{ModeView, ActionToggleBrush, ModeBrush},
		{ModePolygon, ActionTogglePolygon, ModeView},
		{ModePolygon, ActionToggleBrush, ModeBrush},
		{ModeBrush, ActionToggleBrush, ModeView},
		{ModeBrush, ActionTogglePolygon, ModePolygon},
		{ModePolygon, ActionComplete, ModeView},
		{ModeBrush, ActionCancel, ModeView},
		{ModeView, ActionCancel, ModeView},
		{ModeView, Action("bogus"), ModeView},
	}
	for _, tt := range tests {
		if got := Next(tt.from, tt.a); got != tt.want {
			t.Errorf("Next(%s, %s) = %s, want %s", tt.from, tt.a, got, tt.want)
		}
	}
}

func TestLoadImage_FitsAndCenters(t *testing.T) {
	ed := newTestEditor(t, nil)
	if err := ed.LoadImage(testImage(2000, 1500)); err != nil {
		t.Fatal(err)
	}

	objs := ed.Surface().Objects()
	if len(objs) != 1 {
		t.Fatalf("objects = %d, want 1", len(objs))
	}
	o := objs[0]
	scale := 700.0 / 1500
	if !near(o.ScaleX, scale) || !near(o.ScaleY, scale) {
		t.Errorf("scale = %v,%v, want %v", o.ScaleX, o.ScaleY, scale)
	}
	if !near(o.Left, (1000-2000*scale)/2) || !near(o.Top, 0) {
		t.Errorf("position = %v,%v", o.Left, o.Top)
	}

	st := ed.State()
	if !st.HasImage || st.HistoryDepth != 1 || st.CanUndo || st.ActiveObject != o.ID {
		t.Errorf("state = %+v", st)
	}
}

func TestUpload_Unsupported(t *testing.T) {
	ed := newTestEditor(t, nil)
	err := ed.Upload(strings.NewReader("definitely not an image"))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
	}
	if ed.HasImage() {
		t.Error("image loaded after failed upload")
	}
}

func TestUpload_ReplacesEverything(t *testing.T) {
	ed := newTestEditor(t, nil)
	ed.LoadImage(testImage(800, 600))
	drawSquare(t, ed)

	var buf bytes.Buffer
	png.Encode(&buf, testImage(300, 200))
	if err := ed.Upload(&buf); err != nil {
		t.Fatal(err)
	}
	st := ed.State()
	if st.Objects != 1 || st.HasSelection || st.HistoryDepth != 1 {
		t.Errorf("state after upload = %+v", st)
	}
}

func TestToggleRequiresImage(t *testing.T) {
	ed := newTestEditor(t, nil)
	if err := ed.TogglePolygon(); !errors.Is(err, ErrNoImage) {
		t.Errorf("TogglePolygon err = %v", err)
	}
	if err := ed.ToggleBrush(); !errors.Is(err, ErrNoImage) {
		t.Errorf("ToggleBrush err = %v", err)
	}
	if ed.Mode() != ModeView {
		t.Errorf("mode = %s", ed.Mode())
	}
}

func TestPolygonComplete(t *testing.T) {
	ed := newTestEditor(t, nil)
	ed.LoadImage(testImage(800, 600))

	id := drawSquare(t, ed)
	if id != "polygon-0" {
		t.Errorf("id = %q", id)
	}
	st := ed.State()
	if st.Mode != ModeView || st.ActiveSelection != id || st.HistoryDepth != 2 || st.PolygonPoints != 0 {
		t.Errorf("state = %+v", st)
	}
	sel, _ := ed.ActiveSelection()
	if sel.Opacity != 0.2 || sel.Color != "#FFA500" || len(sel.Points) != 4 {
		t.Errorf("selection = %+v", sel)
	}
}

func TestPolygonComplete_TooFewPoints(t *testing.T) {
	ed := newTestEditor(t, nil)
	ed.LoadImage(testImage(800, 600))
	ed.TogglePolygon()
	ed.Pointer(PointerEvent{Type: PointerDown, X: 1, Y: 1})
	ed.Pointer(PointerEvent{Type: PointerDown, X: 50, Y: 1})

	if _, ok := ed.Complete(""); ok {
		t.Fatal("complete with 2 points succeeded")
	}
	st := ed.State()
	if st.Mode != ModePolygon || st.PolygonPoints != 2 || st.HistoryDepth != 1 {
		t.Errorf("state = %+v", st)
	}

	ed.ClearTool()
	if st := ed.State(); st.Mode != ModePolygon || st.PolygonPoints != 0 {
		t.Errorf("after ClearTool = %+v", st)
	}
}

func TestCancelLeavesHistoryUntouched(t *testing.T) {
	ed := newTestEditor(t, nil)
	ed.LoadImage(testImage(800, 600))
	ed.ToggleBrush()
	ed.Pointer(PointerEvent{Type: PointerDown, X: 10, Y: 10})
	ed.Pointer(PointerEvent{Type: PointerMove, X: 60, Y: 10})
	ed.Pointer(PointerEvent{Type: PointerUp, X: 90, Y: 20})

	if st := ed.State(); st.PendingStrokes != 1 {
		t.Fatalf("pending = %d", st.PendingStrokes)
	}
	ed.Cancel()

	st := ed.State()
	if st.Mode != ModeView || st.PendingStrokes != 0 || st.HistoryDepth != 1 || st.Objects != 1 {
		t.Errorf("state after cancel = %+v", st)
	}
}

func TestToggleOtherModeDiscards(t *testing.T) {
	ed := newTestEditor(t, nil)
	ed.LoadImage(testImage(800, 600))
	ed.TogglePolygon()
	ed.Pointer(PointerEvent{Type: PointerDown, X: 1, Y: 1})
	ed.ToggleBrush()

	st := ed.State()
	if st.Mode != ModeBrush || st.PolygonPoints != 0 {
		t.Errorf("state = %+v", st)
	}
	ed.ToggleBrush()
	if ed.Mode() != ModeView {
		t.Errorf("mode = %s", ed.Mode())
	}
}

func TestBrushComplete_OneHistoryStep(t *testing.T) {
	ed := newTestEditor(t, nil)
	ed.LoadImage(testImage(800, 600))
	ed.ToggleBrush()
	ed.SetBrushWidth(12)
	for _, y := range []float64{100, 200} {
		ed.Pointer(PointerEvent{Type: PointerDown, X: 100, Y: y})
		ed.Pointer(PointerEvent{Type: PointerMove, X: 200, Y: y})
		ed.Pointer(PointerEvent{Type: PointerUp, X: 300, Y: y})
	}

	id, ok := ed.Complete("#00ff00")
	if !ok || id != "brush-0" {
		t.Fatalf("complete = %q, %v", id, ok)
	}
	st := ed.State()
	if st.HistoryDepth != 2 || st.Objects != 3 || st.Mode != ModeView {
		t.Errorf("state = %+v", st)
	}
	sel, _ := ed.ActiveSelection()
	if len(sel.ShapeIDs) != 2 {
		t.Fatalf("shapes = %v", sel.ShapeIDs)
	}
	for _, sid := range sel.ShapeIDs {
		o := ed.Surface().Object(sid)
		if o.StrokeWidth != 12 || o.Stroke != "#00ff00" || o.Selectable {
			t.Errorf("stroke %s = %+v", sid, o)
		}
	}
}

func TestBrushComplete_BadColourFallsBack(t *testing.T) {
	ed := newTestEditor(t, nil)
	ed.LoadImage(testImage(800, 600))
	ed.ToggleBrush()
	ed.Pointer(PointerEvent{Type: PointerDown, X: 100, Y: 100})
	ed.Pointer(PointerEvent{Type: PointerUp, X: 300, Y: 300})

	if _, ok := ed.Complete("not-a-colour"); !ok {
		t.Fatal("complete failed")
	}
	sel, _ := ed.ActiveSelection()
	if sel.Color != selection.DefaultColor {
		t.Errorf("selection colour = %q", sel.Color)
	}
	if o := ed.Surface().Object(sel.ShapeIDs[0]); o.Stroke != selection.DefaultColor {
		t.Errorf("stroke = %q", o.Stroke)
	}
	if _, err := ed.Export(imgsrc.FormatPNG); err != nil {
		t.Fatalf("export: %v", err)
	}
}

func TestComplete_NamedColour(t *testing.T) {
	ed := newTestEditor(t, nil)
	ed.LoadImage(testImage(800, 600))
	ed.ToggleBrush()
	ed.Pointer(PointerEvent{Type: PointerDown, X: 100, Y: 100})
	ed.Pointer(PointerEvent{Type: PointerUp, X: 300, Y: 300})

	if _, ok := ed.Complete("red"); !ok {
		t.Fatal("complete failed")
	}
	sel, _ := ed.ActiveSelection()
	if sel.Color != "red" {
		t.Errorf("selection colour = %q", sel.Color)
	}
	if _, err := ed.Export(imgsrc.FormatPNG); err != nil {
		t.Fatalf("export: %v", err)
	}
}

func TestBrushComplete_NoStrokes(t *testing.T) {
	ed := newTestEditor(t, nil)
	ed.LoadImage(testImage(800, 600))
	ed.ToggleBrush()
	if _, ok := ed.Complete(""); ok {
		t.Error("complete without strokes succeeded")
	}
	if st := ed.State(); st.Mode != ModeView || st.HistoryDepth != 1 {
		t.Errorf("state = %+v", st)
	}
}

func TestSetBrushWidth_Clamped(t *testing.T) {
	ed := newTestEditor(t, nil)
	if ed.BrushWidth() != DefaultBrushWidth {
		t.Errorf("default width = %v", ed.BrushWidth())
	}
	ed.SetBrushWidth(0)
	if ed.BrushWidth() != MinBrushWidth {
		t.Errorf("width = %v", ed.BrushWidth())
	}
	ed.SetBrushWidth(99)
	if ed.BrushWidth() != MaxBrushWidth {
		t.Errorf("width = %v", ed.BrushWidth())
	}
}

func TestPointer_ViewModeActivates(t *testing.T) {
	ed := newTestEditor(t, nil)
	ed.LoadImage(testImage(2000, 1500))
	img := ed.State().ActiveObject

	ed.Pointer(PointerEvent{Type: PointerDown, X: 5, Y: 5})
	if st := ed.State(); st.ActiveObject != "" {
		t.Errorf("active after miss = %q", st.ActiveObject)
	}
	ed.Pointer(PointerEvent{Type: PointerDown, X: 500, Y: 350})
	if st := ed.State(); st.ActiveObject != img {
		t.Errorf("active after hit = %q, want %q", st.ActiveObject, img)
	}
}

func TestApplyTexture_MaskedToActiveSelection(t *testing.T) {
	ed := newTestEditor(t, nil)
	ed.LoadImage(testImage(800, 600))
	drawSquare(t, ed)

	res, err := ed.ApplyTexture(context.Background(), "texture-1")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Masked {
		t.Error("texture not masked")
	}

	o := ed.Surface().Object(res.ObjectID)
	if o == nil || o.Role != surface.RoleTexture {
		t.Fatalf("texture object = %+v", o)
	}
	if !near(o.Width*o.ScaleX, 200) {
		t.Errorf("on-surface width = %v", o.Width*o.ScaleX)
	}
	if c := o.Center(); !near(c.X, 500) || !near(c.Y, 350) {
		t.Errorf("center = %+v", c)
	}
	if o.Clip == nil || len(o.Clip.Polygons) != 1 || len(o.Clip.Polygons[0]) != 4 {
		t.Fatalf("clip = %+v", o.Clip)
	}
	if p := o.Clip.Polygons[0][2]; !near(p.X, 400) || !near(p.Y, 400) {
		t.Errorf("clip vertex = %+v", p)
	}
	st := ed.State()
	if st.HistoryDepth != 3 || st.ActiveObject != res.ObjectID {
		t.Errorf("state = %+v", st)
	}
}

func TestApplyTexture_NoSelection(t *testing.T) {
	ed := newTestEditor(t, nil)
	ed.LoadImage(testImage(800, 600))
	res, err := ed.ApplyTexture(context.Background(), "texture-2")
	if err != nil {
		t.Fatal(err)
	}
	if res.Masked || ed.Surface().Object(res.ObjectID).Clip != nil {
		t.Error("texture clipped without a selection")
	}
}

func TestApplyTexture_NotFound(t *testing.T) {
	ed := newTestEditor(t, nil)
	_, err := ed.ApplyTexture(context.Background(), "texture-404")
	if !errors.Is(err, ErrTextureNotFound) {
		t.Fatalf("err = %v", err)
	}
	if ed.HistoryLen() != 0 {
		t.Error("history changed")
	}
}

type badSource struct{}

func (badSource) Get(ctx context.Context, id string) (*catalog.Texture, error) {
	return &catalog.Texture{ID: id, URL: imgsrc.BytesDataURL("image/png", []byte("garbage"))}, nil
}

func TestApplyTexture_Undecodable(t *testing.T) {
	ed := New(&Config{}, badSource{}, nil)
	_, err := ed.ApplyTexture(context.Background(), "x")
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("err = %v", err)
	}
}

func TestTransform(t *testing.T) {
	ed := newTestEditor(t, nil)
	if ed.SetScale(2) {
		t.Error("transform without active object succeeded")
	}
	ed.LoadImage(testImage(400, 200))

	if !ed.SetScale(0.5) {
		t.Fatal("SetScale failed")
	}
	if !ed.RotateBy(-15) {
		t.Fatal("RotateBy failed")
	}
	o := ed.Surface().ActiveObject()
	if !near(o.ScaleX, 0.5) || !near(o.Angle, 345) {
		t.Errorf("object = %+v", o)
	}
	if c := o.Center(); !near(c.X, 500) || !near(c.Y, 350) {
		t.Errorf("center moved to %+v", c)
	}
	if ed.HistoryLen() != 3 {
		t.Errorf("history = %d, want 3", ed.HistoryLen())
	}

	ed.SetAngle(90)
	ed.RotateBy(90)
	if o := ed.Surface().ActiveObject(); !near(o.Angle, 180) {
		t.Errorf("angle = %v", o.Angle)
	}
}

func TestTransform_NonPositiveScaleIgnored(t *testing.T) {
	ed := newTestEditor(t, nil)
	ed.LoadImage(testImage(400, 200))
	before := ed.HistoryLen()

	for _, s := range []float64{0, -2} {
		if ed.SetScale(s) {
			t.Errorf("SetScale(%v) reported a change", s)
		}
	}
	if ed.HistoryLen() != before {
		t.Errorf("history = %d, want %d", ed.HistoryLen(), before)
	}

	zero, angle := 0.0, 30.0
	if !ed.Transform(Transform{Scale: &zero, Angle: &angle}) {
		t.Fatal("angle with a zero scale was dropped")
	}
	o := ed.Surface().ActiveObject()
	if !near(o.Angle, 30) || !near(o.ScaleX, 1) {
		t.Errorf("object = %+v", o)
	}
	if ed.HistoryLen() != before+1 {
		t.Errorf("history = %d, want %d", ed.HistoryLen(), before+1)
	}
}

func TestCrop_Undoable(t *testing.T) {
	ed := newTestEditor(t, nil)
	if err := ed.Crop(&surface.Rect{Width: 10, Height: 10}); !errors.Is(err, ErrNoImage) {
		t.Errorf("crop without image err = %v", err)
	}
	ed.LoadImage(testImage(400, 200))
	if err := ed.Crop(&surface.Rect{Left: 100, Top: 100, Width: 300, Height: 200}); err != nil {
		t.Fatal(err)
	}
	if st := ed.State(); st.Crop == nil || st.Crop.Width != 300 || st.HistoryDepth != 2 {
		t.Errorf("state = %+v", st)
	}
	ed.Undo()
	if ed.State().Crop != nil {
		t.Error("crop survived undo")
	}
}

func TestUndoRedo_PrunesSelections(t *testing.T) {
	ed := newTestEditor(t, nil)
	ed.LoadImage(testImage(800, 600))
	drawSquare(t, ed)

	if !ed.Undo() {
		t.Fatal("undo failed")
	}
	st := ed.State()
	if st.HasSelection || st.Objects != 1 || !st.CanRedo || st.CanUndo {
		t.Errorf("after undo = %+v", st)
	}
	if ed.Undo() {
		t.Error("undo past the first snapshot succeeded")
	}

	if !ed.Redo() {
		t.Fatal("redo failed")
	}
	if st := ed.State(); st.Objects != 2 || st.CanRedo || !st.HasSelection || st.ActiveSelection != "polygon-0" {
		t.Errorf("after redo = %+v", st)
	}
	if ed.Redo() {
		t.Error("redo past the end succeeded")
	}
}

func TestUndoRedo_ApplyStillMasked(t *testing.T) {
	ed := newTestEditor(t, nil)
	ed.LoadImage(testImage(800, 600))
	drawSquare(t, ed)
	ed.Undo()
	ed.Redo()

	res, err := ed.ApplyTexture(context.Background(), "texture-1")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Masked {
		t.Error("texture not masked after undo and redo")
	}
	if o := ed.Surface().Object(res.ObjectID); o.Clip == nil || len(o.Clip.Polygons) != 1 {
		t.Errorf("clip = %+v", o.Clip)
	}
}

func TestUndoRemoveSelection_Restores(t *testing.T) {
	ed := newTestEditor(t, nil)
	ed.LoadImage(testImage(800, 600))
	id := drawSquare(t, ed)
	ed.RemoveSelection(id)

	if !ed.Undo() {
		t.Fatal("undo failed")
	}
	if st := ed.State(); !st.HasSelection || st.ActiveSelection != id || st.Objects != 2 {
		t.Errorf("after undo = %+v", st)
	}
}

func TestRemoveSelection(t *testing.T) {
	ed := newTestEditor(t, nil)
	ed.LoadImage(testImage(800, 600))
	id := drawSquare(t, ed)

	if ed.RemoveSelection("polygon-99") {
		t.Error("removed unknown selection")
	}
	if !ed.RemoveSelection(id) {
		t.Fatal("remove failed")
	}
	st := ed.State()
	if st.HasSelection || st.Objects != 1 || st.HistoryDepth != 3 {
		t.Errorf("state = %+v", st)
	}
}

func TestHistoryBound(t *testing.T) {
	ed := newTestEditor(t, &Config{HistorySize: 3})
	ed.LoadImage(testImage(400, 200))
	for i := range 5 {
		ed.SetAngle(float64(i * 10))
	}
	if ed.HistoryLen() != 3 {
		t.Errorf("history = %d, want 3", ed.HistoryLen())
	}
}

func TestClear(t *testing.T) {
	ed := newTestEditor(t, nil)
	ed.LoadImage(testImage(800, 600))
	drawSquare(t, ed)
	ed.TogglePolygon()
	ed.Pointer(PointerEvent{Type: PointerDown, X: 3, Y: 3})

	ed.Clear()
	st := ed.State()
	if st.HasImage || st.HasSelection || st.HistoryDepth != 0 || st.Objects != 0 || st.Mode != ModeView || st.PolygonPoints != 0 {
		t.Errorf("state after clear = %+v", st)
	}
}

func TestExport_DoubleResolution(t *testing.T) {
	ed := newTestEditor(t, nil)
	if err := ed.LoadImage(testImage(2000, 1500)); err != nil {
		t.Fatal(err)
	}
	drawSquare(t, ed)
	if res, err := ed.ApplyTexture(context.Background(), "texture-1"); err != nil || !res.Masked {
		t.Fatalf("apply = %+v, %v", res, err)
	}

	out, err := ed.Export(imgsrc.FormatPNG)
	if err != nil {
		t.Fatal(err)
	}
	if out.Width != 2000 || out.Height != 1400 {
		t.Errorf("export = %dx%d, want 2000x1400", out.Width, out.Height)
	}
	if out.Filename != "texture-edit-1700000000000.png" || out.MIME != "image/png" {
		t.Errorf("export = %s %s", out.Filename, out.MIME)
	}
	img, err := png.Decode(bytes.NewReader(out.Data))
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 2000 || b.Dy() != 1400 {
		t.Errorf("decoded = %v", b)
	}
	if !strings.HasPrefix(out.DataURL(), "data:image/png;base64,") {
		t.Error("bad data URL")
	}
	if ed.State().Exporting {
		t.Error("exporting flag left set")
	}
}

func TestExport_JPEGAndCrop(t *testing.T) {
	ed := newTestEditor(t, nil)
	ed.LoadImage(testImage(400, 200))
	ed.Crop(&surface.Rect{Left: 300, Top: 250, Width: 400, Height: 200})

	out, err := ed.Export(imgsrc.FormatJPEG)
	if err != nil {
		t.Fatal(err)
	}
	if out.Width != 800 || out.Height != 400 || !strings.HasSuffix(out.Filename, ".jpg") || out.MIME != "image/jpeg" {
		t.Errorf("export = %+v", out)
	}
}

func TestExport_FailureResetsFlag(t *testing.T) {
	ed := newTestEditor(t, &Config{Background: "not-a-colour"})
	if _, err := ed.Export(imgsrc.FormatPNG); err == nil {
		t.Fatal("export succeeded with a bad background")
	}
	if ed.State().Exporting {
		t.Error("exporting flag left set")
	}
	if _, err := ed.Export(imgsrc.Format("gif")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("gif export err = %v", err)
	}
}
