package surface

import (
	"image"
	"image/color"
	"testing"
)

func rgbaAt(img *image.RGBA, x, y int) color.RGBA {
	return img.RGBAAt(x, y)
}

func TestRender_BackgroundAndMultiplier(t *testing.T) {
	s := New(WithSize(40, 30))
	out, err := s.Render(RenderOptions{Multiplier: 2})
	if err != nil {
		t.Fatal(err)
	}
	if out.Bounds().Dx() != 80 || out.Bounds().Dy() != 60 {
		t.Fatalf("size: %v", out.Bounds())
	}
	if c := rgbaAt(out, 5, 5); c != (color.RGBA{0xf5, 0xf5, 0xf5, 0xff}) {
		t.Fatalf("background: %v", c)
	}
}

func TestRender_ImageScaledAndClipped(t *testing.T) {
	s := New(WithSize(100, 100), WithBackground("#000000"))
	tex := s.NewImage(solid(10, 10, color.RGBA{255, 0, 0, 255}), RoleTexture)
	tex.SetScale(10) // covers the whole 100x100 surface
	s.Center(tex)
	tex.Clip = &Clip{Polygons: [][]Point{{{0, 0}, {50, 0}, {50, 50}, {0, 50}}}}
	s.Add(tex)

	out, err := s.Render(RenderOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if c := rgbaAt(out, 25, 25); c.R < 250 || c.G > 5 {
		t.Fatalf("inside clip should be red, got %v", c)
	}
	if c := rgbaAt(out, 75, 75); c.R > 5 {
		t.Fatalf("outside clip should be background, got %v", c)
	}
}

func TestRender_BrushClipCoversStrokePixels(t *testing.T) {
	s := New(WithSize(100, 100), WithBackground("#000000"))
	tex := s.NewImage(solid(100, 100, color.RGBA{0, 0, 255, 255}), RoleTexture)
	tex.Clip = &Clip{Strokes: []Stroke{
		{Points: []Point{{10, 20}, {90, 20}}, Width: 10},
		{Points: []Point{{50, 60}, {50, 90}}, Width: 20},
	}}
	s.Add(tex)

	out, err := s.Render(RenderOptions{})
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range []image.Point{{50, 20}, {12, 22}, {50, 75}, {58, 75}} {
		if c := rgbaAt(out, p.X, p.Y); c.B < 250 {
			t.Errorf("stroke pixel %v not covered: %v", p, c)
		}
	}
	for _, p := range []image.Point{{50, 40}, {80, 80}, {50, 5}} {
		if c := rgbaAt(out, p.X, p.Y); c.B > 5 {
			t.Errorf("pixel %v outside strokes visible: %v", p, c)
		}
	}
}

func TestRender_OverlappingClipPolygonsUnion(t *testing.T) {
	m := ClipMask(&Clip{Polygons: [][]Point{
		{{0, 0}, {30, 0}, {30, 30}, {0, 30}},
		{{20, 20}, {20, 50}, {50, 50}, {50, 20}}, // opposite winding
	}}, 60, 60)
	for _, p := range []image.Point{{10, 10}, {25, 25}, {40, 40}} {
		if a := m.AlphaAt(p.X, p.Y).A; a != 255 {
			t.Errorf("mask at %v = %d, want 255", p, a)
		}
	}
	if a := m.AlphaAt(55, 5).A; a != 0 {
		t.Errorf("mask outside = %d", a)
	}
}

func TestRender_PolygonFillAndStroke(t *testing.T) {
	s := New(WithSize(50, 50), WithBackground("#ffffff"))
	s.Add(NewPolygon([]Point{{10, 10}, {40, 10}, {40, 40}, {10, 40}}, "rgba(255, 0, 0, 1)", "#0000ff", 4))
	out, err := s.Render(RenderOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if c := rgbaAt(out, 25, 25); c.R < 250 || c.G > 5 {
		t.Errorf("fill: %v", c)
	}
	if c := rgbaAt(out, 10, 25); c.B < 250 || c.R > 5 {
		t.Errorf("stroke: %v", c)
	}
	if c := rgbaAt(out, 3, 3); c != (color.RGBA{255, 255, 255, 255}) {
		t.Errorf("outside: %v", c)
	}
}

func TestRender_Crop(t *testing.T) {
	s := New(WithSize(100, 100), WithBackground("#000000"))
	s.Add(NewPolygon([]Point{{50, 50}, {100, 50}, {100, 100}, {50, 100}}, "#00ff00", "", 0))
	s.SetCrop(&Rect{Left: 50, Top: 50, Width: 80, Height: 80})
	if c := s.Crop(); c.Width != 50 || c.Height != 50 {
		t.Fatalf("crop should clamp to surface: %+v", c)
	}
	out, err := s.Render(RenderOptions{Multiplier: 2})
	if err != nil {
		t.Fatal(err)
	}
	if out.Bounds().Dx() != 100 {
		t.Fatalf("cropped size: %v", out.Bounds())
	}
	if c := rgbaAt(out, 50, 50); c.G < 250 {
		t.Fatalf("cropped content: %v", c)
	}
}

func TestRender_Watermark(t *testing.T) {
	s := New(WithSize(200, 100), WithBackground("#000000"))
	plain, _ := s.Render(RenderOptions{Multiplier: 2})
	marked, err := s.Render(RenderOptions{Multiplier: 2, Watermark: "Texture Studio"})
	if err != nil {
		t.Fatal(err)
	}
	b := marked.Bounds()
	changed := 0
	for y := b.Max.Y - 60; y < b.Max.Y; y++ {
		for x := b.Max.X - 250; x < b.Max.X; x++ {
			if marked.RGBAAt(x, y) != plain.RGBAAt(x, y) {
				changed++
			}
		}
	}
	if changed == 0 {
		t.Fatal("watermark not drawn in bottom-right corner")
	}
	if marked.RGBAAt(5, 5) != plain.RGBAAt(5, 5) {
		t.Fatal("watermark leaked to top-left")
	}
}

func TestRender_Opacity(t *testing.T) {
	s := New(WithSize(10, 10), WithBackground("#000000"))
	o := s.NewImage(solid(10, 10, color.RGBA{255, 255, 255, 255}), RoleTexture)
	o.Opacity = 0.5
	s.Add(o)
	out, _ := s.Render(RenderOptions{})
	if c := rgbaAt(out, 5, 5); c.R < 120 || c.R > 135 {
		t.Fatalf("half opacity: %v", c)
	}
}
