package surface

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/f64"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"
)

// RenderOptions controls rasterisation.
type RenderOptions struct {
	// Multiplier scales the output relative to surface pixels. Zero means 1.
	Multiplier float64
	// Watermark, when set, is drawn in the bottom-right corner.
	Watermark string
	// Transformer resamples image objects. Defaults to draw.BiLinear.
	Transformer xdraw.Transformer
}

// Render rasterises the surface (or its crop rectangle) to a new image.
func (s *Surface) Render(opts RenderOptions) (*image.RGBA, error) {
	m := opts.Multiplier
	if m <= 0 {
		m = 1
	}
	tr := opts.Transformer
	if tr == nil {
		tr = xdraw.BiLinear
	}

	view := Rect{Width: float64(s.width), Height: float64(s.height)}
	if s.crop != nil {
		view = *s.crop
	}
	w := int(math.Round(view.Width * m))
	h := int(math.Round(view.Height * m))
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("surface: empty render area %dx%d", w, h)
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))

	bg, err := ParseColor(s.background)
	if err != nil {
		return nil, err
	}
	draw.Draw(dst, dst.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)

	toDst := f64.Aff3{m, 0, -view.Left * m, 0, m, -view.Top * m}
	r := vector.NewRasterizer(w, h)

	for _, o := range s.objects {
		if o.Opacity <= 0 {
			continue
		}
		var clip *image.Alpha
		if o.Clip != nil {
			clip = rasterClip(r, o.Clip, toDst, w, h)
		}
		switch o.Kind {
		case KindImage:
			img, err := s.Image(o)
			if err != nil {
				return nil, err
			}
			drawImage(dst, tr, img, mul(toDst, o.Matrix()), clip, o.Opacity)
		case KindPolygon, KindPath:
			if err := drawShape(dst, r, o, toDst, clip); err != nil {
				return nil, err
			}
		}
	}

	if opts.Watermark != "" {
		drawWatermark(dst, opts.Watermark, m)
	}
	return dst, nil
}

func drawImage(dst *image.RGBA, tr xdraw.Transformer, img image.Image, m f64.Aff3, clip *image.Alpha, opacity float64) {
	b := img.Bounds()
	// Transform maps source pixel coordinates; shift so bounds start at 0.
	m = mul(m, f64.Aff3{1, 0, -float64(b.Min.X), 0, 1, -float64(b.Min.Y)})

	var mask image.Image
	switch {
	case clip != nil:
		if opacity < 1 {
			scaleAlpha(clip, opacity)
		}
		mask = clip
	case opacity < 1:
		mask = image.NewUniform(color.Alpha{A: uint8(clamp01(opacity)*255 + 0.5)})
	}
	tr.Transform(dst, m, img, b, xdraw.Over, &xdraw.Options{DstMask: mask})
}

func drawShape(dst *image.RGBA, r *vector.Rasterizer, o *Object, toDst f64.Aff3, clip *image.Alpha) error {
	pts := o.AbsolutePoints()
	for i := range pts {
		pts[i] = apply(toDst, pts[i])
	}
	scale := math.Hypot(toDst[0], toDst[3]) * math.Sqrt(math.Abs(o.ScaleX*o.ScaleY))
	closed := o.Kind == KindPolygon

	if closed && len(pts) >= 3 {
		fill, err := ParseColor(o.Fill)
		if err != nil {
			return err
		}
		if fill.A > 0 {
			r.Reset(dst.Bounds().Dx(), dst.Bounds().Dy())
			addPolygon(r, pts)
			paint(dst, r, withOpacity(fill, o.Opacity), clip)
		}
	}
	if o.StrokeWidth > 0 && len(pts) > 0 {
		stroke, err := ParseColor(o.Stroke)
		if err != nil {
			return err
		}
		if stroke.A > 0 {
			r.Reset(dst.Bounds().Dx(), dst.Bounds().Dy())
			addStroke(r, pts, o.StrokeWidth*scale, closed)
			paint(dst, r, withOpacity(stroke, o.Opacity), clip)
		}
	}
	return nil
}

// paint composites the rasterizer's coverage in colour c, intersected with
// clip when non-nil.
func paint(dst *image.RGBA, r *vector.Rasterizer, c color.NRGBA, clip *image.Alpha) {
	if clip == nil {
		r.DrawOp = draw.Over
		r.Draw(dst, dst.Bounds(), image.NewUniform(c), image.Point{})
		return
	}
	cov := image.NewAlpha(dst.Bounds())
	r.DrawOp = draw.Src
	r.Draw(cov, cov.Bounds(), image.Opaque, image.Point{})
	for i := range cov.Pix {
		cov.Pix[i] = uint8(uint16(cov.Pix[i]) * uint16(clip.Pix[i]) / 255)
	}
	draw.DrawMask(dst, dst.Bounds(), image.NewUniform(c), image.Point{}, cov, image.Point{}, draw.Over)
}

// rasterClip renders clip geometry (surface coordinates) to a coverage mask.
func rasterClip(r *vector.Rasterizer, c *Clip, toDst f64.Aff3, w, h int) *image.Alpha {
	mask := image.NewAlpha(image.Rect(0, 0, w, h))
	if c.Empty() {
		return mask
	}
	r.Reset(w, h)
	scale := math.Hypot(toDst[0], toDst[3])
	for _, poly := range c.Polygons {
		addPolygon(r, transformAll(toDst, poly))
	}
	for _, s := range c.Strokes {
		addStroke(r, transformAll(toDst, s.Points), s.Width*scale, false)
	}
	r.DrawOp = draw.Src
	r.Draw(mask, mask.Bounds(), image.Opaque, image.Point{})
	return mask
}

// ClipMask renders clip geometry at surface resolution. Coverage 255 means
// fully visible.
func ClipMask(c *Clip, w, h int) *image.Alpha {
	return rasterClip(vector.NewRasterizer(w, h), c, f64.Aff3{1, 0, 0, 0, 1, 0}, w, h)
}

func transformAll(m f64.Aff3, pts []Point) []Point {
	out := make([]Point, len(pts))
	for i, p := range pts {
		out[i] = apply(m, p)
	}
	return out
}

func scaleAlpha(a *image.Alpha, f float64) {
	k := uint16(clamp01(f)*255 + 0.5)
	for i, v := range a.Pix {
		a.Pix[i] = uint8(uint16(v) * k / 255)
	}
}

// The rasterizer sums signed coverage and clamps its absolute value, so
// sub-paths sharing one winding direction compose as a union.
func addPolygon(r *vector.Rasterizer, pts []Point) {
	if len(pts) < 3 {
		return
	}
	if signedArea(pts) < 0 {
		pts = reversed(pts)
	}
	r.MoveTo(float32(pts[0].X), float32(pts[0].Y))
	for _, p := range pts[1:] {
		r.LineTo(float32(p.X), float32(p.Y))
	}
	r.ClosePath()
}

// addStroke outlines a polyline with a round pen: one quad per segment and a
// disc per vertex.
func addStroke(r *vector.Rasterizer, pts []Point, width float64, closed bool) {
	hw := width / 2
	if hw <= 0 || len(pts) == 0 {
		return
	}
	n := len(pts) - 1
	if closed && len(pts) > 2 {
		n = len(pts)
	}
	for i := 0; i < n; i++ {
		a, b := pts[i], pts[(i+1)%len(pts)]
		dx, dy := b.X-a.X, b.Y-a.Y
		l := math.Hypot(dx, dy)
		if l == 0 {
			continue
		}
		nx, ny := -dy/l*hw, dx/l*hw
		addPolygon(r, []Point{
			{a.X + nx, a.Y + ny},
			{b.X + nx, b.Y + ny},
			{b.X - nx, b.Y - ny},
			{a.X - nx, a.Y - ny},
		})
	}
	for _, p := range pts {
		addPolygon(r, disc(p, hw))
	}
}

func disc(c Point, radius float64) []Point {
	const segments = 16
	out := make([]Point, segments)
	for i := range out {
		t := 2 * math.Pi * float64(i) / segments
		out[i] = Point{c.X + radius*math.Cos(t), c.Y + radius*math.Sin(t)}
	}
	return out
}

func signedArea(pts []Point) float64 {
	var a float64
	for i := range pts {
		p, q := pts[i], pts[(i+1)%len(pts)]
		a += p.X*q.Y - q.X*p.Y
	}
	return a / 2
}

func reversed(pts []Point) []Point {
	out := make([]Point, len(pts))
	for i, p := range pts {
		out[len(pts)-1-i] = p
	}
	return out
}

// drawWatermark renders text with the 7x13 bitmap face, upscaled with the
// output multiplier, 10 surface pixels from the bottom-right corner.
func drawWatermark(dst *image.RGBA, text string, m float64) {
	face := basicfont.Face7x13
	tw := font.MeasureString(face, text).Ceil() + 1
	th := face.Height + 1
	layer := image.NewRGBA(image.Rect(0, 0, tw, th))

	d := &font.Drawer{
		Dst:  layer,
		Src:  image.NewUniform(color.NRGBA{0, 0, 0, 140}),
		Face: face,
		Dot:  fixed.P(1, face.Ascent+1),
	}
	d.DrawString(text)
	d.Src = image.NewUniform(color.NRGBA{255, 255, 255, 220})
	d.Dot = fixed.P(0, face.Ascent)
	d.DrawString(text)

	k := 1.5 * m
	sw, sh := int(float64(tw)*k), int(float64(th)*k)
	margin := int(10 * m)
	b := dst.Bounds()
	target := image.Rect(b.Max.X-margin-sw, b.Max.Y-margin-sh, b.Max.X-margin, b.Max.Y-margin)
	xdraw.ApproxBiLinear.Scale(dst, target, layer, layer.Bounds(), xdraw.Over, nil)
}
