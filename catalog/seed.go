package catalog

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"

	xdraw "golang.org/x/image/draw"

	"github.com/hazyhaar/texstudio/imgsrc"
)

// Built-in texture sizes.
const (
	seedSize    = 256
	PreviewSize = 100
)

// Seed inserts the built-in textures (texture-1 Wood Grain, texture-2
// Marble) when the catalog is empty.
func (c *Catalog) Seed(ctx context.Context) error {
	n, err := c.store.Count(ctx)
	if err != nil {
		return fmt.Errorf("catalog: seed: %w", err)
	}
	if n > 0 {
		return nil
	}

	builtins := []struct {
		id, name, category string
		render             func(w, h int) *image.RGBA
	}{
		{"texture-1", "Wood Grain", "natural", woodGrain},
		{"texture-2", "Marble", "stone", marble},
	}
	for _, b := range builtins {
		img := b.render(seedSize, seedSize)
		t, err := TextureFromImage(b.id, b.name, b.category, img)
		if err != nil {
			return fmt.Errorf("catalog: seed %s: %w", b.id, err)
		}
		if err := c.Add(ctx, t); err != nil {
			return err
		}
	}
	c.logger.Info("catalog: seeded built-in textures", "count", len(builtins))
	return nil
}

// TextureFromImage builds a catalog entry whose url is img as a PNG data URL
// and whose preview is a PreviewSize-wide thumbnail.
func TextureFromImage(id, name, category string, img image.Image) (Texture, error) {
	full, err := imgsrc.EncodeDataURL(img, imgsrc.FormatPNG)
	if err != nil {
		return Texture{}, err
	}
	preview, err := imgsrc.EncodeDataURL(Thumbnail(img, PreviewSize), imgsrc.FormatPNG)
	if err != nil {
		return Texture{}, err
	}
	if category == "" {
		category = DefaultCategory
	}
	return Texture{ID: id, Name: name, URL: full, PreviewURL: preview, Category: category}, nil
}

// Thumbnail scales img to the given width, keeping the aspect ratio.
// Images already narrower are returned unchanged.
func Thumbnail(img image.Image, width int) image.Image {
	b := img.Bounds()
	if b.Dx() <= width || b.Dx() == 0 {
		return img
	}
	h := max(1, int(math.Round(float64(b.Dy())*float64(width)/float64(b.Dx()))))
	dst := image.NewRGBA(image.Rect(0, 0, width, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst
}

func lerp(a, b color.RGBA, t float64) color.RGBA {
	mix := func(x, y uint8) uint8 { return uint8(float64(x) + (float64(y)-float64(x))*t + 0.5) }
	return color.RGBA{mix(a.R, b.R), mix(a.G, b.G), mix(a.B, b.B), 255}
}

// woodGrain is a horizontal brown gradient with faint wavy grain lines.
func woodGrain(w, h int) *image.RGBA {
	light := color.RGBA{0xA0, 0x82, 0x6D, 0xff}
	dark := color.RGBA{0x8B, 0x6F, 0x47, 0xff}
	grain := color.RGBA{0x65, 0x43, 0x21, 0xff}
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	lines := []struct{ y, opacity float64 }{{20, 0.3}, {80, 0.2}, {140, 0.3}, {200, 0.2}}
	for x := 0; x < w; x++ {
		// 0 at the edges, 1 in the middle.
		t := 1 - math.Abs(2*float64(x)/float64(w-1)-1)
		base := lerp(dark, light, t)
		for y := 0; y < h; y++ {
			c := base
			for _, l := range lines {
				ly := l.y*float64(h)/256 + 5*math.Sin(2*math.Pi*float64(x)/(float64(w)/2))
				if d := math.Abs(float64(y) - ly); d < 1.5 {
					c = lerp(c, grain, l.opacity*(1.5-d)/1.5)
				}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// marble is a diagonal grey gradient with turbulent veins.
func marble(w, h int) *image.RGBA {
	pale := color.RGBA{0xE8, 0xE8, 0xE8, 0xff}
	mid := color.RGBA{0xD0, 0xD0, 0xD0, 0xff}
	vein := color.RGBA{0x9A, 0x9A, 0xA0, 0xff}
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			fx, fy := float64(x)/float64(w), float64(y)/float64(h)
			t := 1 - math.Abs(fx+fy-1)
			c := lerp(pale, mid, t)

			turb := 0.0
			for oct, f := 0, 4.0; oct < 4; oct, f = oct+1, f*2 {
				turb += math.Abs(valueNoise(fx*f, fy*f)) / f
			}
			v := math.Abs(math.Sin((fx+fy)*6*math.Pi + turb*8))
			if v < 0.15 {
				c = lerp(c, vein, 0.5*(0.15-v)/0.15)
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// valueNoise is deterministic smooth 2D noise in [-1, 1].
func valueNoise(x, y float64) float64 {
	x0, y0 := math.Floor(x), math.Floor(y)
	tx, ty := x-x0, y-y0
	sx, sy := tx*tx*(3-2*tx), ty*ty*(3-2*ty)
	h := func(i, j float64) float64 {
		n := int64(i)*73856093 ^ int64(j)*19349663
		n = (n << 13) ^ n
		return 1 - float64((n*(n*n*15731+789221)+1376312589)&0x7fffffff)/1073741824
	}
	a := h(x0, y0) + (h(x0+1, y0)-h(x0, y0))*sx
	b := h(x0, y0+1) + (h(x0+1, y0+1)-h(x0, y0+1))*sx
	return a + (b-a)*sy
}
