package editor

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/hazyhaar/texstudio/imgsrc"
	"github.com/hazyhaar/texstudio/surface"
)

// ExportResult is an encoded render of the surface.
type ExportResult struct {
	Filename string `json:"filename"`
	MIME     string `json:"mime"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Data     []byte `json:"-"`
}

// DataURL returns the export as a base64 data URL.
func (r *ExportResult) DataURL() string {
	return imgsrc.BytesDataURL(r.MIME, r.Data)
}

// Watermark returns the text drawn on exports.
func (c *Controller) Watermark() string { return c.watermark }

// SetWatermark changes the export watermark. Empty disables it.
func (c *Controller) SetWatermark(text string) { c.watermark = text }

// Export renders the surface at the configured multiplier with the
// watermark and encodes it. Nothing is returned on failure.
func (c *Controller) Export(f imgsrc.Format) (*ExportResult, error) {
	if f != imgsrc.FormatPNG && f != imgsrc.FormatJPEG {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
	}
	c.exporting = true
	defer func() { c.exporting = false }()

	img, err := c.surface.Render(surface.RenderOptions{
		Multiplier: c.cfg.ExportMultiplier,
		Watermark:  c.watermark,
	})
	if err != nil {
		c.logger.Error("editor: export render failed", "error", err)
		return nil, fmt.Errorf("editor: export: %w", err)
	}

	var buf bytes.Buffer
	if err := imgsrc.Encode(&buf, img, f, c.cfg.JPEGQuality); err != nil {
		c.logger.Error("editor: export encode failed", "format", f, "error", err)
		if errors.Is(err, imgsrc.ErrUnsupportedFormat) {
			return nil, fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)
		}
		return nil, fmt.Errorf("editor: export: %w", err)
	}

	b := img.Bounds()
	return &ExportResult{
		Filename: fmt.Sprintf("texture-edit-%d.%s", c.now().UnixMilli(), f.Ext()),
		MIME:     f.MIME(),
		Width:    b.Dx(),
		Height:   b.Dy(),
		Data:     buf.Bytes(),
	}, nil
}
