package editor

import (
	"github.com/hazyhaar/texstudio/history"
	"github.com/hazyhaar/texstudio/imgsrc"
	"github.com/hazyhaar/texstudio/selection"
	"github.com/hazyhaar/texstudio/surface"
)

// Config holds the editor configuration.
type Config struct {
	// SurfaceWidth and SurfaceHeight size the editing surface.
	// Default: 1000x700.
	SurfaceWidth  int    `json:"surface_width" yaml:"surface_width"`
	SurfaceHeight int    `json:"surface_height" yaml:"surface_height"`
	Background    string `json:"background" yaml:"background"`

	// FitWidth and FitHeight bound an uploaded image. Larger images are
	// scaled down to fit, preserving aspect ratio. Default: 1000x700.
	FitWidth  int `json:"fit_width" yaml:"fit_width"`
	FitHeight int `json:"fit_height" yaml:"fit_height"`

	HistorySize int `json:"history_size" yaml:"history_size"`

	// MaxPixels rejects uploads and textures larger than width*height.
	// Default: imgsrc.DefaultMaxPixels.
	MaxPixels int `json:"max_pixels" yaml:"max_pixels"`

	// BrushWidth is the initial brush width, clamped to 1..50. Default: 20.
	BrushWidth float64 `json:"brush_width" yaml:"brush_width"`

	// TextureWidth is the on-surface width of a newly applied texture.
	// Default: 200.
	TextureWidth float64 `json:"texture_width" yaml:"texture_width"`

	// SelectionColor and SelectionOpacity style completed selections.
	// Default: #FFA500 at 0.2.
	SelectionColor   string  `json:"selection_color" yaml:"selection_color"`
	SelectionOpacity float64 `json:"selection_opacity" yaml:"selection_opacity"`

	// ExportMultiplier scales exports relative to the surface. Default: 2.
	ExportMultiplier float64 `json:"export_multiplier" yaml:"export_multiplier"`
	JPEGQuality      int     `json:"jpeg_quality" yaml:"jpeg_quality"`
	Watermark        string  `json:"watermark" yaml:"watermark"`
}

// Brush width bounds.
const (
	MinBrushWidth     = 1
	MaxBrushWidth     = 50
	DefaultBrushWidth = 20
)

// DefaultWatermark is drawn on exports unless configured otherwise.
const DefaultWatermark = "Texture Studio"

func (c *Config) defaults() {
	if c.SurfaceWidth <= 0 {
		c.SurfaceWidth = surface.DefaultWidth
	}
	if c.SurfaceHeight <= 0 {
		c.SurfaceHeight = surface.DefaultHeight
	}
	if c.Background == "" {
		c.Background = surface.DefaultBackground
	}
	if c.FitWidth <= 0 {
		c.FitWidth = surface.DefaultWidth
	}
	if c.FitHeight <= 0 {
		c.FitHeight = surface.DefaultHeight
	}
	if c.HistorySize <= 0 {
		c.HistorySize = history.DefaultMaxSize
	}
	if c.BrushWidth == 0 {
		c.BrushWidth = DefaultBrushWidth
	}
	c.BrushWidth = clampBrush(c.BrushWidth)
	if c.MaxPixels <= 0 {
		c.MaxPixels = imgsrc.DefaultMaxPixels
	}
	if c.TextureWidth <= 0 {
		c.TextureWidth = 200
	}
	if c.SelectionColor == "" {
		c.SelectionColor = selection.DefaultColor
	}
	if c.SelectionOpacity <= 0 || c.SelectionOpacity > 1 {
		c.SelectionOpacity = 0.2
	}
	if c.ExportMultiplier <= 0 {
		c.ExportMultiplier = 2
	}
	if c.JPEGQuality <= 0 || c.JPEGQuality > 100 {
		c.JPEGQuality = 95
	}
	if c.Watermark == "" {
		c.Watermark = DefaultWatermark
	}
}

func clampBrush(w float64) float64 {
	return max(MinBrushWidth, min(MaxBrushWidth, w))
}
