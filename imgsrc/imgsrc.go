// Package imgsrc turns the image sources texstudio accepts (uploads, data
// URLs, remote http(s) URLs) into decoded images, and encodes rendered
// surfaces back into PNG or JPEG bytes and data URLs.
package imgsrc

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"strings"

	"github.com/hazyhaar/texstudio/horosafe"

	// Registered decoders.
	_ "image/gif"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrUnsupportedFormat is returned when no registered decoder recognises the
// input, or when an encode format is unknown.
var ErrUnsupportedFormat = errors.New("imgsrc: unsupported image format")

// ErrInvalidDataURL is returned for malformed data URLs.
var ErrInvalidDataURL = errors.New("imgsrc: invalid data URL")

// ErrTooManyPixels is returned for images whose declared size exceeds the
// pixel limit. It wraps horosafe.ErrTooLarge.
var ErrTooManyPixels = fmt.Errorf("imgsrc: image exceeds pixel limit: %w", horosafe.ErrTooLarge)

// Decode limits. DefaultMaxPixels is 40 megapixels; DefaultMaxDataBytes
// bounds the decoded payload of a data URL.
const (
	DefaultMaxPixels          = 40_000_000
	DefaultMaxDataBytes int64 = horosafe.MaxResponseBody
)

type decodeLimits struct {
	pixels int64
	bytes  int64
}

// DecodeOption bounds what Decode and DecodeDataURL accept.
type DecodeOption func(*decodeLimits)

// WithPixelLimit caps width*height. n <= 0 keeps DefaultMaxPixels.
func WithPixelLimit(n int) DecodeOption {
	return func(l *decodeLimits) {
		if n > 0 {
			l.pixels = int64(n)
		}
	}
}

// WithDataLimit caps the decoded payload of a data URL. n <= 0 keeps
// DefaultMaxDataBytes.
func WithDataLimit(n int64) DecodeOption {
	return func(l *decodeLimits) {
		if n > 0 {
			l.bytes = n
		}
	}
}

func newLimits(opts []DecodeOption) decodeLimits {
	l := decodeLimits{pixels: DefaultMaxPixels, bytes: DefaultMaxDataBytes}
	for _, o := range opts {
		o(&l)
	}
	return l
}

// Format is an export encoding.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
)

// DefaultJPEGQuality matches the studio's export quality (0.95).
const DefaultJPEGQuality = 95

// ParseFormat accepts "png", "jpeg" and "jpg" (case-insensitive).
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "png", "":
		return FormatPNG, nil
	case "jpeg", "jpg":
		return FormatJPEG, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// MIME returns the content type for f.
func (f Format) MIME() string {
	if f == FormatJPEG {
		return "image/jpeg"
	}
	return "image/png"
}

// Ext returns the file extension for f, without the dot.
func (f Format) Ext() string {
	if f == FormatJPEG {
		return "jpg"
	}
	return "png"
}

// Decode reads one image with any registered decoder and returns it with the
// format name reported by the decoder. The header is checked against the
// pixel limit before any pixel data is decoded.
func Decode(r io.Reader, opts ...DecodeOption) (image.Image, string, error) {
	l := newLimits(opts)

	var head bytes.Buffer
	cfg, _, err := image.DecodeConfig(io.TeeReader(r, &head))
	if err != nil {
		return nil, "", decodeErr(err)
	}
	if px := int64(cfg.Width) * int64(cfg.Height); px > l.pixels {
		return nil, "", fmt.Errorf("%w: %dx%d > %d", ErrTooManyPixels, cfg.Width, cfg.Height, l.pixels)
	}

	img, format, err := image.Decode(io.MultiReader(&head, r))
	if err != nil {
		return nil, "", decodeErr(err)
	}
	return img, format, nil
}

func decodeErr(err error) error {
	if errors.Is(err, image.ErrFormat) {
		return ErrUnsupportedFormat
	}
	return fmt.Errorf("imgsrc: decode: %w", err)
}

// DecodeBytes is Decode over a byte slice.
func DecodeBytes(b []byte, opts ...DecodeOption) (image.Image, string, error) {
	return Decode(bytes.NewReader(b), opts...)
}

// Encode writes img in the given format. quality applies to JPEG only;
// values outside 1..100 fall back to DefaultJPEGQuality.
func Encode(w io.Writer, img image.Image, f Format, quality int) error {
	switch f {
	case FormatPNG:
		return png.Encode(w, img)
	case FormatJPEG:
		if quality < 1 || quality > 100 {
			quality = DefaultJPEGQuality
		}
		return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
}

// IsDataURL reports whether s is a data: URL.
func IsDataURL(s string) bool {
	return strings.HasPrefix(s, "data:")
}

// ParseDataURL splits a base64 data URL into its media type and payload.
// Payloads over the data limit are rejected before decoding.
func ParseDataURL(s string, opts ...DecodeOption) (mediaType string, data []byte, err error) {
	l := newLimits(opts)
	if !IsDataURL(s) {
		return "", nil, ErrInvalidDataURL
	}
	meta, payload, ok := strings.Cut(strings.TrimPrefix(s, "data:"), ",")
	if !ok {
		return "", nil, ErrInvalidDataURL
	}
	mediaType, isB64 := strings.CutSuffix(meta, ";base64")
	if !isB64 {
		return "", nil, fmt.Errorf("%w: only base64 payloads are supported", ErrInvalidDataURL)
	}
	if n := int64(base64.StdEncoding.DecodedLen(len(payload))); n > l.bytes {
		return "", nil, fmt.Errorf("imgsrc: data URL payload: %w (%d bytes)", horosafe.ErrTooLarge, l.bytes)
	}
	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidDataURL, err)
	}
	return mediaType, data, nil
}

// DecodeDataURL decodes the image carried by a base64 data URL.
func DecodeDataURL(s string, opts ...DecodeOption) (image.Image, error) {
	_, data, err := ParseDataURL(s, opts...)
	if err != nil {
		return nil, err
	}
	img, _, err := DecodeBytes(data, opts...)
	return img, err
}

// EncodeDataURL encodes img and wraps it in a data URL.
func EncodeDataURL(img image.Image, f Format) (string, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, img, f, DefaultJPEGQuality); err != nil {
		return "", err
	}
	return BytesDataURL(f.MIME(), buf.Bytes()), nil
}

// BytesDataURL wraps already-encoded bytes in a data URL.
func BytesDataURL(mediaType string, data []byte) string {
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
