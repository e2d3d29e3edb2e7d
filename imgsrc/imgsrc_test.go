package imgsrc

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/hazyhaar/texstudio/horosafe"
)

func testImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	return img
}

func TestParseFormat(t *testing.T) {
	tests := map[string]Format{"png": FormatPNG, "PNG": FormatPNG, "": FormatPNG, "jpeg": FormatJPEG, "jpg": FormatJPEG}
	for in, want := range tests {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("svg"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("svg: %v", err)
	}
	if FormatJPEG.Ext() != "jpg" || FormatJPEG.MIME() != "image/jpeg" {
		t.Error("jpeg ext/mime")
	}
}

func TestDataURLRoundTrip(t *testing.T) {
	src := testImage(8, 4)
	u, err := EncodeDataURL(src, FormatPNG)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(u, "data:image/png;base64,") {
		t.Fatalf("prefix: %.30s", u)
	}
	img, err := DecodeDataURL(u)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds() != src.Bounds() {
		t.Fatalf("bounds: %v", img.Bounds())
	}
	r, g, _, _ := img.At(3, 2).RGBA()
	if r>>8 != 3 || g>>8 != 2 {
		t.Fatalf("pixel mismatch: %d %d", r>>8, g>>8)
	}
}

func TestDecode_GIF(t *testing.T) {
	var buf bytes.Buffer
	pal := image.NewPaletted(image.Rect(0, 0, 5, 5), color.Palette{color.Black, color.White})
	if err := gif.Encode(&buf, pal, nil); err != nil {
		t.Fatal(err)
	}
	_, format, err := DecodeBytes(buf.Bytes())
	if err != nil || format != "gif" {
		t.Fatalf("gif decode: %q, %v", format, err)
	}
}

func TestDecode_Unsupported(t *testing.T) {
	_, _, err := DecodeBytes([]byte("<svg xmlns='http://www.w3.org/2000/svg'/>"))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("got %v, want ErrUnsupportedFormat", err)
	}
}

// pngHeader returns a PNG signature and IHDR declaring a w x h RGBA image,
// with no pixel data behind it.
func pngHeader(w, h uint32) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], w)
	binary.BigEndian.PutUint32(ihdr[4:], h)
	ihdr[8], ihdr[9] = 8, 6

	var b bytes.Buffer
	b.WriteString("\x89PNG\r\n\x1a\n")
	binary.Write(&b, binary.BigEndian, uint32(len(ihdr)))
	chunk := append([]byte("IHDR"), ihdr...)
	b.Write(chunk)
	binary.Write(&b, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return b.Bytes()
}

func TestDecode_PixelLimit(t *testing.T) {
	_, _, err := DecodeBytes(pngHeader(100_000, 100_000))
	if !errors.Is(err, ErrTooManyPixels) || !errors.Is(err, horosafe.ErrTooLarge) {
		t.Fatalf("huge header: %v", err)
	}

	var buf bytes.Buffer
	png.Encode(&buf, testImage(6, 6))
	if _, _, err := DecodeBytes(buf.Bytes(), WithPixelLimit(35)); !errors.Is(err, ErrTooManyPixels) {
		t.Errorf("36 px over a 35 px limit: %v", err)
	}
	if _, _, err := DecodeBytes(buf.Bytes(), WithPixelLimit(36)); err != nil {
		t.Errorf("36 px at a 36 px limit: %v", err)
	}

	u := BytesDataURL("image/png", pngHeader(100_000, 100_000))
	if _, err := NewFetcher().Fetch(context.Background(), u); !errors.Is(err, ErrTooManyPixels) {
		t.Errorf("fetch of huge data URL: %v", err)
	}
}

func TestParseDataURL_DataLimit(t *testing.T) {
	u, _ := EncodeDataURL(testImage(8, 8), FormatPNG)
	if _, _, err := ParseDataURL(u, WithDataLimit(16)); !errors.Is(err, horosafe.ErrTooLarge) {
		t.Fatalf("err = %v, want ErrTooLarge", err)
	}
	if _, err := DecodeDataURL(u, WithDataLimit(1<<20)); err != nil {
		t.Fatal(err)
	}
}

func TestParseDataURL_Invalid(t *testing.T) {
	for _, s := range []string{
		"http://example.com/a.png",
		"data:image/png;base64",
		"data:image/svg+xml,<svg/>",
		"data:image/png;base64,!!!",
	} {
		if _, _, err := ParseDataURL(s); !errors.Is(err, ErrInvalidDataURL) {
			t.Errorf("ParseDataURL(%q) = %v", s, err)
		}
	}
}

func TestFetcher_Remote(t *testing.T) {
	var buf bytes.Buffer
	png.Encode(&buf, testImage(6, 6))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	ctx := context.Background()

	// Loopback is refused by default.
	if _, err := NewFetcher().Fetch(ctx, srv.URL+"/tex.png"); !errors.Is(err, horosafe.ErrSSRF) {
		t.Fatalf("expected SSRF refusal, got %v", err)
	}

	f := NewFetcher(WithAllowPrivate())
	img, err := f.Fetch(ctx, srv.URL+"/tex.png")
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 6 {
		t.Fatalf("width: %d", img.Bounds().Dx())
	}

	if _, err := f.Fetch(ctx, srv.URL+"/missing.png"); err == nil {
		t.Fatal("expected error for 404")
	}

	small := NewFetcher(WithAllowPrivate(), WithMaxBytes(10))
	if _, err := small.Fetch(ctx, srv.URL+"/tex.png"); !errors.Is(err, horosafe.ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestFetcher_DataURL(t *testing.T) {
	u, _ := EncodeDataURL(testImage(3, 3), FormatJPEG)
	img, err := NewFetcher().Fetch(context.Background(), u)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 3 {
		t.Fatalf("width: %d", img.Bounds().Dx())
	}
}

func TestFetcher_RedirectRevalidated(t *testing.T) {
	var buf bytes.Buffer
	png.Encode(&buf, testImage(4, 4))
	inner := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(buf.Bytes())
	}))
	defer inner.Close()
	outer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, inner.URL+"/tex.png", http.StatusFound)
	}))
	defer outer.Close()

	// Only the outer host passes validation, standing in for a public host
	// that redirects to a private one.
	f := NewFetcher()
	f.validate = func(raw string) error {
		u, err := url.Parse(raw)
		if err != nil || "http://"+u.Host != outer.URL {
			return horosafe.ErrSSRF
		}
		return nil
	}
	if _, err := f.Fetch(context.Background(), outer.URL+"/tex.png"); !errors.Is(err, horosafe.ErrSSRF) {
		t.Fatalf("redirect to a blocked host: %v", err)
	}

	open := NewFetcher(WithAllowPrivate())
	if img, err := open.Fetch(context.Background(), outer.URL+"/tex.png"); err != nil || img.Bounds().Dx() != 4 {
		t.Fatalf("allowed redirect: %v", err)
	}
}

func TestFetcher_RedirectLoop(t *testing.T) {
	var hops atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hops.Add(1)
		http.Redirect(w, r, "/again", http.StatusFound)
	}))
	defer srv.Close()

	_, err := NewFetcher(WithAllowPrivate()).Fetch(context.Background(), srv.URL+"/start")
	if err == nil || !strings.Contains(err.Error(), "too many redirects") {
		t.Fatalf("err = %v", err)
	}
	if n := hops.Load(); n != MaxRedirects {
		t.Errorf("hops = %d, want %d", n, MaxRedirects)
	}
}
