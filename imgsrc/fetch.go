package imgsrc

import (
	"context"
	"fmt"
	"image"
	"net/http"
	"time"

	"github.com/hazyhaar/texstudio/horosafe"
)

// Fetcher resolves texture sources: data URLs are decoded in place, http(s)
// URLs are fetched with an SSRF check and a bounded body read.
type Fetcher struct {
	client       *http.Client
	maxBytes     int64
	maxPixels    int
	allowPrivate bool
	validate     func(string) error
}

// MaxRedirects bounds the redirect hops followed by a fetch.
const MaxRedirects = 5

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithHTTPClient replaces the default client (15s timeout, redirects
// re-validated). A replacement client keeps its own redirect policy.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) { f.client = c }
}

// WithMaxBytes caps remote bodies. Defaults to horosafe.MaxResponseBody.
func WithMaxBytes(n int64) FetcherOption {
	return func(f *Fetcher) { f.maxBytes = n }
}

// WithMaxPixels caps decoded images. Defaults to DefaultMaxPixels.
func WithMaxPixels(n int) FetcherOption {
	return func(f *Fetcher) { f.maxPixels = n }
}

// WithAllowPrivate disables the SSRF check. Tests and trusted
// deployments serving textures from a private network use it.
func WithAllowPrivate() FetcherOption {
	return func(f *Fetcher) { f.allowPrivate = true }
}

// NewFetcher creates a Fetcher.
func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		maxBytes: horosafe.MaxResponseBody,
		validate: horosafe.ValidateURL,
	}
	for _, o := range opts {
		o(f)
	}
	if f.client == nil {
		f.client = &http.Client{
			Timeout:       15 * time.Second,
			CheckRedirect: f.checkRedirect,
		}
	}
	return f
}

// checkRedirect applies the SSRF check to every hop.
func (f *Fetcher) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= MaxRedirects {
		return fmt.Errorf("imgsrc: too many redirects (%d)", len(via))
	}
	if f.allowPrivate {
		return nil
	}
	if err := f.validate(req.URL.String()); err != nil {
		return fmt.Errorf("imgsrc: redirect blocked: %w", err)
	}
	return nil
}

func (f *Fetcher) limits() []DecodeOption {
	return []DecodeOption{WithPixelLimit(f.maxPixels), WithDataLimit(f.maxBytes)}
}

// Fetch returns the decoded image behind src.
func (f *Fetcher) Fetch(ctx context.Context, src string) (image.Image, error) {
	if IsDataURL(src) {
		return DecodeDataURL(src, f.limits()...)
	}
	if !f.allowPrivate {
		if err := f.validate(src); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, fmt.Errorf("imgsrc: build request: %w", err)
	}
	req.Header.Set("Accept", "image/*")
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("imgsrc: fetch %s: %w", src, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("imgsrc: fetch %s: status %d", src, resp.StatusCode)
	}

	data, err := horosafe.LimitedReadAll(resp.Body, f.maxBytes)
	if err != nil {
		return nil, fmt.Errorf("imgsrc: read %s: %w", src, err)
	}
	img, _, err := DecodeBytes(data, f.limits()...)
	return img, err
}
