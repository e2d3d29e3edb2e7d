// Package catalog is the texture catalog: an ordered list of named
// textures that can be placed on the editing surface.
//
// Duplicate ids are accepted; lookups, updates and removals act on the
// earliest entry with a given id. Entries are copied at placement time, so
// later catalog edits never affect placed textures.
//
// Usage:
//
//	cat, err := catalog.New(&catalog.Config{}, logger)
//	defer cat.Close()
//	textures, _ := cat.List(ctx)
package catalog

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/texstudio/catalog/internal/store"
	"github.com/hazyhaar/texstudio/dbopen"
	"github.com/hazyhaar/texstudio/idgen"
)

// DefaultCategory is used for admin uploads without a category.
const DefaultCategory = "custom"

// Texture is one catalog entry.
type Texture struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	URL        string `json:"url"`
	PreviewURL string `json:"preview_url"`
	Category   string `json:"category"`
}

// Patch holds the fields to change in Update. Nil fields are left alone.
type Patch struct {
	ID         *string `json:"id,omitempty"`
	Name       *string `json:"name,omitempty"`
	URL        *string `json:"url,omitempty"`
	PreviewURL *string `json:"preview_url,omitempty"`
	Category   *string `json:"category,omitempty"`
}

// Catalog is safe for concurrent use.
type Catalog struct {
	store  *store.Store
	logger *slog.Logger
	policy *bluemonday.Policy
	newID  idgen.Generator
}

// New opens the catalog database and seeds it if configured.
func New(cfg *Config, logger *slog.Logger) (*Catalog, error) {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	var opts []dbopen.Option
	if cfg.Driver != "" {
		opts = append(opts, dbopen.WithDriver(cfg.Driver))
	}
	s, err := store.Open(cfg.DBPath, opts...)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", cfg.DBPath, err)
	}
	c := &Catalog{
		store:  s,
		logger: logger,
		policy: bluemonday.StrictPolicy(),
		newID:  idgen.EpochMillis("texture-", time.Now, idgen.NanoID(9)),
	}

	if *cfg.Seed {
		if err := c.Seed(context.Background()); err != nil {
			s.Close()
			return nil, err
		}
	}
	return c, nil
}

// Close closes the database.
func (c *Catalog) Close() error {
	return c.store.Close()
}

// NewTextureID returns a fresh id of the form texture-<epoch-ms>-<9 chars>.
func (c *Catalog) NewTextureID() string {
	return c.newID()
}

// List returns every texture in insertion order.
func (c *Catalog) List(ctx context.Context) ([]Texture, error) {
	rows, err := c.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog: list: %w", err)
	}
	out := make([]Texture, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return out, nil
}

// Get returns the earliest texture with id, or nil.
func (c *Catalog) Get(ctx context.Context, id string) (*Texture, error) {
	r, err := c.store.First(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("catalog: get %s: %w", id, err)
	}
	if r == nil {
		return nil, nil
	}
	t := fromRow(r)
	return &t, nil
}

// Add appends t. Nothing is validated; a duplicate id makes later entries
// unreachable by id.
func (c *Catalog) Add(ctx context.Context, t Texture) error {
	r := &store.Row{
		ID:         t.ID,
		Name:       c.clean(t.Name),
		URL:        t.URL,
		PreviewURL: t.PreviewURL,
		Category:   c.clean(t.Category),
	}
	if err := c.store.Insert(ctx, r); err != nil {
		return fmt.Errorf("catalog: add %s: %w", t.ID, err)
	}
	c.logger.Debug("catalog: texture added", "id", t.ID, "name", r.Name)
	return nil
}

// Update merges p into the earliest texture with id. Unknown ids are a no-op.
func (c *Catalog) Update(ctx context.Context, id string, p Patch) error {
	cols := make(map[string]string)
	if p.ID != nil {
		cols["id"] = *p.ID
	}
	if p.Name != nil {
		cols["name"] = c.clean(*p.Name)
	}
	if p.URL != nil {
		cols["url"] = *p.URL
	}
	if p.PreviewURL != nil {
		cols["preview_url"] = *p.PreviewURL
	}
	if p.Category != nil {
		cols["category"] = c.clean(*p.Category)
	}
	ok, err := c.store.UpdateFirst(ctx, id, cols)
	if err != nil {
		return fmt.Errorf("catalog: update %s: %w", id, err)
	}
	if !ok {
		c.logger.Debug("catalog: update of unknown texture", "id", id)
	}
	return nil
}

// Remove deletes the earliest texture with id. Unknown ids are a no-op.
func (c *Catalog) Remove(ctx context.Context, id string) error {
	if _, err := c.store.DeleteFirst(ctx, id); err != nil {
		return fmt.Errorf("catalog: remove %s: %w", id, err)
	}
	return nil
}

// Setting returns a studio setting stored alongside the catalog.
func (c *Catalog) Setting(ctx context.Context, key, fallback string) (string, error) {
	v, ok, err := c.store.Setting(ctx, key)
	if err != nil {
		return "", fmt.Errorf("catalog: setting %s: %w", key, err)
	}
	if !ok {
		return fallback, nil
	}
	return v, nil
}

// SetSetting stores a studio setting. The value is sanitised like names.
func (c *Catalog) SetSetting(ctx context.Context, key, value string) error {
	if err := c.store.SetSetting(ctx, key, c.clean(value)); err != nil {
		return fmt.Errorf("catalog: set %s: %w", key, err)
	}
	return nil
}

// cleanPasses bounds how many layers of escaped markup clean decodes.
const cleanPasses = 5

// clean strips markup from free text and returns plain characters for JSON
// consumers. Unescaping can expose markup that was written as entities, so
// it sanitises again until the text is stable; text still changing after
// cleanPasses is returned in bluemonday's escaped form.
func (c *Catalog) clean(s string) string {
	for range cleanPasses {
		next := html.UnescapeString(c.policy.Sanitize(s))
		if next == s {
			return strings.TrimSpace(s)
		}
		s = next
	}
	return strings.TrimSpace(c.policy.Sanitize(s))
}

func fromRow(r *store.Row) Texture {
	return Texture{
		ID:         r.ID,
		Name:       r.Name,
		URL:        r.URL,
		PreviewURL: r.PreviewURL,
		Category:   r.Category,
	}
}
