// Package store provides the SQLite persistence layer for the texture catalog.
package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/texstudio/dbopen"
)

// Store is the catalog database handle.
type Store struct {
	DB *sql.DB
}

// Row is one textures row.
type Row struct {
	Seq        int64
	ID         string
	Name       string
	URL        string
	PreviewURL string
	Category   string
	CreatedAt  int64
}

// Open opens (or creates) the catalog database at path and applies the
// schema. ":memory:" gives a process-lifetime catalog.
func Open(path string, opts ...dbopen.Option) (*Store, error) {
	allOpts := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(Schema),
	}, opts...)

	db, err := dbopen.Open(path, allOpts...)
	if err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

const rowColumns = `seq, id, name, url, preview_url, category, created_at`

// List returns all rows in insertion order.
func (s *Store) List(ctx context.Context) ([]*Row, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+rowColumns+` FROM textures ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Row
	for rows.Next() {
		r := &Row{}
		if err := rows.Scan(&r.Seq, &r.ID, &r.Name, &r.URL, &r.PreviewURL, &r.Category, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// First returns the earliest row with the given id, or nil.
func (s *Store) First(ctx context.Context, id string) (*Row, error) {
	r := &Row{}
	err := s.DB.QueryRowContext(ctx, `SELECT `+rowColumns+` FROM textures
		WHERE id = ? ORDER BY seq LIMIT 1`, id).Scan(
		&r.Seq, &r.ID, &r.Name, &r.URL, &r.PreviewURL, &r.Category, &r.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Count returns the number of rows.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM textures`).Scan(&n)
	return n, err
}

// Insert appends a row and sets its Seq.
func (s *Store) Insert(ctx context.Context, r *Row) error {
	if r.CreatedAt == 0 {
		r.CreatedAt = time.Now().UnixMilli()
	}
	res, err := dbopen.Exec(ctx, s.DB, `
		INSERT INTO textures (id, name, url, preview_url, category, created_at)
		VALUES (?,?,?,?,?,?)`,
		r.ID, r.Name, r.URL, r.PreviewURL, r.Category, r.CreatedAt,
	)
	if err != nil {
		return err
	}
	r.Seq, err = res.LastInsertId()
	return err
}

// UpdateFirst sets the given columns on the earliest row with id. It
// returns false when no row matched. Column names come from the caller's
// fixed set, never from input.
func (s *Store) UpdateFirst(ctx context.Context, id string, cols map[string]string) (bool, error) {
	if len(cols) == 0 {
		r, err := s.First(ctx, id)
		return r != nil, err
	}
	var sets []string
	var args []any
	for _, c := range []string{"id", "name", "url", "preview_url", "category"} {
		if v, ok := cols[c]; ok {
			sets = append(sets, c+" = ?")
			args = append(args, v)
		}
	}
	args = append(args, id)
	res, err := dbopen.Exec(ctx, s.DB, `UPDATE textures SET `+strings.Join(sets, ", ")+`
		WHERE seq = (SELECT MIN(seq) FROM textures WHERE id = ?)`, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteFirst removes the earliest row with id.
func (s *Store) DeleteFirst(ctx context.Context, id string) (bool, error) {
	res, err := dbopen.Exec(ctx, s.DB, `DELETE FROM textures
		WHERE seq = (SELECT MIN(seq) FROM textures WHERE id = ?)`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Setting returns a settings value, or "" with ok=false when unset.
func (s *Store) Setting(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.DB.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// SetSetting upserts a settings value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := dbopen.Exec(ctx, s.DB, `
		INSERT INTO settings (key, value, updated_at) VALUES (?,?,?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	return err
}
