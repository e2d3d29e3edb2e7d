package dbopen_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/texstudio/dbopen"
)

func pragma(t *testing.T, db *sql.DB, name string) string {
	t.Helper()
	var v string
	if err := db.QueryRow("PRAGMA " + name).Scan(&v); err != nil {
		t.Fatalf("PRAGMA %s: %v", name, err)
	}
	return v
}

func TestOpen_Pragmas(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	db, err := dbopen.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	want := map[string]string{
		"foreign_keys": "1",
		"journal_mode": "wal",
		"busy_timeout": "10000",
		"synchronous":  "1",
	}
	for name, v := range want {
		if got := pragma(t, db, name); got != v {
			t.Errorf("%s = %q, want %q", name, got, v)
		}
	}
}

func TestOpen_Options(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithoutForeignKeys(), dbopen.WithBusyTimeout(250))
	if got := pragma(t, db, "foreign_keys"); got != "0" {
		t.Errorf("foreign_keys = %s", got)
	}
	if got := pragma(t, db, "busy_timeout"); got != "250" {
		t.Errorf("busy_timeout = %s", got)
	}
}

func TestOpen_MemorySingleConnection(t *testing.T) {
	db := dbopen.OpenMemory(t,
		dbopen.WithSchema(`CREATE TABLE textures (id TEXT)`),
		dbopen.WithSchema(`INSERT INTO textures VALUES ('texture-1')`))

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM textures`).Scan(&n); err != nil || n != 1 {
		t.Fatalf("count = %d err = %v", n, err)
	}
	if got := db.Stats().MaxOpenConnections; got != 1 {
		t.Fatalf("MaxOpenConnections = %d", got)
	}
}

func TestOpen_BadSchema(t *testing.T) {
	_, err := dbopen.Open(dbopen.MemoryPath, dbopen.WithSchema(`CREATE TABLE (`))
	if err == nil {
		t.Fatal("expected schema error")
	}
}

func TestOpen_MkdirAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "obs", "observability.db")
	db, err := dbopen.Open(path, dbopen.WithMkdirAll())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Fatalf("directory not created: %v", err)
	}
}

func TestIsBusy(t *testing.T) {
	cases := map[string]bool{
		"":                                     false,
		"no such table: textures":              false,
		"database is locked (5) (SQLITE_BUSY)": true,
		"database table is locked":             true,
	}
	for msg, want := range cases {
		var err error
		if msg != "" {
			err = errors.New(msg)
		}
		if got := dbopen.IsBusy(err); got != want {
			t.Errorf("IsBusy(%q) = %v", msg, got)
		}
	}
}

func TestRunTx_RollsBack(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(`CREATE TABLE settings (key TEXT PRIMARY KEY)`))
	stop := errors.New("stop")

	err := dbopen.RunTx(context.Background(), db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO settings VALUES ('watermark')`); err != nil {
			return err
		}
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("err = %v", err)
	}
	var n int
	db.QueryRow(`SELECT COUNT(*) FROM settings`).Scan(&n)
	if n != 0 {
		t.Fatalf("rows = %d after rollback", n)
	}
}

func TestExec_RetriesWhileBusy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "busy.db")
	holder, err := dbopen.Open(path, dbopen.WithSchema(`CREATE TABLE settings (key TEXT PRIMARY KEY)`))
	if err != nil {
		t.Fatal(err)
	}
	defer holder.Close()
	writer, err := dbopen.Open(path, dbopen.WithBusyTimeout(0))
	if err != nil {
		t.Fatal(err)
	}
	defer writer.Close()

	tx, err := holder.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tx.Exec(`INSERT INTO settings VALUES ('a')`); err != nil {
		t.Fatal(err)
	}
	go func() {
		time.Sleep(150 * time.Millisecond)
		tx.Commit()
	}()

	if _, err := dbopen.Exec(context.Background(), writer, `INSERT INTO settings VALUES ('b')`); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	var n int
	writer.QueryRow(`SELECT COUNT(*) FROM settings`).Scan(&n)
	if n != 2 {
		t.Fatalf("rows = %d, want 2", n)
	}
}

func TestExec_CancelledWhileBusy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "busy.db")
	holder, err := dbopen.Open(path, dbopen.WithSchema(`CREATE TABLE settings (key TEXT PRIMARY KEY)`))
	if err != nil {
		t.Fatal(err)
	}
	defer holder.Close()
	writer, err := dbopen.Open(path, dbopen.WithBusyTimeout(0))
	if err != nil {
		t.Fatal(err)
	}
	defer writer.Close()

	tx, err := holder.Begin()
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`INSERT INTO settings VALUES ('a')`); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = dbopen.Exec(ctx, writer, `INSERT INTO settings VALUES ('b')`)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}
