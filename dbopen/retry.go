package dbopen

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Attempts is how many times RunTx and Exec try a statement that keeps
// hitting SQLITE_BUSY. Attempt n waits n*BusyBackoff before the next.
const (
	Attempts    = 3
	BusyBackoff = 100 * time.Millisecond
)

var busyMarkers = []string{"SQLITE_BUSY", "database is locked", "database table is locked"}

// IsBusy reports whether err is an SQLite lock conflict.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, m := range busyMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// RunTx runs fn in a transaction, rolling back when fn fails and retrying
// the whole transaction while SQLite reports BUSY.
func RunTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	_, err := retryBusy(ctx, "tx", func() (struct{}, error) {
		return struct{}{}, txOnce(ctx, db, fn)
	})
	return err
}

// Exec is db.ExecContext with the RunTx retry policy.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	return retryBusy(ctx, "exec", func() (sql.Result, error) {
		return db.ExecContext(ctx, query, args...)
	})
}

func txOnce(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("dbopen: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		return errors.Join(err, ignoreDone(tx.Rollback()))
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("dbopen: commit: %w", err)
	}
	return nil
}

func ignoreDone(err error) error {
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

func retryBusy[T any](ctx context.Context, what string, op func() (T, error)) (T, error) {
	var (
		v   T
		err error
	)
	for n := 1; n <= Attempts; n++ {
		v, err = op()
		if err == nil || !IsBusy(err) {
			return v, err
		}
		if n == Attempts {
			break
		}
		timer := time.NewTimer(time.Duration(n) * BusyBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return v, fmt.Errorf("dbopen: %s: %w", what, ctx.Err())
		case <-timer.C:
		}
	}
	return v, fmt.Errorf("dbopen: %s: still busy after %d attempts: %w", what, Attempts, err)
}
