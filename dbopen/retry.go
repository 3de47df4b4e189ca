package dbopen

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const (
	maxAttempts = 3
	backoffStep = 100 * time.Millisecond
)

// IsBusy reports whether err indicates an SQLite BUSY/locked condition.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// RunTx executes fn inside a transaction, retrying the whole transaction on
// SQLITE_BUSY with linear backoff (100/200/300 ms). Any other error, and
// any error from fn, aborts immediately.
func RunTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	var last error
	for i := 0; i < maxAttempts; i++ {
		last = runOnce(ctx, db, fn)
		if last == nil {
			return nil
		}
		if !IsBusy(last) || i == maxAttempts-1 {
			return last
		}
		if err := sleepCtx(ctx, backoffStep*time.Duration(i+1)); err != nil {
			return fmt.Errorf("dbopen: context cancelled during retry: %w", err)
		}
	}
	return last
}

func runOnce(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("dbopen: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("dbopen: commit: %w", err)
	}
	return nil
}

// Exec executes one statement with the same busy-retry policy as RunTx.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	var last error
	for i := 0; i < maxAttempts; i++ {
		result, err := db.ExecContext(ctx, query, args...)
		if err == nil {
			return result, nil
		}
		last = err
		if !IsBusy(err) || i == maxAttempts-1 {
			return nil, err
		}
		if err := sleepCtx(ctx, backoffStep*time.Duration(i+1)); err != nil {
			return nil, fmt.Errorf("dbopen: context cancelled during retry: %w", err)
		}
	}
	return nil, last
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
