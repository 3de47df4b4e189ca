package dbopen_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/plume/dbopen"
)

func TestOpen_Pragmas(t *testing.T) {
	db := dbopen.OpenMemory(t)

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatal(err)
	}
	// :memory: reports "memory" for journal_mode even after the WAL pragma.
	if journalMode != "wal" && journalMode != "memory" {
		t.Fatalf("journal_mode = %q, want wal or memory", journalMode)
	}

	var fk int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatal(err)
	}
	if fk != 1 {
		t.Fatalf("foreign_keys = %d, want 1", fk)
	}

	var busyTimeout int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout); err != nil {
		t.Fatal(err)
	}
	if busyTimeout != 10_000 {
		t.Fatalf("busy_timeout = %d, want 10000", busyTimeout)
	}
}

func TestWithBusyTimeout(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithBusyTimeout(5000))

	var bt int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&bt); err != nil {
		t.Fatal(err)
	}
	if bt != 5000 {
		t.Fatalf("busy_timeout = %d, want 5000", bt)
	}
}

func TestWithSchema_Ordered(t *testing.T) {
	db := dbopen.OpenMemory(t,
		dbopen.WithSchema(`CREATE TABLE runs (id TEXT PRIMARY KEY)`),
		dbopen.WithSchema(`CREATE TABLE run_posts (id TEXT PRIMARY KEY, run_id TEXT NOT NULL REFERENCES runs(id))`),
	)

	if _, err := db.Exec(`INSERT INTO runs (id) VALUES ('chain_1')`); err != nil {
		t.Fatalf("insert run: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO run_posts (id, run_id) VALUES ('post_1', 'chain_1')`); err != nil {
		t.Fatalf("insert post referencing run: %v", err)
	}
	// FK is on, so an orphan insert must fail.
	if _, err := db.Exec(`INSERT INTO run_posts (id, run_id) VALUES ('post_2', 'missing')`); err == nil {
		t.Fatal("orphan insert succeeded, foreign_keys not enforced")
	}
}

func TestWithMkdirAll(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "data", "plume", "plume.db")

	db, err := dbopen.Open(dbPath, dbopen.WithMkdirAll())
	if err != nil {
		t.Fatalf("open with mkdirall: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(filepath.Dir(dbPath)); err != nil {
		t.Fatalf("directory not created: %v", err)
	}
}

func TestIsBusy(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("no such table: posts"), false},
		{errors.New("SQLITE_BUSY"), true},
		{errors.New("database is locked"), true},
		{errors.New("database table is locked"), true},
		{errors.New("journal: insert: SQLITE_BUSY (5)"), true},
	}
	for _, tt := range tests {
		if got := dbopen.IsBusy(tt.err); got != tt.want {
			t.Errorf("IsBusy(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestRunTx_CommitAndRollback(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(`CREATE TABLE attempts (id TEXT PRIMARY KEY)`))
	ctx := context.Background()

	if err := dbopen.RunTx(ctx, db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO attempts (id) VALUES ('att_1')`)
		return err
	}); err != nil {
		t.Fatalf("RunTx: %v", err)
	}

	sentinel := errors.New("abort this write")
	err := dbopen.RunTx(ctx, db, func(tx *sql.Tx) error {
		tx.Exec(`INSERT INTO attempts (id) VALUES ('att_2')`)
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("RunTx error = %v, want sentinel", err)
	}

	var count int
	db.QueryRow(`SELECT COUNT(*) FROM attempts`).Scan(&count)
	if count != 1 {
		t.Fatalf("count = %d, want 1 (second insert rolled back)", count)
	}
}

func TestExec(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(`CREATE TABLE marks (id TEXT PRIMARY KEY)`))

	if _, err := dbopen.Exec(context.Background(), db, `INSERT INTO marks (id) VALUES (?)`, "m1"); err != nil {
		t.Fatalf("Exec: %v", err)
	}

	var count int
	db.QueryRow(`SELECT COUNT(*) FROM marks`).Scan(&count)
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
}

func TestRunTx_CancelledContext(t *testing.T) {
	db := dbopen.OpenMemory(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := dbopen.RunTx(ctx, db, func(*sql.Tx) error { return nil }); err == nil {
		t.Fatal("expected error on cancelled context")
	}
}
