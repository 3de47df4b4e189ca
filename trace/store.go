package trace

import (
	"database/sql"
	"log/slog"
	"sync"
	"time"
)

// Schema creates the trace table. Apply it with dbopen.WithSchema when
// opening the trace file.
const Schema = `
-- One row per traced statement
CREATE TABLE IF NOT EXISTS sql_traces (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id  TEXT NOT NULL DEFAULT '',
    op          TEXT NOT NULL,
    query       TEXT NOT NULL,
    duration_us INTEGER NOT NULL,
    error       TEXT NOT NULL DEFAULT '',
    at          INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sql_traces_at ON sql_traces(at DESC);
CREATE INDEX IF NOT EXISTS idx_sql_traces_request ON sql_traces(request_id) WHERE request_id != '';
CREATE INDEX IF NOT EXISTS idx_sql_traces_slow ON sql_traces(duration_us) WHERE duration_us > 100000;
`

// Store batches entries into sql_traces off a buffered channel. It must
// sit on a database opened with the plain "sqlite" driver, in its own
// file, so flushing never traces itself.
type Store struct {
	db   *sql.DB
	ch   chan *Entry
	done chan struct{}
	once sync.Once
}

// NewStore starts the flush goroutine. Close drains and stops it.
func NewStore(db *sql.DB) *Store {
	s := &Store{
		db:   db,
		ch:   make(chan *Entry, 1024),
		done: make(chan struct{}),
	}
	go s.loop()
	return s
}

// RecordAsync hands an entry to the flush goroutine. When the buffer is
// full the entry is dropped; tracing must never block a query.
func (s *Store) RecordAsync(e *Entry) {
	select {
	case s.ch <- e:
	default:
	}
}

// Close flushes whatever is buffered and stops the flush goroutine.
func (s *Store) Close() error {
	s.once.Do(func() {
		close(s.ch)
		<-s.done
	})
	return nil
}

func (s *Store) loop() {
	defer close(s.done)

	batch := make([]*Entry, 0, 64)
	tick := time.NewTicker(time.Second)
	defer tick.Stop()

	for {
		select {
		case e, ok := <-s.ch:
			if !ok {
				s.write(batch)
				return
			}
			batch = append(batch, e)
			if len(batch) >= 64 {
				s.write(batch)
				batch = batch[:0]
			}
		case <-tick.C:
			if len(batch) > 0 {
				s.write(batch)
				batch = batch[:0]
			}
		}
	}
}

func (s *Store) write(batch []*Entry) {
	if len(batch) == 0 {
		return
	}

	tx, err := s.db.Begin()
	if err != nil {
		slog.Error("trace: begin", "error", err)
		return
	}
	stmt, err := tx.Prepare(`INSERT INTO sql_traces (request_id, op, query, duration_us, error, at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		slog.Error("trace: prepare", "error", err)
		return
	}
	defer stmt.Close()

	for _, e := range batch {
		if _, err := stmt.Exec(e.RequestID, e.Op, e.Query, e.DurationUs, e.Error, e.At); err != nil {
			slog.Error("trace: insert", "error", err)
		}
	}
	if err := tx.Commit(); err != nil {
		slog.Error("trace: commit", "error", err)
	}
}
