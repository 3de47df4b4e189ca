// Package pulse keeps plume's operational record in the service database:
// worker liveness, sampled gauges, and an audit trail of operator actions.
// Everything is plain SQLite, readable with nothing but the sqlite3 shell.
package pulse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/hazyhaar/plume/idgen"
)

// Beat is one liveness probe with its runtime snapshot.
type Beat struct {
	ID         string  `json:"id"`
	Worker     string  `json:"worker"`
	Hostname   string  `json:"hostname"`
	PID        int     `json:"pid"`
	Goroutines int     `json:"goroutines"`
	HeapMB     float64 `json:"heap_mb"`
	SysMB      float64 `json:"sys_mb"`
	GCCount    int64   `json:"gc_count"`
	At         int64   `json:"at"`
}

// Heartbeat periodically writes liveness rows for one named worker. A
// monitoring query over worker_heartbeats answers "is plume alive, and
// how fat is its heap" without touching the process.
type Heartbeat struct {
	db       *sql.DB
	worker   string
	hostname string
	pid      int
	interval time.Duration
	newID    idgen.Generator
	logger   *slog.Logger
}

// NewHeartbeat creates a writer for the named worker. Interval zero
// defaults to 15 seconds.
func NewHeartbeat(db *sql.DB, worker string, interval time.Duration, logger *slog.Logger) *Heartbeat {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &Heartbeat{
		db:       db,
		worker:   worker,
		hostname: hostname,
		pid:      os.Getpid(),
		interval: interval,
		newID:    idgen.Prefixed("hb_", idgen.UUIDv7()),
		logger:   logger.With("component", "pulse"),
	}
}

// Run beats once immediately, then on every interval until ctx ends.
func (h *Heartbeat) Run(ctx context.Context) {
	if err := h.Beat(ctx); err != nil {
		h.logger.Warn("heartbeat", "error", err)
	}
	tick := time.NewTicker(h.interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if err := h.Beat(ctx); err != nil {
				h.logger.Warn("heartbeat", "error", err)
			}
		}
	}
}

// Beat writes a single liveness row with current runtime stats.
func (h *Heartbeat) Beat(ctx context.Context) error {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	_, err := h.db.ExecContext(ctx,
		`INSERT INTO worker_heartbeats (id, worker, hostname, pid, goroutines, heap_mb, sys_mb, gc_count, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.newID(), h.worker, h.hostname, h.pid,
		runtime.NumGoroutine(),
		float64(mem.Alloc)/1024/1024,
		float64(mem.Sys)/1024/1024,
		int64(mem.NumGC),
		time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("pulse: heartbeat: %w", err)
	}
	return nil
}

// Latest returns the most recent beat for a worker, or nil when the
// worker has never beaten.
func (h *Heartbeat) Latest(ctx context.Context, worker string) (*Beat, error) {
	row := h.db.QueryRowContext(ctx,
		`SELECT id, worker, hostname, pid, goroutines, heap_mb, sys_mb, gc_count, at
		FROM worker_heartbeats WHERE worker = ? ORDER BY at DESC LIMIT 1`, worker)

	var b Beat
	err := row.Scan(&b.ID, &b.Worker, &b.Hostname, &b.PID, &b.Goroutines, &b.HeapMB, &b.SysMB, &b.GCCount, &b.At)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pulse: scan heartbeat: %w", err)
	}
	return &b, nil
}
