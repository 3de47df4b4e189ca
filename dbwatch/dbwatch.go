// Package dbwatch turns SQLite writes into wakeup signals.
//
// The queue worker must notice new chain_queue rows written by the ops API
// or the MCP surface without holding its own polling query. dbwatch polls a
// cheap version token (PRAGMA data_version by default), debounces bursts,
// and nudges a channel the worker selects on.
//
//	n := dbwatch.New(db, dbwatch.Options{Interval: 200 * time.Millisecond})
//	go n.Run(ctx)
//	select {
//	case <-n.C():
//	    // something changed, go look
//	}
package dbwatch

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// Detector reads a version token from the database. Two calls returning
// different values mean "something changed".
type Detector func(ctx context.Context, db *sql.DB) (int64, error)

// Options tunes the notifier.
type Options struct {
	// Interval is the polling frequency. Default: 1s.
	Interval time.Duration
	// Debounce is the quiet period after a detected change before the
	// nudge is sent; further changes inside the window reset it. 0 sends
	// immediately.
	Debounce time.Duration
	// Detector overrides the default DataVersion detector.
	Detector Detector
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.Detector == nil {
		o.Detector = DataVersion
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Notifier polls a SQLite database and signals a channel when it changes.
// The channel has capacity 1 and sends never block: a slow consumer sees
// one pending nudge, not a backlog.
type Notifier struct {
	db   *sql.DB
	opts Options
	ch   chan struct{}

	version atomic.Int64
	checks  atomic.Int64
	changes atomic.Int64
	errs    atomic.Int64
}

// Stats are point-in-time counters.
type Stats struct {
	Checks  int64 `json:"checks"`
	Changes int64 `json:"changes"`
	Errors  int64 `json:"errors"`
}

// New creates a Notifier. Call Run to start polling.
func New(db *sql.DB, opts Options) *Notifier {
	opts.defaults()
	return &Notifier{db: db, opts: opts, ch: make(chan struct{}, 1)}
}

// C is the nudge channel.
func (n *Notifier) C() <-chan struct{} { return n.ch }

// Version returns the last observed version token.
func (n *Notifier) Version() int64 { return n.version.Load() }

// Stats returns the current counters.
func (n *Notifier) Stats() Stats {
	return Stats{Checks: n.checks.Load(), Changes: n.changes.Load(), Errors: n.errs.Load()}
}

// Run blocks until ctx is cancelled, polling at Options.Interval.
func (n *Notifier) Run(ctx context.Context) {
	log := n.opts.Logger

	if v, err := n.opts.Detector(ctx, n.db); err != nil {
		log.Warn("dbwatch: initial version check failed", "error", err)
	} else {
		n.version.Store(v)
	}

	ticker := time.NewTicker(n.opts.Interval)
	defer ticker.Stop()

	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time
	pending := false

	log.Debug("dbwatch: started", "interval", n.opts.Interval, "debounce", n.opts.Debounce)

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			log.Debug("dbwatch: stopped")
			return

		case <-ticker.C:
			n.checks.Add(1)
			cur, err := n.opts.Detector(ctx, n.db)
			if err != nil {
				n.errs.Add(1)
				log.Warn("dbwatch: version check failed", "error", err)
				continue
			}
			if cur == n.version.Load() {
				continue
			}
			n.version.Store(cur)
			n.changes.Add(1)

			if n.opts.Debounce <= 0 {
				n.nudge()
				continue
			}
			pending = true
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.NewTimer(n.opts.Debounce)
			debounceCh = debounceTimer.C

		case <-debounceCh:
			debounceCh = nil
			if pending {
				pending = false
				n.nudge()
			}
		}
	}
}

func (n *Notifier) nudge() {
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

// DataVersion reads PRAGMA data_version, which increments whenever another
// connection writes the database file. Detects cross-process writes.
func DataVersion(ctx context.Context, db *sql.DB) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v)
	return v, err
}

// MaxColumn returns a Detector polling MAX(column) on table, for tables
// carrying a monotonic timestamp. Identifiers are quoted.
func MaxColumn(table, column string) Detector {
	query := "SELECT COALESCE(MAX(" + quoteIdent(column) + "), 0) FROM " + quoteIdent(table)
	return func(ctx context.Context, db *sql.DB) (int64, error) {
		var v int64
		err := db.QueryRowContext(ctx, query).Scan(&v)
		return v, err
	}
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
