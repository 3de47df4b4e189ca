package pulse

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/plume/idgen"
)

// Metric is one timeseries datapoint.
type Metric struct {
	Name   string            `json:"name"`
	Value  float64           `json:"value"`
	Unit   string            `json:"unit,omitempty"`
	Labels map[string]string `json:"labels,omitempty"`
	At     int64             `json:"at"`
}

// Recorder buffers gauge samples and flushes them to SQLite in batches,
// so a hot sampling loop never writes one row at a time. Record never
// blocks on the database; a full buffer flushes inline.
type Recorder struct {
	db     *sql.DB
	every  time.Duration
	cap    int
	newID  idgen.Generator
	logger *slog.Logger

	mu  sync.Mutex
	buf []*Metric
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithFlushEvery sets the periodic flush interval. Default 5s.
func WithFlushEvery(d time.Duration) RecorderOption {
	return func(r *Recorder) { r.every = d }
}

// WithBufferCap sets the in-memory sample cap before an inline flush.
// Default 100.
func WithBufferCap(n int) RecorderOption {
	return func(r *Recorder) { r.cap = n }
}

// NewRecorder creates a metrics recorder.
func NewRecorder(db *sql.DB, logger *slog.Logger, opts ...RecorderOption) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		db:     db,
		every:  5 * time.Second,
		cap:    100,
		newID:  idgen.Prefixed("met_", idgen.UUIDv7()),
		logger: logger.With("component", "pulse"),
	}
	for _, o := range opts {
		o(r)
	}
	r.buf = make([]*Metric, 0, r.cap)
	return r
}

// Record queues one unlabeled sample.
func (r *Recorder) Record(name string, value float64, unit string) {
	r.RecordLabeled(name, value, unit, nil)
}

// RecordLabeled queues one sample with labels.
func (r *Recorder) RecordLabeled(name string, value float64, unit string, labels map[string]string) {
	m := &Metric{Name: name, Value: value, Unit: unit, Labels: labels, At: time.Now().UnixMilli()}
	r.mu.Lock()
	r.buf = append(r.buf, m)
	full := len(r.buf) >= r.cap
	r.mu.Unlock()
	if full {
		r.flush(context.Background())
	}
}

// Run flushes on every interval until ctx ends, then takes a final flush
// so shutdown does not drop the tail of the buffer.
func (r *Recorder) Run(ctx context.Context) {
	tick := time.NewTicker(r.every)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			r.flush(context.Background())
			return
		case <-tick.C:
			r.flush(ctx)
		}
	}
}

// Flush writes any buffered samples immediately.
func (r *Recorder) Flush(ctx context.Context) { r.flush(ctx) }

func (r *Recorder) flush(ctx context.Context) {
	r.mu.Lock()
	if len(r.buf) == 0 {
		r.mu.Unlock()
		return
	}
	batch := r.buf
	r.buf = make([]*Metric, 0, r.cap)
	r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		r.logger.Warn("metrics flush", "error", err, "dropped", len(batch))
		return
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO service_metrics (id, name, value, unit, labels, at) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		r.logger.Warn("metrics flush", "error", err, "dropped", len(batch))
		return
	}
	for _, m := range batch {
		labels := ""
		if len(m.Labels) > 0 {
			if b, err := json.Marshal(m.Labels); err == nil {
				labels = string(b)
			}
		}
		if _, err := stmt.ExecContext(ctx, r.newID(), m.Name, m.Value, m.Unit, labels, m.At); err != nil {
			r.logger.Warn("metrics insert", "metric", m.Name, "error", err)
		}
	}
	stmt.Close()
	if err := tx.Commit(); err != nil {
		r.logger.Warn("metrics commit", "error", err)
	}
}

// Series returns samples for one metric, newest first. since of zero
// means unbounded; limit of zero defaults to 100.
func (r *Recorder) Series(ctx context.Context, name string, since int64, limit int) ([]*Metric, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT name, value, unit, labels, at FROM service_metrics
		WHERE name = ? AND at >= ? ORDER BY at DESC LIMIT ?`, name, since, limit)
	if err != nil {
		return nil, fmt.Errorf("pulse: query metrics: %w", err)
	}
	defer rows.Close()

	var out []*Metric
	for rows.Next() {
		var m Metric
		var labels string
		if err := rows.Scan(&m.Name, &m.Value, &m.Unit, &labels, &m.At); err != nil {
			return nil, fmt.Errorf("pulse: scan metric: %w", err)
		}
		if labels != "" {
			_ = json.Unmarshal([]byte(labels), &m.Labels)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}
