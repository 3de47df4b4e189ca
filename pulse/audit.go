package pulse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/plume/idgen"
	"github.com/hazyhaar/plume/kit"
)

// Entry is one recorded operator action.
type Entry struct {
	ID        string `json:"id"`
	Action    string `json:"action"`
	Subject   string `json:"subject,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Transport string `json:"transport"`
	RequestID string `json:"request_id,omitempty"`
	At        int64  `json:"at"`
}

// Trail records operator actions against the service: chains enqueued,
// attribution written, the browser recycled. Transport and request id
// come from the request context, so an audit row links back to the edge
// log line that carried the action in.
type Trail struct {
	db    *sql.DB
	newID idgen.Generator
}

// NewTrail creates an audit trail over db.
func NewTrail(db *sql.DB) *Trail {
	return &Trail{db: db, newID: idgen.Prefixed("aud_", idgen.UUIDv7())}
}

// Record writes one action synchronously. Mutations through the ops API
// are rare enough that buffering would only add a place to lose rows.
func (t *Trail) Record(ctx context.Context, action, subject, detail string) error {
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO ops_audit (id, action, subject, detail, transport, request_id, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.newID(), action, subject, detail,
		kit.GetTransport(ctx), kit.GetRequestID(ctx), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("pulse: audit: %w", err)
	}
	return nil
}

// Recent returns the newest entries, most recent first. limit of zero
// defaults to 50.
func (t *Trail) Recent(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := t.db.QueryContext(ctx,
		`SELECT id, action, subject, detail, transport, request_id, at
		FROM ops_audit ORDER BY at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("pulse: query audit: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Action, &e.Subject, &e.Detail, &e.Transport, &e.RequestID, &e.At); err != nil {
			return nil, fmt.Errorf("pulse: scan audit: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
