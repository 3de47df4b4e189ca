// Package queue persists chain submissions and runs them one at a time.
//
// Submissions arrive from the ops API or the MCP surface, get linted into
// drafts at enqueue time, and wait in SQLite until the worker claims them.
// One browser means one run at a time: the worker is a single-flight
// dispatcher woken by database change notifications, so a second process
// writing the same file still gets its rows picked up.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/plume/dbopen"
	"github.com/hazyhaar/plume/poster"
	"github.com/hazyhaar/plume/prepare"
)

// Submission statuses. A row moves from pending to running to one of
// done, aborted, or failed, and never back.
const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusDone    = "done"
	StatusAborted = "aborted"
	StatusFailed  = "failed"
)

// ErrNotFound is returned when no submission matches.
var ErrNotFound = errors.New("queue: not found")

// Request is what callers enqueue: raw texts plus how to shape them.
// ParentID turns the run into a resume, every message posted as a reply
// under that post.
type Request struct {
	Texts    []string       `json:"texts"`
	Format   prepare.Format `json:"format,omitempty"`
	ParentID string         `json:"parent_id,omitempty"`
}

// Submission is one queued chain run.
type Submission struct {
	ID         string          `json:"id"`
	Status     string          `json:"status"`
	Format     string          `json:"format"`
	ParentID   string          `json:"parent_id,omitempty"`
	Drafts     []poster.Draft  `json:"drafts"`
	Fixups     []prepare.Fixup `json:"fixups,omitempty"`
	ChainID    string          `json:"chain_id,omitempty"`
	Result     *poster.Result  `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  int64           `json:"created_at"`
	StartedAt  int64           `json:"started_at,omitempty"`
	FinishedAt int64           `json:"finished_at,omitempty"`
}

// Store wraps the chain_queue table.
type Store struct {
	DB *sql.DB
}

// NewStore creates a Store. The schema must already be applied.
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db}
}

const subCols = `id, payload, fixups, format, parent_id, status, chain_id, result, error, created_at, started_at, finished_at`

func (s *Store) insert(ctx context.Context, sub *Submission) error {
	payload, err := json.Marshal(sub.Drafts)
	if err != nil {
		return fmt.Errorf("queue: encode drafts: %w", err)
	}
	fixups := ""
	if len(sub.Fixups) > 0 {
		b, err := json.Marshal(sub.Fixups)
		if err != nil {
			return fmt.Errorf("queue: encode fixups: %w", err)
		}
		fixups = string(b)
	}
	_, err = dbopen.Exec(ctx, s.DB, `
		INSERT INTO chain_queue (id, payload, fixups, format, parent_id, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, string(payload), fixups, sub.Format, sub.ParentID, sub.Status, sub.CreatedAt,
	)
	return err
}

// Submission returns one row by queue id.
func (s *Store) Submission(ctx context.Context, id string) (*Submission, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+subCols+` FROM chain_queue WHERE id = ?`, id)
	sub, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sub, err
}

// ByChainID returns the row whose run produced the given poster chain id.
func (s *Store) ByChainID(ctx context.Context, chainID string) (*Submission, error) {
	if chainID == "" {
		return nil, ErrNotFound
	}
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+subCols+` FROM chain_queue WHERE chain_id = ?`, chainID)
	sub, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sub, err
}

// claim atomically moves the oldest pending row to running and returns it.
// Returns nil, nil when nothing is pending.
func (s *Store) claim(ctx context.Context) (*Submission, error) {
	var sub *Submission
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			UPDATE chain_queue
			SET status = ?, started_at = ?
			WHERE id = (
				SELECT id FROM chain_queue
				WHERE status = ?
				ORDER BY created_at ASC, id ASC
				LIMIT 1
			)
			RETURNING `+subCols,
			StatusRunning, time.Now().UnixMilli(), StatusPending,
		)
		got, err := scanSubmission(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		sub = got
		return nil
	})
	return sub, err
}

// finish records the run outcome on a claimed row.
func (s *Store) finish(ctx context.Context, id, status, chainID, resultJSON string) error {
	res, err := dbopen.Exec(ctx, s.DB, `
		UPDATE chain_queue
		SET status = ?, chain_id = ?, result = ?, finished_at = ?
		WHERE id = ?`,
		status, chainID, resultJSON, time.Now().UnixMilli(), id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// fail marks a claimed row failed with its error text.
func (s *Store) fail(ctx context.Context, id, errMsg string) error {
	res, err := dbopen.Exec(ctx, s.DB, `
		UPDATE chain_queue
		SET status = ?, error = ?, finished_at = ?
		WHERE id = ?`,
		StatusFailed, errMsg, time.Now().UnixMilli(), id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// failInterrupted marks every running row failed. Called once at worker
// start: a row still running means the previous process died mid-run, and
// re-posting its drafts could duplicate what already landed. The operator
// resumes explicitly once the journal says how far the chain got.
func (s *Store) failInterrupted(ctx context.Context) (int64, error) {
	res, err := dbopen.Exec(ctx, s.DB, `
		UPDATE chain_queue
		SET status = ?, error = 'interrupted: worker restarted mid-run', finished_at = ?
		WHERE status = ?`,
		StatusFailed, time.Now().UnixMilli(), StatusRunning,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Counts returns the number of rows per status.
func (s *Store) Counts(ctx context.Context) (map[string]int, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM chain_queue GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row rowScanner) (*Submission, error) {
	var sub Submission
	var payload, fixups, result string
	err := row.Scan(&sub.ID, &payload, &fixups, &sub.Format, &sub.ParentID,
		&sub.Status, &sub.ChainID, &result, &sub.Error,
		&sub.CreatedAt, &sub.StartedAt, &sub.FinishedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(payload), &sub.Drafts); err != nil {
		return nil, fmt.Errorf("queue: decode drafts for %s: %w", sub.ID, err)
	}
	if fixups != "" {
		if err := json.Unmarshal([]byte(fixups), &sub.Fixups); err != nil {
			return nil, fmt.Errorf("queue: decode fixups for %s: %w", sub.ID, err)
		}
	}
	if result != "" {
		if err := json.Unmarshal([]byte(result), &sub.Result); err != nil {
			return nil, fmt.Errorf("queue: decode result for %s: %w", sub.ID, err)
		}
	}
	return &sub, nil
}
