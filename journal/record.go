package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/hazyhaar/plume/dbopen"
	"github.com/hazyhaar/plume/poster"
)

// RecordResult journals one finished run in a single transaction: the
// chain row, a post row per message the run published, and every
// attempt. texts holds the message texts in the order they were posted
// this run; resumed marks runs whose root was inherited from an earlier
// chain rather than posted here.
func (s *Store) RecordResult(ctx context.Context, res *poster.Result, texts []string, resumed bool) error {
	if res == nil {
		return errors.New("journal: nil result")
	}

	status := "completed"
	if res.Aborted {
		status = "aborted"
	}

	ids := res.ReplyIDs
	if !resumed && res.RootID != "" {
		ids = append([]string{res.RootID}, res.ReplyIDs...)
	}

	// Reply permalinks share the root's prefix, so they can be rebuilt
	// by swapping the trailing id.
	linkBase := ""
	if res.RootID != "" && strings.HasSuffix(res.Permalink, res.RootID) {
		linkBase = strings.TrimSuffix(res.Permalink, res.RootID)
	}

	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO chains (id, status, root_id, permalink, messages, last_completed,
			aborted, abort_reason, resumed, started_at, finished_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			res.ChainID, status, res.RootID, res.Permalink, len(texts), res.LastCompleted,
			res.Aborted, res.AbortReason, resumed,
			res.StartedAt.UnixMilli(), res.FinishedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("journal: insert chain: %w", err)
		}

		for i, id := range ids {
			text := ""
			if i < len(texts) {
				text = texts[i]
			}
			strategy, score := "", 0.0
			if i < len(res.Extractions) {
				strategy = string(res.Extractions[i].Strategy)
				score = res.Extractions[i].Score
			}
			permalink := ""
			if linkBase != "" {
				permalink = linkBase + id
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO posts (id, chain_id, position, text, permalink, strategy, score, posted_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				id, res.ChainID, i, text, permalink, strategy, score,
				postedAt(res, i),
			)
			if err != nil {
				return fmt.Errorf("journal: insert post %s: %w", id, err)
			}
		}

		for _, a := range res.Attempts {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO attempts (chain_id, position, number, strategy, outcome, error, at)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				res.ChainID, a.MessageIndex, a.Number, a.Strategy, a.Outcome, a.Error,
				a.At.UnixMilli(),
			)
			if err != nil {
				return fmt.Errorf("journal: insert attempt: %w", err)
			}
		}
		return nil
	})
}

// postedAt finds when message index was verified, falling back to the
// run's finish time.
func postedAt(res *poster.Result, index int) int64 {
	for _, a := range res.Attempts {
		if a.MessageIndex == index && a.Outcome == poster.OutcomeOK {
			return a.At.UnixMilli()
		}
	}
	return res.FinishedAt.UnixMilli()
}

// Chain retrieves one recorded run.
func (s *Store) Chain(ctx context.Context, id string) (*Chain, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, status, root_id, permalink, messages, last_completed,
		aborted, abort_reason, resumed, started_at, finished_at
		FROM chains WHERE id = ?`, id)

	var c Chain
	var aborted, resumed int
	err := row.Scan(&c.ID, &c.Status, &c.RootID, &c.Permalink, &c.Messages, &c.LastCompleted,
		&aborted, &c.AbortReason, &resumed, &c.StartedAt, &c.FinishedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("journal: scan chain: %w", err)
	}
	c.Aborted = aborted != 0
	c.Resumed = resumed != 0
	return &c, nil
}

// ChainPosts returns the posts of a chain in thread order.
func (s *Store) ChainPosts(ctx context.Context, chainID string) ([]*Post, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, chain_id, position, text, permalink, strategy, score, archive_md, archived_at, posted_at
		FROM posts WHERE chain_id = ? ORDER BY position ASC`, chainID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPosts(rows)
}

// ChainAttempts returns every attempt of a chain in the order they ran.
func (s *Store) ChainAttempts(ctx context.Context, chainID string) ([]*Attempt, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT chain_id, position, number, strategy, outcome, error, at
		FROM attempts WHERE chain_id = ? ORDER BY at ASC, id ASC`, chainID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Attempt
	for rows.Next() {
		var a Attempt
		if err := rows.Scan(&a.ChainID, &a.Position, &a.Number, &a.Strategy, &a.Outcome, &a.Error, &a.At); err != nil {
			return nil, fmt.Errorf("journal: scan attempt: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// Post retrieves one published post by platform id.
func (s *Store) Post(ctx context.Context, id string) (*Post, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, chain_id, position, text, permalink, strategy, score, archive_md, archived_at, posted_at
		FROM posts WHERE id = ?`, id)

	p, err := scanPost(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

// RecentPosts returns the newest posts, most recent first.
func (s *Store) RecentPosts(ctx context.Context, limit int) ([]*Post, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, chain_id, position, text, permalink, strategy, score, archive_md, archived_at, posted_at
		FROM posts ORDER BY posted_at DESC, position DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPosts(rows)
}

// Totals aggregates journal counters.
func (s *Store) Totals(ctx context.Context) (*Totals, error) {
	var t Totals
	err := s.DB.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM chains),
		(SELECT COUNT(*) FROM chains WHERE status = 'completed'),
		(SELECT COUNT(*) FROM chains WHERE aborted = 1),
		(SELECT COUNT(*) FROM posts),
		(SELECT COUNT(*) FROM attempts),
		(SELECT COUNT(*) FROM post_attribution),
		(SELECT COALESCE(AVG(engagement_rate), 0) FROM post_attribution)`,
	).Scan(&t.Chains, &t.ChainsCompleted, &t.ChainsAborted, &t.Posts, &t.Attempts,
		&t.Attributed, &t.AvgEngagement)
	if err != nil {
		return nil, fmt.Errorf("journal: totals: %w", err)
	}
	return &t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (*Post, error) {
	var p Post
	err := row.Scan(&p.ID, &p.ChainID, &p.Position, &p.Text, &p.Permalink,
		&p.Strategy, &p.Score, &p.ArchiveMD, &p.ArchivedAt, &p.PostedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func collectPosts(rows *sql.Rows) ([]*Post, error) {
	var out []*Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("journal: scan post: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
