package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/plume/dbopen"
)

// UpsertAttribution writes or refreshes the engagement numbers for a
// post. The post must exist; PostedAt is copied from the post row so
// attribution survives post archive cleanup.
func (s *Store) UpsertAttribution(ctx context.Context, attr *Attribution) error {
	if attr == nil || attr.PostID == "" {
		return errors.New("journal: attribution needs a post id")
	}

	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		var postedAt int64
		err := tx.QueryRowContext(ctx,
			`SELECT posted_at FROM posts WHERE id = ?`, attr.PostID).Scan(&postedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("journal: look up post: %w", err)
		}

		now := time.Now().UnixMilli()
		_, err = tx.ExecContext(ctx,
			`INSERT INTO post_attribution (post_id, engagement_rate, impressions,
			followers_gained, hook_pattern, topic, generator_used, posted_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(post_id) DO UPDATE SET
				engagement_rate  = excluded.engagement_rate,
				impressions      = excluded.impressions,
				followers_gained = excluded.followers_gained,
				hook_pattern     = excluded.hook_pattern,
				topic            = excluded.topic,
				generator_used   = excluded.generator_used,
				updated_at       = excluded.updated_at`,
			attr.PostID, attr.EngagementRate, attr.Impressions, attr.FollowersGained,
			attr.HookPattern, attr.Topic, attr.GeneratorUsed, postedAt, now,
		)
		if err != nil {
			return fmt.Errorf("journal: upsert attribution: %w", err)
		}
		return nil
	})
}

// Attribution retrieves the engagement record for a post.
func (s *Store) Attribution(ctx context.Context, postID string) (*Attribution, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT post_id, engagement_rate, impressions, followers_gained,
		hook_pattern, topic, generator_used, posted_at, updated_at
		FROM post_attribution WHERE post_id = ?`, postID)

	var a Attribution
	err := row.Scan(&a.PostID, &a.EngagementRate, &a.Impressions, &a.FollowersGained,
		&a.HookPattern, &a.Topic, &a.GeneratorUsed, &a.PostedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("journal: scan attribution: %w", err)
	}
	return &a, nil
}
