package journal

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetentionConfig specifies journal retention in days. Zero disables
// cleanup for that kind. Posts and chains are never expired; only the
// attempt log and the archived snapshots age out.
type RetentionConfig struct {
	AttemptsDays int
	ArchiveDays  int
}

// Cleanup applies retention once: attempts older than AttemptsDays are
// deleted, archives older than ArchiveDays are blanked in place. It
// returns how many rows each pass touched.
func (s *Store) Cleanup(ctx context.Context, cfg RetentionConfig) (attempts, archives int64, err error) {
	if cfg.AttemptsDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -cfg.AttemptsDays).UnixMilli()
		res, err := s.DB.ExecContext(ctx, `DELETE FROM attempts WHERE at < ?`, cutoff)
		if err != nil {
			return 0, 0, fmt.Errorf("journal: cleanup attempts: %w", err)
		}
		attempts, _ = res.RowsAffected()
	}

	if cfg.ArchiveDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -cfg.ArchiveDays).UnixMilli()
		res, err := s.DB.ExecContext(ctx,
			`UPDATE posts SET archive_md = '', archived_at = NULL
			WHERE archived_at IS NOT NULL AND archived_at < ?`, cutoff)
		if err != nil {
			return attempts, 0, fmt.Errorf("journal: cleanup archives: %w", err)
		}
		archives, _ = res.RowsAffected()
	}

	return attempts, archives, nil
}

// RunRetention applies Cleanup on a ticker until ctx ends. Errors are
// logged and the loop keeps going.
func (s *Store) RunRetention(ctx context.Context, cfg RetentionConfig, every time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if every <= 0 {
		every = 6 * time.Hour
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			attempts, archives, err := s.Cleanup(ctx, cfg)
			if err != nil {
				logger.Error("journal: retention cleanup failed", "error", err)
				continue
			}
			if attempts > 0 || archives > 0 {
				logger.Info("journal: retention cleanup",
					"attempts_deleted", attempts, "archives_cleared", archives)
			}
		}
	}
}
