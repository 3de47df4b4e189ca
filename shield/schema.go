package shield

import "database/sql"

// Schema defines the SQLite tables the middlewares read:
//   - rate_limits: per-endpoint rules, keyed "METHOD /path"
//   - maintenance: single-row global gate
//
// All statements are idempotent. The seeded rate limit keeps a runaway
// client from flooding the posting queue; everything else is unlimited
// until an operator adds a row.
const Schema = `
CREATE TABLE IF NOT EXISTS rate_limits (
    endpoint       TEXT PRIMARY KEY,
    max_requests   INTEGER NOT NULL DEFAULT 60,
    window_seconds INTEGER NOT NULL DEFAULT 60,
    enabled        INTEGER NOT NULL DEFAULT 1
);

INSERT OR IGNORE INTO rate_limits (endpoint, max_requests, window_seconds, enabled)
VALUES ('POST /v1/chains', 10, 300, 1);

CREATE TABLE IF NOT EXISTS maintenance (
    id      INTEGER PRIMARY KEY CHECK (id = 1),
    active  INTEGER NOT NULL DEFAULT 0,
    message TEXT NOT NULL DEFAULT 'temporarily down for maintenance'
);

INSERT OR IGNORE INTO maintenance (id, active, message)
VALUES (1, 0, 'temporarily down for maintenance');
`

// Init creates the shield tables if they don't exist.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
