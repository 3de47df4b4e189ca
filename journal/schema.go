package journal

// Schema holds the journal tables. Timestamps are Unix milliseconds.
const Schema = `
-- Chain runs, one row per posting run that produced a result
CREATE TABLE IF NOT EXISTS chains (
    id             TEXT PRIMARY KEY,
    status         TEXT NOT NULL,                 -- completed | aborted
    root_id        TEXT NOT NULL DEFAULT '',
    permalink      TEXT NOT NULL DEFAULT '',
    messages       INTEGER NOT NULL DEFAULT 0,
    last_completed INTEGER NOT NULL DEFAULT -1,
    aborted        INTEGER NOT NULL DEFAULT 0,
    abort_reason   TEXT NOT NULL DEFAULT '',
    resumed        INTEGER NOT NULL DEFAULT 0,
    started_at     INTEGER NOT NULL,
    finished_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chains_started ON chains(started_at DESC);

-- Published posts, one row per verified message, keyed by platform id
CREATE TABLE IF NOT EXISTS posts (
    id          TEXT PRIMARY KEY,
    chain_id    TEXT NOT NULL REFERENCES chains(id) ON DELETE CASCADE,
    position    INTEGER NOT NULL,
    text        TEXT NOT NULL,
    permalink   TEXT NOT NULL DEFAULT '',
    strategy    TEXT NOT NULL DEFAULT '',
    score       REAL NOT NULL DEFAULT 0,
    archive_md  TEXT NOT NULL DEFAULT '',
    archived_at INTEGER,
    posted_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_posts_chain ON posts(chain_id, position);
CREATE INDEX IF NOT EXISTS idx_posts_time ON posts(posted_at DESC);

-- Every submission and extraction attempt, success or not
CREATE TABLE IF NOT EXISTS attempts (
    id       INTEGER PRIMARY KEY AUTOINCREMENT,
    chain_id TEXT NOT NULL REFERENCES chains(id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    number   INTEGER NOT NULL,
    strategy TEXT NOT NULL DEFAULT '',
    outcome  TEXT NOT NULL,
    error    TEXT NOT NULL DEFAULT '',
    at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attempts_chain ON attempts(chain_id, position);
CREATE INDEX IF NOT EXISTS idx_attempts_time ON attempts(at);

-- Engagement numbers the operator feeds back per post
CREATE TABLE IF NOT EXISTS post_attribution (
    post_id          TEXT PRIMARY KEY REFERENCES posts(id) ON DELETE CASCADE,
    engagement_rate  REAL NOT NULL DEFAULT 0,
    impressions      INTEGER NOT NULL DEFAULT 0,
    followers_gained INTEGER NOT NULL DEFAULT 0,
    hook_pattern     TEXT NOT NULL DEFAULT '',
    topic            TEXT NOT NULL DEFAULT '',
    generator_used   TEXT NOT NULL DEFAULT '',
    posted_at        INTEGER NOT NULL DEFAULT 0,
    updated_at       INTEGER NOT NULL
);
`
