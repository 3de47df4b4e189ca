package queue

// Schema holds the submission queue table. Timestamps are Unix milliseconds.
const Schema = `
-- Chain submissions, one row per request, claimed oldest-first
CREATE TABLE IF NOT EXISTS chain_queue (
    id          TEXT PRIMARY KEY,
    payload     TEXT NOT NULL,                  -- prepared drafts, JSON
    fixups      TEXT NOT NULL DEFAULT '',       -- lint modifications, JSON
    format      TEXT NOT NULL DEFAULT 'thread',
    parent_id   TEXT NOT NULL DEFAULT '',       -- set when resuming under an earlier post
    status      TEXT NOT NULL DEFAULT 'pending',
    chain_id    TEXT NOT NULL DEFAULT '',       -- poster chain id once the run starts
    result      TEXT NOT NULL DEFAULT '',       -- poster result, JSON
    error       TEXT NOT NULL DEFAULT '',
    created_at  INTEGER NOT NULL,
    started_at  INTEGER NOT NULL DEFAULT 0,
    finished_at INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_chain_queue_status ON chain_queue(status, created_at);
CREATE INDEX IF NOT EXISTS idx_chain_queue_chain ON chain_queue(chain_id);
`
