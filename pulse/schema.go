package pulse

// Schema holds the pulse tables. Timestamps are Unix milliseconds,
// matching the journal and queue schemas that share the same file.
const Schema = `
-- Liveness probes from long-running workers
CREATE TABLE IF NOT EXISTS worker_heartbeats (
    id         TEXT PRIMARY KEY,
    worker     TEXT NOT NULL,
    hostname   TEXT NOT NULL DEFAULT '',
    pid        INTEGER NOT NULL DEFAULT 0,
    goroutines INTEGER NOT NULL DEFAULT 0,
    heap_mb    REAL NOT NULL DEFAULT 0,
    sys_mb     REAL NOT NULL DEFAULT 0,
    gc_count   INTEGER NOT NULL DEFAULT 0,
    at         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_heartbeats_worker ON worker_heartbeats(worker, at DESC);

-- Service gauges sampled over time
CREATE TABLE IF NOT EXISTS service_metrics (
    id     TEXT PRIMARY KEY,
    name   TEXT NOT NULL,
    value  REAL NOT NULL,
    unit   TEXT NOT NULL DEFAULT '',
    labels TEXT NOT NULL DEFAULT '',               -- JSON, optional
    at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_metrics_name ON service_metrics(name, at DESC);

-- Operator actions taken through the ops surfaces
CREATE TABLE IF NOT EXISTS ops_audit (
    id         TEXT PRIMARY KEY,
    action     TEXT NOT NULL,
    subject    TEXT NOT NULL DEFAULT '',
    detail     TEXT NOT NULL DEFAULT '',
    transport  TEXT NOT NULL DEFAULT '',           -- http | mcp
    request_id TEXT NOT NULL DEFAULT '',
    at         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_time ON ops_audit(at DESC);
`
