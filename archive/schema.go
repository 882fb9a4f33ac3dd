package archive

// Schema is the DDL of the report archive. The scans table keeps the
// full report as JSON; the child tables index it for queries.
const Schema = `
CREATE TABLE IF NOT EXISTS scans (
    id              TEXT PRIMARY KEY,
    url             TEXT NOT NULL,
    mode            TEXT NOT NULL DEFAULT '',
    scanned_at      INTEGER NOT NULL,
    has_keywords    INTEGER NOT NULL DEFAULT 0,
    note            TEXT NOT NULL DEFAULT '',
    report          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scans_url ON scans(url, scanned_at DESC);
CREATE INDEX IF NOT EXISTS idx_scans_time ON scans(scanned_at DESC);

CREATE TABLE IF NOT EXISTS scan_detections (
    scan_id         TEXT NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
    category        TEXT NOT NULL,
    name            TEXT NOT NULL,
    evidence_kind   TEXT NOT NULL,
    evidence_source TEXT NOT NULL DEFAULT '',
    late            INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_detections_scan ON scan_detections(scan_id);
CREATE INDEX IF NOT EXISTS idx_detections_name ON scan_detections(category, name);

CREATE TABLE IF NOT EXISTS scan_experiments (
    scan_id         TEXT NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
    platform        TEXT NOT NULL,
    experiment_id   TEXT NOT NULL,
    name            TEXT NOT NULL DEFAULT '',
    variation       TEXT NOT NULL DEFAULT '',
    type            TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_experiments_scan ON scan_experiments(scan_id);
CREATE INDEX IF NOT EXISTS idx_experiments_id ON scan_experiments(experiment_id);

CREATE TABLE IF NOT EXISTS scan_steps (
    scan_id         TEXT NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
    step            TEXT NOT NULL,
    detections      INTEGER NOT NULL DEFAULT 0,
    experiments     INTEGER NOT NULL DEFAULT 0,
    error           TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_steps_scan ON scan_steps(scan_id);

CREATE TABLE IF NOT EXISTS call_log (
    id              TEXT PRIMARY KEY,
    at              INTEGER NOT NULL,
    op              TEXT NOT NULL,
    transport       TEXT NOT NULL,
    trace_id        TEXT NOT NULL DEFAULT '',
    params          TEXT NOT NULL DEFAULT '{}',
    status          TEXT NOT NULL,
    error           TEXT NOT NULL DEFAULT '',
    duration_ms     INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_call_log_at ON call_log(at DESC);
`
