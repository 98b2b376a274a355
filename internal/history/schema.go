package history

// Schema holds one row per scenario run. Times are unix nanoseconds.
const Schema = `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    scenario TEXT NOT NULL,
    source TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    phase TEXT NOT NULL DEFAULT '',
    failure_index INTEGER NOT NULL DEFAULT 0,
    description TEXT NOT NULL DEFAULT '',
    code TEXT NOT NULL DEFAULT '',
    message TEXT NOT NULL DEFAULT '',
    steps_run INTEGER NOT NULL,
    assertions_checked INTEGER NOT NULL,
    started_at INTEGER NOT NULL,
    duration_ns INTEGER NOT NULL,
    teardown_error TEXT NOT NULL DEFAULT '',
    artifacts TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_runs_scenario_started ON runs(scenario, started_at);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`
