package store

const schemaVersion = 1

const schema = `
CREATE TABLE schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE probe_results (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	test_run_id TEXT NOT NULL,
	application_id TEXT NOT NULL,
	test_type TEXT NOT NULL,
	status TEXT NOT NULL,
	started_at TEXT NOT NULL,
	completed_at TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	error_code TEXT,
	error_message TEXT,
	result_json TEXT NOT NULL
);

CREATE INDEX idx_probe_results_app ON probe_results(application_id, started_at DESC);
CREATE INDEX idx_probe_results_run ON probe_results(test_run_id);
CREATE INDEX idx_probe_results_started ON probe_results(started_at);
`

// migrations run in order against databases stamped with an older version.
var migrations = []struct {
	version int
	sql     string
}{}
