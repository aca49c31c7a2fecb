package registry

// schemaVersion is the target schema version for this build.
const schemaVersion = 1

// schemaDDL creates the registry tables. Times are stored as RFC 3339
// strings; an empty completed_at marks a run still in progress.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS schema_info (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	run_id       TEXT PRIMARY KEY,
	group_name   TEXT NOT NULL DEFAULT '',
	completed_at TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS run_files (
	run_id       TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
	logical_name TEXT NOT NULL,
	location     TEXT NOT NULL,
	checksum     TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, logical_name)
);

CREATE TABLE IF NOT EXISTS run_recipients (
	run_id       TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
	address      TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, address)
);
`
