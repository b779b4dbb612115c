package store

// Schema is applied in order at startup, matching the teacher's
// idempotent "CREATE TABLE IF NOT EXISTS" migration style
// (internal/timeline/schema.go / service.go in the retrieval pack), but
// formalized here into a numbered, version-tracked list since spec.md §6
// calls for schema versioning rather than best-effort ALTER TABLE.
var migrations = []string{
	// 1: tape — one row per session, whole-blob replacement.
	`CREATE TABLE IF NOT EXISTS tape (
		session_id    TEXT PRIMARY KEY,
		messages      TEXT NOT NULL,
		message_count INTEGER NOT NULL DEFAULT 0,
		updated_at    TEXT NOT NULL
	);`,

	// 2: queue — crash-safe inbound message queue.
	`CREATE TABLE IF NOT EXISTS queue (
		id           TEXT PRIMARY KEY,
		channel      TEXT NOT NULL,
		sender_id    TEXT NOT NULL,
		sender_name  TEXT,
		session_id   TEXT NOT NULL,
		content      TEXT NOT NULL,
		reply_to     TEXT,
		status       TEXT NOT NULL DEFAULT 'pending',
		error        TEXT,
		created_at   TEXT NOT NULL,
		processed_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_queue_status_created ON queue(status, created_at);
	CREATE INDEX IF NOT EXISTS idx_queue_session ON queue(session_id);`,

	// 3: memory — content store with FTS shadow and optional vector shadow.
	`CREATE TABLE IF NOT EXISTS memory (
		id             TEXT PRIMARY KEY,
		key            TEXT,
		content        TEXT NOT NULL,
		tags           TEXT,
		source         TEXT,
		category       TEXT NOT NULL DEFAULT 'fact',
		importance     INTEGER NOT NULL DEFAULT 5,
		created_at     TEXT NOT NULL,
		updated_at     TEXT NOT NULL,
		last_accessed  TEXT,
		access_count   INTEGER NOT NULL DEFAULT 0,
		embedding      BLOB
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_memory_key ON memory(key) WHERE key IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_memory_category ON memory(category);

	CREATE VIRTUAL TABLE IF NOT EXISTS memory_fts USING fts5(
		content, tags,
		content='memory',
		content_rowid='rowid'
	);
	CREATE TRIGGER IF NOT EXISTS memory_ai AFTER INSERT ON memory BEGIN
		INSERT INTO memory_fts(rowid, content, tags) VALUES (new.rowid, new.content, new.tags);
	END;
	CREATE TRIGGER IF NOT EXISTS memory_ad AFTER DELETE ON memory BEGIN
		INSERT INTO memory_fts(memory_fts, rowid, content, tags) VALUES('delete', old.rowid, old.content, old.tags);
	END;
	CREATE TRIGGER IF NOT EXISTS memory_au AFTER UPDATE ON memory BEGIN
		INSERT INTO memory_fts(memory_fts, rowid, content, tags) VALUES('delete', old.rowid, old.content, old.tags);
		INSERT INTO memory_fts(rowid, content, tags) VALUES (new.rowid, new.content, new.tags);
	END;`,

	// 4: audit — append-only event log.
	`CREATE TABLE IF NOT EXISTS audit (
		id         TEXT PRIMARY KEY,
		session_id TEXT,
		event_type TEXT NOT NULL,
		tool_name  TEXT,
		detail     TEXT,
		tokens_used INTEGER NOT NULL DEFAULT 0,
		timestamp  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_session ON audit(session_id);
	CREATE INDEX IF NOT EXISTS idx_audit_type_ts ON audit(event_type, timestamp);`,

	// 5: state — small key/value progress markers.
	`CREATE TABLE IF NOT EXISTS state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`,

	// 6: cron_jobs / cron_runs.
	`CREATE TABLE IF NOT EXISTS cron_jobs (
		name           TEXT PRIMARY KEY,
		schedule       TEXT NOT NULL,
		prompt         TEXT NOT NULL,
		target_channel TEXT,
		session_mode   TEXT NOT NULL DEFAULT 'isolated',
		enabled        INTEGER NOT NULL DEFAULT 1,
		created_at     TEXT NOT NULL,
		updated_at     TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS cron_runs (
		id         TEXT PRIMARY KEY,
		job_name   TEXT NOT NULL REFERENCES cron_jobs(name),
		status     TEXT NOT NULL,
		started_at TEXT NOT NULL,
		ended_at   TEXT,
		error      TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_cron_runs_job ON cron_runs(job_name, started_at);`,

	// 7: saved_workers — persisted sub-agent definitions.
	`CREATE TABLE IF NOT EXISTS saved_workers (
		name          TEXT PRIMARY KEY,
		system_prompt TEXT NOT NULL,
		model         TEXT,
		created_at    TEXT NOT NULL
	);`,
}

// CurrentSchemaVersion is the number of migrations defined above.
var CurrentSchemaVersion = len(migrations)
