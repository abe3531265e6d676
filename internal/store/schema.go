package store

// schema is applied on every Open via CREATE TABLE IF NOT EXISTS, then
// migrations bring an existing database up to the latest additive shape.
// Mirrors the two logical tables from the external interface contract.
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	key_id TEXT NOT NULL,
	alias TEXT NOT NULL DEFAULT '',
	relays_json TEXT NOT NULL DEFAULT '[]',
	secret TEXT,
	uri TEXT,
	auto_approve INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'waiting',
	last_client TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	active INTEGER NOT NULL DEFAULT 1,
	template TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS approval_tasks (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	session_alias TEXT NOT NULL DEFAULT '',
	session_type TEXT NOT NULL DEFAULT '',
	client TEXT NOT NULL DEFAULT '',
	event_kind INTEGER NOT NULL DEFAULT 0,
	event_summary TEXT NOT NULL DEFAULT '',
	policy_id TEXT NOT NULL DEFAULT '',
	policy_label TEXT NOT NULL DEFAULT '',
	draft_json TEXT NOT NULL DEFAULT '{}',
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending'
);

CREATE INDEX IF NOT EXISTS idx_approval_tasks_session ON approval_tasks(session_id);
CREATE INDEX IF NOT EXISTS idx_approval_tasks_status ON approval_tasks(status);
`
