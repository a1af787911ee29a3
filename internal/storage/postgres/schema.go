package postgres

// Schema creates both memory tiers. All statements are idempotent so the
// schema can be re-applied on every startup.
const Schema = `
CREATE TABLE IF NOT EXISTS conversation_memories (
	id               TEXT PRIMARY KEY,
	owner_id         TEXT NOT NULL,
	scope_id         TEXT NOT NULL DEFAULT '',
	content          TEXT NOT NULL,
	fact_type        TEXT NOT NULL,
	importance       INTEGER NOT NULL,
	confidence       DOUBLE PRECISION NOT NULL,
	salience         DOUBLE PRECISION NOT NULL,
	temporality      TEXT NOT NULL,
	content_hash     TEXT NOT NULL,
	metadata         JSONB,
	access_count     INTEGER NOT NULL DEFAULT 0,
	expires_at       TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL,
	last_accessed_at TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_conversation_memories_hash
	ON conversation_memories(owner_id, scope_id, content_hash);
CREATE INDEX IF NOT EXISTS idx_conversation_memories_owner
	ON conversation_memories(owner_id, scope_id);
CREATE INDEX IF NOT EXISTS idx_conversation_memories_salience
	ON conversation_memories(owner_id, salience);

CREATE TABLE IF NOT EXISTS user_memories (
	id               TEXT PRIMARY KEY,
	owner_id         TEXT NOT NULL,
	scope_id         TEXT NOT NULL DEFAULT '',
	content          TEXT NOT NULL,
	fact_type        TEXT NOT NULL,
	importance       INTEGER NOT NULL,
	confidence       DOUBLE PRECISION NOT NULL,
	salience         DOUBLE PRECISION NOT NULL,
	temporality      TEXT NOT NULL,
	content_hash     TEXT NOT NULL,
	metadata         JSONB,
	access_count     INTEGER NOT NULL DEFAULT 0,
	expires_at       TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL,
	last_accessed_at TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_user_memories_hash
	ON user_memories(owner_id, scope_id, content_hash);
CREATE INDEX IF NOT EXISTS idx_user_memories_owner
	ON user_memories(owner_id, scope_id);
CREATE INDEX IF NOT EXISTS idx_user_memories_salience
	ON user_memories(owner_id, salience);
`
