package sqlite

// Schema creates both memory tiers. The tables are shape-identical; the
// conversation tier keys scope_id to a conversation while the user tier
// stores it as '' so the (owner_id, scope_id, content_hash) unique index
// works the same way in both.
const Schema = `
CREATE TABLE IF NOT EXISTS conversation_memories (
	id               TEXT PRIMARY KEY,
	owner_id         TEXT NOT NULL,
	scope_id         TEXT NOT NULL DEFAULT '',
	content          TEXT NOT NULL,
	fact_type        TEXT NOT NULL,
	importance       INTEGER NOT NULL,
	confidence       REAL NOT NULL,
	salience         REAL NOT NULL,
	temporality      TEXT NOT NULL,
	content_hash     TEXT NOT NULL,
	metadata         TEXT,
	access_count     INTEGER NOT NULL DEFAULT 0,
	expires_at       TIMESTAMP,
	created_at       TIMESTAMP NOT NULL,
	last_accessed_at TIMESTAMP
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
	confidence       REAL NOT NULL,
	salience         REAL NOT NULL,
	temporality      TEXT NOT NULL,
	content_hash     TEXT NOT NULL,
	metadata         TEXT,
	access_count     INTEGER NOT NULL DEFAULT 0,
	expires_at       TIMESTAMP,
	created_at       TIMESTAMP NOT NULL,
	last_accessed_at TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_user_memories_hash
	ON user_memories(owner_id, scope_id, content_hash);
CREATE INDEX IF NOT EXISTS idx_user_memories_owner
	ON user_memories(owner_id, scope_id);
CREATE INDEX IF NOT EXISTS idx_user_memories_salience
	ON user_memories(owner_id, salience);
`
