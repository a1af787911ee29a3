// Package sqlite provides a SQLite-backed implementation of storage.Provider
// for both memory tiers. It is the default backend: zero external services,
// one file on disk, good enough concurrency for a single chat host.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/recallkit/recallkit/internal/storage"
	"github.com/recallkit/recallkit/pkg/types"
)

// Store owns the SQLite handle and hands out one Provider per tier.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at dsn, configures it for
// concurrent use, and applies the schema.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single open connection
	// serialises writes and avoids SQLITE_BUSY under concurrent load; WAL
	// mode lets readers proceed without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Wait instead of returning SQLITE_BUSY when the connection is held by
	// another goroutine.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Conversation returns the provider backing the conversation tier.
func (s *Store) Conversation() storage.Provider {
	return &tierProvider{db: s.db, table: "conversation_memories"}
}

// User returns the provider backing the user tier.
func (s *Store) User() storage.Provider {
	return &tierProvider{db: s.db, table: "user_memories"}
}

// tierProvider implements storage.Provider over one table. The table name
// comes from the closed set above, never from caller input.
type tierProvider struct {
	db    *sql.DB
	table string
}

const memoryColumns = `id, owner_id, scope_id, content, fact_type, importance,
	confidence, salience, temporality, content_hash, metadata, access_count,
	expires_at, created_at, last_accessed_at`

func (p *tierProvider) Insert(ctx context.Context, memory *types.StoredMemory) error {
	if memory == nil {
		return storage.ErrInvalidInput
	}
	if memory.ID == "" {
		return fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}
	if memory.OwnerID == "" {
		return fmt.Errorf("%w: owner ID is required", storage.ErrInvalidInput)
	}
	if memory.Content == "" {
		return fmt.Errorf("%w: memory content is required", storage.ErrInvalidInput)
	}

	if memory.ContentHash == "" {
		memory.ContentHash = types.HashContent(memory.Content)
	}
	if memory.CreatedAt.IsZero() {
		memory.CreatedAt = time.Now().UTC()
	}

	metadataJSON, err := json.Marshal(memory.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (
			id, owner_id, scope_id, content, fact_type, importance,
			confidence, salience, temporality, content_hash, metadata,
			access_count, expires_at, created_at, last_accessed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.table)

	_, err = p.db.ExecContext(ctx, query,
		memory.ID,
		memory.OwnerID,
		memory.ScopeID,
		memory.Content,
		string(memory.FactType),
		memory.Importance,
		memory.Confidence,
		memory.Salience,
		string(memory.Temporality),
		memory.ContentHash,
		string(metadataJSON),
		memory.AccessCount,
		nullableTime(memory.ExpiresAt),
		memory.CreatedAt,
		nullableTime(memory.LastAccessedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrDuplicate
		}
		return fmt.Errorf("failed to insert memory: %w", err)
	}

	return nil
}

func (p *tierProvider) FindMany(ctx context.Context, query storage.Query) ([]*types.StoredMemory, error) {
	if query.OwnerID == "" {
		return nil, fmt.Errorf("%w: owner ID is required", storage.ErrInvalidInput)
	}
	query.Normalize()

	where := "owner_id = ?"
	args := []any{query.OwnerID}
	if query.ScopeID != "" {
		where += " AND scope_id = ?"
		args = append(args, query.ScopeID)
	}
	args = append(args, query.Limit, query.Offset)

	sqlQuery := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE %s
		ORDER BY %s
		LIMIT ? OFFSET ?
	`, memoryColumns, p.table, where, orderClause(query.OrderBy))

	rows, err := p.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query memories: %w", err)
	}
	defer rows.Close()

	var memories []*types.StoredMemory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		memories = append(memories, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate memories: %w", err)
	}

	return memories, nil
}

func (p *tierProvider) FindByHash(ctx context.Context, ownerID, scopeID, hash string) (*types.StoredMemory, error) {
	if ownerID == "" || hash == "" {
		return nil, fmt.Errorf("%w: owner ID and hash are required", storage.ErrInvalidInput)
	}

	sqlQuery := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE owner_id = ? AND scope_id = ? AND content_hash = ?
	`, memoryColumns, p.table)

	row := p.db.QueryRowContext(ctx, sqlQuery, ownerID, scopeID, hash)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (p *tierProvider) Update(ctx context.Context, memory *types.StoredMemory) error {
	if memory == nil || memory.ID == "" {
		return fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	metadataJSON, err := json.Marshal(memory.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := fmt.Sprintf(`
		UPDATE %s SET
			content = ?,
			fact_type = ?,
			importance = ?,
			confidence = ?,
			salience = ?,
			temporality = ?,
			content_hash = ?,
			metadata = ?,
			access_count = ?,
			expires_at = ?,
			last_accessed_at = ?
		WHERE id = ?
	`, p.table)

	result, err := p.db.ExecContext(ctx, query,
		memory.Content,
		string(memory.FactType),
		memory.Importance,
		memory.Confidence,
		memory.Salience,
		string(memory.Temporality),
		memory.ContentHash,
		string(metadataJSON),
		memory.AccessCount,
		nullableTime(memory.ExpiresAt),
		nullableTime(memory.LastAccessedAt),
		memory.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update memory: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (p *tierProvider) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE id IN (%s)", p.table, placeholders(len(ids)))
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	if _, err := p.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete memories: %w", err)
	}
	return nil
}

func (p *tierProvider) DeleteOwner(ctx context.Context, ownerID string) error {
	if ownerID == "" {
		return fmt.Errorf("%w: owner ID is required", storage.ErrInvalidInput)
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE owner_id = ?", p.table)
	if _, err := p.db.ExecContext(ctx, query, ownerID); err != nil {
		return fmt.Errorf("failed to delete owner memories: %w", err)
	}
	return nil
}

func (p *tierProvider) Count(ctx context.Context, ownerID, scopeID string) (int, error) {
	if ownerID == "" {
		return 0, fmt.Errorf("%w: owner ID is required", storage.ErrInvalidInput)
	}

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE owner_id = ?", p.table)
	args := []any{ownerID}
	if scopeID != "" {
		query += " AND scope_id = ?"
		args = append(args, scopeID)
	}

	var count int
	if err := p.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count memories: %w", err)
	}
	return count, nil
}

func (p *tierProvider) SweepExpired(ctx context.Context, ownerID, scopeID string, now time.Time, ttl time.Duration) (int, error) {
	if ownerID == "" {
		return 0, fmt.Errorf("%w: owner ID is required", storage.ErrInvalidInput)
	}

	scopeFilter := ""
	args := []any{ownerID}
	if scopeID != "" {
		scopeFilter = " AND scope_id = ?"
		args = append(args, scopeID)
	}
	args = append(args, now, string(types.TemporalityTemporary), now.Add(-ttl))

	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE owner_id = ?%s
		  AND (
			(expires_at IS NOT NULL AND expires_at <= ?)
			OR (temporality = ? AND created_at <= ?)
		  )
	`, p.table, scopeFilter)

	result, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired memories: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check sweep result: %w", err)
	}
	return int(affected), nil
}

func (p *tierProvider) TouchAccess(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
		UPDATE %s SET last_accessed_at = ?, access_count = access_count + 1
		WHERE id IN (%s)
	`, p.table, placeholders(len(ids)))

	args := make([]any, 0, len(ids)+1)
	args = append(args, at)
	for _, id := range ids {
		args = append(args, id)
	}

	if _, err := p.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to touch memories: %w", err)
	}
	return nil
}

func (p *tierProvider) Stats(ctx context.Context, ownerID string) (types.TierStats, error) {
	stats := types.TierStats{FactTypeCounts: make(map[types.FactType]int)}
	if ownerID == "" {
		return stats, fmt.Errorf("%w: owner ID is required", storage.ErrInvalidInput)
	}

	summary := fmt.Sprintf(`
		SELECT COUNT(*), COALESCE(SUM(importance), 0), MIN(created_at)
		FROM %s WHERE owner_id = ?
	`, p.table)

	// MIN() strips the column's declared type, so the driver returns the
	// timestamp as its stored string form rather than a time.Time.
	var oldest sql.NullString
	if err := p.db.QueryRowContext(ctx, summary, ownerID).Scan(&stats.Count, &stats.ImportanceSum, &oldest); err != nil {
		return stats, fmt.Errorf("failed to aggregate stats: %w", err)
	}
	if oldest.Valid {
		t, err := time.Parse("2006-01-02 15:04:05.999999999 -0700 MST", oldest.String)
		if err != nil {
			return stats, fmt.Errorf("failed to parse oldest created time: %w", err)
		}
		stats.OldestCreatedAt = &t
	}

	byType := fmt.Sprintf(`
		SELECT fact_type, COUNT(*) FROM %s WHERE owner_id = ? GROUP BY fact_type
	`, p.table)

	rows, err := p.db.QueryContext(ctx, byType, ownerID)
	if err != nil {
		return stats, fmt.Errorf("failed to aggregate fact types: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ft string
		var n int
		if err := rows.Scan(&ft, &n); err != nil {
			return stats, fmt.Errorf("failed to scan fact type row: %w", err)
		}
		stats.FactTypeCounts[types.FactType(ft)] = n
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("failed to iterate fact type rows: %w", err)
	}

	mostAccessed := fmt.Sprintf(`
		SELECT content, access_count FROM %s
		WHERE owner_id = ? AND access_count > 0
		ORDER BY access_count DESC, created_at ASC
		LIMIT 1
	`, p.table)

	err = p.db.QueryRowContext(ctx, mostAccessed, ownerID).Scan(&stats.MostAccessedContent, &stats.MaxAccessCount)
	if err != nil && err != sql.ErrNoRows {
		return stats, fmt.Errorf("failed to find most accessed memory: %w", err)
	}

	return stats, nil
}

// orderClause maps a whitelisted OrderBy to SQL. Query.Normalize guarantees
// the value is in the whitelist before this is called.
func orderClause(order storage.OrderBy) string {
	switch order {
	case storage.OrderSalienceDesc:
		return "salience DESC, created_at DESC"
	case storage.OrderCreatedAsc:
		return "created_at ASC"
	case storage.OrderPruneVictims:
		return "salience ASC, last_accessed_at ASC NULLS FIRST, created_at ASC"
	default:
		return "created_at DESC"
	}
}

func scanMemory(row interface{ Scan(...any) error }) (*types.StoredMemory, error) {
	var (
		m                       types.StoredMemory
		factType, temporality   string
		metadataJSON            sql.NullString
		expiresAt, lastAccessed sql.NullTime
	)

	err := row.Scan(
		&m.ID,
		&m.OwnerID,
		&m.ScopeID,
		&m.Content,
		&factType,
		&m.Importance,
		&m.Confidence,
		&m.Salience,
		&temporality,
		&m.ContentHash,
		&metadataJSON,
		&m.AccessCount,
		&expiresAt,
		&m.CreatedAt,
		&lastAccessed,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan memory: %w", err)
	}

	m.FactType = types.FactType(factType)
	m.Temporality = types.Temporality(temporality)
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &m.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		m.ExpiresAt = &t
	}
	if lastAccessed.Valid {
		t := lastAccessed.Time
		m.LastAccessedAt = &t
	}

	return &m, nil
}

// isUniqueViolation reports whether err is a SQLite unique index violation.
// modernc.org/sqlite does not export a stable error type for this, so the
// message check is the portable option.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// nullableTime converts a time pointer to sql.NullTime.
func nullableTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{Valid: false}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
