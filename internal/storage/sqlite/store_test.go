package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallkit/recallkit/internal/storage"
	"github.com/recallkit/recallkit/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testMemory(ownerID, scopeID, content string) *types.StoredMemory {
	return &types.StoredMemory{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		ScopeID:     scopeID,
		Content:     content,
		FactType:    types.FactPreference,
		Importance:  5,
		Confidence:  0.9,
		Salience:    0.5,
		Temporality: types.TemporalityPermanent,
		ContentHash: types.HashContent(content),
		CreatedAt:   time.Now().UTC(),
	}
}

func TestInsertAndFindByHash(t *testing.T) {
	store := newTestStore(t)
	p := store.Conversation()
	ctx := context.Background()

	mem := testMemory("user-1", "conv-1", "User prefers dark mode")
	mem.Metadata = types.MemoryMetadata{
		Subject:       "user",
		Entities:      []string{"dark mode"},
		RelatedTopics: []string{"ui", "preferences"},
		Language:      "en",
	}
	require.NoError(t, p.Insert(ctx, mem))

	got, err := p.FindByHash(ctx, "user-1", "conv-1", mem.ContentHash)
	require.NoError(t, err)
	assert.Equal(t, mem.ID, got.ID)
	assert.Equal(t, "User prefers dark mode", got.Content)
	assert.Equal(t, types.FactPreference, got.FactType)
	assert.Equal(t, types.TemporalityPermanent, got.Temporality)
	assert.Equal(t, []string{"ui", "preferences"}, got.Metadata.RelatedTopics)
	assert.Nil(t, got.LastAccessedAt)
}

func TestInsertDuplicateHash(t *testing.T) {
	store := newTestStore(t)
	p := store.Conversation()
	ctx := context.Background()

	require.NoError(t, p.Insert(ctx, testMemory("user-1", "conv-1", "User lives in Berlin")))

	// Same normalized content in the same scope collides.
	dup := testMemory("user-1", "conv-1", "  user LIVES in   berlin ")
	err := p.Insert(ctx, dup)
	assert.ErrorIs(t, err, storage.ErrDuplicate)

	// Different scope or owner does not.
	assert.NoError(t, p.Insert(ctx, testMemory("user-1", "conv-2", "User lives in Berlin")))
	assert.NoError(t, p.Insert(ctx, testMemory("user-2", "conv-1", "User lives in Berlin")))
}

func TestInsertValidation(t *testing.T) {
	store := newTestStore(t)
	p := store.Conversation()
	ctx := context.Background()

	assert.ErrorIs(t, p.Insert(ctx, nil), storage.ErrInvalidInput)

	mem := testMemory("user-1", "", "something")
	mem.ID = ""
	assert.ErrorIs(t, p.Insert(ctx, mem), storage.ErrInvalidInput)

	mem = testMemory("", "", "something")
	assert.ErrorIs(t, p.Insert(ctx, mem), storage.ErrInvalidInput)

	mem = testMemory("user-1", "", "")
	mem.ContentHash = "deadbeef"
	assert.ErrorIs(t, p.Insert(ctx, mem), storage.ErrInvalidInput)
}

func TestFindByHashNotFound(t *testing.T) {
	store := newTestStore(t)
	p := store.User()

	_, err := p.FindByHash(context.Background(), "user-1", "", "0000000000000000")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFindManyOrdering(t *testing.T) {
	store := newTestStore(t)
	p := store.User()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	low := testMemory("user-1", "", "low salience fact")
	low.Salience = 0.2
	low.CreatedAt = base
	mid := testMemory("user-1", "", "mid salience fact")
	mid.Salience = 0.5
	mid.CreatedAt = base.Add(time.Minute)
	high := testMemory("user-1", "", "high salience fact")
	high.Salience = 0.9
	high.CreatedAt = base.Add(2 * time.Minute)
	for _, m := range []*types.StoredMemory{low, mid, high} {
		require.NoError(t, p.Insert(ctx, m))
	}

	results, err := p.FindMany(ctx, storage.Query{OwnerID: "user-1", OrderBy: storage.OrderSalienceDesc})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, high.ID, results[0].ID)
	assert.Equal(t, mid.ID, results[1].ID)
	assert.Equal(t, low.ID, results[2].ID)

	results, err = p.FindMany(ctx, storage.Query{OwnerID: "user-1", OrderBy: storage.OrderCreatedAsc})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, low.ID, results[0].ID)
	assert.Equal(t, high.ID, results[2].ID)
}

func TestFindManyPruneVictimOrder(t *testing.T) {
	store := newTestStore(t)
	p := store.Conversation()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Same salience: the never-accessed record is evicted before the
	// recently accessed one.
	accessed := testMemory("user-1", "conv-1", "accessed fact")
	accessed.Salience = 0.3
	accessed.CreatedAt = base
	touched := base.Add(time.Hour)
	accessed.LastAccessedAt = &touched

	never := testMemory("user-1", "conv-1", "never accessed fact")
	never.Salience = 0.3
	never.CreatedAt = base.Add(time.Minute)

	salient := testMemory("user-1", "conv-1", "very salient fact")
	salient.Salience = 0.95
	salient.CreatedAt = base

	for _, m := range []*types.StoredMemory{accessed, never, salient} {
		require.NoError(t, p.Insert(ctx, m))
	}

	results, err := p.FindMany(ctx, storage.Query{
		OwnerID: "user-1",
		ScopeID: "conv-1",
		OrderBy: storage.OrderPruneVictims,
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, never.ID, results[0].ID)
	assert.Equal(t, accessed.ID, results[1].ID)
	assert.Equal(t, salient.ID, results[2].ID)
}

func TestFindManyScopeFilterAndLimit(t *testing.T) {
	store := newTestStore(t)
	p := store.Conversation()
	ctx := context.Background()

	for i, content := range []string{"fact one", "fact two", "fact three"} {
		m := testMemory("user-1", "conv-1", content)
		m.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Minute)
		require.NoError(t, p.Insert(ctx, m))
	}
	require.NoError(t, p.Insert(ctx, testMemory("user-1", "conv-2", "other scope fact")))

	results, err := p.FindMany(ctx, storage.Query{OwnerID: "user-1", ScopeID: "conv-1", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, results, 2)

	results, err = p.FindMany(ctx, storage.Query{OwnerID: "user-1"})
	require.NoError(t, err)
	assert.Len(t, results, 4)
}

func TestUpdate(t *testing.T) {
	store := newTestStore(t)
	p := store.User()
	ctx := context.Background()

	mem := testMemory("user-1", "", "User works at Acme")
	require.NoError(t, p.Insert(ctx, mem))

	mem.Importance = 9
	mem.Salience = 0.88
	mem.Metadata.Entities = []string{"Acme"}
	require.NoError(t, p.Update(ctx, mem))

	got, err := p.FindByHash(ctx, "user-1", "", mem.ContentHash)
	require.NoError(t, err)
	assert.Equal(t, 9, got.Importance)
	assert.InDelta(t, 0.88, got.Salience, 1e-9)
	assert.Equal(t, []string{"Acme"}, got.Metadata.Entities)

	missing := testMemory("user-1", "", "never inserted")
	assert.ErrorIs(t, p.Update(ctx, missing), storage.ErrNotFound)
}

func TestDeleteAndDeleteOwner(t *testing.T) {
	store := newTestStore(t)
	p := store.User()
	ctx := context.Background()

	a := testMemory("user-1", "", "fact a")
	b := testMemory("user-1", "", "fact b")
	c := testMemory("user-2", "", "fact c")
	for _, m := range []*types.StoredMemory{a, b, c} {
		require.NoError(t, p.Insert(ctx, m))
	}

	require.NoError(t, p.Delete(ctx, []string{a.ID, "no-such-id"}))
	count, err := p.Count(ctx, "user-1", "")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, p.DeleteOwner(ctx, "user-1"))
	count, err = p.Count(ctx, "user-1", "")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// Other owners untouched.
	count, err = p.Count(ctx, "user-2", "")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	assert.NoError(t, p.Delete(ctx, nil))
}

func TestSweepExpired(t *testing.T) {
	store := newTestStore(t)
	p := store.Conversation()
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	ttl := 90 * 24 * time.Hour

	expired := testMemory("user-1", "conv-1", "fact with past expiry")
	past := now.Add(-time.Hour)
	expired.ExpiresAt = &past

	staleTemp := testMemory("user-1", "conv-1", "stale temporary fact")
	staleTemp.Temporality = types.TemporalityTemporary
	staleTemp.CreatedAt = now.Add(-ttl - time.Hour)

	freshTemp := testMemory("user-1", "conv-1", "fresh temporary fact")
	freshTemp.Temporality = types.TemporalityTemporary
	freshTemp.CreatedAt = now.Add(-time.Hour)

	permanent := testMemory("user-1", "conv-1", "permanent fact")
	permanent.CreatedAt = now.Add(-365 * 24 * time.Hour)

	for _, m := range []*types.StoredMemory{expired, staleTemp, freshTemp, permanent} {
		require.NoError(t, p.Insert(ctx, m))
	}

	deleted, err := p.SweepExpired(ctx, "user-1", "conv-1", now, ttl)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	count, err := p.Count(ctx, "user-1", "conv-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	_, err = p.FindByHash(ctx, "user-1", "conv-1", permanent.ContentHash)
	assert.NoError(t, err)
	_, err = p.FindByHash(ctx, "user-1", "conv-1", expired.ContentHash)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestTouchAccess(t *testing.T) {
	store := newTestStore(t)
	p := store.User()
	ctx := context.Background()

	mem := testMemory("user-1", "", "touched fact")
	require.NoError(t, p.Insert(ctx, mem))

	at := time.Date(2026, 6, 1, 9, 30, 0, 0, time.UTC)
	require.NoError(t, p.TouchAccess(ctx, []string{mem.ID}, at))
	require.NoError(t, p.TouchAccess(ctx, []string{mem.ID}, at.Add(time.Minute)))

	got, err := p.FindByHash(ctx, "user-1", "", mem.ContentHash)
	require.NoError(t, err)
	assert.Equal(t, 2, got.AccessCount)
	require.NotNil(t, got.LastAccessedAt)
	assert.True(t, got.LastAccessedAt.After(at))

	assert.NoError(t, p.TouchAccess(ctx, nil, at))
}

func TestStats(t *testing.T) {
	store := newTestStore(t)
	p := store.User()
	ctx := context.Background()
	base := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	a := testMemory("user-1", "", "preference fact")
	a.FactType = types.FactPreference
	a.Importance = 4
	a.CreatedAt = base

	b := testMemory("user-1", "", "personal info fact")
	b.FactType = types.FactPersonalInfo
	b.Importance = 8
	b.CreatedAt = base.Add(time.Hour)

	c := testMemory("user-1", "", "second preference fact")
	c.FactType = types.FactPreference
	c.Importance = 6
	c.CreatedAt = base.Add(2 * time.Hour)

	for _, m := range []*types.StoredMemory{a, b, c} {
		require.NoError(t, p.Insert(ctx, m))
	}
	require.NoError(t, p.TouchAccess(ctx, []string{b.ID}, base.Add(24*time.Hour)))

	stats, err := p.Stats(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Count)
	assert.Equal(t, 18, stats.ImportanceSum)
	assert.Equal(t, 2, stats.FactTypeCounts[types.FactPreference])
	assert.Equal(t, 1, stats.FactTypeCounts[types.FactPersonalInfo])
	require.NotNil(t, stats.OldestCreatedAt)
	assert.True(t, stats.OldestCreatedAt.Equal(base))
	assert.Equal(t, "personal info fact", stats.MostAccessedContent)
	assert.Equal(t, 1, stats.MaxAccessCount)

	empty, err := p.Stats(ctx, "nobody")
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Count)
	assert.Nil(t, empty.OldestCreatedAt)
	assert.Empty(t, empty.MostAccessedContent)
}

func TestTierIsolation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mem := testMemory("user-1", "conv-1", "conversation tier fact")
	require.NoError(t, store.Conversation().Insert(ctx, mem))

	// Same content in the user tier is a separate record, not a duplicate.
	promoted := testMemory("user-1", "", "conversation tier fact")
	require.NoError(t, store.User().Insert(ctx, promoted))

	convCount, err := store.Conversation().Count(ctx, "user-1", "")
	require.NoError(t, err)
	userCount, err := store.User().Count(ctx, "user-1", "")
	require.NoError(t, err)
	assert.Equal(t, 1, convCount)
	assert.Equal(t, 1, userCount)
}
