// Package storage defines the persistence provider contract for stored
// memories. One Provider instance serves one physical tier; the engine wires
// a conversation-tier and a user-tier provider and never assumes anything
// about the backend beyond this interface.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/recallkit/recallkit/pkg/types"
)

var (
	// ErrNotFound indicates that the requested record was not found.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate indicates an insert collided with the unique
	// (owner, scope, content hash) constraint. Callers treat this as
	// "already present", not as a failure.
	ErrDuplicate = errors.New("duplicate content hash")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")
)

// OrderBy is the closed set of sort orders a Query may request. Keeping this
// a whitelist (rather than raw column strings) is the SQL-injection guard.
type OrderBy string

const (
	// OrderSalienceDesc: most salient first. Retrieval pools use this.
	OrderSalienceDesc OrderBy = "salience_desc"

	// OrderCreatedDesc: newest first. Dedup-context loading uses this.
	OrderCreatedDesc OrderBy = "created_desc"

	// OrderCreatedAsc: oldest first.
	OrderCreatedAsc OrderBy = "created_asc"

	// OrderPruneVictims: least salient, least recently accessed (never
	// accessed first), oldest first. Capacity eviction reads in this order
	// so the head of the result is the first record to delete.
	OrderPruneVictims OrderBy = "prune_victims"
)

// validOrders is the acceptance set for Query.Normalize.
var validOrders = map[OrderBy]struct{}{
	OrderSalienceDesc: {},
	OrderCreatedDesc:  {},
	OrderCreatedAsc:   {},
	OrderPruneVictims: {},
}

// Query selects records within one tier.
type Query struct {
	// OwnerID is required.
	OwnerID string

	// ScopeID narrows to one conversation scope. Ignored by user-tier
	// providers; empty means all scopes.
	ScopeID string

	// OrderBy is the sort order (default: OrderCreatedDesc).
	OrderBy OrderBy

	// Limit caps the result size (default: 50, max: 1000).
	Limit int

	// Offset skips past the first results.
	Offset int
}

// Normalize applies defaults and clamps the query.
func (q *Query) Normalize() {
	if _, ok := validOrders[q.OrderBy]; !ok {
		q.OrderBy = OrderCreatedDesc
	}
	if q.Limit < 1 {
		q.Limit = 50
	}
	if q.Limit > 1000 {
		q.Limit = 1000
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
}

// Provider is the persistence contract for one memory tier.
//
// Implementations must enforce a uniqueness constraint over
// (owner, scope, content hash) and surface violations as ErrDuplicate;
// the "insert, catch duplicate, treat as success" pattern in the engine is
// what makes concurrent writes of the same fact safe without locking.
type Provider interface {
	// Insert stores a new record. Returns ErrDuplicate when a live record
	// with the same (owner, scope, content hash) already exists.
	Insert(ctx context.Context, memory *types.StoredMemory) error

	// FindMany returns records matching the query.
	FindMany(ctx context.Context, query Query) ([]*types.StoredMemory, error)

	// FindByHash returns the record with the given content hash, or
	// ErrNotFound.
	FindByHash(ctx context.Context, ownerID, scopeID, hash string) (*types.StoredMemory, error)

	// Update rewrites the mutable fields of an existing record
	// (importance, confidence, salience, metadata, expiry, access info).
	Update(ctx context.Context, memory *types.StoredMemory) error

	// Delete removes the records with the given IDs. Missing IDs are not
	// an error.
	Delete(ctx context.Context, ids []string) error

	// DeleteOwner removes every record belonging to the owner.
	DeleteOwner(ctx context.Context, ownerID string) error

	// Count reports live records for the owner (and scope, when set).
	Count(ctx context.Context, ownerID, scopeID string) (int, error)

	// SweepExpired deletes records whose expiresAt has passed, plus
	// temporality=temporary records older than ttl. Returns the number
	// deleted.
	SweepExpired(ctx context.Context, ownerID, scopeID string, now time.Time, ttl time.Duration) (int, error)

	// TouchAccess sets lastAccessedAt and increments the access counter on
	// the given records.
	TouchAccess(ctx context.Context, ids []string, at time.Time) error

	// Stats aggregates the owner's records in this tier.
	Stats(ctx context.Context, ownerID string) (types.TierStats, error)
}
