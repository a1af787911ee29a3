// Package memstore provides an in-memory storage.Provider. It backs unit
// tests and short-lived embedded deployments where persistence across
// restarts is not needed.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/recallkit/recallkit/internal/storage"
	"github.com/recallkit/recallkit/pkg/types"
)

// Provider implements storage.Provider over a map guarded by a mutex.
type Provider struct {
	mu      sync.RWMutex
	records map[string]*types.StoredMemory
}

// New creates an empty in-memory provider.
func New() *Provider {
	return &Provider{records: make(map[string]*types.StoredMemory)}
}

func (p *Provider) Insert(ctx context.Context, memory *types.StoredMemory) error {
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

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, existing := range p.records {
		if existing.OwnerID == memory.OwnerID &&
			existing.ScopeID == memory.ScopeID &&
			existing.ContentHash == memory.ContentHash {
			return storage.ErrDuplicate
		}
	}

	clone := *memory
	p.records[memory.ID] = &clone
	return nil
}

func (p *Provider) FindMany(ctx context.Context, query storage.Query) ([]*types.StoredMemory, error) {
	if query.OwnerID == "" {
		return nil, fmt.Errorf("%w: owner ID is required", storage.ErrInvalidInput)
	}
	query.Normalize()

	p.mu.RLock()
	var matched []*types.StoredMemory
	for _, m := range p.records {
		if m.OwnerID != query.OwnerID {
			continue
		}
		if query.ScopeID != "" && m.ScopeID != query.ScopeID {
			continue
		}
		clone := *m
		matched = append(matched, &clone)
	}
	p.mu.RUnlock()

	sortRecords(matched, query.OrderBy)

	if query.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[query.Offset:]
	if len(matched) > query.Limit {
		matched = matched[:query.Limit]
	}
	return matched, nil
}

func (p *Provider) FindByHash(ctx context.Context, ownerID, scopeID, hash string) (*types.StoredMemory, error) {
	if ownerID == "" || hash == "" {
		return nil, fmt.Errorf("%w: owner ID and hash are required", storage.ErrInvalidInput)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, m := range p.records {
		if m.OwnerID == ownerID && m.ScopeID == scopeID && m.ContentHash == hash {
			clone := *m
			return &clone, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (p *Provider) Update(ctx context.Context, memory *types.StoredMemory) error {
	if memory == nil || memory.ID == "" {
		return fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.records[memory.ID]; !ok {
		return storage.ErrNotFound
	}
	clone := *memory
	p.records[memory.ID] = &clone
	return nil
}

func (p *Provider) Delete(ctx context.Context, ids []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, id := range ids {
		delete(p.records, id)
	}
	return nil
}

func (p *Provider) DeleteOwner(ctx context.Context, ownerID string) error {
	if ownerID == "" {
		return fmt.Errorf("%w: owner ID is required", storage.ErrInvalidInput)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for id, m := range p.records {
		if m.OwnerID == ownerID {
			delete(p.records, id)
		}
	}
	return nil
}

func (p *Provider) Count(ctx context.Context, ownerID, scopeID string) (int, error) {
	if ownerID == "" {
		return 0, fmt.Errorf("%w: owner ID is required", storage.ErrInvalidInput)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	count := 0
	for _, m := range p.records {
		if m.OwnerID != ownerID {
			continue
		}
		if scopeID != "" && m.ScopeID != scopeID {
			continue
		}
		count++
	}
	return count, nil
}

func (p *Provider) SweepExpired(ctx context.Context, ownerID, scopeID string, now time.Time, ttl time.Duration) (int, error) {
	if ownerID == "" {
		return 0, fmt.Errorf("%w: owner ID is required", storage.ErrInvalidInput)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := now.Add(-ttl)
	deleted := 0
	for id, m := range p.records {
		if m.OwnerID != ownerID {
			continue
		}
		if scopeID != "" && m.ScopeID != scopeID {
			continue
		}
		expired := m.ExpiresAt != nil && !m.ExpiresAt.After(now)
		staleTemp := m.Temporality == types.TemporalityTemporary && !m.CreatedAt.After(cutoff)
		if expired || staleTemp {
			delete(p.records, id)
			deleted++
		}
	}
	return deleted, nil
}

func (p *Provider) TouchAccess(ctx context.Context, ids []string, at time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, id := range ids {
		if m, ok := p.records[id]; ok {
			t := at
			m.LastAccessedAt = &t
			m.AccessCount++
		}
	}
	return nil
}

func (p *Provider) Stats(ctx context.Context, ownerID string) (types.TierStats, error) {
	stats := types.TierStats{FactTypeCounts: make(map[types.FactType]int)}
	if ownerID == "" {
		return stats, fmt.Errorf("%w: owner ID is required", storage.ErrInvalidInput)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, m := range p.records {
		if m.OwnerID != ownerID {
			continue
		}
		stats.Count++
		stats.ImportanceSum += m.Importance
		stats.FactTypeCounts[m.FactType]++
		if stats.OldestCreatedAt == nil || m.CreatedAt.Before(*stats.OldestCreatedAt) {
			t := m.CreatedAt
			stats.OldestCreatedAt = &t
		}
		if m.AccessCount > stats.MaxAccessCount {
			stats.MaxAccessCount = m.AccessCount
			stats.MostAccessedContent = m.Content
		}
	}
	return stats, nil
}

func sortRecords(records []*types.StoredMemory, order storage.OrderBy) {
	switch order {
	case storage.OrderSalienceDesc:
		sort.SliceStable(records, func(i, j int) bool {
			if records[i].Salience != records[j].Salience {
				return records[i].Salience > records[j].Salience
			}
			return records[i].CreatedAt.After(records[j].CreatedAt)
		})
	case storage.OrderCreatedAsc:
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		})
	case storage.OrderPruneVictims:
		sort.SliceStable(records, func(i, j int) bool {
			if records[i].Salience != records[j].Salience {
				return records[i].Salience < records[j].Salience
			}
			li, lj := records[i].LastAccessedAt, records[j].LastAccessedAt
			switch {
			case li == nil && lj != nil:
				return true
			case li != nil && lj == nil:
				return false
			case li != nil && lj != nil && !li.Equal(*lj):
				return li.Before(*lj)
			}
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		})
	default:
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		})
	}
}
