// Package engine orchestrates the per-turn memory pipeline: artifact
// detection, admission gating, extraction, dedup, scoring, tiered persistence
// with promotion and pruning, and relevance-ranked retrieval.
//
// Nothing in this package raises into the caller. ProcessTurn and GetRelevant
// sit on the chat response path; every failure inside them degrades to a
// zero-write result or a shorter result list, with the error logged.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/recallkit/recallkit/internal/artifact"
	"github.com/recallkit/recallkit/internal/config"
	"github.com/recallkit/recallkit/internal/extract"
	"github.com/recallkit/recallkit/internal/gate"
	"github.com/recallkit/recallkit/internal/storage"
	"github.com/recallkit/recallkit/pkg/types"
)

// Deps are the injected collaborators. Conversation and User are the two
// tier providers; Clock exists so tests control time.
type Deps struct {
	Conversation storage.Provider
	User         storage.Provider
	Gate         *gate.Gate
	Extractor    *extract.Extractor
	Clock        func() time.Time
}

// Engine is the memory store orchestrator. Safe for concurrent use: it holds
// no mutable state of its own, and concurrent writes of the same fact are
// resolved by the providers' uniqueness constraint.
type Engine struct {
	cfg       config.MemoryConfig
	convTier  storage.Provider
	userTier  storage.Provider
	gate      *gate.Gate
	extractor *extract.Extractor
	now       func() time.Time
	verbose   bool
}

// New creates an engine. All of Deps except Clock are required.
func New(cfg config.MemoryConfig, deps Deps, verbose bool) (*Engine, error) {
	if deps.Conversation == nil || deps.User == nil {
		return nil, fmt.Errorf("engine: both tier providers are required")
	}
	if deps.Gate == nil {
		return nil, fmt.Errorf("engine: gate is required")
	}
	if deps.Extractor == nil {
		return nil, fmt.Errorf("engine: extractor is required")
	}
	now := deps.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{
		cfg:       cfg,
		convTier:  deps.Conversation,
		userTier:  deps.User,
		gate:      deps.Gate,
		extractor: deps.Extractor,
		now:       now,
		verbose:   verbose,
	}, nil
}

// ProcessTurn runs the full pipeline for one conversation turn. It never
// returns an error: any failure inside the pipeline yields a zero-write
// result with the cause logged.
func (e *Engine) ProcessTurn(ctx context.Context, conversationID, userID string, messages []types.Message, language string) (result types.TurnResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("engine: recovered from panic in ProcessTurn: %v", r)
			result = types.TurnResult{}
		}
	}()

	if conversationID == "" || userID == "" || len(messages) == 0 {
		return types.TurnResult{}
	}

	latest := messages[len(messages)-1]

	// Step 1: artifact detection on the latest message. Pure and cheap.
	detected := artifact.Detect(latest.Content)
	isToolOutput := latest.ToolOutput != nil
	if isToolOutput {
		detected.Merge(artifact.DetectToolOutput(latest.ToolOutput))
	}

	// Step 3 has no dependency on the gate, so the dedup-context fetch runs
	// while the gate decides.
	type dedupResult struct {
		refs []types.ContentRef
		err  error
	}
	dedupCh := make(chan dedupResult, 1)
	go func() {
		refs, err := e.loadDedupContext(ctx, conversationID, userID)
		dedupCh <- dedupResult{refs: refs, err: err}
	}()

	// Step 2: admission gate, unless artifacts or tool output force it open.
	var decision types.GateDecision
	if gate.ShouldSkip(detected.HasArtifacts, isToolOutput) {
		decision = gate.Bypass()
	} else {
		decision = e.gate.Decide(ctx, gateContext(messages, language))
	}
	if !decision.Remember {
		if e.verbose {
			log.Printf("engine: gate declined turn for %s/%s (%s): %s",
				userID, conversationID, decision.Mode, decision.Reason)
		}
		<-dedupCh
		return types.TurnResult{}
	}

	dedup := <-dedupCh
	if dedup.err != nil {
		// Extraction still runs; the provider-side uniqueness constraint
		// catches what the missing dedup context would have.
		log.Printf("engine: failed to load dedup context: %v", dedup.err)
	}

	// Step 4: extraction.
	extracted, err := e.extractor.Extract(ctx, messages, extract.Context{
		UserID:           userID,
		ConversationID:   conversationID,
		Language:         language,
		ExistingMemories: dedup.refs,
	})
	if err != nil {
		log.Printf("engine: extraction failed: %v", err)
		return types.TurnResult{}
	}
	if len(extracted.Memories) == 0 {
		return types.TurnResult{}
	}

	// Step 5: salience and the importance floor.
	now := e.now()
	var survivors []types.MemoryCandidate
	for _, c := range extracted.Memories {
		if c.Importance < e.cfg.MinImportance {
			continue
		}
		survivors = append(survivors, c)
	}
	result.Extracted = survivors

	// Steps 6-7: conversation tier writes, then prune.
	for _, c := range survivors {
		if e.persistConversation(ctx, conversationID, userID, c, now) {
			result.ConversationMemoriesWritten++
		}
	}
	e.pruneTier(ctx, e.convTier, userID, conversationID, e.cfg.ConversationTierCap)

	// Steps 8-9: promotion to the user tier, then prune.
	for _, c := range survivors {
		if c.Importance < e.cfg.PromotionImportance {
			continue
		}
		if e.promote(ctx, userID, c, now) {
			result.UserMemoriesWritten++
		}
	}
	e.pruneTier(ctx, e.userTier, userID, "", e.cfg.UserTierCap)

	return result
}

// GetRelevant returns up to maxCount stored memories ranked by relevance to
// currentMessage, drawing roughly 60% of the pool from the conversation tier
// and 40% from the user tier. Failures shrink the result, never error.
func (e *Engine) GetRelevant(ctx context.Context, conversationID, userID, currentMessage string, maxCount int) (result []*types.StoredMemory) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("engine: recovered from panic in GetRelevant: %v", r)
			result = nil
		}
	}()

	if userID == "" {
		return nil
	}
	if maxCount <= 0 {
		maxCount = e.cfg.DefaultRetrieveCount
	}

	convShare := (maxCount*6 + 9) / 10
	userShare := (maxCount*4 + 9) / 10

	var pool []*types.StoredMemory
	convMems, err := e.convTier.FindMany(ctx, storage.Query{
		OwnerID: userID,
		ScopeID: conversationID,
		OrderBy: storage.OrderSalienceDesc,
		Limit:   convShare,
	})
	if err != nil {
		log.Printf("engine: conversation tier retrieval failed: %v", err)
	} else {
		pool = append(pool, convMems...)
	}

	userMems, err := e.userTier.FindMany(ctx, storage.Query{
		OwnerID: userID,
		OrderBy: storage.OrderSalienceDesc,
		Limit:   userShare,
	})
	if err != nil {
		log.Printf("engine: user tier retrieval failed: %v", err)
	} else {
		pool = append(pool, userMems...)
	}

	if len(pool) == 0 {
		return nil
	}

	result = rankStored(pool, currentMessage, maxCount)

	// Access bookkeeping is detached from the request context so it adds no
	// latency to the read path and survives the caller moving on.
	var convIDs, userIDs []string
	for _, m := range result {
		if m.ScopeID != "" {
			convIDs = append(convIDs, m.ID)
		} else {
			userIDs = append(userIDs, m.ID)
		}
	}
	at := e.now()
	go func() {
		touchCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.convTier.TouchAccess(touchCtx, convIDs, at); err != nil {
			log.Printf("engine: failed to refresh access timestamps: %v", err)
		}
		if err := e.userTier.TouchAccess(touchCtx, userIDs, at); err != nil {
			log.Printf("engine: failed to refresh access timestamps: %v", err)
		}
	}()

	return result
}

// ClearOwner erases every record for the owner at both tiers. Both deletes
// are attempted even when the first fails; the first error is returned.
func (e *Engine) ClearOwner(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("engine: %w: user ID is required", storage.ErrInvalidInput)
	}

	convErr := e.convTier.DeleteOwner(ctx, userID)
	userErr := e.userTier.DeleteOwner(ctx, userID)
	if convErr != nil {
		return fmt.Errorf("engine: failed to clear conversation tier: %w", convErr)
	}
	if userErr != nil {
		return fmt.Errorf("engine: failed to clear user tier: %w", userErr)
	}
	return nil
}

// GetStats merges per-tier aggregates into one owner-level view.
func (e *Engine) GetStats(ctx context.Context, userID string) (*types.OwnerStats, error) {
	if userID == "" {
		return nil, fmt.Errorf("engine: %w: user ID is required", storage.ErrInvalidInput)
	}

	convStats, err := e.convTier.Stats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("engine: failed to read conversation tier stats: %w", err)
	}
	userStats, err := e.userTier.Stats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("engine: failed to read user tier stats: %w", err)
	}

	return mergeStats(convStats, userStats, e.now()), nil
}

// loadDedupContext pulls recent content/hash pairs across both tiers, newest
// first, capped at the configured dedup window.
func (e *Engine) loadDedupContext(ctx context.Context, conversationID, userID string) ([]types.ContentRef, error) {
	window := e.cfg.DedupWindow
	if window <= 0 {
		window = 50
	}

	convMems, convErr := e.convTier.FindMany(ctx, storage.Query{
		OwnerID: userID,
		ScopeID: conversationID,
		OrderBy: storage.OrderCreatedDesc,
		Limit:   window,
	})
	userMems, userErr := e.userTier.FindMany(ctx, storage.Query{
		OwnerID: userID,
		OrderBy: storage.OrderCreatedDesc,
		Limit:   window,
	})

	refs := make([]types.ContentRef, 0, len(convMems)+len(userMems))
	seen := make(map[string]struct{})
	for _, m := range append(convMems, userMems...) {
		if _, ok := seen[m.ContentHash]; ok {
			continue
		}
		seen[m.ContentHash] = struct{}{}
		refs = append(refs, types.ContentRef{Content: m.Content, Hash: m.ContentHash})
		if len(refs) >= window {
			break
		}
	}

	if convErr != nil {
		return refs, convErr
	}
	return refs, userErr
}

// persistConversation writes one candidate at the conversation tier. A
// duplicate is already-present, so it counts as success without a write.
func (e *Engine) persistConversation(ctx context.Context, conversationID, userID string, c types.MemoryCandidate, now time.Time) bool {
	mem := candidateToStored(c, userID, conversationID, now)
	err := e.convTier.Insert(ctx, mem)
	if errors.Is(err, storage.ErrDuplicate) {
		if e.verbose {
			log.Printf("engine: conversation memory already present (hash %s)", mem.ContentHash)
		}
		return false
	}
	if err != nil {
		// Partial-failure semantics: this record is skipped, the batch
		// continues.
		log.Printf("engine: failed to persist conversation memory: %v", err)
		return false
	}
	return true
}

// promote merges a high-importance candidate into the user tier. An existing
// record with the same content hash absorbs the candidate: importance and
// confidence move monotonically to max(old, new) and the access time
// refreshes. Otherwise a new record is inserted.
func (e *Engine) promote(ctx context.Context, userID string, c types.MemoryCandidate, now time.Time) bool {
	hash := c.Hash()
	existing, err := e.userTier.FindByHash(ctx, userID, "", hash)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Printf("engine: promotion lookup failed: %v", err)
		return false
	}

	if existing != nil {
		if c.Importance > existing.Importance {
			existing.Importance = c.Importance
		}
		if c.Confidence > existing.Confidence {
			existing.Confidence = c.Confidence
		}
		merged := *existing
		salienceInput := c
		salienceInput.Importance = existing.Importance
		salienceInput.Confidence = existing.Confidence
		merged.Salience = extract.Salience(salienceInput)
		merged.LastAccessedAt = &now
		if err := e.userTier.Update(ctx, &merged); err != nil {
			log.Printf("engine: promotion merge failed: %v", err)
		}
		return false
	}

	mem := candidateToStored(c, userID, "", now)
	err = e.userTier.Insert(ctx, mem)
	if errors.Is(err, storage.ErrDuplicate) {
		// Lost a race with a concurrent promotion of the same fact.
		return false
	}
	if err != nil {
		log.Printf("engine: failed to promote memory: %v", err)
		return false
	}
	return true
}

// pruneTier sweeps expired records, then enforces the count cap by deleting
// the least valuable records. A pruning failure is logged and deferred to
// the next pass; a temporarily over-cap tier is not an error.
func (e *Engine) pruneTier(ctx context.Context, tier storage.Provider, ownerID, scopeID string, tierCap int) {
	now := e.now()
	if _, err := tier.SweepExpired(ctx, ownerID, scopeID, now, e.cfg.TemporaryTTL); err != nil {
		log.Printf("engine: expiry sweep failed: %v", err)
	}

	if tierCap <= 0 {
		return
	}
	count, err := tier.Count(ctx, ownerID, scopeID)
	if err != nil {
		log.Printf("engine: prune count failed: %v", err)
		return
	}
	excess := count - tierCap
	if excess <= 0 {
		return
	}

	victims, err := tier.FindMany(ctx, storage.Query{
		OwnerID: ownerID,
		ScopeID: scopeID,
		OrderBy: storage.OrderPruneVictims,
		Limit:   excess,
	})
	if err != nil {
		log.Printf("engine: prune victim query failed: %v", err)
		return
	}

	ids := make([]string, len(victims))
	for i, v := range victims {
		ids[i] = v.ID
	}
	if err := tier.Delete(ctx, ids); err != nil {
		log.Printf("engine: prune delete failed: %v", err)
	}
}

// gateContext distills the message window into the gate's turn context: the
// latest user and assistant messages plus a cheap summary of what preceded
// them.
func gateContext(messages []types.Message, language string) gate.Context {
	turn := gate.Context{Language: language}

	var summaryParts []string
	lastUser, lastAssistant := -1, -1
	for i, m := range messages {
		switch m.Role {
		case "user":
			lastUser = i
		case "assistant":
			lastAssistant = i
		}
	}
	if lastUser >= 0 {
		turn.UserMessage = messages[lastUser].Content
	}
	if lastAssistant >= 0 {
		turn.AssistantMessage = messages[lastAssistant].Content
	}
	for i, m := range messages {
		if i == lastUser || i == lastAssistant {
			continue
		}
		if m.Content != "" {
			summaryParts = append(summaryParts, m.Role+": "+m.Content)
		}
	}
	if len(summaryParts) > 0 {
		const maxSummary = 2000
		summary := strings.Join(summaryParts, "\n")
		if len(summary) > maxSummary {
			summary = summary[len(summary)-maxSummary:]
		}
		turn.ConversationSummary = summary
	}

	return turn
}

// candidateToStored materializes a candidate as a tier record. Salience is
// derived here so every persisted record carries it.
func candidateToStored(c types.MemoryCandidate, ownerID, scopeID string, now time.Time) *types.StoredMemory {
	return &types.StoredMemory{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		ScopeID:     scopeID,
		Content:     c.Content,
		FactType:    c.FactType,
		Importance:  c.Importance,
		Confidence:  c.Confidence,
		Salience:    extract.Salience(c),
		Temporality: c.Temporality,
		ContentHash: c.Hash(),
		Metadata: types.MemoryMetadata{
			Subject:       c.Subject,
			Entities:      c.Entities,
			RelatedTopics: c.RelatedTopics,
			SourceContext: c.SourceContext,
		},
		ExpiresAt: c.ExpiresAt,
		CreatedAt: now,
	}
}

// rankStored adapts stored records to the candidate ranking in the extract
// package and maps the winners back.
func rankStored(pool []*types.StoredMemory, currentTopic string, maxCount int) []*types.StoredMemory {
	candidates := make([]types.MemoryCandidate, len(pool))
	byHash := make(map[string][]*types.StoredMemory, len(pool))
	for i, m := range pool {
		candidates[i] = types.MemoryCandidate{
			FactType:      m.FactType,
			Content:       m.Content,
			Subject:       m.Metadata.Subject,
			Importance:    m.Importance,
			Confidence:    m.Confidence,
			Temporality:   m.Temporality,
			Entities:      m.Metadata.Entities,
			RelatedTopics: m.Metadata.RelatedTopics,
		}
		byHash[m.ContentHash] = append(byHash[m.ContentHash], m)
	}

	ranked := extract.RankByRelevance(candidates, currentTopic, maxCount)

	result := make([]*types.StoredMemory, 0, len(ranked))
	for _, c := range ranked {
		hash := c.Hash()
		records := byHash[hash]
		if len(records) == 0 {
			continue
		}
		result = append(result, records[0])
		byHash[hash] = records[1:]
	}
	return result
}

// mergeStats folds the two tier aggregates into the owner-level view.
func mergeStats(conv, user types.TierStats, now time.Time) *types.OwnerStats {
	stats := &types.OwnerStats{
		TierCounts: map[string]int{
			"conversation": conv.Count,
			"user":         user.Count,
		},
	}

	combined := make(map[types.FactType]int)
	for ft, n := range conv.FactTypeCounts {
		combined[ft] += n
	}
	for ft, n := range user.FactTypeCounts {
		combined[ft] += n
	}
	stats.TopFactTypes = topFactTypes(combined, 5)

	total := conv.Count + user.Count
	if total > 0 {
		stats.AverageImportance = float64(conv.ImportanceSum+user.ImportanceSum) / float64(total)
	}

	oldest := conv.OldestCreatedAt
	if user.OldestCreatedAt != nil && (oldest == nil || user.OldestCreatedAt.Before(*oldest)) {
		oldest = user.OldestCreatedAt
	}
	if oldest != nil {
		stats.OldestRecordAge = now.Sub(*oldest)
	}

	if user.MaxAccessCount >= conv.MaxAccessCount {
		stats.MostAccessedContent = user.MostAccessedContent
	}
	if stats.MostAccessedContent == "" {
		stats.MostAccessedContent = conv.MostAccessedContent
	}

	return stats
}

func topFactTypes(counts map[types.FactType]int, limit int) []types.FactTypeCount {
	out := make([]types.FactTypeCount, 0, len(counts))
	for ft, n := range counts {
		out = append(out, types.FactTypeCount{FactType: ft, Count: n})
	}
	// Deterministic: count desc, then name.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].FactType < out[j].FactType
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
