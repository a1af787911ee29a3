// Package extract turns a window of conversation messages into structured,
// scored memory candidates. Generation is delegated to an injected provider
// constrained to the candidate schema; this package owns validation,
// deduplication against known content hashes, salience scoring, and
// relevance ranking.
package extract

import (
	"context"
	"fmt"
	"log"

	"github.com/recallkit/recallkit/internal/llm"
	"github.com/recallkit/recallkit/pkg/types"
)

// Context carries per-turn extraction context.
type Context struct {
	UserID         string
	ConversationID string
	Language       string
	// ExistingMemories is recent stored content handed to the delegated
	// capability so it does not re-extract facts that are already known.
	ExistingMemories []types.ContentRef
}

// Result is the outcome of one extraction call.
type Result struct {
	Memories            []types.MemoryCandidate
	ConversationSummary string
	UserIntent          string
	EmotionalTone       string
}

// Extractor wraps the delegated extraction capability.
type Extractor struct {
	provider llm.Extractor
	verbose  bool
}

// New creates an extractor around the given provider.
func New(provider llm.Extractor, verbose bool) (*Extractor, error) {
	if provider == nil {
		return nil, fmt.Errorf("extract: provider is required")
	}
	return &Extractor{provider: provider, verbose: verbose}, nil
}

// Extract runs the delegated extraction over the message window, then clamps
// and deduplicates the returned candidates. A provider error propagates to
// the caller, which treats it as "nothing extracted".
func (e *Extractor) Extract(ctx context.Context, messages []types.Message, extractCtx Context) (*Result, error) {
	if len(messages) == 0 {
		return &Result{}, nil
	}

	known := make([]string, 0, len(extractCtx.ExistingMemories))
	for _, ref := range extractCtx.ExistingMemories {
		known = append(known, ref.Content)
	}

	candidates, meta, err := e.provider.ExtractStructured(ctx, llm.ExtractRequest{
		Messages:      messages,
		Language:      extractCtx.Language,
		KnownContents: known,
	})
	if err != nil {
		return nil, fmt.Errorf("extract: delegated extraction failed: %w", err)
	}

	// Candidates repeating already-stored content are kept: the storage
	// layer's uniqueness constraint treats the re-insert as a no-op and the
	// promotion path merges it, refreshing access bookkeeping. Only
	// duplicates within this batch are dropped here.
	batchHashes := make(map[string]struct{}, len(candidates))
	kept := make([]types.MemoryCandidate, 0, len(candidates))
	for _, candidate := range candidates {
		candidate.Clamp()
		if candidate.Validate() != nil {
			continue
		}
		hash := candidate.Hash()
		if _, dup := batchHashes[hash]; dup {
			if e.verbose {
				log.Printf("extract: dropping duplicate candidate %q", candidate.Content)
			}
			continue
		}
		batchHashes[hash] = struct{}{}
		kept = append(kept, candidate)
	}

	return &Result{
		Memories:            kept,
		ConversationSummary: meta.ConversationSummary,
		UserIntent:          meta.UserIntent,
		EmotionalTone:       meta.EmotionalTone,
	}, nil
}

// minSingleImportance is the floor applied by ExtractSingle.
const minSingleImportance = 3

// ExtractSingle runs extraction expecting at most one fact and discards
// low-importance results. Used for focused single-message paths.
func (e *Extractor) ExtractSingle(ctx context.Context, message types.Message, extractCtx Context) (*types.MemoryCandidate, error) {
	result, err := e.Extract(ctx, []types.Message{message}, extractCtx)
	if err != nil {
		return nil, err
	}
	if len(result.Memories) == 0 {
		return nil, nil
	}

	best := result.Memories[0]
	for _, candidate := range result.Memories[1:] {
		if Salience(candidate) > Salience(best) {
			best = candidate
		}
	}
	if best.Importance < minSingleImportance {
		return nil, nil
	}
	return &best, nil
}
