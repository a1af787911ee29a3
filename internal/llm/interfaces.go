// Package llm defines the delegated-capability contracts the memory pipeline
// depends on (classification, structured extraction, embeddings) and provides
// resilience wrappers plus an Ollama-compatible HTTP implementation.
//
// Core packages depend only on the interfaces here; any provider that
// satisfies them can be injected, including the test fakes.
package llm

import (
	"context"

	"github.com/recallkit/recallkit/pkg/types"
)

// ClassifyRequest carries the turn context for a remember/skip decision.
type ClassifyRequest struct {
	ConversationSummary string
	UserMessage         string
	AssistantMessage    string
	Language            string
}

// Decision is a classifier verdict with its stated reason.
type Decision struct {
	Remember bool   `json:"remember"`
	Reason   string `json:"reason"`
}

// Classifier decides whether a turn is worth full extraction.
type Classifier interface {
	Classify(ctx context.Context, req ClassifyRequest) (Decision, error)
}

// ExtractRequest carries the message window and context for fact extraction.
type ExtractRequest struct {
	Messages []types.Message
	Language string
	// KnownContents lists recent memory contents so the provider can avoid
	// re-emitting facts that are already stored. Advisory only; the caller
	// deduplicates by hash regardless.
	KnownContents []string
}

// ExtractMeta is the per-turn analysis an extraction provider returns
// alongside the candidates.
type ExtractMeta struct {
	ConversationSummary string `json:"conversationSummary,omitempty"`
	UserIntent          string `json:"userIntent,omitempty"`
	EmotionalTone       string `json:"emotionalTone,omitempty"`
}

// Extractor turns a message window into structured memory candidates.
type Extractor interface {
	ExtractStructured(ctx context.Context, req ExtractRequest) ([]types.MemoryCandidate, ExtractMeta, error)
}

// Embedder generates vector embeddings for short texts. Used by the
// embedding-mode gate; callers compare vectors locally.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
