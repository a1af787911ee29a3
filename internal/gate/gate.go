// Package gate implements the memory admission decision: whether a
// conversation turn merits full structured extraction. Two interchangeable
// strategies exist — a cheap local embedding heuristic and a delegated LLM
// classification — plus a bypass for turns already known to be valuable.
//
// The gate never returns an error. Any provider failure degrades to the
// conservative decision for its mode so the chat path is never interrupted.
package gate

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/recallkit/recallkit/internal/llm"
	"github.com/recallkit/recallkit/pkg/types"
)

// BypassReason is the fixed reason recorded when the gate is skipped.
const BypassReason = "contains artifacts or tool output"

// Context is the turn context handed to the gate.
type Context struct {
	ConversationSummary string
	UserMessage         string
	AssistantMessage    string
	Language            string
}

// Config tunes the gate.
type Config struct {
	// Mode is "embedding" or "llm".
	Mode string
	// EmbeddingThreshold is the minimum heuristic score for a remember
	// decision in embedding mode.
	EmbeddingThreshold float64
	// CacheSize bounds the embedding LRU cache.
	CacheSize int
	// Verbose enables debug logging of scores and skips.
	Verbose bool
}

// Gate decides per turn whether extraction should run.
type Gate struct {
	cfg        Config
	classifier llm.Classifier
	embedder   llm.Embedder
	cache      *lru.Cache[string, []float32]
}

// New creates a gate. classifier is required in llm mode; embedder is
// optional in embedding mode (the lexical heuristic alone is used without
// it).
func New(cfg Config, classifier llm.Classifier, embedder llm.Embedder) (*Gate, error) {
	if cfg.Mode != "embedding" && cfg.Mode != "llm" {
		return nil, fmt.Errorf("gate: unknown mode %q", cfg.Mode)
	}
	if cfg.Mode == "llm" && classifier == nil {
		return nil, fmt.Errorf("gate: llm mode requires a classifier")
	}
	if cfg.EmbeddingThreshold == 0 {
		cfg.EmbeddingThreshold = 0.55
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 512
	}

	cache, err := lru.New[string, []float32](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("gate: failed to create embedding cache: %w", err)
	}

	return &Gate{cfg: cfg, classifier: classifier, embedder: embedder, cache: cache}, nil
}

// ShouldSkip reports whether the gate should be bypassed entirely. Turns
// containing detected artifacts or tool output are already known to be
// valuable; paying for a second classification would be wasted cost.
func ShouldSkip(hasArtifacts, isToolOutput bool) bool {
	return hasArtifacts || isToolOutput
}

// Bypass returns the forced remember decision used when ShouldSkip holds.
func Bypass() types.GateDecision {
	return types.GateDecision{Remember: true, Reason: BypassReason, Mode: types.GateModeBypassed}
}

// Decide runs the configured strategy over the turn context.
func (g *Gate) Decide(ctx context.Context, turn Context) types.GateDecision {
	switch g.cfg.Mode {
	case "llm":
		return g.decideLLM(ctx, turn)
	default:
		return g.decideEmbedding(ctx, turn)
	}
}

// decideLLM delegates the yes/no decision to the classifier. Any error —
// timeout, open circuit, malformed response — is recovered as a conservative
// "do not remember" with the error recorded as the reason.
func (g *Gate) decideLLM(ctx context.Context, turn Context) types.GateDecision {
	decision, err := g.classifier.Classify(ctx, llm.ClassifyRequest{
		ConversationSummary: turn.ConversationSummary,
		UserMessage:         turn.UserMessage,
		AssistantMessage:    turn.AssistantMessage,
		Language:            turn.Language,
	})
	if err != nil {
		if g.cfg.Verbose {
			log.Printf("gate: classification failed, skipping extraction: %v", err)
		}
		return types.GateDecision{Remember: false, Reason: err.Error(), Mode: types.GateModeLLM}
	}

	return types.GateDecision{Remember: decision.Remember, Reason: decision.Reason, Mode: types.GateModeLLM}
}

// decideEmbedding scores the turn locally: cosine similarity of the user
// message against memory-worthy anchor phrases, blended with a lexical
// signal. Embedder failures degrade to the lexical signal alone.
func (g *Gate) decideEmbedding(ctx context.Context, turn Context) types.GateDecision {
	lexical := lexicalScore(turn.UserMessage)
	score := lexical

	if g.embedder != nil {
		if similarity, ok := g.anchorSimilarity(ctx, turn.UserMessage); ok {
			score = 0.7*similarity + 0.3*lexical
		}
	}

	remember := score >= g.cfg.EmbeddingThreshold
	reason := fmt.Sprintf("heuristic score %.2f (threshold %.2f)", score, g.cfg.EmbeddingThreshold)
	if g.cfg.Verbose && !remember {
		log.Printf("gate: below threshold: %s", reason)
	}

	return types.GateDecision{Remember: remember, Reason: reason, Mode: types.GateModeEmbedding}
}

// anchorPhrases are prototypes of memory-worthy statements. The maximum
// similarity against any of them approximates "does this message state a
// durable personal fact".
var anchorPhrases = []string{
	"my name is",
	"I work at a company as",
	"I live in",
	"my email address is",
	"I prefer",
	"please remember that",
	"my goal is to",
	"I am allergic to",
	"my wife my husband my partner",
	"the problem I am trying to solve is",
}

// anchorSimilarity returns the best cosine similarity between the message
// and the anchor set, and whether embedding succeeded.
func (g *Gate) anchorSimilarity(ctx context.Context, message string) (float64, bool) {
	messageVec, err := g.embed(ctx, message)
	if err != nil {
		if g.cfg.Verbose {
			log.Printf("gate: embedding failed, using lexical signal only: %v", err)
		}
		return 0, false
	}

	best := 0.0
	for _, anchor := range anchorPhrases {
		anchorVec, err := g.embed(ctx, anchor)
		if err != nil {
			continue
		}
		if sim := cosine(messageVec, anchorVec); sim > best {
			best = sim
		}
	}
	return best, true
}

// embed returns the embedding for text, serving repeats from the LRU cache.
func (g *Gate) embed(ctx context.Context, text string) ([]float32, error) {
	key := strings.TrimSpace(text)
	if vec, ok := g.cache.Get(key); ok {
		return vec, nil
	}

	vec, err := g.embedder.Embed(ctx, key)
	if err != nil {
		return nil, err
	}
	g.cache.Add(key, vec)
	return vec, nil
}

// cosine computes cosine similarity, zero for mismatched or empty vectors.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// retentionMarkers are cheap lexical cues that a message states something
// about the speaker worth keeping. Deliberately small; the embedding signal
// carries the nuance.
var retentionMarkers = []string{
	"my ", "i am ", "i'm ", "i work", "i live", "i prefer", "i like",
	"i hate", "i need", "i want", "remember", "always", "never",
	"birthday", "allergic", "deadline",
}

// lexicalScore is a [0,1] heuristic over the raw message text. It is the
// whole signal when no embedder is configured and a stabilizer otherwise.
func lexicalScore(message string) float64 {
	text := strings.ToLower(strings.TrimSpace(message))
	if text == "" {
		return 0
	}

	score := 0.0
	for _, marker := range retentionMarkers {
		if strings.Contains(text, marker) {
			score += 0.25
		}
	}
	if score > 0.75 {
		score = 0.75
	}

	// Very short messages ("ok", "thanks") rarely carry durable facts.
	words := len(strings.Fields(text))
	switch {
	case words >= 8:
		score += 0.25
	case words >= 4:
		score += 0.15
	}

	if score > 1 {
		score = 1
	}
	return score
}
