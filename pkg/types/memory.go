package types

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"
)

// Message is one turn element handed to the pipeline by the surrounding chat
// application. ToolOutput carries the structured result of a tool call when
// the message originated from one; it is nil for plain chat messages.
type Message struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	ToolOutput any    `json:"toolOutput,omitempty"`
}

// ArtifactSpan is a structurally recognized span of text. Spans are transient:
// they live only inside a single turn and are never persisted.
type ArtifactSpan struct {
	Type            ArtifactType `json:"type"`
	RawValue        string       `json:"rawValue"`
	NormalizedValue string       `json:"normalizedValue"`
	Confidence      float64      `json:"confidence"`
}

// GateDecision is the admission-control outcome for one turn.
type GateDecision struct {
	Remember bool     `json:"remember"`
	Reason   string   `json:"reason"`
	Mode     GateMode `json:"mode"`
}

// MemoryCandidate is a structured fact produced by extraction, transient until
// it is persisted as a StoredMemory.
type MemoryCandidate struct {
	FactType      FactType    `json:"factType"`
	Content       string      `json:"content"`
	Subject       string      `json:"subject,omitempty"`
	Importance    int         `json:"importance"`
	Confidence    float64     `json:"confidence"`
	Temporality   Temporality `json:"temporality"`
	Entities      []string    `json:"entities,omitempty"`
	RelatedTopics []string    `json:"relatedTopics,omitempty"`
	ExpiresAt     *time.Time  `json:"expiresAt,omitempty"`
	SourceContext string      `json:"sourceContext,omitempty"`
}

// Clamp forces all scored fields into their documented ranges and replaces
// out-of-set enum values. Safe to call on provider output of any quality.
func (c *MemoryCandidate) Clamp() {
	if c.Importance < 1 {
		c.Importance = 1
	}
	if c.Importance > 10 {
		c.Importance = 10
	}
	if c.Confidence < 0 {
		c.Confidence = 0
	}
	if c.Confidence > 1 {
		c.Confidence = 1
	}
	c.FactType = NormalizeFactType(string(c.FactType))
	c.Temporality = NormalizeTemporality(string(c.Temporality))
}

// Validate reports whether the candidate is persistable at all.
func (c *MemoryCandidate) Validate() error {
	if strings.TrimSpace(c.Content) == "" {
		return fmt.Errorf("candidate content is required")
	}
	return nil
}

// Hash returns the content hash of the candidate.
func (c *MemoryCandidate) Hash() string {
	return HashContent(c.Content)
}

// MemoryMetadata holds the candidate fields that are carried along with a
// stored record but never filtered on. It is persisted as one JSON column.
type MemoryMetadata struct {
	Subject       string   `json:"subject,omitempty"`
	Entities      []string `json:"entities,omitempty"`
	RelatedTopics []string `json:"relatedTopics,omitempty"`
	SourceContext string   `json:"sourceContext,omitempty"`
	Language      string   `json:"language,omitempty"`
}

// StoredMemory is a persisted memory record. The same shape backs both
// physical tiers; ScopeID is set only at the conversation tier.
type StoredMemory struct {
	ID          string         `json:"id"`
	OwnerID     string         `json:"ownerId"`
	ScopeID     string         `json:"scopeId,omitempty"`
	Content     string         `json:"content"`
	FactType    FactType       `json:"factType"`
	Importance  int            `json:"importance"`
	Confidence  float64        `json:"confidence"`
	Salience    float64        `json:"salience"`
	Temporality Temporality    `json:"temporality"`
	ContentHash string         `json:"contentHash"`
	Metadata    MemoryMetadata `json:"metadata"`
	AccessCount int            `json:"accessCount"`
	ExpiresAt   *time.Time     `json:"expiresAt,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	// LastAccessedAt is nil until the record is first returned by retrieval.
	LastAccessedAt *time.Time `json:"lastAccessedAt,omitempty"`
}

// ContentRef is a lightweight (content, hash) pair used as dedup context.
type ContentRef struct {
	Content string `json:"content"`
	Hash    string `json:"hash"`
}

// TurnResult summarizes what a ProcessTurn call wrote.
type TurnResult struct {
	ConversationMemoriesWritten int               `json:"conversationMemoriesWritten"`
	UserMemoriesWritten         int               `json:"userMemoriesWritten"`
	Extracted                   []MemoryCandidate `json:"extracted,omitempty"`
}

// FactTypeCount pairs a fact type with its record count, for stats reporting.
type FactTypeCount struct {
	FactType FactType `json:"factType"`
	Count    int      `json:"count"`
}

// TierStats is the per-tier aggregate a persistence provider reports.
type TierStats struct {
	Count               int              `json:"count"`
	FactTypeCounts      map[FactType]int `json:"factTypeCounts"`
	ImportanceSum       int              `json:"importanceSum"`
	OldestCreatedAt     *time.Time       `json:"oldestCreatedAt,omitempty"`
	MostAccessedContent string           `json:"mostAccessedContent,omitempty"`
	MaxAccessCount      int              `json:"maxAccessCount"`
}

// OwnerStats is the merged two-tier view returned by GetStats.
type OwnerStats struct {
	TierCounts          map[string]int  `json:"tierCounts"`
	TopFactTypes        []FactTypeCount `json:"topFactTypes"`
	AverageImportance   float64         `json:"averageImportance"`
	OldestRecordAge     time.Duration   `json:"oldestRecordAge"`
	MostAccessedContent string          `json:"mostAccessedContent,omitempty"`
}

// NormalizeContent canonicalizes memory content for hashing: lowercased,
// trimmed, internal whitespace collapsed. Two phrasings of the same fact that
// differ only in case or spacing hash identically.
func NormalizeContent(content string) string {
	return strings.Join(strings.Fields(strings.ToLower(content)), " ")
}

// HashContent returns the 16-hex-character SHA-256 prefix of the normalized
// content. This is the dedup key within one owner and scope.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(NormalizeContent(content)))
	return fmt.Sprintf("%x", sum)[:16]
}
