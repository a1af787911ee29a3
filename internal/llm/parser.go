package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/recallkit/recallkit/pkg/types"
)

// decisionResponse is the wire shape of a classification verdict.
type decisionResponse struct {
	Remember bool   `json:"remember"`
	Reason   string `json:"reason"`
}

// candidateResponse is the wire shape of one extracted fact.
type candidateResponse struct {
	FactType      string   `json:"fact_type"`
	Content       string   `json:"content"`
	Subject       string   `json:"subject,omitempty"`
	Importance    float64  `json:"importance"`
	Confidence    float64  `json:"confidence"`
	Temporality   string   `json:"temporality"`
	Entities      []string `json:"entities,omitempty"`
	RelatedTopics []string `json:"related_topics,omitempty"`
	ExpiresAt     string   `json:"expires_at,omitempty"`
	SourceContext string   `json:"source_context,omitempty"`
}

// extractionResponse is the wire shape of a full extraction result.
type extractionResponse struct {
	Memories            []candidateResponse `json:"memories"`
	ConversationSummary string              `json:"conversation_summary,omitempty"`
	UserIntent          string              `json:"user_intent,omitempty"`
	EmotionalTone       string              `json:"emotional_tone,omitempty"`
}

// ExtractJSONValue returns the first balanced JSON object or array in text.
// Models routinely wrap JSON in code fences or prose despite instructions;
// this strips fences and scans for the first complete value. If no balanced
// value is found the input is returned as-is so the parser fails with a
// useful error.
func ExtractJSONValue(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	start := strings.IndexAny(text, "{[")
	if start == -1 {
		return text
	}

	open := text[start]
	var close byte = '}'
	if open == '[' {
		close = ']'
	}

	depth := 0
	inString := false
	escape := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escape {
			escape = false
			continue
		}
		switch {
		case c == '\\':
			escape = true
		case c == '"':
			inString = !inString
		case inString:
		case c == open:
			depth++
		case c == close:
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}

	return text
}

// ParseDecision parses a classifier response. Extra prose around the JSON is
// tolerated; malformed JSON is an error.
func ParseDecision(raw string) (Decision, error) {
	var resp decisionResponse
	if err := json.Unmarshal([]byte(ExtractJSONValue(raw)), &resp); err != nil {
		return Decision{}, fmt.Errorf("llm: failed to parse decision: %w", err)
	}
	return Decision{Remember: resp.Remember, Reason: resp.Reason}, nil
}

// ParseExtraction parses an extraction response into clamped candidates.
// Entries without content are skipped rather than failing the batch; only
// malformed JSON is an error.
func ParseExtraction(raw string) ([]types.MemoryCandidate, ExtractMeta, error) {
	cleaned := ExtractJSONValue(raw)

	var resp extractionResponse
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		// Some models return a bare array of memories.
		var bare []candidateResponse
		if arrErr := json.Unmarshal([]byte(cleaned), &bare); arrErr != nil {
			return nil, ExtractMeta{}, fmt.Errorf("llm: failed to parse extraction: %w", err)
		}
		resp.Memories = bare
	}

	candidates := make([]types.MemoryCandidate, 0, len(resp.Memories))
	for _, m := range resp.Memories {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		candidate := types.MemoryCandidate{
			FactType:      types.NormalizeFactType(m.FactType),
			Content:       strings.TrimSpace(m.Content),
			Subject:       m.Subject,
			Importance:    int(m.Importance + 0.5),
			Confidence:    m.Confidence,
			Temporality:   types.NormalizeTemporality(m.Temporality),
			Entities:      m.Entities,
			RelatedTopics: m.RelatedTopics,
			SourceContext: m.SourceContext,
		}
		if m.ExpiresAt != "" {
			if t, err := time.Parse(time.RFC3339, m.ExpiresAt); err == nil {
				candidate.ExpiresAt = &t
			}
		}
		candidate.Clamp()
		candidates = append(candidates, candidate)
	}

	meta := ExtractMeta{
		ConversationSummary: resp.ConversationSummary,
		UserIntent:          resp.UserIntent,
		EmotionalTone:       resp.EmotionalTone,
	}
	return candidates, meta, nil
}
