package extract

import (
	"sort"
	"strings"

	"github.com/recallkit/recallkit/pkg/types"
)

// Salience weights. The blend favors importance, stabilized by confidence,
// with small bonuses for durability and richness.
const (
	importanceWeight = 0.4
	confidenceWeight = 0.2
	entityBonusStep  = 0.02
	entityBonusCap   = 0.1
)

// temporalityBonus rewards facts expected to stay true.
var temporalityBonus = map[types.Temporality]float64{
	types.TemporalityPermanent: 0.2,
	types.TemporalitySeasonal:  0.1,
	types.TemporalityTemporary: 0.05,
	types.TemporalityUnknown:   0,
}

// factTypeBonus is a fixed descending table over the closed fact-type set.
var factTypeBonus = map[types.FactType]float64{
	types.FactPersonalInfo:    0.10,
	types.FactPreference:      0.09,
	types.FactRelationship:    0.08,
	types.FactWorkInfo:        0.07,
	types.FactTechnicalDetail: 0.06,
	types.FactEvent:           0.05,
	types.FactGoal:            0.04,
	types.FactProblem:         0.03,
	types.FactSolution:        0.02,
	types.FactContext:         0.01,
	types.FactOther:           0,
}

// Salience derives a [0,1] score from a candidate's importance, confidence,
// temporality, entity richness, and fact type. Pure and deterministic: the
// same candidate always scores the same, across calls and processes.
func Salience(c types.MemoryCandidate) float64 {
	score := importanceWeight*(float64(c.Importance)/10) + confidenceWeight*c.Confidence
	score += temporalityBonus[c.Temporality]

	entityBonus := entityBonusStep * float64(len(c.Entities))
	if entityBonus > entityBonusCap {
		entityBonus = entityBonusCap
	}
	score += entityBonus
	score += factTypeBonus[c.FactType]

	if score > 1 {
		score = 1
	}
	return score
}

// Relevance weights: token overlap with the current topic dominates, salience
// breaks the rest.
const (
	overlapWeight  = 0.6
	salienceWeight = 0.4

	contentTokenWeight = 1.0
	topicTokenWeight   = 2.0
	entityTokenWeight  = 1.5
)

// RankByRelevance orders the pool by blended topic relevance and salience and
// returns the top maxCount. The sort is stable: equal scores keep pool order.
func RankByRelevance(pool []types.MemoryCandidate, currentTopic string, maxCount int) []types.MemoryCandidate {
	if maxCount <= 0 || len(pool) == 0 {
		return nil
	}

	topicTokens := tokenize(currentTopic)

	type scored struct {
		candidate types.MemoryCandidate
		score     float64
	}
	ranked := make([]scored, len(pool))
	for i, candidate := range pool {
		ranked[i] = scored{
			candidate: candidate,
			score:     overlapWeight*keywordOverlap(topicTokens, candidate) + salienceWeight*Salience(candidate),
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	if maxCount > len(ranked) {
		maxCount = len(ranked)
	}
	result := make([]types.MemoryCandidate, maxCount)
	for i := 0; i < maxCount; i++ {
		result[i] = ranked[i].candidate
	}
	return result
}

// keywordOverlap scores [0,1] how strongly the topic tokens hit a candidate.
// Matches in related topics weigh double, entities one and a half, content
// single. Normalized by the best possible per-token weight.
func keywordOverlap(topicTokens []string, c types.MemoryCandidate) float64 {
	if len(topicTokens) == 0 {
		return 0
	}

	contentTokens := tokenSet(c.Content)
	relatedTokens := tokenSet(strings.Join(c.RelatedTopics, " "))
	entityTokens := tokenSet(strings.Join(c.Entities, " "))

	total := 0.0
	for _, token := range topicTokens {
		best := 0.0
		if _, ok := relatedTokens[token]; ok {
			best = topicTokenWeight
		} else if _, ok := entityTokens[token]; ok {
			best = entityTokenWeight
		} else if _, ok := contentTokens[token]; ok {
			best = contentTokenWeight
		}
		total += best
	}

	return total / (topicTokenWeight * float64(len(topicTokens)))
}

// tokenize lowercases and splits text into unique tokens of length >= 3,
// preserving first-seen order.
func tokenize(text string) []string {
	seen := make(map[string]struct{})
	var tokens []string
	for _, field := range strings.Fields(strings.ToLower(text)) {
		token := strings.Trim(field, ".,;:!?\"'()[]{}")
		if len([]rune(token)) < 3 {
			continue
		}
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		tokens = append(tokens, token)
	}
	return tokens
}

// tokenSet is tokenize as a membership set.
func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, token := range tokenize(text) {
		set[token] = struct{}{}
	}
	return set
}
