// Package types defines the core data structures for the RecallKit memory
// system: fact classifications, detected artifacts, gate decisions, extracted
// memory candidates, and stored memory records at both tiers.
package types

// FactType classifies what kind of information a memory captures.
type FactType string

// Fact type constants. The scoring tables in the extract package cover every
// value here; extend both together.
const (
	FactPersonalInfo    FactType = "personal_info"
	FactPreference      FactType = "preference"
	FactRelationship    FactType = "relationship"
	FactWorkInfo        FactType = "work_info"
	FactTechnicalDetail FactType = "technical_detail"
	FactEvent           FactType = "event"
	FactGoal            FactType = "goal"
	FactProblem         FactType = "problem"
	FactSolution        FactType = "solution"
	FactContext         FactType = "context"
	FactOther           FactType = "other"
)

// ValidFactTypes is a slice of all valid fact types for validation.
var ValidFactTypes = []FactType{
	FactPersonalInfo,
	FactPreference,
	FactRelationship,
	FactWorkInfo,
	FactTechnicalDetail,
	FactEvent,
	FactGoal,
	FactProblem,
	FactSolution,
	FactContext,
	FactOther,
}

// IsValidFactType checks if the given fact type is valid.
func IsValidFactType(ft FactType) bool {
	for _, valid := range ValidFactTypes {
		if valid == ft {
			return true
		}
	}
	return false
}

// NormalizeFactType maps unknown fact type strings to FactOther so that a
// misbehaving extraction provider can never widen the type set.
func NormalizeFactType(raw string) FactType {
	ft := FactType(raw)
	if IsValidFactType(ft) {
		return ft
	}
	return FactOther
}

// Temporality describes how long a fact is expected to stay true.
type Temporality string

// Temporality constants.
const (
	TemporalityPermanent Temporality = "permanent"
	TemporalityTemporary Temporality = "temporary"
	TemporalitySeasonal  Temporality = "seasonal"
	TemporalityUnknown   Temporality = "unknown"
)

// ValidTemporalities is a slice of all valid temporality values.
var ValidTemporalities = []Temporality{
	TemporalityPermanent,
	TemporalityTemporary,
	TemporalitySeasonal,
	TemporalityUnknown,
}

// IsValidTemporality checks if the given temporality is valid.
func IsValidTemporality(t Temporality) bool {
	for _, valid := range ValidTemporalities {
		if valid == t {
			return true
		}
	}
	return false
}

// NormalizeTemporality maps unknown temporality strings to TemporalityUnknown.
func NormalizeTemporality(raw string) Temporality {
	t := Temporality(raw)
	if IsValidTemporality(t) {
		return t
	}
	return TemporalityUnknown
}

// ArtifactType identifies the structural category of a detected text span.
type ArtifactType string

// Artifact type constants, in descending retrieval-priority order.
const (
	ArtifactEmail    ArtifactType = "email"
	ArtifactUUID     ArtifactType = "uuid"
	ArtifactURL      ArtifactType = "url"
	ArtifactIBAN     ArtifactType = "iban"
	ArtifactPhone    ArtifactType = "phone"
	ArtifactIPv4     ArtifactType = "ipv4"
	ArtifactIPv6     ArtifactType = "ipv6"
	ArtifactDate     ArtifactType = "date"
	ArtifactMoney    ArtifactType = "money"
	ArtifactJSON     ArtifactType = "json"
	ArtifactFilePath ArtifactType = "file_path"
)

// GateMode records which strategy produced a gate decision.
type GateMode string

// Gate mode constants.
const (
	GateModeLLM       GateMode = "llm"
	GateModeEmbedding GateMode = "embedding"
	GateModeBypassed  GateMode = "bypassed"
)
