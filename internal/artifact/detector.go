// Package artifact provides language-agnostic detection of structurally
// recognizable spans (emails, URLs, UUIDs, dates, money, JSON, paths, IBANs,
// phone numbers) in free text. Detection is pure and synchronous: no
// allocation beyond the result, no I/O, no delegation.
//
// Every recognizer runs independently over the input and the results are
// unioned, so one token can legitimately surface under several types.
package artifact

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/recallkit/recallkit/pkg/types"
)

// Result is the outcome of running all recognizers over one piece of text.
// Results are transient; they live only inside a single turn.
type Result struct {
	HasArtifacts bool
	ByType       map[types.ArtifactType][]types.ArtifactSpan
	AllRawValues map[string]struct{}
}

// newResult returns an empty result ready to collect spans.
func newResult() *Result {
	return &Result{
		ByType:       make(map[types.ArtifactType][]types.ArtifactSpan),
		AllRawValues: make(map[string]struct{}),
	}
}

// add records a span under its type and indexes its raw value.
func (r *Result) add(span types.ArtifactSpan) {
	r.ByType[span.Type] = append(r.ByType[span.Type], span)
	r.AllRawValues[span.RawValue] = struct{}{}
	r.HasArtifacts = true
}

// Merge unions another result into this one. Duplicate raw values within one
// type are dropped so repeated field scans don't inflate span lists.
func (r *Result) Merge(other *Result) {
	if other == nil {
		return
	}
	for artifactType, spans := range other.ByType {
		for _, span := range spans {
			if r.containsRaw(artifactType, span.RawValue) {
				continue
			}
			r.add(span)
		}
	}
}

func (r *Result) containsRaw(artifactType types.ArtifactType, raw string) bool {
	for _, span := range r.ByType[artifactType] {
		if span.RawValue == raw {
			return true
		}
	}
	return false
}

// RawValues returns the deduplicated raw values of all spans, sorted for
// deterministic output.
func (r *Result) RawValues() []string {
	values := make([]string, 0, len(r.AllRawValues))
	for v := range r.AllRawValues {
		values = append(values, v)
	}
	sort.Strings(values)
	return values
}

// Detect runs every recognizer over the text and unions their spans.
func Detect(text string) *Result {
	result := newResult()
	if strings.TrimSpace(text) == "" {
		return result
	}

	for _, span := range detectEmails(text) {
		result.add(span)
	}
	for _, span := range detectURLs(text) {
		result.add(span)
	}
	for _, span := range detectUUIDs(text) {
		result.add(span)
	}
	for _, span := range detectIPs(text) {
		result.add(span)
	}
	for _, span := range detectDates(text) {
		result.add(span)
	}
	for _, span := range detectMoney(text) {
		result.add(span)
	}
	for _, span := range detectJSON(text) {
		result.add(span)
	}
	for _, span := range detectFilePaths(text) {
		result.add(span)
	}
	for _, span := range detectIBANs(text) {
		result.add(span)
	}
	for _, span := range detectPhones(text) {
		result.add(span)
	}

	return result
}

// valuableFields is the allow-list of tool-output field names whose values
// are scanned individually before the full stringified payload.
var valuableFields = map[string]struct{}{
	"id":        {},
	"uuid":      {},
	"url":       {},
	"uri":       {},
	"link":      {},
	"href":      {},
	"email":     {},
	"path":      {},
	"file":      {},
	"filename":  {},
	"ticket":    {},
	"reference": {},
	"phone":     {},
	"address":   {},
	"key":       {},
}

// DetectToolOutput runs detection over a structured tool-call result. Likely
// valuable fields are scanned individually, then the full stringified value,
// and all spans are unioned into one result.
func DetectToolOutput(value any) *Result {
	result := newResult()
	if value == nil {
		return result
	}

	switch v := value.(type) {
	case string:
		result.Merge(Detect(v))
	case map[string]any:
		for key, fieldValue := range v {
			if _, ok := valuableFields[strings.ToLower(key)]; !ok {
				continue
			}
			result.Merge(Detect(stringify(fieldValue)))
		}
		result.Merge(Detect(stringify(v)))
	default:
		result.Merge(Detect(stringify(v)))
	}

	return result
}

// stringify renders a tool-output value for scanning. JSON is preferred so
// nested fields stay visible; anything unmarshalable falls back to fmt.
func stringify(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(data)
}

// IsPII reports whether the result contains personally identifying artifact
// types (email or phone).
func IsPII(result *Result) bool {
	if result == nil {
		return false
	}
	return len(result.ByType[types.ArtifactEmail]) > 0 || len(result.ByType[types.ArtifactPhone]) > 0
}

// valuePriority orders artifact types by how useful a single span is as a
// retrieval anchor.
var valuePriority = []types.ArtifactType{
	types.ArtifactEmail,
	types.ArtifactUUID,
	types.ArtifactURL,
	types.ArtifactIBAN,
	types.ArtifactPhone,
	types.ArtifactIPv4,
	types.ArtifactIPv6,
	types.ArtifactDate,
	types.ArtifactMoney,
	types.ArtifactJSON,
	types.ArtifactFilePath,
}

// MostValuable returns the single highest-confidence span, breaking ties by
// the fixed type priority order. Returns nil when the result is empty.
func MostValuable(result *Result) *types.ArtifactSpan {
	if result == nil || !result.HasArtifacts {
		return nil
	}

	var best *types.ArtifactSpan
	for _, artifactType := range valuePriority {
		for i := range result.ByType[artifactType] {
			span := result.ByType[artifactType][i]
			if best == nil || span.Confidence > best.Confidence {
				copied := span
				best = &copied
			}
		}
	}
	return best
}
