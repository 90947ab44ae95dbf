// Package model defines the records exchanged between the lexical index,
// the query enhancer, the fusion engine, the orchestrator and the cache
// invalidation machinery.
package model

import (
	"maps"
	"strings"
	"time"
)

// Document is the unit of retrieval. Documents are replaced wholesale on
// re-index and never mutated in place once submitted.
type Document struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Tokens   []string       `json:"tokens,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Clone returns a deep copy of the document's slices and metadata map.
func (d Document) Clone() Document {
	out := Document{ID: d.ID, Content: d.Content}
	if d.Tokens != nil {
		out.Tokens = append([]string(nil), d.Tokens...)
	}
	out.Metadata = CloneMetadata(d.Metadata)
	return out
}

// CloneMetadata copies a metadata map; nil stays nil.
func CloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}

// SearchMethod identifies which retrieval path produced a result.
type SearchMethod string

const (
	MethodLexical  SearchMethod = "lexical"
	MethodSemantic SearchMethod = "semantic"
)

// SearchResult is a single ranked hit from one retrieval path. Scores are on
// the producing method's own scale.
type SearchResult struct {
	DocumentID   string         `json:"document_id"`
	Content      string         `json:"content"`
	Score        float64        `json:"score"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	SearchMethod SearchMethod   `json:"search_method"`
	Highlights   []string       `json:"highlights,omitempty"`
	Rank         int            `json:"rank"`
}

// Intent is the classified purpose of a query.
type Intent string

const (
	IntentFactual     Intent = "factual"
	IntentProcedural  Intent = "procedural"
	IntentComparative Intent = "comparative"
	IntentExploratory Intent = "exploratory"
	IntentSpecific    Intent = "specific"
	IntentAnalytical  Intent = "analytical"
)

// Intents lists every intent in classification order.
var Intents = []Intent{
	IntentFactual,
	IntentProcedural,
	IntentComparative,
	IntentExploratory,
	IntentSpecific,
	IntentAnalytical,
}

// EnhancedQuery is the output of the query enhancement pipeline.
// ExpandedTokens always starts with Tokens.
type EnhancedQuery struct {
	Original       string            `json:"original"`
	Corrected      string            `json:"corrected"`
	Tokens         []string          `json:"tokens"`
	ExpandedTokens []string          `json:"expanded_tokens"`
	Intent         Intent            `json:"intent"`
	Confidence     float64           `json:"confidence"`
	Corrections    map[string]string `json:"corrections,omitempty"`
}

// Text returns the query text search should run against: the expanded terms
// when present, otherwise the corrected text.
func (q *EnhancedQuery) Text() string {
	if q == nil {
		return ""
	}
	if len(q.ExpandedTokens) > 0 {
		return strings.Join(q.ExpandedTokens, " ")
	}
	return q.Corrected
}

// FusionResult is one entry of the merged ranking.
type FusionResult struct {
	DocumentID    string         `json:"document_id"`
	Content       string         `json:"content"`
	FusedScore    float64        `json:"fused_score"`
	SemanticScore float64        `json:"semantic_score"`
	LexicalScore  float64        `json:"lexical_score"`
	SearchMethods []SearchMethod `json:"search_methods"`
	Confidence    float64        `json:"confidence"`
	Rank          int            `json:"rank"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Highlights    []string       `json:"highlights,omitempty"`
}

// HasMethod reports whether m contributed to the fused result.
func (f FusionResult) HasMethod(m SearchMethod) bool {
	for _, sm := range f.SearchMethods {
		if sm == m {
			return true
		}
	}
	return false
}

// EventType is the kind of source-data mutation.
type EventType string

const (
	EventCreate      EventType = "create"
	EventUpdate      EventType = "update"
	EventDelete      EventType = "delete"
	EventBatchUpdate EventType = "batchUpdate"
)

// MutationEvent is emitted by the mutation-event source when a record of a
// collection changes.
type MutationEvent struct {
	EventType  EventType      `json:"event_type"`
	Collection string         `json:"collection"`
	DocumentID string         `json:"document_id"`
	NewData    map[string]any `json:"new_data,omitempty"`
	OldData    map[string]any `json:"old_data,omitempty"`
}

// Reason explains why a cache entry was invalidated.
type Reason string

const (
	ReasonTTLExpired        Reason = "ttlExpired"
	ReasonManual            Reason = "manual"
	ReasonDataUpdated       Reason = "dataUpdated"
	ReasonDataDeleted       Reason = "dataDeleted"
	ReasonDependencyChanged Reason = "dependencyChanged"
	ReasonForcedRefresh     Reason = "forcedRefresh"
	ReasonErrorRecovery     Reason = "errorRecovery"
)

// Layer is a bitmask of cache tiers.
type Layer uint8

const (
	LayerL1 Layer = 1 << iota
	LayerL2

	LayerAll = LayerL1 | LayerL2
)

// Has reports whether l includes every tier in other.
func (l Layer) Has(other Layer) bool {
	return l&other == other
}

// Names lists the tiers in l for audit records.
func (l Layer) Names() []string {
	names := make([]string, 0, 2)
	if l.Has(LayerL1) {
		names = append(names, "l1")
	}
	if l.Has(LayerL2) {
		names = append(names, "l2")
	}
	return names
}

// InvalidationEvent is the audit record of one invalidation.
type InvalidationEvent struct {
	ID             string    `json:"id"`
	DataType       string    `json:"data_type"`
	Key            string    `json:"key"`
	Reason         Reason    `json:"reason"`
	Timestamp      time.Time `json:"timestamp"`
	AffectedLayers []string  `json:"affected_layers"`
	Removed        int       `json:"removed"`
}
