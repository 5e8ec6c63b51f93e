// Package groundedsearch is the abstract port over an LLM with a web-search
// tool: answer a query, evaluate a condition against that answer, and
// compare two opaque state snapshots.
package groundedsearch

import (
	"context"
	"encoding/json"
)

// Source is a single grounding citation, passed through verbatim from the
// upstream search tool.
type Source struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// SearchResult is the answer to Search: a short natural-language answer,
// the sources it drew on, and an opaque state snapshot for later comparison.
type SearchResult struct {
	Answer           string
	GroundingSources []Source
	CurrentState     json.RawMessage
}

// EvaluationResult is the answer to EvaluateCondition.
type EvaluationResult struct {
	ConditionMet bool
	Evaluation   string
	CurrentState json.RawMessage
}

// ComparisonResult is the answer to CompareStates.
type ComparisonResult struct {
	Changed       bool
	ChangeSummary string
}

// Config carries per-call tuning that the caller controls (currently just
// the model identifier; kept as a struct so new knobs don't change method
// signatures).
type Config struct {
	Model string
}

// GroundedSearch is the port the executor drives. Implementations may fuse
// any of these calls into a single underlying model request, but must honor
// the three-method contract: each method's CurrentState field, when
// present, describes the same opaque snapshot shape.
type GroundedSearch interface {
	Search(ctx context.Context, query string, cfg Config) (SearchResult, error)
	EvaluateCondition(ctx context.Context, answer, conditionDescription string, cfg Config) (EvaluationResult, error)
	CompareStates(ctx context.Context, previousState, currentState json.RawMessage, searchQuery string, cfg Config) (ComparisonResult, error)
}
