package groundedsearch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	lru "github.com/hashicorp/golang-lru/v2"
)

// memoizingClient caches Search/EvaluateCondition results within a bounded
// LRU, keyed on the call's full argument set. This avoids duplicate model
// calls when a retry or a fused Search+Evaluate split happens to ask the
// exact same question twice within one execution's lifetime; the cache is
// intentionally small and process-local, not a durable response cache.
type memoizingClient struct {
	underlying GroundedSearch
	searchLRU  *lru.Cache[string, SearchResult]
	evalLRU    *lru.Cache[string, EvaluationResult]
}

// NewMemoizingClient wraps client with an LRU of the given size for Search
// and EvaluateCondition results. CompareStates is not memoized: its inputs
// (full state snapshots) are large and rarely repeat verbatim.
func NewMemoizingClient(client GroundedSearch, size int) GroundedSearch {
	if size <= 0 {
		size = 128
	}
	searchCache, _ := lru.New[string, SearchResult](size)
	evalCache, _ := lru.New[string, EvaluationResult](size)
	return &memoizingClient{underlying: client, searchLRU: searchCache, evalLRU: evalCache}
}

func memoKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (c *memoizingClient) Search(ctx context.Context, query string, cfg Config) (SearchResult, error) {
	key := memoKey("search", cfg.Model, query)
	if cached, ok := c.searchLRU.Get(key); ok {
		return cached, nil
	}
	result, err := c.underlying.Search(ctx, query, cfg)
	if err != nil {
		return SearchResult{}, err
	}
	c.searchLRU.Add(key, result)
	return result, nil
}

func (c *memoizingClient) EvaluateCondition(ctx context.Context, answer, conditionDescription string, cfg Config) (EvaluationResult, error) {
	key := memoKey("evaluate", cfg.Model, answer, conditionDescription)
	if cached, ok := c.evalLRU.Get(key); ok {
		return cached, nil
	}
	result, err := c.underlying.EvaluateCondition(ctx, answer, conditionDescription, cfg)
	if err != nil {
		return EvaluationResult{}, err
	}
	c.evalLRU.Add(key, result)
	return result, nil
}

func (c *memoizingClient) CompareStates(ctx context.Context, previousState, currentState json.RawMessage, searchQuery string, cfg Config) (ComparisonResult, error) {
	return c.underlying.CompareStates(ctx, previousState, currentState, searchQuery, cfg)
}

var _ GroundedSearch = (*memoizingClient)(nil)
