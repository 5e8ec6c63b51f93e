package groundedsearch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	toraleerrors "torale/internal/shared/errors"

	"torale/internal/logging"
)

// retryClient wraps a GroundedSearch implementation with the shared
// retry-with-backoff and circuit-breaker combinator, so a sustained outage
// degrades to fast failure (ErrCircuitOpen) instead of piling up retries.
//
// Two independent retry budgets share the same backoff loop: retryCfg
// bounds LLMUnavailable (transient) attempts, invalidResponseMaxAttempts
// bounds LLMInvalidResponse attempts. They are enforced by a fresh
// shouldRetry closure per call, so one budget running out never borrows
// from the other.
type retryClient struct {
	underlying                 GroundedSearch
	retryCfg                   toraleerrors.RetryConfig
	invalidResponseMaxAttempts int
	breaker                    *toraleerrors.CircuitBreaker
	logger                     logging.Logger
}

// NewRetryClient wraps client with retry and circuit-breaker protection.
// retryCfg.MaxAttempts bounds LLMUnavailable retries; invalidResponseMaxAttempts
// bounds LLMInvalidResponse retries. retryCfg.MaxAttempts must be at least
// invalidResponseMaxAttempts or the outer loop will cut the latter short.
func NewRetryClient(client GroundedSearch, retryCfg toraleerrors.RetryConfig, invalidResponseMaxAttempts int, breaker *toraleerrors.CircuitBreaker, logger logging.Logger) GroundedSearch {
	return &retryClient{
		underlying:                 client,
		retryCfg:                   retryCfg,
		invalidResponseMaxAttempts: invalidResponseMaxAttempts,
		breaker:                    breaker,
		logger:                     logging.OrNop(logger),
	}
}

func (c *retryClient) Search(ctx context.Context, query string, cfg Config) (SearchResult, error) {
	start := time.Now()
	result, err := toraleerrors.RetryWithResultAndLog(ctx, c.retryCfg, c.logger.Debug, c.newShouldRetry(), func(ctx context.Context) (SearchResult, error) {
		return toraleerrors.ExecuteFunc(ctx, c.breaker, func(ctx context.Context) (SearchResult, error) {
			return c.underlying.Search(ctx, query, cfg)
		})
	})
	if err != nil {
		c.logger.Warn("groundedsearch.Search failed after %v: %v", time.Since(start), err)
		return SearchResult{}, c.finalizeErr(err)
	}
	return result, nil
}

func (c *retryClient) EvaluateCondition(ctx context.Context, answer, conditionDescription string, cfg Config) (EvaluationResult, error) {
	start := time.Now()
	result, err := toraleerrors.RetryWithResultAndLog(ctx, c.retryCfg, c.logger.Debug, c.newShouldRetry(), func(ctx context.Context) (EvaluationResult, error) {
		return toraleerrors.ExecuteFunc(ctx, c.breaker, func(ctx context.Context) (EvaluationResult, error) {
			return c.underlying.EvaluateCondition(ctx, answer, conditionDescription, cfg)
		})
	})
	if err != nil {
		c.logger.Warn("groundedsearch.EvaluateCondition failed after %v: %v", time.Since(start), err)
		return EvaluationResult{}, c.finalizeErr(err)
	}
	return result, nil
}

func (c *retryClient) CompareStates(ctx context.Context, previousState, currentState json.RawMessage, searchQuery string, cfg Config) (ComparisonResult, error) {
	start := time.Now()
	result, err := toraleerrors.RetryWithResultAndLog(ctx, c.retryCfg, c.logger.Debug, c.newShouldRetry(), func(ctx context.Context) (ComparisonResult, error) {
		return toraleerrors.ExecuteFunc(ctx, c.breaker, func(ctx context.Context) (ComparisonResult, error) {
			return c.underlying.CompareStates(ctx, previousState, currentState, searchQuery, cfg)
		})
	})
	if err != nil {
		c.logger.Warn("groundedsearch.CompareStates failed after %v: %v", time.Since(start), err)
		return ComparisonResult{}, c.finalizeErr(err)
	}
	return result, nil
}

// newShouldRetry builds a per-call predicate: LLMRefusal never retries,
// LLMInvalidResponse retries up to invalidResponseMaxAttempts total
// attempts (tracked by the closure, independent of the outer loop's
// transient-retry budget), and anything else falls back to the shared
// transient classification.
func (c *retryClient) newShouldRetry() func(error) bool {
	invalidAttempts := 0
	return func(err error) bool {
		if IsRefusal(err) {
			return false
		}
		if IsInvalidResponse(err) {
			invalidAttempts++
			return invalidAttempts < c.invalidResponseMaxAttempts
		}
		return toraleerrors.IsTransient(err)
	}
}

func (c *retryClient) finalizeErr(err error) error {
	if toraleerrors.IsDegraded(err) {
		return toraleerrors.NewDegradedError(err, fmt.Sprintf("%s; circuit breaker open", toraleerrors.FormatForLLM(err)), "")
	}
	return err
}

var _ GroundedSearch = (*retryClient)(nil)
