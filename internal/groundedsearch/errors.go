package groundedsearch

import (
	"errors"
	"strings"

	toraleerrors "torale/internal/shared/errors"
)

// ErrLLMRefusal is the sentinel wrapped when the model declines to answer on
// content-policy grounds; always fatal for the execution.
var ErrLLMRefusal = errors.New("llm refused to answer")

// ErrLLMInvalidResponse is the sentinel wrapped when a response, even after
// jsonrepair, does not conform to the method's schema.
var ErrLLMInvalidResponse = errors.New("llm returned invalid response")

// classifyLLMError maps a transport or HTTP-layer failure from the
// underlying model call onto the three GroundedSearch failure kinds:
// LLMUnavailable (transient, retried), LLMInvalidResponse (retried once
// then fatal), LLMRefusal (fatal immediately).
func classifyLLMError(err error) error {
	if err == nil {
		return nil
	}

	lower := strings.ToLower(err.Error())

	switch {
	case strings.Contains(lower, "content_policy") || strings.Contains(lower, "refus") || strings.Contains(lower, "content filter"):
		return toraleerrors.NewPermanentError(errors.Join(ErrLLMRefusal, err), "the model declined to answer this query")
	case strings.Contains(lower, "429") || strings.Contains(lower, "rate limit"):
		return toraleerrors.NewTransientError(err, "search backend rate limit reached, retrying with backoff")
	case strings.Contains(lower, "500") || strings.Contains(lower, "502") || strings.Contains(lower, "503") || strings.Contains(lower, "504"):
		return toraleerrors.NewTransientError(err, "search backend returned a server error, retrying")
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "connection reset"):
		return toraleerrors.NewTransientError(err, toraleerrors.FormatForLLM(err))
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return toraleerrors.NewTransientError(err, "search backend request timed out, retrying")
	case strings.Contains(lower, "401") || strings.Contains(lower, "unauthorized") || strings.Contains(lower, "403") || strings.Contains(lower, "forbidden"):
		return toraleerrors.NewPermanentError(err, "search backend authentication failed, check API key configuration")
	case strings.Contains(lower, "404") || strings.Contains(lower, "400"):
		return toraleerrors.NewPermanentError(err, "search backend rejected the request")
	default:
		return err
	}
}

// invalidResponse wraps a schema/decode failure as the fixed
// LLMInvalidResponse kind, distinct from a transport-layer classifyLLMError
// result so the retry-once-then-fatal policy (spec §4.5/§7) can match on it.
func invalidResponse(cause error) error {
	return toraleerrors.NewPermanentError(errors.Join(ErrLLMInvalidResponse, cause), "search backend returned a response that did not match the expected shape")
}

// invalidPromptSize wraps a token-budget overflow as a permanent failure:
// retrying the identical prompt against the same model would fail again.
func invalidPromptSize(cause error) error {
	return toraleerrors.NewPermanentError(cause, cause.Error())
}

// IsInvalidResponse reports whether err is (or wraps) ErrLLMInvalidResponse.
func IsInvalidResponse(err error) bool {
	return errors.Is(err, ErrLLMInvalidResponse)
}

// IsRefusal reports whether err is (or wraps) ErrLLMRefusal.
func IsRefusal(err error) bool {
	return errors.Is(err, ErrLLMRefusal)
}
