package groundedsearch

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// modelContextLimits is the subset of context-window sizes the adapter
// knows about; models outside this table are not budget-checked.
var modelContextLimits = map[string]int{
	"gpt-4o":        128000,
	"gpt-4o-mini":   128000,
	"gpt-4-turbo":   128000,
	"gpt-3.5-turbo": 16385,
}

// promptTooLargeError is returned by checkTokenBudget when a prompt would
// exceed the model's known context window.
type promptTooLargeError struct {
	model  string
	tokens int
	limit  int
}

func (e *promptTooLargeError) Error() string {
	return fmt.Sprintf("prompt has %d tokens, exceeds %s's %d token context window", e.tokens, e.model, e.limit)
}

// checkTokenBudget counts prompt's tokens with tiktoken-go and fails fast
// with a PermanentError before issuing an HTTP call that upstream would
// reject with a 400 anyway, rather than discovering the overflow only
// after paying for the round trip.
func checkTokenBudget(model, prompt string) error {
	limit, known := modelContextLimits[model]
	if !known {
		return nil
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Unknown encoding for this model name: skip the check rather than
		// fail the call over a tokenizer lookup miss.
		return nil
	}

	tokens := enc.Encode(prompt, nil, nil)
	if len(tokens) > limit {
		return invalidPromptSize(&promptTooLargeError{model: model, tokens: len(tokens), limit: limit})
	}
	return nil
}
