package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"torale/internal/clock"
	"torale/internal/groundedsearch"
	"torale/internal/logging"
	toraleerrors "torale/internal/shared/errors"
	"torale/internal/taskstore"
)

// Config tunes the executor's canonical-hash fast path.
type Config struct {
	// StateHashCanonicalKeys gates the fast path: when true, equal canonical
	// hashes skip the CompareStates call entirely. When false, no hash is
	// compared and CompareStates always runs.
	StateHashCanonicalKeys bool
}

// Executor reduces a Task plus its prior last_known_state into a complete
// Execution, per spec §4.4. It never returns an error: failures are encoded
// in the returned Execution (status=failed, error_message populated).
type Executor struct {
	search groundedsearch.GroundedSearch
	clock  clock.Clock
	cfg    Config
	logger logging.Logger
	onDone func(status string)
}

func New(search groundedsearch.GroundedSearch, clk clock.Clock, cfg Config, logger logging.Logger) *Executor {
	return &Executor{search: search, clock: clk, cfg: cfg, logger: logging.OrNop(logger)}
}

// SetCompletionRecorder wires a callback invoked with the execution's
// terminal status once Execute finishes, e.g. metrics.Metrics.RecordExecution.
// Nil clears it.
func (e *Executor) SetCompletionRecorder(fn func(status string)) {
	e.onDone = fn
}

// Execute runs the full search -> evaluate -> compare pipeline for task and
// returns the resulting Execution. lastExecutedAt is the task's previous
// execution time, if any, used to build the temporal context string.
func (e *Executor) Execute(ctx context.Context, task taskstore.Task, lastExecutedAt *time.Time) taskstore.Execution {
	exec := e.execute(ctx, task, lastExecutedAt)
	if e.onDone != nil {
		e.onDone(string(exec.Status))
	}
	return exec
}

func (e *Executor) execute(ctx context.Context, task taskstore.Task, lastExecutedAt *time.Time) taskstore.Execution {
	started := e.clock.Now()
	exec := taskstore.Execution{
		ID:        uuid.New(),
		TaskID:    task.ID,
		Status:    taskstore.ExecutionRunning,
		StartedAt: started,
	}

	query := e.temporalQuery(task.SearchQuery, started, lastExecutedAt)

	searchResult, err := e.search.Search(ctx, query, groundedsearch.Config{Model: task.Config["llm_model"]})
	if err != nil {
		return e.failed(exec, err)
	}

	evalResult, err := e.search.EvaluateCondition(ctx, searchResult.Answer, task.ConditionDescription, groundedsearch.Config{Model: task.Config["llm_model"]})
	if err != nil {
		return e.failed(exec, err)
	}

	// The evaluation step's current_state wins when both steps return one:
	// it is the freshest snapshot the model committed to.
	currentState := searchResult.CurrentState
	if len(evalResult.CurrentState) > 0 {
		currentState = evalResult.CurrentState
	}

	var changeSummary *string
	var structDiff string
	if len(task.LastKnownState) > 0 {
		summary, diff, err := e.compare(ctx, task.LastKnownState, currentState, task.SearchQuery)
		if err != nil {
			return e.failed(exec, err)
		}
		changeSummary = summary
		structDiff = diff
	}
	// else: first observation, change_summary stays nil.

	sources := make([]taskstore.GroundingSource, 0, len(searchResult.GroundingSources))
	for _, s := range searchResult.GroundingSources {
		sources = append(sources, taskstore.GroundingSource{Title: s.Title, URI: s.URI})
	}

	completed := e.clock.Now()
	exec.Status = taskstore.ExecutionSuccess
	exec.CompletedAt = &completed
	exec.ConditionMet = evalResult.ConditionMet
	exec.ChangeSummary = changeSummary
	exec.GroundingSources = sources
	exec.Result = &taskstore.ExecutionResult{
		Answer:         searchResult.Answer,
		Evaluation:     evalResult.Evaluation,
		CurrentState:   currentState,
		StructuralDiff: structDiff,
	}
	return exec
}

// compare decides change_summary for a non-first execution: a canonical-hash
// fast path skips the LLM call when the two states are byte-identical up to
// key ordering (and StateHashCanonicalKeys is enabled); otherwise it calls
// GroundedSearch.CompareStates. A structural diff is always computed as a
// secondary diagnostic signal, independent of the fast path decision.
func (e *Executor) compare(ctx context.Context, previous, current []byte, searchQuery string) (*string, string, error) {
	diff, diffErr := structuralDiff(previous, current)
	if diffErr != nil {
		e.logger.Debug("executor: structural diff failed: %v", diffErr)
		diff = ""
	}

	if e.cfg.StateHashCanonicalKeys {
		equal, err := statesEqual(previous, current)
		if err != nil {
			e.logger.Debug("executor: state hash comparison failed, falling back to LLM compare: %v", err)
		} else if equal {
			empty := ""
			return &empty, diff, nil
		}
	}

	result, err := e.search.CompareStates(ctx, previous, current, searchQuery, groundedsearch.Config{})
	if err != nil {
		return nil, diff, err
	}
	if !result.Changed {
		empty := ""
		return &empty, diff, nil
	}
	summary := result.ChangeSummary
	return &summary, diff, nil
}

func (e *Executor) temporalQuery(searchQuery string, now time.Time, lastExecutedAt *time.Time) string {
	var prefix string
	if lastExecutedAt == nil {
		prefix = "First execution."
	} else {
		prefix = fmt.Sprintf("Current time is %s. Last execution was %s ago.",
			now.UTC().Format(time.RFC3339), now.Sub(*lastExecutedAt).Round(time.Second))
	}
	return prefix + " " + searchQuery
}

// failed records a terminal failure. A RunExecutor deadline exceeded
// (the workflow's Execute activity timeout firing mid-pipeline) is
// reported as error_message="timeout" rather than the classified
// message, per the activity's wall-clock budget contract.
func (e *Executor) failed(exec taskstore.Execution, err error) taskstore.Execution {
	completed := e.clock.Now()
	exec.Status = taskstore.ExecutionFailed
	exec.CompletedAt = &completed
	msg := toraleerrors.FormatForLLM(err)
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "timeout"
	}
	exec.ErrorMessage = &msg
	return exec
}
