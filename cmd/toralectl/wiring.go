package main

import (
	"fmt"
	"os"
	"time"

	"torale/internal/clock"
	"torale/internal/config"
	"torale/internal/executor"
	"torale/internal/groundedsearch"
	"torale/internal/logging"
	"torale/internal/notifier"
	toraleerrors "torale/internal/shared/errors"
	"torale/internal/taskservice"
	"torale/internal/taskstore"
	"torale/internal/taskstore/storefile"
	"torale/internal/taskstore/storesql"
	"torale/internal/taskworkflow"
)

// wiring bundles the store-backed service plus a closeable handle; toraled's
// workflow runtime and reconciler are deliberately absent here, since
// toralectl never schedules ticks of its own.
type wiring struct {
	store taskstore.Store
	svc   *taskservice.Service
	close func()
}

func buildWiring(configFile string) (*wiring, error) {
	cfg, _, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	store, closeStore, err := openStore(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}

	svc := taskservice.New(store, nil, nil, cfg.Schedule.MinInterval, logging.NoopLogger{})
	return &wiring{store: store, svc: svc, close: closeStore}, nil
}

func openStore(cfg config.StoreConfig) (taskstore.Store, func(), error) {
	switch cfg.Driver {
	case "postgres":
		sqlStore, err := storesql.Open(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return sqlStore, func() {
			if sqlDB, err := sqlStore.DB().DB(); err == nil {
				_ = sqlDB.Close()
			}
		}, nil
	default:
		return storefile.New(cfg.Dir), func() {}, nil
	}
}

// buildWorkflow assembles a standalone taskworkflow.Workflow for "run" --
// the same adapter stack toraled wires up, minus the runtime, since a
// one-shot manual run neither schedules nor needs to query cron state.
func buildWorkflow(cfg config.Config, store taskstore.Store) *taskworkflow.Workflow {
	logger := logging.NewComponentLogger("toralectl")

	search := buildGroundedSearch(cfg.LLM, logger)
	exec := executor.New(search, clock.SystemClock, executor.Config{StateHashCanonicalKeys: cfg.Executor.StateHashCanonicalKeys}, logger)
	notif := buildNotifier(cfg.Notifier)

	timeouts := taskworkflow.Timeouts{Load: cfg.Workflow.Load, Execute: cfg.Workflow.Execute, Persist: cfg.Workflow.Persist, Deliver: cfg.Workflow.Deliver}
	return taskworkflow.New(store, exec, notif, nil, timeouts, logger)
}

func buildGroundedSearch(cfg config.LLMConfig, logger logging.Logger) groundedsearch.GroundedSearch {
	client := groundedsearch.NewOpenAIClient(cfg.Model, groundedsearch.ClientConfig{
		BaseURL: os.Getenv("TORALE_LLM_BASE_URL"),
		APIKey:  os.Getenv("TORALE_LLM_API_KEY"),
		Timeout: 60 * time.Second,
	}, logger)

	breaker := toraleerrors.NewCircuitBreaker("grounded_search", toraleerrors.CircuitBreakerConfig{})
	// See cmd/toraled/main.go's buildGroundedSearch: LLMUnavailable and
	// LLMInvalidResponse get independent retry budgets.
	retryCfg := toraleerrors.DefaultRetryConfig(3)
	invalidResponseMaxAttempts := cfg.MaxRetriesOnInvalidResp + 1
	if invalidResponseMaxAttempts > retryCfg.MaxAttempts {
		retryCfg.MaxAttempts = invalidResponseMaxAttempts
	}
	retried := groundedsearch.NewRetryClient(client, retryCfg, invalidResponseMaxAttempts, breaker, logger)

	return groundedsearch.NewMemoizingClient(retried, 256)
}

func buildNotifier(cfg config.NotifierConfig) notifier.Notifier {
	channels := map[string]notifier.Notifier{}

	if url := os.Getenv("TORALE_WEBHOOK_URL"); url != "" {
		channels["webhook"] = notifier.NewWebhookNotifier(url)
	}
	if appID, appSecret, chatID := os.Getenv("TORALE_LARK_APP_ID"), os.Getenv("TORALE_LARK_APP_SECRET"), os.Getenv("TORALE_LARK_CHAT_ID"); appID != "" && appSecret != "" {
		channels["lark"] = notifier.NewLarkNotifier(appID, appSecret, chatID, nil)
	}
	if len(channels) == 0 {
		channels[cfg.DefaultChannel] = &notifier.NopNotifier{}
	}
	return notifier.NewCompositeNotifier(channels)
}
