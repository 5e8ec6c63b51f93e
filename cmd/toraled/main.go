// toraled wires the concrete adapters selected by configuration and blocks
// serving cron ticks until a shutdown signal arrives. It exposes no HTTP
// surface of its own -- the task-management port is reached through
// toralectl or an embedding caller, not through this binary.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"torale/internal/clock"
	"torale/internal/config"
	"torale/internal/executor"
	"torale/internal/groundedsearch"
	"torale/internal/leaderlock"
	"torale/internal/logging"
	"torale/internal/metrics"
	"torale/internal/notifier"
	toraleerrors "torale/internal/shared/errors"
	"torale/internal/taskservice"
	"torale/internal/taskstore"
	"torale/internal/taskstore/storefile"
	"torale/internal/taskstore/storesql"
	"torale/internal/taskworkflow"
	"torale/internal/workflowruntime"
)

func main() {
	configFile := flag.String("config", "", "path to a YAML/JSON/TOML config file")
	flag.Parse()

	logger := logging.NewComponentLogger("toraled")

	if err := run(*configFile, logger); err != nil {
		log.Fatalf("toraled: %v", err)
	}
}

func run(configFile string, logger logging.Logger) error {
	cfg, meta, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Info("toraled: configuration loaded, store.driver=%s leaderlock.driver=%s (resolved at %s)", cfg.Store.Driver, cfg.LeaderLock.Driver, meta.LoadedAt)

	m := metrics.New()

	store, storeCleanup, err := buildStore(cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("build task store: %w", err)
	}
	defer storeCleanup()

	lock, err := buildLeaderLock(cfg, store, logger)
	if err != nil {
		return fmt.Errorf("build leader lock: %w", err)
	}

	search := buildGroundedSearch(cfg.LLM, m, logger)

	exec := executor.New(search, clock.SystemClock, executor.Config{StateHashCanonicalKeys: cfg.Executor.StateHashCanonicalKeys}, logger)
	exec.SetCompletionRecorder(m.RecordExecution)

	notif := buildNotifier(cfg.Notifier)

	runtime := workflowruntime.NewCronRuntime(lock, logger)
	runtime.SetTickRecorder(m.RecordTick)

	timeouts := taskworkflow.Timeouts{Load: cfg.Workflow.Load, Execute: cfg.Workflow.Execute, Persist: cfg.Workflow.Persist, Deliver: cfg.Workflow.Deliver}
	workflow := taskworkflow.New(store, exec, notif, runtime, timeouts, logger)

	svc := taskservice.New(store, runtime, workflow.Run, cfg.Schedule.MinInterval, logger)
	reconciler := taskservice.NewReconciler(svc, cfg.ReconcileInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := runtime.Start(ctx); err != nil {
		return fmt.Errorf("start workflow runtime: %w", err)
	}
	defer runtime.Stop()

	// Register every task the store already knows about before the first
	// reconcile tick, so the runtime isn't idle waiting on the ticker.
	if err := reconciler.ReconcileOnce(ctx); err != nil {
		logger.Warn("toraled: initial reconcile failed: %v", err)
	}

	go reconciler.Run(ctx)

	return serveUntilSignal(cancel, runtime, logger)
}

func buildStore(cfg config.StoreConfig, logger logging.Logger) (taskstore.Store, func(), error) {
	switch cfg.Driver {
	case "postgres":
		sqlStore, err := storesql.Open(cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		cleanup := func() {
			if sqlDB, err := sqlStore.DB().DB(); err == nil {
				_ = sqlDB.Close()
			}
		}
		return sqlStore, cleanup, nil
	default:
		logger.Info("toraled: using file-backed task store at %s", cfg.Dir)
		return storefile.New(cfg.Dir), func() {}, nil
	}
}

func buildLeaderLock(cfg config.Config, store taskstore.Store, logger logging.Logger) (leaderlock.LeaderLock, error) {
	switch cfg.LeaderLock.Driver {
	case "postgres":
		sqlStore, ok := store.(*storesql.Store)
		if !ok {
			return nil, fmt.Errorf("leaderlock.driver=postgres requires store.driver=postgres")
		}
		sqlDB, err := sqlStore.DB().DB()
		if err != nil {
			return nil, fmt.Errorf("underlying *sql.DB: %w", err)
		}
		return leaderlock.NewPostgresLock(sqlDB, "torale-workflow-runtime", 5*time.Second, logger), nil
	default:
		return leaderlock.NewFileLock(cfg.LeaderLock.Path, 5*time.Second, logger), nil
	}
}

func buildGroundedSearch(cfg config.LLMConfig, m *metrics.Metrics, logger logging.Logger) groundedsearch.GroundedSearch {
	client := groundedsearch.NewOpenAIClient(cfg.Model, groundedsearch.ClientConfig{
		BaseURL: os.Getenv("TORALE_LLM_BASE_URL"),
		APIKey:  os.Getenv("TORALE_LLM_API_KEY"),
		Timeout: 60 * time.Second,
	}, logger)

	breaker := toraleerrors.NewCircuitBreaker("grounded_search", toraleerrors.CircuitBreakerConfig{
		OnStateChange: m.CircuitBreakerStateFunc(),
	})
	// LLMUnavailable gets its own 3-attempt transient-retry budget (spec §7);
	// LLMInvalidResponse gets a separate, independently-configured budget
	// (one retry by default) so lowering MaxRetriesOnInvalidResp can never
	// starve the transient-failure retries of attempts.
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

func serveUntilSignal(cancel context.CancelFunc, runtime *workflowruntime.CronRuntime, logger logging.Logger) error {
	logger = logging.OrNop(logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	logger.Info("toraled: running")
	<-quit
	logger.Info("toraled: shutdown signal received")
	cancel()

	select {
	case <-runtime.Done():
	case <-time.After(10 * time.Second):
		logger.Warn("toraled: timed out waiting for workflow runtime to stop")
	}
	return nil
}
