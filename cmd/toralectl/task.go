package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"torale/internal/config"
	"torale/internal/taskstore"
	"torale/internal/taskworkflow"
)

func newTaskCommand(configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Create, inspect, and drive monitoring tasks",
	}

	cmd.AddCommand(
		newTaskCreateCommand(configFile),
		newTaskGetCommand(configFile),
		newTaskUpdateCommand(configFile),
		newTaskDeleteCommand(configFile),
		newTaskListCommand(configFile),
		newTaskRunCommand(configFile),
		newTaskExecutionsCommand(configFile),
	)
	return cmd
}

func parseConfigPairs(pairs []string) (map[string]string, error) {
	out := map[string]string{}
	for _, kv := range pairs {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid --set value %q, want key=value", kv)
		}
		out[parts[0]] = parts[1]
	}
	return out, nil
}

func newTaskCreateCommand(configFile *string) *cobra.Command {
	var (
		userID, name, schedule, query, condition, notifyBehavior string
		configPairs                                              []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new monitoring task",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := buildWiring(*configFile)
			if err != nil {
				return err
			}
			defer w.close()

			taskConfig, err := parseConfigPairs(configPairs)
			if err != nil {
				return err
			}

			task := taskstore.Task{
				UserID:               userID,
				Name:                 name,
				Schedule:             schedule,
				SearchQuery:          query,
				ConditionDescription: condition,
				NotifyBehavior:       taskstore.NotifyBehavior(notifyBehavior),
				Config:               taskConfig,
			}

			created, err := w.svc.CreateTask(cmd.Context(), task)
			if err != nil {
				return err
			}
			fmt.Printf("%s created task %s\n", green("✓"), created.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "owning user id")
	cmd.Flags().StringVar(&name, "name", "", "task name")
	cmd.Flags().StringVar(&schedule, "schedule", "", "cron schedule expression")
	cmd.Flags().StringVar(&query, "query", "", "search query")
	cmd.Flags().StringVar(&condition, "condition", "", "condition description")
	cmd.Flags().StringVar(&notifyBehavior, "notify-behavior", string(taskstore.NotifyOnce), "once|always|track_state")
	cmd.Flags().StringArrayVar(&configPairs, "set", nil, "task config entries as key=value, repeatable")
	for _, f := range []string{"user", "name", "schedule", "query", "condition"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func newTaskGetCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <task-id>",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid task id: %w", err)
			}
			w, err := buildWiring(*configFile)
			if err != nil {
				return err
			}
			defer w.close()

			task, err := w.svc.GetTask(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(task)
		},
	}
}

func newTaskUpdateCommand(configFile *string) *cobra.Command {
	var (
		name, schedule, query, condition, notifyBehavior string
		active                                            string
		configPairs                                       []string
	)

	cmd := &cobra.Command{
		Use:   "update <task-id>",
		Short: "Update fields on an existing task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid task id: %w", err)
			}
			w, err := buildWiring(*configFile)
			if err != nil {
				return err
			}
			defer w.close()

			patch := taskstore.TaskPatch{}
			if name != "" {
				patch.Name = &name
			}
			if schedule != "" {
				patch.Schedule = &schedule
			}
			if query != "" {
				patch.SearchQuery = &query
			}
			if condition != "" {
				patch.ConditionDescription = &condition
			}
			if notifyBehavior != "" {
				nb := taskstore.NotifyBehavior(notifyBehavior)
				patch.NotifyBehavior = &nb
			}
			if active != "" {
				v := active == "true"
				patch.IsActive = &v
			}
			if len(configPairs) > 0 {
				cfg, err := parseConfigPairs(configPairs)
				if err != nil {
					return err
				}
				patch.Config = cfg
			}

			updated, err := w.svc.UpdateTask(cmd.Context(), id, patch)
			if err != nil {
				return err
			}
			fmt.Printf("%s updated task %s\n", green("✓"), updated.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "task name")
	cmd.Flags().StringVar(&schedule, "schedule", "", "cron schedule expression")
	cmd.Flags().StringVar(&query, "query", "", "search query")
	cmd.Flags().StringVar(&condition, "condition", "", "condition description")
	cmd.Flags().StringVar(&notifyBehavior, "notify-behavior", "", "once|always|track_state")
	cmd.Flags().StringVar(&active, "active", "", "true|false")
	cmd.Flags().StringArrayVar(&configPairs, "set", nil, "task config entries as key=value, repeatable")
	return cmd
}

func newTaskDeleteCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid task id: %w", err)
			}
			w, err := buildWiring(*configFile)
			if err != nil {
				return err
			}
			defer w.close()

			if err := w.svc.DeleteTask(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Printf("%s deleted task %s\n", green("✓"), id)
			return nil
		},
	}
}

func newTaskListCommand(configFile *string) *cobra.Command {
	var (
		userID     string
		activeOnly bool
		pausedOnly bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := buildWiring(*configFile)
			if err != nil {
				return err
			}
			defer w.close()

			filter := taskstore.TaskFilter{UserID: userID}
			switch {
			case activeOnly:
				v := true
				filter.IsActive = &v
			case pausedOnly:
				v := false
				filter.IsActive = &v
			}

			tasks, err := w.svc.ListTasks(cmd.Context(), filter)
			if err != nil {
				return err
			}
			for _, t := range tasks {
				state := "active"
				if !t.IsActive {
					state = "paused"
				}
				fmt.Printf("%s  %-10s  %-20s  %s\n", t.ID, state, t.Schedule, gray(t.Name))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "filter by owning user id")
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only active tasks")
	cmd.Flags().BoolVar(&pausedOnly, "paused", false, "only paused tasks")
	return cmd
}

func newTaskRunCommand(configFile *string) *cobra.Command {
	var suppressNotify bool

	cmd := &cobra.Command{
		Use:   "run <task-id>",
		Short: "Run a task once, outside its schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid task id: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			w, err := buildWiring(*configFile)
			if err != nil {
				return err
			}
			defer w.close()

			cfg, _, err := config.Load(*configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			workflow := buildWorkflow(cfg, w.store)

			started := time.Now()
			execID, err := workflow.RunWithOptions(ctx, id, taskworkflow.RunOptions{SuppressNotifications: suppressNotify})
			if err != nil {
				return err
			}
			fmt.Printf("%s execution %s completed in %s\n", green("✓"), execID, time.Since(started).Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().BoolVar(&suppressNotify, "suppress-notify", false, "compute the notify decision but skip delivery")
	return cmd
}

func newTaskExecutionsCommand(configFile *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "executions <task-id>",
		Short: "List a task's recent executions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid task id: %w", err)
			}
			w, err := buildWiring(*configFile)
			if err != nil {
				return err
			}
			defer w.close()

			execs, err := w.svc.ListExecutions(cmd.Context(), id, limit)
			if err != nil {
				return err
			}
			for _, e := range execs {
				summary := ""
				if e.ChangeSummary != nil {
					summary = *e.ChangeSummary
				}
				fmt.Printf("%s  %-10s  condition_met=%-5v  %s\n", e.ID, e.Status, e.ConditionMet, gray(summary))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum executions to return")
	return cmd
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
