package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Option customizes a single Load call, applied after defaults/file/env and
// before normalization.
type Option func(*Config, *Metadata)

// WithOverrides applies an explicit Overrides struct, the highest-priority
// layer short of a direct Option.
func WithOverrides(o Overrides) Option {
	return func(c *Config, m *Metadata) {
		apply(&c.LLM.Model, o.LLMModel, "llm.model", m)
		apply(&c.LLM.MaxRetriesOnInvalidResp, o.LLMMaxRetriesOnInvalidResp, "llm.max_retries_on_invalid_response", m)
		apply(&c.Executor.StateHashCanonicalKeys, o.ExecutorStateHashCanonical, "executor.state_hash.canonical_keys", m)
		apply(&c.Workflow.Load, o.WorkflowLoadTimeout, "workflow.activity_timeouts.load", m)
		apply(&c.Workflow.Execute, o.WorkflowExecuteTimeout, "workflow.activity_timeouts.execute", m)
		apply(&c.Workflow.Persist, o.WorkflowPersistTimeout, "workflow.activity_timeouts.persist", m)
		apply(&c.Workflow.Deliver, o.WorkflowDeliverTimeout, "workflow.activity_timeouts.deliver", m)
		apply(&c.Notifier.DefaultChannel, o.NotifierDefaultChannel, "notifier.default_channel", m)
		apply(&c.Schedule.MinInterval, o.ScheduleMinInterval, "schedule.min_interval", m)
		apply(&c.Store.Driver, o.StoreDriver, "store.driver", m)
		apply(&c.Store.Dir, o.StoreDir, "store.dir", m)
		apply(&c.Store.DSN, o.StoreDSN, "store.dsn", m)
		apply(&c.LeaderLock.Driver, o.LeaderLockDriver, "leaderlock.driver", m)
		apply(&c.LeaderLock.Path, o.LeaderLockPath, "leaderlock.path", m)
		apply(&c.ReconcileInterval, o.ReconcileInterval, "reconcile_interval", m)
	}
}

func apply[T any](dst *T, src *T, field string, m *Metadata) {
	if src == nil {
		return
	}
	*dst = *src
	m.record(field, SourceOverride)
}

// WithConfigFile loads YAML/JSON/TOML from path via viper and layers it
// over the defaults already in c.
func WithConfigFile(path string) Option {
	return func(c *Config, m *Metadata) {
		if path == "" {
			return
		}
		v := viper.New()
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			// A missing/unreadable file is not fatal at this layer; Load
			// reports it through the returned error via a sentinel field.
			m.record("_file_error", SourceFile)
			return
		}
		setIfPresent(v, "llm.model", &c.LLM.Model, m, SourceFile)
		setIfPresentInt(v, "llm.max_retries_on_invalid_response", &c.LLM.MaxRetriesOnInvalidResp, m, SourceFile)
		setIfPresentBool(v, "executor.state_hash.canonical_keys", &c.Executor.StateHashCanonicalKeys, m, SourceFile)
		setIfPresentDuration(v, "workflow.activity_timeouts.load", &c.Workflow.Load, m, SourceFile)
		setIfPresentDuration(v, "workflow.activity_timeouts.execute", &c.Workflow.Execute, m, SourceFile)
		setIfPresentDuration(v, "workflow.activity_timeouts.persist", &c.Workflow.Persist, m, SourceFile)
		setIfPresentDuration(v, "workflow.activity_timeouts.deliver", &c.Workflow.Deliver, m, SourceFile)
		setIfPresent(v, "notifier.default_channel", &c.Notifier.DefaultChannel, m, SourceFile)
		setIfPresentDuration(v, "schedule.min_interval", &c.Schedule.MinInterval, m, SourceFile)
		setIfPresent(v, "store.driver", &c.Store.Driver, m, SourceFile)
		setIfPresent(v, "store.dir", &c.Store.Dir, m, SourceFile)
		setIfPresent(v, "store.dsn", &c.Store.DSN, m, SourceFile)
		setIfPresent(v, "leaderlock.driver", &c.LeaderLock.Driver, m, SourceFile)
		setIfPresent(v, "leaderlock.path", &c.LeaderLock.Path, m, SourceFile)
		setIfPresentDuration(v, "reconcile_interval", &c.ReconcileInterval, m, SourceFile)
	}
}

func setIfPresent(v *viper.Viper, key string, dst *string, m *Metadata, src ValueSource) {
	if v.IsSet(key) {
		*dst = v.GetString(key)
		m.record(key, src)
	}
}

func setIfPresentInt(v *viper.Viper, key string, dst *int, m *Metadata, src ValueSource) {
	if v.IsSet(key) {
		*dst = v.GetInt(key)
		m.record(key, src)
	}
}

func setIfPresentBool(v *viper.Viper, key string, dst *bool, m *Metadata, src ValueSource) {
	if v.IsSet(key) {
		*dst = v.GetBool(key)
		m.record(key, src)
	}
}

func setIfPresentDuration(v *viper.Viper, key string, dst *time.Duration, m *Metadata, src ValueSource) {
	if v.IsSet(key) {
		*dst = v.GetDuration(key)
		m.record(key, src)
	}
}

// envAliases maps dotted config field names to environment variable names.
var envAliases = map[string]string{
	"llm.model":                           "TORALE_LLM_MODEL",
	"llm.max_retries_on_invalid_response":  "TORALE_LLM_MAX_RETRIES",
	"executor.state_hash.canonical_keys":  "TORALE_EXECUTOR_CANONICAL_HASH",
	"notifier.default_channel":            "TORALE_NOTIFIER_DEFAULT_CHANNEL",
	"schedule.min_interval":               "TORALE_SCHEDULE_MIN_INTERVAL",
	"store.driver":                        "TORALE_STORE_DRIVER",
	"store.dir":                           "TORALE_STORE_DIR",
	"store.dsn":                           "TORALE_STORE_DSN",
	"leaderlock.driver":                   "TORALE_LEADERLOCK_DRIVER",
	"leaderlock.path":                     "TORALE_LEADERLOCK_PATH",
}

// WithEnv layers environment variables (TORALE_*) over the config built so far.
func WithEnv() Option {
	return func(c *Config, m *Metadata) {
		if v, ok := lookupEnv("llm.model"); ok {
			c.LLM.Model = v
			m.record("llm.model", SourceEnv)
		}
		if v, ok := lookupEnv("llm.max_retries_on_invalid_response"); ok {
			if n, err := strconv.Atoi(v); err == nil {
				c.LLM.MaxRetriesOnInvalidResp = n
				m.record("llm.max_retries_on_invalid_response", SourceEnv)
			}
		}
		if v, ok := lookupEnv("executor.state_hash.canonical_keys"); ok {
			if b, err := strconv.ParseBool(v); err == nil {
				c.Executor.StateHashCanonicalKeys = b
				m.record("executor.state_hash.canonical_keys", SourceEnv)
			}
		}
		if v, ok := lookupEnv("notifier.default_channel"); ok {
			c.Notifier.DefaultChannel = v
			m.record("notifier.default_channel", SourceEnv)
		}
		if v, ok := lookupEnv("schedule.min_interval"); ok {
			if d, err := time.ParseDuration(v); err == nil {
				c.Schedule.MinInterval = d
				m.record("schedule.min_interval", SourceEnv)
			}
		}
		if v, ok := lookupEnv("store.driver"); ok {
			c.Store.Driver = v
			m.record("store.driver", SourceEnv)
		}
		if v, ok := lookupEnv("store.dir"); ok {
			c.Store.Dir = v
			m.record("store.dir", SourceEnv)
		}
		if v, ok := lookupEnv("store.dsn"); ok {
			c.Store.DSN = v
			m.record("store.dsn", SourceEnv)
		}
		if v, ok := lookupEnv("leaderlock.driver"); ok {
			c.LeaderLock.Driver = v
			m.record("leaderlock.driver", SourceEnv)
		}
		if v, ok := lookupEnv("leaderlock.path"); ok {
			c.LeaderLock.Path = v
			m.record("leaderlock.path", SourceEnv)
		}
	}
}

func lookupEnv(field string) (string, bool) {
	name, ok := envAliases[field]
	if !ok {
		return "", false
	}
	return os.LookupEnv(name)
}

// normalize rejects or repairs values that layering alone cannot validate.
func normalize(c *Config) error {
	if c.Schedule.MinInterval <= 0 {
		return fmt.Errorf("schedule.min_interval must be positive")
	}
	if c.Store.Driver != "file" && c.Store.Driver != "postgres" {
		return fmt.Errorf("store.driver must be \"file\" or \"postgres\", got %q", c.Store.Driver)
	}
	if c.LeaderLock.Driver != "file" && c.LeaderLock.Driver != "postgres" {
		return fmt.Errorf("leaderlock.driver must be \"file\" or \"postgres\", got %q", c.LeaderLock.Driver)
	}
	if c.LLM.MaxRetriesOnInvalidResp < 0 {
		return fmt.Errorf("llm.max_retries_on_invalid_response must be >= 0")
	}
	return nil
}

// Load builds a Config by layering defaults -> file -> env -> explicit
// options (in that order of increasing priority), then validates the
// result. Metadata records which layer supplied each field's final value.
func Load(configFile string, opts ...Option) (Config, Metadata, error) {
	c := Defaults()
	m := newMetadata()

	layered := append([]Option{WithConfigFile(configFile), WithEnv()}, opts...)
	for _, opt := range layered {
		opt(&c, m)
	}
	if _, ok := m.Sources["_file_error"]; ok {
		return Config{}, Metadata{}, fmt.Errorf("invalid configuration: cannot read config file %q", configFile)
	}

	if err := normalize(&c); err != nil {
		return Config{}, Metadata{}, fmt.Errorf("invalid configuration: %w", err)
	}

	m.LoadedAt = time.Now().UTC()
	return c, *m, nil
}
