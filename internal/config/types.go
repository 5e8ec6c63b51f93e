// Package config loads Torale's runtime configuration from layered sources
// (defaults, file, environment, explicit overrides) and tracks, per field,
// which layer ultimately won.
package config

import "time"

// ValueSource records which layer supplied a configuration value.
type ValueSource int

const (
	SourceDefault ValueSource = iota
	SourceFile
	SourceEnv
	SourceOverride
)

func (s ValueSource) String() string {
	switch s {
	case SourceFile:
		return "file"
	case SourceEnv:
		return "env"
	case SourceOverride:
		return "override"
	default:
		return "default"
	}
}

// ActivityTimeouts holds the per-activity wall-clock budgets from §5.
type ActivityTimeouts struct {
	Load    time.Duration
	Execute time.Duration
	Persist time.Duration
	Deliver time.Duration
}

func DefaultActivityTimeouts() ActivityTimeouts {
	return ActivityTimeouts{
		Load:    30 * time.Second,
		Execute: 5 * time.Minute,
		Persist: 30 * time.Second,
		Deliver: time.Minute,
	}
}

// LLMConfig configures the GroundedSearch adapter.
type LLMConfig struct {
	Model                     string
	MaxRetriesOnInvalidResp   int
}

func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Model:                   "gpt-4o",
		MaxRetriesOnInvalidResp: 1,
	}
}

// ExecutorConfig configures Executor's canonical-hash fast path.
type ExecutorConfig struct {
	StateHashCanonicalKeys bool
}

func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{StateHashCanonicalKeys: true}
}

// NotifierConfig configures the default delivery channel.
type NotifierConfig struct {
	DefaultChannel string
}

func DefaultNotifierConfig() NotifierConfig {
	return NotifierConfig{DefaultChannel: "email"}
}

// ScheduleConfig bounds how tight a cron schedule may fire.
type ScheduleConfig struct {
	MinInterval time.Duration
}

func DefaultScheduleConfig() ScheduleConfig {
	return ScheduleConfig{MinInterval: time.Minute}
}

// StoreConfig selects and configures the TaskStore adapter.
type StoreConfig struct {
	Driver string // "file" | "postgres"
	Dir    string // storefile root
	DSN    string // storesql connection string
}

func DefaultStoreConfig() StoreConfig {
	return StoreConfig{Driver: "file", Dir: "./data/torale"}
}

// LeaderLockConfig selects and configures the leader-election adapter.
type LeaderLockConfig struct {
	Driver string // "file" | "postgres"
	Path   string // file lock sentinel path
}

func DefaultLeaderLockConfig() LeaderLockConfig {
	return LeaderLockConfig{Driver: "file", Path: "./data/torale/leader.lock"}
}

// Config is the fully-resolved runtime configuration, §6's recognized
// options plus the adapter-selection knobs needed to stand the system up.
type Config struct {
	LLM              LLMConfig
	Executor         ExecutorConfig
	Workflow         ActivityTimeouts
	Notifier         NotifierConfig
	Schedule         ScheduleConfig
	Store            StoreConfig
	LeaderLock       LeaderLockConfig
	ReconcileInterval time.Duration
}

func Defaults() Config {
	return Config{
		LLM:               DefaultLLMConfig(),
		Executor:          DefaultExecutorConfig(),
		Workflow:          DefaultActivityTimeouts(),
		Notifier:          DefaultNotifierConfig(),
		Schedule:          DefaultScheduleConfig(),
		Store:             DefaultStoreConfig(),
		LeaderLock:        DefaultLeaderLockConfig(),
		ReconcileInterval: 5 * time.Minute,
	}
}

// Metadata tracks, per dotted field path (e.g. "llm.model"), which layer
// ultimately supplied the value, plus when resolution happened.
type Metadata struct {
	Sources  map[string]ValueSource
	LoadedAt time.Time
}

func newMetadata() *Metadata {
	return &Metadata{Sources: make(map[string]ValueSource)}
}

func (m *Metadata) record(field string, source ValueSource) {
	m.Sources[field] = source
}

// Overrides mirrors Config with all-pointer fields so callers (tests, CLI
// flags) can supply only the fields they want to force, leaving everything
// else to file/env/defaults.
type Overrides struct {
	LLMModel                   *string
	LLMMaxRetriesOnInvalidResp *int
	ExecutorStateHashCanonical *bool
	WorkflowLoadTimeout        *time.Duration
	WorkflowExecuteTimeout     *time.Duration
	WorkflowPersistTimeout     *time.Duration
	WorkflowDeliverTimeout     *time.Duration
	NotifierDefaultChannel     *string
	ScheduleMinInterval        *time.Duration
	StoreDriver                *string
	StoreDir                   *string
	StoreDSN                   *string
	LeaderLockDriver           *string
	LeaderLockPath             *string
	ReconcileInterval          *time.Duration
}
