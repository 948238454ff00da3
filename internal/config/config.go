// Package config loads and validates runtime configuration for the Nexus
// core: rollout defaults, watchdog timeouts, rate-limit windows, module
// allow/deny lists, storage, observability, and scheduled task settings.
package config

import (
	"fmt"
	"time"
)

// Config is the root runtime configuration document.
type Config struct {
	Version       int                 `yaml:"version"`
	Rollout       RolloutConfig       `yaml:"rollout"`
	Watchdog      WatchdogConfig      `yaml:"watchdog"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Lanes         LaneConfig          `yaml:"lanes"`
	Storage       StorageConfig       `yaml:"storage"`
	Observability ObservabilityConfig `yaml:"observability"`
	Modules       ModuleConfig        `yaml:"modules"`
	Cron          CronConfig          `yaml:"cron"`
	HTTP          HTTPConfig          `yaml:"http"`
}

// RolloutConfig mirrors the per-dispatch retry policy (spec §3 RolloutConfig).
type RolloutConfig struct {
	TimeoutSecs       int      `yaml:"timeout_secs"`
	MaxAttempts       int      `yaml:"max_attempts"`
	RetryConditions   []string `yaml:"retry_conditions"`
	RetryDelayMs      int64    `yaml:"retry_delay_ms"`
	ExponentialBackoff bool    `yaml:"exponential_backoff"`
	MaxRetryDelayMs   int64    `yaml:"max_retry_delay_ms"`
	MaxIterations     int      `yaml:"max_iterations"`
}

// WatchdogConfig configures per-operation timeouts and the heartbeat monitor.
type WatchdogConfig struct {
	DefaultToolTimeoutMs  int64            `yaml:"default_tool_timeout_ms"`
	DefaultModelTimeoutMs int64            `yaml:"default_model_timeout_ms"`
	ToolOverridesMs       map[string]int64 `yaml:"tool_overrides_ms"`
	HeartbeatIntervalMs   int64            `yaml:"heartbeat_interval_ms"`
	HeartbeatMaxSilenceMs int64            `yaml:"heartbeat_max_silence_ms"`
}

// RateLimitConfig configures the bundled rate-limiting hook.
type RateLimitConfig struct {
	MaxRequests          int `yaml:"max_requests"`
	WindowSecs           int `yaml:"window_secs"`
	MaxToolCallsPerMsg   int `yaml:"max_tool_calls_per_message"`
	CooldownSecs         int `yaml:"cooldown_secs"`
}

// LaneConfig configures the session lane manager.
type LaneConfig struct {
	MaxLanes        int           `yaml:"max_lanes"`
	IdleTTL         time.Duration `yaml:"idle_ttl"`
	WarnHeldFor     time.Duration `yaml:"warn_held_for"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Driver string `yaml:"driver"` // "postgres", "sqlite", "memory"
	DSN    string `yaml:"dsn"`
}

// ObservabilityConfig configures logging, metrics, and tracing.
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	TracingEnabled bool   `yaml:"tracing_enabled"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	ServiceName    string `yaml:"service_name"`
}

// ModuleConfig configures the module marketplace / lifecycle manager.
type ModuleConfig struct {
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

// HTTPConfig configures the ingress HTTP server and its JWT auth.
type HTTPConfig struct {
	Addr      string `yaml:"addr"`
	JWTSecret string `yaml:"jwt_secret"`
}

// CronConfig configures the two fixed administrative sweeps scheduled by
// internal/schedule: idle session-lane pruning and module worker health
// checks, each on its own cron expression.
type CronConfig struct {
	IdlePruneCron    string `yaml:"idle_prune_cron"`
	ModuleHealthCron string `yaml:"module_health_cron"`
}

// DefaultConfig returns a Config with the runtime's documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: CurrentVersion,
		Rollout: RolloutConfig{
			TimeoutSecs:        300,
			MaxAttempts:        1,
			RetryConditions:    nil,
			RetryDelayMs:       1000,
			ExponentialBackoff: true,
			MaxRetryDelayMs:    30000,
			MaxIterations:      25,
		},
		Watchdog: WatchdogConfig{
			DefaultToolTimeoutMs:  30000,
			DefaultModelTimeoutMs: 60000,
			HeartbeatIntervalMs:   5000,
			HeartbeatMaxSilenceMs: 20000,
		},
		RateLimit: RateLimitConfig{
			MaxRequests:        20,
			WindowSecs:         60,
			MaxToolCallsPerMsg: 10,
			CooldownSecs:       30,
		},
		Lanes: LaneConfig{
			MaxLanes:    10000,
			IdleTTL:     time.Hour,
			WarnHeldFor: 60 * time.Second,
		},
		Storage: StorageConfig{Driver: "memory"},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			ServiceName: "nexus-core",
		},
	}
}

// Load reads a configuration file (YAML or JSON5, with $include expansion)
// and decodes it into a validated Config, filling unset fields from
// DefaultConfig.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	if err := ValidateVersion(cfg.Version); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	d := DefaultConfig()
	if cfg.Rollout.TimeoutSecs == 0 {
		cfg.Rollout.TimeoutSecs = d.Rollout.TimeoutSecs
	}
	if cfg.Rollout.MaxAttempts == 0 {
		cfg.Rollout.MaxAttempts = d.Rollout.MaxAttempts
	}
	if cfg.Rollout.RetryDelayMs == 0 {
		cfg.Rollout.RetryDelayMs = d.Rollout.RetryDelayMs
	}
	if cfg.Rollout.MaxRetryDelayMs == 0 {
		cfg.Rollout.MaxRetryDelayMs = d.Rollout.MaxRetryDelayMs
	}
	if cfg.Rollout.MaxIterations == 0 {
		cfg.Rollout.MaxIterations = d.Rollout.MaxIterations
	}
	if cfg.Watchdog.DefaultToolTimeoutMs == 0 {
		cfg.Watchdog.DefaultToolTimeoutMs = d.Watchdog.DefaultToolTimeoutMs
	}
	if cfg.Watchdog.DefaultModelTimeoutMs == 0 {
		cfg.Watchdog.DefaultModelTimeoutMs = d.Watchdog.DefaultModelTimeoutMs
	}
	if cfg.Watchdog.HeartbeatIntervalMs == 0 {
		cfg.Watchdog.HeartbeatIntervalMs = d.Watchdog.HeartbeatIntervalMs
	}
	if cfg.Watchdog.HeartbeatMaxSilenceMs == 0 {
		cfg.Watchdog.HeartbeatMaxSilenceMs = d.Watchdog.HeartbeatMaxSilenceMs
	}
	if cfg.Lanes.MaxLanes == 0 {
		cfg.Lanes.MaxLanes = d.Lanes.MaxLanes
	}
	if cfg.Lanes.IdleTTL == 0 {
		cfg.Lanes.IdleTTL = d.Lanes.IdleTTL
	}
	if cfg.Lanes.WarnHeldFor == 0 {
		cfg.Lanes.WarnHeldFor = d.Lanes.WarnHeldFor
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = d.Storage.Driver
	}
	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = d.Observability.LogLevel
	}
	if cfg.Observability.LogFormat == "" {
		cfg.Observability.LogFormat = d.Observability.LogFormat
	}
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = d.Observability.ServiceName
	}
}
