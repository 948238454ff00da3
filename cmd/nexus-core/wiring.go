package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/nexuscore/runtime/internal/authtoken"
	"github.com/nexuscore/runtime/internal/broadcaster"
	"github.com/nexuscore/runtime/internal/config"
	"github.com/nexuscore/runtime/internal/contextbank"
	"github.com/nexuscore/runtime/internal/dispatcher"
	"github.com/nexuscore/runtime/internal/hooks"
	"github.com/nexuscore/runtime/internal/hooks/bundled"
	"github.com/nexuscore/runtime/internal/lanes"
	"github.com/nexuscore/runtime/internal/modules"
	"github.com/nexuscore/runtime/internal/observability"
	"github.com/nexuscore/runtime/internal/provideradapter"
	"github.com/nexuscore/runtime/internal/rollout"
	"github.com/nexuscore/runtime/internal/storage"
	"github.com/nexuscore/runtime/internal/toolregistry"
	"github.com/nexuscore/runtime/internal/watchdog"
	"github.com/nexuscore/runtime/pkg/models"
)

// deployment bundles every collaborator the serve command and the modules
// subcommands construct, so it can all be torn down the same way.
type deployment struct {
	cfg            *config.Config
	logger         *observability.Logger
	metrics        *observability.Metrics
	tracer         *observability.Tracer
	tracerShutdown func(ctx context.Context) error

	auth      *authtoken.Service
	lanes     *lanes.Manager
	hooksReg  *hooks.Registry
	tools     *toolregistry.Registry
	modules   *modules.Manager
	rollouts  *rollout.Manager
	dispatch  *dispatcher.Dispatcher
	moduleSt  *modules.MemStore
	rolloutSt *storage.MemoryRolloutStore
	sessionSt *storage.MemorySessionChannelStore
}

// loadConfig loads path, falling back to config.DefaultConfig() when the
// file does not exist so `serve` works out of the box in development.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return config.DefaultConfig(), nil
		}
		return nil, err
	}
	return config.Load(path)
}

// build wires every core collaborator from cfg. channels seeds the
// in-memory channel/session store; a production deployment would load
// these from the configured storage driver instead.
func build(cfg *config.Config, channels ...models.Channel) (*deployment, error) {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
	})

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics()
	}

	var tracer *observability.Tracer
	var tracerShutdown func(ctx context.Context) error
	if cfg.Observability.TracingEnabled {
		tracer, tracerShutdown = observability.NewTracer(observability.TraceConfig{
			ServiceName: cfg.Observability.ServiceName,
			Environment: "production",
		})
	}

	authSvc := authtoken.NewService(cfg.HTTP.JWTSecret, 0)

	laneMgr := lanes.New(logger.Slog())
	hooksReg := hooks.NewRegistry(logger.Slog())
	hooksReg.Register(bundled.NewRateLimiter(bundled.RateLimitConfig{
		MaxRequests: cfg.RateLimit.MaxRequests,
		WindowSecs:  cfg.RateLimit.WindowSecs,
	}).Hook())
	hooksReg.Register(bundled.NewToolCallLimiter(bundled.RateLimitConfig{
		MaxToolCallsPerMsg: cfg.RateLimit.MaxToolCallsPerMsg,
	}).Hook())

	toolReg := toolregistry.New()

	bcast := broadcaster.New(256, logger.Slog())

	moduleSt := modules.NewMemStore()
	moduleMgr := modules.New(modules.Config{
		Store:       moduleSt,
		Tools:       toolReg,
		Broadcaster: bcast,
		Logger:      logger.Slog(),
		HasKey: func(name string) bool {
			return os.Getenv(name) != ""
		},
	})

	rolloutSt := storage.NewMemoryRolloutStore()
	rolloutMgr := rollout.New(storage.RolloutSaver{Rollouts: rolloutSt})
	if tracer != nil {
		rolloutMgr = rolloutMgr.WithTracer(tracer)
	}

	cbScanner := contextbank.New(contextbank.Config{})

	model, err := buildModelAdapter(toolReg)
	if err != nil {
		return nil, err
	}

	sessionSt := storage.NewMemorySessionChannelStore(channels...)

	disp := dispatcher.New(dispatcher.Dispatcher{
		Channels:    storage.ChannelResolver{Sessions: sessionSt},
		Sessions:    storage.SessionResolver{Sessions: sessionSt},
		Spans:       rolloutSt,
		Broadcaster: bcast,
		Hooks:       hooksReg,
		Lanes:       laneMgr,
		Rollouts:    rolloutMgr,
		ContextBank: cbScanner,
		Tools:       toolReg,
		Model:       model,
		Watchdog:    watchdogConfigFrom(cfg),
		Logger:      logger.Slog(),
		Metrics:     metrics,
	})

	return &deployment{
		cfg:            cfg,
		logger:         logger,
		metrics:        metrics,
		tracer:         tracer,
		tracerShutdown: tracerShutdown,
		auth:           authSvc,
		lanes:          laneMgr,
		hooksReg:       hooksReg,
		tools:          toolReg,
		modules:        moduleMgr,
		rollouts:       rolloutMgr,
		dispatch:       disp,
		moduleSt:       moduleSt,
		rolloutSt:      rolloutSt,
		sessionSt:      sessionSt,
	}, nil
}

// watchdogConfigFrom translates the millisecond durations in cfg into the
// watchdog's time.Duration-typed Config.
func watchdogConfigFrom(cfg *config.Config) watchdog.Config {
	overrides := make(map[string]time.Duration, len(cfg.Watchdog.ToolOverridesMs))
	for name, ms := range cfg.Watchdog.ToolOverridesMs {
		overrides[name] = time.Duration(ms) * time.Millisecond
	}
	return watchdog.Config{
		DefaultToolTimeout:  time.Duration(cfg.Watchdog.DefaultToolTimeoutMs) * time.Millisecond,
		DefaultModelTimeout: time.Duration(cfg.Watchdog.DefaultModelTimeoutMs) * time.Millisecond,
		ToolOverrides:       overrides,
		HeartbeatInterval:   time.Duration(cfg.Watchdog.HeartbeatIntervalMs) * time.Millisecond,
		HeartbeatMaxSilence: time.Duration(cfg.Watchdog.HeartbeatMaxSilenceMs) * time.Millisecond,
	}
}

// buildModelAdapter picks the model adapter from the environment: Anthropic
// wins when ANTHROPIC_API_KEY is set, otherwise OpenAI, since a dispatcher
// needs exactly one ModelAdapter per process.
func buildModelAdapter(tools *toolregistry.Registry) (dispatcher.ModelAdapter, error) {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		return provideradapter.NewAnthropic(provideradapter.AnthropicConfig{
			APIKey: key,
			Model:  os.Getenv("ANTHROPIC_MODEL"),
			Tools:  tools,
		})
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		return provideradapter.NewOpenAI(provideradapter.OpenAIConfig{
			APIKey: key,
			Model:  os.Getenv("OPENAI_MODEL"),
			Tools:  tools,
		})
	}
	return nil, fmt.Errorf("nexus-core: no model provider configured; set ANTHROPIC_API_KEY or OPENAI_API_KEY")
}
