package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jkaninda/agent42/internal/agent"
	"github.com/jkaninda/agent42/internal/config"
	"github.com/jkaninda/agent42/internal/contextmgr"
	"github.com/jkaninda/agent42/internal/gateway/httpapi"
	"github.com/jkaninda/agent42/internal/llm"
	"github.com/jkaninda/agent42/internal/llm/anthropic"
	"github.com/jkaninda/agent42/internal/llm/openai"
	"github.com/jkaninda/agent42/internal/observability"
	"github.com/jkaninda/agent42/internal/sandbox"
	"github.com/jkaninda/agent42/internal/storage"
	pgstore "github.com/jkaninda/agent42/internal/storage/postgres"
	sqlitestore "github.com/jkaninda/agent42/internal/storage/sqlite"
	"github.com/jkaninda/agent42/internal/tools"
	"github.com/jkaninda/agent42/internal/tools/file"
	"github.com/jkaninda/agent42/internal/tools/shell"
	"github.com/jkaninda/agent42/internal/workspace"
)

// SharedComponents holds every subsystem a session needs. Built once by
// initShared, torn down by Cleanup.
type SharedComponents struct {
	Config    *config.Config
	Logger    *slog.Logger
	Workspace *workspace.Workspace
	Store     storage.Store // nil when storage.driver=none.

	Obs         *observability.Observability
	LLMProvider llm.Provider
	Sandbox     sandbox.Sandbox
	Dispatcher  agent.ToolDispatcher
	Agent       *agent.Agent
	Session     *agent.Session
	OpsServer   *httpapi.Gateway // nil when http.enabled is false.

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (sc *SharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
}

func (sc *SharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// initShared wires the workspace, sandbox, tools, providers, context manager,
// audit store and session. Callers must call sc.Cleanup() when done.
func initShared(cfg *config.Config, logger *slog.Logger) (*SharedComponents, error) {
	sc := &SharedComponents{
		Config: cfg,
		Logger: logger,
	}

	// Workspace.
	root, err := cfg.ResolvedWorkspace()
	if err != nil {
		return nil, fmt.Errorf("resolving workspace: %w", err)
	}
	ws, err := workspace.New(root)
	if err != nil {
		return nil, fmt.Errorf("initializing workspace: %w", err)
	}
	sc.Workspace = ws
	logger.Debug("workspace initialized", slog.String("root", ws.Root))

	// Ensure data directory exists.
	dataDir := cfg.ResolvedDataDir()
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}
	logger.Debug("data directory initialized", slog.String("path", dataDir))

	// Observability.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	sc.Obs = obs
	sc.addCleanup(func() {
		if obs != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs.Shutdown(shutdownCtx)
		}
	})
	if obs != nil {
		logger.Debug("observability initialized",
			slog.Bool("metrics", obs.Metrics != nil),
			slog.Bool("tracing", obs.Tracer != nil),
			slog.Bool("anomaly", obs.Anomaly != nil),
		)
	}

	// Sandbox.
	sbx, err := initSandbox(cfg, ws, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing sandbox: %w", err)
	}
	if docker, ok := sbx.(*sandbox.DockerSandbox); ok && obs != nil {
		obs.Health.AddCheck("sandbox", docker.Ping)
	}
	if obs != nil && (obs.Metrics != nil || obs.Tracer != nil || obs.Anomaly != nil) {
		sbx = observability.NewInstrumentedSandbox(sbx, cfg.Sandbox.Type, obs.Metrics, obs.Tracer, obs.Anomaly)
	}
	sc.Sandbox = sbx
	logger.Debug("sandbox initialized",
		slog.String("type", cfg.Sandbox.Type),
		slog.Duration("timeout", cfg.Sandbox.Timeout()),
		slog.Bool("network_allowed", cfg.Sandbox.NetworkAllowed),
	)

	// Tools.
	dispatcher, err := initDispatcher(cfg, ws, sbx, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing tools: %w", err)
	}
	sc.Dispatcher = dispatcher
	if obs != nil && (obs.Metrics != nil || obs.Tracer != nil || obs.Anomaly != nil) {
		sc.Dispatcher = observability.NewInstrumentedDispatcher(dispatcher, obs.Metrics, obs.Tracer, obs.Anomaly)
	}

	// LLM providers.
	provider, err := newLLMProvider(cfg, obs, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing LLM provider: %w", err)
	}
	sc.LLMProvider = provider
	logger.Debug("llm provider initialized", slog.String("provider", provider.Name()))

	// Audit store.
	store, err := initStore(cfg, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	if store != nil {
		sc.Store = store
		sc.addCleanup(func() {
			if err := store.Close(); err != nil {
				logger.Error("closing store", slog.String("error", err.Error()))
			}
		})
		if err := store.Migrate(context.Background()); err != nil {
			sc.Cleanup()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
		if obs != nil {
			obs.Health.AddCheck("storage", store.Ping)
		}
		logger.Debug("storage initialized", slog.String("driver", store.Driver()))
	}

	// Agent and session.
	active := cfg.ActiveProvider()
	compactor := contextmgr.New(provider, contextmgr.Config{
		ContextLimit: active.ContextLimit,
		Threshold:    cfg.Context.Threshold,
		RetainTail:   cfg.Context.RetainTail,
		PruneProtect: cfg.Context.PruneProtect,
		PruneMinimum: cfg.Context.PruneMinimum,
	}, logger)

	core := agent.New(provider, sc.Dispatcher, logger).
		WithCompactor(compactor).
		WithObservability(obs).
		WithMaxRounds(cfg.Agent.MaxRounds).
		WithMaxTokens(active.MaxTokens).
		WithLoopDetection(cfg.Agent.LoopWindow)
	sc.Agent = core

	prompt, err := loadSystemPrompt(cfg)
	if err != nil {
		sc.Cleanup()
		return nil, err
	}
	sc.Session = agent.NewSession(core, prompt)
	if store != nil {
		core.WithAudit(store, sc.Session.ID)
	}
	logger.Debug("session started",
		slog.String("session_id", sc.Session.ID),
		slog.Int("context_trigger", compactor.Trigger()),
	)

	// Ops server.
	if cfg.HTTP != nil && cfg.HTTP.Enabled {
		sc.OpsServer = initOpsServer(cfg, obs, store, logger)
	}

	return sc, nil
}

// initSandbox creates the sandbox selected by sandbox.type.
func initSandbox(cfg *config.Config, ws *workspace.Workspace, logger *slog.Logger) (sandbox.Sandbox, error) {
	switch cfg.Sandbox.Type {
	case "docker", "":
		return sandbox.NewDockerSandbox(sandbox.DockerConfig{
			Image:          cfg.Sandbox.Docker.Image,
			Workspace:      ws.Root,
			DefaultTimeout: cfg.Sandbox.Timeout(),
			MemoryMB:       cfg.Sandbox.MaxMemoryMB,
			CPUCores:       cfg.Sandbox.Docker.CPUCores,
			PIDsLimit:      cfg.Sandbox.Docker.PIDsLimit,
			NetworkAllowed: cfg.Sandbox.NetworkAllowed,
			User:           cfg.Sandbox.Docker.User,
		}, logger), nil
	case "process":
		logger.Warn("process sandbox does not isolate the network; use docker for untrusted models")
		return sandbox.NewProcessSandbox(sandbox.ProcessConfig{
			Workspace:      ws.Root,
			DefaultTimeout: cfg.Sandbox.Timeout(),
			DefaultLimits: sandbox.ResourceLimits{
				MaxCPUSeconds: cfg.Sandbox.MaxCPUSeconds,
				MaxMemoryMB:   cfg.Sandbox.MaxMemoryMB,
			},
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown sandbox type: %q (supported: docker, process)", cfg.Sandbox.Type)
	}
}

// initDispatcher registers the bash, read_file and write_file tools.
func initDispatcher(cfg *config.Config, ws *workspace.Workspace, sbx sandbox.Sandbox, logger *slog.Logger) (*tools.Dispatcher, error) {
	shellTool := shell.NewTool(sbx, cfg.Sandbox.Timeout(), logger)
	fileTool := file.NewTool(ws, file.Config{MaxFileSizeBytes: cfg.Tools.MaxFileSizeBytes}, logger)
	return tools.NewDispatcher(shellTool, fileTool, logger,
		tools.WithMaxOutputChars(cfg.Tools.MaxOutputChars),
	)
}

// newLLMProvider creates the default provider, chained with any configured
// fallbacks.
func newLLMProvider(cfg *config.Config, obs *observability.Observability, logger *slog.Logger) (llm.Provider, error) {
	var providers []llm.Provider
	for _, name := range cfg.ProviderChain() {
		p, err := buildProvider(name, cfg, logger)
		if err != nil {
			if len(providers) == 0 {
				return nil, err
			}
			logger.Warn("skipping fallback provider",
				slog.String("provider", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		if obs != nil && (obs.Metrics != nil || obs.Tracer != nil || obs.Anomaly != nil) {
			p = observability.NewInstrumentedProvider(p, cfg.Providers.Entries[name].Model, obs.Metrics, obs.Tracer, obs.Anomaly)
		}
		providers = append(providers, p)
	}
	if len(providers) > 1 {
		return llm.NewFallbackProvider(providers, logger), nil
	}
	return providers[0], nil
}

// buildProvider creates a single LLM provider by name.
func buildProvider(name string, cfg *config.Config, logger *slog.Logger) (llm.Provider, error) {
	entry := cfg.Providers.Entries[name]
	if entry == nil {
		return nil, fmt.Errorf("unknown provider: %q", name)
	}
	switch kind := entry.Kind(name); kind {
	case config.ProviderTypeAnthropic:
		var opts []anthropic.Option
		if entry.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(entry.BaseURL))
		}
		return anthropic.NewClient(entry.APIKey, entry.Model, logger, opts...), nil
	case config.ProviderTypeOpenAI:
		opts := []openai.Option{openai.WithName(name)}
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		return openai.NewClient(entry.APIKey, entry.Model, logger, opts...), nil
	default:
		return nil, fmt.Errorf("provider %q: unknown type %q", name, kind)
	}
}

// initStore creates the audit store backend. It returns a nil store when
// the audit trail is disabled.
func initStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch driver := cfg.Storage.StorageDriver(); driver {
	case storage.DriverNone:
		return nil, nil
	case storage.DriverPostgres:
		return initPostgresStore(cfg, logger)
	case storage.DriverSQLite:
		return initSQLiteStore(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", driver)
	}
}

func initSQLiteStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	journalMode := "wal"
	if cfg.Storage != nil && cfg.Storage.SQLite != nil && cfg.Storage.SQLite.JournalMode != "" {
		journalMode = cfg.Storage.SQLite.JournalMode
	}
	return sqlitestore.Open(sqlitestore.Config{
		Path:        cfg.AuditDBPath(),
		JournalMode: journalMode,
	}, logger)
}

func initPostgresStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	if cfg.Storage.Postgres == nil || cfg.Storage.Postgres.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required (set storage.postgres.dsn or AGENT42_DB_DSN)")
	}
	pg := cfg.Storage.Postgres
	return pgstore.OpenStore(pgstore.Config{
		DSN:             pg.DSN,
		MaxOpenConns:    pg.MaxOpenConns,
		MaxIdleConns:    pg.MaxIdleConns,
		ConnMaxLifetime: time.Duration(pg.ConnMaxLifetimeS) * time.Second,
	}, logger)
}

// loadSystemPrompt reads agent.system_prompt_file. An unset file yields an
// empty prompt, which the session replaces with the built-in one.
func loadSystemPrompt(cfg *config.Config) (string, error) {
	if cfg.Agent.SystemPromptFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(cfg.Agent.SystemPromptFile)
	if err != nil {
		return "", fmt.Errorf("reading system prompt: %w", err)
	}
	return string(data), nil
}

// initOpsServer builds the health, metrics and audit HTTP server.
func initOpsServer(cfg *config.Config, obs *observability.Observability, store storage.Store, logger *slog.Logger) *httpapi.Gateway {
	httpCfg := httpapi.Config{ListenAddr: cfg.HTTP.ListenAddr}
	if obs != nil {
		httpCfg.HealthChecker = obs.Health
		httpCfg.Metrics = obs.Metrics
		if obs.Metrics != nil {
			httpCfg.MetricsRegistry = obs.Metrics.Registry
			if cfg.Observability.Metrics != nil {
				httpCfg.MetricsPath = cfg.Observability.Metrics.Path
			}
		}
		if obs.Tracer != nil {
			httpCfg.Tracer = obs.Tracer.Tracer()
		}
	}
	gw := httpapi.NewGateway(httpCfg, logger)
	if store != nil {
		gw.WithAudit(store)
	}
	return gw
}
