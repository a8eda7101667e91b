// Package kumo is the public API for embedding the kumo orchestration core:
// a tiered request dispatcher, a per-node model router, and a state-carrying
// graph orchestrator over an embedded SQLite store.
//
//	app, err := kumo.New(
//	    kumo.WithVersion(version),
//	    kumo.WithModelCallMode("local"),
//	)
//	if err != nil { ... }
//	result, err := app.Dispatch(ctx, "/cert az-104")
//
// The import graph enforces a strict no-cycle rule: kumo (root) imports
// internal/*, but internal/* never imports kumo (root). Public types
// (DispatchResult, RunOutcome) are standalone structs; conversion helpers
// live here because this is the only file that sees both sides of the
// boundary.
package kumo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"

	"github.com/ashita-ai/kumo/internal/adapter"
	"github.com/ashita-ai/kumo/internal/agent"
	"github.com/ashita-ai/kumo/internal/budget"
	"github.com/ashita-ai/kumo/internal/command"
	"github.com/ashita-ai/kumo/internal/config"
	"github.com/ashita-ai/kumo/internal/dispatch"
	"github.com/ashita-ai/kumo/internal/graph"
	"github.com/ashita-ai/kumo/internal/logging"
	"github.com/ashita-ai/kumo/internal/metrics"
	"github.com/ashita-ai/kumo/internal/orchestrator"
	"github.com/ashita-ai/kumo/internal/provider"
	"github.com/ashita-ai/kumo/internal/ratelimit"
	"github.com/ashita-ai/kumo/internal/router"
	"github.com/ashita-ai/kumo/internal/server"
	"github.com/ashita-ai/kumo/internal/state"
	"github.com/ashita-ai/kumo/internal/storage"
	"github.com/ashita-ai/kumo/internal/telemetry"
	"github.com/ashita-ai/kumo/internal/tuner"
	"github.com/ashita-ai/kumo/migrations"
)

// App is the kumo core lifecycle. Construct with New().
type App struct {
	cfg          config.Config
	logger       *slog.Logger
	store        *storage.Store
	providers    *provider.Registry
	routerRef    *router.Router
	dispatcher   *dispatch.Dispatcher
	orch         *orchestrator.Orchestrator
	agents       *agent.Registry
	collector    *metrics.Collector
	limiter      *ratelimit.MemoryLimiter
	otelShutdown telemetry.Shutdown
	runHooks     []RunHook
	version      string

	flushOnce   sync.Once
	flushCancel context.CancelFunc
}

// New initialises the core: loads configuration, opens the store, runs
// migrations, and wires the registries, router, dispatcher, and
// orchestrator. The only goroutines started are the rate limiter's bucket
// cleanup and the optional metrics flusher.
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.dbPath != "" {
		cfg.DBPath = o.dbPath
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.routerConfig != "" {
		cfg.RouterConfigPath = o.routerConfig
	}
	if o.checkpointDir != "" {
		cfg.CheckpointDir = o.checkpointDir
	}

	logger := o.logger
	if logger == nil {
		logger = logging.New(os.Stdout, cfg.LogLevel)
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("kumo starting", "version", version, "db", cfg.DBPath)

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	store, err := storage.Open(context.Background(), cfg.DBPath, migrations.FS, logger)
	if err != nil {
		return nil, err
	}

	routerCfg := router.DefaultConfig()
	if cfg.RouterConfigPath != "" {
		routerCfg, err = router.LoadConfig(cfg.RouterConfigPath)
		if err != nil {
			return nil, err
		}
	}

	collector := metrics.NewCollector()
	collector.AttachMeter(otel.Meter("kumo"))

	providers := provider.NewRegistry(routerCfg.DailyFrontierCap, logger)
	registerProviders(providers, routerCfg, cfg)

	rt := router.New(routerCfg, providers, logger)
	installTierAdapters(rt, routerCfg, cfg)
	for name, custom := range o.adapters {
		rt.RegisterAdapter(name, &adapterShim{inner: custom})
	}

	defaultAdapter, err := buildModelCall(o.modelCallMode, cfg)
	if err != nil {
		return nil, err
	}

	commands := command.NewRegistry()
	command.RegisterDefaults(commands)

	limiter := ratelimit.NewMemoryLimiter(1, 5)

	tier1Call, tier2Call := tierCalls(rt)
	dispatcher := dispatch.New(dispatch.Options{
		Commands:        commands,
		Router:          rt,
		Providers:       providers,
		Metrics:         collector,
		Limiter:         limiter,
		Tier1Call:       tier1Call,
		Tier2Call:       tier2Call,
		AvailableGraphs: []string{"certification", "dossier", "story", "lab"},
		Logger:          logger,
	})

	agents := agent.NewRegistry()
	orch := orchestrator.New(orchestrator.Options{
		Agents:        agents,
		Router:        rt,
		Store:         store,
		Metrics:       collector,
		DefaultCall:   defaultAdapter.Call,
		CheckpointDir: cfg.CheckpointDir,
		Logger:        logger,
	})

	app := &App{
		cfg:          cfg,
		logger:       logger,
		store:        store,
		providers:    providers,
		routerRef:    rt,
		dispatcher:   dispatcher,
		orch:         orch,
		agents:       agents,
		collector:    collector,
		limiter:      limiter,
		otelShutdown: otelShutdown,
		runHooks:     o.runHooks,
		version:      version,
	}
	app.startMetricsFlush()
	return app, nil
}

// startMetricsFlush begins the optional periodic flush of collector
// snapshots to the store.
func (a *App) startMetricsFlush() {
	if a.cfg.MetricsFlushPeriod <= 0 {
		return
	}
	a.flushOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		a.flushCancel = cancel
		go a.collector.FlushLoop(ctx, a.store, a.cfg.MetricsFlushPeriod, a.logger)
	})
}

// Dispatch routes a request string through the tier chain.
func (a *App) Dispatch(ctx context.Context, request string) (DispatchResult, error) {
	result, err := a.dispatcher.Dispatch(ctx, request)
	if err != nil {
		return DispatchResult{}, err
	}
	return DispatchResult{
		Tier:          result.Tier,
		Action:        result.Action,
		Target:        result.Target,
		Args:          result.Args,
		Confidence:    result.Confidence,
		Provider:      result.Provider,
		SafetyFlagged: result.SafetyFlagged,
		SafetyReason:  result.SafetyReason,
	}, nil
}

// ExecuteGraph runs (or resumes) the graph described by req.
func (a *App) ExecuteGraph(ctx context.Context, req RunRequest) (RunOutcome, error) {
	g, err := graph.Load(req.GraphPath)
	if err != nil {
		return RunOutcome{}, err
	}
	ledger := budget.NewLedger(req.MaxTokens, req.MaxCostUSD, req.MaxWallSeconds)

	var result orchestrator.RunResult
	if req.ResumeRunID != "" {
		result, err = a.orch.Resume(ctx, g, req.ResumeRunID, ledger)
	} else {
		runID := uuid.New().String()
		st := state.New(req.ScopeType, req.ScopeID, runID, g.ID, req.Extra)
		for _, hook := range a.runHooks {
			hook.RunStarted(ctx, runID)
		}
		result, err = a.orch.Execute(ctx, g, st, ledger)
	}
	if err != nil {
		return RunOutcome{}, err
	}

	outcome := RunOutcome{
		RunID:       result.RunID,
		GraphID:     g.ID,
		Status:      string(result.Status),
		State:       result.State,
		TokensIn:    ledger.TokensIn,
		TokensOut:   ledger.TokensOut,
		CostUSD:     ledger.CostUSD,
		NeedsReview: ledger.NeedsHumanReview,
	}
	for _, hook := range a.runHooks {
		hook.RunFinished(ctx, outcome)
	}
	return outcome, nil
}

// RegisterFuncAgent installs a deterministic agent under id, callable from
// graph nodes. The function receives the run state and returns the delta to
// merge.
func (a *App) RegisterFuncAgent(id, version string, fn func(ctx context.Context, st map[string]any) (map[string]any, error)) {
	a.agents.Register(&agent.Func{
		AgentID:      id,
		AgentVersion: version,
		Fn: func(ctx context.Context, st state.State) (state.Delta, error) {
			delta, err := fn(ctx, map[string]any(st))
			return state.Delta(delta), err
		},
	})
}

// TuneReport analyzes persisted routing decisions against the current
// thresholds, returning the report as human-readable text and raw JSON.
func (a *App) TuneReport(ctx context.Context) (string, json.RawMessage, error) {
	esc := a.routerRef.Config().Escalation
	report, err := tuner.Analyze(ctx, a.store, tuner.Thresholds{
		Confidence: esc.MinConfidence,
		Quality:    esc.QualityThreshold,
	})
	if err != nil {
		return "", nil, err
	}
	raw, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", nil, fmt.Errorf("marshal tune report: %w", err)
	}
	return tuner.Format(report), raw, nil
}

// ServeDashboard runs the dashboard HTTP server until ctx is cancelled.
func (a *App) ServeDashboard(ctx context.Context) error {
	srv := server.New(server.Config{
		Store:        a.store,
		Collector:    a.collector,
		Logger:       a.logger,
		Port:         a.cfg.Port,
		ReadTimeout:  a.cfg.ReadTimeout,
		WriteTimeout: a.cfg.WriteTimeout,
		Version:      a.version,
	})
	return srv.Run(ctx)
}

// ReloadRouterConfig hot-reloads dispatcher and router thresholds from a
// YAML file.
func (a *App) ReloadRouterConfig(path string) error {
	return a.dispatcher.ReloadConfig(path)
}

// Close releases the store, limiter, and telemetry exporters.
func (a *App) Close(ctx context.Context) error {
	if a.flushCancel != nil {
		a.flushCancel()
	}
	a.limiter.Close()
	if err := a.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	if a.otelShutdown != nil {
		return a.otelShutdown(ctx)
	}
	return nil
}

// registerProviders loads the tier-3 pool from router config.
func registerProviders(reg *provider.Registry, routerCfg router.Config, cfg config.Config) {
	for _, pc := range routerCfg.Tier3Providers {
		a := buildProviderAdapter(pc, cfg)
		if a == nil {
			continue
		}
		reg.Register(provider.Entry{
			Name:         pc.Name,
			Adapter:      a,
			CostPer1KIn:  pc.CostPer1KIn,
			CostPer1KOut: pc.CostPer1KOut,
			Quality:      pc.Quality,
			MaxContext:   pc.MaxContext,
			Tags:         pc.Tags,
			DailyCap:     pc.DailyCap,
		})
	}
}

// buildProviderAdapter maps a provider_type to a concrete adapter.
func buildProviderAdapter(pc router.ProviderConfig, cfg config.Config) adapter.Adapter {
	switch pc.ProviderType {
	case "ollama":
		host := pc.Host
		if host == "" {
			host = cfg.OllamaHost
		}
		return adapter.NewOllama(adapter.OllamaConfig{Name: pc.Name, Model: pc.Model, Host: host})
	case "dgx":
		host := pc.Host
		if host == "" {
			host = cfg.DGXHost
		}
		return adapter.NewDGX(pc.Name, pc.Model, host)
	case "anthropic":
		return adapter.NewAnthropic(adapter.AnthropicConfig{
			Name:        pc.Name,
			Model:       pc.Model,
			APIKey:      cfg.AnthropicKey,
			MinInterval: time.Duration(pc.MinIntervalMS) * time.Millisecond,
		})
	case "openai":
		return adapter.NewOpenAI(adapter.OpenAIConfig{
			Name:   pc.Name,
			Model:  pc.Model,
			APIKey: cfg.OpenAIKey,
		})
	}
	return nil
}

// installTierAdapters registers the tier-1/tier-2 local clients under the
// router's conventional names.
func installTierAdapters(rt *router.Router, routerCfg router.Config, cfg config.Config) {
	rt.RegisterAdapter("micro", adapter.NewOllama(adapter.OllamaConfig{
		Name:        "micro",
		Model:       routerCfg.Tier1.Model,
		Host:        cfg.OllamaHost,
		Temperature: routerCfg.Tier1.Temperature,
		NumCtx:      routerCfg.Tier1.Context,
		NumPredict:  routerCfg.Tier1.MaxTokens,
		Timeout:     routerCfg.Tier1.Timeout(),
	}))
	rt.RegisterAdapter("light", adapter.NewOllama(adapter.OllamaConfig{
		Name:        "light",
		Model:       routerCfg.Tier2.Model,
		Host:        cfg.OllamaHost,
		Temperature: routerCfg.Tier2.Temperature,
		NumCtx:      routerCfg.Tier2.Context,
		NumPredict:  routerCfg.Tier2.MaxTokens,
		Timeout:     routerCfg.Tier2.Timeout(),
	}))
	rt.RegisterAdapter("local", adapter.NewOllama(adapter.OllamaConfig{
		Name:  "local",
		Model: cfg.OllamaModel,
		Host:  cfg.OllamaHost,
	}))
}

// tierCalls extracts the tier-1/tier-2 callables from the router's
// registered adapters.
func tierCalls(rt *router.Router) (agent.Call, agent.Call) {
	tier1, err := rt.Callable(router.Decision{Tier: 1, AdapterName: "micro"})
	if err != nil {
		tier1 = nil
	}
	tier2, err := rt.Callable(router.Decision{Tier: 2, AdapterName: "light"})
	if err != nil {
		tier2 = nil
	}
	return tier1, tier2
}

// buildModelCall parses a --model-call mode into the default adapter.
//
//	stub | local | local:<model> | cloud | cloud:<model>
func buildModelCall(mode string, cfg config.Config) (adapter.Adapter, error) {
	switch {
	case mode == "" || mode == "stub":
		return adapter.NewStub("stub"), nil
	case mode == "local":
		return adapter.NewOllama(adapter.OllamaConfig{Model: cfg.OllamaModel, Host: cfg.OllamaHost}), nil
	case strings.HasPrefix(mode, "local:"):
		// Split on the first colon only so "local:deepseek-r1:1.5b" works.
		return adapter.NewOllama(adapter.OllamaConfig{
			Model: strings.SplitN(mode, ":", 2)[1],
			Host:  cfg.OllamaHost,
		}), nil
	case mode == "cloud":
		return adapter.NewAnthropic(adapter.AnthropicConfig{
			Model:  cfg.AnthropicModel,
			APIKey: cfg.AnthropicKey,
		}), nil
	case strings.HasPrefix(mode, "cloud:"):
		return adapter.NewAnthropic(adapter.AnthropicConfig{
			Model:  strings.SplitN(mode, ":", 2)[1],
			APIKey: cfg.AnthropicKey,
		}), nil
	}
	return nil, fmt.Errorf("unknown model-call mode %q (supported: stub, local, local:<model>, cloud, cloud:<model>)", mode)
}

// adapterShim bridges a public ModelAdapter into the internal adapter
// contract, estimating tokens the endpoint did not report.
type adapterShim struct {
	inner ModelAdapter
	mu    sync.Mutex
	usage adapter.Usage
}

func (s *adapterShim) Name() string { return s.inner.Name() }

func (s *adapterShim) Call(ctx context.Context, systemPrompt, userMessage string) (adapter.Response, error) {
	text, tokensIn, tokensOut, err := s.inner.Call(ctx, systemPrompt, userMessage)
	if err != nil {
		return adapter.Response{}, err
	}
	if tokensIn == 0 {
		tokensIn = len(systemPrompt+userMessage) / 4
	}
	if tokensOut == 0 {
		tokensOut = len(text) / 4
	}
	s.mu.Lock()
	s.usage.TokensIn += int64(tokensIn)
	s.usage.TokensOut += int64(tokensOut)
	s.usage.Calls++
	s.mu.Unlock()
	return adapter.Response{Text: text, TokensIn: tokensIn, TokensOut: tokensOut}, nil
}

func (s *adapterShim) Usage() adapter.Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}
