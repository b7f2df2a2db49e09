// Copyright 2026 © The Aion Authors
// SPDX-License-Identifier: Apache-2.0

// Package runtime wires the kernel components into an agent runtime: plugin
// registration and lifecycle, settings, model use, events, runs and the
// message pipeline.
package runtime

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/aion/pkg/bridge"
	"github.com/jllopis/aion/pkg/core"
	"github.com/jllopis/aion/pkg/errors"
	"github.com/jllopis/aion/pkg/events"
	"github.com/jllopis/aion/pkg/executor"
	"github.com/jllopis/aion/pkg/model"
	"github.com/jllopis/aion/pkg/registry"
	"github.com/jllopis/aion/pkg/resilience"
	"github.com/jllopis/aion/pkg/run"
	"github.com/jllopis/aion/pkg/settings"
	"github.com/jllopis/aion/pkg/state"
	"github.com/jllopis/aion/pkg/storage"
	"github.com/jllopis/aion/pkg/telemetry"
)

// Runtime is one agent: its character, its registry and the components that
// run messages through them.
type Runtime struct {
	agentID   string
	character *core.Character
	log       *slog.Logger
	metrics   *telemetry.RuntimeMetrics
	tracer    trace.Tracer

	reg      *registry.Registry
	settings *settings.Resolver
	composer *state.Composer
	models   *model.Dispatcher
	bus      *events.Bus
	runs     *run.Tracker
	exec     *executor.Executor
	store    storage.Store
	health   *core.HealthRegistry

	stateCacheSize  int
	resultStoreSize int
	healthTTL       time.Duration
	respawn         *resilience.RetryConfig
	recentMessages  int

	mu       sync.Mutex
	plugins  map[string]*core.Plugin
	order    []string
	bridges  []*bridge.Host
	running  []core.Service
	started  bool
	stopOnce sync.Once

	superviseCtx    context.Context
	superviseCancel context.CancelFunc
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger shared by every component.
func WithLogger(log *slog.Logger) Option {
	return func(r *Runtime) {
		if log != nil {
			r.log = log
		}
	}
}

// WithMetrics records runtime metrics on m.
func WithMetrics(m *telemetry.RuntimeMetrics) Option {
	return func(r *Runtime) { r.metrics = m }
}

// WithStorage persists inbound and response memories to store.
func WithStorage(store storage.Store) Option {
	return func(r *Runtime) { r.store = store }
}

// WithAgentID overrides the agent id derived from the character.
func WithAgentID(id string) Option {
	return func(r *Runtime) { r.agentID = id }
}

// WithStateCacheSize bounds the number of rooms whose State is cached.
func WithStateCacheSize(n int) Option {
	return func(r *Runtime) { r.stateCacheSize = n }
}

// WithResultStoreSize bounds the number of messages whose action results are kept.
func WithResultStoreSize(n int) Option {
	return func(r *Runtime) { r.resultStoreSize = n }
}

// WithHealthTTL sets how long health results are cached.
func WithHealthTTL(ttl time.Duration) Option {
	return func(r *Runtime) { r.healthTTL = ttl }
}

// WithBridgeRespawn supervises bridge workers, respawning crashed ones with rc.
func WithBridgeRespawn(rc resilience.RetryConfig) Option {
	return func(r *Runtime) { r.respawn = &rc }
}

// WithRecentMessages sets how many stored messages the RECENT_MESSAGES
// provider renders. It has no effect without storage.
func WithRecentMessages(n int) Option {
	return func(r *Runtime) { r.recentMessages = n }
}

// New creates a runtime for character with the built-in actions and
// providers registered.
func New(character *core.Character, opts ...Option) (*Runtime, error) {
	if character == nil || character.Name == "" {
		return nil, errors.New(errors.CodeConfiguration, "character with a name is required", nil)
	}
	r := &Runtime{
		character:       character,
		log:             slog.Default(),
		tracer:          otel.Tracer("aion/runtime"),
		stateCacheSize:  state.DefaultCacheSize,
		resultStoreSize: executor.DefaultResultStoreSize,
		recentMessages:  defaultRecentMessages,
		plugins:         make(map[string]*core.Plugin),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.agentID == "" {
		r.agentID = character.ID
	}
	if r.agentID == "" {
		r.agentID = uuid.NewSHA1(uuid.NameSpaceURL, []byte("aion:agent:"+character.Name)).String()
	}
	r.log = r.log.With(slog.String("agent_id", r.agentID), slog.String("agent", character.Name))

	r.reg = registry.New(registry.WithLogger(r.log))
	r.settings = settings.New(character)
	r.runs = run.NewTracker(r.log)
	r.bus = events.New(r.reg, events.WithLogger(r.log), events.WithAgentID(r.agentID))
	r.models = model.New(r.reg,
		model.WithLogger(r.log),
		model.WithMetrics(r.metrics),
		model.WithObserver(r.modelUsed))

	composer, err := state.New(r.reg, r.stateCacheSize, state.WithLogger(r.log), state.WithMetrics(r.metrics))
	if err != nil {
		return nil, errors.New(errors.CodeConfiguration, "create state composer", err)
	}
	r.composer = composer

	results, err := executor.NewResultStore(r.resultStoreSize)
	if err != nil {
		return nil, errors.New(errors.CodeConfiguration, "create result store", err)
	}
	r.exec = executor.New(r.reg,
		executor.WithLogger(r.log),
		executor.WithEvents(r.bus),
		executor.WithMetrics(r.metrics),
		executor.WithResultStore(results))

	r.health = core.NewHealthRegistry(r.healthTTL)
	if r.store != nil {
		r.health.Register("storage", core.HealthCheckFunc(r.storageHealth))
	}
	r.superviseCtx, r.superviseCancel = context.WithCancel(context.Background())

	r.reg.RegisterPlugin(r.bootstrap())
	return r, nil
}

// AgentID returns the agent id.
func (r *Runtime) AgentID() string { return r.agentID }

// Character returns the agent character.
func (r *Runtime) Character() *core.Character { return r.character }

// Registry returns the component registry.
func (r *Runtime) Registry() *registry.Registry { return r.reg }

// Logger returns the runtime logger.
func (r *Runtime) Logger() *slog.Logger { return r.log }

// RegisterPlugin awaits the plugin Init and then registers its components.
// Services of a plugin registered after Start are started immediately.
func (r *Runtime) RegisterPlugin(ctx context.Context, plugin *core.Plugin) error {
	if plugin == nil || plugin.Name == "" {
		return errors.New(errors.CodeInvalidInput, "plugin with a name is required", nil)
	}

	r.mu.Lock()
	if _, dup := r.plugins[plugin.Name]; dup {
		r.mu.Unlock()
		return errors.Newf(errors.CodeConfiguration, "plugin %s already registered", plugin.Name)
	}
	for _, dep := range plugin.Dependencies {
		if _, ok := r.plugins[dep]; !ok {
			r.mu.Unlock()
			return errors.Newf(errors.CodeConfiguration, "plugin %s depends on unregistered plugin %s", plugin.Name, dep)
		}
	}
	r.mu.Unlock()

	if plugin.Init != nil {
		if err := plugin.Init(ctx, r.pluginConfig(plugin), r); err != nil {
			return errors.New(errors.CodeConfiguration, "plugin init failed", err).
				WithContext("plugin", plugin.Name)
		}
	}

	r.mu.Lock()
	r.plugins[plugin.Name] = plugin
	r.order = append(r.order, plugin.Name)
	started := r.started
	r.mu.Unlock()

	r.reg.RegisterPlugin(plugin)
	r.log.Info("runtime.plugin.registered",
		slog.String("plugin", plugin.Name),
		slog.Int("actions", len(plugin.Actions)),
		slog.Int("providers", len(plugin.Providers)),
		slog.Int("evaluators", len(plugin.Evaluators)),
		slog.Int("services", len(plugin.Services)),
		slog.Int("models", len(plugin.Models)+len(plugin.Streams)))

	if started {
		for _, svc := range plugin.Services {
			if err := r.startService(ctx, svc); err != nil {
				return err
			}
		}
	}
	r.EmitEvent(ctx, core.NewEvent(core.EventPluginLoaded, map[string]any{"plugin": plugin.Name}))
	return nil
}

// pluginConfig resolves each declared config key from settings, falling back
// to the plugin default.
func (r *Runtime) pluginConfig(plugin *core.Plugin) map[string]string {
	config := make(map[string]string, len(plugin.Config))
	for key, def := range plugin.Config {
		if v, ok := r.settings.GetString(key); ok {
			config[key] = v
			continue
		}
		config[key] = def
	}
	return config
}

// Plugins returns the names of registered plugins in registration order.
func (r *Runtime) Plugins() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// RegisterBridge spawns a bridge worker and registers its proxy plugin.
// The worker is closed by Stop.
func (r *Runtime) RegisterBridge(ctx context.Context, cfg bridge.Config) (*bridge.Host, error) {
	if cfg.Logger == nil {
		cfg.Logger = r.log
	}
	if cfg.Metrics == nil {
		cfg.Metrics = r.metrics
	}
	onCrash := cfg.OnCrash
	cfg.OnCrash = func(plugin string, err error) {
		r.EmitEvent(context.Background(), core.NewEvent(core.EventBridgeCrashed, map[string]any{
			"plugin": plugin,
			"error":  err.Error(),
		}))
		if onCrash != nil {
			onCrash(plugin, err)
		}
	}

	host, err := bridge.Start(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := r.RegisterPlugin(ctx, host.Plugin()); err != nil {
		_ = host.Close()
		return nil, err
	}

	r.mu.Lock()
	r.bridges = append(r.bridges, host)
	r.mu.Unlock()
	r.health.Register("bridge:"+host.Name(), host)
	if r.respawn != nil {
		go host.Supervise(r.superviseCtx, *r.respawn)
	}
	return host, nil
}

// Start starts every registered service. All start errors are returned joined.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = true
	r.mu.Unlock()

	var errs []error
	for _, svc := range r.reg.AllServices() {
		if err := r.startService(ctx, svc); err != nil {
			errs = append(errs, err)
		}
	}
	r.log.Info("runtime.started", slog.Int("services", len(r.reg.AllServices())))
	return stderrors.Join(errs...)
}

func (r *Runtime) startService(ctx context.Context, svc core.Service) error {
	name := "service:" + svc.Type()
	if err := svc.Start(ctx); err != nil {
		r.log.Error("runtime.service.start_failed",
			slog.String("service", svc.Type()),
			slog.String("error", err.Error()))
		r.health.Register(name, core.StaticHealth(core.HealthUnhealthy, err.Error()))
		return errors.New(errors.CodeExecution, "service start failed", err).
			WithContext("service", svc.Type())
	}
	if checker, ok := svc.(core.HealthChecker); ok {
		r.health.Register(name, checker)
	} else {
		r.health.Register(name, core.StaticHealth(core.HealthHealthy, "started"))
	}
	r.mu.Lock()
	r.running = append(r.running, svc)
	r.mu.Unlock()
	return nil
}

// Stop stops started services in reverse start order and closes bridge
// workers. All stop errors are returned joined.
func (r *Runtime) Stop(ctx context.Context) error {
	var errs []error
	r.stopOnce.Do(func() {
		r.superviseCancel()

		r.mu.Lock()
		services := r.running
		r.running = nil
		r.mu.Unlock()
		for i := len(services) - 1; i >= 0; i-- {
			svc := services[i]
			if err := svc.Stop(ctx); err != nil {
				r.log.Error("runtime.service.stop_failed",
					slog.String("service", svc.Type()),
					slog.String("error", err.Error()))
				errs = append(errs, fmt.Errorf("stop service %s: %w", svc.Type(), err))
			}
			r.health.Unregister("service:" + svc.Type())
		}

		r.mu.Lock()
		bridges := r.bridges
		r.bridges = nil
		r.started = false
		r.mu.Unlock()
		for _, host := range bridges {
			if err := host.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close bridge %s: %w", host.Name(), err))
			}
		}
		r.log.Info("runtime.stopped")
	})
	return stderrors.Join(errs...)
}

// GetSetting resolves key from runtime overrides, secrets and the character.
func (r *Runtime) GetSetting(key string) (any, bool) {
	return r.settings.Get(key)
}

// SetSetting overrides key for this runtime. Secret values are only visible
// through GetSetting.
func (r *Runtime) SetSetting(key string, value any, secret bool) {
	r.settings.Set(key, value, secret)
}

// UseModel invokes the best handler for modelType.
func (r *Runtime) UseModel(ctx context.Context, modelType core.ModelType, params core.ModelParams) (any, error) {
	return r.models.Use(ctx, modelType, params)
}

// UseModelWith invokes the handler registered by provider for modelType.
func (r *Runtime) UseModelWith(ctx context.Context, modelType core.ModelType, provider string, params core.ModelParams) (any, error) {
	return r.models.Use(ctx, modelType, params, model.WithProvider(provider))
}

// UseModelStream invokes the best streaming handler for modelType.
func (r *Runtime) UseModelStream(ctx context.Context, modelType core.ModelType, params core.ModelParams) (<-chan core.StreamChunk, error) {
	return r.models.UseStream(ctx, modelType, params)
}

func (r *Runtime) modelUsed(ctx context.Context, call model.Call) {
	payload := map[string]any{
		"modelType":  string(call.ModelType),
		"provider":   call.Provider,
		"stream":     call.Stream,
		"durationMs": call.Duration.Milliseconds(),
	}
	if call.Err != nil {
		payload["error"] = call.Err.Error()
	}
	r.EmitEvent(ctx, core.NewEvent(core.EventModelUsed, payload))
}

// ComposeState composes the State for msg using the room cache.
func (r *Runtime) ComposeState(ctx context.Context, msg *core.Memory, opts ...state.ComposeOption) (*core.State, error) {
	return r.composer.Compose(ctx, msg, opts...)
}

// EmitEvent dispatches event to the handlers of names, or of event.Type.
func (r *Runtime) EmitEvent(ctx context.Context, event core.Event, names ...core.EventType) {
	r.bus.Emit(ctx, event, names...)
}

// Emit implements core.AgentRuntime.
func (r *Runtime) Emit(ctx context.Context, event core.Event, names ...core.EventType) {
	r.EmitEvent(ctx, event, names...)
}

// StartRun binds a new run for roomID to the scope in ctx.
func (r *Runtime) StartRun(ctx context.Context, roomID string) string {
	return r.runs.Start(ctx, roomID)
}

// EndRun unbinds the current run.
func (r *Runtime) EndRun(ctx context.Context) {
	r.runs.End(ctx)
}

// CurrentRunID returns the bound run id, creating one if needed.
func (r *Runtime) CurrentRunID(ctx context.Context) string {
	return r.runs.Current(ctx)
}

// ActionResults returns the action results recorded for messageID.
func (r *Runtime) ActionResults(messageID string) []core.ActionResult {
	return r.exec.Results(messageID)
}

// Health checks every registered component and returns the worst status.
func (r *Runtime) Health(ctx context.Context) ([]core.HealthResult, core.HealthStatus) {
	return r.health.CheckAll(ctx)
}

func (r *Runtime) storageHealth(ctx context.Context) core.HealthResult {
	if err := r.store.Ping(ctx); err != nil {
		return core.HealthResult{Status: core.HealthUnhealthy, Message: err.Error(), Error: err}
	}
	return core.HealthResult{Status: core.HealthHealthy}
}

var _ core.AgentRuntime = (*Runtime)(nil)
