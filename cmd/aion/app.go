// Copyright 2026 © The Aion Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"

	"github.com/jllopis/aion/pkg/bridge"
	"github.com/jllopis/aion/pkg/character"
	"github.com/jllopis/aion/pkg/config"
	"github.com/jllopis/aion/pkg/core"
	"github.com/jllopis/aion/pkg/llm"
	"github.com/jllopis/aion/pkg/mcp"
	"github.com/jllopis/aion/pkg/resilience"
	"github.com/jllopis/aion/pkg/runtime"
	"github.com/jllopis/aion/pkg/storage"
	"github.com/jllopis/aion/pkg/telemetry"
)

const mockReply = "<response><thought>mock backend</thought><actions>REPLY</actions><text>I am running on the mock model.</text></response>"

// loadConfig resolves the configuration from the global flags.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	var args []string
	if flags.configPath != "" {
		args = append(args, "--config", flags.configPath)
	}
	if flags.profile != "" {
		args = append(args, "--profile", flags.profile)
	}
	for _, s := range flags.sets {
		args = append(args, "--set", s)
	}
	return config.LoadWithCLI(args)
}

// app is a fully wired runtime host.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	runtime  *runtime.Runtime
	store    storage.Store
	shutdown telemetry.ShutdownFunc
}

// newApp builds the runtime described by cfg. Log output goes to logOut.
func newApp(ctx context.Context, cfg *config.Config, logOut io.Writer) (*app, error) {
	log := telemetry.ConfigureSlog(logOut, cfg.Log.Level, cfg.Log.Format)

	shutdown, err := telemetry.InitWithConfig(cfg.Telemetry.ServiceName, version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	a := &app{cfg: cfg, log: log, shutdown: shutdown}

	metrics, err := telemetry.NewRuntimeMetrics(otel.GetMeterProvider())
	if err != nil {
		log.Warn("metrics.init.failed", "error", err)
	}

	char, err := loadCharacter(cfg.Character)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	a.store, err = storage.Open(ctx, cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("open storage: %w", err)
	}

	rc := resilience.DefaultRetryConfig().WithMaxAttempts(cfg.Bridge.RespawnAttempts)
	a.runtime, err = runtime.New(char,
		runtime.WithLogger(log),
		runtime.WithMetrics(metrics),
		runtime.WithStorage(a.store),
		runtime.WithStateCacheSize(cfg.State.CacheSize),
		runtime.WithResultStoreSize(cfg.Executor.ResultStoreSize),
		runtime.WithBridgeRespawn(rc),
	)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	model, err := modelPlugin(cfg.LLM)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	if err := a.runtime.RegisterPlugin(ctx, model); err != nil {
		a.close(ctx)
		return nil, err
	}

	for _, pc := range cfg.Plugins {
		if _, err := a.runtime.RegisterBridge(ctx, bridgeConfig(pc, cfg.Bridge)); err != nil {
			a.close(ctx)
			return nil, fmt.Errorf("start plugin %s: %w", pc.Name, err)
		}
	}
	for _, sc := range cfg.MCP {
		p, err := mcpPlugin(ctx, sc)
		if err != nil {
			a.close(ctx)
			return nil, fmt.Errorf("start mcp server %s: %w", sc.Name, err)
		}
		if err := a.runtime.RegisterPlugin(ctx, p); err != nil {
			a.close(ctx)
			return nil, err
		}
	}

	if err := a.runtime.Start(ctx); err != nil {
		a.close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *app) close(ctx context.Context) {
	var errs []error
	if a.runtime != nil {
		errs = append(errs, a.runtime.Stop(ctx))
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.shutdown != nil {
		errs = append(errs, a.shutdown(ctx))
	}
	if err := stderrors.Join(errs...); err != nil {
		a.log.Warn("app.close.failed", "error", err)
	}
}

func loadCharacter(cfg config.CharacterConfig) (*core.Character, error) {
	if cfg.Path == "" {
		return &core.Character{
			Name:   "Aion",
			System: "You are Aion, a concise and helpful assistant.",
			Bio:    []string{"A general purpose agent."},
		}, nil
	}
	return character.Load(cfg.Path, cfg.SecretSalt)
}

// modelPlugin binds the configured backend to TEXT_SMALL, TEXT_LARGE and
// TEXT_EMBEDDING.
func modelPlugin(cfg config.LLMConfig) (*core.Plugin, error) {
	var p llm.Provider
	switch strings.ToLower(cfg.Provider) {
	case "ollama", "":
		p = llm.NewOllama(cfg.BaseURL)
	case "mock":
		p = &llm.MockEmbedder{MockProvider: llm.MockProvider{Response: mockReply}}
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
	name := strings.ToLower(cfg.Provider)
	if name == "" {
		name = "ollama"
	}
	models, streams, err := llm.Bind(name, p, 0,
		llm.Binding{ModelType: core.ModelTextSmall, Model: cfg.SmallModel},
		llm.Binding{ModelType: core.ModelTextLarge, Model: cfg.LargeModel},
		llm.Binding{ModelType: core.ModelTextEmbedding, Model: cfg.EmbeddingModel},
	)
	if err != nil {
		return nil, err
	}
	return &core.Plugin{
		Name:        "llm-" + name,
		Description: "model backend " + name,
		Models:      models,
		Streams:     streams,
	}, nil
}

func bridgeConfig(pc config.PluginConfig, bc config.BridgeConfig) bridge.Config {
	return bridge.Config{
		Name:           pc.Name,
		Command:        pc.Command,
		Args:           pc.Args,
		Env:            envMap(pc.Env),
		Dir:            pc.Dir,
		Config:         pc.Config,
		ReadyTimeout:   bc.ReadyTimeout,
		RequestTimeout: bc.RequestTimeout,
	}
}

// envMap turns KEY=VALUE entries into a map. Entries without '=' map to "".
func envMap(env []string) map[string]string {
	if len(env) == 0 {
		return nil
	}
	out := make(map[string]string, len(env))
	for _, kv := range env {
		k, v, _ := strings.Cut(kv, "=")
		if k = strings.TrimSpace(k); k != "" {
			out[k] = v
		}
	}
	return out
}

func mcpPlugin(ctx context.Context, sc config.MCPServerConfig) (*core.Plugin, error) {
	var (
		c   *mcp.Client
		err error
	)
	switch {
	case sc.URL != "":
		c, err = mcp.NewClientWithStreamableHTTP(ctx, sc.URL)
	case sc.Command != "":
		c, err = mcp.NewClientWithStdio(ctx, sc.Command, nil, sc.Args)
	default:
		return nil, fmt.Errorf("mcp server %s needs a command or url", sc.Name)
	}
	if err != nil {
		return nil, err
	}
	p, err := mcp.Plugin(ctx, sc.Name, c)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	return p, nil
}
