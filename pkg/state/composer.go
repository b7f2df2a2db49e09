// Copyright 2026 © The Aion Authors
// SPDX-License-Identifier: Apache-2.0

// Package state composes the per-message State from registered providers.
package state

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/aion/pkg/core"
	"github.com/jllopis/aion/pkg/registry"
	"github.com/jllopis/aion/pkg/telemetry"
)

// DefaultCacheSize bounds the number of rooms kept in the state cache.
const DefaultCacheSize = 1024

// TextSeparator joins the text fragments of consecutive providers.
const TextSeparator = "\n\n"

// Composer builds States from the providers of a registry and caches them by room.
type Composer struct {
	reg     *registry.Registry
	cache   *lru.Cache[string, *core.State]
	log     *slog.Logger
	metrics *telemetry.RuntimeMetrics
	tracer  trace.Tracer
}

// Option configures a Composer.
type Option func(*Composer)

// WithLogger sets the logger used for provider failures.
func WithLogger(log *slog.Logger) Option {
	return func(c *Composer) {
		if log != nil {
			c.log = log
		}
	}
}

// WithMetrics records provider failures on m.
func WithMetrics(m *telemetry.RuntimeMetrics) Option {
	return func(c *Composer) { c.metrics = m }
}

// New creates a Composer. A cacheSize <= 0 uses DefaultCacheSize.
func New(reg *registry.Registry, cacheSize int, opts ...Option) (*Composer, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, *core.State](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("state cache: %w", err)
	}
	c := &Composer{
		reg:    reg,
		cache:  cache,
		log:    slog.Default(),
		tracer: otel.Tracer("aion/state"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ComposeOptions controls a single composition.
type ComposeOptions struct {
	Include     []string
	OnlyInclude bool
	SkipCache   bool
}

// ComposeOption sets a ComposeOptions field.
type ComposeOption func(*ComposeOptions)

// WithInclude names providers to add to the default set.
func WithInclude(names ...string) ComposeOption {
	return func(o *ComposeOptions) { o.Include = append(o.Include, names...) }
}

// OnlyInclude restricts the set to the included providers.
func OnlyInclude() ComposeOption {
	return func(o *ComposeOptions) { o.OnlyInclude = true }
}

// SkipCache forces providers to run. The fresh State still refreshes the cache.
func SkipCache() ComposeOption {
	return func(o *ComposeOptions) { o.SkipCache = true }
}

// Compose returns the State for msg, serving it from the room cache when allowed.
// Provider failures are logged and contribute an empty fragment.
func (c *Composer) Compose(ctx context.Context, msg *core.Memory, opts ...ComposeOption) (*core.State, error) {
	if msg == nil {
		return nil, fmt.Errorf("compose state: nil message")
	}
	var o ComposeOptions
	for _, opt := range opts {
		opt(&o)
	}

	ctx, span := c.tracer.Start(ctx, "State.Compose",
		trace.WithAttributes(attribute.String(telemetry.AttrRoomID, msg.RoomID)))
	defer span.End()

	if !o.SkipCache {
		if cached, ok := c.cache.Get(msg.RoomID); ok {
			span.SetAttributes(attribute.Bool(telemetry.AttrStateCached, true))
			return cached.Clone(), nil
		}
	}

	providers := c.selectProviders(o)
	span.SetAttributes(attribute.Int(telemetry.AttrProviderCount, len(providers)))

	results := make([]core.ProviderResult, len(providers))
	var wg sync.WaitGroup
	for i, p := range providers {
		wg.Add(1)
		go func(i int, p core.Provider) {
			defer wg.Done()
			res, err := c.get(ctx, p, msg)
			if err != nil {
				c.log.WarnContext(ctx, "state.provider.error",
					slog.String("provider", p.Name()),
					slog.String("room_id", msg.RoomID),
					slog.String("error", err.Error()),
				)
				c.metrics.RecordProviderFailure(ctx, p.Name())
				span.AddEvent("provider.error", trace.WithAttributes(attribute.String(telemetry.AttrProviderName, p.Name())))
				return
			}
			results[i] = res
		}(i, p)
	}
	wg.Wait()

	state := merge(providers, results)
	c.cache.Add(msg.RoomID, state)
	span.SetStatus(codes.Ok, "")
	return state.Clone(), nil
}

// Invalidate drops the cached State of roomID.
func (c *Composer) Invalidate(roomID string) {
	c.cache.Remove(roomID)
}

// Clear drops every cached State.
func (c *Composer) Clear() {
	c.cache.Purge()
}

// Cached returns a copy of the cached State for roomID.
func (c *Composer) Cached(roomID string) (*core.State, bool) {
	s, ok := c.cache.Peek(roomID)
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

func (c *Composer) selectProviders(o ComposeOptions) []core.Provider {
	all := c.reg.Providers()
	included := make(map[string]bool, len(o.Include))
	for _, name := range o.Include {
		included[name] = true
	}

	selected := make([]core.Provider, 0, len(all))
	for _, p := range all {
		switch {
		case included[p.Name()]:
			selected = append(selected, p)
		case o.OnlyInclude && len(o.Include) > 0:
		case !p.Private() && !p.Dynamic():
			selected = append(selected, p)
		}
	}
	// stable: ties keep registration order
	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].Position() < selected[j].Position()
	})
	return selected
}

func (c *Composer) get(ctx context.Context, p core.Provider, msg *core.Memory) (res core.ProviderResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("provider panic: %v", rec)
		}
	}()
	return p.Get(ctx, msg, core.NewState())
}

func merge(providers []core.Provider, results []core.ProviderResult) *core.State {
	state := core.NewState()
	byName := make(map[string]core.ProviderResult, len(providers))
	texts := make([]string, 0, len(results))
	for i, res := range results {
		if text := strings.TrimSpace(res.Text); text != "" {
			texts = append(texts, text)
		}
		for k, v := range res.Values {
			state.Values[k] = v
		}
		for k, v := range res.Data {
			state.Data[k] = v
		}
		byName[providers[i].Name()] = res
	}
	state.Text = strings.Join(texts, TextSeparator)
	state.Data[core.StateProvidersKey] = byName
	return state
}
