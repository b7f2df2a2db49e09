// Copyright 2026 © The Aion Authors
// SPDX-License-Identifier: Apache-2.0

// Package events dispatches runtime events to registered handlers.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jllopis/aion/pkg/core"
	"github.com/jllopis/aion/pkg/registry"
)

// Bus fans events out to the handlers stored in a registry.
type Bus struct {
	reg     *registry.Registry
	log     *slog.Logger
	agentID string
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger for handler failures.
func WithLogger(log *slog.Logger) Option {
	return func(b *Bus) {
		if log != nil {
			b.log = log
		}
	}
}

// WithAgentID stamps emitted events that carry no agent id.
func WithAgentID(id string) Option {
	return func(b *Bus) { b.agentID = id }
}

// New creates a Bus backed by reg.
func New(reg *registry.Registry, opts ...Option) *Bus {
	b := &Bus{reg: reg, log: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register appends handler to the named event.
func (b *Bus) Register(name core.EventType, handler core.EventHandler) {
	b.reg.RegisterEvent(name, handler)
}

// Unregister drops every handler of the named event.
func (b *Bus) Unregister(name core.EventType) {
	b.reg.UnregisterEvent(name)
}

// Handlers returns how many handlers are registered for name.
func (b *Bus) Handlers(name core.EventType) int {
	return len(b.reg.EventHandlers(name))
}

// Emit dispatches event to every handler of every name concurrently and
// waits for all of them. With no names, event.Type is used. Handler errors
// and panics are logged and never returned.
func (b *Bus) Emit(ctx context.Context, event core.Event, names ...core.EventType) {
	if len(names) == 0 {
		names = []core.EventType{event.Type}
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.AgentID == "" {
		event.AgentID = b.agentID
	}
	if event.RunID == "" {
		if id, ok := core.RunID(ctx); ok {
			event.RunID = id
		}
	}

	var wg sync.WaitGroup
	for _, name := range names {
		handlers := b.reg.EventHandlers(name)
		if len(handlers) == 0 {
			continue
		}
		ev := event
		ev.Type = name
		for i, handler := range handlers {
			wg.Add(1)
			go func(i int, handler core.EventHandler) {
				defer wg.Done()
				if err := b.invoke(ctx, ev, handler); err != nil {
					b.log.Warn("events.handler.error",
						slog.String("event", string(ev.Type)),
						slog.Int("handler", i),
						slog.String("run_id", ev.RunID),
						slog.String("error", err.Error()),
					)
				}
			}(i, handler)
		}
	}
	wg.Wait()
}

func (b *Bus) invoke(ctx context.Context, event core.Event, handler core.EventHandler) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return handler(ctx, event)
}
