// Copyright 2026 © The Aion Authors
// SPDX-License-Identifier: Apache-2.0

// Package run tracks the correlation id of one logical interaction.
//
// A Scope is carried in the context for one call tree. The tracker binds run
// ids to the scope found in the context, or to its own fallback scope when the
// caller did not attach one.
package run

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jllopis/aion/pkg/core"
)

// Run is a bound run id and the room it belongs to.
type Run struct {
	ID     string
	RoomID string
}

// Scope holds the run bound to one logical call tree.
type Scope struct {
	mu  sync.Mutex
	run *Run
}

type scopeKey struct{}

// WithScope attaches a fresh scope to ctx.
func WithScope(ctx context.Context) (context.Context, *Scope) {
	scope := &Scope{}
	return context.WithValue(ctx, scopeKey{}, scope), scope
}

// ScopeFrom returns the scope attached to ctx, if any.
func ScopeFrom(ctx context.Context) (*Scope, bool) {
	scope, ok := ctx.Value(scopeKey{}).(*Scope)
	return scope, ok && scope != nil
}

// NewID returns a fresh run id without binding it.
func NewID() string {
	return core.NewRunID()
}

// Tracker creates, binds and ends runs.
type Tracker struct {
	fallback Scope
	log      *slog.Logger
}

// NewTracker creates a Tracker. A nil logger uses slog.Default().
func NewTracker(log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{log: log}
}

func (t *Tracker) scope(ctx context.Context) *Scope {
	if scope, ok := ScopeFrom(ctx); ok {
		return scope
	}
	return &t.fallback
}

// Start creates a run for roomID, binds it and returns its id.
func (t *Tracker) Start(ctx context.Context, roomID string) string {
	scope := t.scope(ctx)
	r := &Run{ID: NewID(), RoomID: roomID}
	scope.mu.Lock()
	scope.run = r
	scope.mu.Unlock()
	t.log.Debug("run.start", slog.String("run_id", r.ID), slog.String("room_id", roomID))
	return r.ID
}

// End unbinds the current run and returns it, if one was bound.
func (t *Tracker) End(ctx context.Context) (Run, bool) {
	scope := t.scope(ctx)
	scope.mu.Lock()
	r := scope.run
	scope.run = nil
	scope.mu.Unlock()
	if r == nil {
		return Run{}, false
	}
	t.log.Debug("run.end", slog.String("run_id", r.ID), slog.String("room_id", r.RoomID))
	return *r, true
}

// Current returns the bound run id, creating and binding one when none is bound.
func (t *Tracker) Current(ctx context.Context) string {
	scope := t.scope(ctx)
	scope.mu.Lock()
	defer scope.mu.Unlock()
	if scope.run == nil {
		roomID, _ := core.RoomID(ctx)
		scope.run = &Run{ID: NewID(), RoomID: roomID}
	}
	return scope.run.ID
}

// Get returns the bound run without creating one.
func (t *Tracker) Get(ctx context.Context) (Run, bool) {
	scope := t.scope(ctx)
	scope.mu.Lock()
	defer scope.mu.Unlock()
	if scope.run == nil {
		return Run{}, false
	}
	return *scope.run, true
}
