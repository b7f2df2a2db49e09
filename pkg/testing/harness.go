// Copyright 2026 © The Aion Authors
// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jllopis/aion/pkg/core"
	"github.com/jllopis/aion/pkg/runtime"
)

// ScriptProvider is the provider name the harness registers its model under.
const ScriptProvider = "scenario"

// Harness is a runtime wired for tests: a scripted model bound to the text
// model types and an event collector subscribed to every runtime event.
type Harness struct {
	t       testing.TB
	Runtime *runtime.Runtime
	Model   *ModelScript
	Events  *EventCollector
	RoomID  string
	Entity  string
}

// NewHarness builds a runtime for character (a default one when nil) and
// stops it when the test ends.
func NewHarness(t testing.TB, character *core.Character, opts ...runtime.Option) *Harness {
	t.Helper()
	if character == nil {
		character = &core.Character{Name: "Tester", System: "You are a test agent."}
	}
	rt, err := runtime.New(character, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Stop(context.Background()) })

	h := &Harness{
		t:       t,
		Runtime: rt,
		Model:   NewModelScript(),
		Events:  NewEventCollector(),
		RoomID:  "room-test",
		Entity:  "user-test",
	}
	h.Use(&core.Plugin{
		Name:   "scenario",
		Models: h.Model.Registrations(ScriptProvider, 0, core.ModelTextSmall, core.ModelTextLarge),
		Events: h.Events.Handlers(),
	})
	return h
}

// Use registers plugins and fails the test on error.
func (h *Harness) Use(plugins ...*core.Plugin) *Harness {
	h.t.Helper()
	for _, p := range plugins {
		require.NoError(h.t, h.Runtime.RegisterPlugin(context.Background(), p))
	}
	return h
}

// Message builds an inbound memory from the harness user in the harness room.
func (h *Harness) Message(text string) *core.Memory {
	return core.NewMemory(h.Entity, h.RoomID, core.Content{Text: text, Source: "test"})
}

// Send runs text through the message pipeline.
func (h *Harness) Send(ctx context.Context, text string, opts ...runtime.HandleOption) (*runtime.HandleResult, error) {
	return h.Runtime.HandleMessage(ctx, h.Message(text), opts...)
}

// EventTypes lists every event the runtime emits.
var EventTypes = []core.EventType{
	core.EventMessageReceived,
	core.EventMessageSent,
	core.EventRunStarted,
	core.EventRunEnded,
	core.EventRunTimeout,
	core.EventActionStarted,
	core.EventActionCompleted,
	core.EventEvaluatorStarted,
	core.EventEvaluatorCompleted,
	core.EventModelUsed,
	core.EventPluginLoaded,
	core.EventBridgeCrashed,
}

// EventCollector records bus events.
type EventCollector struct {
	mu     sync.RWMutex
	events []core.Event
}

// NewEventCollector creates an empty collector.
func NewEventCollector() *EventCollector {
	return &EventCollector{}
}

// Handlers subscribes the collector to every runtime event type.
func (c *EventCollector) Handlers() map[core.EventType][]core.EventHandler {
	handlers := make(map[core.EventType][]core.EventHandler, len(EventTypes))
	for _, t := range EventTypes {
		handlers[t] = []core.EventHandler{c.Handle}
	}
	return handlers
}

// Handle implements core.EventHandler.
func (c *EventCollector) Handle(_ context.Context, event core.Event) error {
	c.Collect(event)
	return nil
}

// Collect adds an event.
func (c *EventCollector) Collect(event core.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

// Events returns a copy of the collected events.
func (c *EventCollector) Events() []core.Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]core.Event(nil), c.events...)
}

// EventTypes returns the types of the collected events in order.
func (c *EventCollector) EventTypes() []core.EventType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	types := make([]core.EventType, len(c.events))
	for i, ev := range c.events {
		types[i] = ev.Type
	}
	return types
}

// Find returns the first event of type t.
func (c *EventCollector) Find(t core.EventType) (core.Event, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, ev := range c.events {
		if ev.Type == t {
			return ev, true
		}
	}
	return core.Event{}, false
}

// HasEvent reports whether an event of type t was collected.
func (c *EventCollector) HasEvent(t core.EventType) bool {
	_, ok := c.Find(t)
	return ok
}

// Count returns the number of collected events.
func (c *EventCollector) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.events)
}

// Reset clears the collected events.
func (c *EventCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = c.events[:0]
}
