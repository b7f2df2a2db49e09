package events

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/aion/pkg/core"
	"github.com/jllopis/aion/pkg/registry"
)

func TestEmitRunsAllHandlersEvenWhenOneFails(t *testing.T) {
	var buf bytes.Buffer
	bus := New(registry.New(), WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))

	var ran atomic.Int32
	bus.Register("E", func(context.Context, core.Event) error {
		ran.Add(1)
		return errors.New("boom")
	})
	bus.Register("E", func(context.Context, core.Event) error {
		time.Sleep(10 * time.Millisecond)
		ran.Add(1)
		return nil
	})

	bus.Emit(context.Background(), core.NewEvent("E", nil))
	assert.Equal(t, int32(2), ran.Load())
	assert.Contains(t, buf.String(), "events.handler.error")
	assert.Contains(t, buf.String(), "boom")
}

func TestEmitRecoversPanics(t *testing.T) {
	bus := New(registry.New(), WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))))
	var ran atomic.Bool
	bus.Register(core.EventRunEnded, func(context.Context, core.Event) error { panic("bad handler") })
	bus.Register(core.EventRunEnded, func(context.Context, core.Event) error {
		ran.Store(true)
		return nil
	})

	assert.NotPanics(t, func() {
		bus.Emit(context.Background(), core.NewEvent(core.EventRunEnded, nil))
	})
	assert.True(t, ran.Load())
}

func TestEmitMultipleNames(t *testing.T) {
	bus := New(registry.New(), WithAgentID("agent-1"))
	seen := make(chan core.Event, 4)
	record := func(_ context.Context, e core.Event) error {
		seen <- e
		return nil
	}
	bus.Register(core.EventActionStarted, record)
	bus.Register(core.EventActionCompleted, record)

	ctx := core.WithRunID(context.Background(), "run-1")
	bus.Emit(ctx, core.Event{Payload: map[string]any{"action": "REPLY"}}, core.EventActionStarted, core.EventActionCompleted)
	close(seen)

	types := map[core.EventType]bool{}
	for e := range seen {
		types[e.Type] = true
		assert.Equal(t, "agent-1", e.AgentID)
		assert.Equal(t, "run-1", e.RunID)
		assert.Equal(t, "REPLY", e.Payload["action"])
		assert.False(t, e.Timestamp.IsZero())
	}
	assert.True(t, types[core.EventActionStarted])
	assert.True(t, types[core.EventActionCompleted])
}

func TestUnregister(t *testing.T) {
	bus := New(registry.New())
	bus.Register("E", func(context.Context, core.Event) error { return nil })
	require.Equal(t, 1, bus.Handlers("E"))
	bus.Unregister("E")
	assert.Equal(t, 0, bus.Handlers("E"))
	bus.Emit(context.Background(), core.NewEvent("E", nil))
}
