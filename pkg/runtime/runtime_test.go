// Copyright 2026 © The Aion Authors
// SPDX-License-Identifier: Apache-2.0

package runtime_test

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/aion/pkg/core"
	"github.com/jllopis/aion/pkg/errors"
	"github.com/jllopis/aion/pkg/llm"
	"github.com/jllopis/aion/pkg/runtime"
	"github.com/jllopis/aion/pkg/storage"
)

type recorder struct {
	mu     sync.Mutex
	events []core.Event
}

func (r *recorder) handler(_ context.Context, ev core.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) types() []core.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func (r *recorder) find(t core.EventType) (core.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Type == t {
			return ev, true
		}
	}
	return core.Event{}, false
}

func (r *recorder) plugin() *core.Plugin {
	events := make(map[core.EventType][]core.EventHandler)
	for _, t := range []core.EventType{
		core.EventRunStarted, core.EventRunEnded, core.EventRunTimeout,
		core.EventMessageReceived, core.EventMessageSent,
		core.EventActionStarted, core.EventActionCompleted,
		core.EventModelUsed, core.EventPluginLoaded,
	} {
		events[t] = []core.EventHandler{r.handler}
	}
	return &core.Plugin{Name: "recorder", Events: events}
}

func newRuntime(t *testing.T, opts ...runtime.Option) *runtime.Runtime {
	t.Helper()
	rt, err := runtime.New(&core.Character{
		Name:   "Eliza",
		System: "You are Eliza.",
		Bio:    []string{"A helpful assistant."},
		Settings: map[string]any{
			"GREETING": "hola",
		},
	}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Stop(context.Background()) })
	return rt
}

func scriptedModel(t *testing.T, rt *runtime.Runtime, responses ...string) *llm.ScriptedMockProvider {
	t.Helper()
	p := llm.NewScriptedMockProvider(responses...)
	models, _, err := llm.Bind("scripted", p, 0, llm.Binding{ModelType: core.ModelTextLarge, Model: "scripted"})
	require.NoError(t, err)
	require.NoError(t, rt.RegisterPlugin(context.Background(), &core.Plugin{Name: "scripted", Models: models}))
	return p
}

func message(text string) *core.Memory {
	return core.NewMemory("user-1", "room-1", core.Content{Text: text, Source: "test"})
}

func TestNewRequiresName(t *testing.T) {
	_, err := runtime.New(&core.Character{})
	require.Error(t, err)
	assert.Equal(t, errors.CodeConfiguration, errors.CodeOf(err))

	_, err = runtime.New(nil)
	require.Error(t, err)
}

func TestAgentIDIsStable(t *testing.T) {
	a := newRuntime(t)
	b := newRuntime(t)
	assert.NotEmpty(t, a.AgentID())
	assert.Equal(t, a.AgentID(), b.AgentID())

	c := newRuntime(t, runtime.WithAgentID("agent-7"))
	assert.Equal(t, "agent-7", c.AgentID())
}

func TestHandleMessageReply(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t)
	rec := &recorder{}
	require.NoError(t, rt.RegisterPlugin(ctx, rec.plugin()))
	scriptedModel(t, rt, `<response><thought>be kind</thought><actions>REPLY</actions><text>Hello there!</text></response>`)

	var delivered []core.Content
	result, err := rt.HandleMessage(ctx, message("hi"), runtime.WithCallback(func(_ context.Context, c core.Content) error {
		delivered = append(delivered, c)
		return nil
	}))
	require.NoError(t, err)

	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, "Hello there!", result.Response.Text)
	assert.Equal(t, "be kind", result.Response.Thought)
	require.Len(t, result.ActionResults, 1)
	assert.Equal(t, runtime.ActionReply, result.ActionResults[0].ActionName)
	assert.True(t, result.ActionResults[0].Success)
	require.Len(t, result.Messages, 1)
	assert.Equal(t, "Hello there!", result.Messages[0].Content.Text)
	require.Len(t, delivered, 1)
	assert.Equal(t, "Hello there!", delivered[0].Text)
	assert.Equal(t, result.ActionResults, rt.ActionResults(result.ResponseMemory.Content.InReplyTo))

	types := rec.types()
	assert.Contains(t, types, core.EventRunStarted)
	assert.Contains(t, types, core.EventMessageReceived)
	assert.Contains(t, types, core.EventMessageSent)
	assert.Contains(t, types, core.EventModelUsed)
	ended, ok := rec.find(core.EventRunEnded)
	require.True(t, ok)
	assert.Equal(t, result.RunID, ended.RunID)
	assert.Equal(t, "completed", ended.Payload["status"])
}

func TestHandleMessagePlainTextFallsBackToReply(t *testing.T) {
	rt := newRuntime(t)
	scriptedModel(t, rt, "Just a plain answer.")

	result, err := rt.HandleMessage(context.Background(), message("hi"))
	require.NoError(t, err)
	assert.True(t, result.Response.Simple)
	require.Len(t, result.Messages, 1)
	assert.Equal(t, "Just a plain answer.", result.Messages[0].Content.Text)
}

func TestHandleMessageRunsActionsInOrder(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t)

	var order []string
	var seen []core.ActionResult
	require.NoError(t, rt.RegisterPlugin(ctx, &core.Plugin{
		Name: "steps",
		Actions: []core.Action{
			&core.ActionSpec{
				ActionName: "FIRST",
				HandleFunc: func(context.Context, *core.Memory, *core.State, core.HandlerOptions, core.HandlerCallback) (*core.ActionResult, error) {
					order = append(order, "FIRST")
					return &core.ActionResult{Success: true, Values: map[string]any{"step": 1}}, nil
				},
			},
			&core.ActionSpec{
				ActionName: "SECOND",
				HandleFunc: func(_ context.Context, _ *core.Memory, _ *core.State, opts core.HandlerOptions, _ core.HandlerCallback) (*core.ActionResult, error) {
					order = append(order, "SECOND")
					seen = opts.PreviousResults
					return nil, stderrors.New("second failed")
				},
			},
			&core.ActionSpec{
				ActionName: "THIRD",
				HandleFunc: func(context.Context, *core.Memory, *core.State, core.HandlerOptions, core.HandlerCallback) (*core.ActionResult, error) {
					order = append(order, "THIRD")
					return nil, nil
				},
			},
		},
	}))
	scriptedModel(t, rt, `<response><actions>FIRST,SECOND,MISSING,THIRD</actions><text>ok</text></response>`)

	result, err := rt.HandleMessage(ctx, message("go"))
	require.NoError(t, err)

	assert.Equal(t, []string{"FIRST", "SECOND", "THIRD"}, order)
	require.Len(t, seen, 1)
	assert.Equal(t, "FIRST", seen[0].ActionName)

	require.Len(t, result.ActionResults, 4)
	assert.True(t, result.ActionResults[0].Success)
	assert.False(t, result.ActionResults[1].Success)
	assert.Equal(t, "second failed", result.ActionResults[1].Error)
	assert.Equal(t, "MISSING", result.ActionResults[2].ActionName)
	assert.False(t, result.ActionResults[2].Success)
	assert.True(t, result.ActionResults[3].Success)
}

func TestHandleMessageModelErrorReturnsPartialResult(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t)
	rec := &recorder{}
	require.NoError(t, rt.RegisterPlugin(ctx, rec.plugin()))
	p := scriptedModel(t, rt)
	p.Err = stderrors.New("upstream down")

	result, err := rt.HandleMessage(ctx, message("hi"))
	require.Error(t, err)
	require.NotNil(t, result)
	assert.NotEmpty(t, result.RunID)
	assert.NotNil(t, result.State)
	assert.Empty(t, result.ActionResults)

	ended, ok := rec.find(core.EventRunEnded)
	require.True(t, ok)
	assert.Equal(t, "error", ended.Payload["status"])
}

func TestHandleMessageWithoutModel(t *testing.T) {
	rt := newRuntime(t)
	_, err := rt.HandleMessage(context.Background(), message("hi"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrModelTypeNotRegistered)
}

func TestHandleMessageNilMessage(t *testing.T) {
	rt := newRuntime(t)
	_, err := rt.HandleMessage(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidInput, errors.CodeOf(err))
}

func TestHandleMessageWithTimeout(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t)
	rec := &recorder{}
	require.NoError(t, rt.RegisterPlugin(ctx, rec.plugin()))
	require.NoError(t, rt.RegisterPlugin(ctx, &core.Plugin{
		Name: "slow",
		Models: []core.ModelRegistration{{
			ModelType: core.ModelTextLarge,
			Provider:  "slow",
			Handler: func(ctx context.Context, _ core.ModelParams) (any, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
		}},
	}))

	_, err := rt.HandleMessageWithTimeout(ctx, message("hi"), 50*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, errors.CodeTimeout, errors.CodeOf(err))

	ev, ok := rec.find(core.EventRunTimeout)
	require.True(t, ok)
	assert.EqualValues(t, 50, ev.Payload["timeoutMs"])
}

func TestHandleMessageEvaluators(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t)

	var didRespond bool
	require.NoError(t, rt.RegisterPlugin(ctx, &core.Plugin{
		Name: "evals",
		Evaluators: []core.Evaluator{
			&core.EvaluatorSpec{
				EvaluatorName: "ALWAYS",
				Always:        true,
				HandleFunc: func(_ context.Context, _ *core.Memory, _ *core.State, opts core.HandlerOptions, _ core.HandlerCallback) (*core.ActionResult, error) {
					didRespond = opts.DidRespond
					return nil, nil
				},
			},
			&core.EvaluatorSpec{EvaluatorName: "NEVER"},
		},
	}))
	scriptedModel(t, rt, "hello")

	result, err := rt.HandleMessage(ctx, message("hi"))
	require.NoError(t, err)
	assert.Equal(t, []string{"ALWAYS"}, result.Evaluators)
	assert.True(t, didRespond)
}

func TestHandleMessageRequestedProviders(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t)
	calls := 0
	require.NoError(t, rt.RegisterPlugin(ctx, &core.Plugin{
		Name: "weather",
		Providers: []core.Provider{&core.ProviderSpec{
			ProviderName: "WEATHER",
			IsDynamic:    true,
			GetFunc: func(context.Context, *core.Memory, *core.State) (core.ProviderResult, error) {
				calls++
				return core.ProviderResult{Text: "sunny", Values: map[string]any{"sky": "clear"}}, nil
			},
		}},
	}))
	scriptedModel(t, rt, `<response><providers>WEATHER</providers><actions>NONE</actions></response>`)

	result, err := rt.HandleMessage(ctx, message("weather?"))
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "clear", result.State.Values["sky"])
	assert.Contains(t, result.State.Text, "sunny")
}

func TestHandleMessagePersistsToStorage(t *testing.T) {
	ctx := context.Background()
	store := storage.NewInMemory()
	rt := newRuntime(t, runtime.WithStorage(store))
	scriptedModel(t, rt, "first answer", "second answer")

	first, err := rt.HandleMessage(ctx, message("one"))
	require.NoError(t, err)

	memories, err := store.GetMemories(ctx, storage.Query{RoomID: "room-1"})
	require.NoError(t, err)
	require.Len(t, memories, 2)
	assert.Equal(t, "one", memories[0].Content.Text)
	assert.Equal(t, "first answer", memories[1].Content.Text)
	assert.Equal(t, rt.AgentID(), memories[1].EntityID)

	summary, ok, err := store.GetCache(ctx, "run:"+first.RunID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, string(summary), `"status":"completed"`)

	second, err := rt.HandleMessage(ctx, message("two"))
	require.NoError(t, err)
	recent := second.State.ProviderResults()[runtime.ProviderRecentMessages]
	assert.Contains(t, recent.Text, "first answer")
	assert.Contains(t, recent.Text, "Eliza: first answer")

	results, status := rt.Health(ctx)
	assert.Equal(t, core.HealthHealthy, status)
	assert.NotEmpty(t, results)
}

func TestRegisterPluginInitAndConfig(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t)

	var got map[string]string
	var agent string
	require.NoError(t, rt.RegisterPlugin(ctx, &core.Plugin{
		Name:   "configured",
		Config: map[string]string{"GREETING": "hello", "LANG": "en"},
		Init: func(_ context.Context, config map[string]string, r core.AgentRuntime) error {
			got = config
			agent = r.AgentID()
			return nil
		},
	}))
	assert.Equal(t, map[string]string{"GREETING": "hola", "LANG": "en"}, got)
	assert.Equal(t, rt.AgentID(), agent)
	assert.Contains(t, rt.Plugins(), "configured")
}

func TestRegisterPluginErrors(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t)

	err := rt.RegisterPlugin(ctx, &core.Plugin{Name: "child", Dependencies: []string{"parent"}})
	require.Error(t, err)
	assert.Equal(t, errors.CodeConfiguration, errors.CodeOf(err))

	require.NoError(t, rt.RegisterPlugin(ctx, &core.Plugin{Name: "parent"}))
	require.NoError(t, rt.RegisterPlugin(ctx, &core.Plugin{Name: "child", Dependencies: []string{"parent"}}))
	assert.Error(t, rt.RegisterPlugin(ctx, &core.Plugin{Name: "parent"}))

	err = rt.RegisterPlugin(ctx, &core.Plugin{
		Name: "broken",
		Init: func(context.Context, map[string]string, core.AgentRuntime) error {
			return stderrors.New("missing api key")
		},
		Actions: []core.Action{&core.ActionSpec{ActionName: "BROKEN"}},
	})
	require.Error(t, err)
	_, ok := rt.Registry().Action("BROKEN")
	assert.False(t, ok)
	assert.NotContains(t, rt.Plugins(), "broken")

	assert.Error(t, rt.RegisterPlugin(ctx, nil))
}

func TestServiceLifecycle(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t)

	var mu sync.Mutex
	var log []string
	record := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		log = append(log, s)
	}
	service := func(name string) core.Service {
		return &core.ServiceSpec{
			ServiceType: name,
			StartFunc:   func(context.Context) error { record("start " + name); return nil },
			StopFunc:    func(context.Context) error { record("stop " + name); return nil },
		}
	}

	require.NoError(t, rt.RegisterPlugin(ctx, &core.Plugin{Name: "a", Services: []core.Service{service("db")}}))
	require.NoError(t, rt.RegisterPlugin(ctx, &core.Plugin{Name: "b", Services: []core.Service{service("cache")}}))
	require.NoError(t, rt.Start(ctx))
	require.NoError(t, rt.RegisterPlugin(ctx, &core.Plugin{Name: "c", Services: []core.Service{service("late")}}))

	_, status := rt.Health(ctx)
	assert.Equal(t, core.HealthHealthy, status)

	require.NoError(t, rt.Stop(ctx))
	assert.Equal(t, []string{
		"start cache", "start db", "start late",
		"stop late", "stop db", "stop cache",
	}, log)
}

func TestStartCollectsServiceErrors(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t)
	require.NoError(t, rt.RegisterPlugin(ctx, &core.Plugin{
		Name: "bad",
		Services: []core.Service{&core.ServiceSpec{
			ServiceType: "flaky",
			StartFunc:   func(context.Context) error { return stderrors.New("port in use") },
		}},
	}))

	err := rt.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "service start failed")

	_, status := rt.Health(ctx)
	assert.Equal(t, core.HealthUnhealthy, status)
}

func TestUseModel(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t)
	rec := &recorder{}
	require.NoError(t, rt.RegisterPlugin(ctx, rec.plugin()))

	handler := func(out string) core.ModelHandler {
		return func(context.Context, core.ModelParams) (any, error) { return out, nil }
	}
	require.NoError(t, rt.RegisterPlugin(ctx, &core.Plugin{
		Name: "models",
		Models: []core.ModelRegistration{
			{ModelType: core.ModelTextSmall, Provider: "low", Priority: 1, Handler: handler("low")},
			{ModelType: core.ModelTextSmall, Provider: "high", Priority: 10, Handler: handler("high")},
		},
	}))

	out, err := rt.UseModel(ctx, core.ModelTextSmall, core.ModelParams{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "high", out)

	out, err = rt.UseModelWith(ctx, core.ModelTextSmall, "low", core.ModelParams{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "low", out)

	_, err = rt.UseModelWith(ctx, core.ModelTextSmall, "absent", core.ModelParams{})
	assert.ErrorIs(t, err, errors.ErrModelProviderNotFound)

	ev, ok := rec.find(core.EventModelUsed)
	require.True(t, ok)
	assert.Equal(t, string(core.ModelTextSmall), ev.Payload["modelType"])
}

func TestSettings(t *testing.T) {
	rt := newRuntime(t)

	v, ok := rt.GetSetting("GREETING")
	require.True(t, ok)
	assert.Equal(t, "hola", v)

	rt.SetSetting("API_KEY", "s3cret", true)
	v, ok = rt.GetSetting("API_KEY")
	require.True(t, ok)
	assert.Equal(t, "s3cret", v)

	_, ok = rt.GetSetting("UNKNOWN")
	assert.False(t, ok)
}

func TestRuns(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t)

	id := rt.StartRun(ctx, "room-9")
	assert.NotEmpty(t, id)
	assert.Equal(t, id, rt.CurrentRunID(ctx))
	rt.EndRun(ctx)
	assert.NotEqual(t, id, rt.CurrentRunID(ctx))
}
