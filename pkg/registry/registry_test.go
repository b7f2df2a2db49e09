package registry

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/aion/pkg/core"
)

func action(name string, similes ...string) *core.ActionSpec {
	return &core.ActionSpec{ActionName: name, Aliases: similes}
}

func TestRegisterActionKeepsInsertionOrder(t *testing.T) {
	r := New()
	r.RegisterAction(action("REPLY"))
	r.RegisterAction(action("IGNORE"))
	r.RegisterAction(action("FOLLOW_ROOM"))

	names := []string{}
	for _, a := range r.Actions() {
		names = append(names, a.Name())
	}
	assert.Equal(t, []string{"REPLY", "IGNORE", "FOLLOW_ROOM"}, names)
}

func TestDuplicateNameReplacesInPlace(t *testing.T) {
	var buf bytes.Buffer
	r := New(WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))

	first := action("REPLY")
	r.RegisterAction(first)
	r.RegisterAction(action("IGNORE"))
	second := &core.ActionSpec{ActionName: "REPLY", Summary: "v2"}
	r.RegisterAction(second)

	actions := r.Actions()
	require.Len(t, actions, 2)
	assert.Same(t, second, actions[0])
	assert.Contains(t, buf.String(), "registry.duplicate")
}

func TestActionLookupBySimile(t *testing.T) {
	r := New()
	r.RegisterAction(action("SEND_MESSAGE", "post message", "dm"))

	got, ok := r.Action("SEND_MESSAGE")
	require.True(t, ok)
	assert.Equal(t, "SEND_MESSAGE", got.Name())

	got, ok = r.Action("send-message")
	require.True(t, ok)
	assert.Equal(t, "SEND_MESSAGE", got.Name())

	got, ok = r.Action("Post Message")
	require.True(t, ok)
	assert.Equal(t, "SEND_MESSAGE", got.Name())

	_, ok = r.Action("UNKNOWN")
	assert.False(t, ok)
	_, ok = r.Action("")
	assert.False(t, ok)
}

func TestSnapshotsAreCopies(t *testing.T) {
	r := New()
	r.RegisterProvider(&core.ProviderSpec{ProviderName: "TIME"})
	snapshot := r.Providers()
	snapshot[0] = &core.ProviderSpec{ProviderName: "HACKED"}

	p, ok := r.Provider("TIME")
	require.True(t, ok)
	assert.Equal(t, "TIME", p.Name())
	assert.Equal(t, "TIME", r.Providers()[0].Name())
}

func TestModelHandlersPriorityThenRegistrationOrder(t *testing.T) {
	r := New()
	handler := func(context.Context, core.ModelParams) (any, error) { return nil, nil }
	r.RegisterModel(core.ModelRegistration{ModelType: core.ModelTextLarge, Provider: "low", Priority: 1, Handler: handler})
	r.RegisterModel(core.ModelRegistration{ModelType: core.ModelTextLarge, Provider: "first-high", Priority: 10, Handler: handler})
	r.RegisterModel(core.ModelRegistration{ModelType: core.ModelTextLarge, Provider: "second-high", Priority: 10, Handler: handler})
	r.RegisterModel(core.ModelRegistration{ModelType: core.ModelTextSmall, Provider: "small", Handler: handler})
	r.RegisterModel(core.ModelRegistration{ModelType: core.ModelTextSmall, Provider: "nil-handler"})

	regs := r.ModelHandlers(core.ModelTextLarge)
	require.Len(t, regs, 3)
	assert.Equal(t, "first-high", regs[0].Provider)
	assert.Equal(t, "second-high", regs[1].Provider)
	assert.Equal(t, "low", regs[2].Provider)

	assert.Len(t, r.ModelHandlers(core.ModelTextSmall), 1)
	assert.Empty(t, r.ModelHandlers(core.ModelTextEmbedding))
	assert.Equal(t, []core.ModelType{core.ModelTextLarge, core.ModelTextSmall}, r.ModelTypes())
}

func TestServicesByType(t *testing.T) {
	r := New()
	r.RegisterService(&core.ServiceSpec{ServiceType: "cache"})
	r.RegisterService(&core.ServiceSpec{ServiceType: "cache"})
	r.RegisterService(&core.ServiceSpec{ServiceType: "browser"})

	assert.Len(t, r.Services("cache"), 2)
	assert.Len(t, r.Services("browser"), 1)
	assert.Empty(t, r.Services("missing"))
	all := r.AllServices()
	require.Len(t, all, 3)
	assert.Equal(t, "browser", all[0].Type())
}

func TestRegisterPlugin(t *testing.T) {
	r := New()
	handler := func(context.Context, core.Event) error { return nil }
	r.RegisterPlugin(&core.Plugin{
		Name:        "bootstrap",
		Actions:     []core.Action{action("REPLY")},
		Providers:   []core.Provider{&core.ProviderSpec{ProviderName: "TIME"}},
		Evaluators:  []core.Evaluator{&core.EvaluatorSpec{EvaluatorName: "REFLECTION"}},
		Events:      map[core.EventType][]core.EventHandler{core.EventRunEnded: {handler, handler}},
		TaskWorkers: []core.TaskWorker{{Name: "REMIND"}},
		Routes:      []core.Route{{Method: "GET", Path: "/status"}},
	})

	assert.Len(t, r.Actions(), 1)
	assert.Len(t, r.Providers(), 1)
	assert.Len(t, r.Evaluators(), 1)
	assert.Len(t, r.EventHandlers(core.EventRunEnded), 2)
	_, ok := r.TaskWorker("REMIND")
	assert.True(t, ok)
	assert.Len(t, r.Routes(), 1)

	r.RegisterRoute(core.Route{Method: "get", Path: "/status"})
	assert.Len(t, r.Routes(), 1)
}

func TestUnregister(t *testing.T) {
	r := New()
	r.RegisterAction(action("A"))
	r.RegisterAction(action("B"))
	r.RegisterProvider(&core.ProviderSpec{ProviderName: "P"})
	r.RegisterEvaluator(&core.EvaluatorSpec{EvaluatorName: "E"})
	r.RegisterEvent(core.EventRunStarted, func(context.Context, core.Event) error { return nil })

	assert.True(t, r.UnregisterAction("A"))
	assert.False(t, r.UnregisterAction("A"))
	assert.True(t, r.UnregisterProvider("P"))
	assert.True(t, r.UnregisterEvaluator("E"))
	r.UnregisterEvent(core.EventRunStarted)

	require.Len(t, r.Actions(), 1)
	assert.Equal(t, "B", r.Actions()[0].Name())
	assert.Empty(t, r.Providers())
	assert.Empty(t, r.Evaluators())
	assert.Empty(t, r.EventHandlers(core.EventRunStarted))
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "SEND_MESSAGE", NormalizeName(" send-message "))
	assert.Equal(t, "FOLLOW_ROOM", NormalizeName("follow room"))
}
