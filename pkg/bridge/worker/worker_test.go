package worker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/aion/pkg/bridge"
	"github.com/jllopis/aion/pkg/core"
)

func testPlugin() *core.Plugin {
	return &core.Plugin{
		Name:        "greeter",
		Description: "greets people",
		Config:      map[string]string{"GREETING": "hello"},
		Init: func(_ context.Context, config map[string]string, rt core.AgentRuntime) error {
			if config["FAIL"] == "1" {
				return errors.New("init refused")
			}
			return nil
		},
		Actions: []core.Action{
			&core.ActionSpec{
				ActionName: "GREET",
				Summary:    "say hello",
				Aliases:    []string{"HELLO"},
				ValidateFunc: func(_ context.Context, msg *core.Memory, _ *core.State) (bool, error) {
					return msg.Content.Text != "", nil
				},
				HandleFunc: func(ctx context.Context, msg *core.Memory, _ *core.State, opts core.HandlerOptions, cb core.HandlerCallback) (*core.ActionResult, error) {
					_ = cb(ctx, core.Content{Text: "hi " + msg.Content.Text})
					return &core.ActionResult{Success: true, Text: msg.Content.Text, Values: map[string]any{"previous": len(opts.PreviousResults)}}, nil
				},
			},
			&core.ActionSpec{
				ActionName: "PANIC",
				HandleFunc: func(context.Context, *core.Memory, *core.State, core.HandlerOptions, core.HandlerCallback) (*core.ActionResult, error) {
					panic("kaboom")
				},
			},
		},
		Providers: []core.Provider{
			&core.ProviderSpec{
				ProviderName: "TIME",
				Order:        3,
				GetFunc: func(context.Context, *core.Memory, *core.State) (core.ProviderResult, error) {
					return core.ProviderResult{Text: "it is noon", Values: map[string]any{"hour": 12}}, nil
				},
			},
		},
		Evaluators: []core.Evaluator{
			&core.EvaluatorSpec{
				EvaluatorName: "REFLECT",
				Summary:       "reflect",
				ValidateFunc: func(_ context.Context, msg *core.Memory, _ *core.State) (bool, error) {
					return strings.Contains(msg.Content.Text, "reflect"), nil
				},
				HandleFunc: func(context.Context, *core.Memory, *core.State, core.HandlerOptions, core.HandlerCallback) (*core.ActionResult, error) {
					return &core.ActionResult{Success: true, Text: "reflected"}, nil
				},
			},
		},
	}
}

// serve runs the plugin over the given request lines and returns the raw output lines.
func serve(t *testing.T, lines ...string) []string {
	t.Helper()
	in := strings.NewReader(strings.Join(lines, "\n") + "\n")
	var out bytes.Buffer
	require.NoError(t, Serve(context.Background(), testPlugin(), in, &out, WithVersion("1.2.3")))

	var got []string
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		got = append(got, scanner.Text())
	}
	return got
}

func decode(t *testing.T, line string) bridge.Response {
	t.Helper()
	var resp bridge.Response
	require.NoError(t, json.Unmarshal([]byte(line), &resp))
	return resp
}

func TestServeWritesReadyFirst(t *testing.T) {
	lines := serve(t)
	require.Len(t, lines, 1)

	var ready struct {
		Type     string          `json:"type"`
		Manifest bridge.Manifest `json:"manifest"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &ready))
	assert.Equal(t, bridge.TypeReady, ready.Type)
	assert.Equal(t, "greeter", ready.Manifest.Name)
	assert.Equal(t, "1.2.3", ready.Manifest.Version)
	assert.Equal(t, "go", ready.Manifest.Language)
	require.Len(t, ready.Manifest.Actions, 2)
	assert.Equal(t, []string{"HELLO"}, ready.Manifest.Actions[0].Similes)
	assert.Equal(t, 3, ready.Manifest.Providers[0].Position)
	require.NoError(t, ready.Manifest.Validate())
}

func TestServeInvalidJSONKeepsServing(t *testing.T) {
	lines := serve(t,
		`{not json`,
		`{"type":"action.validate","id":"v1","action":"GREET","memory":{"content":{"text":"bob"}}}`,
	)
	require.Len(t, lines, 3)

	bad := decode(t, lines[1])
	assert.Equal(t, bridge.TypeError, bad.Type)
	assert.Equal(t, "", bad.ID)
	assert.True(t, strings.HasPrefix(bad.Error, "Invalid JSON: "))
	assert.Contains(t, lines[1], `"id":""`)

	ok := decode(t, lines[2])
	assert.Equal(t, "action.validate.result", ok.Type)
	assert.Equal(t, "v1", ok.ID)
	require.NotNil(t, ok.Valid)
	assert.True(t, *ok.Valid)
}

func TestServeBadlyTypedFieldKeepsRequestID(t *testing.T) {
	lines := serve(t, `{"type":"action.invoke","id":"a7","action":"GREET","memory":"x"}`)
	require.Len(t, lines, 2)

	resp := decode(t, lines[1])
	assert.Equal(t, bridge.TypeError, resp.Type)
	assert.Equal(t, "a7", resp.ID)
	assert.True(t, strings.HasPrefix(resp.Error, "Invalid JSON: "))
}

func TestServeUnknownRequestType(t *testing.T) {
	lines := serve(t, `{"type":"unknown.thing","id":"x"}`)
	require.Len(t, lines, 2)
	assert.Equal(t, `{"type":"error","id":"x","error":"Unknown request type: unknown.thing"}`, lines[1])
}

func TestServeActionInvoke(t *testing.T) {
	lines := serve(t,
		`{"type":"action.invoke","id":"a1","action":"GREET","memory":{"content":{"text":"ann"}},"options":{"previousResults":[{"success":true}]}}`,
	)
	require.Len(t, lines, 2)
	resp := decode(t, lines[1])
	assert.Equal(t, "action.invoke.result", resp.Type)
	require.Len(t, resp.Callbacks, 1)
	assert.Equal(t, "hi ann", resp.Callbacks[0].Text)

	var result core.ActionResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.True(t, result.Success)
	assert.Equal(t, "ann", result.Text)
	assert.EqualValues(t, 1, result.Values["previous"])
}

func TestServeHandlerPanicIsAnsweredInBand(t *testing.T) {
	lines := serve(t,
		`{"type":"action.invoke","id":"p1","action":"PANIC"}`,
		`{"type":"provider.get","id":"g1","provider":"TIME"}`,
	)
	require.Len(t, lines, 3)

	panicked := decode(t, lines[1])
	assert.Equal(t, bridge.TypeError, panicked.Type)
	assert.Equal(t, "p1", panicked.ID)
	assert.Equal(t, "panic: kaboom", panicked.Error)
	assert.NotNil(t, panicked.Details)

	provided := decode(t, lines[2])
	assert.Equal(t, "provider.get.result", provided.Type)
	var result core.ProviderResult
	require.NoError(t, json.Unmarshal(provided.Result, &result))
	assert.Equal(t, "it is noon", result.Text)
}

func TestServeNotFound(t *testing.T) {
	lines := serve(t,
		`{"type":"action.invoke","id":"n1","action":"MISSING"}`,
		`{"type":"provider.get","id":"n2","provider":"MISSING"}`,
		`{"type":"evaluator.invoke","id":"n3","evaluator":"MISSING"}`,
	)
	require.Len(t, lines, 4)
	assert.Equal(t, "Action not found: MISSING", decode(t, lines[1]).Error)
	assert.Equal(t, "Provider not found: MISSING", decode(t, lines[2]).Error)
	assert.Equal(t, "Evaluator not found: MISSING", decode(t, lines[3]).Error)
}

func TestServeEvaluatorValidatesInWorker(t *testing.T) {
	lines := serve(t,
		`{"type":"evaluator.invoke","id":"e1","evaluator":"REFLECT","memory":{"content":{"text":"skip"}}}`,
		`{"type":"evaluator.invoke","id":"e2","evaluator":"REFLECT","memory":{"content":{"text":"please reflect"}}}`,
	)
	require.Len(t, lines, 3)
	skipped := decode(t, lines[1])
	assert.Equal(t, "evaluator.invoke.result", skipped.Type)
	assert.Contains(t, []string{"", "null"}, string(skipped.Result))
	require.NotNil(t, skipped.Valid)
	assert.False(t, *skipped.Valid)

	ran := decode(t, lines[2])
	require.NotNil(t, ran.Valid)
	assert.True(t, *ran.Valid)
	var result core.ActionResult
	require.NoError(t, json.Unmarshal(ran.Result, &result))
	assert.Equal(t, "reflected", result.Text)
}

func TestServePluginInit(t *testing.T) {
	lines := serve(t,
		`{"type":"plugin.init","id":"i1","config":{"FAIL":"0"}}`,
		`{"type":"plugin.init","id":"i2","config":{"FAIL":"1"}}`,
	)
	require.Len(t, lines, 3)
	assert.Equal(t, "plugin.init.result", decode(t, lines[1]).Type)

	failed := decode(t, lines[2])
	assert.Equal(t, bridge.TypeError, failed.Type)
	assert.Equal(t, "init refused", failed.Error)
}
