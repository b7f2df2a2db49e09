package mcp

import (
	"context"
	"errors"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/aion/pkg/core"
	aerrors "github.com/jllopis/aion/pkg/errors"
)

type stubCaller struct {
	name   string
	args   map[string]any
	result *mcpgo.CallToolResult
	err    error
	closed bool
	tools  []mcpgo.Tool
}

func (s *stubCaller) CallTool(_ context.Context, name string, args map[string]any) (*mcpgo.CallToolResult, error) {
	s.name = name
	s.args = args
	return s.result, s.err
}

func (s *stubCaller) ListTools(context.Context) ([]mcpgo.Tool, error) { return s.tools, s.err }

func (s *stubCaller) Close() error {
	s.closed = true
	return nil
}

func textResult(text string) *mcpgo.CallToolResult {
	return &mcpgo.CallToolResult{Content: []mcpgo.Content{mcpgo.TextContent{Type: "text", Text: text}}}
}

func memory(text string) *core.Memory {
	return &core.Memory{ID: "m1", RoomID: "room", Content: core.Content{Text: text}}
}

func TestActionName(t *testing.T) {
	assert.Equal(t, "GET_WEATHER", ActionName("get-weather"))
	assert.Equal(t, "FS_READ_FILE", ActionName("fs.read_file"))
}

func TestNewToolActionValidation(t *testing.T) {
	_, err := NewToolAction(mcpgo.Tool{}, &stubCaller{})
	assert.Error(t, err)
	_, err = NewToolAction(mcpgo.Tool{Name: "ping"}, nil)
	assert.Error(t, err)
}

func TestToolActionHandle(t *testing.T) {
	tests := []struct {
		name     string
		msg      string
		params   map[string]any
		wantArgs map[string]any
	}{
		{name: "parameters map", params: map[string]any{"echo": map[string]any{"text": "hi"}}, wantArgs: map[string]any{"text": "hi"}},
		{name: "parameters json", params: map[string]any{"ECHO": `{"text":"hi"}`}, wantArgs: map[string]any{"text": "hi"}},
		{name: "message json", msg: `{"text":"from msg"}`, wantArgs: map[string]any{"text": "from msg"}},
		{name: "message text", msg: "plain", wantArgs: map[string]any{"input": "plain"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caller := &stubCaller{result: textResult("done")}
			action, err := NewToolAction(mcpgo.Tool{Name: "echo", Description: "Echo text"}, caller)
			require.NoError(t, err)

			var streamed []core.Content
			cb := func(_ context.Context, c core.Content) error {
				streamed = append(streamed, c)
				return nil
			}
			res, err := action.Handle(context.Background(), memory(tt.msg), nil, core.HandlerOptions{Parameters: tt.params}, cb)
			require.NoError(t, err)

			assert.Equal(t, "echo", caller.name)
			assert.Equal(t, tt.wantArgs, caller.args)
			assert.True(t, res.Success)
			assert.Equal(t, "ECHO", res.ActionName)
			assert.Equal(t, "done", res.Text)
			require.Len(t, streamed, 1)
			assert.Equal(t, "done", streamed[0].Text)
		})
	}
}

func TestToolActionURLShortcut(t *testing.T) {
	caller := &stubCaller{result: textResult("fetched")}
	tool := mcpgo.Tool{Name: "fetch", InputSchema: mcpgo.ToolInputSchema{Type: "object", Required: []string{"url"}}}
	action, err := NewToolAction(tool, caller)
	require.NoError(t, err)

	_, err = action.Handle(context.Background(), memory(" https://example.com "), nil, core.HandlerOptions{}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"url": "https://example.com"}, caller.args)
}

func TestToolActionMissingRequired(t *testing.T) {
	caller := &stubCaller{result: textResult("x")}
	tool := mcpgo.Tool{Name: "lookup", InputSchema: mcpgo.ToolInputSchema{Type: "object", Required: []string{"query"}}}
	action, err := NewToolAction(tool, caller)
	require.NoError(t, err)

	_, err = action.Handle(context.Background(), memory(""), nil, core.HandlerOptions{}, nil)
	require.Error(t, err)
	assert.Equal(t, aerrors.CodeValidation, aerrors.CodeOf(err))
	assert.Empty(t, caller.name)
}

func TestToolActionErrors(t *testing.T) {
	t.Run("transport", func(t *testing.T) {
		action, _ := NewToolAction(mcpgo.Tool{Name: "ping"}, &stubCaller{err: errors.New("boom")})
		_, err := action.Handle(context.Background(), memory(""), nil, core.HandlerOptions{}, nil)
		require.Error(t, err)
		assert.Equal(t, aerrors.CodeExecution, aerrors.CodeOf(err))
	})
	t.Run("tool error result", func(t *testing.T) {
		res := textResult("bad input")
		res.IsError = true
		action, _ := NewToolAction(mcpgo.Tool{Name: "ping"}, &stubCaller{result: res})
		_, err := action.Handle(context.Background(), memory(""), nil, core.HandlerOptions{}, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bad input")
	})
}

func TestToolActionStructuredResult(t *testing.T) {
	res := &mcpgo.CallToolResult{StructuredContent: map[string]any{"temp": 21}}
	action, _ := NewToolAction(mcpgo.Tool{Name: "weather"}, &stubCaller{result: res})

	out, err := action.Handle(context.Background(), memory(""), nil, core.HandlerOptions{}, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"temp":21}`, out.Text)
	assert.Equal(t, map[string]any{"temp": 21}, out.Data["result"])
}
