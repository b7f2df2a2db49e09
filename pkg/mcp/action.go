// Copyright 2026 © The Aion Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jllopis/aion/pkg/core"
	"github.com/jllopis/aion/pkg/errors"
)

// ToolCaller abstracts MCP tool execution.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
}

// ToolAction exposes one MCP tool as a runtime action.
//
// Arguments come from HandlerOptions.Parameters under the tool name (a map or
// a JSON string). Without parameters the message text is used: a JSON object
// is decoded, anything else becomes {"input": text}.
type ToolAction struct {
	name   string
	tool   mcp.Tool
	caller ToolCaller
}

// NewToolAction builds an action backed by tool and caller.
func NewToolAction(tool mcp.Tool, caller ToolCaller) (*ToolAction, error) {
	if tool.Name == "" {
		return nil, stderrors.New("mcp tool name is required")
	}
	if caller == nil {
		return nil, stderrors.New("tool caller is required")
	}
	return &ToolAction{name: ActionName(tool.Name), tool: tool, caller: caller}, nil
}

// ActionName maps an MCP tool name to an action name: get-weather becomes GET_WEATHER.
func ActionName(tool string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, tool)
}

func (a *ToolAction) Name() string                     { return a.name }
func (a *ToolAction) Description() string              { return a.tool.Description }
func (a *ToolAction) Similes() []string                { return []string{a.tool.Name} }
func (a *ToolAction) Examples() [][]core.ActionExample { return nil }

// Tool returns the underlying MCP tool definition.
func (a *ToolAction) Tool() mcp.Tool { return a.tool }

func (a *ToolAction) Validate(context.Context, *core.Memory, *core.State) (bool, error) {
	return true, nil
}

func (a *ToolAction) Handle(ctx context.Context, msg *core.Memory, _ *core.State, opts core.HandlerOptions, cb core.HandlerCallback) (*core.ActionResult, error) {
	input := a.input(msg, opts)
	args, err := normalizeToolArgs(input)
	if err != nil {
		return nil, errors.New(errors.CodeValidation, err.Error(), nil).WithContext("tool", a.tool.Name)
	}
	if raw, ok := input.(string); ok {
		if trimmed := strings.TrimSpace(raw); trimmed != "" {
			if _, hasURL := args["url"]; !hasURL && requiresField(a.tool, "url") {
				args = map[string]any{"url": trimmed}
			}
		}
	}
	if err := validateRequiredArgs(a.tool, args); err != nil {
		return nil, errors.New(errors.CodeValidation, err.Error(), nil).WithContext("tool", a.tool.Name)
	}

	res, err := a.caller.CallTool(ctx, a.tool.Name, args)
	if err != nil {
		return nil, errors.New(errors.CodeExecution, "mcp tool call failed", err).WithContext("tool", a.tool.Name)
	}
	output, err := toolResultToOutput(res)
	if err != nil {
		return nil, errors.New(errors.CodeExecution, err.Error(), nil).WithContext("tool", a.tool.Name)
	}

	text := outputText(output)
	if cb != nil && text != "" {
		if err := cb(ctx, core.Content{Text: text, Actions: []string{a.name}, Source: "mcp"}); err != nil {
			return nil, err
		}
	}
	return &core.ActionResult{
		ActionName: a.name,
		Success:    true,
		Text:       text,
		Data:       map[string]any{"tool": a.tool.Name, "result": output},
	}, nil
}

func (a *ToolAction) input(msg *core.Memory, opts core.HandlerOptions) any {
	for _, key := range []string{a.tool.Name, a.name} {
		if v, ok := opts.Parameters[key]; ok {
			return v
		}
	}
	if msg == nil {
		return nil
	}
	return msg.Content.Text
}

func outputText(output any) string {
	switch v := output.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}

func normalizeToolArgs(input any) (map[string]any, error) {
	switch value := input.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return value, nil
	case json.RawMessage:
		return decodeArgs(value)
	case []byte:
		return decodeArgs(value)
	case string:
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return map[string]any{}, nil
		}
		if strings.HasPrefix(trimmed, "{") {
			if decoded, err := decodeArgs([]byte(trimmed)); err == nil {
				return decoded, nil
			}
		}
		return map[string]any{"input": value}, nil
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("mcp tool args: unsupported type %T", input)
		}
		return decodeArgs(encoded)
	}
}

func decodeArgs(raw []byte) (map[string]any, error) {
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("mcp tool args: invalid JSON: %w", err)
	}
	return decoded, nil
}

func validateRequiredArgs(tool mcp.Tool, args map[string]any) error {
	schema := tool.InputSchema
	if schema.Type != "" && schema.Type != "object" {
		return nil
	}
	for _, key := range schema.Required {
		if _, ok := args[key]; !ok {
			return fmt.Errorf("mcp tool args: missing required field %q", key)
		}
	}
	return nil
}

func requiresField(tool mcp.Tool, name string) bool {
	for _, key := range tool.InputSchema.Required {
		if key == name {
			return true
		}
	}
	return false
}

func toolResultToOutput(result *mcp.CallToolResult) (any, error) {
	if result == nil {
		return nil, stderrors.New("mcp tool result is nil")
	}
	if result.IsError {
		return nil, fmt.Errorf("mcp tool returned error: %s", extractTextContent(result.Content))
	}
	if result.StructuredContent != nil {
		return result.StructuredContent, nil
	}
	if text := extractTextContent(result.Content); text != "" {
		return text, nil
	}
	return nil, nil
}

func extractTextContent(items []mcp.Content) string {
	var parts []string
	for _, item := range items {
		switch content := item.(type) {
		case mcp.TextContent:
			parts = append(parts, content.Text)
		case *mcp.TextContent:
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n")
}

var _ core.Action = (*ToolAction)(nil)
