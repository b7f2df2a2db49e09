// Copyright 2026 © The Aion Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jllopis/aion/pkg/core"
)

// ToolLister is the part of Client a plugin needs.
type ToolLister interface {
	ToolCaller
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	Close() error
}

// Plugin discovers the tools of c and bundles them as actions. The plugin
// owns a service of type "mcp:<name>" whose Stop closes the client.
func Plugin(ctx context.Context, name string, c ToolLister) (*core.Plugin, error) {
	tools, err := c.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tools for %s: %w", name, err)
	}
	actions := make([]core.Action, 0, len(tools))
	for _, tool := range tools {
		action, err := NewToolAction(tool, c)
		if err != nil {
			slog.Warn("mcp.tool.skipped", "server", name, "error", err)
			continue
		}
		actions = append(actions, action)
	}
	slog.Info("mcp.tools.loaded", "server", name, "count", len(actions))

	return &core.Plugin{
		Name:        "mcp-" + name,
		Description: fmt.Sprintf("Tools served by MCP server %s", name),
		Actions:     actions,
		Services: []core.Service{&core.ServiceSpec{
			ServiceType: "mcp:" + name,
			StopFunc: func(context.Context) error {
				return c.Close()
			},
		}},
	}, nil
}
