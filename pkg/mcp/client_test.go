package mcp

import (
	"context"
	"os"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const stdioHelperEnv = "AION_MCP_STDIO_HELPER"

func pingServer(name string) *mcpserver.MCPServer {
	server := mcpserver.NewMCPServer(name, "1.0.0")
	server.AddTool(mcpgo.NewTool("ping", mcpgo.WithDescription("Answers ok")), func(ctx context.Context, _ mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		return &mcpgo.CallToolResult{
			Content: []mcpgo.Content{mcpgo.TextContent{Type: "text", Text: "ok"}},
		}, nil
	})
	return server
}

func TestHelperMCPStdioServer(t *testing.T) {
	if os.Getenv(stdioHelperEnv) != "1" {
		return
	}
	if err := mcpserver.ServeStdio(pingServer("test-stdio")); err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}

func TestClientStdio(t *testing.T) {
	exe, err := os.Executable()
	require.NoError(t, err)

	ctx := context.Background()
	client, err := NewClientWithStdio(ctx, exe, []string{stdioHelperEnv + "=1"}, []string{"-test.run", "TestHelperMCPStdioServer"})
	require.NoError(t, err)
	defer client.Close()

	tools, err := client.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "ping", tools[0].Name)

	res, err := client.CallTool(ctx, "ping", map[string]any{"input": "hello"})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.False(t, res.IsError)
	assert.Equal(t, "ok", extractTextContent(res.Content))
}

func TestClientStreamableHTTP(t *testing.T) {
	httpServer := mcpserver.NewTestStreamableHTTPServer(pingServer("test-http"))
	defer httpServer.Close()

	ctx := context.Background()
	client, err := NewClientWithStreamableHTTP(ctx, httpServer.URL)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Ping(ctx))
	tools, err := client.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "ping", tools[0].Name)
}

func TestClientToolCache(t *testing.T) {
	c := NewClient(nil)
	assert.Nil(t, c.cachedTools())

	c.storeTools([]mcpgo.Tool{{Name: "ping"}})
	cached := c.cachedTools()
	require.Len(t, cached, 1)
	assert.Equal(t, "ping", cached[0].Name)

	uncached := NewClient(nil, WithToolCacheTTL(0))
	uncached.storeTools([]mcpgo.Tool{{Name: "ping"}})
	assert.Nil(t, uncached.cachedTools())
}
