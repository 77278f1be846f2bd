// Package mcpserver exposes the assistant's admin API as MCP tools over stdio.
package mcpserver

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	admin "github.com/devricklin/xianyu-assistant/internal/mcp"
)

// Version is reported to MCP clients
const Version = "v1.0.0"

// AdminMCPServer provides MCP tools for managing a running assistant
type AdminMCPServer struct {
	server *mcp.Server
}

// NewServer creates a new admin MCP server talking to the admin API at apiURL
func NewServer(apiURL string) *AdminMCPServer {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "xianyu-assistant",
		Version: Version,
	}, nil)

	admin.RegisterTools(server, admin.NewHandler(admin.NewClient(apiURL)))

	return &AdminMCPServer{server: server}
}

// Run starts the MCP server with stdio transport
func (s *AdminMCPServer) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// GetServer returns the underlying MCP server
func (s *AdminMCPServer) GetServer() *mcp.Server {
	return s.server
}
