// Package mcp wraps the mcp-go server with webset-engine conventions.
package mcp

import (
	"github.com/mark3labs/mcp-go/server"
)

// Server wraps the mcp-go MCPServer.
type Server struct {
	mcp *server.MCPServer
}

// NewServer creates a new MCP server instance.
func NewServer(name, version string) *Server {
	mcpServer := server.NewMCPServer(
		name,
		version,
		server.WithToolCapabilities(true),
	)

	return &Server{mcp: mcpServer}
}

// MCP returns the underlying MCPServer for tool registration.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// NewStreamableHTTPServer creates an HTTP transport server wrapping this MCP
// server. The HTTP mux handles routing to /mcp, so no endpoint path is
// configured here.
func (s *Server) NewStreamableHTTPServer() *server.StreamableHTTPServer {
	return server.NewStreamableHTTPServer(
		s.mcp,
		server.WithStateLess(true),
	)
}
