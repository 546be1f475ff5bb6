// Package mcp exposes the index to MCP clients as a set of tools served over
// stdio.
package mcp

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/jankowtf/kbindex/internal/index"
	"github.com/jankowtf/kbindex/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "kbindex"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Index is the part of index.Indexer the tools use.
type Index interface {
	RunOnce(ctx context.Context) (*index.PassStats, error)
	Snapshot() *storage.CacheState
	LoadIndexText() (string, error)
	LoadSourceText(ctx context.Context, id string) (string, error)
}

// PassReporter reports the most recent scheduled pass.
type PassReporter interface {
	LastPass() (*index.PassStats, time.Time, error)
}

// Server wraps the MCP server with the index it serves.
type Server struct {
	mcp    *server.MCPServer
	idx    Index
	passes PassReporter
}

// NewServer creates a server with all tools registered. passes may be nil.
func NewServer(idx Index, passes PassReporter) *Server {
	s := &Server{
		mcp: server.NewMCPServer(
			ServerName,
			ServerVersion,
			server.WithToolCapabilities(true),
		),
		idx:    idx,
		passes: passes,
	}
	s.registerTools()
	return s
}

// Serve runs the server on stdio and blocks until the client disconnects.
func (s *Server) Serve(ctx context.Context) error {
	return server.ServeStdio(s.mcp)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(getIndexTool(), s.handleGetIndex)
	s.mcp.AddTool(getSourceTextTool(), s.handleGetSourceText)
	s.mcp.AddTool(refreshIndexTool(), s.handleRefreshIndex)
	s.mcp.AddTool(indexStatusTool(), s.handleIndexStatus)
}
