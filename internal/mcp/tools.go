package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jankowtf/kbindex/internal/index"
)

func getIndexTool() mcp.Tool {
	return mcp.NewTool("get_index",
		mcp.WithDescription("Return the knowledge index: one block per source, an identifier line followed by a short description. Use it to decide which sources to read in full."),
	)
}

func getSourceTextTool() mcp.Tool {
	return mcp.NewTool("get_source_text",
		mcp.WithDescription("Return the full text of one indexed source."),
		mcp.WithString("id",
			mcp.Description("Source identifier as shown in the index, with or without its type prefix (e.g. file:notes/setup.md)."),
			mcp.Required(),
		),
	)
}

func refreshIndexTool() mcp.Tool {
	return mcp.NewTool("refresh_index",
		mcp.WithDescription("Run one reconciliation pass now and report what changed."),
	)
}

func indexStatusTool() mcp.Tool {
	return mcp.NewTool("index_status",
		mcp.WithDescription("Report source counts, pending summaries and the outcome of the last pass."),
	)
}

func (s *Server) handleGetIndex(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := s.idx.LoadIndexText()
	if err != nil {
		return toolError(err)
	}
	if text == "" {
		return mcp.NewToolResultText("The index is empty."), nil
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleGetSourceText(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := strings.TrimSpace(req.GetString("id", ""))
	if id == "" {
		return toolError(errors.New("id is required"))
	}

	text, err := s.idx.LoadSourceText(ctx, id)
	if err != nil {
		if errors.Is(err, index.ErrSourceNotFound) {
			return toolError(fmt.Errorf("no source with id %q; call get_index for valid ids", id))
		}
		return toolError(err)
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleRefreshIndex(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.idx.RunOnce(ctx)
	if err != nil {
		return toolError(fmt.Errorf("refresh failed: %w", err))
	}
	return formatJSON(stats)
}

func (s *Server) handleIndexStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st := index.Describe(s.idx.Snapshot())
	if s.passes != nil {
		st = st.WithLastPass(s.passes.LastPass())
	}
	return formatJSON(st)
}

func toolError(err error) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(err.Error()), nil
}

func formatJSON(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return toolError(err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
