package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/chenjiayi8/docindex/engine"
)

type querier interface {
	Query(ctx context.Context, text string) (engine.Response, error)
	FileEngine(rel string, topK int) (engine.QueryEngine, error)
	FolderEngine(prefix string, topK int) (engine.QueryEngine, error)
	PathOf(id string) (string, bool)
}

// NewIndexServer exposes the index over MCP: one tool querying the
// whole corpus and two scoped to a single file or folder subtree.
func NewIndexServer(ix querier) *server.MCPServer {
	srv := server.NewMCPServer("docindex", "0.1.0", server.WithToolCapabilities(false))

	queryTool := mcp.NewTool("query",
		mcp.WithDescription("Search the indexed documents and return the most relevant passages"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Natural language query"),
		))
	srv.AddTool(queryTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		q, err := request.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		resp, err := ix.Query(ctx, q)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return formatResponse(ix, resp)
	})

	fileTool := mcp.NewTool("query_file",
		mcp.WithDescription("Search a single indexed document"),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Root-relative path of the document"),
		),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Natural language query"),
		))
	srv.AddTool(fileTool, scopedHandler(ix, func(scope string, topK int) (engine.QueryEngine, error) {
		return ix.FileEngine(scope, topK)
	}, "path"))

	folderTool := mcp.NewTool("query_folder",
		mcp.WithDescription("Search every indexed document under a folder"),
		mcp.WithString("folder",
			mcp.Required(),
			mcp.Description("Root-relative folder prefix"),
		),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Natural language query"),
		))
	srv.AddTool(folderTool, scopedHandler(ix, func(scope string, topK int) (engine.QueryEngine, error) {
		return ix.FolderEngine(scope, topK)
	}, "folder"))

	return srv
}

func scopedHandler(ix querier, scoped func(scope string, topK int) (engine.QueryEngine, error), scopeArg string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		scope, err := request.RequireString(scopeArg)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		q, err := request.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		qe, err := scoped(scope, 0)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		resp, err := qe.Query(ctx, q)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return formatResponse(ix, resp)
	}
}

func formatResponse(ix querier, resp engine.Response) (*mcp.CallToolResult, error) {
	var out string
	for _, r := range resp.Results {
		file, _ := ix.PathOf(r.ID)
		raw, err := json.Marshal(struct {
			Score float32 `json:"score"`
			File  string  `json:"file"`
			Text  string  `json:"text"`
		}{
			Score: r.Score,
			File:  file,
			Text:  r.Text,
		})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		out += fmt.Sprintf("%s\n", string(raw))
	}

	return mcp.NewToolResultText(out), nil
}
