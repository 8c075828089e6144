package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"edumate-rag/internal/index"
)

const collectionURI = "edumate://collection"

// NewMCPServer exposes the same operations as the HTTP API as MCP tools.
func NewMCPServer(deps Deps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"edumate",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("EduMate answers student questions from indexed course materials."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_course_materials",
			mcp.WithDescription("Answer a question using the indexed course materials and the session's conversation history."),
			mcp.WithString("question", mcp.Description("The student's question"), mcp.Required()),
			mcp.WithString("session_id", mcp.Description("Conversation to continue (default \"default\")")),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("search_course_materials",
			mcp.WithDescription("Return the course material chunks closest to a query, without generating an answer."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results, 1 to 50 (0 or omitted uses the default)")),
		),
		mcpSearch(deps),
	)

	s.AddTool(
		mcp.NewTool("index_course_materials",
			mcp.WithDescription("Index every document in the course materials folder."),
			mcp.WithBoolean("reset", mcp.Description("Empty the collection before indexing")),
		),
		mcpIndex(deps),
	)

	s.AddTool(
		mcp.NewTool("clear_conversation",
			mcp.WithDescription("Forget the conversation history of a session."),
			mcp.WithString("session_id", mcp.Description("Conversation to clear (default \"default\")")),
		),
		mcpClear(deps),
	)

	s.AddResource(
		mcp.NewResource(
			collectionURI,
			"Course Collection",
			mcp.WithResourceDescription("Name and size of the course materials collection"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceCollection(deps),
	)

	return s
}

func mcpAsk(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}
		session := req.GetString("session_id", "")

		result, err := deps.RAG.Query(ctx, session, question)
		if err != nil {
			return mcpError(fmt.Sprintf("query failed: %v", err)), nil
		}
		return mcpJSON(result)
	}
}

func mcpSearch(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		limit := req.GetInt("limit", 0)
		if limit < 0 || limit > 50 {
			return mcpError("limit must be between 0 and 50, 0 uses the default"), nil
		}

		results, err := deps.RAG.Search(ctx, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(results) == 0 {
			return mcpText("[]"), nil
		}
		return mcpJSON(results)
	}
}

func mcpIndex(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		report, err := deps.Indexer.IndexPDFs(ctx, req.GetBool("reset", false))
		if errors.Is(err, index.ErrNoDocuments) {
			return mcpError("No documents found to index"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("indexing failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Indexed %d chunks from %d files (%d failed)", report.Indexed, report.Files, report.Failed)), nil
	}
}

func mcpClear(deps Deps) server.ToolHandlerFunc {
	return func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		deps.RAG.ClearMemory(req.GetString("session_id", ""))
		return mcpText("Conversation memory cleared"), nil
	}
}

func mcpResourceCollection(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		info, err := deps.Collection.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read collection info: %w", err)
		}
		b, err := json.Marshal(info)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal collection info: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
