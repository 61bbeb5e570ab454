package rag

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/docmind/kit"
)

// RegisterMCP registers the retrieval query tool on an MCP server.
func RegisterMCP(srv *mcp.Server, engine *Engine) {
	tool := &mcp.Tool{
		Name:        "docmind_query",
		Description: "Retrieve the document chunks most similar to a query text within an organization.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"organization_id": map[string]any{"type": "string", "description": "Organization to search"},
				"text":            map[string]any{"type": "string", "description": "Query text"},
				"top_k":           map[string]any{"type": "integer", "description": "Maximum results (default 5)"},
			},
			"required": []string{"organization_id", "text"},
		},
	}

	type queryReq struct {
		OrganizationID string `json:"organization_id"`
		Text           string `json:"text"`
		TopK           int    `json:"top_k"`
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*queryReq)
		results, err := engine.Query(ctx, r.OrganizationID, r.Text, r.TopK)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"results": results,
			"count":   len(results),
		}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r queryReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
