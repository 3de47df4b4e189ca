package queue

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/plume/kit"
	"github.com/hazyhaar/plume/prepare"
)

// RegisterMCP registers the posting tools on an MCP server. Posting is
// asynchronous: plume_post_thread returns as soon as the submission is
// queued, and plume_chain_status reports how the run went.
func (w *Worker) RegisterMCP(srv *mcp.Server) {
	w.registerPostThreadTool(srv)
	w.registerChainStatusTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func (w *Worker) registerPostThreadTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "plume_post_thread",
		Description: "Lint texts into a chain of messages and queue them for posting. Returns the submission with the final drafts and every fixup applied.",
		InputSchema: inputSchema(map[string]any{
			"texts": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Raw texts, one per intended message",
			},
			"format":    map[string]any{"type": "string", "enum": []string{string(prepare.FormatThread), string(prepare.FormatSingle)}, "description": "thread keeps texts separate, single joins them into one message"},
			"parent_id": map[string]any{"type": "string", "description": "Resume: post everything as replies under this message id"},
		}, []string{"texts"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*Request)
		return w.Enqueue(ctx, *r)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r Request
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

type chainStatusReq struct {
	ID string `json:"id"`
}

func (w *Worker) registerChainStatusTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "plume_chain_status",
		Description: "Look up a queued or finished chain by submission id or chain id, with the journal's record of what got posted.",
		InputSchema: inputSchema(map[string]any{
			"id": map[string]any{"type": "string", "description": "Submission id (sub_...) or chain id (chain_...)"},
		}, []string{"id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*chainStatusReq)
		return w.ChainStatus(ctx, r.ID)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r chainStatusReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
