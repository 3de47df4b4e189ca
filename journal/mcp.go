package journal

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/plume/kit"
)

// RegisterMCP registers the journal's tools on an MCP server.
func (s *Store) RegisterMCP(srv *mcp.Server) {
	s.registerRecentPostsTool(srv)
	s.registerAttributionTool(srv)
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

type recentPostsReq struct {
	Limit int `json:"limit"`
}

func (s *Store) registerRecentPostsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "plume_recent_posts",
		Description: "List the most recently published posts with their platform ids, permalinks, and extraction details.",
		InputSchema: inputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Maximum posts to return (default 20)"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*recentPostsReq)
		posts, err := s.RecentPosts(ctx, r.Limit)
		if err != nil {
			return nil, err
		}
		// Archives can be large; the tool returns the ledger, not the snapshots.
		out := make([]*Post, 0, len(posts))
		for _, p := range posts {
			cp := *p
			cp.ArchiveMD = ""
			out = append(out, &cp)
		}
		return map[string]any{"posts": out}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r recentPostsReq
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
				return nil, err
			}
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

func (s *Store) registerAttributionTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "plume_attribution",
		Description: "Record engagement numbers for a published post (upsert by post id).",
		InputSchema: inputSchema(map[string]any{
			"post_id":          map[string]any{"type": "string", "description": "Platform id of the post"},
			"engagement_rate":  map[string]any{"type": "number"},
			"impressions":      map[string]any{"type": "integer"},
			"followers_gained": map[string]any{"type": "integer"},
			"hook_pattern":     map[string]any{"type": "string"},
			"topic":            map[string]any{"type": "string"},
			"generator_used":   map[string]any{"type": "string"},
		}, []string{"post_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		attr := req.(*Attribution)
		if err := s.UpsertAttribution(ctx, attr); err != nil {
			return nil, err
		}
		return s.Attribution(ctx, attr.PostID)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var attr Attribution
		if err := json.Unmarshal(req.Params.Arguments, &attr); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &attr}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
