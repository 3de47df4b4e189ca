package poster

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/plume/kit"
	"github.com/hazyhaar/plume/textmatch"
)

// RegisterMCP registers the poster's probe tools on an MCP server. The
// posting operations themselves are exposed through the queue, not here:
// a tool call must never block for the minutes a live chain run takes.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerSimilarityTool(srv)
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

type similarityReq struct {
	Text      string `json:"text"`
	Candidate string `json:"candidate"`
}

// registerSimilarityTool exposes the content-match scoring the extractor
// applies, so operators can check how a draft would compare against what
// the platform renders before posting it.
func (s *Service) registerSimilarityTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "plume_similarity",
		Description: "Score how closely two texts match under plume's token similarity model, against the configured acceptance threshold.",
		InputSchema: inputSchema(map[string]any{
			"text":      map[string]any{"type": "string", "description": "Draft text"},
			"candidate": map[string]any{"type": "string", "description": "Rendered text to compare against"},
		}, []string{"text", "candidate"}),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		r := req.(*similarityReq)
		score := textmatch.Similarity(r.Text, r.Candidate)
		return map[string]any{
			"score":     score,
			"threshold": s.cfg.Extract.SimilarityThreshold,
			"match":     score >= s.cfg.Extract.SimilarityThreshold,
		}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r similarityReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
