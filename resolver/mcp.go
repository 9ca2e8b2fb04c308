package resolver

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/teralink/kit"
)

// RegisterMCP registers the teralink_resolve tool on srv.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "teralink_resolve",
		Description: "Resolve a TeraBox share link (any mirror domain) into a direct download URL.",
		InputSchema: inputSchema(map[string]any{
			"url": map[string]any{"type": "string", "description": "Share link, e.g. https://teraboxurl.com/s/1AbCdEf"},
		}, []string{"url"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*resolveRequest)
		res := s.Resolve(ctx, r.URL)
		if err := res.Err(); err != nil {
			return nil, err
		}
		return res, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r resolveRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		if r.URL == "" {
			return nil, errors.New("url is required")
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

type resolveRequest struct {
	URL string `json:"url"`
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}
