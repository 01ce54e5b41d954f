package probe

import (
	"context"
	"encoding/json"
	"fmt"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/quayside/workorder/pkg/engine"
)

// MCPProbe queries through an MCP data service exposing a read-only "query"
// tool over streamable HTTP.
type MCPProbe struct {
	client *mcpclient.Client
	tool   string
}

// MCPConfig configures an MCPProbe.
type MCPConfig struct {
	BaseURL string
	Token   string // optional bearer token
	Tool    string // tool name; defaults to "query"
}

// mcpQueryResult is the JSON payload the query tool returns in its text
// content.
type mcpQueryResult struct {
	Columns  []string `json:"columns"`
	Rows     [][]any  `json:"rows"`
	RowCount int      `json:"row_count"`
}

// NewMCPProbe connects to the MCP service and performs the initialize
// handshake.
func NewMCPProbe(ctx context.Context, cfg MCPConfig) (*MCPProbe, error) {
	var opts []transport.StreamableHTTPCOption
	if cfg.Token != "" {
		opts = append(opts, transport.WithHTTPHeaders(map[string]string{
			"Authorization": "Bearer " + cfg.Token,
		}))
	}
	c, err := mcpclient.NewStreamableHttpClient(cfg.BaseURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("probe: create mcp client: %w", err)
	}
	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("probe: start mcp transport: %w", err)
	}
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "workorder", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return nil, fmt.Errorf("probe: initialize mcp session: %w", err)
	}
	tool := cfg.Tool
	if tool == "" {
		tool = "query"
	}
	return &MCPProbe{client: c, tool: tool}, nil
}

// Close tears the MCP session down.
func (p *MCPProbe) Close() error { return p.client.Close() }

// Query runs one SELECT through the MCP query tool.
func (p *MCPProbe) Query(ctx context.Context, sqlText string) (*engine.QueryResult, error) {
	if err := EnsureReadOnly(sqlText); err != nil {
		return nil, err
	}
	req := mcp.CallToolRequest{}
	req.Params.Name = p.tool
	req.Params.Arguments = map[string]any{"sql": sqlText}

	res, err := p.client.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("probe: call %s tool: %w", p.tool, err)
	}
	if res.IsError {
		return nil, fmt.Errorf("probe: %s tool error: %s", p.tool, flattenText(res))
	}
	payload := flattenText(res)
	var qr mcpQueryResult
	if err := json.Unmarshal([]byte(payload), &qr); err != nil {
		return nil, fmt.Errorf("probe: decode %s tool result: %w", p.tool, err)
	}
	return &engine.QueryResult{Columns: qr.Columns, Rows: qr.Rows, RowCount: qr.RowCount}, nil
}

func flattenText(res *mcp.CallToolResult) string {
	var out string
	for _, c := range res.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			out += tc.Text
		}
	}
	return out
}
