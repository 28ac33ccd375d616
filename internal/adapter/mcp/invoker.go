// Package mcp implements the specialist port over the Model Context
// Protocol: each invocation is a tools/call against a configured MCP server.
package mcp

import (
	"context"
	"fmt"
	"strings"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpprotocol "github.com/mark3labs/mcp-go/mcp"
)

// ServerDef describes how to reach an MCP server.
type ServerDef struct {
	Transport string // "stdio" | "sse" | "streamable_http"
	URL       string
	Command   string
	Args      []string
	Headers   map[string]string
}

// Invoker calls one tool on one MCP server. It holds an initialized client
// for the process lifetime; construction performs the MCP handshake.
type Invoker struct {
	client mcpclient.MCPClient
	tool   string
}

// NewInvoker connects to the MCP server, performs the Initialize handshake
// and returns an invoker bound to the given tool.
func NewInvoker(ctx context.Context, def ServerDef, tool string) (*Invoker, error) {
	client, err := createClient(def)
	if err != nil {
		return nil, fmt.Errorf("create mcp client: %w", err)
	}

	initReq := mcpprotocol.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpprotocol.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpprotocol.Implementation{
		Name:    "moxie",
		Version: "1.0.0",
	}
	if _, err := client.Initialize(ctx, initReq); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("mcp initialize: %w", err)
	}

	return &Invoker{client: client, tool: tool}, nil
}

// Invoke implements the specialist port: it calls the bound tool with the
// query and request context and returns the concatenated text content.
func (i *Invoker) Invoke(ctx context.Context, query string, reqContext map[string]string) (string, error) {
	args := map[string]any{"query": query}
	for k, v := range reqContext {
		args[k] = v
	}

	req := mcpprotocol.CallToolRequest{}
	req.Params.Name = i.tool
	req.Params.Arguments = args

	result, err := i.client.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("mcp call %s: %w", i.tool, err)
	}
	if result.IsError {
		return "", fmt.Errorf("mcp tool %s reported an error", i.tool)
	}

	var b strings.Builder
	for _, content := range result.Content {
		if text, ok := content.(mcpprotocol.TextContent); ok {
			b.WriteString(text.Text)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("mcp tool %s returned no text content", i.tool)
	}
	return b.String(), nil
}

// Close shuts down the underlying MCP client.
func (i *Invoker) Close() error {
	return i.client.Close()
}

// createClient builds an mcp-go client for the given server definition.
func createClient(def ServerDef) (mcpclient.MCPClient, error) {
	switch def.Transport {
	case "stdio":
		return mcpclient.NewStdioMCPClient(def.Command, nil, def.Args...)

	case "sse":
		var opts []transport.ClientOption
		if len(def.Headers) > 0 {
			opts = append(opts, transport.WithHeaders(def.Headers))
		}
		return mcpclient.NewSSEMCPClient(def.URL, opts...)

	case "streamable_http":
		var opts []transport.StreamableHTTPCOption
		if len(def.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(def.Headers))
		}
		return mcpclient.NewStreamableHttpClient(def.URL, opts...)

	default:
		return nil, fmt.Errorf("unsupported transport: %s", def.Transport)
	}
}
