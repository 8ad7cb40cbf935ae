package mcpgateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-session-manager-go/pkg/mcpmgr"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newUpstream returns an in-process MCP server exposing one tool, one prompt
// and one resource, each tagged with label.
func newUpstream(label string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: label, Version: "0.0.1"}, nil)
	server.AddTool(&mcp.Tool{
		Name:        "whoami",
		Description: "reports the upstream label",
		InputSchema: &jsonschema.Schema{Type: "object"},
	}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: label + ":" + string(req.Params.Arguments)}}}, nil
	})
	server.AddPrompt(&mcp.Prompt{Name: "greet"}, func(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		return &mcp.GetPromptResult{Messages: []*mcp.PromptMessage{{
			Role:    "user",
			Content: &mcp.TextContent{Text: label + " greets " + req.Params.Arguments["name"]},
		}}}, nil
	})
	server.AddResource(&mcp.Resource{Name: "readme", URI: "test://readme", MIMEType: "text/plain"}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		return &mcp.ReadResourceResult{Contents: []*mcp.ResourceContents{{URI: req.Params.URI, MIMEType: "text/plain", Text: label + " readme"}}}, nil
	})
	return server
}

// upstreams connects manager sessions to in-process servers.
type upstreams struct {
	mu      sync.Mutex
	servers map[string]*mcp.Server
	callers []string
}

func (u *upstreams) Build(ctx context.Context, req mcpmgr.TransportRequest) (*mcpmgr.Channel, error) {
	u.mu.Lock()
	server, ok := u.servers[req.ServerID]
	u.callers = append(u.callers, req.CallerID)
	u.mu.Unlock()
	if !ok {
		return nil, &mcpmgr.TransportError{Server: req.ServerID, Err: errors.New("connection refused")}
	}
	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	if _, err := server.Connect(context.Background(), serverTransport, nil); err != nil {
		return nil, err
	}
	return &mcpmgr.Channel{Transport: clientTransport}, nil
}

func newTestManager(t *testing.T, labels ...string) *mcpmgr.Manager {
	t.Helper()
	u := &upstreams{servers: make(map[string]*mcp.Server)}
	cfg := make(map[string]mcpmgr.ServerConfig, len(labels))
	for _, label := range labels {
		u.servers[label] = newUpstream(label)
		cfg[label] = &mcpmgr.StdioServerConfig{Command: label}
	}
	m := mcpmgr.NewManager(cfg, &mcpmgr.ManagerOptions{
		Transports: u,
		Logger:     quietLogger(),
		Reconnect:  mcpmgr.ReconnectPolicy{Disabled: true},
	})
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

// connectGateway opens an in-memory client session against the gateway's
// MCP server.
func connectGateway(t *testing.T, g *Gateway) *mcp.ClientSession {
	t.Helper()
	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	ss, err := g.server.Connect(context.Background(), serverTransport, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	t.Cleanup(func() { _ = ss.Close() })
	client := mcp.NewClient(&mcp.Implementation{Name: "gateway-test-client", Version: "1.0.0"}, nil)
	cs, err := client.Connect(context.Background(), clientTransport, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func listToolNames(t *testing.T, cs *mcp.ClientSession) map[string]bool {
	t.Helper()
	res, err := cs.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	names := make(map[string]bool, len(res.Tools))
	for _, tool := range res.Tools {
		names[tool.Name] = true
	}
	return names
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
