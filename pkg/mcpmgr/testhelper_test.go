package mcpmgr

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// testServerDef describes an in-process MCP server used as a connect target.
type testServerDef struct {
	tools     []string
	prompts   []string
	resources []string
	// failResources makes resources/list return an error.
	failResources bool
	pageSize      int
}

func newTestServer(def testServerDef) *mcp.Server {
	var opts *mcp.ServerOptions
	if def.pageSize > 0 {
		opts = &mcp.ServerOptions{PageSize: def.pageSize}
	}
	server := mcp.NewServer(&mcp.Implementation{Name: "test-server", Version: "0.0.1"}, opts)
	for _, name := range def.tools {
		addEchoTool(server, name)
	}
	for _, name := range def.prompts {
		server.AddPrompt(&mcp.Prompt{Name: name, Description: "prompt " + name}, func(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
			return &mcp.GetPromptResult{
				Description: name,
				Messages: []*mcp.PromptMessage{{
					Role:    "user",
					Content: &mcp.TextContent{Text: name + ":" + req.Params.Arguments["topic"]},
				}},
			}, nil
		})
	}
	for _, name := range def.resources {
		uri := "test://" + name
		server.AddResource(&mcp.Resource{Name: name, URI: uri, MIMEType: "text/plain"}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			return &mcp.ReadResourceResult{
				Contents: []*mcp.ResourceContents{{URI: req.Params.URI, MIMEType: "text/plain", Text: "contents of " + req.Params.URI}},
			}, nil
		})
	}
	if def.failResources {
		server.AddReceivingMiddleware(func(next mcp.MethodHandler) mcp.MethodHandler {
			return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
				if method == "resources/list" {
					return nil, errors.New("resource index unavailable")
				}
				return next(ctx, method, req)
			}
		})
	}
	return server
}

func addEchoTool(server *mcp.Server, name string) {
	server.AddTool(&mcp.Tool{
		Name:        name,
		Description: "echoes " + name,
		InputSchema: &jsonschema.Schema{Type: "object"},
	}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: name}}}, nil
	})
}

// inMemoryFactory serves named servers from in-process MCP servers. Unknown
// names go to fallback, or fail with a TransportError when it is nil.
type inMemoryFactory struct {
	mu       sync.Mutex
	servers  map[string]*mcp.Server
	sessions map[string][]*mcp.ServerSession
	builds   map[string]int
	fallback TransportFactory
	// gate, when set for a server, blocks its next Build until a value is
	// received or the attempt context ends.
	gate map[string]chan struct{}
}

func newInMemoryFactory(servers map[string]*mcp.Server) *inMemoryFactory {
	return &inMemoryFactory{
		servers:  servers,
		sessions: make(map[string][]*mcp.ServerSession),
		builds:   make(map[string]int),
		gate:     make(map[string]chan struct{}),
	}
}

func (f *inMemoryFactory) Build(ctx context.Context, req TransportRequest) (*Channel, error) {
	f.mu.Lock()
	f.builds[req.ServerID]++
	server, ok := f.servers[req.ServerID]
	gate := f.gate[req.ServerID]
	delete(f.gate, req.ServerID)
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
		}
	}
	if !ok {
		if f.fallback != nil {
			return f.fallback.Build(ctx, req)
		}
		return nil, &TransportError{Server: req.ServerID, Err: errors.New("connection refused")}
	}
	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	ss, err := server.Connect(context.Background(), serverTransport, nil)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.sessions[req.ServerID] = append(f.sessions[req.ServerID], ss)
	f.mu.Unlock()
	return &Channel{Transport: clientTransport}, nil
}

func (f *inMemoryFactory) setServer(id string, server *mcp.Server) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if server == nil {
		delete(f.servers, id)
		return
	}
	f.servers[id] = server
}

func (f *inMemoryFactory) hold(id string) chan struct{} {
	ch := make(chan struct{})
	f.mu.Lock()
	f.gate[id] = ch
	f.mu.Unlock()
	return ch
}

func (f *inMemoryFactory) buildCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.builds[id]
}

// dropSessions closes the server side of every channel built for id.
func (f *inMemoryFactory) dropSessions(id string) {
	f.mu.Lock()
	sessions := f.sessions[id]
	delete(f.sessions, id)
	f.mu.Unlock()
	for _, ss := range sessions {
		_ = ss.Close()
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, what string, cond func() bool) {
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

func pendingRetry(m *Manager, serverID string) bool {
	rec := m.lookup(serverID)
	if rec == nil {
		return false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.retry != nil
}

func toolNames(tools []Tool) []string {
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.ServerName+"/"+tool.Name)
	}
	return names
}

func textOf(t *testing.T, content []mcp.Content) string {
	t.Helper()
	if len(content) == 0 {
		t.Fatalf("empty content")
	}
	text, ok := content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", content[0])
	}
	return text.Text
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func envContains(env []string, key, value string) bool {
	target := key + "=" + value
	for _, item := range env {
		if item == target {
			return true
		}
	}
	return false
}
