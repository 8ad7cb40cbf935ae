package mcpgateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-session-manager-go/pkg/mcpmgr"
)

// Gateway exposes a Streamable MCP server that fronts every server managed by
// mcpmgr under a single HTTP endpoint.
type Gateway struct {
	manager *mcpmgr.Manager
	opts    Options

	features *featureIndex

	server        *mcp.Server
	streamHandler *mcp.StreamableHTTPHandler
	mux           *http.ServeMux

	// syncMu serializes index updates with the matching server mutations.
	syncMu sync.Mutex

	httpServerMu sync.Mutex
	httpServer   *http.Server
}

// NewGateway builds a Gateway, mirrors the manager's current capability
// snapshot and follows status changes from then on. Mirroring reads the
// manager's snapshots only; it never talks to upstream servers.
func NewGateway(mgr *mcpmgr.Manager, opts *Options) (*Gateway, error) {
	if mgr == nil {
		return nil, fmt.Errorf("mcpgateway: manager is required")
	}
	options := opts.withDefaults()
	if options.TokenOptions != nil && options.TokenVerifier == nil {
		return nil, fmt.Errorf("mcpgateway: TokenOptions require a TokenVerifier")
	}
	g := &Gateway{
		manager:  mgr,
		opts:     options,
		features: newFeatureIndex(options.Namespace),
	}

	g.server = mcp.NewServer(options.Implementation, &mcp.ServerOptions{
		HasTools:     true,
		HasPrompts:   true,
		HasResources: true,
	})
	g.streamHandler = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return g.server
	}, &options.Streamable)
	g.mux = g.buildMux()

	mgr.OnStatusChange(func(status mcpmgr.ServerStatus) {
		g.SyncServer(status.ServerName)
	})
	mgr.OnServerRemoved(g.forget)
	g.SyncAll()

	return g, nil
}

// Options returns the effective options.
func (g *Gateway) Options() Options {
	return g.opts
}

// Handler exposes the HTTP handler serving the MCP endpoint and the auxiliary
// routes.
func (g *Gateway) Handler() http.Handler {
	return g.mux
}

// ServeMux returns the mux behind Handler so callers can add routes.
func (g *Gateway) ServeMux() *http.ServeMux {
	return g.mux
}

// ListenAndServe runs an HTTP server until the provided context is cancelled or
// the server stops.
func (g *Gateway) ListenAndServe(ctx context.Context) error {
	g.httpServerMu.Lock()
	if g.httpServer != nil {
		serv := g.httpServer
		g.httpServerMu.Unlock()
		return fmt.Errorf("mcpgateway: server already running on %s", serv.Addr)
	}
	srv := &http.Server{Addr: g.opts.Addr, Handler: g.Handler()}
	g.httpServer = srv
	g.httpServerMu.Unlock()
	defer func() {
		g.httpServerMu.Lock()
		if g.httpServer == srv {
			g.httpServer = nil
		}
		g.httpServerMu.Unlock()
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), g.opts.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown stops the embedded HTTP server if it is running.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.httpServerMu.Lock()
	srv := g.httpServer
	g.httpServer = nil
	g.httpServerMu.Unlock()
	if srv == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return srv.Shutdown(ctx)
}

// SyncAll mirrors every known server.
func (g *Gateway) SyncAll() {
	for _, serverID := range g.manager.ListServers() {
		g.SyncServer(serverID)
	}
}

// SyncServer replaces the server's exposed features with those in its
// current status. Servers without a live session expose nothing.
func (g *Gateway) SyncServer(serverID string) {
	g.syncMu.Lock()
	defer g.syncMu.Unlock()

	status, ok := g.manager.GetServerStatus(serverID)
	if !ok || !status.Connected {
		g.applyRemovalLocked(g.features.Forget(serverID))
		return
	}

	removedTools, addedTools := g.features.UpdateTools(serverID, status.Tools)
	if len(removedTools) > 0 {
		g.server.RemoveTools(removedTools...)
	}
	for _, reg := range addedTools {
		g.register("tool", serverID, reg.Target.GatewayName, func() {
			g.server.AddTool(reg.Tool, g.makeToolHandler(reg.Target))
		})
	}

	removedPrompts, addedPrompts := g.features.UpdatePrompts(serverID, status.Prompts)
	if len(removedPrompts) > 0 {
		g.server.RemovePrompts(removedPrompts...)
	}
	for _, reg := range addedPrompts {
		g.register("prompt", serverID, reg.Target.GatewayName, func() {
			g.server.AddPrompt(reg.Prompt, g.makePromptHandler(reg.Target))
		})
	}

	removedResources, addedResources := g.features.UpdateResources(serverID, status.Resources)
	if len(removedResources) > 0 {
		g.server.RemoveResources(removedResources...)
	}
	for _, reg := range addedResources {
		g.register("resource", serverID, reg.Target.GatewayURI, func() {
			g.server.AddResource(reg.Resource, g.makeResourceHandler(reg.Target))
		})
	}
}

// AttachServer connects a server through the manager and mirrors it.
func (g *Gateway) AttachServer(ctx context.Context, serverID string, cfg mcpmgr.ServerConfig) error {
	if _, err := g.manager.ConnectToServer(ctx, serverID, cfg); err != nil {
		return err
	}
	g.SyncServer(serverID)
	return nil
}

func (g *Gateway) forget(serverID string) {
	g.syncMu.Lock()
	defer g.syncMu.Unlock()
	g.applyRemovalLocked(g.features.Forget(serverID))
}

func (g *Gateway) applyRemovalLocked(r removal) {
	if r.empty() {
		return
	}
	if len(r.Tools) > 0 {
		g.server.RemoveTools(r.Tools...)
	}
	if len(r.Prompts) > 0 {
		g.server.RemovePrompts(r.Prompts...)
	}
	if len(r.Resources) > 0 {
		g.server.RemoveResources(r.Resources...)
	}
}

// register runs add and logs instead of crashing when the server rejects an
// upstream definition.
func (g *Gateway) register(kind, serverID, name string, add func()) {
	defer func() {
		if r := recover(); r != nil {
			g.opts.Logger.Warn("skipping upstream feature", "kind", kind, "server", serverID, "name", name, "reason", r)
		}
	}()
	add()
}

func (g *Gateway) makeToolHandler(target toolTarget) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		params := &mcp.CallToolParams{Name: target.NativeName}
		if req.Params != nil {
			params.Meta = req.Params.Meta
			if len(req.Params.Arguments) > 0 {
				params.Arguments = req.Params.Arguments
			}
		}
		return g.manager.CallToolWithParams(ctx, target.ServerID, params)
	}
}

func (g *Gateway) makePromptHandler(target promptTarget) mcp.PromptHandler {
	return func(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		var args map[string]string
		if req.Params != nil {
			args = req.Params.Arguments
		}
		return g.manager.GetPrompt(ctx, target.ServerID, target.NativeName, args)
	}
}

func (g *Gateway) makeResourceHandler(target resourceTarget) mcp.ResourceHandler {
	return func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		res, err := g.manager.ReadResource(ctx, target.ServerID, target.NativeURI)
		if err != nil {
			return nil, err
		}
		out := *res
		out.Contents = make([]*mcp.ResourceContents, 0, len(res.Contents))
		for _, c := range res.Contents {
			if c == nil {
				continue
			}
			rc := *c
			if rc.URI == target.NativeURI {
				rc.URI = target.GatewayURI
			}
			out.Contents = append(out.Contents, &rc)
		}
		return &out, nil
	}
}
