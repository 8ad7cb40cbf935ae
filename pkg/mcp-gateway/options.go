package mcpgateway

import (
	"log/slog"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/auth"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Options configure a Gateway instance.
type Options struct {
	// Implementation identifies the gateway's MCP server implementation metadata.
	Implementation *mcp.Implementation
	// Addr controls the listen address used by ListenAndServe. Defaults to ":8700".
	Addr string
	// Path mounts the Streamable handler. Defaults to "/mcp". A missing
	// leading slash is added.
	Path string
	// Namespace customizes how upstream names and URIs are exposed to downstream
	// clients. Defaults to ServerPrefixNamespace.
	Namespace NamespaceStrategy
	// Streamable tweaks the Streamable HTTP handler behavior passed to
	// mcp.NewStreamableHTTPHandler.
	Streamable mcp.StreamableHTTPOptions
	// Logger receives structured diagnostics.
	Logger *slog.Logger
	// ShutdownTimeout bounds how long ListenAndServe waits for in-flight
	// requests once its context ends. Defaults to 10s.
	ShutdownTimeout time.Duration

	// TokenVerifier enables bearer authentication on the MCP endpoint.
	TokenVerifier auth.TokenVerifier
	// TokenOptions tune the bearer check. Setting them without a
	// TokenVerifier is an error.
	TokenOptions *auth.RequireBearerTokenOptions
	// AuthorizationServer is advertised by the protected resource metadata
	// route when bearer authentication is enabled.
	AuthorizationServer string
	// AllowedOrigins lists origins allowed to read the metadata and status
	// routes from a browser. When empty any origin may read the metadata
	// route and the status routes send no CORS headers.
	AllowedOrigins []string

	// DisableStatus removes the /status routes.
	DisableStatus bool
	// DisableMetrics removes the /metrics route.
	DisableMetrics bool
}

func (o *Options) withDefaults() Options {
	if o == nil {
		o = &Options{}
	}
	opts := *o
	if opts.Implementation == nil {
		opts.Implementation = &mcp.Implementation{
			Name:    "mcpgateway",
			Title:   "MCP Gateway",
			Version: "1.0.0",
		}
	} else {
		impl := *opts.Implementation
		opts.Implementation = &impl
	}
	if opts.Addr == "" {
		opts.Addr = ":8700"
	}
	if opts.Path == "" {
		opts.Path = "/mcp"
	} else if !strings.HasPrefix(opts.Path, "/") {
		opts.Path = "/" + opts.Path
	}
	if opts.Namespace == nil {
		opts.Namespace = ServerPrefixNamespace{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	return opts
}
