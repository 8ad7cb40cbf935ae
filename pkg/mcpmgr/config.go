package mcpmgr

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
)

// RPCDirection represents the direction of an observed JSON-RPC message.
type RPCDirection string

const (
	RPCDirectionSend    RPCDirection = "send"
	RPCDirectionReceive RPCDirection = "receive"
)

// RPCLogEvent encapsulates JSON-RPC traffic for custom logging.
type RPCLogEvent struct {
	Direction RPCDirection
	Message   []byte
	ServerID  string
}

// RPCLogger is invoked for each JSON-RPC message when logging is enabled.
type RPCLogger func(RPCLogEvent)

// HTTPAuthProvider dynamically supplies an Authorization header (for example,
// "Bearer <token>") for every outbound HTTP request to one server. It is
// independent of RequiresAuth, which resolves a token once per connect.
type HTTPAuthProvider func(context.Context) (string, error)

// HTTPRequestInit carries static request options applied to every request to
// a server. Only headers are currently supported.
type HTTPRequestInit struct {
	Headers http.Header
}

// BaseServerConfig captures settings shared by all transport types.
type BaseServerConfig struct {
	// Disabled servers are skipped by Initialize and ReloadConfiguration.
	Disabled      bool
	ClientOptions mcp.ClientOptions
	// Timeout bounds each connect attempt and each invocation. Zero falls
	// back to ManagerOptions.DefaultTimeout.
	Timeout    time.Duration
	Version    string
	OnError    func(error)
	LogJSONRPC bool
	RPCLogger  RPCLogger
}

// StdioServerConfig describes an MCP server launched as a subprocess that
// speaks the protocol over its standard streams.
type StdioServerConfig struct {
	BaseServerConfig
	Command string
	Args    []string
	// Env is merged over the parent process environment.
	Env map[string]string
	// Dir is the working directory of the subprocess when non-empty.
	Dir string
}

func (c *StdioServerConfig) base() *BaseServerConfig { return &c.BaseServerConfig }

// HTTPServerConfig describes an MCP server reachable over HTTP transports.
type HTTPServerConfig struct {
	BaseServerConfig
	Endpoint string
	// Kind selects TransportStreamableHTTP (the default when empty) or
	// TransportSSE. The manager never substitutes one for the other.
	Kind       ConfigTransport
	HTTPClient *http.Client
	MaxRetries int

	RequestInit  *HTTPRequestInit
	AuthProvider HTTPAuthProvider

	// RequiresAuth makes the manager resolve a bearer token through the
	// CredentialProvider for (caller identity, AuthServiceID) before dialing.
	RequiresAuth  bool
	AuthServiceID string
}

func (c *HTTPServerConfig) base() *BaseServerConfig { return &c.BaseServerConfig }

// ServerConfig is implemented by all transport-specific configurations.
type ServerConfig interface {
	base() *BaseServerConfig
}

// ManagerOptions configures a Manager instance.
type ManagerOptions struct {
	// DefaultClientName overrides the client name advertised during
	// initialization. When empty, the server ID is used.
	DefaultClientName string
	// DefaultClientVersion controls the semantic version reported to servers.
	DefaultClientVersion string
	// DefaultTimeout is applied whenever a server configuration omits an
	// explicit timeout.
	DefaultTimeout time.Duration
	// DefaultClientOptions are merged into each server's BaseServerConfig
	// options prior to connection.
	DefaultClientOptions mcp.ClientOptions
	// DefaultLogJSONRPC toggles logging of JSON-RPC traffic for all servers
	// unless overridden per server.
	DefaultLogJSONRPC bool
	// RPCLogger provides a custom logger for JSON-RPC traffic; it takes
	// precedence over DefaultLogJSONRPC.
	RPCLogger RPCLogger
	// AutoConnect runs Initialize in the background right after construction.
	AutoConnect bool

	// Logger receives structured diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
	// ConfigSource supplies enabled servers to Initialize and
	// ReloadConfiguration. When nil the map passed to NewManager is used.
	ConfigSource ConfigSource
	// Credentials resolves bearer tokens for servers with RequiresAuth.
	Credentials CredentialProvider
	// Transports replaces the built-in stdio/HTTP transport factory.
	Transports TransportFactory
	// Clock drives reconnection timers. Defaults to the real clock.
	Clock clockwork.Clock
	// Reconnect controls the retry delay schedule.
	Reconnect ReconnectPolicy
	// ConnectConcurrency caps parallel connects during Initialize.
	// Defaults to 4.
	ConnectConcurrency int
	// MetricsRegisterer receives the manager's collectors. When nil a private
	// registry is used, reachable through Manager.Metrics.
	MetricsRegisterer prometheus.Registerer
}

func (o *ManagerOptions) normalized() ManagerOptions {
	if o == nil {
		return ManagerOptions{}
	}
	return *o
}
