package mcpmgr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Channel is a constructed transport to one server that has not yet performed
// the MCP handshake.
type Channel struct {
	Transport mcp.Transport
	// Process is the subprocess behind a stdio transport, nil otherwise. The
	// session that installs the channel owns it and kills it on teardown.
	Process *exec.Cmd
}

// TransportRequest describes a single connect attempt.
type TransportRequest struct {
	ServerID string
	Config   ServerConfig
	// CallerID is the identity credentials are resolved for.
	CallerID string
}

// TransportFactory builds channels for connect attempts. Build must not
// perform the MCP handshake.
type TransportFactory interface {
	Build(ctx context.Context, req TransportRequest) (*Channel, error)
}

// TransportFactoryFunc adapts a function to TransportFactory.
type TransportFactoryFunc func(ctx context.Context, req TransportRequest) (*Channel, error)

func (f TransportFactoryFunc) Build(ctx context.Context, req TransportRequest) (*Channel, error) {
	return f(ctx, req)
}

// NewTransportFactory returns the stdio / streamable HTTP / SSE factory used by
// default. creds may be nil when no server requires authentication.
func NewTransportFactory(creds CredentialProvider, logger *slog.Logger) TransportFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &defaultTransports{credentials: creds, logger: logger}
}

type defaultTransports struct {
	credentials CredentialProvider
	logger      *slog.Logger
}

func (f *defaultTransports) Build(ctx context.Context, req TransportRequest) (*Channel, error) {
	if err := ValidateConfig(req.ServerID, req.Config); err != nil {
		return nil, err
	}
	switch cfg := req.Config.(type) {
	case *StdioServerConfig:
		return f.buildStdioTransport(req.ServerID, cfg)
	case *HTTPServerConfig:
		return f.buildHTTPTransport(ctx, req, cfg)
	default:
		return nil, &ConfigError{Server: req.ServerID, Reason: "unsupported config type"}
	}
}

func (f *defaultTransports) buildStdioTransport(serverID string, cfg *StdioServerConfig) (*Channel, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	if cmd.Err != nil {
		return nil, &TransportError{Server: serverID, Err: cmd.Err}
	}
	if len(cfg.Env) > 0 {
		cmd.Env = mergeEnv(os.Environ(), cfg.Env)
	}
	if cfg.Dir != "" {
		cmd.Dir = cfg.Dir
	}
	cmd.Stderr = &stderrLog{logger: f.logger, serverID: serverID}
	return &Channel{Transport: &mcp.CommandTransport{Command: cmd}, Process: cmd}, nil
}

func (f *defaultTransports) buildHTTPTransport(ctx context.Context, req TransportRequest, cfg *HTTPServerConfig) (*Channel, error) {
	var headers http.Header
	if cfg.RequestInit != nil {
		headers = cloneHeader(cfg.RequestInit.Headers)
	}
	if cfg.RequiresAuth {
		token, err := f.resolveToken(ctx, req, cfg)
		if err != nil {
			return nil, err
		}
		if headers == nil {
			headers = http.Header{}
		}
		headers.Set("Authorization", "Bearer "+token)
	}
	client := decorateHTTPClient(cfg.HTTPClient, headers, cfg.AuthProvider)

	var transport mcp.Transport
	switch TransportOf(cfg) {
	case TransportSSE:
		transport = &mcp.SSEClientTransport{Endpoint: cfg.Endpoint, HTTPClient: client}
	default:
		transport = &mcp.StreamableClientTransport{
			Endpoint:   cfg.Endpoint,
			HTTPClient: client,
			MaxRetries: cfg.MaxRetries,
		}
	}
	return &Channel{Transport: transport}, nil
}

func (f *defaultTransports) resolveToken(ctx context.Context, req TransportRequest, cfg *HTTPServerConfig) (string, error) {
	if f.credentials == nil {
		return "", &AuthError{Server: req.ServerID, ServiceID: cfg.AuthServiceID, Err: errors.New("no credential provider configured")}
	}
	token, ok, err := f.credentials.ResolveToken(ctx, req.CallerID, cfg.AuthServiceID)
	if err != nil {
		return "", &AuthError{Server: req.ServerID, ServiceID: cfg.AuthServiceID, Err: err}
	}
	if !ok || token == "" {
		return "", &AuthError{Server: req.ServerID, ServiceID: cfg.AuthServiceID}
	}
	return token, nil
}

// mergeEnv overlays overrides on the parent environment. Overridden keys are
// dropped from the parent list so the child sees a single value.
func mergeEnv(parent []string, overrides map[string]string) []string {
	env := make([]string, 0, len(parent)+len(overrides))
	for _, kv := range parent {
		key, _, _ := strings.Cut(kv, "=")
		if _, ok := overrides[key]; ok {
			continue
		}
		env = append(env, kv)
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+overrides[k])
	}
	return env
}

// stderrLog forwards a subprocess's stderr to the debug log, one record per
// line.
type stderrLog struct {
	logger   *slog.Logger
	serverID string
	mu       sync.Mutex
	buf      bytes.Buffer
}

func (s *stderrLog) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.Write(p)
	for {
		line, err := s.buf.ReadString('\n')
		if err != nil {
			// Partial line: keep it for the next write.
			s.buf.Reset()
			s.buf.WriteString(line)
			break
		}
		if line = strings.TrimRight(line, "\r\n"); line != "" {
			s.logger.Debug("server stderr", "server", s.serverID, "line", line)
		}
	}
	return len(p), nil
}

func decorateHTTPClient(base *http.Client, headers http.Header, provider HTTPAuthProvider) *http.Client {
	if base == nil {
		base = http.DefaultClient
	}
	clone := *base
	clone.Transport = &headerDecorator{
		next:         defaultRoundTripper(base.Transport),
		headers:      cloneHeader(headers),
		authProvider: provider,
	}
	return &clone
}

func cloneHeader(h http.Header) http.Header {
	if len(h) == 0 {
		return nil
	}
	clone := make(http.Header, len(h))
	for k, values := range h {
		clone[k] = append([]string(nil), values...)
	}
	return clone
}

type headerDecorator struct {
	next         http.RoundTripper
	headers      http.Header
	authProvider HTTPAuthProvider
}

func (d *headerDecorator) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrippers must not mutate the caller's request.
	req = req.Clone(req.Context())
	for k, values := range d.headers {
		req.Header.Del(k)
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	if d.authProvider != nil && req.Header.Get("Authorization") == "" {
		token, err := d.authProvider(req.Context())
		if err != nil {
			return nil, err
		}
		if token != "" {
			req.Header.Set("Authorization", token)
		}
	}
	return d.next.RoundTrip(req)
}

func defaultRoundTripper(next http.RoundTripper) http.RoundTripper {
	if next != nil {
		return next
	}
	return http.DefaultTransport
}

// observedTransport marks failures to open the underlying channel as
// TransportErrors and, when a logger is set, mirrors JSON-RPC traffic to it.
type observedTransport struct {
	serverID string
	delegate mcp.Transport
	logger   RPCLogger
}

func (t *observedTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	conn, err := t.delegate.Connect(ctx)
	if err != nil {
		return nil, &TransportError{Server: t.serverID, Err: err}
	}
	if t.logger == nil {
		return conn, nil
	}
	return &loggingConnection{serverID: t.serverID, delegate: conn, logger: t.logger}, nil
}

type loggingConnection struct {
	serverID string
	delegate mcp.Connection
	logger   RPCLogger
	mu       sync.Mutex
}

func (c *loggingConnection) SessionID() string { return c.delegate.SessionID() }

func (c *loggingConnection) Read(ctx context.Context) (jsonrpc.Message, error) {
	msg, err := c.delegate.Read(ctx)
	if err == nil {
		c.emit(RPCDirectionReceive, msg)
	}
	return msg, err
}

func (c *loggingConnection) Write(ctx context.Context, msg jsonrpc.Message) error {
	if err := c.delegate.Write(ctx, msg); err != nil {
		return err
	}
	c.emit(RPCDirectionSend, msg)
	return nil
}

func (c *loggingConnection) Close() error { return c.delegate.Close() }

func (c *loggingConnection) emit(direction RPCDirection, msg jsonrpc.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	encoded, err := json.Marshal(msg)
	if err != nil {
		encoded = []byte(err.Error())
	}
	c.logger(RPCLogEvent{Direction: direction, Message: encoded, ServerID: c.serverID})
}
