package mcpmgr

import (
	"net/url"
	"strings"
)

// Helpers for narrowing and inspecting ServerConfig values without forcing
// consumers to use a type switch at every call site.

// ConfigTransport identifies the transport family used by a ServerConfig.
type ConfigTransport string

const (
	TransportStdio          ConfigTransport = "stdio"
	TransportStreamableHTTP ConfigTransport = "streamable-http"
	TransportSSE            ConfigTransport = "sse"
)

// TransportOf returns the transport kind for a ServerConfig.
// Returns an empty string when the value is nil or an unknown implementation.
func TransportOf(cfg ServerConfig) ConfigTransport {
	switch c := cfg.(type) {
	case *StdioServerConfig:
		return TransportStdio
	case *HTTPServerConfig:
		if c.Kind == "" {
			return TransportStreamableHTTP
		}
		return c.Kind
	default:
		return ""
	}
}

// IsStdio reports whether cfg is a *StdioServerConfig.
func IsStdio(cfg ServerConfig) bool {
	_, ok := cfg.(*StdioServerConfig)
	return ok
}

// IsHTTP reports whether cfg is a *HTTPServerConfig.
func IsHTTP(cfg ServerConfig) bool {
	_, ok := cfg.(*HTTPServerConfig)
	return ok
}

// AsStdio narrows cfg to *StdioServerConfig, returning (nil, false) when it
// does not match.
func AsStdio(cfg ServerConfig) (*StdioServerConfig, bool) {
	c, ok := cfg.(*StdioServerConfig)
	return c, ok
}

// AsHTTP narrows cfg to *HTTPServerConfig, returning (nil, false) when it
// does not match.
func AsHTTP(cfg ServerConfig) (*HTTPServerConfig, bool) {
	c, ok := cfg.(*HTTPServerConfig)
	return c, ok
}

// IsEnabled reports whether cfg is non-nil and not marked Disabled.
func IsEnabled(cfg ServerConfig) bool {
	if cfg == nil {
		return false
	}
	return !cfg.base().Disabled
}

// ValidateConfig checks the static shape of a configuration without touching
// the network or the filesystem.
func ValidateConfig(serverID string, cfg ServerConfig) error {
	switch c := cfg.(type) {
	case nil:
		return &ConfigError{Server: serverID, Reason: "missing configuration"}
	case *StdioServerConfig:
		if strings.TrimSpace(c.Command) == "" {
			return &ConfigError{Server: serverID, Reason: "command missing"}
		}
		return nil
	case *HTTPServerConfig:
		switch TransportOf(c) {
		case TransportStreamableHTTP, TransportSSE:
		default:
			return &ConfigError{Server: serverID, Reason: "unsupported transport " + string(c.Kind)}
		}
		if c.Endpoint == "" {
			return &ConfigError{Server: serverID, Reason: "endpoint missing"}
		}
		u, err := url.Parse(c.Endpoint)
		if err != nil {
			return &ConfigError{Server: serverID, Reason: "endpoint is not a URL", Err: err}
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return &ConfigError{Server: serverID, Reason: "endpoint must be an absolute http(s) URL"}
		}
		if c.RequiresAuth && c.AuthServiceID == "" {
			return &ConfigError{Server: serverID, Reason: "requiresAuth set without auth service id"}
		}
		return nil
	default:
		return &ConfigError{Server: serverID, Reason: "unsupported config type"}
	}
}
