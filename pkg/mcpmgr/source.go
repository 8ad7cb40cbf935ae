package mcpmgr

import "context"

// ConfigSource supplies the server configurations used by Initialize and
// ReloadConfiguration. Implementations may return disabled entries; the
// manager filters them out.
type ConfigSource interface {
	Servers(ctx context.Context) (map[string]ServerConfig, error)
}

// StaticConfigSource serves a fixed map.
type StaticConfigSource map[string]ServerConfig

func (s StaticConfigSource) Servers(context.Context) (map[string]ServerConfig, error) {
	out := make(map[string]ServerConfig, len(s))
	for id, cfg := range s {
		out[id] = cfg
	}
	return out, nil
}

// ConfigSourceFunc adapts a function to ConfigSource.
type ConfigSourceFunc func(ctx context.Context) (map[string]ServerConfig, error)

func (f ConfigSourceFunc) Servers(ctx context.Context) (map[string]ServerConfig, error) {
	return f(ctx)
}

func enabledServers(all map[string]ServerConfig) map[string]ServerConfig {
	out := make(map[string]ServerConfig, len(all))
	for id, cfg := range all {
		if IsEnabled(cfg) {
			out[id] = cfg
		}
	}
	return out
}
