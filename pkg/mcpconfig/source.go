// Package mcpconfig loads mcpmgr server configurations from YAML or JSON files
// with environment overrides, and watches those files for changes.
package mcpconfig

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/vikashloomba/mcp-session-manager-go/pkg/mcpmgr"
)

// DefaultEnvPrefix prefixes environment overrides. A double underscore
// separates nesting levels, so MCPMGR_SERVERS__FILES__TIMEOUT=45s sets
// servers.files.timeout. Server names and entry fields match case
// insensitively; keys below env and headers keep their case.
const DefaultEnvPrefix = "MCPMGR_"

// entryKeys maps lowercased ServerEntry keys to their koanf tags.
var entryKeys = func() map[string]string {
	t := reflect.TypeOf(ServerEntry{})
	keys := make(map[string]string, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		if tag := t.Field(i).Tag.Get("koanf"); tag != "" {
			keys[strings.ToLower(tag)] = tag
		}
	}
	return keys
}()

// ServerEntry is one server as written in a config file.
type ServerEntry struct {
	// Type is stdio, streamable-http or sse. When empty it is inferred from
	// whether command or url is set.
	Type          string            `koanf:"type"`
	Command       string            `koanf:"command"`
	Args          []string          `koanf:"args"`
	Env           map[string]string `koanf:"env"`
	Cwd           string            `koanf:"cwd"`
	URL           string            `koanf:"url"`
	RequiresAuth  bool              `koanf:"requiresAuth"`
	AuthServiceID string            `koanf:"authServiceId"`
	Headers       map[string]string `koanf:"headers"`
	MaxRetries    int               `koanf:"maxRetries"`
	Enabled       *bool             `koanf:"enabled"`
	Timeout       time.Duration     `koanf:"timeout"`
}

// IsEnabled reports whether the entry is enabled. Entries are enabled unless
// they say otherwise.
func (e ServerEntry) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

// File is the decoded config file.
type File struct {
	Servers map[string]ServerEntry `koanf:"servers"`
}

// FileSource reads server configurations from Path on every call, so edits
// are picked up by mcpmgr.Manager.ReloadConfiguration.
type FileSource struct {
	Path string
	// EnvPrefix overrides DefaultEnvPrefix.
	EnvPrefix string
	// DisableEnv ignores environment overrides.
	DisableEnv bool
}

var _ mcpmgr.ConfigSource = (*FileSource)(nil)

// Load parses the file and applies environment overrides.
func (s *FileSource) Load() (*File, error) {
	if s.Path == "" {
		return nil, fmt.Errorf("mcpconfig: no config path")
	}
	k := koanf.New(".")
	if err := k.Load(file.Provider(s.Path), parserFor(s.Path)); err != nil {
		return nil, fmt.Errorf("mcpconfig: load %s: %w", s.Path, err)
	}
	if !s.DisableEnv {
		prefix := s.EnvPrefix
		if prefix == "" {
			prefix = DefaultEnvPrefix
		}
		servers := k.MapKeys("servers")
		if err := k.Load(env.ProviderWithValue(prefix, ".", func(key, value string) (string, interface{}) {
			return envKey(strings.TrimPrefix(key, prefix), servers), value
		}), nil); err != nil {
			return nil, fmt.Errorf("mcpconfig: load environment: %w", err)
		}
	}

	var f File
	if err := k.Unmarshal("", &f); err != nil {
		return nil, fmt.Errorf("mcpconfig: decode %s: %w", s.Path, err)
	}
	return &f, nil
}

// envKey turns an environment variable name, prefix removed, into a koanf
// path. Server names are matched against the names already loaded from the
// file and entry fields against the ServerEntry tags.
func envKey(name string, servers []string) string {
	parts := strings.Split(name, "__")
	for i := 0; i < len(parts) && i < 3; i++ {
		parts[i] = strings.ToLower(parts[i])
	}
	if len(parts) > 1 {
		for _, s := range servers {
			if strings.EqualFold(s, parts[1]) {
				parts[1] = s
				break
			}
		}
	}
	if len(parts) > 2 {
		if tag, ok := entryKeys[parts[2]]; ok {
			parts[2] = tag
		}
	}
	return strings.Join(parts, ".")
}

// Servers implements mcpmgr.ConfigSource. Disabled entries are dropped.
// Malformed entries are passed through so the manager reports them per
// server; only an unreadable file fails the call.
func (s *FileSource) Servers(context.Context) (map[string]mcpmgr.ServerConfig, error) {
	f, err := s.Load()
	if err != nil {
		return nil, err
	}
	return f.ServerConfigs(), nil
}

// ServerConfigs converts every enabled entry without validating it.
func (f *File) ServerConfigs() map[string]mcpmgr.ServerConfig {
	out := make(map[string]mcpmgr.ServerConfig, len(f.Servers))
	for name, entry := range f.Servers {
		if !entry.IsEnabled() {
			continue
		}
		out[name] = entry.ToServerConfig()
	}
	return out
}

// Validate checks every enabled entry and joins the failures, sorted by
// server name.
func (f *File) Validate() error {
	names := make([]string, 0, len(f.Servers))
	for name := range f.Servers {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		entry := f.Servers[name]
		if !entry.IsEnabled() {
			continue
		}
		if err := mcpmgr.ValidateConfig(name, entry.ToServerConfig()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ToServerConfig converts the entry into the matching mcpmgr config variant.
// An entry with neither command nor url becomes a stdio config without a
// command, and an unknown type becomes an http config of that kind; both
// fail mcpmgr.ValidateConfig.
func (e ServerEntry) ToServerConfig() mcpmgr.ServerConfig {
	base := mcpmgr.BaseServerConfig{
		Disabled: !e.IsEnabled(),
		Timeout:  e.Timeout,
	}
	kind := mcpmgr.ConfigTransport(strings.ToLower(strings.TrimSpace(e.Type)))
	if kind == "" && e.Command == "" && e.URL != "" {
		kind = mcpmgr.TransportStreamableHTTP
	}

	switch kind {
	case "", mcpmgr.TransportStdio:
		return &mcpmgr.StdioServerConfig{
			BaseServerConfig: base,
			Command:          e.Command,
			Args:             e.Args,
			Env:              e.Env,
			Dir:              e.Cwd,
		}
	default:
		httpCfg := &mcpmgr.HTTPServerConfig{
			BaseServerConfig: base,
			Endpoint:         e.URL,
			Kind:             kind,
			MaxRetries:       e.MaxRetries,
			RequiresAuth:     e.RequiresAuth,
			AuthServiceID:    e.AuthServiceID,
		}
		if len(e.Headers) > 0 {
			headers := make(http.Header, len(e.Headers))
			for k, v := range e.Headers {
				headers.Set(k, v)
			}
			httpCfg.RequestInit = &mcpmgr.HTTPRequestInit{Headers: headers}
		}
		return httpCfg
	}
}

func parserFor(path string) koanf.Parser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return json.Parser()
	default:
		return yaml.Parser()
	}
}

// Exists reports whether path names a regular file.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// EnvCredentials resolves upstream tokens from environment variables named
// Prefix + SERVICE_ID, upper-cased with dashes and dots turned into
// underscores. The caller identity is ignored.
type EnvCredentials struct {
	Prefix string
}

var _ mcpmgr.CredentialProvider = EnvCredentials{}

// ResolveToken implements mcpmgr.CredentialProvider.
func (e EnvCredentials) ResolveToken(_ context.Context, _, serviceID string) (string, bool, error) {
	prefix := e.Prefix
	if prefix == "" {
		prefix = DefaultEnvPrefix + "TOKEN_"
	}
	name := prefix + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(serviceID))
	token, ok := os.LookupEnv(name)
	if !ok || token == "" {
		return "", false, nil
	}
	return token, true, nil
}
