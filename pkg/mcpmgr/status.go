package mcpmgr

import (
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ConnectionStatus represents the lifecycle of a managed connection.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	// StatusRetrying means the server has no live session and a reconnection
	// timer is armed.
	StatusRetrying ConnectionStatus = "retrying"
	// StatusShutdown is entered through an explicit disconnect. Only a new
	// ConnectToServer call leaves it.
	StatusShutdown ConnectionStatus = "shutdown"
)

// ServerStatus is the externally observable projection of a server's session
// (or of its absence).
type ServerStatus struct {
	ServerName        string              `json:"serverName"`
	Transport         ConfigTransport     `json:"transport"`
	State             ConnectionStatus    `json:"state"`
	Connected         bool                `json:"connected"`
	LastConnectedAt   *time.Time          `json:"lastConnectedAt,omitempty"`
	LastError         string              `json:"lastError,omitempty"`
	ServerInfo        *mcp.Implementation `json:"serverInfo,omitempty"`
	Tools             []Tool              `json:"tools"`
	Resources         []Resource          `json:"resources"`
	Prompts           []Prompt            `json:"prompts"`
	ReconnectAttempts int                 `json:"reconnectAttempts,omitempty"`
	NextRetryAt       *time.Time          `json:"nextRetryAt,omitempty"`
}

// Tool is a tool discovered on a specific server.
type Tool struct {
	ServerName  string               `json:"serverName"`
	Name        string               `json:"name"`
	Title       string               `json:"title,omitempty"`
	Description string               `json:"description,omitempty"`
	InputSchema any                  `json:"inputSchema,omitempty"`
	Annotations *mcp.ToolAnnotations `json:"annotations,omitempty"`
}

// Resource is a resource discovered on a specific server.
type Resource struct {
	ServerName  string `json:"serverName"`
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MIMEType    string `json:"mimeType,omitempty"`
}

// Prompt is a prompt discovered on a specific server.
type Prompt struct {
	ServerName  string                `json:"serverName"`
	Name        string                `json:"name"`
	Description string                `json:"description,omitempty"`
	Arguments   []*mcp.PromptArgument `json:"arguments,omitempty"`
}

func toolFromMCP(serverName string, t *mcp.Tool) Tool {
	return Tool{
		ServerName:  serverName,
		Name:        t.Name,
		Title:       t.Title,
		Description: t.Description,
		InputSchema: t.InputSchema,
		Annotations: t.Annotations,
	}
}

func resourceFromMCP(serverName string, r *mcp.Resource) Resource {
	return Resource{
		ServerName:  serverName,
		URI:         r.URI,
		Name:        r.Name,
		Description: r.Description,
		MIMEType:    r.MIMEType,
	}
}

func promptFromMCP(serverName string, p *mcp.Prompt) Prompt {
	return Prompt{
		ServerName:  serverName,
		Name:        p.Name,
		Description: p.Description,
		Arguments:   p.Arguments,
	}
}

// clone returns a copy whose slices and pointers can be handed to callers
// without exposing record internals.
func (s ServerStatus) clone() ServerStatus {
	out := s
	out.Tools = append([]Tool{}, s.Tools...)
	out.Resources = append([]Resource{}, s.Resources...)
	out.Prompts = append([]Prompt{}, s.Prompts...)
	if s.LastConnectedAt != nil {
		t := *s.LastConnectedAt
		out.LastConnectedAt = &t
	}
	if s.NextRetryAt != nil {
		t := *s.NextRetryAt
		out.NextRetryAt = &t
	}
	if s.ServerInfo != nil {
		info := *s.ServerInfo
		out.ServerInfo = &info
	}
	return out
}
