package mcpgateway

import (
	"fmt"
	"net/url"
	"strings"
)

// NamespaceStrategy maps upstream names and URIs to the identifiers exposed by
// the gateway. Implementations must be deterministic and collision-free for a
// given serverID/name pair.
type NamespaceStrategy interface {
	ToolName(serverID, toolName string) string
	PromptName(serverID, promptName string) string
	ResourceURI(serverID, resourceURI string) string
	NativeResourceURI(serverID, gatewayURI string) (string, bool)
}

// ServerPrefixNamespace prefixes every identifier with the originating server
// ID. Names are joined with Separator ("__" when empty).
type ServerPrefixNamespace struct {
	Separator string
}

func (s ServerPrefixNamespace) separator() string {
	if s.Separator == "" {
		return "__"
	}
	return s.Separator
}

func (s ServerPrefixNamespace) ToolName(serverID, toolName string) string {
	return serverID + s.separator() + toolName
}

func (s ServerPrefixNamespace) PromptName(serverID, promptName string) string {
	return serverID + s.separator() + promptName
}

func (s ServerPrefixNamespace) ResourceURI(serverID, resourceURI string) string {
	return resourcePrefix(serverID) + resourceURI
}

func (s ServerPrefixNamespace) NativeResourceURI(serverID, gatewayURI string) (string, bool) {
	prefix := resourcePrefix(serverID)
	if !strings.HasPrefix(gatewayURI, prefix) {
		return "", false
	}
	return strings.TrimPrefix(gatewayURI, prefix), true
}

func resourcePrefix(serverID string) string {
	return fmt.Sprintf("mcpgateway+%s/resources::", url.PathEscape(serverID))
}
