package mcpgateway

import (
	"maps"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-session-manager-go/pkg/mcpmgr"
)

const (
	metaKeyServerID   = "mcpgateway.server_id"
	metaKeyNativeName = "mcpgateway.native_name"
	metaKeyNativeURI  = "mcpgateway.native_uri"
)

// featureIndex tracks which gateway identifiers belong to which upstream
// server so a server's features can be swapped as a unit.
type featureIndex struct {
	ns NamespaceStrategy

	mu sync.RWMutex

	tools           map[string]toolTarget
	serverTools     map[string][]string
	prompts         map[string]promptTarget
	serverPrompts   map[string][]string
	resources       map[string]resourceTarget
	serverResources map[string][]string
}

type toolTarget struct {
	GatewayName string
	ServerID    string
	NativeName  string
}

type promptTarget struct {
	GatewayName string
	ServerID    string
	NativeName  string
}

type resourceTarget struct {
	GatewayURI string
	ServerID   string
	NativeURI  string
}

type toolRegistration struct {
	Tool   *mcp.Tool
	Target toolTarget
}

type promptRegistration struct {
	Prompt *mcp.Prompt
	Target promptTarget
}

type resourceRegistration struct {
	Resource *mcp.Resource
	Target   resourceTarget
}

// removal lists the gateway identifiers dropped for one server.
type removal struct {
	Tools     []string
	Prompts   []string
	Resources []string
}

func (r removal) empty() bool {
	return len(r.Tools) == 0 && len(r.Prompts) == 0 && len(r.Resources) == 0
}

func newFeatureIndex(ns NamespaceStrategy) *featureIndex {
	return &featureIndex{
		ns:              ns,
		tools:           make(map[string]toolTarget),
		serverTools:     make(map[string][]string),
		prompts:         make(map[string]promptTarget),
		serverPrompts:   make(map[string][]string),
		resources:       make(map[string]resourceTarget),
		serverResources: make(map[string][]string),
	}
}

func (f *featureIndex) UpdateTools(serverID string, upstream []mcpmgr.Tool) (removed []string, added []toolRegistration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	removed = f.removeToolsLocked(serverID)
	added = make([]toolRegistration, 0, len(upstream))
	names := make([]string, 0, len(upstream))
	for _, tool := range upstream {
		gatewayName := f.ns.ToolName(serverID, tool.Name)
		target := toolTarget{GatewayName: gatewayName, ServerID: serverID, NativeName: tool.Name}
		f.tools[gatewayName] = target
		added = append(added, toolRegistration{Tool: exposeTool(tool, gatewayName, serverID), Target: target})
		names = append(names, gatewayName)
	}
	f.serverTools[serverID] = names
	return removed, added
}

func (f *featureIndex) UpdatePrompts(serverID string, upstream []mcpmgr.Prompt) (removed []string, added []promptRegistration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	removed = f.removePromptsLocked(serverID)
	added = make([]promptRegistration, 0, len(upstream))
	var names []string
	for _, prompt := range upstream {
		gatewayName := f.ns.PromptName(serverID, prompt.Name)
		target := promptTarget{GatewayName: gatewayName, ServerID: serverID, NativeName: prompt.Name}
		f.prompts[gatewayName] = target
		added = append(added, promptRegistration{Prompt: exposePrompt(prompt, gatewayName, serverID), Target: target})
		names = append(names, gatewayName)
	}
	f.serverPrompts[serverID] = names
	return removed, added
}

func (f *featureIndex) UpdateResources(serverID string, upstream []mcpmgr.Resource) (removed []string, added []resourceRegistration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	removed = f.removeResourcesLocked(serverID)
	added = make([]resourceRegistration, 0, len(upstream))
	var names []string
	for _, resource := range upstream {
		gatewayURI := f.ns.ResourceURI(serverID, resource.URI)
		target := resourceTarget{GatewayURI: gatewayURI, ServerID: serverID, NativeURI: resource.URI}
		f.resources[gatewayURI] = target
		added = append(added, resourceRegistration{Resource: exposeResource(resource, gatewayURI, serverID), Target: target})
		names = append(names, gatewayURI)
	}
	f.serverResources[serverID] = names
	return removed, added
}

// Forget drops every feature of serverID and returns what was removed.
func (f *featureIndex) Forget(serverID string) removal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return removal{
		Tools:     f.removeToolsLocked(serverID),
		Prompts:   f.removePromptsLocked(serverID),
		Resources: f.removeResourcesLocked(serverID),
	}
}

func (f *featureIndex) ToolTarget(name string) (toolTarget, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.tools[name]
	return t, ok
}

func (f *featureIndex) PromptTarget(name string) (promptTarget, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.prompts[name]
	return p, ok
}

func (f *featureIndex) ResourceTarget(uri string) (resourceTarget, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	r, ok := f.resources[uri]
	return r, ok
}

func (f *featureIndex) removeToolsLocked(serverID string) []string {
	names := f.serverTools[serverID]
	if len(names) == 0 {
		return nil
	}
	for _, name := range names {
		delete(f.tools, name)
	}
	delete(f.serverTools, serverID)
	return append([]string(nil), names...)
}

func (f *featureIndex) removePromptsLocked(serverID string) []string {
	names := f.serverPrompts[serverID]
	if len(names) == 0 {
		return nil
	}
	for _, name := range names {
		delete(f.prompts, name)
	}
	delete(f.serverPrompts, serverID)
	return append([]string(nil), names...)
}

func (f *featureIndex) removeResourcesLocked(serverID string) []string {
	names := f.serverResources[serverID]
	if len(names) == 0 {
		return nil
	}
	for _, name := range names {
		delete(f.resources, name)
	}
	delete(f.serverResources, serverID)
	return append([]string(nil), names...)
}

func exposeTool(tool mcpmgr.Tool, gatewayName, serverID string) *mcp.Tool {
	return &mcp.Tool{
		Name:        gatewayName,
		Title:       tool.Title,
		Description: tool.Description,
		InputSchema: objectSchema(tool.InputSchema),
		Annotations: tool.Annotations,
		Meta: withMeta(nil, map[string]any{
			metaKeyServerID:   serverID,
			metaKeyNativeName: tool.Name,
		}),
	}
}

func exposePrompt(prompt mcpmgr.Prompt, gatewayName, serverID string) *mcp.Prompt {
	return &mcp.Prompt{
		Name:        gatewayName,
		Description: prompt.Description,
		Arguments:   prompt.Arguments,
		Meta: withMeta(nil, map[string]any{
			metaKeyServerID:   serverID,
			metaKeyNativeName: prompt.Name,
		}),
	}
}

func exposeResource(resource mcpmgr.Resource, gatewayURI, serverID string) *mcp.Resource {
	return &mcp.Resource{
		URI:         gatewayURI,
		Name:        resource.Name,
		Description: resource.Description,
		MIMEType:    resource.MIMEType,
		Meta: withMeta(nil, map[string]any{
			metaKeyServerID:  serverID,
			metaKeyNativeURI: resource.URI,
		}),
	}
}

// objectSchema returns schema when it is a JSON object schema, and the empty
// object schema otherwise. mcp.Server rejects tools without one.
func objectSchema(schema any) any {
	if m, ok := schema.(map[string]any); ok && m["type"] == "object" {
		return m
	}
	return map[string]any{"type": "object"}
}

func withMeta(base map[string]any, extras map[string]any) map[string]any {
	out := maps.Clone(base)
	if out == nil {
		out = make(map[string]any)
	}
	for k, v := range extras {
		out[k] = v
	}
	return out
}
