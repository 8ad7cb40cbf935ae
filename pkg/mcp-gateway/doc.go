// Package mcpgateway re-exposes the servers managed by mcpmgr as a single
// Streamable HTTP MCP endpoint. Tools and prompts are renamed and resources
// re-addressed per upstream server (see NamespaceStrategy), and every call is
// routed through the manager's invocation surface.
//
// The exposed feature set follows the manager's status snapshots, so servers
// appear when they connect and vanish when they disconnect or are removed.
// Besides the MCP endpoint the gateway serves /status, /metrics and, when
// bearer authentication is enabled, the OAuth protected resource metadata.
package mcpgateway
