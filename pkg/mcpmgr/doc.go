// Package mcpmgr keeps concurrent, independent sessions from one Go process to
// many Model Context Protocol (MCP) servers. It layers connection lifecycle
// tracking, credential injection, capability discovery and reconnection on top
// of the modelcontextprotocol/go-sdk client so callers can focus on consuming
// tools, prompts, and resources instead of rebuilding MCP plumbing.
//
// # Core entry points
//
//   - Manager is the long-lived orchestration type. Construct it with
//     NewManager, then call Initialize, ConnectToServer or DisconnectServer,
//     or set AutoConnect to dial every configured server in the background.
//   - ServerConfig (and the StdioServerConfig / HTTPServerConfig variants)
//     declare how each MCP server is launched or contacted. HTTP servers use
//     streamable HTTP unless Kind selects SSE.
//   - ConfigSource supplies the server set for Initialize and
//     ReloadConfiguration; CredentialProvider supplies bearer tokens for
//     servers marked RequiresAuth.
//
// Each server has a single record. Connect attempts are numbered; a result
// that arrives after a newer attempt or a disconnect started is discarded and
// reported as ErrStaleResult. Failed connects and dropped sessions are retried
// with exponential backoff (see ReconnectPolicy) until DisconnectServer is
// called.
//
// Once connected, GetAllTools, GetAllResources and GetAllPrompts return the
// union of every connected server's catalog, and CallTool, ReadResource,
// GetPrompt and PingServer forward requests over the live session. Calls for a
// server without a live session fail with NotConnectedError and perform no
// I/O; they never trigger a connect.
//
// When inspecting configurations returned from GetServerConfig, use the helper
// guards and narrowers (IsStdio/IsHTTP and AsStdio/AsHTTP) or TransportOf to
// branch on the concrete transport type. Avoid marshaling BaseServerConfig
// directly because it contains function fields.
package mcpmgr
