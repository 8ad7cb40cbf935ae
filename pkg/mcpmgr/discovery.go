package mcpmgr

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// maxListPages stops pagination against servers that never clear NextCursor.
const maxListPages = 64

type capabilityKind string

const (
	kindTools     capabilityKind = "tools"
	kindResources capabilityKind = "resources"
	kindPrompts   capabilityKind = "prompts"
)

type capabilities struct {
	info      *mcp.Implementation
	tools     []Tool
	resources []Resource
	prompts   []Prompt
}

// discoverCapabilities lists the three categories concurrently. A category
// that fails or panics yields an empty list and a warning; it never fails the
// connect.
func discoverCapabilities(ctx context.Context, logger *slog.Logger, serverID string, session *mcp.ClientSession) capabilities {
	var caps capabilities
	var advertised *mcp.ServerCapabilities
	if res := session.InitializeResult(); res != nil {
		caps.info = res.ServerInfo
		advertised = res.Capabilities
	}

	var wg conc.WaitGroup
	wg.Go(func() {
		caps.tools = discoverCategory(ctx, logger, serverID, kindTools, advertised, func(ctx context.Context) ([]Tool, error) {
			return listTools(ctx, serverID, session)
		})
	})
	wg.Go(func() {
		caps.resources = discoverCategory(ctx, logger, serverID, kindResources, advertised, func(ctx context.Context) ([]Resource, error) {
			return listResources(ctx, serverID, session)
		})
	})
	wg.Go(func() {
		caps.prompts = discoverCategory(ctx, logger, serverID, kindPrompts, advertised, func(ctx context.Context) ([]Prompt, error) {
			return listPrompts(ctx, serverID, session)
		})
	})
	wg.Wait()
	return caps
}

func discoverCategory[T any](
	ctx context.Context,
	logger *slog.Logger,
	serverID string,
	kind capabilityKind,
	advertised *mcp.ServerCapabilities,
	fetch func(context.Context) ([]T, error),
) []T {
	if !advertises(advertised, kind) {
		return []T{}
	}
	var (
		items []T
		err   error
		pc    panics.Catcher
	)
	pc.Try(func() { items, err = fetch(ctx) })
	if r := pc.Recovered(); r != nil {
		err = r.AsError()
	}
	if err != nil {
		if isMethodUnavailableError(err) {
			logger.Debug("capability not supported", "server", serverID, "category", kind, "error", err)
		} else {
			logger.Warn("capability discovery failed", "server", serverID, "category", kind, "error", err)
		}
		return []T{}
	}
	if items == nil {
		items = []T{}
	}
	return items
}

// advertises reports whether the server declared kind during initialization.
// Servers that sent no capabilities at all are probed anyway.
func advertises(c *mcp.ServerCapabilities, kind capabilityKind) bool {
	if c == nil {
		return true
	}
	switch kind {
	case kindTools:
		return c.Tools != nil
	case kindResources:
		return c.Resources != nil
	case kindPrompts:
		return c.Prompts != nil
	}
	return false
}

// paginate follows NextCursor until it is empty or maxListPages is reached.
func paginate[T any](ctx context.Context, page func(ctx context.Context, cursor string) ([]T, string, error)) ([]T, error) {
	var (
		out    []T
		cursor string
	)
	for i := 0; i < maxListPages; i++ {
		items, next, err := page(ctx, cursor)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
		if next == "" || next == cursor {
			break
		}
		cursor = next
	}
	return out, nil
}

func listTools(ctx context.Context, serverID string, session *mcp.ClientSession) ([]Tool, error) {
	tools, err := paginate(ctx, func(ctx context.Context, cursor string) ([]Tool, string, error) {
		res, err := session.ListTools(ctx, &mcp.ListToolsParams{Cursor: cursor})
		if err != nil {
			return nil, "", err
		}
		out := make([]Tool, 0, len(res.Tools))
		for _, t := range res.Tools {
			if t != nil {
				out = append(out, toolFromMCP(serverID, t))
			}
		}
		return out, res.NextCursor, nil
	})
	sort.SliceStable(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools, err
}

func listResources(ctx context.Context, serverID string, session *mcp.ClientSession) ([]Resource, error) {
	resources, err := paginate(ctx, func(ctx context.Context, cursor string) ([]Resource, string, error) {
		res, err := session.ListResources(ctx, &mcp.ListResourcesParams{Cursor: cursor})
		if err != nil {
			return nil, "", err
		}
		out := make([]Resource, 0, len(res.Resources))
		for _, r := range res.Resources {
			if r != nil {
				out = append(out, resourceFromMCP(serverID, r))
			}
		}
		return out, res.NextCursor, nil
	})
	sort.SliceStable(resources, func(i, j int) bool { return resources[i].Name < resources[j].Name })
	return resources, err
}

func listPrompts(ctx context.Context, serverID string, session *mcp.ClientSession) ([]Prompt, error) {
	prompts, err := paginate(ctx, func(ctx context.Context, cursor string) ([]Prompt, string, error) {
		res, err := session.ListPrompts(ctx, &mcp.ListPromptsParams{Cursor: cursor})
		if err != nil {
			return nil, "", err
		}
		out := make([]Prompt, 0, len(res.Prompts))
		for _, p := range res.Prompts {
			if p != nil {
				out = append(out, promptFromMCP(serverID, p))
			}
		}
		return out, res.NextCursor, nil
	})
	sort.SliceStable(prompts, func(i, j int) bool { return prompts[i].Name < prompts[j].Name })
	return prompts, err
}

func isMethodUnavailableError(err error) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	for _, marker := range []string{"method not found", "not implemented", "unsupported", "does not support", "unimplemented"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
