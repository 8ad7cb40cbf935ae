package mcpgateway

import (
	"testing"

	"github.com/vikashloomba/mcp-session-manager-go/pkg/mcpmgr"
)

func TestFeatureIndexUpdateTools(t *testing.T) {
	fi := newFeatureIndex(ServerPrefixNamespace{})
	tools := []mcpmgr.Tool{{ServerName: "alpha", Name: "echo"}}
	removed, added := fi.UpdateTools("alpha", tools)
	if len(removed) != 0 {
		t.Fatalf("unexpected removals: %v", removed)
	}
	if len(added) != 1 {
		t.Fatalf("expected single registration, got %d", len(added))
	}
	target := added[0].Target
	if target.ServerID != "alpha" || target.NativeName != "echo" {
		t.Fatalf("unexpected target %+v", target)
	}
	lookup, ok := fi.ToolTarget(target.GatewayName)
	if !ok {
		t.Fatalf("tool target missing")
	}
	if lookup.NativeName != "echo" {
		t.Fatalf("lookup mismatch: %+v", lookup)
	}
	meta := added[0].Tool.Meta
	if meta[metaKeyServerID] != "alpha" {
		t.Fatalf("meta missing server id: %+v", meta)
	}
	schema, ok := added[0].Tool.InputSchema.(map[string]any)
	if !ok || schema["type"] != "object" {
		t.Fatalf("missing schema should become an empty object schema, got %#v", added[0].Tool.InputSchema)
	}

	removed, added = fi.UpdateTools("alpha", nil)
	if len(removed) != 1 || removed[0] != "alpha__echo" || len(added) != 0 {
		t.Fatalf("replacing with nothing: removed=%v added=%d", removed, len(added))
	}
	if _, ok := fi.ToolTarget("alpha__echo"); ok {
		t.Fatalf("stale target still indexed")
	}
}

func TestFeatureIndexKeepsObjectSchema(t *testing.T) {
	fi := newFeatureIndex(ServerPrefixNamespace{})
	schema := map[string]any{"type": "object", "required": []any{"path"}}
	_, added := fi.UpdateTools("alpha", []mcpmgr.Tool{{Name: "read", InputSchema: schema}})
	got := added[0].Tool.InputSchema.(map[string]any)
	if got["required"] == nil {
		t.Fatalf("upstream schema dropped: %#v", got)
	}
}

func TestFeatureIndexResourceRoundTrip(t *testing.T) {
	fi := newFeatureIndex(ServerPrefixNamespace{})
	resources := []mcpmgr.Resource{{URI: "file://notes", Name: "notes"}}
	_, added := fi.UpdateResources("bravo", resources)
	if len(added) != 1 {
		t.Fatalf("expected 1 resource registration")
	}
	gateway := added[0].Resource.URI
	target, ok := fi.ResourceTarget(gateway)
	if !ok {
		t.Fatalf("resource target missing")
	}
	if target.NativeURI != "file://notes" || target.ServerID != "bravo" {
		t.Fatalf("unexpected target %+v", target)
	}
}

func TestFeatureIndexForget(t *testing.T) {
	fi := newFeatureIndex(ServerPrefixNamespace{})
	fi.UpdateTools("alpha", []mcpmgr.Tool{{Name: "a"}, {Name: "b"}})
	fi.UpdatePrompts("alpha", []mcpmgr.Prompt{{Name: "p"}})
	fi.UpdateResources("alpha", []mcpmgr.Resource{{URI: "test://r"}})
	fi.UpdateTools("bravo", []mcpmgr.Tool{{Name: "a"}})

	r := fi.Forget("alpha")
	if len(r.Tools) != 2 || len(r.Prompts) != 1 || len(r.Resources) != 1 {
		t.Fatalf("unexpected removal %+v", r)
	}
	if !fi.Forget("alpha").empty() {
		t.Fatalf("second forget should be empty")
	}
	if _, ok := fi.ToolTarget("bravo__a"); !ok {
		t.Fatalf("other server's tools must survive")
	}
}
