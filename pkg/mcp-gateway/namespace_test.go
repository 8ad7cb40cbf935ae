package mcpgateway

import "testing"

func TestServerPrefixNamespaceResourceRoundTrip(t *testing.T) {
	ns := ServerPrefixNamespace{}
	gateway := ns.ResourceURI("alpha", "file:///notes/today.md")
	if gateway == "" {
		t.Fatalf("gateway uri empty")
	}
	native, ok := ns.NativeResourceURI("alpha", gateway)
	if !ok {
		t.Fatalf("expected decode to succeed")
	}
	if native != "file:///notes/today.md" {
		t.Fatalf("unexpected native value: %s", native)
	}
}

func TestServerPrefixNamespaceResourceDecodeMismatch(t *testing.T) {
	ns := ServerPrefixNamespace{}
	if _, ok := ns.NativeResourceURI("alpha", ns.ResourceURI("bravo", "file://foo")); ok {
		t.Fatalf("decode should fail when server ids differ")
	}
}

func TestServerPrefixNamespaceNames(t *testing.T) {
	if got := (ServerPrefixNamespace{}).ToolName("files", "read"); got != "files__read" {
		t.Fatalf("ToolName = %q", got)
	}
	if got := (ServerPrefixNamespace{Separator: "."}).PromptName("files", "summarize"); got != "files.summarize" {
		t.Fatalf("PromptName = %q", got)
	}
}
