package mcpgateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/auth"

	"github.com/vikashloomba/mcp-session-manager-go/pkg/mcpmgr"
)

func sharedTokenVerifier(token string, calls *atomic.Int32) auth.TokenVerifier {
	return func(_ context.Context, got string, _ *http.Request) (*auth.TokenInfo, error) {
		if got != token {
			return nil, auth.ErrInvalidToken
		}
		if calls != nil {
			calls.Add(1)
		}
		return &auth.TokenInfo{Expiration: time.Now().Add(time.Minute)}, nil
	}
}

func emptyManager() *mcpmgr.Manager {
	return mcpmgr.NewManager(nil, &mcpmgr.ManagerOptions{Logger: quietLogger()})
}

func TestBearerTokenGuardsOnlyTheMCPEndpoint(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	gateway, err := NewGateway(emptyManager(), &Options{
		Logger:        quietLogger(),
		TokenVerifier: sharedTokenVerifier("s3cret", &calls),
	})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	srv := httptest.NewServer(gateway.Handler())
	t.Cleanup(srv.Close)

	post := func(path, token string) int {
		req, _ := http.NewRequest(http.MethodPost, srv.URL+path, strings.NewReader("{}"))
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := srv.Client().Do(req)
		if err != nil {
			t.Fatalf("POST %s: %v", path, err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	for _, tc := range []struct {
		name, path, token string
		unauthorized      bool
	}{
		{"no token", "/mcp", "", true},
		{"wrong token", "/mcp", "nope", true},
		{"sub path without token", "/mcp/session", "", true},
		{"shared token", "/mcp", "s3cret", false},
	} {
		if got := post(tc.path, tc.token); (got == http.StatusUnauthorized) != tc.unauthorized {
			t.Errorf("%s: status %d, unauthorized want %v", tc.name, got, tc.unauthorized)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("verifier accepted %d requests, want 1", calls.Load())
	}

	for _, path := range []string{"/status", "/metrics"} {
		resp, err := srv.Client().Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s = %d, auxiliary routes should stay open", path, resp.StatusCode)
		}
	}
}

func TestProtectedResourceMetadata(t *testing.T) {
	t.Parallel()

	gateway, err := NewGateway(emptyManager(), &Options{
		Logger:              quietLogger(),
		Path:                "gateway",
		TokenVerifier:       sharedTokenVerifier("s3cret", nil),
		TokenOptions:        &auth.RequireBearerTokenOptions{Scopes: []string{"tools:call"}},
		AuthorizationServer: "https://auth.example",
	})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	if got := gateway.Options().Path; got != "/gateway" {
		t.Fatalf("Options().Path = %q, want /gateway", got)
	}
	srv := httptest.NewServer(gateway.Handler())
	t.Cleanup(srv.Close)

	fetch := func(header http.Header) (protectedResourceMetadata, *http.Response) {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+protectedResourcePath, nil)
		for k, v := range header {
			req.Header[k] = v
		}
		resp, err := srv.Client().Do(req)
		if err != nil {
			t.Fatalf("GET metadata: %v", err)
		}
		defer resp.Body.Close()
		var doc protectedResourceMetadata
		if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
			t.Fatalf("decode metadata: %v", err)
		}
		return doc, resp
	}

	doc, resp := fetch(nil)
	if want := srv.URL + "/gateway"; doc.Resource != want {
		t.Fatalf("resource = %q, want %q", doc.Resource, want)
	}
	if len(doc.AuthorizationServers) != 1 || doc.AuthorizationServers[0] != "https://auth.example" {
		t.Fatalf("authorization servers = %v", doc.AuthorizationServers)
	}
	if len(doc.ScopesSupported) != 1 || doc.ScopesSupported[0] != "tools:call" {
		t.Fatalf("scopes = %v", doc.ScopesSupported)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("same-origin request got Access-Control-Allow-Origin %q", got)
	}

	doc, resp = fetch(http.Header{
		"Origin":            {"https://inspector.example"},
		"X-Forwarded-Proto": {"https"},
	})
	if !strings.HasPrefix(doc.Resource, "https://") {
		t.Fatalf("forwarded https resource = %q", doc.Resource)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("cross-origin Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestProtectedResourceMetadataRequiresVerifier(t *testing.T) {
	t.Parallel()

	gateway, err := NewGateway(emptyManager(), &Options{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	rec := httptest.NewRecorder()
	gateway.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, protectedResourcePath, nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("metadata without auth = %d, want 404", rec.Code)
	}
}

func TestStatusRoutesCORS(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name    string
		allowed []string
		origin  string
		want    string
	}{
		{"no allow list", nil, "https://ui.example", ""},
		{"allowed origin", []string{"https://ui.example"}, "https://ui.example", "https://ui.example"},
		{"other origin", []string{"https://ui.example"}, "https://evil.example", ""},
	} {
		t.Run(tc.name, func(t *testing.T) {
			gateway, err := NewGateway(emptyManager(), &Options{Logger: quietLogger(), AllowedOrigins: tc.allowed})
			if err != nil {
				t.Fatalf("NewGateway: %v", err)
			}
			req := httptest.NewRequest(http.MethodGet, "/status", nil)
			req.Header.Set("Origin", tc.origin)
			rec := httptest.NewRecorder()
			gateway.Handler().ServeHTTP(rec, req)
			if rec.Code != http.StatusOK {
				t.Fatalf("GET /status = %d", rec.Code)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tc.want {
				t.Fatalf("Access-Control-Allow-Origin = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNewGatewayRejectsTokenOptionsWithoutVerifier(t *testing.T) {
	t.Parallel()

	_, err := NewGateway(emptyManager(), &Options{
		TokenOptions: &auth.RequireBearerTokenOptions{Scopes: []string{"tools:call"}},
	})
	if err == nil {
		t.Fatalf("expected an error for TokenOptions without TokenVerifier")
	}
}
