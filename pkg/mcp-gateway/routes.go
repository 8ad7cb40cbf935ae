package mcpgateway

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/auth"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

const protectedResourcePath = "/.well-known/oauth-protected-resource"

// protectedResourceMetadata is the RFC 9728 document served when bearer
// authentication is enabled.
type protectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers,omitempty"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
	BearerMethodsSupported []string `json:"bearer_methods_supported"`
}

func (g *Gateway) buildMux() *http.ServeMux {
	path := g.opts.Path

	var endpoint http.Handler = g.streamHandler
	if g.opts.TokenVerifier != nil {
		endpoint = auth.RequireBearerToken(g.opts.TokenVerifier, g.opts.TokenOptions)(endpoint)
	}

	mux := http.NewServeMux()
	mux.Handle(path, endpoint)
	if !strings.HasSuffix(path, "/") {
		mux.Handle(path+"/", endpoint)
	}

	if g.opts.TokenVerifier != nil {
		metadataCORS := cors.New(cors.Options{
			AllowedOrigins: g.opts.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type"},
		})
		mux.Handle(protectedResourcePath, metadataCORS.Handler(http.HandlerFunc(g.serveProtectedResource)))
	}

	if !g.opts.DisableStatus {
		wrap := func(h http.HandlerFunc) http.Handler { return h }
		if len(g.opts.AllowedOrigins) > 0 {
			statusCORS := cors.New(cors.Options{
				AllowedOrigins: g.opts.AllowedOrigins,
				AllowedMethods: []string{http.MethodGet},
			})
			wrap = func(h http.HandlerFunc) http.Handler { return statusCORS.Handler(h) }
		}
		mux.Handle("GET /status", wrap(g.serveStatuses))
		mux.Handle("GET /status/{server}", wrap(g.serveStatus))
	}

	if !g.opts.DisableMetrics {
		if gatherer := g.manager.Metrics(); gatherer != nil {
			mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
		}
	}
	return mux
}

func (g *Gateway) serveProtectedResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	doc := protectedResourceMetadata{
		Resource:               scheme + "://" + r.Host + g.opts.Path,
		BearerMethodsSupported: []string{"header"},
	}
	if g.opts.AuthorizationServer != "" {
		doc.AuthorizationServers = []string{g.opts.AuthorizationServer}
	}
	if g.opts.TokenOptions != nil {
		doc.ScopesSupported = g.opts.TokenOptions.Scopes
	}
	writeJSON(w, http.StatusOK, doc)
}

func (g *Gateway) serveStatuses(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, g.manager.GetServerStatuses())
}

func (g *Gateway) serveStatus(w http.ResponseWriter, r *http.Request) {
	status, ok := g.manager.GetServerStatus(r.PathValue("server"))
	if !ok {
		http.Error(w, "unknown server", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
