package server

import "net/http"

// registerRoutes sets up the HTTP surface.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// Liveness probe, reachable without a key.
	mux.HandleFunc("GET /health", s.handleHealth)

	// Read-only gateway state.
	mux.HandleFunc("GET /api/tools", s.handleTools)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /metrics", s.handleMetricsSnapshot)
	mux.Handle("GET /metrics/prometheus", s.metrics.Handler())

	// JSON-RPC over HTTP; any subpath dispatches the same way.
	mux.HandleFunc("POST /api/mcp/", s.handleMCP)
	mux.HandleFunc("POST /api/mcp", s.handleMCP)

	// Administration, wildcard permission required.
	mux.HandleFunc("GET /admin/status", s.handleAdminStatus)
	mux.HandleFunc("GET /config", s.handleGetConfig)
	mux.HandleFunc("POST /config", s.handleUpdateConfig)

	// Socket upgrade; the engine runs its own auth exchange.
	mux.HandleFunc("GET /ws", s.handleWS)
}
