package server

import (
	"io"
	"net/http"
	"time"

	"github.com/toolgate/toolgate/pkg/httputil"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.monitor.Health()

	code := http.StatusOK
	state := "healthy"
	if !status.Healthy {
		code = http.StatusServiceUnavailable
		state = "degraded"
	}

	httputil.WriteJSON(w, code, map[string]any{
		"status":      state,
		"uptime":      s.monitor.Uptime().Round(time.Second).String(),
		"connections": s.engine.ConnectionCount(),
		"tools":       s.registry.Stats().Tools,
		"checks":      status.Checks,
	})
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	list := s.registry.List()
	httputil.WriteOK(w, map[string]any{
		"tools": list,
		"count": len(list),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	perMinute, perHour := s.limiter.Limits()

	httputil.WriteOK(w, map[string]any{
		"server": map[string]any{
			"name":    ServerName,
			"version": s.version,
			"uptime":  time.Since(s.started).Round(time.Second).String(),
		},
		"engine": s.engine.Stats(),
		"tools":  s.registry.Stats(),
		"access": map[string]any{
			"keys":               s.store.Count(),
			"rateLimitPerMinute": perMinute,
			"rateLimitPerHour":   perHour,
		},
	})
}

func (s *Server) handleMetricsSnapshot(w http.ResponseWriter, r *http.Request) {
	httputil.WriteOK(w, s.monitor.Snapshot())
}

func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	limit := s.Config().Access.MaxPayloadBytes
	if limit <= 0 {
		limit = 1 << 20
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "read_failed", "could not read request body")
		return
	}
	if int64(len(body)) > limit {
		httputil.WriteError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds limit")
		return
	}

	resp := s.dispatcher.DispatchBytes(r.Context(), body)

	// JSON-RPC errors ride in the response envelope, not the HTTP status.
	httputil.WriteOK(w, resp)
}

func (s *Server) handleAdminStatus(w http.ResponseWriter, r *http.Request) {
	if !s.requireWildcard(w, r) {
		return
	}

	cfg := s.Config()
	httputil.WriteOK(w, map[string]any{
		"engine": s.engine.Stats(),
		"tools":  s.registry.Stats(),
		"keys":   s.store.List(),
		"health": s.monitor.Health(),
		"alerts": s.monitor.Alerts(10),
		"config": map[string]any{
			"requireKeys":    cfg.Access.RequireKeys,
			"maxConnections": cfg.Protocol.MaxConnections,
		},
	})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if !s.requireWildcard(w, r) {
		return
	}
	httputil.WriteOK(w, s.Config().Clone())
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	if !s.requireWildcard(w, r) {
		return
	}

	var changes map[string]any
	if err := decodeJSONBody(r, &changes); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	next, errs := s.Config().Apply(changes)
	if len(errs) > 0 {
		httputil.WriteJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation_failed",
			"errors": errs,
		})
		return
	}

	s.applyConfig(next)
	s.logger.Info("configuration updated", "changes", len(changes))
	httputil.WriteOK(w, map[string]any{"applied": changes})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if _, err := s.engine.HandleUpgrade(w, r); err != nil {
		s.logger.Debug("socket upgrade failed", "error", err)
	}
}
