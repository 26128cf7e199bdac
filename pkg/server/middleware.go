package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/toolgate/toolgate/pkg/access"
	"github.com/toolgate/toolgate/pkg/httputil"
)

type contextKey string

const keyContextKey contextKey = "apiKey"

// keyFrom returns the API key record the gate resolved, if any.
func keyFrom(ctx context.Context) *access.Key {
	key, _ := ctx.Value(keyContextKey).(*access.Key)
	return key
}

// withMiddleware chains, outermost first: recover, CORS, request metrics,
// access gate.
func (s *Server) withMiddleware(next http.Handler) http.Handler {
	gated := s.gateMiddleware(next)
	measured := s.metricsMiddleware(gated)
	cors := s.corsMiddleware(measured)
	return s.recoverMiddleware(cors)
}

// recoverMiddleware turns handler panics into 500s so one broken request
// cannot take the process down.
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("handler panic", "path", r.URL.Path, "panic", fmt.Sprint(rec))
				httputil.WriteError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response code for request metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The upgrade path hijacks the connection; wrapping the writer
		// would hide the Hijacker interface.
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.monitor.RecordRequest(r.Method, rec.status)
		s.requests.Observe(time.Since(start).Seconds(), r.Method)
	})
}

// gateExempt lists paths that skip the access gate: the liveness probe for
// container orchestration, and the socket path which runs its own auth.
func gateExempt(path string) bool {
	return path == "/health" || path == "/ws"
}

func (s *Server) gateMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gateExempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		decision := s.gate.Check(r)
		if !decision.Allowed {
			if decision.RetryAfter > 0 {
				secs := int64((decision.RetryAfter + time.Second - 1) / time.Second)
				w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
			}
			httputil.WriteError(w, decision.Status, "access_denied", decision.Reason)
			return
		}

		if decision.Key != nil {
			r = r.WithContext(context.WithValue(r.Context(), keyContextKey, decision.Key))
		}
		next.ServeHTTP(w, r)
	})
}

// requireWildcard enforces admin-only access. Without key enforcement the
// admin surface stays open for local development.
func (s *Server) requireWildcard(w http.ResponseWriter, r *http.Request) bool {
	if !s.Config().Access.RequireKeys {
		return true
	}
	key := keyFrom(r.Context())
	if key == nil || !key.Wildcard() {
		httputil.WriteError(w, http.StatusForbidden, "forbidden", "admin permission required")
		return false
	}
	return true
}

func decodeJSONBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
