package access

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// GateConfig configures the request-level admission gate.
type GateConfig struct {
	// RequireKeys demands a valid API key on protected routes. When false,
	// rate limiting still applies, keyed by caller IP.
	RequireKeys bool

	// AllowedOrigins is the CORS allow-list; "*" or an exact match passes.
	// An absent Origin header always passes (non-browser clients).
	AllowedOrigins []string

	// BlockedIPs are rejected outright with 403.
	BlockedIPs []string

	// MaxPayloadBytes rejects larger request bodies with 413. Zero
	// disables the check.
	MaxPayloadBytes int64
}

// Decision is the structured outcome of gating one request.
type Decision struct {
	Allowed    bool
	Status     int           // HTTP status when not allowed
	Reason     string        // human-readable rejection reason
	Key        *Key          // resolved key record, when keys are in play
	RetryAfter time.Duration // set on rate-limit rejections
}

func allow(key *Key) Decision {
	return Decision{Allowed: true, Status: http.StatusOK, Key: key}
}

func deny(status int, reason string) Decision {
	return Decision{Status: status, Reason: reason}
}

// Gate composes the per-request checks in a fixed order: IP blacklist, then
// origin, then payload size, then key validation and rate limiting.
type Gate struct {
	cfg        GateConfig
	store      *Store
	limiter    *Limiter
	logger     *slog.Logger
	blocked    map[string]struct{}
	maxPayload atomic.Int64
}

// NewGate creates a gate over the given key store and limiter.
func NewGate(cfg GateConfig, store *Store, limiter *Limiter, logger *slog.Logger) *Gate {
	blocked := make(map[string]struct{}, len(cfg.BlockedIPs))
	for _, ip := range cfg.BlockedIPs {
		blocked[ip] = struct{}{}
	}
	g := &Gate{cfg: cfg, store: store, limiter: limiter, logger: logger, blocked: blocked}
	g.maxPayload.Store(cfg.MaxPayloadBytes)
	return g
}

// SetMaxPayloadBytes updates the payload ceiling for subsequent requests.
// Zero disables the check.
func (g *Gate) SetMaxPayloadBytes(n int64) {
	g.maxPayload.Store(n)
}

// Check runs the full admission sequence for r.
func (g *Gate) Check(r *http.Request) Decision {
	ip := ClientIP(r)

	if _, bad := g.blocked[ip]; bad {
		g.logger.Warn("blocked ip rejected", "ip", ip, "path", r.URL.Path)
		return deny(http.StatusForbidden, "IP address is blocked")
	}

	if origin := r.Header.Get("Origin"); origin != "" && !OriginAllowed(origin, g.cfg.AllowedOrigins) {
		return deny(http.StatusForbidden, "origin not allowed")
	}

	if limit := g.maxPayload.Load(); limit > 0 && r.ContentLength > limit {
		return deny(http.StatusRequestEntityTooLarge, "payload too large")
	}

	if !g.cfg.RequireKeys {
		if ok, retry := g.limiter.Allow("ip:" + ip); !ok {
			d := deny(http.StatusTooManyRequests, "rate limit exceeded")
			d.RetryAfter = retry
			return d
		}
		return allow(nil)
	}

	raw := ExtractKey(r)
	if raw == "" {
		return deny(http.StatusUnauthorized, "API key required")
	}

	key, err := g.store.Validate(raw, "")
	if err != nil {
		g.logger.Warn("api key rejected", "ip", ip, "error", err)
		return deny(http.StatusUnauthorized, "invalid API key")
	}

	if !key.Exempt {
		if ok, retry := g.limiter.Allow("key:" + key.ID); !ok {
			d := deny(http.StatusTooManyRequests, "rate limit exceeded")
			d.RetryAfter = retry
			return d
		}
	}

	return allow(key)
}

// ExtractKey pulls the API key from a request, trying the Authorization
// bearer token, the X-API-Key header, then the api_key/apikey query
// parameters, in that order.
func ExtractKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	q := r.URL.Query()
	if key := q.Get("api_key"); key != "" {
		return key
	}
	return q.Get("apikey")
}

// OriginAllowed checks an Origin header value against the allow-list.
func OriginAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

// ClientIP resolves the caller address, honoring the first entry of
// X-Forwarded-For when present.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
