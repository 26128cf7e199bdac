package access

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolgate/toolgate/pkg/logging"
)

func newTestGate(t *testing.T, cfg GateConfig) (*Gate, *Store) {
	t.Helper()
	store := NewStore(logging.Nop())
	limiter := NewLimiter(100, 1000)
	return NewGate(cfg, store, limiter, logging.Nop()), store
}

func TestCheck_BlockedIP(t *testing.T) {
	t.Parallel()

	g, _ := newTestGate(t, GateConfig{BlockedIPs: []string{"10.0.0.9"}})

	r := httptest.NewRequest("GET", "/api/stats", nil)
	r.RemoteAddr = "10.0.0.9:41234"

	d := g.Check(r)
	assert.False(t, d.Allowed)
	assert.Equal(t, http.StatusForbidden, d.Status)
}

func TestCheck_OriginRejected(t *testing.T) {
	t.Parallel()

	g, _ := newTestGate(t, GateConfig{AllowedOrigins: []string{"https://ok.example"}})

	r := httptest.NewRequest("GET", "/api/stats", nil)
	r.Header.Set("Origin", "https://evil.example")
	d := g.Check(r)
	assert.Equal(t, http.StatusForbidden, d.Status)

	// Absent origin passes (non-browser clients).
	r2 := httptest.NewRequest("GET", "/api/stats", nil)
	assert.True(t, g.Check(r2).Allowed)
}

func TestCheck_PayloadTooLarge(t *testing.T) {
	t.Parallel()

	g, _ := newTestGate(t, GateConfig{MaxPayloadBytes: 10})

	r := httptest.NewRequest("POST", "/api/mcp/jsonrpc", nil)
	r.ContentLength = 11
	d := g.Check(r)
	assert.Equal(t, http.StatusRequestEntityTooLarge, d.Status)
}

func TestCheck_KeyRequired(t *testing.T) {
	t.Parallel()

	g, store := newTestGate(t, GateConfig{RequireKeys: true})

	r := httptest.NewRequest("GET", "/api/tools", nil)
	d := g.Check(r)
	assert.Equal(t, http.StatusUnauthorized, d.Status)

	raw, _ := store.Create("svc", []string{PermRead}, CreateOptions{})
	r.Header.Set("Authorization", "Bearer "+raw)
	d = g.Check(r)
	require.True(t, d.Allowed)
	assert.Equal(t, "svc", d.Key.Name)
}

func TestCheck_RateLimitByKey(t *testing.T) {
	t.Parallel()

	store := NewStore(logging.Nop())
	limiter := NewLimiter(2, 1000)
	g := NewGate(GateConfig{RequireKeys: true}, store, limiter, logging.Nop())

	raw, _ := store.Create("svc", []string{PermRead}, CreateOptions{})
	r := httptest.NewRequest("GET", "/api/tools", nil)
	r.Header.Set("X-API-Key", raw)

	assert.True(t, g.Check(r).Allowed)
	assert.True(t, g.Check(r).Allowed)

	d := g.Check(r)
	assert.Equal(t, http.StatusTooManyRequests, d.Status)
	assert.Greater(t, d.RetryAfter.Seconds(), 0.0)
}

func TestCheck_ExemptKeySkipsRateLimit(t *testing.T) {
	t.Parallel()

	store := NewStore(logging.Nop())
	limiter := NewLimiter(1, 1)
	g := NewGate(GateConfig{RequireKeys: true}, store, limiter, logging.Nop())

	raw := store.Bootstrap()
	r := httptest.NewRequest("GET", "/admin/status", nil)
	r.Header.Set("X-API-Key", raw)

	for i := 0; i < 5; i++ {
		assert.True(t, g.Check(r).Allowed, "exempt request %d", i+1)
	}
}

func TestCheck_RateLimitByIPWithoutKeys(t *testing.T) {
	t.Parallel()

	store := NewStore(logging.Nop())
	limiter := NewLimiter(1, 1000)
	g := NewGate(GateConfig{RequireKeys: false}, store, limiter, logging.Nop())

	r := httptest.NewRequest("GET", "/api/stats", nil)
	r.RemoteAddr = "192.0.2.1:5555"

	assert.True(t, g.Check(r).Allowed)
	d := g.Check(r)
	assert.Equal(t, http.StatusTooManyRequests, d.Status)
}

func TestExtractKey_Precedence(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest("GET", "/x?api_key=querykey", nil)
	r.Header.Set("X-API-Key", "headerkey")
	r.Header.Set("Authorization", "Bearer bearerkey")

	assert.Equal(t, "bearerkey", ExtractKey(r))

	r.Header.Del("Authorization")
	assert.Equal(t, "headerkey", ExtractKey(r))

	r.Header.Del("X-API-Key")
	assert.Equal(t, "querykey", ExtractKey(r))

	r2 := httptest.NewRequest("GET", "/x?apikey=alt", nil)
	assert.Equal(t, "alt", ExtractKey(r2))
}

func TestClientIP_ForwardedFor(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "127.0.0.1:9999"
	assert.Equal(t, "127.0.0.1", ClientIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", ClientIP(r))
}
