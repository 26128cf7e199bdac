package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCounter_AddAndValue(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	c := r.NewCounter("requests_total", "Total requests.", "method")

	c.Inc("GET")
	c.Inc("GET")
	c.Add(3, "POST")

	if got := c.Value("GET"); got != 2 {
		t.Errorf("GET = %v, want 2", got)
	}
	if got := c.Value("POST"); got != 3 {
		t.Errorf("POST = %v, want 3", got)
	}
}

func TestCounter_IgnoresNegativeDelta(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	c := r.NewCounter("x_total", "X.")
	c.Add(5)
	c.Add(-2)
	if got := c.Value(); got != 5 {
		t.Errorf("counter decreased: %v", got)
	}
}

func TestGauge_SetAddDec(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	g := r.NewGauge("connections", "Open connections.")
	g.Set(10)
	g.Inc()
	g.Dec()
	g.Add(-3)
	if got := g.Value(); got != 7 {
		t.Errorf("gauge = %v, want 7", got)
	}
}

func TestHistogram_BucketsAndCount(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	h := r.NewHistogram("latency_seconds", "Latency.", []float64{0.1, 1})

	h.Observe(0.05)
	h.Observe(0.5)
	h.Observe(5) // lands in +Inf

	samples := h.Collect()
	byKey := map[string]float64{}
	for _, s := range samples {
		byKey[s.Name+"/"+s.Labels["le"]] = s.Value
	}

	if byKey["latency_seconds_bucket/0.1"] != 1 {
		t.Errorf("le=0.1 bucket = %v, want 1", byKey["latency_seconds_bucket/0.1"])
	}
	if byKey["latency_seconds_bucket/1"] != 2 {
		t.Errorf("le=1 bucket = %v, want 2", byKey["latency_seconds_bucket/1"])
	}
	if byKey["latency_seconds_bucket/+Inf"] != 3 {
		t.Errorf("le=+Inf bucket = %v, want 3", byKey["latency_seconds_bucket/+Inf"])
	}
	if byKey["latency_seconds_count/"] != 3 {
		t.Errorf("count = %v, want 3", byKey["latency_seconds_count/"])
	}
}

func TestRegistry_PanicsOnDuplicateName(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate metric name")
		}
	}()
	r := NewRegistry()
	r.NewCounter("dup", "first")
	r.NewGauge("dup", "second")
}

func TestHandler_PrometheusTextFormat(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	c := r.NewCounter("tool_calls_total", "Total tool invocations.", "tool")
	c.Inc("read_file")
	g := r.NewGauge("uptime_seconds", "Process uptime.")
	g.Set(42)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics/prometheus", nil))

	body := rec.Body.String()
	for _, want := range []string{
		"# HELP tool_calls_total Total tool invocations.",
		"# TYPE tool_calls_total counter",
		`tool_calls_total{tool="read_file"} 1`,
		"# TYPE uptime_seconds gauge",
		"uptime_seconds 42",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q\nbody:\n%s", want, body)
		}
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}
}

func TestFormatLabels_EscapesOnce(t *testing.T) {
	t.Parallel()

	got := formatLabels(map[string]string{
		"tool": `say "hi"`,
		"path": `C:\tmp`,
		"msg":  "a\nb",
	})
	want := `msg="a\nb",path="C:\\tmp",tool="say \"hi\""`
	if got != want {
		t.Errorf("formatLabels = %s, want %s", got, want)
	}
}
