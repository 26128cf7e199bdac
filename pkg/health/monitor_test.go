package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolgate/toolgate/pkg/logging"
	"github.com/toolgate/toolgate/pkg/metrics"
)

func newTestMonitor(t *testing.T, mutate func(*Config), notify Notify) *Monitor {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	if mutate != nil {
		mutate(&cfg)
	}
	return NewMonitor(cfg, metrics.NewRegistry(), notify, logging.Nop())
}

func TestEvaluate_DedupWithinWindow(t *testing.T) {
	t.Parallel()

	var fired []string
	m := newTestMonitor(t, nil, func(event string, payload map[string]any) {
		fired = append(fired, payload["type"].(string))
	})

	base := time.Unix(1_700_000_000, 0)

	// Two breaches inside the 5 minute dedup window: one alert.
	m.evaluate(base, "high_memory", SeverityWarning, 95, 85, "mem")
	m.evaluate(base.Add(5*time.Second), "high_memory", SeverityWarning, 96, 85, "mem")
	require.Len(t, m.Alerts(0), 1)

	// A third breach after the window: second alert.
	m.evaluate(base.Add(5*time.Minute+time.Second), "high_memory", SeverityWarning, 97, 85, "mem")
	alerts := m.Alerts(0)
	require.Len(t, alerts, 2)
	assert.Equal(t, []string{"high_memory", "high_memory"}, fired)
	assert.Equal(t, 95.0, alerts[0].Value)
	assert.Equal(t, 97.0, alerts[1].Value)
}

func TestEvaluate_DistinctTypesNotDeduped(t *testing.T) {
	t.Parallel()

	m := newTestMonitor(t, nil, nil)
	now := time.Unix(1_700_000_000, 0)

	m.evaluate(now, "high_memory", SeverityWarning, 95, 85, "mem")
	m.evaluate(now, "high_error_rate", SeverityCritical, 0.5, 0.1, "errors")
	assert.Len(t, m.Alerts(0), 2)
}

func TestEvaluate_NoAlertBelowThreshold(t *testing.T) {
	t.Parallel()

	m := newTestMonitor(t, nil, nil)
	m.evaluate(time.Now(), "high_memory", SeverityWarning, 50, 85, "mem")
	assert.Empty(t, m.Alerts(0))
}

func TestAlerts_PrunedToMax(t *testing.T) {
	t.Parallel()

	m := newTestMonitor(t, func(c *Config) {
		c.MaxAlerts = 3
		c.AlertDedupWindow = 0
	}, nil)

	now := time.Unix(1_700_000_000, 0)
	for i := 0; i < 10; i++ {
		m.evaluate(now.Add(time.Duration(i)*time.Second), "high_memory", SeverityWarning, float64(90+i), 85, "mem")
	}

	alerts := m.Alerts(0)
	require.Len(t, alerts, 3)
	assert.Equal(t, 99.0, alerts[2].Value, "newest alert kept")
}

func TestAppend_BoundedByMaxDataPoints(t *testing.T) {
	t.Parallel()

	m := newTestMonitor(t, func(c *Config) { c.MaxDataPoints = 5 }, nil)
	now := time.Unix(1_700_000_000, 0)

	for i := 0; i < 20; i++ {
		m.append(now.Add(time.Duration(i)*time.Second), CategorySystem, "memory_percent", float64(i))
	}

	samples := m.Series("memory_percent")
	require.Len(t, samples, 5)
	assert.Equal(t, 19.0, samples[4].Value, "oldest points dropped first")
}

func TestAppend_RetentionPruning(t *testing.T) {
	t.Parallel()

	m := newTestMonitor(t, func(c *Config) { c.Retention = time.Minute }, nil)
	now := time.Unix(1_700_000_000, 0)

	m.append(now, CategorySystem, "cpu_percent", 1)
	m.append(now.Add(2*time.Minute), CategorySystem, "cpu_percent", 2)

	samples := m.Series("cpu_percent")
	require.Len(t, samples, 1)
	assert.Equal(t, 2.0, samples[0].Value)
}

func TestHealth_ErrorRateCheck(t *testing.T) {
	t.Parallel()

	m := newTestMonitor(t, func(c *Config) { c.ErrorRateThreshold = 0.5 }, nil)

	m.RecordRequest("GET", 200)
	m.RecordRequest("GET", 200)
	status := m.Health()
	for _, c := range status.Checks {
		if c.Name == "error_rate" {
			assert.True(t, c.Healthy)
		}
	}

	m.RecordRequest("POST", 500)
	m.RecordRequest("POST", 500)
	m.RecordRequest("POST", 500)
	status = m.Health()
	var found bool
	for _, c := range status.Checks {
		if c.Name == "error_rate" {
			found = true
			assert.False(t, c.Healthy, "3/5 errors should breach 0.5 threshold")
		}
	}
	require.True(t, found)
}

func TestSetThresholds_AppliedToHealthChecks(t *testing.T) {
	t.Parallel()

	m := newTestMonitor(t, func(c *Config) { c.ErrorRateThreshold = 0.1 }, nil)

	m.RecordRequest("GET", 200)
	m.RecordRequest("POST", 500)

	errorRateCheck := func(status Status) bool {
		for _, c := range status.Checks {
			if c.Name == "error_rate" {
				return c.Healthy
			}
		}
		t.Fatal("error_rate check missing")
		return false
	}

	require.False(t, errorRateCheck(m.Health()), "0.5 rate should breach 0.1 threshold")

	// Loosening the threshold at runtime flips the check without new traffic.
	m.SetThresholds(85, 0.9)
	assert.True(t, errorRateCheck(m.Health()))
}

func TestSnapshot_Shape(t *testing.T) {
	t.Parallel()

	m := newTestMonitor(t, nil, nil)
	m.collect(time.Now())

	snap := m.Snapshot()
	assert.NotEmpty(t, snap.Uptime)
	assert.Contains(t, snap.Series, "memory_percent")
	assert.Contains(t, snap.Series, "goroutines")
	assert.True(t, snap.Health.Healthy || !snap.Health.Healthy) // shape only
	assert.Len(t, snap.Health.Checks, 4)
}
