package health

import (
	"os"
	"time"
)

// Check is one named health check outcome.
type Check struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Status summarizes all checks.
type Status struct {
	Healthy bool      `json:"healthy"`
	Checks  []Check   `json:"checks"`
	At      time.Time `json:"at"`
}

// Snapshot is the full state returned by GET /metrics.
type Snapshot struct {
	Uptime    string              `json:"uptime"`
	StartedAt time.Time           `json:"startedAt"`
	Health    Status              `json:"health"`
	Series    map[string][]Sample `json:"series"`
	Alerts    []Alert             `json:"alerts"`
}

// Health recomputes the named checks: memory under threshold, error rate
// under threshold, data directory reachable, process alive.
func (m *Monitor) Health() Status {
	now := time.Now()
	memPct, _ := m.sampleMemory()
	errRate := m.errorRate()
	memThreshold, errThreshold := m.thresholds()

	checks := []Check{
		{Name: "memory", Healthy: memPct <= memThreshold},
		{Name: "error_rate", Healthy: errRate <= errThreshold},
		{Name: "disk", Healthy: dirReachable(m.cfg.DataDir)},
		{Name: "process", Healthy: true},
	}

	healthy := true
	for _, c := range checks {
		if !c.Healthy {
			healthy = false
			break
		}
	}
	return Status{Healthy: healthy, Checks: checks, At: now}
}

// Snapshot assembles uptime, series, health, and the last 10 alerts.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	seriesCopy := make(map[string][]Sample, len(m.series))
	for name, s := range m.series {
		seriesCopy[name] = append([]Sample(nil), s.samples...)
	}
	m.mu.RUnlock()

	return Snapshot{
		Uptime:    time.Since(m.started).Round(time.Second).String(),
		StartedAt: m.started,
		Health:    m.Health(),
		Series:    seriesCopy,
		Alerts:    m.Alerts(10),
	}
}

// Uptime returns time since the monitor was created.
func (m *Monitor) Uptime() time.Duration {
	return time.Since(m.started)
}

func dirReachable(dir string) bool {
	if dir == "" {
		return true
	}
	_, err := os.Stat(dir)
	return err == nil
}
