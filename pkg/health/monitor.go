// Package health samples process metrics on a fixed tick, retains bounded
// time series, evaluates alert thresholds with dedup, and renders health
// snapshots for the HTTP surface.
package health

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/toolgate/toolgate/pkg/metrics"
)

// Series categories.
const (
	CategorySystem      = "system"
	CategoryApplication = "application"
	CategoryProtocol    = "protocol"
)

// Config tunes the monitor.
type Config struct {
	CollectInterval    time.Duration
	Retention          time.Duration
	MaxDataPoints      int
	MemoryThresholdPct float64
	ErrorRateThreshold float64
	AlertDedupWindow   time.Duration
	MaxAlerts          int
	DataDir            string
}

// DefaultConfig returns the monitor defaults.
func DefaultConfig() Config {
	return Config{
		CollectInterval:    5 * time.Second,
		Retention:          24 * time.Hour,
		MaxDataPoints:      2880,
		MemoryThresholdPct: 85,
		ErrorRateThreshold: 0.1,
		AlertDedupWindow:   5 * time.Minute,
		MaxAlerts:          100,
		DataDir:            ".",
	}
}

// Sample is one time-series point.
type Sample struct {
	At    time.Time `json:"at"`
	Value float64   `json:"value"`
}

// series is a bounded, retention-pruned buffer of samples.
type series struct {
	category string
	samples  []Sample
}

// Notify receives alert events for fan-out (e.g. to a privileged room).
// May be nil.
type Notify func(event string, payload map[string]any)

// Monitor owns the collection loop and all health state.
type Monitor struct {
	cfg    Config
	reg    *metrics.Registry
	notify Notify
	logger *slog.Logger

	proc    *process.Process
	started time.Time

	mu        sync.RWMutex
	series    map[string]*series
	alerts    []Alert
	lastAlert map[string]time.Time

	memThreshold float64
	errThreshold float64

	requests int64
	errors   int64

	// shared gauges/counters on the registry
	memPercent *metrics.Gauge
	memRSS     *metrics.Gauge
	cpuPercent *metrics.Gauge
	goroutines *metrics.Gauge
	uptime     *metrics.Gauge

	requestsTotal *metrics.Counter
	errorsTotal   *metrics.Counter
	toolLatency   *metrics.Histogram

	stop chan struct{}
	once sync.Once
}

// NewMonitor creates a monitor registering its metrics on reg.
func NewMonitor(cfg Config, reg *metrics.Registry, notify Notify, logger *slog.Logger) *Monitor {
	proc, _ := process.NewProcess(int32(os.Getpid()))

	m := &Monitor{
		cfg:       cfg,
		reg:       reg,
		notify:    notify,
		logger:    logger,
		proc:      proc,
		started:   time.Now(),
		series:    make(map[string]*series),
		lastAlert: make(map[string]time.Time),
		stop:      make(chan struct{}),

		memThreshold: cfg.MemoryThresholdPct,
		errThreshold: cfg.ErrorRateThreshold,

		memPercent: reg.NewGauge("process_memory_percent", "Resident memory as a share of total system memory."),
		memRSS:     reg.NewGauge("process_memory_rss_bytes", "Resident set size in bytes."),
		cpuPercent: reg.NewGauge("process_cpu_percent", "Process CPU usage percent."),
		goroutines: reg.NewGauge("go_goroutines", "Number of live goroutines."),
		uptime:     reg.NewGauge("uptime_seconds", "Seconds since process start."),

		requestsTotal: reg.NewCounter("requests_total", "Total HTTP requests handled.", "method", "status"),
		errorsTotal:   reg.NewCounter("errors_total", "Total request-level errors."),
		toolLatency:   reg.NewHistogram("tool_call_duration_seconds", "Tool invocation latency.", metrics.DefaultBuckets, "tool"),
	}
	return m
}

// Run drives the collection loop until ctx is done or Stop is called.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.CollectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.collect(time.Now())
		}
	}
}

// Stop halts the collection loop.
func (m *Monitor) Stop() {
	m.once.Do(func() { close(m.stop) })
}

// RecordRequest tracks one handled HTTP request for counters and the
// error-rate health check.
func (m *Monitor) RecordRequest(method string, status int) {
	m.requestsTotal.Inc(method, statusLabel(status))

	m.mu.Lock()
	m.requests++
	if status >= 500 {
		m.errors++
		m.mu.Unlock()
		m.errorsTotal.Inc()
		return
	}
	m.mu.Unlock()
}

// RecordToolCall tracks a tool invocation latency.
func (m *Monitor) RecordToolCall(tool string, elapsed time.Duration) {
	m.toolLatency.Observe(elapsed.Seconds(), tool)
}

// SetThresholds updates the alert thresholds used on subsequent ticks.
func (m *Monitor) SetThresholds(memoryPct, errorRate float64) {
	m.mu.Lock()
	m.memThreshold = memoryPct
	m.errThreshold = errorRate
	m.mu.Unlock()
}

func (m *Monitor) thresholds() (memoryPct, errorRate float64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.memThreshold, m.errThreshold
}

// collect is one tick: sample, store, prune, check health, evaluate alerts.
func (m *Monitor) collect(now time.Time) {
	memPct, rss := m.sampleMemory()
	cpuPct := m.sampleCPU()
	gor := float64(runtime.NumGoroutine())

	m.memPercent.Set(memPct)
	m.memRSS.Set(rss)
	m.cpuPercent.Set(cpuPct)
	m.goroutines.Set(gor)
	m.uptime.Set(now.Sub(m.started).Seconds())

	m.append(now, CategorySystem, "memory_percent", memPct)
	m.append(now, CategorySystem, "memory_rss_bytes", rss)
	m.append(now, CategorySystem, "cpu_percent", cpuPct)
	m.append(now, CategoryApplication, "goroutines", gor)

	memThreshold, errThreshold := m.thresholds()
	m.evaluate(now, "high_memory", SeverityWarning, memPct, memThreshold,
		"memory usage above threshold")
	if rate := m.errorRate(); rate > 0 {
		m.evaluate(now, "high_error_rate", SeverityCritical, rate, errThreshold,
			"request error rate above threshold")
	}
}

// append stores a sample, enforcing the point cap and retention window.
func (m *Monitor) append(now time.Time, category, name string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.series[name]
	if !ok {
		s = &series{category: category}
		m.series[name] = s
	}
	s.samples = append(s.samples, Sample{At: now, Value: value})

	if n := len(s.samples); n > m.cfg.MaxDataPoints {
		s.samples = s.samples[n-m.cfg.MaxDataPoints:]
	}
	cutoff := now.Add(-m.cfg.Retention)
	firstFresh := 0
	for firstFresh < len(s.samples) && s.samples[firstFresh].At.Before(cutoff) {
		firstFresh++
	}
	if firstFresh > 0 {
		s.samples = s.samples[firstFresh:]
	}
}

// Series returns a copy of one named series.
func (m *Monitor) Series(name string) []Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.series[name]
	if !ok {
		return nil
	}
	return append([]Sample(nil), s.samples...)
}

func (m *Monitor) errorRate() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.requests == 0 {
		return 0
	}
	return float64(m.errors) / float64(m.requests)
}

func (m *Monitor) sampleMemory() (percent, rss float64) {
	if m.proc == nil {
		return 0, 0
	}
	if pct, err := m.proc.MemoryPercent(); err == nil {
		percent = float64(pct)
	}
	if info, err := m.proc.MemoryInfo(); err == nil && info != nil {
		rss = float64(info.RSS)
	}
	return percent, rss
}

func (m *Monitor) sampleCPU() float64 {
	if m.proc == nil {
		return 0
	}
	pct, err := m.proc.CPUPercent()
	if err != nil {
		return 0
	}
	return pct
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
