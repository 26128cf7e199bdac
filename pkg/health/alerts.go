package health

import "time"

// Alert severities.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Alert is one recorded threshold crossing. Alerts are immutable once
// appended and pruned to the most recent MaxAlerts.
type Alert struct {
	Type      string    `json:"type"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	Threshold float64   `json:"threshold"`
	Value     float64   `json:"value"`
	At        time.Time `json:"at"`
}

// evaluate fires an alert when value crosses threshold, unless an alert of
// the same type was already recorded inside the dedup window.
func (m *Monitor) evaluate(now time.Time, alertType, severity string, value, threshold float64, message string) {
	if value <= threshold {
		return
	}

	m.mu.Lock()
	if last, seen := m.lastAlert[alertType]; seen && now.Sub(last) < m.cfg.AlertDedupWindow {
		m.mu.Unlock()
		return
	}
	m.lastAlert[alertType] = now

	alert := Alert{
		Type:      alertType,
		Severity:  severity,
		Message:   message,
		Threshold: threshold,
		Value:     value,
		At:        now,
	}
	m.alerts = append(m.alerts, alert)
	if n := len(m.alerts); n > m.cfg.MaxAlerts {
		m.alerts = m.alerts[n-m.cfg.MaxAlerts:]
	}
	m.mu.Unlock()

	m.logger.Warn("alert fired",
		"type", alertType, "severity", severity, "value", value, "threshold", threshold)

	if m.notify != nil {
		m.notify("alert", map[string]any{
			"type":      alertType,
			"severity":  severity,
			"message":   message,
			"value":     value,
			"threshold": threshold,
		})
	}
}

// Alerts returns up to the n most recent alerts, newest last.
func (m *Monitor) Alerts(n int) []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n <= 0 || n > len(m.alerts) {
		n = len(m.alerts)
	}
	return append([]Alert(nil), m.alerts[len(m.alerts)-n:]...)
}
