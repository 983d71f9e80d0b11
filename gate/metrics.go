package gate

import (
	"fmt"
	"sync"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertLoginFailureSpike AlertType = "login_failure_spike"
	AlertRouteDenialSpike  AlertType = "route_denial_spike"
)

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

// metricsCollector tracks sliding window counters for anomaly detection:
// a burst of login failures suggests credential stuffing, a burst of
// denied navigations suggests a role misconfiguration or a probing client.
type metricsCollector struct {
	mu sync.Mutex

	loginFailures  []time.Time
	loginWindow    time.Duration
	loginThreshold int

	denials         []time.Time
	denialWindow    time.Duration
	denialThreshold int

	alertFn AlertFunc
}

const (
	defaultLoginFailureWindow    = 1 * time.Minute
	defaultLoginFailureThreshold = 50
	defaultDenialWindow          = 5 * time.Minute
	defaultDenialThreshold       = 100
)

func newMetricsCollector(alertFn AlertFunc) *metricsCollector {
	return &metricsCollector{
		loginWindow:     defaultLoginFailureWindow,
		loginThreshold:  defaultLoginFailureThreshold,
		denialWindow:    defaultDenialWindow,
		denialThreshold: defaultDenialThreshold,
		alertFn:         alertFn,
	}
}

// recordEvent feeds an audit event into the sliding windows.
func (mc *metricsCollector) recordEvent(event AuditEvent) {
	switch event {
	case AuditLoginFailure, AuditChallengeFailure:
		mc.recordLoginFailure()
	case AuditRouteDenied:
		mc.recordDenial()
	}
}

func (mc *metricsCollector) recordLoginFailure() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := time.Now()
	mc.loginFailures = trimWindow(append(mc.loginFailures, now), now.Add(-mc.loginWindow))
	if len(mc.loginFailures) == mc.loginThreshold && mc.alertFn != nil {
		mc.alertFn(AlertEvent{
			Type:      AlertLoginFailureSpike,
			Message:   fmt.Sprintf("%d login failures within %s", len(mc.loginFailures), mc.loginWindow),
			Count:     len(mc.loginFailures),
			Threshold: mc.loginThreshold,
			Timestamp: now,
		})
	}
}

func (mc *metricsCollector) recordDenial() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := time.Now()
	mc.denials = trimWindow(append(mc.denials, now), now.Add(-mc.denialWindow))
	if len(mc.denials) == mc.denialThreshold && mc.alertFn != nil {
		mc.alertFn(AlertEvent{
			Type:      AlertRouteDenialSpike,
			Message:   fmt.Sprintf("%d denied navigations within %s", len(mc.denials), mc.denialWindow),
			Count:     len(mc.denials),
			Threshold: mc.denialThreshold,
			Timestamp: now,
		})
	}
}

func trimWindow(events []time.Time, cutoff time.Time) []time.Time {
	start := 0
	for start < len(events) && events[start].Before(cutoff) {
		start++
	}
	return events[start:]
}
