package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsLoginFailureSpike(t *testing.T) {
	var alerts []AlertEvent
	mc := newMetricsCollector(func(ev AlertEvent) {
		alerts = append(alerts, ev)
	})
	mc.loginThreshold = 5

	for i := 0; i < 4; i++ {
		mc.recordEvent(AuditLoginFailure)
	}
	assert.Empty(t, alerts, "no alert below the threshold")

	mc.recordEvent(AuditLoginFailure)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertLoginFailureSpike, alerts[0].Type)
	assert.Equal(t, 5, alerts[0].Count)

	// Crossing the threshold alerts once, not on every further failure.
	mc.recordEvent(AuditLoginFailure)
	assert.Len(t, alerts, 1)
}

func TestMetricsDenialSpike(t *testing.T) {
	var alerts []AlertEvent
	mc := newMetricsCollector(func(ev AlertEvent) {
		alerts = append(alerts, ev)
	})
	mc.denialThreshold = 3

	mc.recordEvent(AuditRouteDenied)
	mc.recordEvent(AuditRouteDenied)
	mc.recordEvent(AuditRouteDenied)

	require.Len(t, alerts, 1)
	assert.Equal(t, AlertRouteDenialSpike, alerts[0].Type)
}

func TestMetricsIgnoresUnrelatedEvents(t *testing.T) {
	called := false
	mc := newMetricsCollector(func(AlertEvent) { called = true })
	mc.loginThreshold = 1
	mc.denialThreshold = 1

	mc.recordEvent(AuditLoginSuccess)
	mc.recordEvent(AuditLogout)
	assert.False(t, called)
}

func TestMetricsNilAlertFunc(t *testing.T) {
	mc := newMetricsCollector(nil)
	mc.loginThreshold = 1
	// Must not panic.
	mc.recordEvent(AuditLoginFailure)
}
