package health

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/tensorscope/metric"
)

func TestSanitizeErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty string", "", ""},
		{"unix path", "failed to open /var/log/runs/events.out", "failed to open [PATH]"},
		{"windows path", "cannot read C:\\Users\\Admin\\logs", "cannot read [PATH]"},
		{"http url", "connection failed to https://api.example.com/v1/health", "connection failed to [URL]"},
		{"nats url", "cannot connect to nats://localhost:4222", "cannot connect to [URL]"},
		{"ip address", "timeout connecting to 192.168.1.100", "timeout connecting to [IP]"},
		{"port", "failed to bind to :8080", "failed to bind to [PORT]"},
		{"credentials", "auth failed with password:secretpass123", "auth failed with [REDACTED]"},
		{"no sensitive data", "reload failed", "reload failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeErrorMessage(tt.input))
		})
	}
}

func TestFromError(t *testing.T) {
	ok := FromError("eventlog", nil, "last reload succeeded")
	assert.True(t, ok.IsHealthy())
	assert.True(t, ok.Healthy)
	assert.Equal(t, "last reload succeeded", ok.Message)

	bad := FromError("eventlog", errors.New("read /data/logs failed"), "unused")
	assert.True(t, bad.IsUnhealthy())
	assert.False(t, bad.Healthy)
	assert.Equal(t, "read [PATH] failed", bad.Message)
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name     string
		subs     []Status
		expected string
	}{
		{"empty", nil, StateHealthy},
		{"all healthy", []Status{NewHealthy("a", ""), NewHealthy("b", "")}, StateHealthy},
		{"one degraded", []Status{NewHealthy("a", ""), NewDegraded("b", "")}, StateDegraded},
		{"unhealthy wins", []Status{NewDegraded("a", ""), NewUnhealthy("b", ""), NewHealthy("c", "")}, StateUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Aggregate("svc", tt.subs)
			assert.Equal(t, tt.expected, got.Status)
			assert.Equal(t, tt.expected == StateHealthy, got.Healthy)
			assert.Len(t, got.SubStatuses, len(tt.subs))
		})
	}

	got := Aggregate("svc", []Status{NewHealthy("zeta", ""), NewHealthy("alpha", "")})
	assert.Equal(t, "alpha", got.SubStatuses[0].Component)
	assert.Equal(t, "zeta", got.SubStatuses[1].Component)
}

func TestMonitor_UpdateAndGet(t *testing.T) {
	m := NewMonitor(nil)

	m.Update("correct-name", Status{Component: "wrong-name", Status: StateHealthy})
	got, ok := m.Get("correct-name")
	require.True(t, ok)
	assert.Equal(t, "correct-name", got.Component)
	assert.False(t, got.Timestamp.IsZero())

	m.UpdateUnhealthy("nats", "disconnected")
	got, _ = m.Get("nats")
	assert.True(t, got.IsUnhealthy())

	m.Remove("nats")
	_, ok = m.Get("nats")
	assert.False(t, ok)
}

func TestMonitor_AggregateHealthRunsChecks(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	m := NewMonitor(registry.CoreMetrics())

	var reloadErr error
	m.Register("eventlog", func(context.Context) Status {
		return FromError("eventlog", reloadErr, "last reload succeeded")
	})
	m.UpdateHealthy("http", "serving")

	status := m.AggregateHealth(context.Background(), "tensorscope")
	assert.True(t, status.IsHealthy())
	require.Len(t, status.SubStatuses, 2)
	require.NotNil(t, status.Metrics)
	assert.Equal(t, 0, status.Metrics.ErrorCount)
	assert.Equal(t, 1.0, testutil.ToFloat64(registry.CoreMetrics().HealthStatus.WithLabelValues("eventlog")))

	reloadErr = errors.New("log directory missing")
	status = m.AggregateHealth(context.Background(), "tensorscope")
	assert.True(t, status.IsUnhealthy())
	assert.Equal(t, 1, status.Metrics.ErrorCount)
	assert.Equal(t, 0.0, testutil.ToFloat64(registry.CoreMetrics().HealthStatus.WithLabelValues("eventlog")))
	assert.Equal(t, 0.0, testutil.ToFloat64(registry.CoreMetrics().HealthStatus.WithLabelValues("tensorscope")))
}

func TestMonitor_ConcurrentAccess(t *testing.T) {
	m := NewMonitor(nil)
	m.Register("check", func(context.Context) Status { return NewHealthy("check", "") })

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.UpdateHealthy("pushed", "ok")
		}()
		go func() {
			defer wg.Done()
			_ = m.AggregateHealth(context.Background(), "svc")
		}()
	}
	wg.Wait()

	status := m.AggregateHealth(context.Background(), "svc")
	assert.True(t, status.IsHealthy())
	assert.Len(t, status.SubStatuses, 2)
}
