package health

import (
	"context"
	"sync"
	"time"

	"github.com/c360/tensorscope/metric"
)

// CheckFunc probes one component.
type CheckFunc func(ctx context.Context) Status

// Monitor tracks the health of named components. Statuses are either pushed
// with Update or pulled from registered checks by Refresh.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
	checks   map[string]CheckFunc
	started  time.Time
	metrics  *metric.Metrics
}

// NewMonitor creates a new health monitor. metrics may be nil.
func NewMonitor(metrics *metric.Metrics) *Monitor {
	return &Monitor{
		statuses: make(map[string]Status),
		checks:   make(map[string]CheckFunc),
		started:  time.Now(),
		metrics:  metrics,
	}
}

// Register adds a check that Refresh runs for name.
func (m *Monitor) Register(name string, check CheckFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
}

// Refresh runs every registered check and stores its result.
func (m *Monitor) Refresh(ctx context.Context) {
	m.mu.RLock()
	checks := make(map[string]CheckFunc, len(m.checks))
	for name, check := range m.checks {
		checks[name] = check
	}
	m.mu.RUnlock()

	for name, check := range checks {
		m.Update(name, check(ctx))
	}
}

// Update stores the status for name, fixing its component name and
// timestamp.
func (m *Monitor) Update(name string, status Status) {
	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}

	m.mu.Lock()
	m.statuses[name] = status
	m.mu.Unlock()

	m.metrics.RecordHealthStatus(name, status.IsHealthy())
}

// UpdateHealthy is a convenience method to update a component as healthy
func (m *Monitor) UpdateHealthy(name, message string) {
	m.Update(name, NewHealthy(name, message))
}

// UpdateUnhealthy is a convenience method to update a component as unhealthy
func (m *Monitor) UpdateUnhealthy(name, message string) {
	m.Update(name, NewUnhealthy(name, message))
}

// Get retrieves the health status for a named component
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, exists := m.statuses[name]
	return status, exists
}

// Remove stops tracking name and drops its check.
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.statuses, name)
	delete(m.checks, name)
}

// AggregateHealth refreshes all checks and returns the service status with
// uptime attached.
func (m *Monitor) AggregateHealth(ctx context.Context, systemName string) Status {
	m.Refresh(ctx)

	m.mu.RLock()
	subStatuses := make([]Status, 0, len(m.statuses))
	for _, status := range m.statuses {
		subStatuses = append(subStatuses, status)
	}
	started := m.started
	m.mu.RUnlock()

	status := Aggregate(systemName, subStatuses)
	errorCount := 0
	for _, sub := range subStatuses {
		if !sub.IsHealthy() {
			errorCount++
		}
	}
	m.metrics.RecordHealthStatus(systemName, status.IsHealthy())
	return status.WithMetrics(&Metrics{Uptime: time.Since(started), ErrorCount: errorCount})
}
