package health

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Probe reports the current health of a component
type Probe func() Status

// Monitor tracks the health of several components. A component is either
// pushed with Update or polled through a registered Probe.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
	probes   map[string]Probe
}

// NewMonitor creates a new health monitor
func NewMonitor() *Monitor {
	return &Monitor{
		statuses: make(map[string]Status),
		probes:   make(map[string]Probe),
	}
}

// Update records the status of a named component
func (m *Monitor) Update(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}

	m.statuses[name] = status
}

// Register adds a probe polled on every Get and AggregateHealth call.
// A probe replaces any status pushed for the same name.
func (m *Monitor) Register(name string, probe Probe) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.statuses, name)
	m.probes[name] = probe
}

// Get retrieves the health status for a named component
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	probe, isProbe := m.probes[name]
	status, exists := m.statuses[name]
	m.mu.RUnlock()

	if isProbe {
		return m.poll(name, probe), true
	}
	return status, exists
}

// Remove removes a component from monitoring
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.statuses, name)
	delete(m.probes, name)
}

// AggregateHealth polls all probes and aggregates them with the pushed statuses
func (m *Monitor) AggregateHealth(systemName string) Status {
	m.mu.RLock()
	subStatuses := make([]Status, 0, len(m.statuses)+len(m.probes))
	for _, status := range m.statuses {
		subStatuses = append(subStatuses, status)
	}
	probes := make(map[string]Probe, len(m.probes))
	for name, probe := range m.probes {
		probes[name] = probe
	}
	m.mu.RUnlock()

	for name, probe := range probes {
		subStatuses = append(subStatuses, m.poll(name, probe))
	}

	return Aggregate(systemName, subStatuses)
}

// Check returns an error naming the unhealthy components, or nil.
// Degraded components do not fail the check.
func (m *Monitor) Check() error {
	agg := m.AggregateHealth("system")
	if !agg.IsUnhealthy() {
		return nil
	}

	var failing []string
	for _, sub := range agg.SubStatuses {
		if sub.IsUnhealthy() {
			failing = append(failing, fmt.Sprintf("%s: %s", sub.Component, sub.Message))
		}
	}
	return fmt.Errorf("unhealthy: %s", strings.Join(failing, "; "))
}

// Count returns the number of components being monitored
func (m *Monitor) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.statuses) + len(m.probes)
}

func (m *Monitor) poll(name string, probe Probe) Status {
	status := probe()
	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	return status
}
