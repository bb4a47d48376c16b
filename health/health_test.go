package health

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty string", "", ""},
		{"file path", "failed to open /etc/tedge/dvs-mapper.yaml", "failed to open [PATH]"},
		{"nats url", "cannot connect to nats://broker:4222", "cannot connect to [URL]"},
		{"tls url", "handshake with tls://10.0.0.5:4443 failed", "handshake with [URL] failed"},
		{"ip address", "timeout connecting to 192.168.1.100", "timeout connecting to [IP]"},
		{"port", "failed to bind to :9090", "failed to bind to [PORT]"},
		{"credentials", "auth failed with password:hunter2", "auth failed with [REDACTED]"},
		{"plain", "circuit breaker open", "circuit breaker open"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeErrorMessage(tt.input))
		})
	}
}

func TestFromError(t *testing.T) {
	ok := FromError("nats", nil)
	assert.True(t, ok.IsHealthy())
	assert.Equal(t, "nats", ok.Component)

	bad := FromError("nats", errors.New("dial nats://broker:4222: refused"))
	assert.True(t, bad.IsUnhealthy())
	assert.Equal(t, "dial [URL] refused", bad.Message)
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name string
		subs []Status
		want State
	}{
		{"empty", nil, StateHealthy},
		{"all healthy", []Status{NewHealthy("a", ""), NewHealthy("b", "")}, StateHealthy},
		{"one degraded", []Status{NewHealthy("a", ""), NewDegraded("b", "")}, StateDegraded},
		{"unhealthy wins", []Status{NewDegraded("a", ""), NewUnhealthy("b", ""), NewHealthy("c", "")}, StateUnhealthy},
		{"unhealthy before degraded", []Status{NewUnhealthy("a", ""), NewDegraded("b", "")}, StateUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := Aggregate("system", tt.subs)
			assert.Equal(t, tt.want, agg.State)
			assert.Len(t, agg.SubStatuses, len(tt.subs))
		})
	}
}

func TestAggregate_SortsAndCopies(t *testing.T) {
	subs := []Status{NewHealthy("nats", ""), NewHealthy("mapper", "")}
	agg := Aggregate("system", subs)

	require.Len(t, agg.SubStatuses, 2)
	assert.Equal(t, "mapper", agg.SubStatuses[0].Component)
	assert.Equal(t, "nats", subs[0].Component, "input must not be reordered")
}

func TestMonitor_UpdateAndGet(t *testing.T) {
	m := NewMonitor()
	m.Update("mapper", Status{State: StateDegraded, Message: "slow"})

	got, ok := m.Get("mapper")
	require.True(t, ok)
	assert.Equal(t, "mapper", got.Component)
	assert.False(t, got.Timestamp.IsZero())
	assert.True(t, got.IsDegraded())

	_, ok = m.Get("absent")
	assert.False(t, ok)

	m.Remove("mapper")
	assert.Equal(t, 0, m.Count())
}

func TestMonitor_ProbesArePolled(t *testing.T) {
	m := NewMonitor()

	healthy := true
	m.Register("nats", func() Status {
		if healthy {
			return NewHealthy("ignored", "connected")
		}
		return NewUnhealthy("ignored", "disconnected")
	})

	got, ok := m.Get("nats")
	require.True(t, ok)
	assert.Equal(t, "nats", got.Component)
	assert.NoError(t, m.Check())

	healthy = false
	assert.True(t, m.AggregateHealth("system").IsUnhealthy())
	err := m.Check()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nats: disconnected")
}

func TestMonitor_RegisterReplacesPushedStatus(t *testing.T) {
	m := NewMonitor()
	m.Update("mapper", NewUnhealthy("mapper", "stopped"))
	m.Register("mapper", func() Status { return NewHealthy("", "running") })

	assert.Equal(t, 1, m.Count())
	assert.NoError(t, m.Check())
}

func TestMonitor_DegradedPassesCheck(t *testing.T) {
	m := NewMonitor()
	m.Update("mapper", NewDegraded("mapper", "error reports dropped"))
	assert.NoError(t, m.Check())
}

func TestMonitor_Concurrent(t *testing.T) {
	m := NewMonitor()
	m.Register("probe", func() Status { return NewHealthy("", "") })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Update("pushed", Status{State: StateHealthy, Timestamp: time.Now()})
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = m.AggregateHealth("system")
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, m.Count())
}
