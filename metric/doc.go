// Package metric provides the Prometheus registry and HTTP endpoint of the
// mapper process.
//
// MetricsRegistry owns a private Prometheus registry holding the core
// metrics (component status, error counts, NATS connectivity) plus the Go
// runtime and process collectors. Components register their own series
// through the MetricsRegistrar interface; registering the same component and
// metric name twice is rejected as invalid.
//
//	registry := metric.NewMetricsRegistry()
//	requests := prometheus.NewCounterVec(opts, []string{"result"})
//	if err := registry.RegisterCounterVec("dvs-mapper", "messages", requests); err != nil {
//	    return err
//	}
//
// Server exposes the registry on /metrics (OpenMetrics enabled) and a
// /health endpoint backed by a HealthFunc:
//
//	server := metric.NewServer(":9090", "/metrics", registry, mapper.HealthCheck)
//	if err := server.Run(ctx); err != nil {
//	    return err
//	}
package metric
