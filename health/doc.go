// Package health tracks component health for the mapper process.
//
// A Status is one of three states: healthy, degraded or unhealthy. The Monitor
// holds pushed statuses and polls registered probes, and AggregateHealth folds
// them into a single process status where the worst component wins:
//
//	monitor := health.NewMonitor()
//	monitor.Register("mapper", m.Health)
//	monitor.Register("nats", func() health.Status {
//		if client.IsHealthy() {
//			return health.NewHealthy("nats", "connected")
//		}
//		return health.NewUnhealthy("nats", client.Status().String())
//	})
//
//	srv := metric.NewServer(addr, path, registry, monitor.Check)
//
// Messages built with FromError are sanitized: URLs, file paths, IP
// addresses, ports and credentials are replaced by placeholders so the health
// endpoint does not leak broker details.
package health
