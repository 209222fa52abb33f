// Package health tracks the health of the service's moving parts and
// aggregates them into one status for the health endpoint.
//
// # Health states
//
// A Status is one of healthy, degraded or unhealthy. Aggregate folds a set of
// component statuses into a service status: any unhealthy component makes
// the service unhealthy, otherwise any degraded one makes it degraded.
//
// # Usage
//
//	monitor := health.NewMonitor(registry.CoreMetrics())
//	monitor.Register("eventlog", func(ctx context.Context) health.Status {
//	    _, err := mux.LastReload()
//	    return health.FromError("eventlog", err, "last reload succeeded")
//	})
//
//	status := monitor.AggregateHealth(ctx, "tensorscope")
//
// Messages built from errors are sanitized: URLs, file paths, IP addresses,
// ports and credential-looking pairs are replaced with placeholders so the
// health endpoint does not disclose the host layout.
package health
