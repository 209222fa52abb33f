// Package metric provides Prometheus metrics and the HTTP server that exposes
// them.
//
// A MetricsRegistry owns a private prometheus.Registry. It is created with the
// service's core Metrics (HTTP routes, NATS, event log reloads, weight
// container opens, skipped decodes) and the Go/process collectors already
// registered. Components with their own collectors, such as the worker pool,
// register through the MetricsRegistrar interface:
//
//	registry := metric.NewMetricsRegistry()
//	pool := worker.NewPool(4, 64, process, worker.WithMetricsRegistry(registry, "eventlog"))
//
// Core metrics are recorded through Record methods, which are no-ops on a nil
// *Metrics:
//
//	m := registry.CoreMetrics()
//	m.RecordHTTPRequest("/tags", http.StatusOK, time.Since(start))
//
// Server serves the registry on its own port with a plain /health probe:
//
//	srv := metric.NewServer(9090, "/metrics", registry, securityCfg)
//	go func() { _ = srv.Start() }()
//	defer srv.Stop(ctx)
//
// All metric names share the "tensorscope" namespace.
package metric
