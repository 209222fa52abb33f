// Package worker provides a generic, bounded worker pool.
//
// A Pool runs a fixed number of goroutines that apply one processor function
// to items of type T taken from a bounded queue. Two submission styles exist:
//
//   - Submit is fire-and-forget and never blocks; a full queue returns
//     ErrQueueFull and the item is counted as dropped.
//   - Run submits a batch, waiting for queue space, and returns once every
//     item has been processed, joining the processor errors.
//
// The event log multiplexer uses Run to load runs in parallel on each reload:
//
//	pool := worker.NewPool(4, 64, m.loadRun, worker.WithMetricsRegistry[*runState](registry, "eventlog"))
//	_ = pool.Start(ctx)
//	defer pool.Stop(5 * time.Second)
//	err := pool.Run(ctx, runs)
//
// Statistics are always tracked with atomics (Stats). Prometheus metrics are
// optional and registered through a metric.MetricsRegistrar.
//
// Stop closes the queue and waits for workers to drain it. Once the Start
// context is cancelled, queued items are drained without calling the
// processor and report the context error.
package worker
