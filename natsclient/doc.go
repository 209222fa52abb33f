// Package natsclient wraps a core NATS connection with a circuit breaker,
// reconnect handling and request/reply helpers.
//
// The client walks the states Disconnected → Connecting → Connected, moving
// to Reconnecting when the server goes away and to CircuitOpen after a run of
// failed connection attempts (five by default). While the circuit is open
// Connect fails fast with ErrCircuitOpen; after the backoff elapses the
// circuit half-opens and the next Connect tries again. The backoff doubles on
// each opening up to WithMaxBackoff.
//
// # Usage
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithLogger(logger),
//	    natsclient.WithMetrics(registry.CoreMetrics()),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(context.Background())
//
//	err = client.QueueRespond(ctx, "tensorscope.tags", "tensorscope",
//	    func(ctx context.Context, subject string, data []byte) []byte {
//	        return []byte(`{}`)
//	    })
//
//	reply, err := client.Request(ctx, "tensorscope.tags", nil)
//
// Handlers receive a context bounded by WithRequestTimeout. Request uses the
// same timeout when the caller's context has no deadline, and reports a
// NotFound-classified error when nobody is listening on the subject.
//
// # Testing
//
// NewTestClient starts a disposable NATS server with testcontainers and
// returns a connected client that is torn down by t.Cleanup. Tests that use
// it carry the integration build tag.
package natsclient
