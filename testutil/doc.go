// Package testutil provides fixtures and mocks for tensorscope tests.
//
// # Fixtures
//
// LogDir writes TensorBoard-style event files under t.TempDir, one file per
// run, with tensor summaries tagged for a plugin:
//
//	dir := testutil.NewLogDir(t)
//	dir.WriteTensor("run1", "loss", "tensors", 0, testutil.Vector(0.5))
//	dir.WriteScalar("run1", "acc", 3, 0.25)
//
//	mux := eventlog.New(dir.Root)
//	require.NoError(t, mux.Reload(ctx))
//
// WriteWeights writes a safetensors container holding kernel and bias
// entries for each Layer at the given steps. Kernel values at step s are
// [[s, s+1], [s+2, s+3]] and bias values are [s+0.5, s-0.5], so assertions
// can be computed from the step alone.
//
// # MockNATSClient
//
// MockNATSClient is an in-memory stand-in for natsclient.Client. It supports
// QueueRespond/Request; requests to a subject are handed to its responders
// round-robin, and a subject with no responders fails the request:
//
//	client := testutil.NewMockNATSClient()
//	gw, _ := natsgw.NewGateway(svc, client, natsgw.Config{SubjectPrefix: "ts"})
//	require.NoError(t, gw.Start(ctx))
//
//	reply, err := client.Request(ctx, "ts.tags", nil)
//
// Tests that need real server behaviour use natsclient.NewTestClient under
// the integration build tag instead.
package testutil
