package nats

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"sort"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/tensorscope/container"
	"github.com/c360/tensorscope/errors"
	"github.com/c360/tensorscope/eventlog"
	"github.com/c360/tensorscope/gateway"
	"github.com/c360/tensorscope/inspector"
	"github.com/c360/tensorscope/metric"
	"github.com/c360/tensorscope/tensor"
	tsutil "github.com/c360/tensorscope/testutil"
)

type fixture struct {
	client  *tsutil.MockNATSClient
	weights string
	metrics *metric.Metrics
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	dir := tsutil.NewLogDir(t)
	dir.WriteTensor("run1", "loss", "tensors", 0,
		&tensor.Array{DType: tensor.Float64, Shape: []int{}, Float: []float64{0.9}})
	dir.WriteTensor("run1", "loss", "tensors", 1,
		&tensor.Array{DType: tensor.Float64, Shape: []int{}, Float: []float64{0.7}})

	mux := eventlog.New(dir.Root)
	t.Cleanup(func() { _ = mux.Close() })
	require.NoError(t, mux.Reload(context.Background()))

	weights := filepath.Join(t.TempDir(), "conv.safetensors")
	require.NoError(t, container.CreateSafetensors(weights, []container.Entry{
		{Key: "conv1/kernel/0", Array: tsutil.Vector(1, 2)},
		{Key: "conv1/bias/0", Array: tsutil.Vector(0.5)},
	}))

	metrics := metric.NewMetrics()
	client := tsutil.NewMockNATSClient()
	gw, err := NewGateway(inspector.New(mux), client, cfg, WithMetrics(metrics))
	require.NoError(t, err)
	require.NoError(t, gw.Start(context.Background()))

	return &fixture{client: client, weights: weights, metrics: metrics}
}

func (f *fixture) request(t *testing.T, subject string, body any) Reply {
	t.Helper()

	var data []byte
	switch b := body.(type) {
	case nil:
	case string:
		data = []byte(b)
	default:
		var err error
		data, err = json.Marshal(b)
		require.NoError(t, err)
	}

	raw, err := f.client.Request(context.Background(), subject, data)
	require.NoError(t, err)

	var reply Reply
	require.NoError(t, json.Unmarshal(raw, &reply))
	return reply
}

func ptr(v int64) *int64 { return &v }

func TestStart_Subjects(t *testing.T) {
	f := newFixture(t, Config{SubjectPrefix: "tensorscope.", QueueGroup: "workers"})

	subjects := f.client.Subjects()
	sort.Strings(subjects)
	assert.Equal(t, []string{"tensorscope.scalars", "tensorscope.tags", "tensorscope.tensors"}, subjects)
	assert.Equal(t, "workers", f.client.QueueGroup("tensorscope.tags"))
}

func TestTags(t *testing.T) {
	f := newFixture(t, Config{SubjectPrefix: "ts"})

	reply := f.request(t, "ts.tags", nil)
	assert.Equal(t, http.StatusOK, reply.Status)
	assert.Empty(t, reply.Error)
	assert.JSONEq(t, `{"run1":["loss"]}`, string(reply.Data))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.NATSRequests.WithLabelValues(OpTags, "200")))
}

func TestScalars(t *testing.T) {
	f := newFixture(t, Config{SubjectPrefix: "ts"})

	reply := f.request(t, "ts.scalars", gateway.ScalarsRequest{Run: "run1", Tag: "loss"})
	require.Equal(t, http.StatusOK, reply.Status)
	assert.Equal(t, `{"tag":"loss","steps":{"0":0.9,"1":0.7}}`, string(reply.Data))

	reply = f.request(t, "ts.scalars", gateway.ScalarsRequest{Run: "other", Tag: "loss"})
	assert.Equal(t, Reply{Status: http.StatusNotFound, Error: "resource not found"}, reply)

	reply = f.request(t, "ts.scalars", nil)
	assert.Equal(t, Reply{Status: http.StatusBadRequest, Error: "missing required parameter: tag"}, reply)

	reply = f.request(t, "ts.scalars", `{"tag":"loss"}`)
	assert.Equal(t, Reply{Status: http.StatusBadRequest, Error: "missing required parameter: run"}, reply)
}

func TestTensors(t *testing.T) {
	f := newFixture(t, Config{SubjectPrefix: "ts", MaxLimit: 10})

	reply := f.request(t, "ts.tensors", gateway.TensorsRequest{LogDir: f.weights, Cursor: ptr(0), Limit: ptr(1)})
	require.Equal(t, http.StatusOK, reply.Status)
	assert.Equal(t, `[{"name":"conv1","kernel":{"steps":{"0":[1,2]}},"bias":{"steps":{"0":[0.5]}}}]`, string(reply.Data))

	reply = f.request(t, "ts.tensors",
		gateway.TensorsRequest{LogDir: f.weights, Cursor: ptr(0), Limit: ptr(1), NoBias: true})
	require.Equal(t, http.StatusOK, reply.Status)
	assert.Equal(t, `[{"name":"conv1","kernel":{"steps":{"0":[1,2]}},"bias":{"steps":{}}}]`, string(reply.Data))

	tests := []struct {
		name    string
		body    any
		message string
	}{
		{"missing cursor", `{"log_dir":"x","limit":1}`, "missing required parameter: cursor"},
		{"limit above max", gateway.TensorsRequest{LogDir: f.weights, Cursor: ptr(0), Limit: ptr(11)}, "limit must not exceed 10"},
		{"bad json", `{"log_dir":`, "invalid JSON request body"},
		{"unknown field", `{"logdir":"x"}`, "invalid JSON request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := f.request(t, "ts.tensors", tt.body)
			assert.Equal(t, Reply{Status: http.StatusBadRequest, Error: tt.message}, reply)
		})
	}

	missing := filepath.Join(t.TempDir(), "absent.safetensors")
	reply = f.request(t, "ts.tensors", gateway.TensorsRequest{LogDir: missing, Cursor: ptr(0), Limit: ptr(1)})
	assert.Equal(t, Reply{Status: http.StatusNotFound, Error: "resource not found"}, reply)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.NATSRequests.WithLabelValues(OpTensors, "404")))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{SubjectPrefix: "tensorscope"}, false},
		{"empty prefix", Config{}, true},
		{"only dot", Config{SubjectPrefix: "."}, true},
		{"wildcard", Config{SubjectPrefix: "ts.*"}, true},
		{"negative limit", Config{SubjectPrefix: "ts", MaxLimit: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, errors.IsInvalid(err))
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, gateway.DefaultMaxLimit, tt.cfg.MaxLimit)
		})
	}
}

func TestNewGateway_Validation(t *testing.T) {
	svc := inspector.New(eventlog.New(t.TempDir()))

	_, err := NewGateway(nil, tsutil.NewMockNATSClient(), Config{SubjectPrefix: "ts"})
	assert.True(t, errors.IsFatal(err))

	_, err = NewGateway(svc, nil, Config{SubjectPrefix: "ts"})
	assert.True(t, errors.IsFatal(err))

	_, err = NewGateway(svc, tsutil.NewMockNATSClient(), Config{})
	assert.True(t, errors.IsInvalid(err))
}

func TestStart_ClientClosed(t *testing.T) {
	client := tsutil.NewMockNATSClient()
	require.NoError(t, client.Close())

	gw, err := NewGateway(inspector.New(eventlog.New(t.TempDir())), client, Config{SubjectPrefix: "ts"})
	require.NoError(t, err)

	err = gw.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}
