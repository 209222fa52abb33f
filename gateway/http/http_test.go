package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/tensorscope/container"
	"github.com/c360/tensorscope/errors"
	"github.com/c360/tensorscope/eventlog"
	"github.com/c360/tensorscope/gateway"
	"github.com/c360/tensorscope/health"
	"github.com/c360/tensorscope/inspector"
	"github.com/c360/tensorscope/metric"
	"github.com/c360/tensorscope/tensor"
	tsutil "github.com/c360/tensorscope/testutil"
)

const prefix = "/data/plugin/tensors"

type fixture struct {
	handler  http.Handler
	weights  string
	registry *metric.MetricsRegistry
}

func scalar(v float64) *tensor.Array {
	return &tensor.Array{DType: tensor.Float64, Shape: []int{}, Float: []float64{v}}
}

func newFixture(t *testing.T, cfg gateway.Config, opts ...Option) *fixture {
	t.Helper()

	dir := tsutil.NewLogDir(t)
	dir.WriteTensor("run1", "loss", "tensors", 0, scalar(0.9))
	dir.WriteTensor("run1", "loss", "tensors", 1, scalar(0.7))
	dir.WriteTensor("run2", "dense/kernel", "tensors", 0, tsutil.Vector(1, 2))

	mux := eventlog.New(dir.Root)
	t.Cleanup(func() { _ = mux.Close() })
	require.NoError(t, mux.Reload(context.Background()))

	weights := filepath.Join(t.TempDir(), "conv.safetensors")
	require.NoError(t, container.CreateSafetensors(weights, []container.Entry{
		{Key: "conv1/kernel/0", Array: tsutil.Vector(1, 2)},
		{Key: "conv1/kernel/5", Array: tsutil.Vector(3, 4)},
	}))

	registry := metric.NewMetricsRegistry()
	svc := inspector.New(mux, inspector.WithMetrics(registry.CoreMetrics()))
	d, err := NewDispatcher(svc, cfg, append([]Option{WithMetrics(registry.CoreMetrics())}, opts...)...)
	require.NoError(t, err)

	return &fixture{handler: d.Handler(prefix), weights: weights, registry: registry}
}

func (f *fixture) get(t *testing.T, path string, params url.Values) *httptest.ResponseRecorder {
	t.Helper()
	target := prefix + path
	if params != nil {
		target += "?" + params.Encode()
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func assertError(t *testing.T, rec *httptest.ResponseRecorder, status int, message string) {
	t.Helper()
	assert.Equal(t, status, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body gateway.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, status, body.Status)
	if message != "" {
		assert.Equal(t, message, body.Error)
	}
}

func TestTags(t *testing.T) {
	f := newFixture(t, gateway.DefaultConfig())

	rec := f.get(t, "/tags", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"run1":["loss"],"run2":["dense/kernel"]}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestScalars(t *testing.T) {
	f := newFixture(t, gateway.DefaultConfig())

	rec := f.get(t, "/scalars", url.Values{"tag": {"loss"}, "run": {"run1"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"tag":"loss","steps":{"0":0.9,"1":0.7}}`, rec.Body.String())

	assertError(t, f.get(t, "/scalars", url.Values{"tag": {"loss"}, "run": {"missing"}}), http.StatusNotFound, "resource not found")
	assertError(t, f.get(t, "/scalars", url.Values{"run": {"run1"}}), http.StatusBadRequest, "missing required parameter: tag")
	assertError(t, f.get(t, "/scalars", url.Values{"tag": {"loss"}}), http.StatusBadRequest, "missing required parameter: run")
}

func TestTensors(t *testing.T) {
	f := newFixture(t, gateway.DefaultConfig())

	params := func(cursor, limit string, extra ...string) url.Values {
		v := url.Values{"log_dir": {f.weights}, "cursor": {cursor}, "limit": {limit}}
		for i := 0; i+1 < len(extra); i += 2 {
			v.Set(extra[i], extra[i+1])
		}
		return v
	}

	rec := f.get(t, "/tensors", params("0", "10"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `[{"name":"conv1","kernel":{"steps":{"0":[1,2],"5":[3,4]}},"bias":{"steps":{}}}]`, rec.Body.String())

	rec = f.get(t, "/tensors", params("1", "4"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `[{"name":"conv1","kernel":{"steps":{}},"bias":{"steps":{}}}]`, rec.Body.String())

	rec = f.get(t, "/tensors", params("0", "10", "noKernel", "true"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `[{"name":"conv1","kernel":{"steps":{}},"bias":{"steps":{}}}]`, rec.Body.String())

	// only the exact string "true" disables a family
	rec = f.get(t, "/tensors", params("0", "1", "noKernel", "1"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"0":[1,2]`)
}

func TestTensors_BadRequests(t *testing.T) {
	f := newFixture(t, gateway.Config{MaxLimit: 100})

	tests := []struct {
		name    string
		params  url.Values
		message string
	}{
		{"missing log_dir", url.Values{"cursor": {"0"}, "limit": {"1"}}, "missing required parameter: log_dir"},
		{"missing cursor", url.Values{"log_dir": {f.weights}, "limit": {"1"}}, "missing required parameter: cursor"},
		{"missing limit", url.Values{"log_dir": {f.weights}, "cursor": {"0"}}, "missing required parameter: limit"},
		{"non-numeric cursor", url.Values{"log_dir": {f.weights}, "cursor": {"x"}, "limit": {"1"}}, "parameter cursor must be an integer"},
		{"negative cursor", url.Values{"log_dir": {f.weights}, "cursor": {"-1"}, "limit": {"1"}}, "cursor must be non-negative"},
		{"zero limit", url.Values{"log_dir": {f.weights}, "cursor": {"0"}, "limit": {"0"}}, "limit must be positive"},
		{"limit above max", url.Values{"log_dir": {f.weights}, "cursor": {"0"}, "limit": {"101"}}, "limit must not exceed 100"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertError(t, f.get(t, "/tensors", tt.params), http.StatusBadRequest, tt.message)
		})
	}
}

func TestTensors_ContainerErrors(t *testing.T) {
	f := newFixture(t, gateway.DefaultConfig())
	missing := filepath.Join(t.TempDir(), "absent.safetensors")

	rec := f.get(t, "/tensors", url.Values{"log_dir": {missing}, "cursor": {"0"}, "limit": {"1"}})
	assertError(t, rec, http.StatusNotFound, "resource not found")
	assert.NotContains(t, rec.Body.String(), missing)

	rec = f.get(t, "/tensors", url.Values{"log_dir": {"/tmp/model.h5"}, "cursor": {"0"}, "limit": {"1"}})
	assertError(t, rec, http.StatusBadRequest, "unsupported container format")
	assert.NotContains(t, rec.Body.String(), "model.h5")
}

func TestMetadata(t *testing.T) {
	f := newFixture(t, gateway.DefaultConfig())

	rec := f.get(t, "/metadata", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"plugin_name":"tensors","es_module_path":"/static/index.js","active":true}`, rec.Body.String())
}

func TestStatic(t *testing.T) {
	f := newFixture(t, gateway.DefaultConfig())

	rec := f.get(t, "/static/index.js", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "javascript")
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Contains(t, rec.Body.String(), "render")

	assertError(t, f.get(t, "/static/missing.js", nil), http.StatusNotFound, "resource not found")
}

func TestStatic_TraversalBypassingMux(t *testing.T) {
	d, err := NewDispatcher(inspector.New(nil), gateway.DefaultConfig())
	require.NoError(t, err)
	h := d.route("static", d.staticHandler(prefix))

	for _, p := range []string{
		prefix + "/static/../../etc/passwd",
		prefix + "/static/..%2f..%2fetc/passwd",
		prefix + "/secret",
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.URL.Path = p
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assertError(t, rec, http.StatusNotFound, "resource not found")
		assert.NotContains(t, rec.Body.String(), "passwd")
	}
}

func TestHealth(t *testing.T) {
	monitor := health.NewMonitor(nil)
	var reloadErr error
	monitor.Register("eventlog", func(context.Context) health.Status {
		return health.FromError("eventlog", reloadErr, "last reload succeeded")
	})
	f := newFixture(t, gateway.DefaultConfig(), WithHealth(monitor, "tensorscope"))

	rec := f.get(t, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status health.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Healthy)
	assert.Equal(t, "tensorscope", status.Component)

	reloadErr = fmt.Errorf("open /var/logs: permission denied")
	rec = f.get(t, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "/var/logs")
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t, gateway.DefaultConfig())

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, prefix+"/tags", nil))
	assertError(t, rec, http.StatusMethodNotAllowed, "method POST not allowed")
}

func TestRequestID(t *testing.T) {
	f := newFixture(t, gateway.DefaultConfig())

	req := httptest.NewRequest(http.MethodGet, prefix+"/tags", nil)
	req.Header.Set(RequestIDHeader, "trace-123")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, "trace-123", rec.Header().Get(RequestIDHeader))

	a := f.get(t, "/tags", nil).Header().Get(RequestIDHeader)
	b := f.get(t, "/tags", nil).Header().Get(RequestIDHeader)
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}

func TestCORS(t *testing.T) {
	f := newFixture(t, gateway.Config{EnableCORS: true, CORSOrigins: []string{"https://board.example"}})

	req := httptest.NewRequest(http.MethodOptions, prefix+"/tags", nil)
	req.Header.Set("Origin", "https://board.example")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://board.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, prefix+"/tags", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, gateway.Config{RequestsPerSecond: 0.001, Burst: 2})

	assert.Equal(t, http.StatusOK, f.get(t, "/tags", nil).Code)
	assert.Equal(t, http.StatusOK, f.get(t, "/tags", nil).Code)
	assertError(t, f.get(t, "/tags", nil), http.StatusTooManyRequests, "rate limit exceeded")

	m := f.registry.CoreMetrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimited))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("tags", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("tags", "429")))
}

type failingInspector struct {
	inspector.Service
	err error
}

func (f *failingInspector) GetSeries(string, string) (*inspector.TensorSeries, error) {
	return nil, f.err
}

func TestErrorSanitization(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"io", errors.WrapFatal(fmt.Errorf("read /secret/path: %w", errors.ErrIO), "x", "y", "z"), 500, "internal server error"},
		{"transient", errors.WrapTransient(fmt.Errorf("nats://10.0.0.1:4222 down"), "x", "y", "z"), 503, "service temporarily unavailable"},
		{"deadline", errors.WrapTransient(context.DeadlineExceeded, "x", "y", "z"), 504, "request timeout"},
		{"unclassified", fmt.Errorf("boom at /srv/data"), 500, "internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &failingInspector{Service: *inspector.New(nil), err: tt.err}
			d, err := NewDispatcher(svc, gateway.DefaultConfig())
			require.NoError(t, err)

			rec := httptest.NewRecorder()
			d.Handler("").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/scalars?tag=a&run=b", nil))
			assertError(t, rec, tt.status, tt.message)
		})
	}
}

func TestNewDispatcher_Validation(t *testing.T) {
	_, err := NewDispatcher(nil, gateway.DefaultConfig())
	assert.True(t, errors.IsFatal(err))

	_, err = NewDispatcher(inspector.New(nil), gateway.Config{EnableCORS: true})
	assert.True(t, errors.IsInvalid(err))

	_, err = NewDispatcher(inspector.New(nil), gateway.Config{RequestsPerSecond: 1})
	assert.True(t, errors.IsInvalid(err))
}
