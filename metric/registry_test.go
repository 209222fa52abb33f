package metric

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/tensorscope/errors"
	"github.com/c360/tensorscope/pkg/security"
)

func gatheredNames(t *testing.T, r *MetricsRegistry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, mf := range families {
		out[mf.GetName()] = mf
	}
	return out
}

func TestMetricsRegistry_RegisterComponentMetrics(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_counter", Help: "A test counter"})
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_gauge", Help: "A test gauge"})
	hist := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "test_hist", Help: "A test histogram"}, []string{"op"})

	require.NoError(t, registry.RegisterCounter("svc", "test_counter", counter))
	require.NoError(t, registry.RegisterGauge("svc", "test_gauge", gauge))
	require.NoError(t, registry.RegisterHistogramVec("svc", "test_hist", hist))

	counter.Inc()
	gauge.Set(3)
	hist.WithLabelValues("x").Observe(0.1)

	names := gatheredNames(t, registry)
	assert.Contains(t, names, "test_counter")
	assert.Contains(t, names, "test_gauge")
	assert.Contains(t, names, "test_hist")
}

func TestMetricsRegistry_DuplicateRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	c1 := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_total", Help: "h"})
	c2 := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_total", Help: "h"})

	require.NoError(t, registry.RegisterCounter("svc", "dup", c1))

	err := registry.RegisterCounter("svc", "dup", c2)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	// Same Prometheus name under another key conflicts in Prometheus itself.
	err = registry.RegisterCounter("other", "dup", c2)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	registry := NewMetricsRegistry()
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "temp_gauge", Help: "h"})
	require.NoError(t, registry.RegisterGauge("svc", "temp", gauge))

	assert.True(t, registry.Unregister("svc", "temp"))
	assert.False(t, registry.Unregister("svc", "temp"))

	// The key is free again.
	require.NoError(t, registry.RegisterGauge("svc", "temp", gauge))
}

func TestMetricsRegistry_ConcurrentRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("concurrent_%d", i)
			c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: "h"})
			assert.NoError(t, registry.RegisterCounter("svc", name, c))
		}(i)
	}
	wg.Wait()

	names := gatheredNames(t, registry)
	for i := 0; i < 20; i++ {
		assert.Contains(t, names, fmt.Sprintf("concurrent_%d", i))
	}
}

func TestCoreMetrics_Record(t *testing.T) {
	registry := NewMetricsRegistry()
	m := registry.CoreMetrics()

	m.RecordHTTPRequest("/tags", http.StatusOK, 5*time.Millisecond)
	m.RecordHTTPRequest("/tags", http.StatusOK, 5*time.Millisecond)
	m.RecordHTTPRequest("/scalars", http.StatusNotFound, time.Millisecond)
	m.RecordDecodeSkipped("weights", 2)
	m.RecordDecodeSkipped("weights", 0)
	m.RecordContainerOpen("ok", 3)
	m.RecordContainerOpen("not_found", 0)
	m.RecordReload(time.Second, 2, 5, 40, nil)
	m.RecordReload(time.Second, 2, 5, 10, fmt.Errorf("boom"))
	m.RecordNATSStatus(true)
	m.RecordHealthStatus("eventlog", false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/tags", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/scalars", "404")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DecodeSkipped.WithLabelValues("weights")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ContainerOpens.WithLabelValues("not_found")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventlogRuns))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.EventlogTags))
	assert.Equal(t, 50.0, testutil.ToFloat64(m.EventlogRecords))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventlogReloadErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NATSConnected))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.HealthStatus.WithLabelValues("eventlog")))
}

func TestCoreMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordHTTPRequest("/tags", 200, time.Millisecond)
		m.RecordDecodeSkipped("series", 1)
		m.RecordContainerOpen("ok", 1)
		m.RecordReload(time.Second, 1, 1, 1, nil)
		m.RecordNATSRequest("tags", "ok")
		m.RecordRateLimited()
	})

	var r *MetricsRegistry
	assert.Nil(t, r.CoreMetrics())
}

func TestServer_Handler(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.CoreMetrics().RecordHTTPRequest("/tags", 200, time.Millisecond)

	srv := NewServer(0, "", registry, security.Config{})
	assert.Equal(t, "http://localhost:9090/metrics", srv.Address())

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	family, ok := families["tensorscope_http_requests_total"]
	require.True(t, ok)
	require.Len(t, family.GetMetric(), 1)
	assert.Equal(t, 1.0, family.GetMetric()[0].GetCounter().GetValue())

	resp, err = http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_StartWithoutRegistry(t *testing.T) {
	srv := NewServer(0, "", nil, security.Config{})
	err := srv.Start()
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestServer_StopBeforeStart(t *testing.T) {
	srv := NewServer(0, "", NewMetricsRegistry(), security.Config{})
	require.NoError(t, srv.Stop(context.Background()))

	done := make(chan error, 1)
	go func() { done <- srv.Start() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start after Stop kept serving")
	}
}
