// Package http serves the tensors plugin routes over HTTP.
package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/c360/tensorscope/errors"
	"github.com/c360/tensorscope/gateway"
	"github.com/c360/tensorscope/health"
	"github.com/c360/tensorscope/metric"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// getOrGenerateRequestID returns the caller's request ID or a new UUID.
func getOrGenerateRequestID(r *http.Request) string {
	if reqID := r.Header.Get(RequestIDHeader); reqID != "" && len(reqID) <= 128 {
		return reqID
	}
	return uuid.NewString()
}

// Dispatcher maps plugin routes onto an Inspector. It is the only place
// query parameters are read.
type Dispatcher struct {
	svc     gateway.Inspector
	config  gateway.Config
	limiter *rate.Limiter
	monitor *health.Monitor
	system  string
	logger  *slog.Logger
	metrics *metric.Metrics
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics records request counts and latency.
func WithMetrics(m *metric.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithHealth serves the monitor's aggregate on /health under system's name.
func WithHealth(monitor *health.Monitor, system string) Option {
	return func(d *Dispatcher) {
		d.monitor = monitor
		if system != "" {
			d.system = system
		}
	}
}

// NewDispatcher validates cfg and creates a Dispatcher for svc.
func NewDispatcher(svc gateway.Inspector, cfg gateway.Config, opts ...Option) (*Dispatcher, error) {
	if svc == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Dispatcher", "NewDispatcher",
			"inspector is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Dispatcher", "NewDispatcher", "config validation")
	}

	d := &Dispatcher{
		svc:    svc,
		config: cfg,
		system: "tensorscope",
		logger: slog.Default(),
	}
	if cfg.RequestsPerSecond > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "http-gateway")
	return d, nil
}

// Handler returns a mux with the routes mounted under prefix.
func (d *Dispatcher) Handler(prefix string) http.Handler {
	mux := http.NewServeMux()
	d.RegisterHTTPHandlers(prefix, mux)
	return mux
}

// RegisterHTTPHandlers mounts the plugin routes under prefix.
func (d *Dispatcher) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	prefix = strings.TrimRight(prefix, "/")

	mux.HandleFunc(prefix+"/tags", d.route("tags", d.handleTags))
	mux.HandleFunc(prefix+"/scalars", d.route("scalars", d.handleScalars))
	mux.HandleFunc(prefix+"/tensors", d.route("tensors", d.handleTensors))
	mux.HandleFunc(prefix+"/metadata", d.route("metadata", d.handleMetadata))
	mux.HandleFunc(prefix+"/health", d.route("health", d.handleHealth))
	mux.HandleFunc(prefix+"/static/", d.route("static", d.staticHandler(prefix)))
}

type handlerFunc func(w http.ResponseWriter, r *http.Request, logger *slog.Logger) error

// route wraps a handler with request IDs, CORS, method and rate checks,
// error mapping, logging and metrics.
func (d *Dispatcher) route(name string, h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		requestID := getOrGenerateRequestID(r)
		rec.Header().Set(RequestIDHeader, requestID)
		logger := d.logger.With("request_id", requestID, "route", name)

		defer func() {
			d.metrics.RecordHTTPRequest(name, rec.status, time.Since(start))
		}()

		if d.config.EnableCORS {
			d.applyCORS(rec, r)
			if r.Method == http.MethodOptions {
				rec.WriteHeader(http.StatusNoContent)
				return
			}
		}

		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			rec.Header().Set("Allow", "GET, HEAD")
			d.writeError(rec, http.StatusMethodNotAllowed, "method "+r.Method+" not allowed")
			return
		}

		if d.limiter != nil && !d.limiter.Allow() {
			d.metrics.RecordRateLimited()
			d.writeError(rec, http.StatusTooManyRequests, gateway.PublicMessage(errors.ErrRateLimited))
			return
		}

		if err := h(rec, r, logger); err != nil {
			resp := gateway.NewErrorResponse(err)
			if resp.Status >= http.StatusInternalServerError {
				logger.Error("Request failed", "status", resp.Status, "error", err)
			} else {
				logger.Debug("Request rejected", "status", resp.Status, "error", err)
			}
			d.writeError(rec, resp.Status, resp.Error)
			return
		}
		logger.Debug("Request served", "status", rec.status, "duration", time.Since(start))
	}
}

func (d *Dispatcher) handleTags(w http.ResponseWriter, _ *http.Request, _ *slog.Logger) error {
	return d.writeJSON(w, http.StatusOK, d.svc.ListRuns())
}

func (d *Dispatcher) handleScalars(w http.ResponseWriter, r *http.Request, _ *slog.Logger) error {
	q := r.URL.Query()
	req := gateway.ScalarsRequest{Run: q.Get("run"), Tag: q.Get("tag")}
	if err := req.Validate(); err != nil {
		return err
	}

	series, err := d.svc.GetSeries(req.Run, req.Tag)
	if err != nil {
		return err
	}
	return d.writeJSON(w, http.StatusOK, series)
}

func (d *Dispatcher) handleTensors(w http.ResponseWriter, r *http.Request, _ *slog.Logger) error {
	q := r.URL.Query()
	req := gateway.TensorsRequest{
		LogDir:   q.Get("log_dir"),
		NoKernel: q.Get("noKernel") == "true",
		NoBias:   q.Get("noBias") == "true",
	}

	var err error
	if req.Cursor, err = gateway.ParseInt64Param("cursor", q.Get("cursor")); err != nil {
		return err
	}
	if req.Limit, err = gateway.ParseInt64Param("limit", q.Get("limit")); err != nil {
		return err
	}

	query, err := req.Query(d.config.MaxLimit)
	if err != nil {
		return err
	}

	bundles, err := d.svc.GetWeights(r.Context(), query)
	if err != nil {
		return err
	}
	return d.writeJSON(w, http.StatusOK, bundles)
}

func (d *Dispatcher) handleMetadata(w http.ResponseWriter, _ *http.Request, _ *slog.Logger) error {
	return d.writeJSON(w, http.StatusOK, d.svc.Metadata())
}

func (d *Dispatcher) handleHealth(w http.ResponseWriter, r *http.Request, _ *slog.Logger) error {
	if d.monitor == nil {
		return d.writeJSON(w, http.StatusOK, health.NewHealthy(d.system, "No components registered"))
	}

	status := d.monitor.AggregateHealth(r.Context(), d.system)
	code := http.StatusOK
	if status.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	return d.writeJSON(w, code, status)
}

// staticHandler passes the path below prefix to ServeAsset unchanged; the
// inspector does the normalization.
func (d *Dispatcher) staticHandler(prefix string) handlerFunc {
	return func(w http.ResponseWriter, r *http.Request, _ *slog.Logger) error {
		asset, err := d.svc.ServeAsset(strings.TrimPrefix(r.URL.Path, prefix+"/"))
		if err != nil {
			return err
		}

		w.Header().Set("Content-Type", asset.ContentType)
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			_, _ = w.Write(asset.Body)
		}
		return nil
	}
}

// applyCORS applies CORS headers to the response
func (d *Dispatcher) applyCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")

	allowed := false
	for _, allowedOrigin := range d.config.CORSOrigins {
		if allowedOrigin == "*" || allowedOrigin == origin {
			allowed = true
			break
		}
	}
	if !allowed {
		return
	}

	if origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}
	w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+RequestIDHeader)
	w.Header().Set("Access-Control-Expose-Headers", RequestIDHeader)
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func (d *Dispatcher) writeJSON(w http.ResponseWriter, status int, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.WrapFatal(err, "Dispatcher", "writeJSON", "encode response")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
	return nil
}

// writeError writes an error response
func (d *Dispatcher) writeError(w http.ResponseWriter, statusCode int, message string) {
	data, _ := json.Marshal(gateway.ErrorResponse{Error: message, Status: statusCode})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(data)
}

// statusRecorder captures the status code for metrics and logs.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wroteHeader {
		s.status = code
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if !s.wroteHeader {
		s.WriteHeader(http.StatusOK)
	}
	return s.ResponseWriter.Write(b)
}
