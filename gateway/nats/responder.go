// Package nats answers tensors plugin queries over NATS request/reply.
package nats

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/c360/tensorscope/errors"
	"github.com/c360/tensorscope/gateway"
	"github.com/c360/tensorscope/metric"
	"github.com/c360/tensorscope/natsclient"
)

// Operations served, appended to the subject prefix.
const (
	OpTags    = "tags"
	OpScalars = "scalars"
	OpTensors = "tensors"
)

// Responder is the subset of natsclient.Client the responder needs.
type Responder interface {
	QueueRespond(ctx context.Context, subject, queue string, handler natsclient.RequestHandler) error
}

// Reply is the body of every NATS reply. Failed requests carry Error and
// omit Data, which makes them byte-compatible with gateway.ErrorResponse.
type Reply struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Config names the subjects and queue group.
type Config struct {
	SubjectPrefix string
	QueueGroup    string
	MaxLimit      int64
}

// Validate checks the subject prefix and applies the default limit.
func (c *Config) Validate() error {
	c.SubjectPrefix = strings.TrimSuffix(c.SubjectPrefix, ".")
	if c.SubjectPrefix == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"subject_prefix is required")
	}
	if strings.ContainsAny(c.SubjectPrefix, " *>") {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"subject_prefix must not contain spaces or wildcards")
	}
	if c.MaxLimit < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_limit cannot be negative")
	}
	if c.MaxLimit == 0 {
		c.MaxLimit = gateway.DefaultMaxLimit
	}
	return nil
}

// Gateway serves the Inspector on <prefix>.tags, <prefix>.scalars and
// <prefix>.tensors.
type Gateway struct {
	svc     gateway.Inspector
	client  Responder
	config  Config
	logger  *slog.Logger
	metrics *metric.Metrics
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithMetrics counts requests by operation and status.
func WithMetrics(m *metric.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// NewGateway validates cfg and creates a Gateway.
func NewGateway(svc gateway.Inspector, client Responder, cfg Config, opts ...Option) (*Gateway, error) {
	if svc == nil || client == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Gateway", "NewGateway",
			"inspector and client are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Gateway", "NewGateway", "config validation")
	}

	g := &Gateway{
		svc:    svc,
		client: client,
		config: cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "nats-gateway")
	return g, nil
}

// Subject returns the subject an operation is served on.
func (g *Gateway) Subject(op string) string {
	return g.config.SubjectPrefix + "." + op
}

// Start subscribes every operation. Subscriptions live until the client is
// closed; ctx bounds the handlers.
func (g *Gateway) Start(ctx context.Context) error {
	for _, op := range []string{OpTags, OpScalars, OpTensors} {
		if err := g.client.QueueRespond(ctx, g.Subject(op), g.config.QueueGroup, g.handler(op)); err != nil {
			return errors.WrapTransient(err, "Gateway", "Start", "subscribe "+op)
		}
	}
	g.logger.Info("NATS gateway listening",
		"subject_prefix", g.config.SubjectPrefix,
		"queue_group", g.config.QueueGroup)
	return nil
}

func (g *Gateway) handler(op string) natsclient.RequestHandler {
	return func(ctx context.Context, subject string, data []byte) []byte {
		start := time.Now()
		logger := g.logger.With("request_id", uuid.NewString(), "operation", op)

		result, err := g.dispatch(ctx, op, data)

		reply := Reply{Status: http.StatusOK}
		if err == nil {
			reply.Data, err = json.Marshal(result)
			if err != nil {
				err = errors.Wrap(err, "Gateway", "handle", "encode result")
			}
		}
		if err != nil {
			resp := gateway.NewErrorResponse(err)
			reply = Reply{Status: resp.Status, Error: resp.Error}
			if resp.Status >= http.StatusInternalServerError {
				logger.Error("NATS request failed", "subject", subject, "status", resp.Status, "error", err)
			} else {
				logger.Debug("NATS request rejected", "subject", subject, "status", resp.Status, "error", err)
			}
		}

		g.metrics.RecordNATSRequest(op, strconv.Itoa(reply.Status))
		logger.Debug("NATS request served", "status", reply.Status, "duration", time.Since(start))

		out, mErr := json.Marshal(reply)
		if mErr != nil {
			logger.Error("Failed to encode reply", "error", mErr)
			out = []byte(`{"error":"internal server error","status":500}`)
		}
		return out
	}
}

func (g *Gateway) dispatch(ctx context.Context, op string, data []byte) (any, error) {
	switch op {
	case OpTags:
		return g.svc.ListRuns(), nil

	case OpScalars:
		var req gateway.ScalarsRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		if err := req.Validate(); err != nil {
			return nil, err
		}
		return g.svc.GetSeries(req.Run, req.Tag)

	case OpTensors:
		var req gateway.TensorsRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		query, err := req.Query(g.config.MaxLimit)
		if err != nil {
			return nil, err
		}
		return g.svc.GetWeights(ctx, query)
	}
	return nil, gateway.BadRequest("Dispatch", "unknown operation: %s", op)
}

// decode reads a JSON request body. An empty body decodes to the zero value
// so validation can name the missing parameter.
func decode(data []byte, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return gateway.BadRequest("Decode", "invalid JSON request body")
	}
	return nil
}
