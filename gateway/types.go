package gateway

import (
	"fmt"
	"strconv"

	"github.com/c360/tensorscope/errors"
	"github.com/c360/tensorscope/inspector"
)

// DefaultMaxLimit bounds the step window of a tensors request.
const DefaultMaxLimit int64 = 1000

// Config holds settings shared by the gateways.
type Config struct {
	// EnableCORS enables CORS headers (requires explicit CORSOrigins)
	EnableCORS bool `json:"enable_cors"`

	// CORSOrigins lists allowed origins; ["*"] allows any.
	CORSOrigins []string `json:"cors_origins,omitempty"`

	// MaxLimit is the largest accepted limit for /tensors.
	MaxLimit int64 `json:"max_limit"`

	// RequestsPerSecond and Burst configure the rate limiter; zero disables it.
	RequestsPerSecond float64 `json:"requests_per_second,omitempty"`
	Burst             int     `json:"burst,omitempty"`
}

// DefaultConfig returns default gateway configuration
func DefaultConfig() Config {
	return Config{
		CORSOrigins: []string{},
		MaxLimit:    DefaultMaxLimit,
	}
}

// Validate ensures the gateway configuration is valid
func (c *Config) Validate() error {
	if c.MaxLimit < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_limit cannot be negative")
	}
	if c.MaxLimit == 0 {
		c.MaxLimit = DefaultMaxLimit
	}

	if c.RequestsPerSecond < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"requests_per_second cannot be negative")
	}
	if c.RequestsPerSecond > 0 && c.Burst < 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"burst must be at least 1 when rate limiting")
	}

	if c.EnableCORS && len(c.CORSOrigins) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"enable_cors requires explicit cors_origins configuration (use [\"*\"] for development only)")
	}
	return nil
}

// RequestError is a client mistake whose message is safe to return as is.
type RequestError struct {
	Message string
}

func (e *RequestError) Error() string { return e.Message }

// Unwrap classifies every RequestError as a bad request.
func (e *RequestError) Unwrap() error { return errors.ErrBadRequest }

// BadRequest builds a classified invalid-input error with a public message.
func BadRequest(method, format string, args ...any) error {
	return errors.WrapInvalid(&RequestError{Message: fmt.Sprintf(format, args...)},
		"gateway", method, "validate request")
}

// ScalarsRequest selects one tag of one run.
type ScalarsRequest struct {
	Run string `json:"run"`
	Tag string `json:"tag"`
}

// Validate reports the first missing parameter.
func (r ScalarsRequest) Validate() error {
	if r.Tag == "" {
		return BadRequest("Scalars", "missing required parameter: tag")
	}
	if r.Run == "" {
		return BadRequest("Scalars", "missing required parameter: run")
	}
	return nil
}

// TensorsRequest selects a window of steps from a weight container. Cursor
// and Limit are required, so they are pointers to tell absence from zero.
type TensorsRequest struct {
	LogDir   string `json:"log_dir"`
	Cursor   *int64 `json:"cursor"`
	Limit    *int64 `json:"limit"`
	NoKernel bool   `json:"noKernel"`
	NoBias   bool   `json:"noBias"`
}

// Query validates the request against maxLimit and converts it.
func (r TensorsRequest) Query(maxLimit int64) (inspector.WeightQuery, error) {
	switch {
	case r.LogDir == "":
		return inspector.WeightQuery{}, BadRequest("Tensors", "missing required parameter: log_dir")
	case r.Cursor == nil:
		return inspector.WeightQuery{}, BadRequest("Tensors", "missing required parameter: cursor")
	case r.Limit == nil:
		return inspector.WeightQuery{}, BadRequest("Tensors", "missing required parameter: limit")
	case *r.Cursor < 0:
		return inspector.WeightQuery{}, BadRequest("Tensors", "cursor must be non-negative")
	case *r.Limit <= 0:
		return inspector.WeightQuery{}, BadRequest("Tensors", "limit must be positive")
	case maxLimit > 0 && *r.Limit > maxLimit:
		return inspector.WeightQuery{}, BadRequest("Tensors", "limit must not exceed %d", maxLimit)
	}

	return inspector.WeightQuery{
		Path:          r.LogDir,
		Cursor:        *r.Cursor,
		Limit:         *r.Limit,
		IncludeKernel: !r.NoKernel,
		IncludeBias:   !r.NoBias,
	}, nil
}

// ParseInt64Param parses an integer parameter. An empty value is absent.
func ParseInt64Param(name, value string) (*int64, error) {
	if value == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return nil, BadRequest("Tensors", "parameter %s must be an integer", name)
	}
	return &n, nil
}
