// Package inspector implements the read side of the tensors plugin: the
// run/tag index, per-tag tensor series, windowed weight snapshots from
// keyed containers, and the static asset guard.
//
// Every operation is request-scoped. The multiplexer is only read, and each
// weight container is opened and closed within a single call, so a Service
// is safe for concurrent use.
package inspector

import (
	"embed"
	"io/fs"
	"log/slog"

	"github.com/c360/tensorscope/container"
	"github.com/c360/tensorscope/eventlog"
	"github.com/c360/tensorscope/metric"
)

// DefaultPluginName is the summary plugin namespace served by default.
const DefaultPluginName = "tensors"

// ESModulePath is the frontend entry point reported in plugin metadata.
const ESModulePath = "/static/index.js"

//go:embed static
var embeddedAssets embed.FS

// Multiplexer is the read view of event data the service needs.
type Multiplexer interface {
	PluginRunToTagToContent(plugin string) (map[string]map[string][]byte, error)
	Tensors(run, tag string) ([]eventlog.TensorEvent, error)
}

// Opener opens a weight container by path.
type Opener func(path string) (container.Store, error)

// Service answers plugin queries.
type Service struct {
	mux         Multiplexer
	pluginName  string
	weightsRoot string
	assets      fs.FS
	open        Opener
	logger      *slog.Logger
	metrics     *metric.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithPluginName sets the summary plugin namespace.
func WithPluginName(name string) Option {
	return func(s *Service) {
		if name != "" {
			s.pluginName = name
		}
	}
}

// WithWeightsRoot confines container paths to root.
func WithWeightsRoot(root string) Option {
	return func(s *Service) { s.weightsRoot = root }
}

// WithAssets serves static assets from fsys. Asset paths are looked up with
// their leading "static/" segment, so fsys must contain a static directory.
func WithAssets(fsys fs.FS) Option {
	return func(s *Service) {
		if fsys != nil {
			s.assets = fsys
		}
	}
}

// WithOpener replaces container.Open.
func WithOpener(open Opener) Option {
	return func(s *Service) {
		if open != nil {
			s.open = open
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records decode skips and container opens.
func WithMetrics(m *metric.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New creates a Service reading from mux, which may be nil until the
// hosting process has one.
func New(mux Multiplexer, opts ...Option) *Service {
	s := &Service{
		mux:        mux,
		pluginName: DefaultPluginName,
		assets:     embeddedAssets,
		open:       container.Open,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "inspector", "plugin", s.pluginName)
	return s
}

// PluginName returns the served namespace.
func (s *Service) PluginName() string {
	return s.pluginName
}
