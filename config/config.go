package config

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode"

	"github.com/c360/tensorscope/pkg/security"
)

// Config is the complete service configuration.
type Config struct {
	LogDir     string          `json:"logdir" yaml:"logdir"`
	PluginName string          `json:"plugin_name" yaml:"plugin_name"`
	Eventlog   EventlogConfig  `json:"eventlog" yaml:"eventlog"`
	HTTP       HTTPConfig      `json:"http" yaml:"http"`
	Assets     AssetsConfig    `json:"assets" yaml:"assets"`
	Weights    WeightsConfig   `json:"weights" yaml:"weights"`
	Metrics    MetricsConfig   `json:"metrics" yaml:"metrics"`
	NATS       NATSConfig      `json:"nats" yaml:"nats"`
	Log        LogConfig       `json:"log" yaml:"log"`
	Security   security.Config `json:"security" yaml:"security"`
}

// EventlogConfig controls how the log directory is scanned.
type EventlogConfig struct {
	// ReloadInterval between rescans; zero disables the watcher.
	ReloadInterval Duration `json:"reload_interval" yaml:"reload_interval"`
	Workers        int      `json:"workers" yaml:"workers"`
}

// HTTPConfig defines the plugin's HTTP surface.
type HTTPConfig struct {
	Address      string          `json:"address" yaml:"address"`
	Prefix       string          `json:"prefix" yaml:"prefix"`
	EnableCORS   bool            `json:"enable_cors" yaml:"enable_cors"`
	CORSOrigins  []string        `json:"cors_origins" yaml:"cors_origins"`
	MaxLimit     int64           `json:"max_limit" yaml:"max_limit"`
	RateLimit    RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
	ReadTimeout  Duration        `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout Duration        `json:"write_timeout" yaml:"write_timeout"`
}

// RateLimitConfig is a token bucket; zero requests per second disables it.
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `json:"burst" yaml:"burst"`
}

// AssetsConfig optionally serves frontend assets from disk instead of the
// embedded bundle. Root must contain a static directory.
type AssetsConfig struct {
	Root string `json:"root" yaml:"root"`
}

// WeightsConfig optionally confines weight container paths.
type WeightsConfig struct {
	Root string `json:"root" yaml:"root"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Port    int    `json:"port" yaml:"port"`
	Path    string `json:"path" yaml:"path"`
}

// NATSConfig defines the optional request/reply responder.
type NATSConfig struct {
	Enabled       bool     `json:"enabled" yaml:"enabled"`
	URLs          []string `json:"urls" yaml:"urls"`
	SubjectPrefix string   `json:"subject_prefix" yaml:"subject_prefix"`
	QueueGroup    string   `json:"queue_group" yaml:"queue_group"`
	MaxReconnects int      `json:"max_reconnects" yaml:"max_reconnects"`
	ReconnectWait Duration `json:"reconnect_wait" yaml:"reconnect_wait"`
	Username      string   `json:"username,omitempty" yaml:"username,omitempty"`
	Password      string   `json:"password,omitempty" yaml:"password,omitempty"`
	Token         string   `json:"token,omitempty" yaml:"token,omitempty"`
}

// LogConfig selects the logger.
type LogConfig struct {
	Level   string `json:"level" yaml:"level"`
	Format  string `json:"format" yaml:"format"`
	Journal bool   `json:"journal" yaml:"journal"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		PluginName: "tensors",
		Eventlog: EventlogConfig{
			ReloadInterval: Duration(30 * time.Second),
			Workers:        4,
		},
		HTTP: HTTPConfig{
			Address:      ":6006",
			Prefix:       "/data/plugin/tensors",
			CORSOrigins:  []string{},
			MaxLimit:     1000,
			ReadTimeout:  Duration(30 * time.Second),
			WriteTimeout: Duration(60 * time.Second),
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			SubjectPrefix: "tensorscope",
			QueueGroup:    "tensorscope",
			MaxReconnects: -1,
			ReconnectWait: Duration(2 * time.Second),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks semantic constraints the schema cannot express and
// normalizes the HTTP prefix.
func (c *Config) Validate() error {
	if c.LogDir == "" {
		return stderrors.New("logdir is required")
	}
	if c.PluginName == "" {
		return stderrors.New("plugin_name is required")
	}

	if c.Eventlog.Workers < 1 {
		return fmt.Errorf("eventlog.workers must be >= 1, got %d", c.Eventlog.Workers)
	}
	if c.Eventlog.ReloadInterval < 0 {
		return fmt.Errorf("eventlog.reload_interval must not be negative")
	}

	if err := c.validateHTTP(); err != nil {
		return fmt.Errorf("http: %w", err)
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port out of range: %d", c.Metrics.Port)
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("metrics.path must start with /: %q", c.Metrics.Path)
		}
	}

	if c.NATS.Enabled {
		if len(c.NATS.URLs) == 0 {
			return stderrors.New("nats.urls is required when nats is enabled")
		}
		if !isValidNATSSubjectPart(c.NATS.SubjectPrefix) {
			return fmt.Errorf(
				"nats.subject_prefix %q is not valid for NATS subjects (must be alphanumeric with dots, dashes, underscores)",
				c.NATS.SubjectPrefix)
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format %q is not one of json, text", c.Log.Format)
	}

	if err := c.validateSecurity(); err != nil {
		return fmt.Errorf("security configuration: %w", err)
	}
	return nil
}

func (c *Config) validateHTTP() error {
	if c.HTTP.Address == "" {
		return stderrors.New("address is required")
	}
	c.HTTP.Prefix = strings.TrimRight(c.HTTP.Prefix, "/")
	if c.HTTP.Prefix != "" && !strings.HasPrefix(c.HTTP.Prefix, "/") {
		return fmt.Errorf("prefix must start with /: %q", c.HTTP.Prefix)
	}
	if c.HTTP.MaxLimit < 1 {
		return fmt.Errorf("max_limit must be >= 1, got %d", c.HTTP.MaxLimit)
	}
	if c.HTTP.RateLimit.RequestsPerSecond < 0 {
		return stderrors.New("rate_limit.requests_per_second must not be negative")
	}
	if c.HTTP.RateLimit.RequestsPerSecond > 0 && c.HTTP.RateLimit.Burst < 1 {
		return fmt.Errorf("rate_limit.burst must be >= 1 when limiting, got %d", c.HTTP.RateLimit.Burst)
	}
	if c.HTTP.ReadTimeout < 0 || c.HTTP.WriteTimeout < 0 {
		return stderrors.New("timeouts must not be negative")
	}
	return nil
}

// isValidNATSSubjectPart checks if a string is valid for use in NATS subjects.
// Valid characters are alphanumeric, dots, dashes, and underscores.
func isValidNATSSubjectPart(s string) bool {
	if len(s) == 0 || strings.HasPrefix(s, ".") || strings.HasSuffix(s, ".") {
		return false
	}

	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) &&
			r != '-' && r != '_' && r != '.' {
			return false
		}
	}
	return true
}

func (c *Config) validateSecurity() error {
	server := c.Security.TLS.Server
	if server.Enabled {
		if server.CertFile == "" {
			return stderrors.New("tls.server.cert_file is required when TLS is enabled")
		}
		if server.KeyFile == "" {
			return stderrors.New("tls.server.key_file is required when TLS is enabled")
		}
		if _, err := os.Stat(server.CertFile); err != nil {
			return fmt.Errorf("tls.server.cert_file: %w", err)
		}
		if _, err := os.Stat(server.KeyFile); err != nil {
			return fmt.Errorf("tls.server.key_file: %w", err)
		}
		if server.MinVersion != "" {
			if err := validateTLSVersion(server.MinVersion); err != nil {
				return fmt.Errorf("tls.server.min_version: %w", err)
			}
		}
	}

	for i, caFile := range server.ClientCAFiles {
		if _, err := os.Stat(caFile); err != nil {
			return fmt.Errorf("tls.server.client_ca_files[%d]: %w", i, err)
		}
	}

	client := c.Security.TLS.Client
	for i, caFile := range client.CAFiles {
		if _, err := os.Stat(caFile); err != nil {
			return fmt.Errorf("tls.client.ca_files[%d]: %w", i, err)
		}
	}
	if client.MinVersion != "" {
		if err := validateTLSVersion(client.MinVersion); err != nil {
			return fmt.Errorf("tls.client.min_version: %w", err)
		}
	}
	return nil
}

// validateTLSVersion checks if a TLS version string is valid
func validateTLSVersion(version string) error {
	switch version {
	case "1.2", "1.3":
		return nil
	default:
		return fmt.Errorf("invalid TLS version %q (must be \"1.2\" or \"1.3\")", version)
	}
}

// String returns the configuration as indented JSON with secrets masked.
func (c *Config) String() string {
	redacted := *c
	if redacted.NATS.Password != "" {
		redacted.NATS.Password = "[REDACTED]"
	}
	if redacted.NATS.Token != "" {
		redacted.NATS.Token = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(&redacted, "", "  ")
	return string(data)
}
