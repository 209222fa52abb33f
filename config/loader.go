package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/c360/tensorscope/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TENSORSCOPE"

//go:embed schema.json
var schemaJSON []byte

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a loader with validation enabled that reads overrides
// from the process environment.
func NewLoader() *Loader {
	return &Loader{
		validation: true,
		envPrefix:  EnvPrefix,
		lookupEnv:  os.LookupEnv,
	}
}

// AddLayer adds a configuration file layer. Later layers win.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation toggles the final semantic Validate call. Schema checks
// on file layers always run.
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges defaults, file layers and environment overrides, in that order.
func (l *Loader) Load() (*Config, error) {
	merged, err := toMap(Default())
	if err != nil {
		return nil, errors.WrapFatal(err, "Loader", "Load", "encode defaults")
	}

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.WrapInvalid(fmt.Errorf("%s: %w: %w", path, errors.ErrInvalidConfig, err),
				"Loader", "Load", "load layer")
		}
		merged = deepMergeMaps(merged, raw)
	}

	cfg, err := fromMap(merged)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err),
			"Loader", "Load", "decode config")
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err),
			"Loader", "Load", "apply environment")
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err),
				"Loader", "Load", "validate config")
		}
	}
	return cfg, nil
}

// loadRaw reads one JSON or YAML layer and checks it against the schema.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
		// Round-trip through JSON so YAML and JSON layers are checked the same way.
		if data, err = json.Marshal(raw); err != nil {
			return nil, fmt.Errorf("yaml layer is not representable as JSON: %w", err)
		}
		raw = nil
	}

	if err := validateJSONDepth(data); err != nil {
		return nil, fmt.Errorf("invalid JSON structure: %w", err)
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}

	if err := validateDocument(gojsonschema.NewGoLoader(raw)); err != nil {
		return nil, err
	}
	return raw, nil
}

// validateDocument checks a layer against the embedded schema.
func validateDocument(doc gojsonschema.JSONLoader) error {
	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schemaJSON), doc)
	if err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}
	return fmt.Errorf("schema validation failed: %s", strings.Join(msgs, "; "))
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func fromMap(m map[string]any) (*Config, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides applies <prefix>_* environment variables.
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	str := func(name string, dst *string) error {
		if v, ok := l.env(name); ok {
			if err := validateEnvVar(l.envPrefix+"_"+name, v); err != nil {
				return err
			}
			*dst = v
		}
		return nil
	}
	list := func(name string, dst *[]string) error {
		var v string
		if err := str(name, &v); err != nil || v == "" {
			return err
		}
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		*dst = parts
		return nil
	}
	boolean := func(name string, dst *bool) error {
		if v, ok := l.env(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s_%s: %w", l.envPrefix, name, err)
			}
			*dst = b
		}
		return nil
	}
	integer := func(name string, dst *int64) error {
		if v, ok := l.env(name); ok {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("%s_%s: %w", l.envPrefix, name, err)
			}
			*dst = n
		}
		return nil
	}

	port := int64(cfg.Metrics.Port)
	steps := []error{
		str("LOGDIR", &cfg.LogDir),
		str("PLUGIN_NAME", &cfg.PluginName),
		str("HTTP_ADDRESS", &cfg.HTTP.Address),
		str("HTTP_PREFIX", &cfg.HTTP.Prefix),
		boolean("HTTP_ENABLE_CORS", &cfg.HTTP.EnableCORS),
		list("HTTP_CORS_ORIGINS", &cfg.HTTP.CORSOrigins),
		integer("HTTP_MAX_LIMIT", &cfg.HTTP.MaxLimit),
		str("ASSETS_ROOT", &cfg.Assets.Root),
		str("WEIGHTS_ROOT", &cfg.Weights.Root),
		boolean("METRICS_ENABLED", &cfg.Metrics.Enabled),
		integer("METRICS_PORT", &port),
		boolean("NATS_ENABLED", &cfg.NATS.Enabled),
		list("NATS_URLS", &cfg.NATS.URLs),
		str("NATS_SUBJECT_PREFIX", &cfg.NATS.SubjectPrefix),
		str("NATS_USERNAME", &cfg.NATS.Username),
		str("NATS_PASSWORD", &cfg.NATS.Password),
		str("NATS_TOKEN", &cfg.NATS.Token),
		str("LOG_LEVEL", &cfg.Log.Level),
		str("LOG_FORMAT", &cfg.Log.Format),
		boolean("LOG_JOURNAL", &cfg.Log.Journal),
	}
	cfg.Metrics.Port = int(port)

	for _, err := range steps {
		if err != nil {
			return err
		}
	}
	return nil
}

func (l *Loader) env(name string) (string, bool) {
	v, ok := l.lookupEnv(l.envPrefix + "_" + name)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// SaveToFile writes the configuration as JSON or YAML, chosen by extension.
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return err
	}
	return safeWriteFile(path, data)
}
