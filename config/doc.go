// Package config loads the tensorscope service configuration.
//
// Configuration is built in layers: built-in defaults, then one or more JSON
// or YAML files, then TENSORSCOPE_* environment variables. Each file layer is
// checked against an embedded JSON schema before it is merged, so unknown
// keys and wrongly typed values are reported with their field path. The
// merged result is then checked by Config.Validate.
//
//	loader := config.NewLoader()
//	loader.AddLayer("tensorscope.yaml")
//	cfg, err := loader.Load()
//
// File layers go through the same guards as the rest of the service's file
// input: bounded size, bounded nesting, regular files only, and relative
// paths may not escape the working directory.
//
// Durations accept Go duration strings ("30s") or integer nanoseconds.
//
// Environment overrides:
//
//	TENSORSCOPE_LOGDIR, TENSORSCOPE_PLUGIN_NAME
//	TENSORSCOPE_HTTP_ADDRESS, TENSORSCOPE_HTTP_PREFIX, TENSORSCOPE_HTTP_MAX_LIMIT
//	TENSORSCOPE_HTTP_ENABLE_CORS, TENSORSCOPE_HTTP_CORS_ORIGINS (comma separated)
//	TENSORSCOPE_ASSETS_ROOT, TENSORSCOPE_WEIGHTS_ROOT
//	TENSORSCOPE_METRICS_ENABLED, TENSORSCOPE_METRICS_PORT
//	TENSORSCOPE_NATS_ENABLED, TENSORSCOPE_NATS_URLS, TENSORSCOPE_NATS_SUBJECT_PREFIX
//	TENSORSCOPE_NATS_USERNAME, TENSORSCOPE_NATS_PASSWORD, TENSORSCOPE_NATS_TOKEN
//	TENSORSCOPE_LOG_LEVEL, TENSORSCOPE_LOG_FORMAT, TENSORSCOPE_LOG_JOURNAL
package config
