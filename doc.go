// Package tensorscope is the backend of the TensorBoard "tensors" plugin: it
// discovers tensor summaries in a training log directory, serves their
// per-step values, and reads layer weights out of checkpoint containers for
// a frontend panel.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│   gateway/http      gateway/nats    │  /tags /scalars /tensors
//	│   (routes, CORS,    (request/reply  │  /metadata /health /static/
//	│    rate limit)       on subjects)   │  <prefix>.{tags,scalars,tensors}
//	└─────────────────────────────────────┘
//	           ↓ query
//	┌─────────────────────────────────────┐
//	│            inspector                │  ListRuns, GetSeries,
//	│   (query semantics, asset guard)    │  GetWeights, ServeAsset
//	└─────────────────────────────────────┘
//	     ↓ summaries            ↓ weights
//	┌──────────────────┐  ┌──────────────────┐
//	│    eventlog      │  │    container     │
//	│ (event files,    │  │ (safetensors,    │
//	│  multiplexer)    │  │  group/step)     │
//	└──────────────────┘  └──────────────────┘
//	           ↓ decode
//	┌─────────────────────────────────────┐
//	│             tensor                  │  TensorProto ↔ Array
//	└─────────────────────────────────────┘
//
// Supporting packages: config (layered JSON/YAML + TENSORSCOPE_* env),
// errors (classified errors), metric (Prometheus registry and server),
// health (component status aggregation), natsclient (NATS connection with
// circuit breaker), pkg/worker (bounded worker pool used by reloads),
// pkg/retry, pkg/security and pkg/tlsutil.
//
// # Data Model
//
// A run is a subdirectory of the log directory holding event files. Each
// event carries a step and summary values keyed by tag; values whose
// summary metadata names the configured plugin (default "tensors") belong
// to this plugin. GetSeries returns one scalar per step for a run/tag, later
// events for a step replacing earlier ones.
//
// A weight container stores entries named <layer>/<kernel|bias>/<step>.
// GetWeights returns, per layer in container order, the kernel and bias
// values whose step falls in [cursor, cursor+limit). The container is opened
// for each request and closed before the response is written.
//
// # Running
//
//	tensorscope -logdir=/var/log/training
//	tensorscope -config=/etc/tensorscope.yaml -log-format=text
//
// See cmd/tensorscope for flags and config for the file format.
package tensorscope
