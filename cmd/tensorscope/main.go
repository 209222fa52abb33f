// Package main runs the tensorscope server: the TensorBoard tensors plugin
// backend over HTTP, with an optional NATS request/reply front end.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/c360/tensorscope/config"
	"github.com/c360/tensorscope/errors"
	"github.com/c360/tensorscope/eventlog"
	"github.com/c360/tensorscope/gateway"
	gwhttp "github.com/c360/tensorscope/gateway/http"
	gwnats "github.com/c360/tensorscope/gateway/nats"
	"github.com/c360/tensorscope/health"
	"github.com/c360/tensorscope/inspector"
	"github.com/c360/tensorscope/metric"
	"github.com/c360/tensorscope/natsclient"
	"github.com/c360/tensorscope/pkg/retry"
)

// Build information
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "tensorscope"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	// .env only fills variables that are not already set
	if err := godotenv.Load(); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	cliCfg, shouldExit, err := initializeCLI(args)
	if shouldExit || err != nil {
		return err
	}

	cfg, err := initializeConfiguration(cliCfg)
	if err != nil {
		return err
	}

	logger := setupLogger(os.Stdout, cfg.Log.Level, cfg.Log.Format, cfg.Log.Journal)
	slog.SetDefault(logger)

	if cliCfg.Validate {
		logger.Info("Configuration is valid", "config", cfg.String())
		return nil
	}

	if cliCfg.WriteConfig != "" {
		if err := cfg.SaveToFile(cliCfg.WriteConfig); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		logger.Info("Configuration written", "path", cliCfg.WriteConfig)
		return nil
	}

	logger.Info("Starting tensorscope",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath,
		"logdir", cfg.LogDir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logger, cliCfg.ShutdownTimeout)
}

// initializeCLI parses and validates flags and handles -version and -help.
func initializeCLI(args []string) (*CLIConfig, bool, error) {
	cliCfg, flagSet, err := parseFlags(args)
	if err != nil {
		return nil, true, fmt.Errorf("invalid flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return nil, true, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp(flagSet)
		return nil, true, nil
	}

	return cliCfg, false, nil
}

// initializeConfiguration loads the config file (if any) with environment
// overrides, then applies flag overrides on top.
func initializeConfiguration(cliCfg *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	// validated below, once flags are applied
	loader.EnableValidation(false)
	if cliCfg.ConfigPath != "" {
		loader.AddLayer(cliCfg.ConfigPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cliCfg.LogDir != "" {
		cfg.LogDir = cliCfg.LogDir
	}
	if cliCfg.LogLevel != "" {
		cfg.Log.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Log.Format = cliCfg.LogFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// serve wires every component and runs them until ctx is cancelled or one
// of them fails.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, shutdownTimeout time.Duration) error {
	registry := metric.NewMetricsRegistry()
	core := registry.CoreMetrics()

	mux := eventlog.New(cfg.LogDir,
		eventlog.WithWorkers(cfg.Eventlog.Workers),
		eventlog.WithMetrics(registry),
		eventlog.WithLogger(logger),
	)
	defer func() {
		if err := mux.Close(); err != nil {
			logger.Warn("Event log multiplexer did not stop cleanly", "error", err)
		}
	}()

	if err := mux.Reload(ctx); err != nil {
		// keep serving; /health reports the failure and the watcher retries
		logger.Error("Initial load of the log directory failed", "logdir", cfg.LogDir, "error", err)
	}

	svc := inspector.New(mux, inspectorOptions(cfg, logger, core)...)

	monitor := health.NewMonitor(core)
	monitor.Register("eventlog", func(context.Context) health.Status {
		last, err := mux.LastReload()
		return health.FromError("eventlog", err, "last reload "+last.Format(time.RFC3339))
	})

	dispatcher, err := gwhttp.NewDispatcher(svc, gateway.Config{
		EnableCORS:        cfg.HTTP.EnableCORS,
		CORSOrigins:       cfg.HTTP.CORSOrigins,
		MaxLimit:          cfg.HTTP.MaxLimit,
		RequestsPerSecond: cfg.HTTP.RateLimit.RequestsPerSecond,
		Burst:             cfg.HTTP.RateLimit.Burst,
	},
		gwhttp.WithLogger(logger),
		gwhttp.WithMetrics(core),
		gwhttp.WithHealth(monitor, appName),
	)
	if err != nil {
		return fmt.Errorf("create dispatcher: %w", err)
	}

	server := gwhttp.NewServer(gwhttp.ServerConfig{
		Address:      cfg.HTTP.Address,
		Prefix:       cfg.HTTP.Prefix,
		ReadTimeout:  cfg.HTTP.ReadTimeout.Std(),
		WriteTimeout: cfg.HTTP.WriteTimeout.Std(),
		Security:     cfg.Security,
	}, dispatcher)

	var natsClient *natsclient.Client
	if cfg.NATS.Enabled {
		natsClient, err = startNATS(ctx, cfg, svc, monitor, logger, core)
		if err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", "address", cfg.HTTP.Address, "prefix", cfg.HTTP.Prefix)
		return server.Start()
	})
	g.Go(stopOnDone(gctx, logger, "http", shutdownTimeout, server.Stop))

	if cfg.Metrics.Enabled {
		metricsServer := metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry, cfg.Security)
		g.Go(func() error {
			logger.Info("Metrics server listening", "address", metricsServer.Address())
			return metricsServer.Start()
		})
		g.Go(stopOnDone(gctx, logger, "metrics", shutdownTimeout, metricsServer.Stop))
	}

	if interval := cfg.Eventlog.ReloadInterval.Std(); interval > 0 {
		g.Go(func() error {
			return mux.Watch(gctx, interval)
		})
	}

	if natsClient != nil {
		g.Go(stopOnDone(gctx, logger, "nats", shutdownTimeout, natsClient.Close))
	}

	logger.Info("tensorscope started")

	err = g.Wait()
	if err != nil {
		logger.Error("Shutting down after component failure", "error", err)
		return err
	}
	logger.Info("tensorscope shutdown complete")
	return nil
}

func inspectorOptions(cfg *config.Config, logger *slog.Logger, core *metric.Metrics) []inspector.Option {
	opts := []inspector.Option{
		inspector.WithPluginName(cfg.PluginName),
		inspector.WithLogger(logger),
		inspector.WithMetrics(core),
	}
	if cfg.Weights.Root != "" {
		opts = append(opts, inspector.WithWeightsRoot(cfg.Weights.Root))
	}
	if cfg.Assets.Root != "" {
		opts = append(opts, inspector.WithAssets(os.DirFS(cfg.Assets.Root)))
	}
	return opts
}

// startNATS connects the client and subscribes the gateway. The caller owns
// the returned client.
func startNATS(
	ctx context.Context,
	cfg *config.Config,
	svc gateway.Inspector,
	monitor *health.Monitor,
	logger *slog.Logger,
	core *metric.Metrics,
) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithName(appName),
		natsclient.WithLogger(logger),
		natsclient.WithMetrics(core),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithReconnectWait(cfg.NATS.ReconnectWait.Std()),
		natsclient.WithHealthChangeCallback(func(healthy bool) {
			logger.Info("NATS health changed", "healthy", healthy)
		}),
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}
	if tlsCfg := cfg.Security.TLS.Client; tlsCfg.Enabled {
		var ca string
		if len(tlsCfg.CAFiles) > 0 {
			ca = tlsCfg.CAFiles[0]
		}
		opts = append(opts, natsclient.WithTLS(tlsCfg.CertFile, tlsCfg.KeyFile, ca))
	}

	client, err := natsclient.NewClient(strings.Join(cfg.NATS.URLs, ","), opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	if err := connectNATS(ctx, client, errors.DefaultRetryConfig(), logger); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	logger.Info("Connected to NATS", "url", client.URL())

	monitor.Register("nats", func(context.Context) health.Status {
		return natsHealth(client)
	})

	gw, err := gwnats.NewGateway(svc, client, gwnats.Config{
		SubjectPrefix: cfg.NATS.SubjectPrefix,
		QueueGroup:    cfg.NATS.QueueGroup,
		MaxLimit:      cfg.HTTP.MaxLimit,
	}, gwnats.WithLogger(logger), gwnats.WithMetrics(core))
	if err != nil {
		_ = client.Close(context.Background())
		return nil, fmt.Errorf("create NATS gateway: %w", err)
	}
	if err := gw.Start(ctx); err != nil {
		_ = client.Close(context.Background())
		return nil, fmt.Errorf("start NATS gateway: %w", err)
	}

	return client, nil
}

type natsConnector interface {
	Connect(ctx context.Context) error
}

// connectNATS retries transient connect failures. An open circuit breaker
// ends the loop.
func connectNATS(ctx context.Context, c natsConnector, rc errors.RetryConfig, logger *slog.Logger) error {
	cfg := rc.ToRetryConfig()
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Warn("NATS connect failed, retrying", "attempt", attempt, "delay", delay, "error", err)
	}

	attempt := 0
	return retry.Do(ctx, cfg, func() error {
		err := c.Connect(ctx)
		if err != nil && !rc.ShouldRetry(err, attempt) {
			err = retry.NonRetryable(err)
		}
		attempt++
		return err
	})
}

func natsHealth(client *natsclient.Client) health.Status {
	st := client.GetStatus()
	switch st.Status {
	case natsclient.StatusConnected:
		return health.NewHealthy("nats", fmt.Sprintf("connected, rtt %s", st.RTT))
	case natsclient.StatusReconnecting:
		return health.NewDegraded("nats", fmt.Sprintf("reconnecting after %d failures", st.FailureCount))
	case natsclient.StatusCircuitOpen:
		return health.NewUnhealthy("nats", fmt.Sprintf("circuit open, next attempt in %s", client.Backoff()))
	default:
		return health.NewUnhealthy("nats", st.Status.String())
	}
}

// stopOnDone waits for ctx and then stops a component within timeout.
func stopOnDone(
	ctx context.Context,
	logger *slog.Logger,
	name string,
	timeout time.Duration,
	stop func(context.Context) error,
) func() error {
	return func() error {
		<-ctx.Done()
		logger.Info("Stopping component", "component", name)

		stopCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := stop(stopCtx); err != nil {
			logger.Warn("Component did not stop cleanly", "component", name, "error", err)
		}
		return nil
	}
}
