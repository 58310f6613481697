package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"

	"github.com/proxyguard/log-watcher/pkg/accesslog"
	"github.com/proxyguard/log-watcher/pkg/clickhouse"
	"github.com/proxyguard/log-watcher/pkg/database"
	"github.com/proxyguard/log-watcher/pkg/ingest"
	"github.com/proxyguard/log-watcher/pkg/npm"
	"github.com/proxyguard/log-watcher/pkg/s3"
	"github.com/proxyguard/log-watcher/pkg/security"
	"github.com/proxyguard/log-watcher/pkg/util"
	"github.com/proxyguard/log-watcher/pkg/watcher"
)

func main() {
	os.Exit(run())
}

func seconds(name string) time.Duration {
	return time.Duration(watcher.ConfigSpec.GetInt(name)) * time.Second
}

func milliseconds(name string) time.Duration {
	return time.Duration(watcher.ConfigSpec.GetInt(name)) * time.Millisecond
}

// buildDatabaseConfig creates the Postgres client config from validated settings
func buildDatabaseConfig(settings watcher.DatabaseSettings, logger *slog.Logger) database.Config {
	return database.Config{
		Host:           settings.Host,
		Port:           settings.Port,
		User:           settings.User,
		Password:       settings.Password,
		Name:           settings.Name,
		PoolSize:       settings.PoolSize,
		Timeout:        10 * time.Second,
		MaxRetries:     settings.MaxRetries,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		Logger:         logger,
	}
}

// buildScreener wires the security detectors onto the Postgres repositories
func buildScreener(traffic *database.TrafficRepository, securityRepo *database.SecurityRepository,
	logger *slog.Logger) *security.Screener {
	securityLogger := logger.With("component", "security")

	blocker := security.NewAutoBlocklistManager(securityRepo, securityRepo, nil, securityLogger)
	return security.NewScreener(security.ScreenerConfig{
		Threats: security.NewThreatDetector(securityRepo, blocker, nil, securityLogger),
		RateLimiter: security.NewRateLimiter(security.RateLimiterConfig{
			Stats:       traffic,
			Events:      securityRepo,
			Blocker:     blocker,
			MaxRequests: watcher.ConfigSpec.GetInt("security.rate-limit-max-requests"),
			Window:      seconds("security.rate-limit-window-seconds"),
			Logger:      securityLogger,
		}),
		Anomalies:         security.NewAnomalyDetector(traffic, securityRepo, 0, nil, securityLogger),
		Workers:           watcher.ConfigSpec.GetInt("security.workers"),
		QueueSize:         watcher.ConfigSpec.GetInt("security.queue-size"),
		AnomalySampleRate: watcher.ConfigSpec.GetFloat64("security.anomaly-sample-rate"),
		Metrics:           security.NewMetrics(),
		Logger:            securityLogger,
	})
}

// buildArchiver connects the optional ClickHouse mirror
func buildArchiver(ctx context.Context, logger *slog.Logger) (*clickhouse.Client, *clickhouse.Archiver, error) {
	if !watcher.ConfigSpec.GetBool("clickhouse.enabled") {
		return nil, nil, nil
	}

	client, err := clickhouse.NewClient(ctx, clickhouse.Config{
		Hosts:          util.ParseCommaSeparatedHosts(watcher.ConfigSpec.GetString("clickhouse.url"), clickhouse.DefaultNativePort),
		Username:       watcher.ConfigSpec.GetString("clickhouse.username"),
		Password:       watcher.ConfigSpec.GetString("clickhouse.password"),
		Timeout:        seconds("clickhouse.timeout-seconds"),
		MaxRetries:     watcher.ConfigSpec.GetInt("database.connect-retries"),
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		Logger:         logger,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := client.EnsureSchema(ctx); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return client, clickhouse.NewArchiver(client, 0), nil
}

// buildDeadLetter creates the optional S3 dead-letter sink
func buildDeadLetter(ctx context.Context, logger *slog.Logger) (*watcher.DeadLetter, error) {
	if !watcher.ConfigSpec.GetBool("deadletter.enabled") {
		return nil, nil
	}

	client, err := s3.NewClient(ctx, s3.Config{
		Endpoint:         watcher.ConfigSpec.GetString("s3.endpoint"),
		Region:           watcher.ConfigSpec.GetString("s3.region"),
		AccessKeyID:      watcher.ConfigSpec.GetString("s3.access-key-id"),
		SecretAccessKey:  watcher.ConfigSpec.GetString("s3.secret-access-key"),
		MaxRetryAttempts: watcher.ConfigSpec.GetInt("s3.max-retry-attempts"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	bucket := watcher.ConfigSpec.GetString("deadletter.bucket")
	if err := client.CheckBucket(ctx, bucket); err != nil {
		if s3.IsPermanentError(err) {
			return nil, err
		}
		logger.Warn("dead-letter bucket not reachable at startup", "bucket", bucket, "error", err)
	}

	return watcher.NewDeadLetter(watcher.DeadLetterConfig{
		Uploader: s3.NewUploader(client),
		Bucket:   bucket,
		Prefix:   watcher.ConfigSpec.GetString("deadletter.prefix"),
		Logger:   logger.With("component", "deadletter"),
	}), nil
}

// buildNPMClient returns nil when no proxy manager API is configured
func buildNPMClient(logger *slog.Logger) *npm.Client {
	apiURL := watcher.ConfigSpec.GetString("npm.api-url")
	if apiURL == "" {
		return nil
	}
	return npm.NewClient(npm.ClientConfig{
		BaseURL:  apiURL,
		Username: watcher.ConfigSpec.GetString("npm.username"),
		Password: watcher.ConfigSpec.GetString("npm.password"),
		Logger:   logger.With("component", "npm"),
	})
}

// startStatusChecks probes proxy hosts once now and then daily
func startStatusChecks(ctx context.Context, client *npm.Client, store npm.StatusStore, logger *slog.Logger) {
	checker := npm.NewStatusChecker(npm.StatusCheckerConfig{
		Hosts:   client,
		Store:   store,
		Timeout: seconds("status-check.timeout-seconds"),
		Pace:    milliseconds("status-check.pace-ms"),
		Logger:  logger.With("component", "status"),
	})
	hour := watcher.ConfigSpec.GetInt("status-check.hour")

	go npm.RunDaily(ctx, hour, func(ctx context.Context) {
		if _, err := checker.CheckAll(ctx); err != nil {
			logger.Error("proxy host status check failed", "error", err)
		}
	})
}

// startIngestServer serves the HTTP ingestion routes when enabled
func startIngestServer(pipeline *watcher.Pipeline, hosts ingest.HostResolver,
	logger *slog.Logger) (*http.Server, error) {
	if !watcher.ConfigSpec.GetBool("ingest.enabled") {
		return nil, nil
	}
	server := ingest.NewServer(ingest.Config{
		Processor: pipeline,
		Hosts:     hosts,
		Metrics:   ingest.NewMetrics(),
		Logger:    logger.With("component", "ingest"),
	})
	return util.StartHTTPServer("ingest",
		watcher.ConfigSpec.GetString("ingest.listen-address"),
		watcher.ConfigSpec.GetInt("ingest.listen-port"),
		server.Router(), logger)
}

// waitForShutdown waits for shutdown signal or watcher error, returns exit code
func waitForShutdown(cancel context.CancelFunc, logger *slog.Logger,
	errChan <-chan error, signalsChan <-chan os.Signal, shutdownTimeout time.Duration) int {
	select {
	case sig := <-signalsChan:
		logger.Info("signal received", "signal", sig)
		cancel()

		// Wait for the watcher to finish its current poll (with timeout)
		shutdownTimer := time.NewTimer(shutdownTimeout)
		defer shutdownTimer.Stop()

		select {
		case <-shutdownTimer.C:
			logger.Warn("shutdown timeout exceeded, forcing exit")
			return 1
		case err := <-errChan:
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("watcher stopped with error", "error", err)
				return 1
			}
		}

	case err := <-errChan:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("watcher error", "error", err)
			return 1
		}
	}

	return 0
}

//nolint:gocyclo // linear wiring of optional components
func run() int {
	// Add command-line flags
	watcher.ConfigSpec.AddFlag(pflag.CommandLine, "log-level", "log-level")
	watcher.ConfigSpec.AddFlag(pflag.CommandLine, "log-dir", "log-dir")

	configFileFlag := pflag.String("config-file", "", "Path to configuration file")
	envFileFlag := pflag.String("env-file", ".env", "Path to a dotenv file")
	pflag.Parse()

	if err := util.LoadDotEnv(*envFileFlag); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 2
	}

	// Load configuration
	configFile := *configFileFlag
	if configFile == "" {
		configFile = os.Getenv("LOG_WATCHER_CONFIG_FILE")
	}

	err := watcher.ConfigSpec.LoadConfiguration(configFile, "", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		pflag.Usage()
		return 2
	}

	// Validate configuration
	err = watcher.ValidateConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration validation error: %v\n", err)
		return 2
	}
	dbSettings, err := watcher.LoadDatabaseSettings()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration validation error: %v\n", err)
		return 2
	}

	// Set up logger
	logLevel := util.ParseLogLevel(watcher.ConfigSpec.GetString("log-level"))
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))

	// Get shutdown timeout from config
	shutdownTimeout := seconds("shutdown-timeout-seconds")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect storage
	db, err := database.NewClient(ctx, buildDatabaseConfig(dbSettings, logger))
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return 1
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			logger.Error("failed to close database", "error", closeErr)
		}
	}()

	if watcher.ConfigSpec.GetBool("database.auto-migrate") {
		if err := db.EnsureSchema(ctx); err != nil {
			logger.Error("failed to apply database schema", "error", err)
			return 1
		}
	}

	traffic := database.NewTrafficRepository(db)
	securityRepo := database.NewSecurityRepository(db)

	chClient, archiver, err := buildArchiver(ctx, logger)
	if err != nil {
		logger.Error("failed to set up ClickHouse mirror", "error", err)
		return 1
	}
	if chClient != nil {
		defer func() {
			if closeErr := chClient.Close(); closeErr != nil {
				logger.Error("failed to close ClickHouse client", "error", closeErr)
			}
		}()
	}

	deadLetter, err := buildDeadLetter(ctx, logger)
	if err != nil {
		logger.Error("failed to set up dead-letter archive", "error", err)
		return 1
	}

	// Assemble the pipeline
	metrics := watcher.NewMetrics()
	persisterCfg := watcher.PersisterConfig{
		Writer: traffic,
		Retry: watcher.RetryPolicy{
			MaxRetries: watcher.ConfigSpec.GetInt("retry.max-retries"),
			BaseDelay:  milliseconds("retry.base-delay-ms"),
			Retryable:  database.IsTransientError,
		},
		MaxLogAge:    time.Duration(watcher.ConfigSpec.GetInt("watcher.max-log-age-days")) * 24 * time.Hour,
		WriteTimeout: seconds("watcher.write-timeout-seconds"),
		Metrics:      metrics,
		Logger:       logger.With("component", "persister"),
	}
	if archiver != nil {
		persisterCfg.Archiver = archiver
	}
	if deadLetter != nil {
		persisterCfg.DeadLetter = deadLetter
	}

	pipelineCfg := watcher.PipelineConfig{
		Parser:    accesslog.NewParser(),
		Persister: watcher.NewPersister(persisterCfg),
		BatchSize: watcher.ConfigSpec.GetInt("watcher.batch-size"),
		Metrics:   metrics,
		Logger:    logger,
	}
	if watcher.ConfigSpec.GetBool("security.enabled") {
		screener := buildScreener(traffic, securityRepo, logger)
		defer screener.Close()
		pipelineCfg.Screener = screener
	}
	pipeline := watcher.NewPipeline(pipelineCfg)

	watcherCfg := watcher.Options()
	watcherCfg.Pipeline = pipeline
	watcherCfg.Metrics = metrics
	watcherCfg.Logger = logger
	w := watcher.New(watcherCfg)

	// Proxy manager collaborators
	npmClient := buildNPMClient(logger)
	if npmClient != nil && watcher.ConfigSpec.GetBool("status-check.enabled") {
		startStatusChecks(ctx, npmClient, database.NewStatusRepository(db), logger)
	}

	var hosts ingest.HostResolver
	if npmClient != nil && watcher.ConfigSpec.GetBool("ingest.enabled") {
		hostMap := npm.NewHostMap(npmClient, seconds("npm.host-map-ttl-seconds"), logger.With("component", "hostmap"))
		hostMap.Refresh(ctx)
		hosts = hostMap
	}
	ingestServer, err := startIngestServer(pipeline, hosts, logger)
	if err != nil {
		logger.Error("failed to start ingest server", "error", err)
		return 1
	}
	if ingestServer != nil {
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			if closeErr := ingestServer.Shutdown(shutdownCtx); closeErr != nil {
				logger.Error("failed to shut down ingest server", "error", closeErr)
			}
		}()
	}

	// Start metrics server
	metricsServer, err := util.StartMetricsServerIfEnabled(
		watcher.ConfigSpec, "metrics-server", logger)
	if err != nil {
		logger.Error("failed to start metrics server", "error", err)
		return 1
	}
	if metricsServer != nil {
		defer func() {
			if closeErr := metricsServer.Close(); closeErr != nil {
				logger.Error("failed to close metrics server", "error", closeErr)
			}
		}()
	}

	// Set up signal handling for graceful shutdown
	signalsChan := make(chan os.Signal, 1)
	signal.Notify(signalsChan, unix.SIGINT, unix.SIGTERM)

	// Start watcher in goroutine
	errChan := make(chan error)
	go func() {
		errChan <- w.Run(ctx)
	}()

	// Wait for signal or error
	exitCode := waitForShutdown(cancel, logger, errChan, signalsChan, shutdownTimeout)

	if exitCode == 0 {
		logger.Info("log-watcher stopped")
	}
	return exitCode
}
