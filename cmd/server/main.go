// Command server starts the Bagurumba video API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"bagurumba/internal/api"
	"bagurumba/internal/auth"
	"bagurumba/internal/catalog"
	"bagurumba/internal/config"
	"bagurumba/internal/events"
	"bagurumba/internal/observability/logging"
	"bagurumba/internal/observability/metrics"
	"bagurumba/internal/provider"
	"bagurumba/internal/reconcile"
	"bagurumba/internal/redisclient"
	"bagurumba/internal/server"
	"bagurumba/internal/storage"
	"bagurumba/internal/uploads"
	"bagurumba/internal/webhook"
)

// flagOverrides holds command-line values that take precedence over the
// config file and environment. Zero values leave the loaded setting alone.
type flagOverrides struct {
	configPath     string
	addr           string
	storageDriver  string
	dataPath       string
	postgresDSN    string
	logLevel       string
	logFormat      string
	eventsDriver   string
	tlsCert        string
	tlsKey         string
	disableSweeper bool
}

func parseFlags(fs *flag.FlagSet, args []string) (flagOverrides, error) {
	var opts flagOverrides
	fs.StringVar(&opts.configPath, "config", "", "path to the TOML config file (default bagurumba.toml)")
	fs.StringVar(&opts.addr, "addr", "", "HTTP listen address")
	fs.StringVar(&opts.storageDriver, "storage-driver", "", "datastore driver (json, sqlite or postgres)")
	fs.StringVar(&opts.dataPath, "data", "", "path to the JSON or SQLite datastore")
	fs.StringVar(&opts.postgresDSN, "postgres-dsn", "", "Postgres connection string")
	fs.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.StringVar(&opts.logFormat, "log-format", "", "log format (json or text)")
	fs.StringVar(&opts.eventsDriver, "events-driver", "", "status event sink (none, memory, redis or amqp)")
	fs.StringVar(&opts.tlsCert, "tls-cert", "", "path to TLS certificate file")
	fs.StringVar(&opts.tlsKey, "tls-key", "", "path to TLS private key file")
	fs.BoolVar(&opts.disableSweeper, "no-sweeper", false, "disable the background reconcile sweeper")
	if err := fs.Parse(args); err != nil {
		return flagOverrides{}, err
	}
	return opts, nil
}

// apply copies set flags onto cfg and re-validates it.
func (o flagOverrides) apply(cfg *config.Config) error {
	set := func(dst *string, value string) {
		if value != "" {
			*dst = value
		}
	}
	set(&cfg.Server.Addr, o.addr)
	set(&cfg.Server.TLSCertFile, o.tlsCert)
	set(&cfg.Server.TLSKeyFile, o.tlsKey)
	set(&cfg.Storage.Driver, o.storageDriver)
	set(&cfg.Storage.Path, o.dataPath)
	set(&cfg.Storage.PostgresDSN, o.postgresDSN)
	set(&cfg.Logging.Level, o.logLevel)
	set(&cfg.Logging.Format, o.logFormat)
	set(&cfg.Events.Driver, o.eventsDriver)
	if o.disableSweeper {
		cfg.Sweeper.Enabled = false
	}
	return cfg.Validate()
}

func main() {
	opts, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	cfg, path, fromFile, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := opts.apply(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if fromFile {
		logger.Info("loaded config file", "path", path)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, nil); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// app owns every long-lived dependency so shutdown can release them in order.
type app struct {
	server    *server.Server
	sweeper   func()
	publisher events.Publisher
	redis     redis.UniversalClient
	store     storage.Repository
	logger    *slog.Logger
}

// run builds the service, serves until ctx ends and then shuts down the
// sweeper, the HTTP server, the event sink and the store in that order.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, onListen func(net.Addr)) error {
	a, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	serveErr := a.server.Run(ctx, onListen)
	a.close()
	return serveErr
}

func build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	recorder := metrics.New()
	metrics.SetDefault(recorder)

	store, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	a := &app{store: store, logger: logger}

	var redisClient redis.UniversalClient
	if cfg.RateLimit.UseRedis {
		redisClient, err = redisclient.New(cfg.RedisClient())
		if err != nil {
			a.close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.redis = redisClient
	}

	publisher, err := openPublisher(cfg, logger)
	if err != nil {
		a.close()
		return nil, err
	}
	a.publisher = publisher

	videoProvider, err := buildProvider(cfg, logger, recorder)
	if err != nil {
		a.close()
		return nil, err
	}

	issuer, err := uploads.New(uploads.Config{
		Provider: videoProvider,
		Store:    store,
		Logger:   logger,
		Metrics:  recorder,
		Constraints: provider.UploadConstraints{
			MaxDurationSeconds: cfg.Uploads.MaxDurationSeconds,
			MaxSizeBytes:       cfg.Uploads.MaxSizeBytes,
			AllowedOrigins:     cfg.Uploads.AllowedOrigins,
		},
		StoreTimeout: cfg.QueryTimeout(),
	})
	if err != nil {
		a.close()
		return nil, err
	}
	reconciler, err := reconcile.New(reconcile.Config{
		Provider:        videoProvider,
		Store:           store,
		Events:          publisher,
		Logger:          logger,
		Metrics:         recorder,
		ProviderTimeout: cfg.ReconcileProviderTimeout(),
		WriteTimeout:    cfg.ReconcileWriteTimeout(),
	})
	if err != nil {
		a.close()
		return nil, err
	}
	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret, auth.WithIssuer(cfg.Auth.Issuer))
	if err != nil {
		a.close()
		return nil, fmt.Errorf("auth: %w", err)
	}

	dependencies := map[string]api.Pinger{}
	if pinger, ok := publisher.(api.Pinger); ok {
		dependencies["events"] = pinger
	}
	handler := &api.Handler{
		Users:      store,
		Tokens:     verifier,
		Uploads:    issuer,
		Reconciler: reconciler,
		Catalog:    catalog.New(store, cfg.QueryTimeout()),
		Webhook: webhook.Verifier{
			Secret:            cfg.Webhook.Secret,
			Tolerance:         cfg.WebhookTolerance(),
			AllowSharedSecret: cfg.Webhook.AllowSharedSecret,
		},
		Provider:     videoProvider,
		Dependencies: dependencies,
		Metrics:      recorder,
		Logger:       logging.WithComponent(logger, "api"),
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	}
	if !handler.Webhook.Configured() {
		logger.Warn("webhook secret not configured; status pushes will be refused")
	}

	rateLimit := server.RateLimitConfig{
		GlobalRPS:             cfg.RateLimit.GlobalRPS,
		GlobalBurst:           cfg.RateLimit.GlobalBurst,
		UploadLimit:           cfg.RateLimit.UploadLimit,
		UploadWindow:          cfg.UploadWindow(),
		TrustForwardedHeaders: cfg.Server.TrustForwardedHeaders,
		TrustedProxies:        cfg.Server.TrustedProxies,
	}
	if cfg.RateLimit.UseRedis && redisClient != nil {
		rateLimit.Redis = redisClient
		rateLimit.RedisTimeout = time.Duration(cfg.Redis.TimeoutSeconds) * time.Second
	}
	srv, err := server.New(handler, server.Config{
		Addr:            cfg.Server.Addr,
		TLS:             server.TLSConfig{CertFile: cfg.Server.TLSCertFile, KeyFile: cfg.Server.TLSKeyFile},
		CORS:            server.CORSConfig{AllowedOrigins: cfg.Server.AllowedOrigins},
		RateLimit:       rateLimit,
		Logger:          logger,
		AuditLogger:     logging.WithComponent(logger, "audit"),
		Metrics:         recorder,
		ShutdownTimeout: cfg.ShutdownTimeout(),
	})
	if err != nil {
		a.close()
		return nil, err
	}
	a.server = srv

	a.sweeper = func() {}
	if cfg.Sweeper.Enabled {
		a.sweeper = startReconcileSweeper(ctx, sweeperConfig{
			Store:      store,
			Reconciler: reconciler,
			Metrics:    recorder,
			Logger:     logging.WithComponent(logger, "sweeper"),
			Interval:   cfg.SweepInterval(),
			Grace:      cfg.SweepGrace(),
			BatchSize:  cfg.Sweeper.BatchSize,
		})
	}
	return a, nil
}

func (a *app) close() {
	if a.sweeper != nil {
		a.sweeper()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("failed to close event publisher", "error", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			a.logger.Warn("failed to close redis client", "error", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(ctx); err != nil {
			a.logger.Warn("failed to close datastore", "error", err)
		}
	}
}

func openStore(cfg *config.Config, logger *slog.Logger) (storage.Repository, error) {
	opts := []storage.Option{storage.WithQueryTimeout(cfg.QueryTimeout())}
	var (
		store storage.Repository
		err   error
	)
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		opts = append(opts,
			storage.WithPostgresPoolLimits(cfg.Storage.PostgresMaxConns, cfg.Storage.PostgresMinConns),
			storage.WithPostgresAcquireTimeout(cfg.PostgresAcquireTimeout()),
			storage.WithPostgresApplicationName("bagurumba"),
		)
		store, err = storage.NewPostgresRepository(cfg.Storage.PostgresDSN, opts...)
	case config.DriverSQLite:
		store, err = storage.NewSQLiteRepository(cfg.Storage.Path, opts...)
	case config.DriverJSON:
		store, err = storage.NewJSONRepository(cfg.Storage.Path, opts...)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s datastore: %w", cfg.Storage.Driver, err)
	}
	logger.Info("datastore ready", "driver", cfg.Storage.Driver)
	return store, nil
}

// openPublisher selects the status event sink.
func openPublisher(cfg *config.Config, logger *slog.Logger) (events.Publisher, error) {
	eventsLogger := logging.WithComponent(logger, "events")
	switch cfg.Events.Driver {
	case "", config.EventsNone:
		return events.Noop{}, nil
	case config.EventsMemory:
		return events.NewMemory(), nil
	case config.EventsRedis:
		publisher, err := events.NewRedisPublisher(events.RedisConfig{
			Client: cfg.RedisClient(),
			Stream: cfg.Events.RedisStream,
			MaxLen: cfg.Events.RedisMaxLen,
			Logger: eventsLogger,
		})
		if err != nil {
			return nil, fmt.Errorf("events: %w", err)
		}
		return publisher, nil
	case config.EventsAMQP:
		publisher, err := events.NewAMQPPublisher(events.AMQPConfig{
			URL:      cfg.Events.AMQPURL,
			Exchange: cfg.Events.AMQPExchange,
			Queue:    cfg.Events.AMQPQueue,
			Logger:   eventsLogger,
		})
		if err != nil {
			return nil, fmt.Errorf("events: %w", err)
		}
		return publisher, nil
	default:
		return nil, fmt.Errorf("unsupported events driver %q", cfg.Events.Driver)
	}
}

func buildProvider(cfg *config.Config, logger *slog.Logger, observer provider.CallObserver) (provider.Provider, error) {
	providerCfg := provider.Config{
		BaseURL:       cfg.Provider.BaseURL,
		AccountID:     cfg.Provider.AccountID,
		APIToken:      cfg.Provider.APIToken,
		Timeout:       cfg.ProviderTimeout(),
		MaxAttempts:   cfg.Provider.MaxAttempts,
		RetryInterval: cfg.ProviderRetryInterval(),
		Logger:        logging.WithComponent(logger, "provider"),
		Observer:      observer,
	}
	p, err := provider.New(providerCfg)
	if err != nil {
		return nil, fmt.Errorf("provider: %w", err)
	}
	if !providerCfg.Enabled() {
		logger.Warn("provider credentials not configured; uploads and status queries are disabled")
	}
	return p, nil
}
