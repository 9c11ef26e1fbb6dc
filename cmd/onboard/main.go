package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/onboard/pkg/api"
	"github.com/platinummonkey/onboard/pkg/channels"
	"github.com/platinummonkey/onboard/pkg/config"
	"github.com/platinummonkey/onboard/pkg/directory"
	"github.com/platinummonkey/onboard/pkg/lock"
	"github.com/platinummonkey/onboard/pkg/middleware"
	"github.com/platinummonkey/onboard/pkg/observability"
	"github.com/platinummonkey/onboard/pkg/onboarding"
	"github.com/platinummonkey/onboard/pkg/provisioning"
	"github.com/platinummonkey/onboard/pkg/validation"
)

var version = "dev"

var reportOnce = flag.Bool("report-once", false, "Publish invitation stats for the configured organizations once and exit")

// pingableDirectory is a directory the readiness probe can check
type pingableDirectory interface {
	directory.Directory
	Ping(ctx context.Context) error
}

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName).
		WithField("version", version)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Service exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx := observability.WithLogger(context.Background(), logger)

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	policy, err := config.LoadProvisioningPolicy(cfg.PolicyFile)
	if err != nil {
		return err
	}

	dir, err := newDirectory(ctx, cfg, policy, metrics, newRemoteLogger(cfg))
	if err != nil {
		return err
	}

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		redisClient, err = newRedisClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		logger.Info("Connected to Redis")
	}

	var channelClient channels.Client
	if cfg.Channels.BaseURL != "" {
		channelClient = channels.NewHTTPClient(cfg.Channels.BaseURL, cfg.Channels.Timeout, newRemoteLogger(cfg))
	} else {
		logger.Warn("Channel-type service not configured, partner invitations use request metadata")
	}

	factory := onboarding.NewFactory(dir, channelClient, validation.New(dir), onboarding.FactoryConfig{
		DefaultExpiry: cfg.Invite.DefaultExpiry,
		AppURL:        cfg.Invite.AppURL,
		LockTTL:       cfg.Invite.LockTTL,
		MaxExpiry:     cfg.Invite.MaxExpiry,
	}).WithMetrics(metrics)
	if cfg.Invite.LockEnabled {
		factory.WithLocker(lock.NewRedisLocker(redisClient, "onboard:lock"))
		logger.Info("Distributed invitation lock enabled")
	}
	orchestrator := onboarding.NewOrchestrator(dir, provisioning.NewRegistry(dir, policy)).WithMetrics(metrics)
	service := onboarding.NewService(dir, factory, orchestrator)

	reporter := onboarding.NewExpiryReporter(service, metrics, cfg.Report.Organizations)
	if *reportOnce {
		reporter.Run(ctx)
		logger.Info("Invitation stats published")
		return nil
	}

	health := observability.NewHealthChecker(dir, redisClient, version)
	var metricsRegistry *prometheus.Registry
	if cfg.Observability.MetricsEnabled {
		metricsRegistry = registry
	}

	apiServer := &http.Server{
		Addr: net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler: otelhttp.NewHandler(api.NewRouter(service, api.RouterConfig{
			Logger:           logger,
			Metrics:          metrics,
			Registry:         metricsRegistry,
			Health:           health,
			AcceptMiddleware: acceptMiddleware(cfg, redisClient, metrics),
		}), "onboard"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	opsRouter := mux.NewRouter()
	observability.RegisterHealthRoutes(opsRouter, health)
	if metricsRegistry != nil {
		observability.RegisterMetricsEndpoint(opsRouter, metricsRegistry)
	}
	opsServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           opsRouter,
		ReadHeaderTimeout: 5 * time.Second,
	}

	scheduler := cron.New()
	if len(cfg.Report.Organizations) > 0 {
		_, err := scheduler.AddFunc(cfg.Report.Schedule, func() {
			reporter.Run(ctx)
		})
		if err != nil {
			return fmt.Errorf("failed to schedule invitation report: %w", err)
		}
		scheduler.Start()
		logger.WithField("schedule", cfg.Report.Schedule).Info("Invitation report scheduled")
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, opsServer)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		select {
		case <-scheduler.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if redisClient != nil {
		shutdown.RegisterShutdownFunc(func(context.Context) error {
			return redisClient.Close()
		})
	}
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	for _, srv := range []*http.Server{apiServer, opsServer} {
		go func(srv *http.Server) {
			logger.Infof("Listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Errorf("HTTP server on %s failed", srv.Addr)
				cancel()
			}
		}(srv)
	}

	return shutdown.WaitForShutdown(serveCtx)
}

func newDirectory(ctx context.Context, cfg *config.Config, policy config.ProvisioningPolicy, metrics *observability.Metrics, remoteLog logrus.FieldLogger) (pingableDirectory, error) {
	if cfg.Directory.Mode == config.DirectoryModeMemory {
		mem := directory.NewMemoryDirectory()
		for _, orgID := range cfg.Report.Organizations {
			mem.AddOrganization(directory.Organization{ID: orgID, Name: orgID, Enabled: true})
		}
		if len(policy.PartnerGroupNames) > 0 {
			mem.AddGroup(directory.Group{ID: "business-partners", Name: policy.PartnerGroupNames[0]})
		}
		observability.FromContext(ctx).Warn("Using the in-memory directory; data is lost on restart")
		return mem, nil
	}

	client, err := directory.NewClient(ctx, directory.ClientConfig{
		BaseURL:      cfg.Directory.BaseURL,
		Realm:        cfg.Directory.Realm,
		ClientID:     cfg.Directory.ClientID,
		ClientSecret: cfg.Directory.ClientSecret,
		TokenURL:     cfg.Directory.TokenURL,
		Timeout:      cfg.Directory.Timeout,
	}, remoteLog)
	if err != nil {
		return nil, fmt.Errorf("failed to create directory client: %w", err)
	}
	client.SetObserver(metrics)
	return client, nil
}

func newRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	opts.PoolSize = cfg.PoolSize

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func acceptMiddleware(cfg *config.Config, redisClient *redis.Client, metrics *observability.Metrics) []func(http.Handler) http.Handler {
	if !cfg.RateLimit.Enabled {
		return nil
	}

	limits := &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.RateLimit.RequestsPerMinute,
		WindowDuration:    time.Minute,
		BurstSize:         cfg.RateLimit.Burst,
		MaxKeys:           cfg.RateLimit.MaxClients,
	}
	var limiter middleware.Limiter
	if redisClient != nil {
		limiter = middleware.NewDistributedRateLimiter(redisClient, limits, "onboard:ratelimit")
	} else {
		limiter = middleware.NewRateLimiter(limits)
	}

	opts := []middleware.Option{middleware.WithMetrics(metrics)}
	if cfg.RateLimit.TrustProxyHeaders {
		opts = append(opts, middleware.WithTrustedProxyHeaders())
	}
	if cfg.RateLimit.FailClosed {
		opts = append(opts, middleware.WithFailClosed())
	}
	return []func(http.Handler) http.Handler{
		middleware.NewRateLimitMiddleware("accept", limiter, opts...).Handler,
	}
}

// newRemoteLogger configures the logrus logger handed to outbound clients
func newRemoteLogger(cfg *config.Config) logrus.FieldLogger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)
	level, err := logrus.ParseLevel(cfg.Observability.LogLevel.String())
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger.WithField("component", "remote")
}
