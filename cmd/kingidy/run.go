package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"

	"github.com/kingidy/kingidy/internal/app"
	"github.com/kingidy/kingidy/internal/cache"
	"github.com/kingidy/kingidy/internal/cloudauth"
	"github.com/kingidy/kingidy/internal/config"
	"github.com/kingidy/kingidy/internal/provider"
	"github.com/kingidy/kingidy/internal/provider/fallback"
	"github.com/kingidy/kingidy/internal/provider/gemini"
	"github.com/kingidy/kingidy/internal/provider/openai"
	"github.com/kingidy/kingidy/internal/server"
	"github.com/kingidy/kingidy/internal/storage"
	"github.com/kingidy/kingidy/internal/storage/postgres"
	"github.com/kingidy/kingidy/internal/storage/sqlite"
	"github.com/kingidy/kingidy/internal/telemetry"
	"github.com/kingidy/kingidy/internal/tokencount"
	"github.com/kingidy/kingidy/internal/worker"
)

const dnsRefreshInterval = 5 * time.Minute

func run(configPath, envFile string) error {
	// .env is optional; real environment variables win.
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	slog.Info("starting kingidy", "version", version, "addr", cfg.Server.Addr, "db", cfg.Database.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Open database
	store, err := openStore(cfg.Database)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := config.Bootstrap(ctx, cfg, store); err != nil {
		return err
	}

	// Telemetry
	var metrics *telemetry.Metrics
	var metricsHandler http.Handler
	if cfg.Telemetry.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = telemetry.NewMetrics(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}
	if cfg.Telemetry.Tracing.Enabled {
		shutdown, err := telemetry.SetupTracing(ctx, telemetry.TracingOptions{
			Endpoint:   cfg.Telemetry.Tracing.Endpoint,
			SampleRate: cfg.Telemetry.Tracing.SampleRate,
			Version:    version,
		})
		if err != nil {
			return err
		}
		defer shutdown(context.Background())
	}

	// Adapters
	tokens := tokencount.NewCounter(cfg.Tokenizer.Encoding)
	resolver := &dnscache.Resolver{}
	adapters, err := registerAdapters(ctx, cfg, tokens, resolver)
	if err != nil {
		return err
	}
	slog.Info("adapters registered", "adapters", adapters.List())

	creds := cfg.Credentials()
	if !creds.Any() {
		slog.Warn("no provider credentials configured, replies use the demo fallback")
	}
	routerSvc := app.NewRouterService(adapters, creds, cfg.Providers.RequestTimeout, metrics)

	opts := app.GatewayOptions{
		DefaultModel: cfg.Providers.DefaultModel,
		SummaryTTL:   cfg.Cache.TTL,
		Metrics:      metrics,
	}
	if cfg.Cache.Enabled {
		summaries, err := cache.NewMemory[int](cfg.Cache.MaxSize, cfg.Cache.TTL)
		if err != nil {
			return err
		}
		opts.Summaries = summaries
	}
	gw := app.NewGateway(store, routerSvc, tokens, opts)

	// Background workers
	var gauge prometheus.Gauge
	if metrics != nil {
		gauge = metrics.UnansweredMessages
	}
	runner := worker.NewRunner(
		worker.NewUnansweredSweeper(store, gauge, cfg.Workers.SweepInterval, 0),
		worker.NewDNSRefresher(resolver, dnsRefreshInterval),
	)
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	workerDone := make(chan error, 1)
	go func() { workerDone <- runner.Run(workerCtx) }()

	handler := server.New(server.Deps{
		Chats:          gw,
		ReadyCheck:     store.Ping,
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("kingidy ready", "addr", cfg.Server.Addr)

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		return err
	case err := <-workerDone:
		if err != nil {
			return fmt.Errorf("worker: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	cancelWorkers()

	slog.Info("kingidy stopped")
	return nil
}

func openStore(db config.DatabaseConfig) (storage.Store, error) {
	switch db.Driver {
	case config.DriverPostgres:
		return postgres.New(db.DSN)
	default:
		return sqlite.New(db.DSN)
	}
}

// registerAdapters builds the adapter registry. The fallback adapter is
// always present; vendor adapters only when their credentials are.
func registerAdapters(ctx context.Context, cfg *config.Config, tokens *tokencount.Counter, resolver *dnscache.Resolver) (*provider.Registry, error) {
	reg := provider.NewRegistry()
	reg.Register(fallback.New(tokens))

	p := cfg.Providers
	if p.OpenAI.APIKey != "" {
		client := &http.Client{Transport: cloudauth.NewBearer(p.OpenAI.APIKey, provider.NewTransport(resolver))}
		reg.Register(openai.New(p.OpenAI.BaseURL, client))
	}

	var googleTransport http.RoundTripper
	switch {
	case p.Google.Auth == config.AuthGCPOAuth:
		t, err := cloudauth.NewGCPOAuthTransport(ctx, provider.NewTransport(resolver), p.Google.Project)
		if err != nil {
			return nil, fmt.Errorf("google oauth: %w", err)
		}
		googleTransport = t
	case p.Google.APIKey != "":
		googleTransport = cloudauth.NewGoogleAPIKey(p.Google.APIKey, provider.NewTransport(resolver))
	}
	if googleTransport != nil {
		opts := gemini.Options{BaseURL: p.Google.BaseURL}
		if p.Google.Auth == config.AuthGCPOAuth {
			opts.Project = p.Google.Project
			opts.Location = p.Google.Location
		}
		reg.Register(gemini.New(opts, &http.Client{Transport: googleTransport}))
	}
	return reg, nil
}
