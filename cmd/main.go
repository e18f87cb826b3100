package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/spotted/internal/adapters/http/api"
	"github.com/okian/spotted/internal/adapters/http/swagger"
	"github.com/okian/spotted/internal/adapters/repository"
	"github.com/okian/spotted/internal/adapters/slack"
	app "github.com/okian/spotted/internal/app"
	"github.com/okian/spotted/internal/config"
	"github.com/okian/spotted/internal/digest"
	"github.com/okian/spotted/internal/telemetry"
	"github.com/okian/spotted/pkg/logger"
	"github.com/okian/spotted/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 10 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	serviceMetricsInterval    = 5 * time.Second
	nanosecondsPerMillisecond = 1e6

	serviceName    = "spotted"
	serviceVersion = "1.0.0"
)

func main() {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> .env + env)
	cfg, err := config.Load(ctx)
	if err != nil {
		// Use stderr for initialization errors since logger isn't available yet
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Get()

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal(ctx, "spotted exited with error", logger.Error(err))
	}
}

// run wires every component and blocks until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	shutdownTracing, err := telemetry.Init(ctx, cfg.OTelEndpoint, serviceName, serviceVersion)
	if err != nil {
		return err
	}
	defer shutdownTracing()

	store, err := repository.Open(ctx, cfg.StoreDriver, cfg.StoreDSN, repository.WithLogger(log.Named("repository")))
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error(ctx, "failed to close store", logger.Error(err))
		}
	}()

	slackClient := newSlackClient(cfg, log)
	if !slackClient.Configured() {
		log.Warn(ctx, "slack_bot_token not set; attachment re-fetch, names and replies will fail")
	}

	svc := newService(cfg, store, slackClient, log)
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := svc.Stop(stopCtx); err != nil {
			log.Error(ctx, "service stop failed", logger.Error(err))
		}
	}()

	go startSystemMetricsUpdater(ctx)
	go startServiceMetricsUpdater(ctx, svc)

	if cfg.DigestSchedule != "" {
		sched := digest.New(svc, slackClient, cfg.ChannelID,
			digest.WithSize(cfg.DigestSize),
			digest.WithLogger(log.Named("digest")))
		if err := sched.Start(ctx, cfg.DigestSchedule); err != nil {
			return err
		}
		defer sched.Stop()
	}

	if cfg.Transport == config.TransportSocket {
		socket := slack.NewSocketClient(slackClient, func(ctx context.Context, env slack.Envelope) {
			if err := svc.HandleEnvelope(ctx, env, config.TransportSocket); err != nil {
				log.Warn(ctx, "dropped socket event", logger.String("delivery_id", env.EventID), logger.Error(err))
			}
		})
		go func() {
			if err := socket.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error(ctx, "socket mode stopped", logger.Error(err))
			}
		}()
	}

	srv := newHTTPServer(cfg, svc, log)
	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server",
			logger.String("addr", cfg.Addr),
			logger.String("transport", cfg.Transport))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	log.Info(ctx, "server stopped")
	return nil
}

func newSlackClient(cfg *config.Config, log logger.Logger) *slack.Client {
	return slack.New(cfg.SlackBotToken,
		slack.WithBaseURL(cfg.SlackAPIURL),
		slack.WithAppToken(cfg.SlackAppToken),
		slack.WithRateLimit(cfg.SlackRPS, cfg.SlackBurst),
		slack.WithLogger(log.Named("slack")),
	)
}

func newService(cfg *config.Config, store repository.Store, api app.SlackAPI, log logger.Logger) *app.Service {
	return app.New(
		app.WithLogger(log.Named("service")),
		app.WithStore(store),
		app.WithSlack(api),
		app.WithChannel(cfg.ChannelID),
		app.WithBotUserID(cfg.BotUserID),
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithQueueSize(cfg.EventQueueSize),
		app.WithDedupe(cfg.DedupeSize, cfg.DedupeTTL()),
		app.WithAttachmentWait(cfg.AttachmentWait()),
		app.WithScoreRetry(cfg.ScoreRetryAttempts, cfg.ScoreRetryBase(), cfg.ScoreRetryMax()),
		app.WithNotify(cfg.NotifyEnabled),
		app.WithFailedLedgerSize(cfg.FailedLedgerSize),
	)
}

func newHTTPServer(cfg *config.Config, svc *app.Service, log logger.Logger) *http.Server {
	mux := http.NewServeMux()
	swagger.Register(mux)

	apiServer := api.NewServer(svc,
		api.WithSigningSecret(cfg.SlackSigningSecret),
		api.WithAdminToken(cfg.AdminToken),
		api.WithMaxLimit(cfg.MaxLeaderboardLimit),
		api.WithLogger(log.Named("api")),
	)
	apiServer.Register(mux)

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.RequestIDMiddleware(mux),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater refreshes queue, dedupe and user gauges.
func startServiceMetricsUpdater(ctx context.Context, svc *app.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// GetStats updates the gauges as a side effect.
			_ = svc.GetStats(ctx)
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}
