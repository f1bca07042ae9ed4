// sessiond serves the session refresh API over HTTP.
//
// Configuration comes from the environment and an optional .env file; see
// internal/config for the keys. Prometheus text metrics are served on
// /metrics and a liveness check on /healthz.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/api"
	"github.com/MrEthical07/goSession/audit/kafkasink"
	"github.com/MrEthical07/goSession/internal/config"
	promexport "github.com/MrEthical07/goSession/metrics/export/prometheus"
	"github.com/MrEthical07/goSession/session"
	"github.com/MrEthical07/goSession/session/sqlstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("sessiond stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return err
	}
	if cfg.TokenEphemeralKey && cfg.TokenPrivateKey == "" {
		logger.Warn("using an ephemeral signing key; issued tokens will not survive a restart")
	}

	builder := goSession.New().WithConfig(engineCfg).WithLogger(logger)

	// ---------- backends ----------
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		if err := waitReady(ctx, "redis", logger, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}); err != nil {
			return err
		}
		builder.WithRedis(rdb)
	}

	var purge func(context.Context, time.Time) (int64, error)
	switch cfg.Store {
	case config.StoreMemory:
		mem := session.NewMemoryStore()
		builder.WithStore(mem)
		purge = func(_ context.Context, now time.Time) (int64, error) {
			return int64(mem.PurgeExpired(now)), nil
		}
	case config.StoreRedis:
		// the builder creates the Redis store from the client
	case config.StorePostgres, config.StoreSQLite:
		dialect, dsn := sqlstore.DialectPostgres, cfg.DatabaseURL
		if cfg.Store == config.StoreSQLite {
			dialect, dsn = sqlstore.DialectSQLite, "file:"+cfg.SQLitePath
		}
		var store *sqlstore.Store
		if err := waitReady(ctx, cfg.Store, logger, func(ctx context.Context) error {
			s, err := sqlstore.Open(ctx, dialect, dsn)
			if err != nil {
				return err
			}
			store = s
			return nil
		}); err != nil {
			return err
		}
		defer store.Close()
		builder.WithStore(store)
		purge = store.PurgeExpired
	}

	// ---------- audit ----------
	var sinks fanoutSink
	if brokers := cfg.KafkaBrokersList(); len(brokers) > 0 {
		kafka, err := kafkasink.New(brokers, cfg.KafkaAuditTopic, logger)
		if err != nil {
			return err
		}
		defer kafka.Close()
		sinks = append(sinks, kafka)
	}
	if cfg.AuditLog {
		sinks = append(sinks, goSession.NewSlogSink(logger))
	}
	if len(sinks) > 0 {
		builder.WithAuditSink(sinks)
	}

	engine, err := builder.Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	report := engine.SecurityReport()
	logger.Info("engine ready",
		"signing_algorithm", report.SigningAlgorithm,
		"access_ttl", report.AccessTTL,
		"refresh_ttl", report.RefreshTTL,
		"grace_window", report.GraceWindow,
		"refresh_throttle", report.RefreshThrottleActive,
		"revoke_all_on_theft", report.RevokeAllOnTheft,
		"audit", report.AuditEnabled,
	)

	// ---------- routes ----------
	handler, err := api.NewHandler(engine, cfg.CookiePolicy(), logger)
	if err != nil {
		return err
	}
	r := chi.NewRouter()
	r.Handle("/metrics", promexport.NewPrometheusExporter(engine).Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Mount("/", handler.Routes())

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	if purge != nil && cfg.PurgeInterval > 0 {
		go runPurge(ctx, cfg.PurgeInterval, logger, purge)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("sessiond listening", "addr", cfg.Addr, "store", cfg.Store)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if dropped := engine.AuditDropped(); dropped > 0 {
		logger.Warn("audit events dropped", "count", dropped, "by_type", engine.AuditDroppedByType())
	}
	return nil
}

// waitReady retries ping with exponential backoff until the backend answers,
// ctx ends, or thirty seconds pass.
func waitReady(ctx context.Context, name string, logger *slog.Logger, ping func(context.Context) error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 500 * time.Millisecond
	eb.Multiplier = 2
	eb.MaxInterval = 5 * time.Second
	eb.MaxElapsedTime = 30 * time.Second

	return backoff.RetryNotify(func() error {
		return ping(ctx)
	}, backoff.WithContext(eb, ctx), func(err error, next time.Duration) {
		logger.Warn("backend not ready", "backend", name, "retry_in", next, "error", err)
	})
}

func runPurge(ctx context.Context, interval time.Duration, logger *slog.Logger, purge func(context.Context, time.Time) (int64, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := purge(ctx, now)
			if err != nil {
				logger.Warn("purge expired sessions failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Debug("purged expired sessions", "count", n)
			}
		}
	}
}

// fanoutSink delivers each audit event to every sink in order.
type fanoutSink []goSession.AuditSink

func (f fanoutSink) Emit(ctx context.Context, event goSession.AuditEvent) {
	for _, sink := range f {
		sink.Emit(ctx, event)
	}
}
