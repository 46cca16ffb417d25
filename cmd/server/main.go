// Command server runs the shadow-session security control plane.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"shadowgate/internal/anomaly/detector"
	anomalyservice "shadowgate/internal/anomaly/service"
	anomalystore "shadowgate/internal/anomaly/store"
	"shadowgate/internal/audit"
	"shadowgate/internal/audit/relay"
	auditstore "shadowgate/internal/audit/store"
	"shadowgate/internal/db/migrate"
	"shadowgate/internal/events/broadcaster"
	"shadowgate/internal/httpapi"
	lockoutservice "shadowgate/internal/lockout/service"
	lockoutstore "shadowgate/internal/lockout/store"
	opshandler "shadowgate/internal/ops/handler"
	"shadowgate/internal/platform/config"
	"shadowgate/internal/platform/httpserver"
	"shadowgate/internal/platform/logger"
	"shadowgate/internal/platform/metrics"
	"shadowgate/internal/platform/middleware"
	"shadowgate/internal/platform/postgres"
	platformredis "shadowgate/internal/platform/redis"
	"shadowgate/internal/ratelimit"
	ratelimithandler "shadowgate/internal/ratelimit/handler"
	ratelimitservice "shadowgate/internal/ratelimit/service"
	sessionhandler "shadowgate/internal/session/handler"
	sessionservice "shadowgate/internal/session/service"
	sessionstore "shadowgate/internal/session/store"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	cfg := config.FromEnv()
	log := logger.New()
	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate.Up(cfg.Postgres.URL); err != nil {
		log.Error("migrations failed", "error", err)
		return err
	}

	db, err := postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		log.Error("postgres unavailable", "error", err)
		return err
	}
	defer func() { _ = db.Close() }()

	// Broadcast backend selection. Anything unconfigured degrades to nop: the
	// control plane stays correct without delivery, just less responsive.
	var backend broadcaster.Broadcaster = broadcaster.Nop{}
	switch cfg.Broadcast.Backend {
	case "redis":
		redisClient, err := platformredis.New(cfg.Redis)
		if err != nil {
			log.Error("redis unavailable", "error", err)
			return err
		}
		if redisClient != nil {
			defer func() { _ = redisClient.Close() }()
			backend = broadcaster.NewRedis(redisClient.Client)
		}
	case "nats":
		conn, err := nats.Connect(cfg.NATS.URL)
		if err != nil {
			log.Error("nats unavailable", "error", err)
			return err
		}
		defer conn.Close()
		backend = broadcaster.NewNATS(conn)
	}
	notifier := broadcaster.NewFireAndForget(backend, log, cfg.Broadcast.Timeout,
		broadcaster.WithFailureHook(m.BroadcastFailures.Inc))

	// Audit pipeline: synchronous durable append, lossy Kafka export.
	auditStore := auditstore.NewPostgres(db)
	exportCh := make(chan audit.Entry, 1024)
	auditRelay, err := relay.New(cfg.Kafka, exportCh, log)
	if err != nil {
		log.Error("kafka relay setup failed", "error", err)
		return err
	}
	var publisherOpts []audit.PublisherOption
	if auditRelay != nil {
		publisherOpts = append(publisherOpts, audit.WithExport(exportCh))
	}
	auditLog := audit.NewPublisher(auditStore, publisherOpts...)

	sessionStore := sessionstore.NewPostgres(db)
	sessions, err := sessionservice.New(sessionStore,
		sessionservice.WithLogger(log),
		sessionservice.WithAuditPublisher(auditLog),
		sessionservice.WithNotifier(notifier),
	)
	if err != nil {
		return err
	}

	lockouts, err := lockoutservice.New(lockoutstore.NewPostgres(db),
		lockoutservice.WithLogger(log),
		lockoutservice.WithAuditPublisher(auditLog),
		lockoutservice.WithNotifier(notifier),
	)
	if err != nil {
		return err
	}

	anomalies, err := anomalyservice.New(anomalystore.NewPostgres(db),
		anomalyservice.WithLogger(log),
		anomalyservice.WithAuditPublisher(auditLog),
		anomalyservice.WithNotifier(notifier),
	)
	if err != nil {
		return err
	}

	rateLimits, err := ratelimitservice.New(
		ratelimit.NewPolicies(nil),
		ratelimit.NewTracker(auditStore),
		lockouts,
		ratelimitservice.WithLogger(log),
		ratelimitservice.WithAuditPublisher(auditLog),
		ratelimitservice.WithNotifier(notifier),
	)
	if err != nil {
		return err
	}

	det, err := detector.New(anomalies, sessionStore, auditStore, cfg.Detector.Interval,
		detector.WithLogger(log),
		detector.WithExpirer(sessions, cfg.Detector.SessionInactiveTTL),
		detector.WithAlertHook(func(alertType string) {
			m.AlertsRaised.WithLabelValues(alertType).Inc()
		}),
	)
	if err != nil {
		return err
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Logger:    log,
		Metrics:   m,
		Validator: middleware.NewJWTValidator(cfg.JWTSigningKey),
		Ops:       opshandler.New(sessions, lockouts, anomalies, rateLimits, m, log),
		Client:    sessionhandler.New(sessions, log),
		Internal:  ratelimithandler.New(rateLimits, m, log),
	})
	server := httpserver.New(cfg.Addr, router)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("control plane listening", "addr", cfg.Addr, "broadcast_backend", cfg.Broadcast.Backend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	group.Go(func() error {
		if err := det.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if auditRelay != nil {
		group.Go(func() error {
			if err := auditRelay.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("control plane exited", "error", err)
		return err
	}
	log.Info("control plane stopped")
	return nil
}
