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

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"baobab/internal/app"
	"baobab/internal/applicationform/handler"
	formmetrics "baobab/internal/applicationform/metrics"
	"baobab/internal/audit"
	jwttoken "baobab/internal/jwt_token"
	"baobab/internal/platform/config"
	"baobab/internal/platform/httpserver"
	"baobab/internal/platform/kafka"
	"baobab/internal/platform/logger"
	"baobab/internal/platform/metrics"
	"baobab/internal/platform/ratelimit"
	"baobab/pkg/platform/httputil"
)

const shutdownTimeout = 10 * time.Second

// main wires dependencies and runs the HTTP server and the audit relay until
// SIGINT or SIGTERM. Business logic lives in internal packages.
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	httpMetrics := metrics.New()
	a, err := app.Build(ctx, cfg, log, app.WithSchema(), app.WithFormMetrics(formmetrics.New()))
	if err != nil {
		return err
	}
	defer a.Close()

	producer, err := kafka.New(cfg.Kafka)
	if err != nil {
		return err
	}
	if producer != nil {
		defer producer.Close()
		if err := producer.EnsureTopic(ctx, cfg.Kafka.Partitions, cfg.Kafka.Replicas); err != nil {
			return err
		}
	}

	jwtService := jwttoken.NewJWTService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer)
	r := chi.NewRouter()
	handler.New(a.Forms, log, httpMetrics, jwttoken.NewJWTServiceAdapter(jwtService),
		handler.WithRequestTimeout(cfg.Server.RequestTimeout),
		handler.WithWriteLimit(ratelimit.PerUser(ratelimit.NewSlidingWindow(), cfg.RateLimit.Writes, cfg.RateLimit.Window, log)),
	).Register(r)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := a.Health(r.Context()); err != nil {
			log.WarnContext(r.Context(), "health check failed", "error", err)
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	srv := httpserver.New(cfg.Server.Addr, r)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting baobab", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if producer != nil {
		worker := audit.NewWorker(a.Outbox, producer,
			audit.WithBatchSize(cfg.Kafka.BatchSize),
			audit.WithPollInterval(cfg.Kafka.PollInterval),
			audit.WithWorkerLogger(log),
			audit.WithRelayObserver(httpMetrics),
		)
		g.Go(func() error {
			if err := worker.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	} else {
		log.Warn("no kafka brokers configured, audit records stay in the outbox")
	}

	return g.Wait()
}
