package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	stdsync "sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/reybrally/customer-sync-service/internal/adapters/audit"
	httpHandlers "github.com/reybrally/customer-sync-service/internal/adapters/http/handlers"
	"github.com/reybrally/customer-sync-service/internal/adapters/notify"
	"github.com/reybrally/customer-sync-service/internal/adapters/queue"
	repoPkg "github.com/reybrally/customer-sync-service/internal/adapters/repo"
	syncapp "github.com/reybrally/customer-sync-service/internal/app/sync"
	"github.com/reybrally/customer-sync-service/internal/config"
	"github.com/reybrally/customer-sync-service/internal/logging"
	"github.com/reybrally/customer-sync-service/internal/metrics"
)

func main() {
	cfg := config.Load()
	logging.InitLogger()
	logging.LogInfo("starting "+cfg.App.Name, logrus.Fields{
		"pid":      os.Getpid(),
		"port":     cfg.HTTP.Port,
		"stream":   cfg.NATS.Stream,
		"consumer": cfg.NATS.Consumer,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := mustPG(ctx, cfg)
	repo := repoPkg.NewCustomerRepo(pool)
	svc := syncapp.NewSyncService(repo)

	// Missing staging schema is a configuration error: exit non-zero, do
	// not retry.
	if err := svc.Initialize(ctx); err != nil {
		logging.LogError("staging schema check failed", err, logrus.Fields{"db": cfg.DB.Name})
		os.Exit(1)
	}

	qc, err := queue.Connect(queue.Config{
		URL:           cfg.NATS.URL,
		Stream:        cfg.NATS.Stream,
		StreamMaxAge:  cfg.NATS.StreamMaxAge,
		StreamMaxMsgs: cfg.NATS.StreamMaxMsgs,
		Subjects:      cfg.NATS.Subjects,
		Consumer:      cfg.NATS.Consumer,
		MaxDeliver:    cfg.NATS.MaxDeliver,
		AckWait:       cfg.NATS.AckWait,
		ReconnectWait: cfg.NATS.ReconnectWait,
		ClientName:    cfg.App.Name,
	})
	if err != nil {
		logging.LogError("nats connect failed", err, logrus.Fields{"url": cfg.NATS.URL})
		os.Exit(1)
	}
	if err := qc.EnsureStream(ctx); err != nil {
		logging.LogError("stream provisioning failed", err, logrus.Fields{"stream": cfg.NATS.Stream})
		os.Exit(1)
	}
	if err := qc.EnsureConsumer(ctx); err != nil {
		logging.LogError("consumer provisioning failed", err, logrus.Fields{"consumer": cfg.NATS.Consumer})
		os.Exit(1)
	}

	auditor := audit.NewReporter(cfg.Audit.BaseURL, cfg.App.Name, cfg.Audit.Timeout)
	if cfg.Audit.BaseURL == "" {
		logging.LogInfo("audit reporting disabled", logrus.Fields{})
	}

	var notifier syncapp.Notifier
	var redisNotifier *notify.RedisNotifier
	if cfg.Notify.Backend == "redis" {
		redisNotifier = notify.NewRedisNotifier(notify.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Notify.Channel,
		})
		notifier = redisNotifier
		logging.LogInfo("redis notifier enabled", logrus.Fields{"addr": cfg.Redis.Addr, "channel": cfg.Notify.Channel})
	} else {
		notifier = notify.LogNotifier{}
	}

	pm := metrics.New(prometheus.DefaultRegisterer)

	proc := syncapp.NewProcessor(qc, svc, auditor, notifier, pm, syncapp.ProcessorConfig{
		ConsumerName: cfg.NATS.Consumer,
		Source:       cfg.App.Name,
		FetchTimeout: cfg.NATS.FetchTimeout,
		FetchBackoff: cfg.NATS.FetchBackoff,
		DLQSubject:   cfg.NATS.DLQSubject,
	})

	h := httpHandlers.NewHealthHandlers(proc, cfg.App.Name, cfg.App.Version, cfg.NATS.Stream, cfg.NATS.Consumer)

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, middleware.Timeout(5*time.Second))
	r.Get("/health", h.HealthHandler)
	r.Get("/info", h.InfoHandler)
	r.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logging.LogInfo("http server listening", logrus.Fields{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.LogError("http server ListenAndServe failed", err, logrus.Fields{"addr": srv.Addr})
			os.Exit(1)
		}
	}()

	proc.Start(ctx)

	// One teardown path for signals; the Once guard keeps a second signal
	// from double-running it.
	var shutdownOnce stdsync.Once
	shutdown := func(reason string) {
		shutdownOnce.Do(func() {
			logging.LogInfo("shutting down", logrus.Fields{"reason": reason})

			stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer stopCancel()
			if err := proc.Stop(stopCtx); err != nil {
				logging.LogError("processor stop timed out", err, logrus.Fields{})
			}

			qc.Close()
			if redisNotifier != nil {
				_ = redisNotifier.Close()
			}
			svc.Shutdown()

			shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shCancel()
			if err := srv.Shutdown(shCtx); err != nil {
				logging.LogError("http server shutdown failed", err, logrus.Fields{})
			}
			logging.LogInfo("bye", logrus.Fields{})
		})
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	shutdown(sig.String())
}

func mustPG(ctx context.Context, cfg config.Config) *pgxpool.Pool {
	dbURL := os.Getenv("DATABASE_URL")
	fields := logrus.Fields{}
	if dbURL == "" {
		dbURL = "postgres://" + cfg.DB.User + ":" + cfg.DB.Password + "@" +
			cfg.DB.Host + ":" + cfg.DB.Port + "/" + cfg.DB.Name + "?sslmode=" + cfg.DB.SSLMode
		fields = logrus.Fields{
			"source":  "env/defaults",
			"host":    cfg.DB.Host,
			"port":    cfg.DB.Port,
			"db_name": cfg.DB.Name,
		}
	} else {
		fields = logrus.Fields{"source": "DATABASE_URL"}
	}

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		logging.LogError("pgxpool.New failed", err, fields)
		os.Exit(1)
	}
	logging.LogInfo("pgx pool created", fields)
	return pool
}
