package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"credpool-gateway/internal/breaker"
	"credpool-gateway/internal/catalog"
	"credpool-gateway/internal/config"
	"credpool-gateway/internal/constants"
	"credpool-gateway/internal/coordination"
	"credpool-gateway/internal/gateway"
	"credpool-gateway/internal/logging"
	"credpool-gateway/internal/retrydriver"
	"credpool-gateway/internal/runtime"
	"credpool-gateway/internal/scheduler"
	"credpool-gateway/internal/upstreamclient"
)

// geminiService is the catalog's "service" column value for this gateway's
// single upstream provider, per §1's scope (Gemini-style generative-content
// endpoints only).
const geminiService = "gemini"

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadWithFile(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	if err := logging.Setup(cfg); err != nil {
		log.WithError(err).Fatal("failed to configure logging")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := coordination.New(cfg.Coordination.RedisAddr, cfg.Coordination.RedisPassword, cfg.Coordination.RedisDB)
	defer store.Close()
	if err := store.Ping(ctx); err != nil {
		log.WithError(err).Fatal("failed to reach coordination store")
	}

	cat, err := catalog.Open(cfg.Catalog.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("failed to reach catalog database")
	}
	defer cat.Close()
	if err := cat.Migrate(); err != nil {
		log.WithError(err).Fatal("failed to apply catalog migrations")
	}

	sched := scheduler.New(store, cfg.Scheduler, cat, cfg.Scheduler.MaxFailures, nil)

	records, err := cat.ListCredentials(ctx, geminiService)
	if err != nil {
		log.WithError(err).Fatal("failed to list catalog credentials")
	}
	keys := make([]string, len(records))
	for i, r := range records {
		keys[i] = r.Key
	}
	if err := sched.Seed(ctx, keys, ""); err != nil {
		log.WithError(err).Fatal("failed to seed credential pool")
	}
	log.WithField("count", len(keys)).Info("seeded credential pool from catalog")

	globalBreaker := breaker.New(store, cfg.Scheduler.GlobalFailureThreshold, time.Duration(cfg.Scheduler.GlobalCooldownSeconds)*time.Second)
	upstream := upstreamclient.New(cfg.Upstream.BaseURL)
	driver := retrydriver.New(sched, globalBreaker, upstream, cfg.Scheduler.MaxRetries, cfg.Upstream.Timeout)

	tm := runtime.NewTaskManager(ctx)
	interval := time.Duration(cfg.Scheduler.ActivationIntervalMS) * time.Millisecond
	if err := sched.StartWorkers(tm, interval); err != nil {
		log.WithError(err).Fatal("failed to start key-activation worker")
	}

	engine := gateway.Build(gateway.Dependencies{
		Scheduler:   sched,
		Breaker:     globalBreaker,
		RetryDriver: driver,
		Store:       store,
		CatalogPing: cat.Ping,
		CatalogUpsert: func(ctx context.Context, key string) error {
			return cat.Upsert(ctx, key, geminiService)
		},
		OperatorToken:  cfg.Operator.Token,
		MetricsEnabled: cfg.Metrics.Enabled,
	})

	httpSrv := &http.Server{Addr: ":" + cfg.Server.Port, Handler: engine}
	go func() {
		log.Infof("credpool-gateway listening on :%s", cfg.Server.Port)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("http server stopped unexpectedly")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutdown signal received")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), constants.ServerShutdownTimeout)
	defer cancelShutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("graceful shutdown failed")
	}

	tm.StopAll()
	tm.Wait()
	log.Info("server stopped")
}
