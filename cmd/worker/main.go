package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jwalitptl/recordflow/internal/alert"
	"github.com/jwalitptl/recordflow/internal/config"
	"github.com/jwalitptl/recordflow/internal/enrichment"
	adminhandler "github.com/jwalitptl/recordflow/internal/handler/admin"
	healthhandler "github.com/jwalitptl/recordflow/internal/handler/health"
	"github.com/jwalitptl/recordflow/internal/pipeline"
	"github.com/jwalitptl/recordflow/internal/repository/postgres"
	"github.com/jwalitptl/recordflow/internal/router"
	auditservice "github.com/jwalitptl/recordflow/internal/service/audit"
	eventservice "github.com/jwalitptl/recordflow/internal/service/event"
	"github.com/jwalitptl/recordflow/internal/worker"
	"github.com/jwalitptl/recordflow/pkg/idgen"
	"github.com/jwalitptl/recordflow/pkg/logger"
	"github.com/jwalitptl/recordflow/pkg/messaging"
	messagingredis "github.com/jwalitptl/recordflow/pkg/messaging/redis"
	"github.com/jwalitptl/recordflow/pkg/metrics"
)

func main() {
	log := logger.NewLogger(nil)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err, "failed to load config")
	}
	env, err := config.LoadWorkerEnv()
	if err != nil {
		log.Fatal(err, "failed to load worker env")
	}

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal(err, "failed to connect to database")
	}
	defer db.Close()
	store := postgres.NewStore(db)

	// The broker is a wake-hint optimization; a worker without redis
	// still makes progress on the poll timeout.
	var broker messaging.Broker
	if cfg.Redis.URL != "" {
		broker, err = messagingredis.NewRedisBroker(messagingredis.Config{
			URL:          cfg.Redis.URL,
			MaxRetries:   cfg.Redis.MaxRetries,
			RetryBackoff: cfg.Redis.RetryBackoff,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		}, &log.ZL)
		if err != nil {
			log.Warn("redis unavailable, continuing in poll-only mode", "error", err.Error())
			broker = nil
		} else {
			defer broker.Close()
		}
	}

	m := metrics.New("recordflow")
	auditor := auditservice.NewService()
	client := enrichment.NewClient(cfg.Enrichment, log)

	intake := eventservice.NewService(store, idgen.New(), auditor, broker, log)
	intake.SetMetrics(m)

	dispatcher := pipeline.NewDispatcher(log)
	pipeline.RegisterStages(dispatcher, store, pipeline.Deps{
		Auditor:     auditor,
		Validator:   client,
		Enricher:    client,
		Verifier:    client,
		IDGen:       idgen.New(),
		MaxAttempts: cfg.Pipeline.MaxAttempts,
	})

	var notifier alert.Notifier = alert.Nop{}
	if cfg.SMTP.Host != "" {
		notifier = alert.NewMailer(cfg.SMTP, log)
	}

	retryManager := pipeline.NewRetryManager(store, notifier, pipeline.RetryConfig{
		MaxAttempts: cfg.Pipeline.MaxAttempts,
		BaseDelay:   cfg.Pipeline.BaseDelay,
	}, log)
	retryManager.SetMetrics(m)

	workerID := generateWorkerID(env.IDPrefix)
	processor := worker.NewProcessor(store, dispatcher, retryManager, broker, worker.Config{
		WorkerID:             workerID,
		PollInterval:         cfg.Pipeline.PollInterval,
		DispatchTimeout:      cfg.Pipeline.DispatchTimeout,
		ClaimLivenessTimeout: cfg.Pipeline.ClaimLivenessTimeout,
	}, log, m)

	sweeper := worker.NewSweeper(store.Events(), 30*time.Second, cfg.Pipeline.ClaimLivenessTimeout, log, m)

	engine := router.New(cfg.Admin,
		adminhandler.NewHandler(store, intake, log),
		healthhandler.NewHandler(db.PingContext),
		log,
	)
	addr := cfg.Admin.Addr
	if addr == "" {
		addr = env.HealthAddr
	}
	httpServer := &http.Server{Addr: addr, Handler: engine}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err, "admin server failed")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("shutting down")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	go sweeper.Run(ctx)
	processor.Run(ctx)
}

func generateWorkerID(prefix string) string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s-%s-%d", prefix, hostname, os.Getpid())
}
