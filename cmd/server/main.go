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

	"campaign-dispatch/internal/api"
	"campaign-dispatch/internal/campaign"
	"campaign-dispatch/internal/config"
	"campaign-dispatch/internal/database"
	"campaign-dispatch/internal/jobqueue"
	"campaign-dispatch/internal/logger"
	"campaign-dispatch/internal/metrics"
	"campaign-dispatch/internal/registry"
	"campaign-dispatch/internal/repository"
	"campaign-dispatch/internal/scheduler"
	"campaign-dispatch/internal/secrets"
	"campaign-dispatch/internal/templates"
	"campaign-dispatch/internal/webhook"
	"campaign-dispatch/internal/ws"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.LoadConfig()
	log := logger.Setup(cfg.Env)
	if err := run(cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.Open(cfg)
	if err != nil {
		return err
	}

	box, err := openBox(cfg, log)
	if err != nil {
		return err
	}
	if err := database.SeedDefaultProvider(db, cfg, box); err != nil {
		return err
	}

	store := repository.NewStore(db)
	reg := registry.New(store.Providers, box, log)

	jobs, closeJobs, err := openJobQueue(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeJobs()

	events, closeEvents, err := openWebhookQueue(cfg, log)
	if err != nil {
		return err
	}
	defer closeEvents()

	hub := ws.NewHub(log)

	sched := scheduler.New(scheduler.Deps{
		Campaigns:  store.Campaigns,
		Contacts:   store.Contacts,
		Logs:       store.Logs,
		Pending:    store.Pending,
		Queue:      jobs,
		Sender:     reg,
		Renderer:   templates.NewRenderer(store.Templates),
		Compliance: store.Suppression,
		Notifier:   hub,
	}, scheduler.Config{
		MinStepDelay: cfg.MinStepDelay,
		SendTimeout:  cfg.SendTimeout,
		Retry: scheduler.RetryPolicy{
			MaxAttempts: cfg.RetryMaxAttempts,
			Initial:     cfg.RetryInitialBackoff,
			Max:         cfg.RetryMaxBackoff,
		},
	}, log)

	ctrl := campaign.NewController(campaign.Deps{
		Campaigns: store.Campaigns,
		Contacts:  store.Contacts,
		Logs:      store.Logs,
		Pending:   store.Pending,
		Queue:     jobs,
		Scheduler: sched,
		Notifier:  hub,
	}, campaign.Config{
		FanOutConcurrency: cfg.FanOutConcurrency,
		CompletionGrace:   cfg.CompletionGrace,
		RecoveryGrace:     cfg.RecoveryGrace,
	}, log)

	ingestor := webhook.NewIngestor(reg, store.Logs, store.WebhookEvents, hub, log)

	metrics.Register()
	router := api.NewRouter(api.Handlers{
		Campaigns: api.NewCampaignHandler(ctrl),
		Providers: api.NewProviderHandler(store.Providers, reg),
		Webhooks:  webhook.NewHandler(reg, store.WebhookEvents, events, log),
		Hub:       hub,
	})
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error { return events.Consume(gctx, ingestor.Ingest) })

	if cfg.RunWorkers {
		sweeper, err := campaign.NewSweeper(ctrl, reg, cfg.SweepSchedule, cfg.HealthCheckSchedule, log)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return jobs.Run(gctx, sched.Handle)
		})
		g.Go(func() error { return sweeper.Run(gctx) })
	} else {
		log.Info("job workers disabled, serving API only")
	}

	g.Go(func() error {
		log.Info("server starting", "port", cfg.Port, "env", cfg.Env, "job_queue", cfg.JobQueue, "webhook_queue", cfg.WebhookQueue)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	ctrl.Wait()
	log.Info("server stopped")
	return err
}

func openBox(cfg *config.Config, log *slog.Logger) (*secrets.Box, error) {
	key := cfg.EncryptionKey
	if key == "" {
		if cfg.Env != "local" {
			return nil, errors.New("ENCRYPTION_KEY is required outside local")
		}
		generated, err := secrets.GenerateKey()
		if err != nil {
			return nil, err
		}
		log.Warn("ENCRYPTION_KEY not set, using a throwaway key; stored credentials will not survive a restart")
		key = generated
	}
	return secrets.NewBox(key)
}

func openJobQueue(ctx context.Context, cfg *config.Config, log *slog.Logger) (jobqueue.Queue, func(), error) {
	switch cfg.JobQueue {
	case "redis":
		q, err := jobqueue.NewRedisFromURL(ctx, cfg.RedisURL, cfg.Workers, log)
		if err != nil {
			return nil, nil, err
		}
		q.DrainTimeout = cfg.DrainTimeout
		return q, func() {
			if err := q.Close(); err != nil {
				log.Warn("close redis", "error", err)
			}
		}, nil
	case "memory", "":
		q := jobqueue.NewMemory(cfg.Workers)
		q.DrainTimeout = cfg.DrainTimeout
		return q, func() {}, nil
	}
	return nil, nil, errors.New("unknown JOB_QUEUE " + cfg.JobQueue)
}

func openWebhookQueue(cfg *config.Config, log *slog.Logger) (webhook.Queue, func(), error) {
	switch cfg.WebhookQueue {
	case "amqp":
		q, err := webhook.NewAMQPQueue(cfg.AMQPURL, "", log)
		if err != nil {
			return nil, nil, err
		}
		return q, func() {
			if err := q.Close(); err != nil {
				log.Warn("close amqp", "error", err)
			}
		}, nil
	case "memory", "":
		return webhook.NewMemoryQueue(1024), func() {}, nil
	}
	return nil, nil, errors.New("unknown WEBHOOK_QUEUE " + cfg.WebhookQueue)
}
