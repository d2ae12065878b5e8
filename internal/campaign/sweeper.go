package campaign

import (
	"context"
	"fmt"
	"log/slog"

	"campaign-dispatch/internal/logger"

	"github.com/robfig/cron/v3"
)

// cronParser accepts 5-field expressions and descriptors like "@every 30s".
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// HealthChecker health-checks every active provider.
type HealthChecker interface {
	CheckAll(ctx context.Context)
}

// Sweeper runs the campaign sweep and the provider health checks on cron schedules.
type Sweeper struct {
	cron *cron.Cron
	log  *slog.Logger
}

func NewSweeper(ctrl *Controller, health HealthChecker, sweepSchedule, healthSchedule string, log *slog.Logger) (*Sweeper, error) {
	log = logger.OrDefault(log).With("component", "sweeper")
	s := &Sweeper{
		cron: cron.New(cron.WithParser(cronParser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		log:  log,
	}

	ctx := context.Background()
	if _, err := s.cron.AddFunc(sweepSchedule, func() {
		if err := ctrl.Sweep(ctx); err != nil {
			log.Error("campaign sweep", "error", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("sweep schedule %q: %w", sweepSchedule, err)
	}

	if health != nil && healthSchedule != "" {
		if _, err := s.cron.AddFunc(healthSchedule, func() { health.CheckAll(ctx) }); err != nil {
			return nil, fmt.Errorf("health check schedule %q: %w", healthSchedule, err)
		}
	}
	return s, nil
}

// Run starts the schedules and blocks until ctx is done and running jobs finish.
func (s *Sweeper) Run(ctx context.Context) error {
	s.cron.Start()
	s.log.Info("sweeper started", "entries", len(s.cron.Entries()))
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}
