// README: Periodic sweep that retries assignment for pending orders.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"dispatch/internal/metrics"
	"dispatch/internal/modules/assignment"
)

type Sweeper interface {
	Sweep(ctx context.Context, limit int) (assignment.SweepResult, error)
}

type SweepJob struct {
	sweeper Sweeper
	spec    string
	batch   int
	timeout time.Duration
	cron    *cron.Cron
	logger  *slog.Logger
}

func NewSweepJob(sweeper Sweeper, spec string, batch int, logger *slog.Logger) *SweepJob {
	return &SweepJob{
		sweeper: sweeper,
		spec:    spec,
		batch:   batch,
		timeout: time.Minute,
		cron:    newCron(),
		logger:  logger.With("component", "sweep_job"),
	}
}

func (j *SweepJob) Start() error {
	if _, err := j.cron.AddFunc(j.spec, func() { j.Run(context.Background()) }); err != nil {
		return err
	}
	j.cron.Start()
	j.logger.Info("sweep job started", "spec", j.spec, "batch", j.batch)
	return nil
}

func (j *SweepJob) Stop() {
	stopCron(j.cron, j.logger, "sweep job stopped")
}

// Run performs one sweep; errors are logged, never propagated to the scheduler.
func (j *SweepJob) Run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()
	res, err := j.sweeper.Sweep(ctx, j.batch)
	if err != nil {
		metrics.JobRuns.WithLabelValues("sweep", "error").Inc()
		j.logger.ErrorContext(ctx, "sweep failed", "error", err, "assigned", res.Assigned)
		return
	}
	metrics.JobRuns.WithLabelValues("sweep", "ok").Inc()
	if res.Assigned+res.NotAssigned > 0 {
		j.logger.InfoContext(ctx, "sweep finished", "assigned", res.Assigned, "not_assigned", res.NotAssigned)
	}
}
