// README: Periodic reload of zones and the prep table from their sources.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"dispatch/internal/metrics"
)

// Reloader swaps one reference data set and reports how many entries it installed.
type Reloader struct {
	Name   string
	Reload func(ctx context.Context) (int, error)
}

type RefreshJob struct {
	reloaders []Reloader
	spec      string
	timeout   time.Duration
	cron      *cron.Cron
	logger    *slog.Logger
}

func NewRefreshJob(spec string, logger *slog.Logger, reloaders ...Reloader) *RefreshJob {
	return &RefreshJob{
		reloaders: reloaders,
		spec:      spec,
		timeout:   30 * time.Second,
		cron:      newCron(),
		logger:    logger.With("component", "refresh_job"),
	}
}

func (j *RefreshJob) Start() error {
	if _, err := j.cron.AddFunc(j.spec, func() { j.Run(context.Background()) }); err != nil {
		return err
	}
	j.cron.Start()
	j.logger.Info("refresh job started", "spec", j.spec)
	return nil
}

func (j *RefreshJob) Stop() {
	stopCron(j.cron, j.logger, "refresh job stopped")
}

// Run reloads every source. A failing source keeps its previous data active.
func (j *RefreshJob) Run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()
	for _, r := range j.reloaders {
		n, err := r.Reload(ctx)
		if err != nil {
			metrics.JobRuns.WithLabelValues("refresh_"+r.Name, "error").Inc()
			j.logger.ErrorContext(ctx, "reference data reload failed", "source", r.Name, "error", err)
			continue
		}
		metrics.JobRuns.WithLabelValues("refresh_"+r.Name, "ok").Inc()
		j.logger.DebugContext(ctx, "reference data reloaded", "source", r.Name, "entries", n)
	}
}
