// README: Cron-driven background jobs and the manager that starts and stops them together.
package jobs

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// JobManager coordinates all scheduled jobs in the service.
type JobManager struct {
	sweep   *SweepJob
	refresh *RefreshJob
}

func NewJobManager(sweep *SweepJob, refresh *RefreshJob) *JobManager {
	return &JobManager{sweep: sweep, refresh: refresh}
}

// StartAll starts every configured job; on failure the already started ones are stopped.
func (jm *JobManager) StartAll() error {
	if jm.refresh != nil {
		if err := jm.refresh.Start(); err != nil {
			return fmt.Errorf("failed to start refresh job: %w", err)
		}
	}
	if jm.sweep != nil {
		if err := jm.sweep.Start(); err != nil {
			if jm.refresh != nil {
				jm.refresh.Stop()
			}
			return fmt.Errorf("failed to start sweep job: %w", err)
		}
	}
	return nil
}

func (jm *JobManager) StopAll() {
	if jm.sweep != nil {
		jm.sweep.Stop()
	}
	if jm.refresh != nil {
		jm.refresh.Stop()
	}
}

// newCron skips a run while the previous one is still going.
func newCron() *cron.Cron {
	return cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
}

func stopCron(c *cron.Cron, logger *slog.Logger, msg string) {
	<-c.Stop().Done()
	logger.Info(msg)
}
