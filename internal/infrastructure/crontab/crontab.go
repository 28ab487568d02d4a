// Package crontab schedules the periodic reconciliation sweep.
package crontab

import (
	"context"
	"fmt"
	"time"

	"github.com/mileusna/crontab"
	"github.com/rs/zerolog"

	"github.com/supportdeck/agent-server/internal/domain/audit"
)

const jobTimeout = 2 * time.Minute

// Crontab runs the sweep on a fixed schedule.
type Crontab struct {
	ctab            *crontab.Crontab
	sweeper         *audit.Sweeper
	intervalMinutes int
	log             zerolog.Logger
}

// New builds the cron runner.
func New(sweeper *audit.Sweeper, intervalMinutes int, log zerolog.Logger) *Crontab {
	if intervalMinutes <= 0 {
		intervalMinutes = 5
	}
	return &Crontab{
		ctab:            crontab.New(),
		sweeper:         sweeper,
		intervalMinutes: intervalMinutes,
		log:             log.With().Str("component", "crontab").Logger(),
	}
}

// Run blocks until ctx is cancelled. One sweep runs immediately on start to
// recover conversations stranded by a previous crash.
func (c *Crontab) Run(ctx context.Context) error {
	c.runSweep(ctx)

	cronExpr := fmt.Sprintf("*/%d * * * *", c.intervalMinutes)
	if err := c.ctab.AddJob(cronExpr, func() {
		jobCtx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		c.runSweep(jobCtx)
	}); err != nil {
		return fmt.Errorf("add sweep job: %w", err)
	}
	c.log.Info().Str("schedule", cronExpr).Msg("reconciliation sweep scheduled")

	<-ctx.Done()
	c.ctab.Shutdown()
	return nil
}

func (c *Crontab) runSweep(ctx context.Context) {
	if _, err := c.sweeper.Sweep(ctx); err != nil {
		c.log.Error().Err(err).Msg("reconciliation sweep failed")
	}
}
