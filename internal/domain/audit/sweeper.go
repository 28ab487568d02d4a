// Package audit reconciles durable queue state with the wake schedule. Wakes
// are at-least-once hints; when one is lost, the sweep finds conversations
// whose pending triggers have been sitting too long and wakes them again.
package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/supportdeck/agent-server/internal/domain/dispatch"
	"github.com/supportdeck/agent-server/internal/infrastructure/metrics"
)

// StuckFinder lists conversations with pending triggers older than cutoff.
type StuckFinder interface {
	StuckConversations(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
}

// Config holds sweeper tuning.
type Config struct {
	// StuckAfter is how long a pending trigger may wait before the sweep
	// considers its wake lost.
	StuckAfter time.Duration
	// BatchLimit caps conversations handled per sweep.
	BatchLimit int
	// Concurrency bounds parallel wake scheduling.
	Concurrency int
}

// Sweeper re-schedules wakes for stuck conversations.
type Sweeper struct {
	finder    StuckFinder
	scheduler dispatch.WakeScheduler
	cfg       Config
	clock     func() time.Time
	log       zerolog.Logger
}

// NewSweeper builds a sweeper.
func NewSweeper(finder StuckFinder, scheduler dispatch.WakeScheduler, cfg Config, log zerolog.Logger) *Sweeper {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 200
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &Sweeper{
		finder:    finder,
		scheduler: scheduler,
		cfg:       cfg,
		clock:     time.Now,
		log:       log.With().Str("component", "sweeper").Logger(),
	}
}

// Sweep runs one reconciliation pass and returns how many conversations were
// woken. Waking a conversation that is actually fine is harmless: the drain
// finds an empty queue or loses the lease and walks away.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.clock().Add(-s.cfg.StuckAfter)
	stuck, err := s.finder.StuckConversations(ctx, cutoff, s.cfg.BatchLimit)
	if err != nil {
		return 0, err
	}
	if len(stuck) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, conversationID := range stuck {
		g.Go(func() error {
			return s.scheduler.ScheduleWake(gctx, conversationID, 0)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	metrics.SweepRescheduledTotal.Add(float64(len(stuck)))
	s.log.Info().Int("conversations", len(stuck)).Msg("re-scheduled wakes for stuck conversations")
	return len(stuck), nil
}
