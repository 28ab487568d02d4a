// Package worker runs the wake-consuming worker pool. Workers are stateless:
// every claim re-derives work from the durable queue, so any worker may handle
// any conversation's wake.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/supportdeck/agent-server/internal/domain/dispatch"
	"github.com/supportdeck/agent-server/internal/infrastructure/metrics"
)

// DepthReader reports the total pending trigger count.
type DepthReader interface {
	Depth(ctx context.Context) (int64, error)
}

// Pool manages the wake-polling workers.
type Pool struct {
	workers         []*Worker
	wakes           WakeSource
	leases          LeaseManager
	dispatcher      *dispatch.Dispatcher
	depth           DepthReader
	workerCount     int
	pollInterval    time.Duration
	drainTimeout    time.Duration
	shutdownTimeout time.Duration
	log             zerolog.Logger
	wg              sync.WaitGroup
	stopChan        chan struct{}
}

// Config contains worker pool configuration.
type Config struct {
	WorkerCount     int
	PollInterval    time.Duration
	DrainTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// NewPool creates a new worker pool.
func NewPool(
	wakes WakeSource,
	leases LeaseManager,
	dispatcher *dispatch.Dispatcher,
	depth DepthReader,
	cfg Config,
	log zerolog.Logger,
) *Pool {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	return &Pool{
		wakes:           wakes,
		leases:          leases,
		dispatcher:      dispatcher,
		depth:           depth,
		workerCount:     cfg.WorkerCount,
		pollInterval:    cfg.PollInterval,
		drainTimeout:    cfg.DrainTimeout,
		shutdownTimeout: cfg.ShutdownTimeout,
		log:             log.With().Str("component", "worker-pool").Logger(),
		stopChan:        make(chan struct{}),
	}
}

// Start launches all workers plus the queue depth reporter.
func (p *Pool) Start(ctx context.Context) error {
	p.log.Info().Int("worker_count", p.workerCount).Msg("starting worker pool")

	p.workers = make([]*Worker, p.workerCount)
	for i := 0; i < p.workerCount; i++ {
		worker := NewWorker(i+1, p.wakes, p.leases, p.dispatcher, p.pollInterval, p.drainTimeout, p.log)
		p.workers[i] = worker

		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Start(ctx)
		}(worker)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.reportDepth(ctx)
	}()

	p.log.Info().Msg("worker pool started")
	return nil
}

// Stop gracefully shuts down all workers.
func (p *Pool) Stop() {
	p.log.Info().Msg("stopping worker pool")

	close(p.stopChan)
	for _, worker := range p.workers {
		worker.Stop()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.log.Info().Msg("all workers stopped gracefully")
	case <-time.After(p.shutdownTimeout):
		p.log.Warn().Msg("worker pool shutdown timed out")
	}
}

func (p *Pool) reportDepth(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopChan:
			return
		case <-ticker.C:
			depth, err := p.depth.Depth(ctx)
			if err != nil {
				p.log.Warn().Err(err).Msg("failed to read queue depth")
				continue
			}
			metrics.QueueDepth.Set(float64(depth))
		}
	}
}
