// Package dispatcher manages runner fan-out over the scrape queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/StamperDavid/prospect-intel/internal/queue"
	"github.com/StamperDavid/prospect-intel/internal/scrape"
	"github.com/StamperDavid/prospect-intel/internal/worker"
)

// Config controls worker fan-out.
type Config struct {
	// Workers is the number of concurrent runner loops in this process.
	Workers int
	// MaxConcurrent caps in-flight jobs; Workers is clamped to it.
	MaxConcurrent int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 5
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 50
	}
	if c.Workers > c.MaxConcurrent {
		c.Workers = c.MaxConcurrent
	}
	return c
}

// Dispatcher fans queue work out to a pool of runner loops. The Runner is
// safe for concurrent use, so every loop shares one instance.
type Dispatcher struct {
	queue  *queue.Queue
	runner *worker.Runner
	cfg    Config
	logger *zap.Logger
}

// New creates a Dispatcher.
func New(q *queue.Queue, runner *worker.Runner, cfg Config, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:  q,
		runner: runner,
		cfg:    cfg.withDefaults(),
		logger: logger,
	}
}

// Run starts the worker pool and blocks until the context finishes and all
// runners have drained.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("starting worker pool", zap.Int("workers", d.cfg.Workers))
	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.runner.Run(ctx)
		}()
	}
	<-ctx.Done()
	wg.Wait()
	d.logger.Info("worker pool stopped")
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(config scrape.JobConfig) error {
	if err := d.queue.Enqueue(config); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
