// Package dispatcher runs the supervised fill worker pool and schedules fills without
// blocking request handlers.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/adsnap/internal/ads"
	"github.com/JakeFAU/adsnap/internal/metrics"
)

// Runner consumes fill tasks until its context ends.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher fans out queued fills to a pool of workers and deduplicates in-flight weeks.
type Dispatcher struct {
	queue    ads.FillQueue
	workers  []Runner
	inFlight sync.Map
	logger   *zap.Logger
}

// New creates a Dispatcher.
func New(queue ads.FillQueue, workers []Runner, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		logger:  logger.Named("dispatcher"),
	}
}

// Run starts all workers and blocks until the context finishes and every worker has
// returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk Runner) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Schedule queues a fill for weekKey unless one is already queued or running, or the
// queue is full. It never blocks.
func (d *Dispatcher) Schedule(weekKey string, data ads.Response) bool {
	if _, loaded := d.inFlight.LoadOrStore(weekKey, struct{}{}); loaded {
		metrics.ObserveSchedule("in_flight")
		d.logger.Debug("fill already in flight", zap.String("week_end", weekKey))
		return false
	}

	var once sync.Once
	task := ads.FillTask{
		WeekKey:  weekKey,
		Data:     data.Clone(),
		Enqueued: time.Now().UTC(),
		Done: func() {
			once.Do(func() { d.inFlight.Delete(weekKey) })
		},
	}
	if err := d.queue.TryEnqueue(task); err != nil {
		d.inFlight.Delete(weekKey)
		metrics.ObserveSchedule("queue_full")
		d.logger.Warn("fill not scheduled", zap.String("week_end", weekKey), zap.Error(err))
		return false
	}
	metrics.ObserveSchedule("scheduled")
	d.logger.Debug("fill scheduled", zap.String("week_end", weekKey))
	return true
}

// InFlight reports whether a fill for weekKey is queued or running.
func (d *Dispatcher) InFlight(weekKey string) bool {
	_, ok := d.inFlight.Load(weekKey)
	return ok
}

// Enqueue blocks until the task is queued, bypassing deduplication. Used by batch
// backfills that want every week processed.
func (d *Dispatcher) Enqueue(ctx context.Context, task ads.FillTask) error {
	if err := d.queue.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
