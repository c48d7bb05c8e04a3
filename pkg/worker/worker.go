// Package worker runs processing loops against a docq queue.
//
// A worker claims pending tasks for one module, feeds them through the
// module's Process capability and stores the outcome: the result on
// success, the error text on failure. A failing task therefore never stays
// STARTED; it moves to ERROR where it can be inspected or reset.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/guido-cesarano/docq/pkg/logger"
	"github.com/guido-cesarano/docq/pkg/modules"
	"github.com/guido-cesarano/docq/pkg/queue"
)

// DefaultIdleSleep is how long a worker sleeps after finding the queue empty.
const DefaultIdleSleep = time.Second

// Prometheus metrics for task processing.
var (
	tasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docq_worker_processed_total",
		Help: "The total number of processed tasks",
	}, []string{"module", "outcome"})

	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "docq_worker_task_duration_seconds",
		Help:    "Duration of task processing",
		Buckets: prometheus.DefBuckets,
	}, []string{"module"})
)

// Worker processes tasks of a single module.
type Worker struct {
	client    queue.Client
	module    modules.Module
	idleSleep time.Duration
	id        string
}

// New creates a worker for the given module. idleSleep <= 0 uses
// DefaultIdleSleep.
func New(client queue.Client, module modules.Module, idleSleep time.Duration) *Worker {
	if idleSleep <= 0 {
		idleSleep = DefaultIdleSleep
	}
	return &Worker{
		client:    client,
		module:    module,
		idleSleep: idleSleep,
		id:        uuid.NewString(),
	}
}

// Run claims and processes tasks until the context is cancelled. A cron
// schedule probes the module's backing service every minute and logs when
// it is unreachable; the loop itself keeps going, tasks will simply fail
// into ERROR until the service recovers.
func (w *Worker) Run(ctx context.Context) error {
	log := logger.Log.With().
		Str("worker_id", w.id).
		Str("module", w.module.Name()).
		Logger()
	log.Info().Msg("Worker started")

	c := cron.New()
	c.AddFunc("@every 1m", func() {
		if err := w.module.CheckStatus(ctx); err != nil {
			log.Warn().Err(err).Msg("Module health check failed")
		}
	})
	c.Start()
	defer c.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Worker stopped")
			return ctx.Err()
		default:
		}

		task, err := w.client.GetTask(ctx, w.module.Name())
		if err != nil {
			log.Error().Err(err).Msg("Claim failed")
			w.sleep(ctx)
			continue
		}
		if task == nil {
			w.sleep(ctx)
			continue
		}
		w.process(ctx, log, task.ID, task.Doc)
	}
}

func (w *Worker) process(ctx context.Context, log zerolog.Logger, id, doc string) {
	start := time.Now()
	result, err := w.module.Process(doc)
	taskDuration.WithLabelValues(w.module.Name()).Observe(time.Since(start).Seconds())

	if err != nil {
		log.Error().Err(err).Str("task_id", id).Msg("Task failed")
		if serr := w.client.StoreError(ctx, w.module.Name(), id, err.Error()); serr != nil {
			log.Error().Err(serr).Str("task_id", id).Msg("Storing error failed")
		}
		tasksProcessed.WithLabelValues(w.module.Name(), "error").Inc()
		return
	}
	if serr := w.client.StoreResult(ctx, w.module.Name(), id, result); serr != nil {
		log.Error().Err(serr).Str("task_id", id).Msg("Storing result failed")
		tasksProcessed.WithLabelValues(w.module.Name(), "error").Inc()
		return
	}
	log.Debug().Str("task_id", id).Dur("duration", time.Since(start)).Msg("Task done")
	tasksProcessed.WithLabelValues(w.module.Name(), "done").Inc()
}

func (w *Worker) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(w.idleSleep):
	}
}

// RunAll starts one worker per module name and blocks until all stop
// (normally on context cancellation). Unknown module names fail fast.
func RunAll(ctx context.Context, client queue.Client, reg *modules.Registry, names []string, idleSleep time.Duration) error {
	workers := make([]*Worker, 0, len(names))
	for _, name := range names {
		m, err := reg.Get(name)
		if err != nil {
			return err
		}
		workers = append(workers, New(client, m, idleSleep))
	}

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.Run(ctx)
		}(w)
	}
	wg.Wait()
	return nil
}
