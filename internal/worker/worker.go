package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tylercunnion/go-replay/backend"
	"github.com/tylercunnion/go-replay/backend/metrics"
	"github.com/tylercunnion/go-replay/internal/log"
	"github.com/tylercunnion/go-replay/internal/metrickeys"
	"github.com/tylercunnion/go-replay/replay"
	"github.com/tylercunnion/go-replay/replay/cache"
)

// TaskSource supplies decision tasks and receives their results. It must
// guarantee that incremental tasks for a run are only delivered after a
// full-history task for the same run was processed by this worker, and that
// at most one task per run is outstanding at a time.
type TaskSource interface {
	// GetDecisionTask blocks until a task is available or ctx is done. A
	// nil task with a nil error means no task was available.
	GetDecisionTask(ctx context.Context) (*backend.DecisionTask, error)

	CompleteDecisionTask(ctx context.Context, t *backend.DecisionTask, result *replay.DecisionResult) error

	FailDecisionTask(ctx context.Context, t *backend.DecisionTask, taskErr error) error
}

// DeciderFactory builds a fresh decider for a task carrying full history.
type DeciderFactory func(t *backend.DecisionTask) (*replay.Decider, error)

type Options struct {
	// Pollers is the number of concurrent task pollers
	Pollers int

	// MaxParallelTasks limits tasks processed in parallel. 0 means no limit.
	MaxParallelTasks int

	// PollingInterval to wait after an empty poll
	PollingInterval time.Duration
}

var DefaultOptions = Options{
	Pollers:         2,
	PollingInterval: 200 * time.Millisecond,
}

// DecisionTaskWorker polls a task source and drives deciders through the
// sticky cache: full-history tasks build a fresh decider, incremental tasks
// reuse the cached one, and finished or failed runs are evicted. Many runs
// are processed in parallel; per-run execution is serialized by the cache's
// checkout protocol together with the source's at-most-one-task-per-run
// guarantee.
type DecisionTaskWorker struct {
	logger  *slog.Logger
	mc      metrics.Client
	cache   *cache.DeciderCache
	source  TaskSource
	factory DeciderFactory
	options *Options

	taskQueue chan *backend.DecisionTask
	slots     chan struct{}

	pollersWg      sync.WaitGroup
	dispatcherDone chan struct{}
}

func NewDecisionTaskWorker(
	logger *slog.Logger,
	mc metrics.Client,
	c *cache.DeciderCache,
	source TaskSource,
	factory DeciderFactory,
	options *Options,
) *DecisionTaskWorker {
	if options == nil {
		options = &DefaultOptions
	}

	var slots chan struct{}
	if options.MaxParallelTasks > 0 {
		slots = make(chan struct{}, options.MaxParallelTasks)
	}

	return &DecisionTaskWorker{
		logger:         logger,
		mc:             mc,
		cache:          c,
		source:         source,
		factory:        factory,
		options:        options,
		taskQueue:      make(chan *backend.DecisionTask),
		slots:          slots,
		dispatcherDone: make(chan struct{}, 1),
	}
}

// Start begins polling for decision tasks. To stop the worker, cancel the
// given context; to wait for in-flight tasks, call WaitForCompletion.
func (w *DecisionTaskWorker) Start(ctx context.Context) error {
	w.pollersWg.Add(w.options.Pollers)

	for i := 0; i < w.options.Pollers; i++ {
		go w.poller(ctx)
	}

	go w.dispatcher(ctx)

	return nil
}

// WaitForCompletion waits for pollers to stop and in-flight tasks to finish.
func (w *DecisionTaskWorker) WaitForCompletion() error {
	w.pollersWg.Wait()

	close(w.taskQueue)
	<-w.dispatcherDone

	return nil
}

func (w *DecisionTaskWorker) poller(ctx context.Context) {
	defer w.pollersWg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		t, err := w.source.GetDecisionTask(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}

			w.logger.Error("Getting decision task", "error", err)
		}

		if t != nil {
			select {
			case <-ctx.Done():
				return
			case w.taskQueue <- t:
			}

			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.options.PollingInterval):
		}
	}
}

func (w *DecisionTaskWorker) dispatcher(ctx context.Context) {
	var tasksWg sync.WaitGroup

	for t := range w.taskQueue {
		if w.slots != nil {
			w.slots <- struct{}{}
		}

		tasksWg.Add(1)

		go func(t *backend.DecisionTask) {
			defer tasksWg.Done()

			if w.slots != nil {
				defer func() { <-w.slots }()
			}

			w.handleTask(ctx, t)
		}(t)
	}

	tasksWg.Wait()

	w.dispatcherDone <- struct{}{}
}

func (w *DecisionTaskWorker) handleTask(ctx context.Context, t *backend.DecisionTask) {
	logger := w.logger.With(
		slog.String(log.TaskIDKey, t.ID),
		slog.String(log.RunIDKey, t.Run.RunID),
	)

	d, err := w.cache.LookupOrCreate(ctx, t, w.mc, func() (*replay.Decider, error) {
		return w.factory(t)
	})
	if err != nil {
		// A missing sticky entry is a protocol violation between this worker
		// and the source; fail loudly instead of rebuilding silently.
		logger.Error("Looking up decider", "error", err)
		w.failTask(ctx, t, err, logger)

		return
	}

	result, err := d.Decide(ctx, t)
	if err != nil {
		// The task failed but the run may continue. Drop sticky state; the
		// source redelivers the task with full history.
		if evictErr := w.cache.Evict(ctx, t.Run); evictErr != nil {
			logger.Error("Evicting decider after failed task", "error", evictErr)
		}
		d.Close()

		w.failTask(ctx, t, err, logger)

		return
	}

	if result.State.Terminal() {
		if err := w.cache.Evict(ctx, t.Run); err != nil {
			logger.Error("Evicting decider for finished run", "error", err)
		}
		d.Close()
	} else {
		if err := w.cache.Insert(ctx, t.Run, d); err != nil {
			logger.Error("Storing decider in sticky cache", "error", err)
		}
	}

	if err := w.source.CompleteDecisionTask(ctx, t, result); err != nil {
		logger.Error("Completing decision task", "error", err)
		return
	}

	w.mc.Counter(metrickeys.DecisionTaskProcessed, metrics.Tags{}, 1)

	logger.Debug("Finished decision task", slog.String(log.StateKey, result.State.String()))
}

func (w *DecisionTaskWorker) failTask(ctx context.Context, t *backend.DecisionTask, taskErr error, logger *slog.Logger) {
	if err := w.source.FailDecisionTask(ctx, t, taskErr); err != nil {
		logger.Error("Failing decision task", "error", err)
	}

	w.mc.Counter(metrickeys.DecisionTaskFailed, metrics.Tags{}, 1)
}
