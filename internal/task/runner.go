package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/phrazzld/scry-exam/internal/platform/logger"
)

// OverflowPolicy decides what Submit does when the queue is full.
type OverflowPolicy string

const (
	// OverflowCallerRuns executes the task synchronously on the submitting goroutine.
	OverflowCallerRuns OverflowPolicy = "caller_runs"

	// OverflowReject returns ErrQueueFull to the submitter.
	OverflowReject OverflowPolicy = "reject"
)

// TaskRunnerConfig holds configuration for the task runner
type TaskRunnerConfig struct {
	// WorkerCount determines how many concurrent workers process tasks
	WorkerCount int

	// QueueSize determines the buffer size for the in-memory task queue
	QueueSize int

	// OverflowPolicy applies when the queue is at capacity
	OverflowPolicy OverflowPolicy
}

// DefaultTaskRunnerConfig returns a TaskRunnerConfig with reasonable defaults
func DefaultTaskRunnerConfig() TaskRunnerConfig {
	return TaskRunnerConfig{
		WorkerCount:    5,
		QueueSize:      100,
		OverflowPolicy: OverflowCallerRuns,
	}
}

// TaskRunner manages background task processing: a bounded queue drained by
// a fixed worker pool, with recovery of unfinished work on start.
type TaskRunner struct {
	queue      *TaskQueue
	pool       *WorkerPool
	config     TaskRunnerConfig
	logger     *slog.Logger
	recoverers []Recoverer
	errHandler func(task Task, err error)

	mu      sync.Mutex
	started bool
	stopped bool
	inline  sync.WaitGroup
}

// NewTaskRunner creates a new TaskRunner
func NewTaskRunner(config TaskRunnerConfig, logger *slog.Logger) *TaskRunner {
	if config.OverflowPolicy == "" {
		config.OverflowPolicy = OverflowCallerRuns
	}
	logger = logger.With("component", "task_runner")
	queue := NewTaskQueue(config.QueueSize, logger)

	return &TaskRunner{
		queue:  queue,
		pool:   NewWorkerPool(queue, WorkerPoolConfig{WorkerCount: config.WorkerCount}, logger),
		config: config,
		logger: logger,
		errHandler: func(task Task, err error) {
			logger.Error("task execution failed",
				"task_id", task.ID(),
				"task_type", task.Type(),
				"error", err)
		},
	}
}

// SetErrorHandler allows setting a custom error handler function
func (r *TaskRunner) SetErrorHandler(handler func(task Task, err error)) {
	r.errHandler = handler
}

// AddRecoverer registers a source of unfinished tasks to requeue on Start.
func (r *TaskRunner) AddRecoverer(rec Recoverer) {
	r.recoverers = append(r.recoverers, rec)
}

// Submit adds a task to the queue. When the queue is full the overflow policy
// applies: the task runs on the caller's goroutine, or ErrQueueFull is returned.
// Work is never dropped silently. After Stop, Submit returns ErrQueueClosed.
func (r *TaskRunner) Submit(ctx context.Context, task Task) error {
	err := r.queue.Enqueue(task)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrQueueFull) || r.config.OverflowPolicy == OverflowReject {
		return err
	}

	// inline.Add must not race with the Wait in Stop
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return ErrQueueClosed
	}
	r.inline.Add(1)
	r.mu.Unlock()
	defer r.inline.Done()

	r.logger.Warn("task queue full, running task on caller",
		"task_id", task.ID(),
		"task_type", task.Type())
	r.processTask(ctx, task, -1)
	return nil
}

// Start begins processing and then requeues unfinished tasks. Workers are
// running before recovery so a recovered set larger than the queue drains
// instead of overflowing.
func (r *TaskRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return errors.New("task runner already started")
	}
	if r.stopped {
		r.mu.Unlock()
		return ErrQueueClosed
	}
	r.pool.Start(r.processTask)
	r.started = true
	r.mu.Unlock()

	if err := r.Recover(ctx); err != nil {
		r.Stop()
		return fmt.Errorf("failed to recover tasks: %w", err)
	}
	return nil
}

// Stop closes the queue, cancels running tasks and waits for workers and
// caller-run tasks to return. Interrupted tasks stay unfinished in the ledger
// and are recovered on the next start.
func (r *TaskRunner) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	r.queue.Close()
	r.pool.Stop()
	r.inline.Wait()
}

// Recover asks every registered Recoverer for unfinished tasks and queues
// them, waiting for space when the queue is full. It must run after the
// workers have started.
func (r *TaskRunner) Recover(ctx context.Context) error {
	for _, rec := range r.recoverers {
		tasks, err := rec.Recover(ctx)
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			continue
		}
		r.logger.Info("recovering unfinished tasks", "count", len(tasks))
		for i, t := range tasks {
			if err := r.queue.EnqueueWait(ctx, t); err != nil {
				// the remaining ledger records stay unfinished for the next start
				r.logger.Warn("stopped requeueing recovered tasks",
					"task_id", t.ID(),
					"task_type", t.Type(),
					"remaining", len(tasks)-i,
					"error", err)
				return nil
			}
		}
	}
	return nil
}

// processTask handles execution of a single task
func (r *TaskRunner) processTask(ctx context.Context, task Task, workerID int) {
	log := r.logger.With(
		"task_id", task.ID(),
		"task_type", task.Type(),
		"worker_id", workerID,
	)
	ctx = logger.WithLogger(ctx, log)

	log.Info("processing task")

	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("task panicked: %v", p)
			}
		}()
		return task.Execute(ctx)
	}()

	if err != nil {
		r.errHandler(task, err)
		return
	}
	log.Info("task finished")
}
