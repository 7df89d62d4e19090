package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/scry-exam/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskRunnerExecutesSubmittedTasks(t *testing.T) {
	runner := NewTaskRunner(TaskRunnerConfig{WorkerCount: 2, QueueSize: 10}, logger.Discard())
	require.NoError(t, runner.Start(context.Background()))
	defer runner.Stop()

	var wg sync.WaitGroup
	tasks := make([]*funcTask, 5)
	for i := range tasks {
		wg.Add(1)
		tasks[i] = newFuncTask(func(ctx context.Context) error {
			wg.Done()
			return nil
		})
		require.NoError(t, runner.Submit(context.Background(), tasks[i]))
	}

	waitOrFail(t, &wg)
	for _, task := range tasks {
		assert.Equal(t, int32(1), task.runs.Load())
	}
}

func TestTaskRunnerCallerRunsWhenQueueFull(t *testing.T) {
	// the runner is not started, so the single slot fills up immediately
	runner := NewTaskRunner(TaskRunnerConfig{
		WorkerCount:    1,
		QueueSize:      1,
		OverflowPolicy: OverflowCallerRuns,
	}, logger.Discard())

	queued := newFuncTask(nil)
	require.NoError(t, runner.Submit(context.Background(), queued))

	overflow := newFuncTask(nil)
	require.NoError(t, runner.Submit(context.Background(), overflow))

	assert.Equal(t, int32(0), queued.runs.Load())
	assert.Equal(t, int32(1), overflow.runs.Load(), "overflow task runs on the caller")
}

func TestTaskRunnerRejectWhenQueueFull(t *testing.T) {
	runner := NewTaskRunner(TaskRunnerConfig{
		WorkerCount:    1,
		QueueSize:      1,
		OverflowPolicy: OverflowReject,
	}, logger.Discard())

	require.NoError(t, runner.Submit(context.Background(), newFuncTask(nil)))

	overflow := newFuncTask(nil)
	err := runner.Submit(context.Background(), overflow)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, int32(0), overflow.runs.Load())
}

func TestTaskRunnerRecoversPanics(t *testing.T) {
	runner := NewTaskRunner(TaskRunnerConfig{WorkerCount: 1, QueueSize: 4}, logger.Discard())

	var mu sync.Mutex
	var failures []error
	var wg sync.WaitGroup
	wg.Add(2)
	runner.SetErrorHandler(func(task Task, err error) {
		mu.Lock()
		failures = append(failures, err)
		mu.Unlock()
		wg.Done()
	})
	require.NoError(t, runner.Start(context.Background()))
	defer runner.Stop()

	require.NoError(t, runner.Submit(context.Background(), newFuncTask(func(ctx context.Context) error {
		panic("boom")
	})))
	require.NoError(t, runner.Submit(context.Background(), newFuncTask(func(ctx context.Context) error {
		return errors.New("plain failure")
	})))

	waitOrFail(t, &wg)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, failures, 2)
	assert.Contains(t, failures[0].Error(), "panicked")
}

func TestTaskRunnerRunsRecoveredTasksOnStart(t *testing.T) {
	runner := NewTaskRunner(TaskRunnerConfig{WorkerCount: 1, QueueSize: 4}, logger.Discard())

	var wg sync.WaitGroup
	wg.Add(1)
	recovered := newFuncTask(func(ctx context.Context) error {
		wg.Done()
		return nil
	})
	runner.AddRecoverer(recovererFunc(func(ctx context.Context) ([]Task, error) {
		return []Task{recovered}, nil
	}))

	require.NoError(t, runner.Start(context.Background()))
	defer runner.Stop()

	waitOrFail(t, &wg)
	assert.Equal(t, int32(1), recovered.runs.Load())
}

func TestTaskRunnerRecoversMoreTasksThanQueueSize(t *testing.T) {
	for _, policy := range []OverflowPolicy{OverflowCallerRuns, OverflowReject} {
		t.Run(string(policy), func(t *testing.T) {
			runner := NewTaskRunner(TaskRunnerConfig{
				WorkerCount:    1,
				QueueSize:      2,
				OverflowPolicy: policy,
			}, logger.Discard())

			var wg sync.WaitGroup
			recovered := make([]Task, 5)
			tasks := make([]*funcTask, 5)
			for i := range tasks {
				wg.Add(1)
				tasks[i] = newFuncTask(func(ctx context.Context) error {
					time.Sleep(5 * time.Millisecond)
					wg.Done()
					return nil
				})
				recovered[i] = tasks[i]
			}
			runner.AddRecoverer(recovererFunc(func(ctx context.Context) ([]Task, error) {
				return recovered, nil
			}))

			require.NoError(t, runner.Start(context.Background()))
			defer runner.Stop()

			waitOrFail(t, &wg)
			for _, task := range tasks {
				assert.Equal(t, int32(1), task.runs.Load())
			}
		})
	}
}

func TestTaskRunnerRecoveryStopsWhenContextEnds(t *testing.T) {
	runner := NewTaskRunner(TaskRunnerConfig{WorkerCount: 1, QueueSize: 1}, logger.Discard())

	release := make(chan struct{})
	blocker := newFuncTask(func(ctx context.Context) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})
	rest := []Task{blocker, newFuncTask(nil), newFuncTask(nil), newFuncTask(nil)}
	runner.AddRecoverer(recovererFunc(func(ctx context.Context) ([]Task, error) {
		return rest, nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, runner.Start(ctx))
	close(release)
	runner.Stop()

	assert.Equal(t, int32(0), rest[3].(*funcTask).runs.Load(), "unqueued tasks are left for the next start")
}

func TestTaskRunnerSubmitAfterStopWithFullQueue(t *testing.T) {
	runner := NewTaskRunner(TaskRunnerConfig{
		WorkerCount:    1,
		QueueSize:      1,
		OverflowPolicy: OverflowCallerRuns,
	}, logger.Discard())
	runner.Stop()

	overflow := newFuncTask(nil)
	err := runner.Submit(context.Background(), overflow)
	assert.ErrorIs(t, err, ErrQueueClosed)
	assert.Equal(t, int32(0), overflow.runs.Load())
}

func TestTaskRunnerConcurrentSubmitAndStop(t *testing.T) {
	runner := NewTaskRunner(TaskRunnerConfig{
		WorkerCount:    1,
		QueueSize:      1,
		OverflowPolicy: OverflowCallerRuns,
	}, logger.Discard())
	require.NoError(t, runner.Start(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := runner.Submit(context.Background(), newFuncTask(nil))
			if err != nil {
				assert.ErrorIs(t, err, ErrQueueClosed)
			}
		}()
	}
	runner.Stop()
	waitOrFail(t, &wg)

	assert.ErrorIs(t, runner.Submit(context.Background(), newFuncTask(nil)), ErrQueueClosed)
}

func TestTaskRunnerStartFailsWhenRecoveryFails(t *testing.T) {
	runner := NewTaskRunner(DefaultTaskRunnerConfig(), logger.Discard())
	runner.AddRecoverer(recovererFunc(func(ctx context.Context) ([]Task, error) {
		return nil, errors.New("store down")
	}))

	err := runner.Start(context.Background())
	assert.ErrorContains(t, err, "store down")
}

func TestTaskRunnerSubmitAfterStop(t *testing.T) {
	runner := NewTaskRunner(DefaultTaskRunnerConfig(), logger.Discard())
	require.NoError(t, runner.Start(context.Background()))
	runner.Stop()

	err := runner.Submit(context.Background(), newFuncTask(nil))
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func waitOrFail(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for tasks")
	}
}
