package task

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-exam/internal/domain"
	"github.com/phrazzld/scry-exam/internal/platform/logger"
	"github.com/phrazzld/scry-exam/internal/platform/memory"
	"github.com/phrazzld/scry-exam/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := NewLedger(memory.New(), logger.Discard())
	require.NoError(t, err)
	return l
}

func TestLedgerLifecycle(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	rec, err := l.Create(ctx, domain.TaskKindGeneration, uuid.New(), uuid.New(), 10, map[string]string{"topic": "sets"})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusInit, rec.Status)
	assert.JSONEq(t, `{"topic":"sets"}`, string(rec.Payload))

	require.NoError(t, l.Start(ctx, rec.ID))
	require.NoError(t, l.Start(ctx, rec.ID), "starting a running record is a no-op")
	require.NoError(t, l.Advance(ctx, rec.ID, 4))
	require.NoError(t, l.Advance(ctx, rec.ID, 0))

	p, err := l.Progress(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, p.Completed)
	assert.Equal(t, 10, p.Total)
	assert.Equal(t, domain.TaskStatusRunning, p.Status)

	require.NoError(t, l.Complete(ctx, rec.ID, domain.TaskStatusDone, "4 of 10 generated"))

	got, err := l.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusDone, got.Status)
	assert.Equal(t, "4 of 10 generated", got.Detail)
	assert.NotNil(t, got.FinishedAt)
}

func TestLedgerRejectsChangesAfterTerminal(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	rec, err := l.Create(ctx, domain.TaskKindGrading, uuid.New(), uuid.New(), 3, nil)
	require.NoError(t, err)
	require.NoError(t, l.Advance(ctx, rec.ID, 1))
	require.NoError(t, l.Complete(ctx, rec.ID, domain.TaskStatusFailed, "provider down"))

	err = l.Advance(ctx, rec.ID, 1)
	assert.ErrorIs(t, err, domain.ErrTaskTerminal)
	assert.True(t, IsFinished(err))

	err = l.Complete(ctx, rec.ID, domain.TaskStatusDone, "")
	assert.ErrorIs(t, err, domain.ErrTaskTerminal)

	err = l.Start(ctx, rec.ID)
	assert.ErrorIs(t, err, domain.ErrTaskTerminal)

	got, err := l.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Completed)
	assert.Equal(t, domain.TaskStatusFailed, got.Status)
	assert.Equal(t, "provider down", got.Detail)
}

func TestLedgerRejectsAdvancePastTarget(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	rec, err := l.Create(ctx, domain.TaskKindGeneration, uuid.New(), uuid.New(), 5, nil)
	require.NoError(t, err)
	require.NoError(t, l.Advance(ctx, rec.ID, 4))

	err = l.Advance(ctx, rec.ID, 2)
	assert.ErrorIs(t, err, domain.ErrTargetExceeded)
	assert.ErrorIs(t, err, domain.ErrValidation)

	got, err := l.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Completed, "rejected advance leaves the record unchanged")
}

func TestLedgerValidation(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Create(ctx, domain.TaskKindGeneration, uuid.New(), uuid.New(), -1, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)

	rec, err := l.Create(ctx, domain.TaskKindGeneration, uuid.New(), uuid.New(), 1, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, l.Advance(ctx, rec.ID, -1), domain.ErrValidation)
	assert.ErrorIs(t, l.Complete(ctx, rec.ID, domain.TaskStatusRunning, ""), domain.ErrInvalidTransition)

	_, err = l.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
	assert.ErrorIs(t, l.Advance(ctx, uuid.New(), 1), store.ErrTaskNotFound)
}

func TestLedgerConcurrentAdvance(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	rec, err := l.Create(ctx, domain.TaskKindGrading, uuid.New(), uuid.New(), 50, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 60; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Advance(ctx, rec.ID, 1)
		}()
	}
	wg.Wait()

	got, err := l.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, got.Completed, "no increments lost and none past target")
}

func TestLedgerUnfinished(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	open, err := l.Create(ctx, domain.TaskKindGeneration, uuid.New(), uuid.New(), 1, nil)
	require.NoError(t, err)
	closed, err := l.Create(ctx, domain.TaskKindGeneration, uuid.New(), uuid.New(), 1, nil)
	require.NoError(t, err)
	_, err = l.Create(ctx, domain.TaskKindGrading, uuid.New(), uuid.New(), 1, nil)
	require.NoError(t, err)
	require.NoError(t, l.Complete(ctx, closed.ID, domain.TaskStatusDone, ""))

	tasks, err := l.Unfinished(ctx, domain.TaskKindGeneration)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, open.ID, tasks[0].ID)
}
