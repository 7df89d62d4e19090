package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttemptStatusTransitions(t *testing.T) {
	t.Parallel()

	assert.True(t, AttemptStatusNotStarted.CanTransitionTo(AttemptStatusInProgress))
	assert.True(t, AttemptStatusInProgress.CanTransitionTo(AttemptStatusSubmitted))
	assert.True(t, AttemptStatusSubmitted.CanTransitionTo(AttemptStatusGraded))

	assert.False(t, AttemptStatusGraded.CanTransitionTo(AttemptStatusSubmitted))
	assert.False(t, AttemptStatusSubmitted.CanTransitionTo(AttemptStatusInProgress))
	assert.False(t, AttemptStatusInProgress.CanTransitionTo(AttemptStatusGraded))
	assert.False(t, AttemptStatusSubmitted.CanTransitionTo(AttemptStatusSubmitted))
	assert.False(t, AttemptStatus("x").CanTransitionTo(AttemptStatusGraded))
}

func TestExamAttemptLifecycle(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	pub := &Publication{
		ID:              uuid.New(),
		PaperID:         uuid.New(),
		StartAt:         now.Add(-time.Hour),
		EndAt:           now.Add(time.Hour),
		DurationMinutes: 30,
	}

	a := NewExamAttempt(uuid.New(), pub, decimal.NewFromInt(100), now)
	assert.Equal(t, AttemptStatusInProgress, a.Status)
	assert.Equal(t, now.Add(30*time.Minute), a.Deadline)

	require.ErrorIs(t, a.MarkGraded(now), ErrInvalidTransition)
	require.NoError(t, a.MarkSubmitted(now))
	require.NotNil(t, a.SubmittedAt)
	assert.True(t, a.IsFinal())
	require.ErrorIs(t, a.MarkSubmitted(now), ErrInvalidTransition)
	require.NoError(t, a.MarkGraded(now))
	assert.Equal(t, AttemptStatusGraded, a.Status)
}

func TestPublicationWindowAndDeadline(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	pub := &Publication{StartAt: start, EndAt: start.Add(time.Hour), DurationMinutes: 90}

	assert.False(t, pub.Open(start.Add(-time.Second)))
	assert.True(t, pub.Open(start))
	assert.False(t, pub.Open(start.Add(time.Hour)), "window end is exclusive")
	assert.Equal(t, pub.EndAt, pub.Deadline(start.Add(10*time.Minute)), "window end caps the time limit")

	assert.Equal(t, 1, pub.AttemptLimit(0))
	assert.Equal(t, 3, pub.AttemptLimit(3))
	pub.MaxAttempts = 2
	assert.Equal(t, 2, pub.AttemptLimit(3))
}
