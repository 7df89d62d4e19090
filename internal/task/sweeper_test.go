package task

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/phrazzld/scry-exam/internal/platform/logger"
	"github.com/stretchr/testify/assert"
)

func TestSweeperRunOnceContinuesAfterFailure(t *testing.T) {
	s := NewSweeper(time.Hour, logger.Discard())

	var order []string
	s.Add("first", func(ctx context.Context) error {
		order = append(order, "first")
		return errors.New("boom")
	})
	s.Add("second", func(ctx context.Context) error {
		order = append(order, "second")
		return nil
	})

	s.RunOnce(context.Background())
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestSweeperTicks(t *testing.T) {
	s := NewSweeper(10*time.Millisecond, logger.Discard())

	var runs atomic.Int32
	s.Add("count", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	s.Start(context.Background())
	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()
	s.Stop()
}
