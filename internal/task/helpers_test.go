package task

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-exam/internal/domain"
)

// funcTask is a Task whose Execute is supplied by the test.
type funcTask struct {
	id      uuid.UUID
	kind    domain.TaskKind
	execute func(ctx context.Context) error
	runs    atomic.Int32
}

func newFuncTask(execute func(ctx context.Context) error) *funcTask {
	return &funcTask{id: uuid.New(), kind: domain.TaskKindGeneration, execute: execute}
}

func (t *funcTask) ID() uuid.UUID         { return t.id }
func (t *funcTask) Type() domain.TaskKind { return t.kind }
func (t *funcTask) Payload() []byte       { return nil }

func (t *funcTask) Execute(ctx context.Context) error {
	t.runs.Add(1)
	if t.execute == nil {
		return nil
	}
	return t.execute(ctx)
}

// recovererFunc adapts a function to the Recoverer interface.
type recovererFunc func(ctx context.Context) ([]Task, error)

func (f recovererFunc) Recover(ctx context.Context) ([]Task, error) { return f(ctx) }
