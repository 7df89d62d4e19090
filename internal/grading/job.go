package grading

import (
	"context"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-exam/internal/domain"
)

// Job is the background task for one grading pass.
type Job struct {
	taskID       uuid.UUID
	attemptID    uuid.UUID
	orchestrator *Orchestrator
}

// ID returns the ledger record ID.
func (j *Job) ID() uuid.UUID { return j.taskID }

// Type returns the task kind.
func (j *Job) Type() domain.TaskKind { return domain.TaskKindGrading }

// Payload returns the attempt ID.
func (j *Job) Payload() []byte { return []byte(j.attemptID.String()) }

// Execute runs the pass and releases the attempt for future scheduling.
func (j *Job) Execute(ctx context.Context) error {
	defer j.orchestrator.inFlight.Delete(j.attemptID)
	return j.orchestrator.GradeOpenEnded(ctx, j.attemptID, j.taskID)
}
