package generation

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-exam/internal/domain"
)

// Job is the background task for one generation ledger record.
type Job struct {
	taskID       uuid.UUID
	request      Request
	orchestrator *Orchestrator
}

// ID returns the ledger record ID.
func (j *Job) ID() uuid.UUID { return j.taskID }

// Type returns the task kind.
func (j *Job) Type() domain.TaskKind { return domain.TaskKindGeneration }

// Payload returns the request as JSON, or nil if it cannot be encoded.
func (j *Job) Payload() []byte {
	b, err := json.Marshal(j.request)
	if err != nil {
		j.orchestrator.logger.Error("failed to encode generation payload",
			"task_id", j.taskID,
			"error", err)
		return nil
	}
	return b
}

// Execute runs the batch loop.
func (j *Job) Execute(ctx context.Context) error {
	return j.orchestrator.run(ctx, j.taskID, j.request)
}
