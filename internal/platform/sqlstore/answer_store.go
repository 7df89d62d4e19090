package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-exam/internal/domain"
	"github.com/phrazzld/scry-exam/internal/store"
)

// CreateAnswers implements store.AnswerStore.
func (s *Store) CreateAnswers(ctx context.Context, records []domain.AnswerRecord) error {
	const query = `
		INSERT INTO answer_records (
			id, attempt_id, question_id, position, question_type, student_answer,
			score, max_score, graded, correct, comment, graded_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	for _, r := range records {
		if _, err := s.q.ExecContext(ctx, query,
			r.ID, r.AttemptID, r.QuestionID, r.Position, string(r.QuestionType), r.StudentAnswer,
			r.Score, r.MaxScore, r.Graded, r.Correct, r.Comment, timePtrArg(r.GradedAt)); err != nil {
			return fmt.Errorf("insert answer record for question %s: %w", r.QuestionID, MapError(err))
		}
	}
	return nil
}

// ListAnswers implements store.AnswerStore.
func (s *Store) ListAnswers(ctx context.Context, attemptID uuid.UUID) ([]domain.AnswerRecord, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, attempt_id, question_id, position, question_type, student_answer,
			score, max_score, graded, correct, comment, graded_at
		FROM answer_records
		WHERE attempt_id = $1
		ORDER BY position ASC`, attemptID)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.AnswerRecord
	for rows.Next() {
		var (
			r        domain.AnswerRecord
			qType    string
			gradedAt sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.AttemptID, &r.QuestionID, &r.Position, &qType, &r.StudentAnswer,
			&r.Score, &r.MaxScore, &r.Graded, &r.Correct, &r.Comment, &gradedAt); err != nil {
			return nil, MapError(err)
		}
		r.QuestionType = domain.QuestionType(qType)
		r.GradedAt = nullTimePtr(gradedAt)
		out = append(out, r)
	}
	return out, MapError(rows.Err())
}

// UpdateAnswer implements store.AnswerStore.
func (s *Store) UpdateAnswer(ctx context.Context, r *domain.AnswerRecord) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE answer_records
		SET student_answer = $1, score = $2, graded = $3, correct = $4, comment = $5, graded_at = $6
		WHERE id = $7`,
		r.StudentAnswer, r.Score, r.Graded, r.Correct, r.Comment, timePtrArg(r.GradedAt), r.ID)
	if err != nil {
		return MapError(err)
	}
	return checkRowsAffected(res, "answer record", store.ErrAnswerNotFound)
}
