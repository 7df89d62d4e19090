package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-exam/internal/domain"
	"github.com/phrazzld/scry-exam/internal/platform/logger"
	"github.com/phrazzld/scry-exam/internal/store"
)

// GetCourse implements store.CourseStore.
func (s *Store) GetCourse(ctx context.Context, id uuid.UUID) (*domain.Course, error) {
	var c domain.Course
	err := s.q.QueryRowContext(ctx,
		`SELECT id, name, description FROM courses WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.Description)
	if err != nil {
		return nil, mapNotFound(err, store.ErrCourseNotFound)
	}
	return &c, nil
}

// ExistingFingerprints implements store.QuestionStore.
func (s *Store) ExistingFingerprints(ctx context.Context, fingerprints []string) (map[string]bool, error) {
	found := make(map[string]bool)
	if len(fingerprints) == 0 {
		return found, nil
	}

	args := make([]any, len(fingerprints))
	for i, fp := range fingerprints {
		args[i] = fp
	}
	rows, err := s.q.QueryContext(ctx,
		`SELECT fingerprint FROM questions WHERE fingerprint IN (`+placeholders(1, len(args))+`)`,
		args...)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, MapError(err)
		}
		found[fp] = true
	}
	return found, MapError(rows.Err())
}

// CreateQuestions implements store.QuestionStore. Rows whose fingerprint is
// already stored are skipped by the conflict clause and left out of the result.
func (s *Store) CreateQuestions(ctx context.Context, questions []domain.Question) ([]domain.Question, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)
	const query = `
		INSERT INTO questions (
			id, course_id, type, content, fingerprint, options, answer,
			explanation, difficulty, tags, created_by, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (fingerprint) DO NOTHING
	`

	inserted := make([]domain.Question, 0, len(questions))
	for i := range questions {
		q := &questions[i]
		if err := q.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
		}
		options, err := json.Marshal(q.Options)
		if err != nil {
			return nil, fmt.Errorf("%w: encode options: %v", store.ErrInvalidEntity, err)
		}
		tags, err := json.Marshal(q.Tags)
		if err != nil {
			return nil, fmt.Errorf("%w: encode tags: %v", store.ErrInvalidEntity, err)
		}

		res, err := s.q.ExecContext(ctx, query,
			q.ID, q.CourseID, string(q.Type), q.Content, q.Fingerprint, string(options),
			q.Answer, q.Explanation, q.Difficulty, string(tags), q.CreatedBy, q.CreatedAt.UTC())
		if err != nil {
			log.Error("failed to insert question", "question_id", q.ID, "error", err)
			return nil, MapError(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to get rows affected: %w", err)
		}
		if n > 0 {
			inserted = append(inserted, *q)
		}
	}
	return inserted, nil
}

// GetQuestions implements store.QuestionStore.
func (s *Store) GetQuestions(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.Question, error) {
	out := make(map[uuid.UUID]*domain.Question, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, course_id, type, content, fingerprint, options, answer,
			explanation, difficulty, tags, created_by, created_at
		FROM questions WHERE id IN (`+placeholders(1, len(args))+`)`, args...)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			q             domain.Question
			qType         string
			options, tags string
		)
		if err := rows.Scan(&q.ID, &q.CourseID, &qType, &q.Content, &q.Fingerprint, &options,
			&q.Answer, &q.Explanation, &q.Difficulty, &tags, &q.CreatedBy, &q.CreatedAt); err != nil {
			return nil, MapError(err)
		}
		q.Type = domain.QuestionType(qType)
		if err := json.Unmarshal([]byte(options), &q.Options); err != nil {
			return nil, fmt.Errorf("decode options of question %s: %w", q.ID, err)
		}
		if err := json.Unmarshal([]byte(tags), &q.Tags); err != nil {
			return nil, fmt.Errorf("decode tags of question %s: %w", q.ID, err)
		}
		out[q.ID] = &q
	}
	return out, MapError(rows.Err())
}

// CreateCourse inserts a course.
func (s *Store) CreateCourse(ctx context.Context, c *domain.Course) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO courses (id, name, description) VALUES ($1, $2, $3)`,
		c.ID, c.Name, c.Description)
	return MapError(err)
}
