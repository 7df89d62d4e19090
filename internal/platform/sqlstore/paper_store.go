package sqlstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-exam/internal/domain"
	"github.com/phrazzld/scry-exam/internal/store"
)

// GetPaper implements store.PaperStore. Items are ordered by position.
func (s *Store) GetPaper(ctx context.Context, id uuid.UUID) (*domain.Paper, error) {
	var p domain.Paper
	err := s.q.QueryRowContext(ctx,
		`SELECT id, course_id, title FROM papers WHERE id = $1`, id).
		Scan(&p.ID, &p.CourseID, &p.Title)
	if err != nil {
		return nil, mapNotFound(err, store.ErrPaperNotFound)
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT question_id, position, score
		FROM paper_items WHERE paper_id = $1
		ORDER BY position ASC`, id)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var it domain.PaperItem
		if err := rows.Scan(&it.QuestionID, &it.Position, &it.Score); err != nil {
			return nil, MapError(err)
		}
		p.Items = append(p.Items, it)
	}
	return &p, MapError(rows.Err())
}

// CreatePaper inserts a paper with its items.
func (s *Store) CreatePaper(ctx context.Context, p *domain.Paper) error {
	if _, err := s.q.ExecContext(ctx,
		`INSERT INTO papers (id, course_id, title) VALUES ($1, $2, $3)`,
		p.ID, p.CourseID, p.Title); err != nil {
		return MapError(err)
	}
	for _, it := range p.Items {
		if _, err := s.q.ExecContext(ctx,
			`INSERT INTO paper_items (paper_id, question_id, position, score) VALUES ($1, $2, $3, $4)`,
			p.ID, it.QuestionID, it.Position, it.Score); err != nil {
			return fmt.Errorf("insert paper item %s: %w", it.QuestionID, MapError(err))
		}
	}
	return nil
}

// GetPublication implements store.PaperStore.
func (s *Store) GetPublication(ctx context.Context, id uuid.UUID) (*domain.Publication, error) {
	var p domain.Publication
	err := s.q.QueryRowContext(ctx, `
		SELECT id, paper_id, title, start_at, end_at, duration_minutes, max_attempts, password_hash
		FROM publications WHERE id = $1`, id).
		Scan(&p.ID, &p.PaperID, &p.Title, &p.StartAt, &p.EndAt,
			&p.DurationMinutes, &p.MaxAttempts, &p.PasswordHash)
	if err != nil {
		return nil, mapNotFound(err, store.ErrPublicationNotFound)
	}
	return &p, nil
}

// CreatePublication inserts a publication.
func (s *Store) CreatePublication(ctx context.Context, p *domain.Publication) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO publications (
			id, paper_id, title, start_at, end_at, duration_minutes, max_attempts, password_hash
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.PaperID, p.Title, p.StartAt.UTC(), p.EndAt.UTC(),
		p.DurationMinutes, p.MaxAttempts, p.PasswordHash)
	return MapError(err)
}
