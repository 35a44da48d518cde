package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
	"horizon-portal/internal/domain"
)

// QuestionSetLoader reads completion-relevant question data straight from Postgres.
type QuestionSetLoader struct {
	pool *pgxpool.Pool
}

func NewQuestionSetLoader(pool *pgxpool.Pool) *QuestionSetLoader {
	return &QuestionSetLoader{pool: pool}
}

func (l *QuestionSetLoader) LoadQuestionSet(ctx context.Context, templateID string) (domain.QuestionSet, error) {
	var exists bool
	err := l.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM templates WHERE id=$1)`, templateID).Scan(&exists)
	if err != nil {
		return domain.QuestionSet{}, fmt.Errorf("load question set: %w", err)
	}
	if !exists {
		return domain.QuestionSet{}, domain.ErrTemplateNotFound
	}

	rows, err := l.pool.Query(ctx, `SELECT id, required FROM questions WHERE template_id=$1 ORDER BY sort_order, id`, templateID)
	if err != nil {
		return domain.QuestionSet{}, fmt.Errorf("load question set: %w", err)
	}
	defer rows.Close()

	set := domain.QuestionSet{TemplateID: templateID, Questions: []domain.QuestionRef{}}
	for rows.Next() {
		var ref domain.QuestionRef
		if err := rows.Scan(&ref.ID, &ref.Required); err != nil {
			return domain.QuestionSet{}, fmt.Errorf("scan question: %w", err)
		}
		set.Questions = append(set.Questions, ref)
	}
	if err := rows.Err(); err != nil {
		return domain.QuestionSet{}, fmt.Errorf("load question set: %w", err)
	}
	return set, nil
}
