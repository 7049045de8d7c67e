package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mmeshcher/carwash-bot/internal/model"
)

const selectQuestions = `
SELECT q.id, q.text, q.is_active, COALESCE(array_agg(c.category) FILTER (WHERE c.category IS NOT NULL), '{}')
FROM questions q
LEFT JOIN question_categories c ON c.question_id = q.id`

// GetActiveQuestions возвращает активные вопросы. Если category не nil, только вопросы этой категории.
func (r *PostgresRepository) GetActiveQuestions(ctx context.Context, category *model.QuestionCategory) ([]model.Question, error) {
	query := selectQuestions + `
WHERE q.is_active
GROUP BY q.id
ORDER BY q.id`
	args := []any{}
	if category != nil {
		query = selectQuestions + `
WHERE q.is_active AND EXISTS (
	SELECT 1 FROM question_categories f WHERE f.question_id = q.id AND f.category = $1
)
GROUP BY q.id
ORDER BY q.id`
		args = append(args, string(*category))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select questions: %w", err)
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, *q)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return questions, nil
}

// GetQuestion возвращает вопрос по идентификатору.
func (r *PostgresRepository) GetQuestion(ctx context.Context, id int64) (*model.Question, error) {
	row := r.pool.QueryRow(ctx, selectQuestions+`
WHERE q.id = $1
GROUP BY q.id`, id)

	q, err := scanQuestion(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrQuestionNotFound
		}
		return nil, err
	}
	return q, nil
}

func scanQuestion(row pgx.Row) (*model.Question, error) {
	var (
		q          model.Question
		categories []string
	)
	if err := row.Scan(&q.ID, &q.Text, &q.Active, &categories); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan question: %w", err)
	}
	for _, c := range categories {
		q.Categories = append(q.Categories, model.QuestionCategory(c))
	}
	return &q, nil
}

// CreateFeedback сохраняет заданный клиенту вопрос и возвращает идентификатор отзыва.
func (r *PostgresRepository) CreateFeedback(ctx context.Context, userID, questionID int64, washingID string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO feedbacks (user_id, question_id, washing_id) VALUES ($1, $2, $3) RETURNING id`,
		userID, questionID, washingID,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return 0, fmt.Errorf("%w: %d", ErrUserNotFound, userID)
		}
		return 0, fmt.Errorf("create feedback: %w", err)
	}
	return id, nil
}

// GetFeedback возвращает отзыв по идентификатору.
func (r *PostgresRepository) GetFeedback(ctx context.Context, id int64) (*model.Feedback, error) {
	var f model.Feedback
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, question_id, washing_id, answer, created_at FROM feedbacks WHERE id = $1`,
		id,
	).Scan(&f.ID, &f.UserID, &f.QuestionID, &f.WashingID, &f.Answer, &f.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFeedbackNotFound
		}
		return nil, fmt.Errorf("get feedback: %w", err)
	}
	return &f, nil
}

// SetFeedbackAnswer сохраняет ответ клиента.
func (r *PostgresRepository) SetFeedbackAnswer(ctx context.Context, id int64, answer string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE feedbacks SET answer = $2 WHERE id = $1`, id, answer)
	if err != nil {
		return fmt.Errorf("set feedback answer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFeedbackNotFound
	}
	return nil
}

// GetClientFeedbacks возвращает отвеченные отзывы пользователя на вопросы указанной категории.
func (r *PostgresRepository) GetClientFeedbacks(ctx context.Context, userID int64, category model.QuestionCategory) ([]model.Feedback, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT f.id, f.user_id, f.question_id, f.washing_id, f.answer, f.created_at
		 FROM feedbacks f
		 JOIN question_categories c ON c.question_id = f.question_id AND c.category = $2
		 WHERE f.user_id = $1 AND f.answer IS NOT NULL
		 ORDER BY f.created_at`,
		userID, string(category),
	)
	if err != nil {
		return nil, fmt.Errorf("select feedbacks: %w", err)
	}
	defer rows.Close()

	var feedbacks []model.Feedback
	for rows.Next() {
		var f model.Feedback
		if err := rows.Scan(&f.ID, &f.UserID, &f.QuestionID, &f.WashingID, &f.Answer, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		feedbacks = append(feedbacks, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return feedbacks, nil
}
