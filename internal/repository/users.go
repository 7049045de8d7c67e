package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/carwash-bot/internal/model"
)

const selectUsers = `SELECT id, phone, is_reviewer, created_at FROM users`

// AddUser регистрирует пользователя бота. Повторная регистрация игнорируется.
func (r *PostgresRepository) AddUser(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`,
		id,
	)
	if err != nil {
		return fmt.Errorf("add user: %w", err)
	}
	return nil
}

// GetUser возвращает пользователя по идентификатору чата.
func (r *PostgresRepository) GetUser(ctx context.Context, id int64) (*model.User, error) {
	var u model.User
	err := r.pool.QueryRow(ctx, selectUsers+` WHERE id = $1`, id).
		Scan(&u.ID, &u.Phone, &u.IsReviewer, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// SetUserPhone сохраняет нормализованный телефон пользователя.
func (r *PostgresRepository) SetUserPhone(ctx context.Context, id int64, phone string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET phone = $2 WHERE id = $1`, id, phone)
	if err != nil {
		return fmt.Errorf("set user phone: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// GetUsersByPhone возвращает всех пользователей, привязавших указанный телефон.
func (r *PostgresRepository) GetUsersByPhone(ctx context.Context, phone string) ([]model.User, error) {
	return r.queryUsers(ctx, selectUsers+` WHERE phone = $1 ORDER BY id`, phone)
}

// GetAllUsers возвращает всех пользователей бота.
func (r *PostgresRepository) GetAllUsers(ctx context.Context) ([]model.User, error) {
	return r.queryUsers(ctx, selectUsers+` ORDER BY id`)
}

// GetReviewers возвращает сотрудников, получающих отзывы клиентов.
func (r *PostgresRepository) GetReviewers(ctx context.Context) ([]model.User, error) {
	return r.queryUsers(ctx, selectUsers+` WHERE is_reviewer ORDER BY id`)
}

func (r *PostgresRepository) queryUsers(ctx context.Context, query string, args ...any) ([]model.User, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Phone, &u.IsReviewer, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return users, nil
}
