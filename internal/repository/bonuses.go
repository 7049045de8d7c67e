package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/carwash-bot/internal/model"
)

// GetClientBonus возвращает бонусный баланс клиента по телефону.
func (r *PostgresRepository) GetClientBonus(ctx context.Context, phone string) (*model.ClientBonus, error) {
	var b model.ClientBonus
	err := r.pool.QueryRow(ctx,
		`SELECT phone, actual_amount FROM client_bonuses WHERE phone = $1`,
		phone,
	).Scan(&b.Phone, &b.ActualAmount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClientBonusNotFound
		}
		return nil, fmt.Errorf("get client bonus: %w", err)
	}
	return &b, nil
}

// CreateClientBonus заводит нулевой баланс. Существующий баланс не изменяется.
func (r *PostgresRepository) CreateClientBonus(ctx context.Context, phone string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO client_bonuses (phone, actual_amount) VALUES ($1, 0) ON CONFLICT (phone) DO NOTHING`,
		phone,
	)
	if err != nil {
		return fmt.Errorf("create client bonus: %w", err)
	}
	return nil
}

// AddBonuses прибавляет delta к балансу клиента и возвращает новое значение.
func (r *PostgresRepository) AddBonuses(ctx context.Context, phone string, delta int) (int, error) {
	var amount int
	err := r.withRetry(ctx, func() error {
		return r.pool.QueryRow(ctx,
			`UPDATE client_bonuses
			 SET actual_amount = actual_amount + $2, updated_at = NOW()
			 WHERE phone = $1
			 RETURNING actual_amount`,
			phone, delta,
		).Scan(&amount)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrClientBonusNotFound
		}
		return 0, fmt.Errorf("add bonuses: %w", err)
	}
	return amount, nil
}
