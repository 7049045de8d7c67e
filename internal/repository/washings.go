package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/carwash-bot/internal/model"
)

const upsertWashing = `
INSERT INTO washings (id, terminal, date, state, start_date, end_date, mode, phone, bonuses, promocode, price)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO UPDATE SET
	terminal   = EXCLUDED.terminal,
	date       = EXCLUDED.date,
	state      = EXCLUDED.state,
	start_date = EXCLUDED.start_date,
	end_date   = EXCLUDED.end_date,
	mode       = EXCLUDED.mode,
	phone      = EXCLUDED.phone,
	bonuses    = EXCLUDED.bonuses,
	promocode  = EXCLUDED.promocode,
	price      = EXCLUDED.price`

// WashingExists проверяет, сохранена ли мойка с указанным внешним идентификатором.
func (r *PostgresRepository) WashingExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM washings WHERE id = $1)`,
		id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check washing: %w", err)
	}
	return exists, nil
}

// SaveWashings сохраняет мойки одной транзакцией. Уже известные записи обновляются.
func (r *PostgresRepository) SaveWashings(ctx context.Context, washings []model.Washing) error {
	if len(washings) == 0 {
		return nil
	}

	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		batch := &pgx.Batch{}
		for _, w := range washings {
			batch.Queue(upsertWashing,
				w.ID, w.Terminal, w.Date, w.State, w.StartDate, w.EndDate,
				w.Mode, w.Phone, w.Bonuses, w.Promocode, w.Price,
			)
		}

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("upsert washings: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}
