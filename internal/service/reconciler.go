package service

import (
	"context"
	"fmt"

	"github.com/mmeshcher/carwash-bot/internal/model"
)

// Reconciler отделяет впервые увиденные мойки от уже известных.
type Reconciler struct {
	store WashingStore
}

// NewReconciler создаёт сверщик поверх истории моек.
func NewReconciler(store WashingStore) *Reconciler {
	return &Reconciler{store: store}
}

// Reconcile возвращает новые мойки и подмножество новых, по которым меняется бонусный баланс.
// Повтор идентификатора внутри одной выгрузки новым не считается.
func (r *Reconciler) Reconcile(ctx context.Context, all []model.Washing) (fresh, eligible []model.Washing, err error) {
	seen := make(map[string]struct{}, len(all))

	for _, w := range all {
		if _, dup := seen[w.ID]; dup {
			continue
		}
		seen[w.ID] = struct{}{}

		exists, err := r.store.WashingExists(ctx, w.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("check washing %s: %w", w.ID, err)
		}
		if exists {
			continue
		}

		fresh = append(fresh, w)
		if w.HasBonusChange() {
			eligible = append(eligible, w)
		}
	}

	return fresh, eligible, nil
}
