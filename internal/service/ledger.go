package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmeshcher/carwash-bot/internal/model"
	"github.com/mmeshcher/carwash-bot/internal/repository"
	"github.com/mmeshcher/carwash-bot/internal/validation"
)

// ErrNoBonusChange возвращается при попытке провести мойку без телефона или бонусов.
var ErrNoBonusChange = errors.New("washing has no bonus change")

// Ledger ведёт бонусные балансы клиентов.
type Ledger struct {
	store BonusStore
}

// NewLedger создаёт бонусный журнал.
func NewLedger(store BonusStore) *Ledger {
	return &Ledger{store: store}
}

// Apply прибавляет бонусы мойки к балансу клиента, заводя баланс при первом обращении.
// Отрицательные бонусы списываются без ограничения снизу.
func (l *Ledger) Apply(ctx context.Context, w model.Washing) (model.ClientBonus, error) {
	if !w.HasBonusChange() {
		return model.ClientBonus{}, fmt.Errorf("%w: %s", ErrNoBonusChange, w.ID)
	}

	phone := validation.NormalizePhone(*w.Phone)
	if err := l.store.CreateClientBonus(ctx, phone); err != nil {
		return model.ClientBonus{}, err
	}

	amount, err := l.store.AddBonuses(ctx, phone, *w.Bonuses)
	if err != nil {
		return model.ClientBonus{}, err
	}

	return model.ClientBonus{Phone: phone, ActualAmount: amount}, nil
}

// Balance возвращает баланс клиента. Отсутствующий баланс заводится с нулём.
func (l *Ledger) Balance(ctx context.Context, phone string) (model.ClientBonus, error) {
	phone = validation.NormalizePhone(phone)

	b, err := l.store.GetClientBonus(ctx, phone)
	if err == nil {
		return *b, nil
	}
	if !errors.Is(err, repository.ErrClientBonusNotFound) {
		return model.ClientBonus{}, err
	}

	if err := l.store.CreateClientBonus(ctx, phone); err != nil {
		return model.ClientBonus{}, err
	}
	return model.ClientBonus{Phone: phone}, nil
}

// Lookup возвращает баланс клиента без создания нового.
func (l *Ledger) Lookup(ctx context.Context, phone string) (model.ClientBonus, error) {
	b, err := l.store.GetClientBonus(ctx, validation.NormalizePhone(phone))
	if err != nil {
		return model.ClientBonus{}, err
	}
	return *b, nil
}
