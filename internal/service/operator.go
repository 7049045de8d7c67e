package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmeshcher/carwash-bot/internal/model"
)

// ErrUnknownTerminal возвращается для терминала, которого нет в конфигурации.
var ErrUnknownTerminal = errors.New("unknown terminal")

// Pinger проверяет доступность хранилища.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Operator собирает операции, доступные оператору через HTTP API.
type Operator struct {
	db         Pinger
	syncer     *Syncer
	ledger     *Ledger
	dispatcher *Dispatcher
	terminals  map[int]Terminal
}

// NewOperator создаёт фасад операторского API.
func NewOperator(db Pinger, syncer *Syncer, ledger *Ledger, dispatcher *Dispatcher, terminals []Terminal) *Operator {
	byID := make(map[int]Terminal, len(terminals))
	for _, t := range terminals {
		byID[t.TerminalID()] = t
	}
	return &Operator{
		db:         db,
		syncer:     syncer,
		ledger:     ledger,
		dispatcher: dispatcher,
		terminals:  byID,
	}
}

// Ping проверяет соединение с базой.
func (o *Operator) Ping(ctx context.Context) error {
	return o.db.Ping(ctx)
}

// RunSync выполняет цикл синхронизации вне расписания.
func (o *Operator) RunSync(ctx context.Context) (CycleReport, error) {
	return o.syncer.RunCycle(ctx)
}

// Balance возвращает сохранённый баланс клиента.
func (o *Operator) Balance(ctx context.Context, phone string) (model.ClientBonus, error) {
	return o.ledger.Lookup(ctx, phone)
}

// AddBonus начисляет бонусы клиенту через панель терминала.
func (o *Operator) AddBonus(ctx context.Context, terminalID int, phone string, amount int, note string) error {
	t, ok := o.terminals[terminalID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownTerminal, terminalID)
	}
	return t.AddBonus(ctx, phone, amount, note)
}

// Broadcast рассылает пост всем пользователям.
func (o *Operator) Broadcast(ctx context.Context, post Post) (BroadcastResult, error) {
	return o.dispatcher.Broadcast(ctx, post)
}
