package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/carwash-bot/internal/metrics"
	"github.com/mmeshcher/carwash-bot/internal/model"
	"github.com/mmeshcher/carwash-bot/internal/parser"
	"github.com/mmeshcher/carwash-bot/internal/terminal"
)

const (
	syncLockKey = "carwash:sync:lock"
	syncLockTTL = 5 * time.Minute

	// commitTimeout ограничивает проведение бонусов и сохранение после сверки.
	commitTimeout = 2 * time.Minute
)

// ErrCycleSkipped возвращается, если цикл синхронизации уже выполняется в этом процессе или на другой реплике.
var ErrCycleSkipped = errors.New("sync cycle is already running")

// CycleReport содержит итог одного цикла синхронизации.
type CycleReport struct {
	Fetched         int   `json:"fetched"`
	Fresh           int   `json:"fresh"`
	Eligible        int   `json:"eligible"`
	BonusesApplied  int   `json:"bonuses_applied"`
	FailedTerminals []int `json:"failed_terminals,omitempty"`
}

// Syncer выполняет цикл синхронизации: выгрузка, разбор, сверка, побочные эффекты, сохранение.
type Syncer struct {
	terminals  []Terminal
	parser     *parser.Parser
	store      WashingStore
	reconciler *Reconciler
	ledger     *Ledger
	dispatcher *Dispatcher
	locker     Locker
	running    sync.Mutex

	logger  *zap.Logger
	metrics *metrics.Sync
}

// NewSyncer создаёт цикл синхронизации. locker может быть nil, если реплика одна.
func NewSyncer(
	terminals []Terminal,
	p *parser.Parser,
	store WashingStore,
	ledger *Ledger,
	dispatcher *Dispatcher,
	locker Locker,
	logger *zap.Logger,
	m *metrics.Sync,
) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{
		terminals:  terminals,
		parser:     p,
		store:      store,
		reconciler: NewReconciler(store),
		ledger:     ledger,
		dispatcher: dispatcher,
		locker:     locker,
		logger:     logger,
		metrics:    m,
	}
}

type fetchResult struct {
	terminalID int
	page       string
	ok         bool
}

// RunCycle выполняет один цикл синхронизации.
// Ошибка выгрузки одного терминала не прерывает цикл, ошибка формата таблицы прерывает его целиком.
func (s *Syncer) RunCycle(ctx context.Context) (CycleReport, error) {
	start := time.Now()

	if !s.running.TryLock() {
		s.metrics.CycleFinished(metrics.CycleSkipped, 0)
		return CycleReport{}, ErrCycleSkipped
	}
	defer s.running.Unlock()

	if s.locker != nil {
		token, ok, err := s.locker.TryLock(ctx, syncLockKey, syncLockTTL)
		if err != nil {
			s.metrics.CycleFinished(metrics.CycleFailed, time.Since(start))
			return CycleReport{}, fmt.Errorf("acquire sync lock: %w", err)
		}
		if !ok {
			s.metrics.CycleFinished(metrics.CycleSkipped, 0)
			return CycleReport{}, ErrCycleSkipped
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := s.locker.Release(releaseCtx, syncLockKey, token); err != nil {
				s.logger.Warn("release sync lock", zap.Error(err))
			}
		}()
	}

	report, result, err := s.runCycle(ctx)
	s.metrics.CycleFinished(result, time.Since(start))
	return report, err
}

func (s *Syncer) runCycle(ctx context.Context) (CycleReport, string, error) {
	var report CycleReport

	results := s.fetchAll(ctx)

	var all []model.Washing
	for _, r := range results {
		if !r.ok {
			report.FailedTerminals = append(report.FailedTerminals, r.terminalID)
			continue
		}

		washings, err := s.parser.Parse(r.terminalID, r.page)
		if err != nil {
			s.logger.Error("sales table has unexpected format, cycle aborted",
				zap.Int("terminal", r.terminalID),
				zap.Error(err),
			)
			return report, metrics.CycleFormatError, fmt.Errorf("parse terminal %d: %w", r.terminalID, err)
		}
		all = append(all, washings...)
	}
	report.Fetched = len(all)

	fresh, eligible, err := s.reconciler.Reconcile(ctx, all)
	if err != nil {
		return report, metrics.CycleFailed, err
	}
	report.Fresh = len(fresh)
	report.Eligible = len(eligible)
	s.metrics.NewWashings(len(fresh))

	// После сверки отмена ctx не прерывает проведение бонусов и сохранение моек.
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()

	for _, w := range eligible {
		if s.applyWashing(commitCtx, w) {
			report.BonusesApplied++
		}
	}

	if err := s.store.SaveWashings(commitCtx, all); err != nil {
		return report, metrics.CycleFailed, fmt.Errorf("save washings: %w", err)
	}

	if len(fresh) > 0 || len(report.FailedTerminals) > 0 {
		s.logger.Info("sync cycle finished",
			zap.Int("fetched", report.Fetched),
			zap.Int("fresh", report.Fresh),
			zap.Int("eligible", report.Eligible),
			zap.Ints("failed_terminals", report.FailedTerminals),
		)
	}

	return report, metrics.CycleOK, nil
}

// fetchAll параллельно забирает таблицы продаж. Неудачный терминал не отменяет остальные.
func (s *Syncer) fetchAll(ctx context.Context) []fetchResult {
	results := make([]fetchResult, len(s.terminals))

	var g errgroup.Group
	for i, t := range s.terminals {
		g.Go(func() error {
			id := t.TerminalID()
			results[i].terminalID = id

			page, err := t.FetchSalesTable(ctx)
			if err != nil {
				kind := fetchFailureKind(err)
				s.metrics.FetchFailed(id, kind)
				s.logger.Warn("sales table not fetched",
					zap.Int("terminal", id),
					zap.String("kind", kind),
					zap.Error(err),
				)
				return nil
			}

			results[i].page = page
			results[i].ok = true
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func fetchFailureKind(err error) string {
	switch {
	case errors.Is(err, terminal.ErrAuthentication):
		return metrics.FetchAuth
	case terminal.IsTransport(err):
		return metrics.FetchTransport
	default:
		return metrics.FetchUnknown
	}
}

// applyWashing проводит бонусы мойки и запускает уведомления. Ошибки логируются.
func (s *Syncer) applyWashing(ctx context.Context, w model.Washing) bool {
	log := s.logger.With(zap.String("washing", w.ID), zap.Int("terminal", w.Terminal))

	balance, err := s.ledger.Apply(ctx, w)
	if err != nil {
		log.Error("apply bonuses", zap.Error(err))
		return false
	}
	s.metrics.BonusApplied()

	if err := s.dispatcher.NotifyBonusChange(ctx, w, balance); err != nil {
		log.Error("notify bonus change", zap.Error(err))
	}

	if _, err := s.dispatcher.ScheduleFeedbackRequest(ctx, w); err != nil {
		log.Error("schedule feedback request", zap.Error(err))
	}

	return true
}
