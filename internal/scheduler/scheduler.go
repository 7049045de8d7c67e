// Package scheduler запускает периодические задачи по cron-расписанию и отложенные разовые задачи.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler объединяет cron для периодических задач и таймеры для разовых.
// Периодическая задача не запускается повторно, пока не завершился её предыдущий запуск.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
	wg      sync.WaitGroup
}

// New создаёт планировщик, интерпретирующий cron-расписания в часовом поясе loc.
func New(loc *time.Location, logger *zap.Logger) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cl := cronLogger{log: logger.Sugar()}
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		timers: make(map[string]*time.Timer),
	}
}

// Every регистрирует периодическую задачу. spec задаётся стандартным пятипольным cron-выражением.
func (s *Scheduler) Every(spec, name string, fn func(ctx context.Context)) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.logger.Debug("job started", zap.String("job", name))
		fn(s.ctx)
	})
	if err != nil {
		return fmt.Errorf("add job %s: %w", name, err)
	}
	return nil
}

// At планирует разовый запуск fn в момент when. Прошедший момент означает немедленный запуск.
// Задачи не переживают перезапуск процесса.
func (s *Scheduler) At(when time.Time, name string, fn func(ctx context.Context)) {
	id := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		s.logger.Warn("scheduler stopped, job dropped", zap.String("job", name))
		return
	}

	s.timers[id] = time.AfterFunc(time.Until(when), func() {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return
		}
		delete(s.timers, id)
		s.wg.Add(1)
		s.mu.Unlock()

		defer s.wg.Done()
		s.runOnce(name, fn)
	})

	s.logger.Debug("job scheduled", zap.String("job", name), zap.String("id", id), zap.Time("at", when))
}

func (s *Scheduler) runOnce(name string, fn func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job panicked", zap.String("job", name), zap.Any("panic", r))
		}
	}()
	fn(s.ctx)
}

// Pending возвращает число ещё не сработавших разовых задач.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Start запускает cron в фоне.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop отменяет несработавшие разовые задачи и ждёт завершения запущенных.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	s.cancel()
	cronDone := s.cron.Stop()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger передаёт сообщения cron в zap.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
