package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mmeshcher/carwash-bot/internal/metrics"
	"github.com/mmeshcher/carwash-bot/internal/model"
	"github.com/mmeshcher/carwash-bot/internal/validation"
)

const (
	defaultNotifyInterval   = 60 * time.Millisecond
	defaultFeedbackMinDelay = 15 * time.Minute
	defaultFeedbackMaxDelay = time.Hour
)

// Random выдаёт случайные числа для задержек и выбора вопросов.
type Random interface {
	Int64N(n int64) int64
}

type globalRandom struct{}

func (globalRandom) Int64N(n int64) int64 { return rand.Int64N(n) }

// FeedbackRequester задаёт клиенту вопрос, когда срабатывает отложенная задача.
type FeedbackRequester interface {
	SendFeedbackRequest(ctx context.Context, job model.FeedbackJob) error
}

// DispatcherConfig задаёт темп рассылки и окно отложенных запросов отзыва.
type DispatcherConfig struct {
	NotifyInterval   time.Duration
	FeedbackMinDelay time.Duration
	FeedbackMaxDelay time.Duration

	Rand Random
	Now  func() time.Time
}

// Post описывает рассылку сотрудников: текст или фото с подписью.
type Post struct {
	Text  string
	Media []Media
}

// BroadcastResult содержит итог рассылки.
type BroadcastResult struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// Dispatcher рассылает уведомления и планирует запросы отзывов.
type Dispatcher struct {
	users     UserDirectory
	messenger Messenger
	scheduler JobScheduler
	requester FeedbackRequester

	limiter  *rate.Limiter
	minDelay time.Duration
	maxDelay time.Duration
	rand     Random
	now      func() time.Time

	logger  *zap.Logger
	metrics *metrics.Sync
}

// NewDispatcher создаёт рассыльщик. Нулевые поля cfg заменяются значениями по умолчанию.
func NewDispatcher(
	users UserDirectory,
	messenger Messenger,
	scheduler JobScheduler,
	requester FeedbackRequester,
	cfg DispatcherConfig,
	logger *zap.Logger,
	m *metrics.Sync,
) *Dispatcher {
	if cfg.NotifyInterval == 0 {
		cfg.NotifyInterval = defaultNotifyInterval
	}
	if cfg.FeedbackMinDelay == 0 {
		cfg.FeedbackMinDelay = defaultFeedbackMinDelay
	}
	if cfg.FeedbackMaxDelay == 0 {
		cfg.FeedbackMaxDelay = defaultFeedbackMaxDelay
	}
	if cfg.Rand == nil {
		cfg.Rand = globalRandom{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		users:     users,
		messenger: messenger,
		scheduler: scheduler,
		requester: requester,
		limiter:   newLimiter(cfg.NotifyInterval),
		minDelay:  cfg.FeedbackMinDelay,
		maxDelay:  cfg.FeedbackMaxDelay,
		rand:      cfg.Rand,
		now:       cfg.Now,
		logger:    logger,
		metrics:   m,
	}
}

func newLimiter(interval time.Duration) *rate.Limiter {
	if interval < 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// NotifyBonusChange сообщает всем пользователям с телефоном мойки об изменении баланса.
// Ошибка доставки одному пользователю не прерывает рассылку остальным.
func (d *Dispatcher) NotifyBonusChange(ctx context.Context, w model.Washing, balance model.ClientBonus) error {
	if !w.HasBonusChange() {
		return fmt.Errorf("%w: %s", ErrNoBonusChange, w.ID)
	}

	users, err := d.users.GetUsersByPhone(ctx, validation.NormalizePhone(*w.Phone))
	if err != nil {
		return fmt.Errorf("get users by phone: %w", err)
	}

	text := bonusChangeText(*w.Bonuses, balance.ActualAmount)
	for _, u := range users {
		if err := d.send(ctx, OutgoingMessage{ChatID: u.ID, Text: text}); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.logger.Warn("bonus notification not delivered",
				zap.Int64("user", u.ID),
				zap.String("washing", w.ID),
				zap.Error(err),
			)
		}
	}

	return nil
}

func bonusChangeText(delta, balance int) string {
	title := "Списание бонусов!"
	if delta > 0 {
		title = "Начисление бонусов за мойку!"
	}
	return fmt.Sprintf("%s\nКоличество: %d\nТекущий баланс: %d\n", title, delta, balance)
}

// ScheduleFeedbackRequest планирует запрос отзыва каждому пользователю с телефоном мойки.
// Время срабатывания выбирается равномерно в окне [FeedbackMinDelay, FeedbackMaxDelay].
func (d *Dispatcher) ScheduleFeedbackRequest(ctx context.Context, w model.Washing) ([]model.FeedbackJob, error) {
	if w.Phone == nil {
		return nil, nil
	}

	users, err := d.users.GetUsersByPhone(ctx, validation.NormalizePhone(*w.Phone))
	if err != nil {
		return nil, fmt.Errorf("get users by phone: %w", err)
	}

	jobs := make([]model.FeedbackJob, 0, len(users))
	for _, u := range users {
		job := model.FeedbackJob{
			UserID:    u.ID,
			WashingID: w.ID,
			FireAt:    d.fireTime(),
		}
		d.scheduler.At(job.FireAt, fmt.Sprintf("feedback:%d:%s", u.ID, w.ID), func(ctx context.Context) {
			if err := d.requester.SendFeedbackRequest(ctx, job); err != nil {
				d.logger.Error("feedback request failed",
					zap.Int64("user", job.UserID),
					zap.String("washing", job.WashingID),
					zap.Error(err),
				)
			}
		})
		jobs = append(jobs, job)
	}

	return jobs, nil
}

func (d *Dispatcher) fireTime() time.Time {
	delay := d.minDelay
	if span := d.maxDelay - d.minDelay; span > 0 {
		delay += time.Duration(d.rand.Int64N(int64(span) + 1))
	}
	return d.now().Add(delay)
}

// Broadcast отправляет пост всем пользователям бота.
func (d *Dispatcher) Broadcast(ctx context.Context, post Post) (BroadcastResult, error) {
	if post.Text == "" && len(post.Media) == 0 {
		return BroadcastResult{}, errors.New("empty post")
	}

	users, err := d.users.GetAllUsers(ctx)
	if err != nil {
		return BroadcastResult{}, fmt.Errorf("get users: %w", err)
	}

	var res BroadcastResult
	for _, u := range users {
		var err error
		if len(post.Media) > 0 {
			err = d.sendMedia(ctx, u.ID, withCaption(post.Media, post.Text))
		} else {
			err = d.send(ctx, OutgoingMessage{ChatID: u.ID, Text: post.Text})
		}

		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Failed++
			d.logger.Warn("post not delivered", zap.Int64("user", u.ID), zap.Error(err))
			continue
		}
		res.Sent++
	}

	d.logger.Info("broadcast finished", zap.Int("sent", res.Sent), zap.Int("failed", res.Failed))
	return res, nil
}

func (d *Dispatcher) send(ctx context.Context, msg OutgoingMessage) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	err := d.messenger.SendMessage(ctx, msg)
	d.metrics.Notification(deliveryResult(err))
	return err
}

func (d *Dispatcher) sendMedia(ctx context.Context, chatID int64, media []Media) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	err := d.messenger.SendMediaGroup(ctx, chatID, media)
	d.metrics.Notification(deliveryResult(err))
	return err
}

func deliveryResult(err error) string {
	switch {
	case err == nil:
		return metrics.NotificationSent
	case errors.Is(err, ErrRecipientBlocked):
		return metrics.NotificationBlocked
	default:
		return metrics.NotificationFailed
	}
}

// withCaption ставит подпись первому вложению, как это делает клиент Telegram для альбомов.
func withCaption(media []Media, caption string) []Media {
	if caption == "" || len(media) == 0 {
		return media
	}
	out := make([]Media, len(media))
	copy(out, media)
	if out[0].Caption == "" {
		out[0].Caption = caption
	} else {
		out[0].Caption = caption + out[0].Caption
	}
	return out
}
