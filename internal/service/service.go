// Package service реализует синхронизацию терминалов и бизнес-логику бота автомойки.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/mmeshcher/carwash-bot/internal/model"
)

// ErrRecipientBlocked возвращается мессенджером, если пользователь заблокировал бота.
var ErrRecipientBlocked = errors.New("recipient blocked the bot")

// WashingStore описывает историю моек, против которой сверяются новые записи.
type WashingStore interface {
	WashingExists(ctx context.Context, id string) (bool, error)
	SaveWashings(ctx context.Context, washings []model.Washing) error
}

// BonusStore описывает хранилище бонусных балансов клиентов.
type BonusStore interface {
	GetClientBonus(ctx context.Context, phone string) (*model.ClientBonus, error)
	CreateClientBonus(ctx context.Context, phone string) error
	AddBonuses(ctx context.Context, phone string, delta int) (int, error)
}

// UserDirectory описывает хранилище пользователей бота.
type UserDirectory interface {
	AddUser(ctx context.Context, id int64) error
	GetUser(ctx context.Context, id int64) (*model.User, error)
	SetUserPhone(ctx context.Context, id int64, phone string) error
	GetUsersByPhone(ctx context.Context, phone string) ([]model.User, error)
	GetAllUsers(ctx context.Context) ([]model.User, error)
	GetReviewers(ctx context.Context) ([]model.User, error)
}

// FeedbackStore описывает хранилище вопросов и отзывов.
type FeedbackStore interface {
	GetActiveQuestions(ctx context.Context, category *model.QuestionCategory) ([]model.Question, error)
	GetQuestion(ctx context.Context, id int64) (*model.Question, error)
	CreateFeedback(ctx context.Context, userID, questionID int64, washingID string) (int64, error)
	GetFeedback(ctx context.Context, id int64) (*model.Feedback, error)
	SetFeedbackAnswer(ctx context.Context, id int64, answer string) error
	GetClientFeedbacks(ctx context.Context, userID int64, category model.QuestionCategory) ([]model.Feedback, error)
}

// ConversationStore хранит состояние диалога по идентификатору чата.
// Get возвращает nil без ошибки, если диалога нет.
type ConversationStore interface {
	Get(ctx context.Context, chatID int64) (*model.Conversation, error)
	Set(ctx context.Context, chatID int64, conv model.Conversation) error
	Clear(ctx context.Context, chatID int64) error
}

// JobScheduler запускает отложенные и периодические задачи.
type JobScheduler interface {
	At(when time.Time, name string, fn func(ctx context.Context))
	Every(spec, name string, fn func(ctx context.Context)) error
}

// Locker выдаёт короткоживущие распределённые блокировки.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

// Terminal описывает клиент одного терминала мойки.
type Terminal interface {
	TerminalID() int
	FetchSalesTable(ctx context.Context) (string, error)
	AddBonus(ctx context.Context, phone string, amount int, note string) error
}

// Messenger доставляет сообщения пользователям бота.
type Messenger interface {
	SendMessage(ctx context.Context, msg OutgoingMessage) error
	SendMediaGroup(ctx context.Context, chatID int64, media []Media) error
}

// OutgoingMessage описывает текстовое сообщение с необязательной клавиатурой ответа.
type OutgoingMessage struct {
	ChatID         int64
	Text           string
	Keyboard       [][]string
	RemoveKeyboard bool
}

// MediaKind задаёт тип вложения.
type MediaKind string

const (
	MediaPhoto MediaKind = "photo"
	MediaVideo MediaKind = "video"
)

// Media описывает вложение, уже загруженное в мессенджер.
type Media struct {
	Kind    MediaKind
	FileID  string
	Caption string
}
