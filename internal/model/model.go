// Package model содержит доменные сущности бота автомойки.
package model

import "time"

// Terminal описывает подключение к веб-панели терминала мойки.
type Terminal struct {
	ID       int    `yaml:"id"`
	URL      string `yaml:"url"`
	Login    string `yaml:"login"`
	Password string `yaml:"password"`
}

// Washing описывает одну транзакцию из таблицы продаж терминала.
type Washing struct {
	ID        string
	Terminal  int
	Date      *time.Time
	State     string
	StartDate *time.Time
	EndDate   *time.Time
	Mode      int
	Phone     *string
	Bonuses   *int
	Promocode *int
	Price     int
}

// HasBonusChange сообщает, участвует ли мойка в начислении или списании бонусов.
func (w Washing) HasBonusChange() bool {
	return w.Phone != nil && w.Bonuses != nil
}

// ClientBonus хранит бонусный баланс клиента по номеру телефона.
type ClientBonus struct {
	Phone        string
	ActualAmount int
}

// User представляет пользователя бота. ID совпадает с идентификатором чата.
type User struct {
	ID         int64
	Phone      *string
	IsReviewer bool
	CreatedAt  time.Time
}

// QuestionCategory задаёт тип вопроса обратной связи.
type QuestionCategory string

const (
	CategoryMeasurable QuestionCategory = "measurable"
	CategoryYesNo      QuestionCategory = "yes_no"
	CategoryWashing    QuestionCategory = "washing"
)

// Question описывает вопрос, который бот задаёт клиенту после мойки.
type Question struct {
	ID         int64
	Text       string
	Active     bool
	Categories []QuestionCategory
}

// HasCategory проверяет, относится ли вопрос к указанной категории.
func (q Question) HasCategory(c QuestionCategory) bool {
	for _, qc := range q.Categories {
		if qc == c {
			return true
		}
	}
	return false
}

// Feedback связывает вопрос, пользователя и мойку с полученным ответом.
type Feedback struct {
	ID         int64
	UserID     int64
	QuestionID int64
	WashingID  string
	Answer     *string
	CreatedAt  time.Time
}

// FeedbackJob описывает отложенный запрос отзыва.
type FeedbackJob struct {
	UserID    int64
	WashingID string
	FireAt    time.Time
}

// ConversationKind определяет, какой ответ бот ожидает от пользователя.
type ConversationKind string

const (
	ConversationMeasurable ConversationKind = "measurable_feedback"
	ConversationYesNo      ConversationKind = "yes_no_feedback"
	ConversationFeedback   ConversationKind = "feedback"
	ConversationPhone      ConversationKind = "phone"
)

// Conversation хранит состояние диалога с пользователем.
type Conversation struct {
	Kind       ConversationKind `json:"kind"`
	FeedbackID int64            `json:"feedback_id,omitempty"`
}
