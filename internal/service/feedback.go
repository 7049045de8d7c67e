package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mmeshcher/carwash-bot/internal/model"
)

// ErrNoQuestions возвращается, если в базе нет активных вопросов.
var ErrNoQuestions = errors.New("no active questions")

const (
	feedbackIntro = "Вы недавно посещали МойРобот!\nОтветьте пожалуйста на наш вопрос, мы будем очень благодарны ;)\n"
	mediaHint     = "Вы также можете прикрепить фото и видео, но не больше 10\n"

	thanksText        = "Спасибо, что оставили отзыв!"
	chooseMarkText    = "Выберите рейтинг из клавиатуры!"
	chooseAnswerText  = "Выберите ответ из клавиатуры!"
	badFeedbackNote   = "За плохой отзыв"
	maxBadMark        = 3
	defaultBadBonus   = 100
	reviewerInterval  = 50 * time.Millisecond
	maxFeedbackMedia  = 10
	yesButton         = "Да"
	noButton          = "Нет"
	markSuffix        = " ⭐"
	reviewerTextTitle = "Получен отзыв от клиента!"
)

var markPattern = regexp.MustCompile(`^([1-5]) ⭐`)

// MarkKeyboard содержит клавиатуру оценки от одной до пяти звёзд.
var MarkKeyboard = [][]string{{"1" + markSuffix, "2" + markSuffix, "3" + markSuffix, "4" + markSuffix, "5" + markSuffix}}

// YesNoKeyboard содержит клавиатуру ответа на закрытый вопрос.
var YesNoKeyboard = [][]string{{noButton, yesButton}}

// FeedbackConfig задаёт параметры сбора отзывов.
type FeedbackConfig struct {
	BadFeedbackBonus int
	ReviewerInterval time.Duration
	Rand             Random
}

// Answer описывает ответ клиента в активном диалоге отзыва.
type Answer struct {
	ChatID int64
	Text   string
	Media  []Media
	// Menu показывается клиенту после принятого ответа.
	Menu [][]string
}

// AnswerOutcome описывает, что произошло с ответом.
type AnswerOutcome int

const (
	// AnswerIgnored: у чата нет активного диалога отзыва.
	AnswerIgnored AnswerOutcome = iota
	// AnswerRejected: ответ не подходит к вопросу, клиент получил подсказку.
	AnswerRejected
	// AnswerAccepted: ответ сохранён и отправлен сотрудникам.
	AnswerAccepted
)

// FeedbackService задаёт клиентам вопросы после мойки и обрабатывает ответы.
type FeedbackService struct {
	store         FeedbackStore
	users         UserDirectory
	conversations ConversationStore
	messenger     Messenger
	terminal      Terminal

	badBonus int
	rand     Random
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// NewFeedbackService создаёт сервис отзывов. Компенсация за плохой отзыв начисляется через terminal;
// при nil компенсация не начисляется.
func NewFeedbackService(
	store FeedbackStore,
	users UserDirectory,
	conversations ConversationStore,
	messenger Messenger,
	terminal Terminal,
	cfg FeedbackConfig,
	logger *zap.Logger,
) *FeedbackService {
	if cfg.BadFeedbackBonus == 0 {
		cfg.BadFeedbackBonus = defaultBadBonus
	}
	if cfg.ReviewerInterval == 0 {
		cfg.ReviewerInterval = reviewerInterval
	}
	if cfg.Rand == nil {
		cfg.Rand = globalRandom{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &FeedbackService{
		store:         store,
		users:         users,
		conversations: conversations,
		messenger:     messenger,
		terminal:      terminal,
		badBonus:      cfg.BadFeedbackBonus,
		rand:          cfg.Rand,
		limiter:       newLimiter(cfg.ReviewerInterval),
		logger:        logger,
	}
}

// SendFeedbackRequest выбирает случайный активный вопрос и задаёт его клиенту.
func (s *FeedbackService) SendFeedbackRequest(ctx context.Context, job model.FeedbackJob) error {
	q, err := s.randomQuestion(ctx, nil)
	if err != nil {
		return err
	}

	feedbackID, err := s.store.CreateFeedback(ctx, job.UserID, q.ID, job.WashingID)
	if err != nil {
		return err
	}

	kind, msg := questionMessage(job.UserID, q)
	if err := s.conversations.Set(ctx, job.UserID, model.Conversation{Kind: kind, FeedbackID: feedbackID}); err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}

	if err := s.messenger.SendMessage(ctx, msg); err != nil {
		return fmt.Errorf("send question: %w", err)
	}

	s.logger.Info("feedback requested",
		zap.Int64("user", job.UserID),
		zap.String("washing", job.WashingID),
		zap.Int64("question", q.ID),
	)
	return nil
}

func (s *FeedbackService) randomQuestion(ctx context.Context, category *model.QuestionCategory) (*model.Question, error) {
	questions, err := s.store.GetActiveQuestions(ctx, category)
	if err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return nil, ErrNoQuestions
	}
	q := questions[s.rand.Int64N(int64(len(questions)))]
	return &q, nil
}

func questionMessage(chatID int64, q *model.Question) (model.ConversationKind, OutgoingMessage) {
	switch {
	case q.HasCategory(model.CategoryMeasurable):
		return model.ConversationMeasurable, OutgoingMessage{
			ChatID:   chatID,
			Text:     feedbackIntro + q.Text,
			Keyboard: MarkKeyboard,
		}
	case q.HasCategory(model.CategoryYesNo):
		return model.ConversationYesNo, OutgoingMessage{
			ChatID:   chatID,
			Text:     feedbackIntro + q.Text,
			Keyboard: YesNoKeyboard,
		}
	default:
		return model.ConversationFeedback, OutgoingMessage{
			ChatID:         chatID,
			Text:           feedbackIntro + mediaHint + q.Text,
			RemoveKeyboard: true,
		}
	}
}

// SubmitAnswer принимает ответ клиента на заданный вопрос.
func (s *FeedbackService) SubmitAnswer(ctx context.Context, a Answer) (AnswerOutcome, error) {
	conv, err := s.conversations.Get(ctx, a.ChatID)
	if err != nil {
		return AnswerIgnored, fmt.Errorf("get conversation: %w", err)
	}
	if conv == nil || conv.FeedbackID == 0 {
		return AnswerIgnored, nil
	}

	var stored, shown string
	mark := 0

	switch conv.Kind {
	case model.ConversationMeasurable:
		m := markPattern.FindStringSubmatch(strings.TrimSpace(a.Text))
		if m == nil {
			return AnswerRejected, s.messenger.SendMessage(ctx, OutgoingMessage{
				ChatID: a.ChatID, Text: chooseMarkText, Keyboard: MarkKeyboard,
			})
		}
		mark, _ = strconv.Atoi(m[1])
		stored = m[1]
		shown = strings.Repeat("⭐", mark)
	case model.ConversationYesNo:
		text := strings.TrimSpace(a.Text)
		if text != yesButton && text != noButton {
			return AnswerRejected, s.messenger.SendMessage(ctx, OutgoingMessage{
				ChatID: a.ChatID, Text: chooseAnswerText, Keyboard: YesNoKeyboard,
			})
		}
		stored, shown = text, text
	case model.ConversationFeedback:
		if len(a.Media) > maxFeedbackMedia {
			a.Media = a.Media[:maxFeedbackMedia]
		}
		stored, shown = a.Text, a.Text
	default:
		return AnswerIgnored, nil
	}

	feedback, err := s.store.GetFeedback(ctx, conv.FeedbackID)
	if err != nil {
		return AnswerIgnored, err
	}
	if err := s.store.SetFeedbackAnswer(ctx, feedback.ID, stored); err != nil {
		return AnswerIgnored, err
	}
	if err := s.conversations.Clear(ctx, a.ChatID); err != nil {
		s.logger.Warn("conversation not cleared", zap.Int64("chat", a.ChatID), zap.Error(err))
	}

	if err := s.messenger.SendMessage(ctx, OutgoingMessage{
		ChatID: a.ChatID, Text: thanksText, Keyboard: a.Menu, RemoveKeyboard: a.Menu == nil,
	}); err != nil {
		s.logger.Warn("thanks not delivered", zap.Int64("chat", a.ChatID), zap.Error(err))
	}

	q, err := s.store.GetQuestion(ctx, feedback.QuestionID)
	if err != nil {
		return AnswerAccepted, err
	}

	s.notifyReviewers(ctx, q, shown, a.Media)

	if mark > 0 && mark <= maxBadMark && q.HasCategory(model.CategoryWashing) {
		if err := s.compensate(ctx, feedback); err != nil {
			return AnswerAccepted, fmt.Errorf("compensate bad feedback: %w", err)
		}
	}

	return AnswerAccepted, nil
}

func (s *FeedbackService) notifyReviewers(ctx context.Context, q *model.Question, answer string, media []Media) {
	reviewers, err := s.users.GetReviewers(ctx)
	if err != nil {
		s.logger.Error("get reviewers", zap.Error(err))
		return
	}

	text := fmt.Sprintf("%s\nВопрос: %s\nОтвет: %s", reviewerTextTitle, q.Text, answer)
	for _, r := range reviewers {
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}

		var err error
		if len(media) > 0 {
			err = s.messenger.SendMediaGroup(ctx, r.ID, withCaption(media, text+"\n"))
		} else {
			err = s.messenger.SendMessage(ctx, OutgoingMessage{ChatID: r.ID, Text: text})
		}
		if err != nil {
			s.logger.Warn("feedback not delivered to reviewer", zap.Int64("reviewer", r.ID), zap.Error(err))
		}
	}
}

// compensate начисляет бонусы за плохую оценку мойки, но не чаще одного раза на клиента.
func (s *FeedbackService) compensate(ctx context.Context, feedback *model.Feedback) error {
	if s.terminal == nil {
		return nil
	}

	previous, err := s.store.GetClientFeedbacks(ctx, feedback.UserID, model.CategoryWashing)
	if err != nil {
		return err
	}
	for _, f := range previous {
		if f.ID == feedback.ID || f.Answer == nil {
			continue
		}
		if mark, err := strconv.Atoi(*f.Answer); err == nil && mark <= maxBadMark {
			return nil
		}
	}

	user, err := s.users.GetUser(ctx, feedback.UserID)
	if err != nil {
		return err
	}
	if user.Phone == nil {
		s.logger.Warn("bad feedback from client without phone", zap.Int64("user", user.ID))
		return nil
	}

	if err := s.terminal.AddBonus(ctx, *user.Phone, s.badBonus, badFeedbackNote); err != nil {
		return err
	}

	s.logger.Info("bad feedback compensated",
		zap.Int64("user", user.ID),
		zap.Int("bonus", s.badBonus),
		zap.Int("terminal", s.terminal.TerminalID()),
	)

	text := fmt.Sprintf("Очень жаль, что вы так оценили наши услуги(\nВ качестве извинения мы начислим вам %d бонусов", s.badBonus)
	if err := s.messenger.SendMessage(ctx, OutgoingMessage{ChatID: user.ID, Text: text}); err != nil {
		s.logger.Warn("compensation message not delivered", zap.Int64("user", user.ID), zap.Error(err))
	}
	return nil
}
