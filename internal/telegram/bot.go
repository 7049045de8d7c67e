package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/carwash-bot/internal/model"
	"github.com/mmeshcher/carwash-bot/internal/repository"
	"github.com/mmeshcher/carwash-bot/internal/service"
	"github.com/mmeshcher/carwash-bot/internal/validation"
)

// Кнопки главного меню.
const (
	BonusesButton = "Узнать бонусы 💰"
	PhoneButton   = "Телефон📱: "

	phoneNotSet = "Не указан"
)

const (
	greetingText = "Приветствую тебя! 😉\n\n" +
		"Я твой персональный ассистент, готовый помочь сделать твой автомобиль снова чистым. " +
		"Со мной ты сможешь узнать количество бонусов на твоем номере телефона и рассказать нам о своей мойке.\n\n" +
		"Буду рад помочь тебе, обращайся когда понадоблюсь 😄"
	askPhoneText     = "Введите пожалуйста новый номер телефона"
	invalidPhoneText = "Некорректный номер телефона"
)

// Bot принимает обновления Telegram и маршрутизирует их по сценариям бота.
type Bot struct {
	api           *tgbotapi.BotAPI
	messenger     service.Messenger
	users         service.UserDirectory
	ledger        *service.Ledger
	feedback      *service.FeedbackService
	conversations service.ConversationStore
	chats         *chatLocks
	logger        *zap.Logger
}

// NewBot создаёт бота. api используется только для получения обновлений.
func NewBot(
	api *tgbotapi.BotAPI,
	messenger service.Messenger,
	users service.UserDirectory,
	ledger *service.Ledger,
	feedback *service.FeedbackService,
	conversations service.ConversationStore,
	logger *zap.Logger,
) *Bot {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bot{
		api:           api,
		messenger:     messenger,
		users:         users,
		ledger:        ledger,
		feedback:      feedback,
		conversations: conversations,
		chats:         newChatLocks(),
		logger:        logger,
	}
}

// Run получает обновления long polling до отмены ctx.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	b.logger.Info("telegram bot started", zap.String("username", b.api.Self.UserName))

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.logger.Info("telegram bot stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				return errors.New("telegram updates channel closed")
			}
			if update.Message == nil {
				continue
			}
			go b.dispatch(ctx, fromMessage(update.Message))
		}
	}
}

// incoming хранит входящее сообщение пользователя без деталей Bot API.
type incoming struct {
	ChatID  int64
	Text    string
	Command string
	Media   []service.Media
}

func fromMessage(msg *tgbotapi.Message) incoming {
	in := incoming{ChatID: msg.Chat.ID, Text: strings.TrimSpace(msg.Text)}
	if msg.IsCommand() {
		in.Command = msg.Command()
	}
	if in.Text == "" {
		in.Text = strings.TrimSpace(msg.Caption)
	}

	switch {
	case len(msg.Photo) > 0:
		in.Media = []service.Media{{Kind: service.MediaPhoto, FileID: msg.Photo[len(msg.Photo)-1].FileID}}
	case msg.Video != nil:
		in.Media = []service.Media{{Kind: service.MediaVideo, FileID: msg.Video.FileID}}
	}
	return in
}

// dispatch обрабатывает сообщение, пока остальные сообщения того же чата ждут.
func (b *Bot) dispatch(ctx context.Context, in incoming) {
	unlock := b.chats.lock(in.ChatID)
	defer unlock()

	b.handle(ctx, in)
}

func (b *Bot) handle(ctx context.Context, in incoming) {
	log := b.logger.With(zap.Int64("chat", in.ChatID))

	var err error
	switch {
	case in.Command == "start":
		err = b.start(ctx, in.ChatID)
	case in.Text == BonusesButton:
		err = b.showBonuses(ctx, in.ChatID)
	case strings.HasPrefix(in.Text, PhoneButton):
		err = b.askPhone(ctx, in.ChatID)
	default:
		err = b.reply(ctx, in)
	}

	if err != nil {
		log.Error("handle message", zap.Error(err))
	}
}

func (b *Bot) start(ctx context.Context, chatID int64) error {
	if err := b.users.AddUser(ctx, chatID); err != nil {
		return err
	}
	if err := b.conversations.Clear(ctx, chatID); err != nil {
		return err
	}
	return b.send(ctx, chatID, greetingText)
}

func (b *Bot) showBonuses(ctx context.Context, chatID int64) error {
	user, err := b.user(ctx, chatID)
	if err != nil {
		return err
	}
	if user.Phone == nil {
		return b.askPhone(ctx, chatID)
	}

	balance, err := b.ledger.Balance(ctx, *user.Phone)
	if err != nil {
		return err
	}

	return b.messenger.SendMessage(ctx, service.OutgoingMessage{
		ChatID: chatID,
		Text: fmt.Sprintf("Ваш текущий баланс:\nТелефон: %s\nБонусы: %d",
			validation.FormatPhone(balance.Phone), balance.ActualAmount),
	})
}

func (b *Bot) askPhone(ctx context.Context, chatID int64) error {
	if err := b.conversations.Set(ctx, chatID, model.Conversation{Kind: model.ConversationPhone}); err != nil {
		return err
	}
	return b.messenger.SendMessage(ctx, service.OutgoingMessage{
		ChatID:         chatID,
		Text:           askPhoneText,
		RemoveKeyboard: true,
	})
}

func (b *Bot) reply(ctx context.Context, in incoming) error {
	conv, err := b.conversations.Get(ctx, in.ChatID)
	if err != nil {
		return err
	}
	if conv != nil && conv.Kind == model.ConversationPhone {
		return b.setPhone(ctx, in)
	}

	menu, err := b.menu(ctx, in.ChatID)
	if err != nil {
		return err
	}

	_, err = b.feedback.SubmitAnswer(ctx, service.Answer{
		ChatID: in.ChatID,
		Text:   in.Text,
		Media:  in.Media,
		Menu:   menu,
	})
	return err
}

func (b *Bot) setPhone(ctx context.Context, in incoming) error {
	if !validation.IsValidPhone(in.Text) {
		return b.messenger.SendMessage(ctx, service.OutgoingMessage{ChatID: in.ChatID, Text: invalidPhoneText})
	}
	phone := validation.NormalizePhone(in.Text)

	if err := b.users.AddUser(ctx, in.ChatID); err != nil {
		return err
	}
	if err := b.users.SetUserPhone(ctx, in.ChatID, phone); err != nil {
		return err
	}
	if _, err := b.ledger.Balance(ctx, phone); err != nil {
		return err
	}
	if err := b.conversations.Clear(ctx, in.ChatID); err != nil {
		return err
	}

	return b.send(ctx, in.ChatID, "Вы сменили номер телефона!\nНовый номер: "+validation.FormatPhone(phone))
}

// send отправляет текст вместе с главным меню пользователя.
func (b *Bot) send(ctx context.Context, chatID int64, text string) error {
	menu, err := b.menu(ctx, chatID)
	if err != nil {
		return err
	}
	return b.messenger.SendMessage(ctx, service.OutgoingMessage{ChatID: chatID, Text: text, Keyboard: menu})
}

func (b *Bot) menu(ctx context.Context, chatID int64) ([][]string, error) {
	user, err := b.user(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return Menu(user.Phone), nil
}

func (b *Bot) user(ctx context.Context, chatID int64) (*model.User, error) {
	user, err := b.users.GetUser(ctx, chatID)
	if errors.Is(err, repository.ErrUserNotFound) {
		if err := b.users.AddUser(ctx, chatID); err != nil {
			return nil, err
		}
		return &model.User{ID: chatID}, nil
	}
	return user, err
}

// Menu строит главное меню пользователя с привязанным телефоном.
func Menu(phone *string) [][]string {
	phoneText := phoneNotSet
	if phone != nil {
		phoneText = validation.FormatPhone(*phone)
	}
	return [][]string{
		{BonusesButton},
		{PhoneButton + phoneText},
	}
}
