// Package telegram связывает бота автомойки с Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/carwash-bot/internal/service"
)

// sender покрывает часть tgbotapi.BotAPI, через которую уходят сообщения.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	SendMediaGroup(config tgbotapi.MediaGroupConfig) ([]tgbotapi.Message, error)
}

// Messenger доставляет сообщения сервиса через Telegram.
type Messenger struct {
	api    sender
	logger *zap.Logger
}

// NewMessenger создаёт мессенджер поверх клиента Bot API.
func NewMessenger(api sender, logger *zap.Logger) *Messenger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Messenger{api: api, logger: logger}
}

// SendMessage отправляет текст с клавиатурой ответа, если она задана.
func (m *Messenger) SendMessage(ctx context.Context, msg service.OutgoingMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	out := tgbotapi.NewMessage(msg.ChatID, msg.Text)
	switch {
	case len(msg.Keyboard) > 0:
		out.ReplyMarkup = replyKeyboard(msg.Keyboard)
	case msg.RemoveKeyboard:
		out.ReplyMarkup = tgbotapi.NewRemoveKeyboard(true)
	}

	if _, err := m.api.Send(out); err != nil {
		return classify(msg.ChatID, err)
	}
	return nil
}

// SendMediaGroup отправляет альбом из фото и видео.
func (m *Messenger) SendMediaGroup(ctx context.Context, chatID int64, media []service.Media) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(media) == 0 {
		return nil
	}

	files := make([]any, 0, len(media))
	for _, item := range media {
		switch item.Kind {
		case service.MediaVideo:
			v := tgbotapi.NewInputMediaVideo(tgbotapi.FileID(item.FileID))
			v.Caption = item.Caption
			files = append(files, v)
		default:
			p := tgbotapi.NewInputMediaPhoto(tgbotapi.FileID(item.FileID))
			p.Caption = item.Caption
			files = append(files, p)
		}
	}

	if _, err := m.api.SendMediaGroup(tgbotapi.NewMediaGroup(chatID, files)); err != nil {
		return classify(chatID, err)
	}
	return nil
}

func replyKeyboard(rows [][]string) tgbotapi.ReplyKeyboardMarkup {
	buttons := make([][]tgbotapi.KeyboardButton, 0, len(rows))
	for _, row := range rows {
		r := make([]tgbotapi.KeyboardButton, 0, len(row))
		for _, text := range row {
			r = append(r, tgbotapi.NewKeyboardButton(text))
		}
		buttons = append(buttons, r)
	}

	kb := tgbotapi.NewReplyKeyboard(buttons...)
	kb.ResizeKeyboard = true
	return kb
}

func classify(chatID int64, err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusForbidden {
		return fmt.Errorf("chat %d: %w", chatID, service.ErrRecipientBlocked)
	}
	return fmt.Errorf("send to chat %d: %w", chatID, err)
}
