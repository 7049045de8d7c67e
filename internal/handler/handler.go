// Package handler содержит HTTP-обработчики операторского API бота автомойки.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/mmeshcher/carwash-bot/internal/middleware"
	"github.com/mmeshcher/carwash-bot/internal/model"
	"github.com/mmeshcher/carwash-bot/internal/parser"
	"github.com/mmeshcher/carwash-bot/internal/repository"
	"github.com/mmeshcher/carwash-bot/internal/service"
	"github.com/mmeshcher/carwash-bot/internal/terminal"
	"github.com/mmeshcher/carwash-bot/internal/validation"
)

const defaultBonusNote = "Начисление оператором"

// Service определяет операции, которые вызывает операторское API.
type Service interface {
	Ping(ctx context.Context) error
	RunSync(ctx context.Context) (service.CycleReport, error)
	Balance(ctx context.Context, phone string) (model.ClientBonus, error)
	AddBonus(ctx context.Context, terminalID int, phone string, amount int, note string) error
	Broadcast(ctx context.Context, post service.Post) (service.BroadcastResult, error)
}

// Handler реализует HTTP-обработчики операторского API.
type Handler struct {
	service  Service
	logger   *zap.Logger
	auth     *middleware.TokenAuth
	gatherer prometheus.Gatherer
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.TokenAuth, gatherer prometheus.Gatherer) *Handler {
	return &Handler{
		service:  s,
		logger:   logger,
		auth:     auth,
		gatherer: gatherer,
	}
}

// Health проверяет доступность базы данных.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Ping(r.Context()); err != nil {
		h.logger.Error("health check error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// RunSync запускает цикл синхронизации и возвращает его итог.
func (h *Handler) RunSync(w http.ResponseWriter, r *http.Request) {
	// Цикл доводится до конца, даже если оператор закрыл соединение.
	report, err := h.service.RunSync(context.WithoutCancel(r.Context()))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrCycleSkipped):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		case errors.Is(err, parser.ErrFormat):
			h.logger.Error("sync cycle aborted", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		default:
			h.logger.Error("sync cycle error", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, report)
}

type balanceResponse struct {
	Phone   string `json:"phone"`
	Bonuses int    `json:"bonuses"`
}

// GetBalance возвращает бонусный баланс клиента по номеру телефона.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	phone := chi.URLParam(r, "phone")
	if !validation.IsValidPhone(phone) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	balance, err := h.service.Balance(r.Context(), phone)
	if err != nil {
		if errors.Is(err, repository.ErrClientBonusNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get balance error", zap.Error(err), zap.String("phone", phone))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, balanceResponse{Phone: balance.Phone, Bonuses: balance.ActualAmount})
}

type addBonusRequest struct {
	Phone  string `json:"phone"`
	Amount int    `json:"amount"`
	Note   string `json:"note"`
}

// AddBonus начисляет бонусы клиенту через панель терминала.
func (h *Handler) AddBonus(w http.ResponseWriter, r *http.Request) {
	terminalID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req addBonusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if req.Amount <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if !validation.IsValidPhone(req.Phone) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	note := strings.TrimSpace(req.Note)
	if note == "" {
		note = defaultBonusNote
	}

	err = h.service.AddBonus(r.Context(), terminalID, validation.NormalizePhone(req.Phone), req.Amount, note)
	if err != nil {
		var transportErr *terminal.TransportError
		switch {
		case errors.Is(err, terminal.ErrInvalidPhone):
			http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		case errors.Is(err, terminal.ErrUnknownPartner), errors.Is(err, service.ErrUnknownTerminal):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.As(err, &transportErr), errors.Is(err, terminal.ErrAuthentication):
			h.logger.Warn("terminal rejected bonus", zap.Error(err), zap.Int("terminal", terminalID))
			http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		default:
			h.logger.Error("add bonus error", zap.Error(err), zap.Int("terminal", terminalID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
}

type mediaRequest struct {
	Kind   string `json:"kind"`
	FileID string `json:"file_id"`
}

type broadcastRequest struct {
	Text  string         `json:"text"`
	Media []mediaRequest `json:"media"`
}

// Broadcast рассылает пост всем пользователям бота.
func (h *Handler) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	post := service.Post{Text: strings.TrimSpace(req.Text)}
	for _, m := range req.Media {
		kind := service.MediaKind(m.Kind)
		if (kind != service.MediaPhoto && kind != service.MediaVideo) || m.FileID == "" {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		post.Media = append(post.Media, service.Media{Kind: kind, FileID: m.FileID})
	}
	if post.Text == "" && len(post.Media) == 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	res, err := h.service.Broadcast(r.Context(), post)
	if err != nil {
		h.logger.Error("broadcast error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, res)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
