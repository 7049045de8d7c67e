package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/mmeshcher/carwash-bot/internal/model"
	"github.com/mmeshcher/carwash-bot/internal/repository"
)

type stubRepo struct {
	mu sync.Mutex

	washings map[string]model.Washing
	saveErr  error
	saves    int

	bonuses  map[string]int
	bonusErr error

	users []model.User

	questions   []model.Question
	feedbacks   map[int64]*model.Feedback
	nextFeedbID int64
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		washings:  map[string]model.Washing{},
		bonuses:   map[string]int{},
		feedbacks: map[int64]*model.Feedback{},
	}
}

func (s *stubRepo) WashingExists(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.washings[id]
	return ok, nil
}

func (s *stubRepo) SaveWashings(_ context.Context, washings []model.Washing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	for _, w := range washings {
		s.washings[w.ID] = w
	}
	return nil
}

func (s *stubRepo) GetClientBonus(_ context.Context, phone string) (*model.ClientBonus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	amount, ok := s.bonuses[phone]
	if !ok {
		return nil, repository.ErrClientBonusNotFound
	}
	return &model.ClientBonus{Phone: phone, ActualAmount: amount}, nil
}

func (s *stubRepo) CreateClientBonus(_ context.Context, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bonusErr != nil {
		return s.bonusErr
	}
	if _, ok := s.bonuses[phone]; !ok {
		s.bonuses[phone] = 0
	}
	return nil
}

func (s *stubRepo) AddBonuses(_ context.Context, phone string, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bonuses[phone]; !ok {
		return 0, repository.ErrClientBonusNotFound
	}
	s.bonuses[phone] += delta
	return s.bonuses[phone], nil
}

func (s *stubRepo) AddUser(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID == id {
			return nil
		}
	}
	s.users = append(s.users, model.User{ID: id})
	return nil
}

func (s *stubRepo) GetUser(_ context.Context, id int64) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID == id {
			return &u, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (s *stubRepo) SetUserPhone(_ context.Context, id int64, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.users {
		if s.users[i].ID == id {
			s.users[i].Phone = &phone
			return nil
		}
	}
	return repository.ErrUserNotFound
}

func (s *stubRepo) GetUsersByPhone(_ context.Context, phone string) ([]model.User, error) {
	return s.filterUsers(func(u model.User) bool { return u.Phone != nil && *u.Phone == phone }), nil
}

func (s *stubRepo) GetAllUsers(_ context.Context) ([]model.User, error) {
	return s.filterUsers(func(model.User) bool { return true }), nil
}

func (s *stubRepo) GetReviewers(_ context.Context) ([]model.User, error) {
	return s.filterUsers(func(u model.User) bool { return u.IsReviewer }), nil
}

func (s *stubRepo) filterUsers(keep func(model.User) bool) []model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []model.User
	for _, u := range s.users {
		if keep(u) {
			res = append(res, u)
		}
	}
	return res
}

func (s *stubRepo) GetActiveQuestions(_ context.Context, category *model.QuestionCategory) ([]model.Question, error) {
	var res []model.Question
	for _, q := range s.questions {
		if !q.Active || (category != nil && !q.HasCategory(*category)) {
			continue
		}
		res = append(res, q)
	}
	return res, nil
}

func (s *stubRepo) GetQuestion(_ context.Context, id int64) (*model.Question, error) {
	for _, q := range s.questions {
		if q.ID == id {
			return &q, nil
		}
	}
	return nil, repository.ErrQuestionNotFound
}

func (s *stubRepo) CreateFeedback(_ context.Context, userID, questionID int64, washingID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextFeedbID++
	s.feedbacks[s.nextFeedbID] = &model.Feedback{
		ID:         s.nextFeedbID,
		UserID:     userID,
		QuestionID: questionID,
		WashingID:  washingID,
		CreatedAt:  time.Now(),
	}
	return s.nextFeedbID, nil
}

func (s *stubRepo) GetFeedback(_ context.Context, id int64) (*model.Feedback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.feedbacks[id]
	if !ok {
		return nil, repository.ErrFeedbackNotFound
	}
	cp := *f
	return &cp, nil
}

func (s *stubRepo) SetFeedbackAnswer(_ context.Context, id int64, answer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.feedbacks[id]
	if !ok {
		return repository.ErrFeedbackNotFound
	}
	f.Answer = &answer
	return nil
}

func (s *stubRepo) GetClientFeedbacks(_ context.Context, userID int64, category model.QuestionCategory) ([]model.Feedback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []model.Feedback
	for _, f := range s.feedbacks {
		if f.UserID != userID || f.Answer == nil {
			continue
		}
		for _, q := range s.questions {
			if q.ID == f.QuestionID && q.HasCategory(category) {
				res = append(res, *f)
			}
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

type stubMessenger struct {
	mu      sync.Mutex
	failFor map[int64]error
	sent    []OutgoingMessage
	media   map[int64][]Media
}

func newStubMessenger() *stubMessenger {
	return &stubMessenger{failFor: map[int64]error{}, media: map[int64][]Media{}}
}

func (m *stubMessenger) SendMessage(_ context.Context, msg OutgoingMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failFor[msg.ChatID]; err != nil {
		return err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *stubMessenger) SendMediaGroup(_ context.Context, chatID int64, media []Media) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failFor[chatID]; err != nil {
		return err
	}
	m.media[chatID] = media
	return nil
}

func (m *stubMessenger) messagesTo(chatID int64) []OutgoingMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []OutgoingMessage
	for _, msg := range m.sent {
		if msg.ChatID == chatID {
			res = append(res, msg)
		}
	}
	return res
}

type scheduledJob struct {
	when time.Time
	name string
	fn   func(ctx context.Context)
}

type stubScheduler struct {
	mu   sync.Mutex
	jobs []scheduledJob
}

func (s *stubScheduler) At(when time.Time, name string, fn func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, scheduledJob{when: when, name: name, fn: fn})
}

func (s *stubScheduler) Every(string, string, func(ctx context.Context)) error {
	return nil
}

type stubConversations struct {
	mu    sync.Mutex
	state map[int64]model.Conversation
}

func newStubConversations() *stubConversations {
	return &stubConversations{state: map[int64]model.Conversation{}}
}

func (c *stubConversations) Get(_ context.Context, chatID int64) (*model.Conversation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok := c.state[chatID]
	if !ok {
		return nil, nil
	}
	return &conv, nil
}

func (c *stubConversations) Set(_ context.Context, chatID int64, conv model.Conversation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state[chatID] = conv
	return nil
}

func (c *stubConversations) Clear(_ context.Context, chatID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.state, chatID)
	return nil
}

type stubTerminal struct {
	id       int
	page     string
	fetchErr error

	mu      sync.Mutex
	bonuses []int
	bonusTo []string
	addErr  error
}

func (t *stubTerminal) TerminalID() int { return t.id }

func (t *stubTerminal) FetchSalesTable(context.Context) (string, error) {
	return t.page, t.fetchErr
}

func (t *stubTerminal) AddBonus(_ context.Context, phone string, amount int, _ string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.addErr != nil {
		return t.addErr
	}
	t.bonuses = append(t.bonuses, amount)
	t.bonusTo = append(t.bonusTo, phone)
	return nil
}

// fixedRandom возвращает заданную долю диапазона.
type fixedRandom struct {
	num, den int64
}

func (r fixedRandom) Int64N(n int64) int64 {
	if r.den == 0 {
		return 0
	}
	return (n - 1) * r.num / r.den
}

var errDelivery = errors.New("delivery failed")

func strPtr(s string) *string { return &s }

func intPtr(v int) *int { return &v }

func washing(id, phone string, bonuses *int) model.Washing {
	w := model.Washing{ID: id, Terminal: 1, Mode: 1, Price: 100, Bonuses: bonuses}
	if phone != "" {
		w.Phone = strPtr(phone)
	}
	return w
}
