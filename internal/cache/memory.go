package cache

import (
	"context"
	"sync"

	"github.com/mmeshcher/carwash-bot/internal/model"
)

// MemoryConversations хранит диалоги в памяти процесса. Используется без Redis.
type MemoryConversations struct {
	mu    sync.RWMutex
	state map[int64]model.Conversation
}

// NewMemoryConversations создаёт пустое хранилище диалогов.
func NewMemoryConversations() *MemoryConversations {
	return &MemoryConversations{state: make(map[int64]model.Conversation)}
}

// Get возвращает диалог чата или nil, если его нет.
func (c *MemoryConversations) Get(_ context.Context, chatID int64) (*model.Conversation, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	conv, ok := c.state[chatID]
	if !ok {
		return nil, nil
	}
	return &conv, nil
}

// Set сохраняет диалог чата.
func (c *MemoryConversations) Set(_ context.Context, chatID int64, conv model.Conversation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state[chatID] = conv
	return nil
}

// Clear удаляет диалог чата.
func (c *MemoryConversations) Clear(_ context.Context, chatID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.state, chatID)
	return nil
}
