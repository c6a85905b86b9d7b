package conversation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medconnect/medconnect/pkg/apperror"
)

// MemoryRepo is an in-process Repository.
type MemoryRepo struct {
	mu            sync.RWMutex
	conversations map[uuid.UUID]*Conversation
	byKey         map[conversationKey]uuid.UUID
	messages      map[uuid.UUID][]*Message
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		conversations: make(map[uuid.UUID]*Conversation),
		byKey:         make(map[conversationKey]uuid.UUID),
		messages:      make(map[uuid.UUID][]*Message),
	}
}

// Count returns the number of stored conversations.
func (m *MemoryRepo) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conversations)
}

func (m *MemoryRepo) GetOrCreate(_ context.Context, c *Conversation) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byKey[c.key()]; ok {
		cp := *m.conversations[id]
		return &cp, nil
	}
	cp := *c
	m.conversations[c.ID] = &cp
	m.byKey[c.key()] = c.ID
	out := cp
	return &out, nil
}

func (m *MemoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[id]
	if !ok {
		return nil, apperror.NotFound("conversation", id)
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryRepo) CreateMessage(_ context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conversations[msg.ConversationID]; !ok {
		return apperror.NotFound("conversation", msg.ConversationID)
	}
	cp := *msg
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], &cp)
	return nil
}

func (m *MemoryRepo) ListMessages(_ context.Context, conversationID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := append([]*Message(nil), m.messages[conversationID]...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })

	out := []*Message{}
	for i := offset; i < len(all) && len(out) < limit; i++ {
		cp := *all[i]
		out = append(out, &cp)
	}
	return out, len(all), nil
}

func (m *MemoryRepo) MarkRead(_ context.Context, conversationID, readerID uuid.UUID, at time.Time) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := []uuid.UUID{}
	for _, msg := range m.messages[conversationID] {
		if msg.SenderID == readerID || msg.Status == StatusRead {
			continue
		}
		readAt := at
		msg.Status = StatusRead
		msg.ReadAt = &readAt
		ids = append(ids, msg.ID)
	}
	return ids, nil
}
