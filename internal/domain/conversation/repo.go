package conversation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// GetOrCreate returns the stored conversation with c's key, inserting c
	// when none exists.
	GetOrCreate(ctx context.Context, c *Conversation) (*Conversation, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Conversation, error)
	CreateMessage(ctx context.Context, m *Message) error
	ListMessages(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]*Message, int, error)
	// MarkRead sets READ on messages in the conversation not sent by reader
	// and returns their ids.
	MarkRead(ctx context.Context, conversationID, readerID uuid.UUID, at time.Time) ([]uuid.UUID, error)
}
