package conversation

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type MessageStatus string

const (
	StatusSent      MessageStatus = "SENT"
	StatusDelivered MessageStatus = "DELIVERED"
	StatusRead      MessageStatus = "READ"
	StatusFailed    MessageStatus = "FAILED"
)

// Events published on a conversation channel.
const (
	EventMessageCreated = "message.created"
	EventMessageRead    = "message.read"
	EventTyping         = "typing"
)

// MaxBodyLength bounds a message body in bytes.
const MaxBodyLength = 4000

const channelPrefix = "conversation:"

// Conversation is keyed by (provider, patient, booking). BookingID is nil
// for the general thread between the two parties.
type Conversation struct {
	ID         uuid.UUID  `json:"id"`
	ProviderID uuid.UUID  `json:"provider_id"`
	PatientID  uuid.UUID  `json:"patient_id"`
	BookingID  *uuid.UUID `json:"booking_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (c *Conversation) HasParticipant(id uuid.UUID) bool {
	return id == c.ProviderID || id == c.PatientID
}

func (c *Conversation) key() conversationKey {
	k := conversationKey{provider: c.ProviderID, patient: c.PatientID}
	if c.BookingID != nil {
		k.booking = *c.BookingID
	}
	return k
}

type conversationKey struct {
	provider, patient, booking uuid.UUID
}

type Message struct {
	ID             uuid.UUID     `json:"id"`
	ConversationID uuid.UUID     `json:"conversation_id"`
	SenderID       uuid.UUID     `json:"sender_id"`
	Body           string        `json:"body"`
	Status         MessageStatus `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
	ReadAt         *time.Time    `json:"read_at,omitempty"`
}

// Channel names the real-time channel of a conversation.
func Channel(id uuid.UUID) string {
	return channelPrefix + id.String()
}

// ParseChannel is the inverse of Channel.
func ParseChannel(ch string) (uuid.UUID, bool) {
	rest, ok := strings.CutPrefix(ch, channelPrefix)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(rest)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// Caller is the authenticated user acting on a conversation. Admins may read
// any conversation but only participants may write to one.
type Caller struct {
	ID    uuid.UUID
	Admin bool
}

// ReadReceipt is the payload of a message.read event.
type ReadReceipt struct {
	ConversationID uuid.UUID   `json:"conversation_id"`
	ReaderID       uuid.UUID   `json:"reader_id"`
	MessageIDs     []uuid.UUID `json:"message_ids"`
	ReadAt         time.Time   `json:"read_at"`
}

// TypingIndicator is the payload of a typing event.
type TypingIndicator struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	UserID         uuid.UUID `json:"user_id"`
	Typing         bool      `json:"typing"`
}
