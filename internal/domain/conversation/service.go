package conversation

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medconnect/medconnect/pkg/apperror"
)

// Publisher delivers an event on a real-time channel.
type Publisher interface {
	Publish(ctx context.Context, channel, event string, payload interface{}) error
}

type Service struct {
	repo   Repository
	pub    Publisher
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(repo Repository, pub Publisher, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		pub:    pub,
		logger: logger.With().Str("component", "conversation").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// GetOrCreate returns the conversation for the triple, creating it on first
// use. Repeated calls return the same id.
func (s *Service) GetOrCreate(ctx context.Context, providerID, patientID uuid.UUID, bookingID *uuid.UUID) (*Conversation, error) {
	if providerID == uuid.Nil || patientID == uuid.Nil {
		return nil, apperror.Validation("provider_id and patient_id are required")
	}
	if providerID == patientID {
		return nil, apperror.Validation("provider and patient must differ")
	}
	if bookingID != nil && *bookingID == uuid.Nil {
		bookingID = nil
	}
	return s.repo.GetOrCreate(ctx, &Conversation{
		ID:         uuid.New(),
		ProviderID: providerID,
		PatientID:  patientID,
		BookingID:  bookingID,
		CreatedAt:  s.now(),
	})
}

// Get returns a conversation visible to caller.
func (s *Service) Get(ctx context.Context, id uuid.UUID, caller Caller) (*Conversation, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.Admin && !c.HasParticipant(caller.ID) {
		return nil, apperror.Forbidden("not a participant of conversation %s", id)
	}
	return c, nil
}

// participant loads a conversation that caller is a party to. Admins are
// not exempt.
func (s *Service) participant(ctx context.Context, id uuid.UUID, caller Caller) (*Conversation, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.HasParticipant(caller.ID) {
		return nil, apperror.Forbidden("not a participant of conversation %s", id)
	}
	return c, nil
}

// CanSubscribe reports whether userID may listen on channel.
func (s *Service) CanSubscribe(ctx context.Context, userID, channel string) bool {
	id, ok := ParseChannel(channel)
	if !ok {
		return false
	}
	uid, err := uuid.Parse(userID)
	if err != nil {
		return false
	}
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return false
	}
	return c.HasParticipant(uid)
}

// SendInput addresses a message either by ConversationID or by the
// (provider, patient, booking) triple.
type SendInput struct {
	ConversationID *uuid.UUID
	ProviderID     uuid.UUID
	PatientID      uuid.UUID
	BookingID      *uuid.UUID
	SenderID       uuid.UUID
	Body           string
}

// SendMessage stores a message and publishes message.created. A failed
// publish leaves the message SENT.
func (s *Service) SendMessage(ctx context.Context, in SendInput) (*Message, error) {
	body := strings.TrimSpace(in.Body)
	if body == "" {
		return nil, apperror.Validation("message body is required")
	}
	if len(body) > MaxBodyLength {
		return nil, apperror.Validation("message body exceeds %d bytes", MaxBodyLength)
	}

	var (
		c   *Conversation
		err error
	)
	if in.ConversationID != nil {
		c, err = s.repo.GetByID(ctx, *in.ConversationID)
	} else {
		if in.SenderID != in.ProviderID && in.SenderID != in.PatientID {
			return nil, apperror.Forbidden("sender is not a participant of the conversation")
		}
		c, err = s.GetOrCreate(ctx, in.ProviderID, in.PatientID, in.BookingID)
	}
	if err != nil {
		return nil, err
	}
	if !c.HasParticipant(in.SenderID) {
		return nil, apperror.Forbidden("sender is not a participant of conversation %s", c.ID)
	}

	m := &Message{
		ID:             uuid.New(),
		ConversationID: c.ID,
		SenderID:       in.SenderID,
		Body:           body,
		Status:         StatusSent,
		CreatedAt:      s.now(),
	}
	if err := s.repo.CreateMessage(ctx, m); err != nil {
		return nil, err
	}
	s.publish(ctx, c.ID, EventMessageCreated, m)
	return m, nil
}

func (s *Service) ListMessages(ctx context.Context, id uuid.UUID, caller Caller, limit, offset int) ([]*Message, int, error) {
	if _, err := s.Get(ctx, id, caller); err != nil {
		return nil, 0, err
	}
	return s.repo.ListMessages(ctx, id, limit, offset)
}

// MarkRead marks every message the caller received as READ and publishes
// message.read when anything changed.
func (s *Service) MarkRead(ctx context.Context, id uuid.UUID, caller Caller) (*ReadReceipt, error) {
	if _, err := s.participant(ctx, id, caller); err != nil {
		return nil, err
	}
	at := s.now()
	ids, err := s.repo.MarkRead(ctx, id, caller.ID, at)
	if err != nil {
		return nil, err
	}
	receipt := &ReadReceipt{ConversationID: id, ReaderID: caller.ID, MessageIDs: ids, ReadAt: at}
	if len(ids) > 0 {
		s.publish(ctx, id, EventMessageRead, receipt)
	}
	return receipt, nil
}

// Typing publishes a typing indicator. Nothing is stored.
func (s *Service) Typing(ctx context.Context, id uuid.UUID, caller Caller, typing bool) error {
	if _, err := s.participant(ctx, id, caller); err != nil {
		return err
	}
	s.publish(ctx, id, EventTyping, TypingIndicator{ConversationID: id, UserID: caller.ID, Typing: typing})
	return nil
}

func (s *Service) publish(ctx context.Context, id uuid.UUID, event string, payload interface{}) {
	if s.pub == nil {
		return
	}
	if err := s.pub.Publish(ctx, Channel(id), event, payload); err != nil {
		s.logger.Warn().Err(err).
			Str("conversation_id", id.String()).
			Str("event", event).
			Msg("realtime publish failed")
	}
}
