package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medconnect/medconnect/internal/platform/db"
	"github.com/medconnect/medconnect/pkg/apperror"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const (
	conversationCols = `id, provider_id, patient_id, booking_id, created_at`
	messageCols      = `id, conversation_id, sender_id, body, status, created_at, read_at`
)

func scanConversation(row pgx.Row) (*Conversation, error) {
	var c Conversation
	if err := row.Scan(&c.ID, &c.ProviderID, &c.PatientID, &c.BookingID, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	if err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Body, &m.Status, &m.CreatedAt, &m.ReadAt); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *repoPG) GetOrCreate(ctx context.Context, c *Conversation) (*Conversation, error) {
	q := r.conn(ctx)
	_, err := q.Exec(ctx, `INSERT INTO conversation (`+conversationCols+`)
		VALUES ($1,$2,$3,$4,$5) ON CONFLICT DO NOTHING`,
		c.ID, c.ProviderID, c.PatientID, c.BookingID, c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return scanConversation(q.QueryRow(ctx, `SELECT `+conversationCols+` FROM conversation
		WHERE provider_id = $1 AND patient_id = $2 AND booking_id IS NOT DISTINCT FROM $3`,
		c.ProviderID, c.PatientID, c.BookingID))
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	c, err := scanConversation(r.conn(ctx).QueryRow(ctx,
		`SELECT `+conversationCols+` FROM conversation WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("conversation", id)
	}
	return c, err
}

func (r *repoPG) CreateMessage(ctx context.Context, m *Message) error {
	_, err := r.conn(ctx).Exec(ctx, `INSERT INTO message (`+messageCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		m.ID, m.ConversationID, m.SenderID, m.Body, m.Status, m.CreatedAt, m.ReadAt)
	return err
}

func (r *repoPG) ListMessages(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	q := r.conn(ctx)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM message WHERE conversation_id = $1`, conversationID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := q.Query(ctx, `SELECT `+messageCols+` FROM message WHERE conversation_id = $1
		ORDER BY created_at, id LIMIT $2 OFFSET $3`, conversationID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []*Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, m)
	}
	return out, total, rows.Err()
}

func (r *repoPG) MarkRead(ctx context.Context, conversationID, readerID uuid.UUID, at time.Time) ([]uuid.UUID, error) {
	rows, err := r.conn(ctx).Query(ctx, `UPDATE message SET status = 'READ', read_at = $3
		WHERE conversation_id = $1 AND sender_id <> $2 AND status <> 'READ'
		RETURNING id`, conversationID, readerID, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []uuid.UUID{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
