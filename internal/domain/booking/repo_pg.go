package booking

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

const bookingCols = `id, kind, patient_id, provider_id, service_ref, window_id, scheduled_date,
	service_charge, total_amount, currency, payment_method, payment_status, payment_reference,
	payment_intent_id, payment_intent_created_at, status, notes, created_at, updated_at`

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	err := row.Scan(&b.ID, &b.Kind, &b.PatientID, &b.ProviderID, &b.ServiceRef, &b.WindowID, &b.ScheduledDate,
		&b.ServiceCharge, &b.TotalAmount, &b.Currency, &b.PaymentMethod, &b.PaymentStatus, &b.PaymentReference,
		&b.PaymentIntentID, &b.PaymentIntentCreatedAt, &b.Status, &b.Notes, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	b.Items = []LineItem{}
	return &b, nil
}

func (r *repoPG) Create(ctx context.Context, b *Booking) error {
	batch := &pgx.Batch{}
	batch.Queue(`INSERT INTO booking (`+bookingCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		b.ID, b.Kind, b.PatientID, b.ProviderID, b.ServiceRef, b.WindowID, b.ScheduledDate,
		b.ServiceCharge, b.TotalAmount, b.Currency, b.PaymentMethod, b.PaymentStatus, b.PaymentReference,
		b.PaymentIntentID, b.PaymentIntentCreatedAt, b.Status, b.Notes, b.CreatedAt, b.UpdatedAt)
	for _, it := range b.Items {
		batch.Queue(`INSERT INTO booking_line_item (id, booking_id, position, item_type, name, price)
			VALUES ($1,$2,$3,$4,$5,$6)`, it.ID, b.ID, it.Position, it.Type, it.Name, it.Price)
	}

	results := r.conn(ctx).SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return err
		}
	}
	return results.Close()
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	b, err := scanBooking(r.conn(ctx).QueryRow(ctx, `SELECT `+bookingCols+` FROM booking WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("booking", id)
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, []*Booking{b}); err != nil {
		return nil, err
	}
	return b, nil
}

// loadItems fills the line items of bs with one query.
func (r *repoPG) loadItems(ctx context.Context, bs []*Booking) error {
	if len(bs) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*Booking, len(bs))
	ids := make([]uuid.UUID, len(bs))
	for i, b := range bs {
		byID[b.ID] = b
		ids[i] = b.ID
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, booking_id, position, item_type, name, price FROM booking_line_item
		WHERE booking_id = ANY($1) ORDER BY booking_id, position`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var it LineItem
		var bookingID uuid.UUID
		if err := rows.Scan(&it.ID, &bookingID, &it.Position, &it.Type, &it.Name, &it.Price); err != nil {
			return err
		}
		if b, ok := byID[bookingID]; ok {
			b.Items = append(b.Items, it)
		}
	}
	return rows.Err()
}

func (r *repoPG) listBy(ctx context.Context, column string, id uuid.UUID, limit, offset int) ([]*Booking, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM booking WHERE `+column+` = $1`, id).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+bookingCols+` FROM booking WHERE `+column+` = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, id, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	rows.Close()
	if err := r.loadItems(ctx, items); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Booking, int, error) {
	return r.listBy(ctx, "patient_id", patientID, limit, offset)
}

func (r *repoPG) ListByProvider(ctx context.Context, providerID uuid.UUID, limit, offset int) ([]*Booking, int, error) {
	return r.listBy(ctx, "provider_id", providerID, limit, offset)
}

func (r *repoPG) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE booking SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2`, id, from, to, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) SetPaymentIntent(ctx context.Context, id uuid.UUID, prev *string, intentID string, at time.Time) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE booking SET payment_intent_id = $3, payment_intent_created_at = $4,
			payment_status = 'PENDING', updated_at = $4
		WHERE id = $1 AND payment_status <> 'COMPLETED'
			AND payment_intent_id IS NOT DISTINCT FROM $2`, id, prev, intentID, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// The payment_status guard makes the paid write happen at most once.
func (r *repoPG) CompletePayment(ctx context.Context, id uuid.UUID, reference string, from Status, to *Status, at time.Time) (bool, error) {
	next := from
	if to != nil {
		next = *to
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE booking SET payment_status = 'COMPLETED', payment_method = 'CARD',
			payment_reference = $2, status = $4, updated_at = $5
		WHERE id = $1 AND payment_status <> 'COMPLETED' AND status = $3`, id, reference, from, next, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) MarkPaymentFailed(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE booking SET payment_status = 'FAILED', updated_at = $2
		WHERE id = $1 AND payment_status = 'PENDING'`, id, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) ListStaleIntents(ctx context.Context, cutoff time.Time, limit int) ([]*Booking, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+bookingCols+` FROM booking
		WHERE payment_method = 'CARD' AND payment_status = 'PENDING'
			AND payment_intent_id IS NOT NULL AND payment_intent_created_at < $1
		ORDER BY payment_intent_created_at LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
