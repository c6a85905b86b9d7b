package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medconnect/medconnect/internal/domain/catalog"
	"github.com/medconnect/medconnect/internal/platform/db"
	"github.com/medconnect/medconnect/pkg/apperror"
)

// =========== Window Repository ===========

type windowRepoPG struct{ pool *pgxpool.Pool }

func NewWindowRepoPG(pool *pgxpool.Pool) WindowRepository { return &windowRepoPG{pool: pool} }

func (r *windowRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const windowCols = `id, provider_id, category, day_of_week, start_minute, end_minute, active, created_at`

func scanWindow(row pgx.Row) (*AvailabilityWindow, error) {
	var w AvailabilityWindow
	var start, end int16
	err := row.Scan(&w.ID, &w.ProviderID, &w.Category, &w.DayOfWeek, &start, &end, &w.Active, &w.CreatedAt)
	if err != nil {
		return nil, err
	}
	w.Start, w.End = ClockTime(start), ClockTime(end)
	return &w, nil
}

func (r *windowRepoPG) LockSchedule(ctx context.Context, providerID uuid.UUID, category catalog.Kind) error {
	_, err := r.conn(ctx).Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
		"availability:"+providerID.String()+":"+string(category))
	return err
}

func (r *windowRepoPG) ReplaceActive(ctx context.Context, providerID uuid.UUID, category catalog.Kind, ws []*AvailabilityWindow) error {
	batch := &pgx.Batch{}
	batch.Queue(`UPDATE availability_window SET active = FALSE, retired_at = NOW()
		WHERE provider_id = $1 AND category = $2 AND active`, providerID, category)
	for _, w := range ws {
		queueInsertWindow(batch, w)
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

func queueInsertWindow(b *pgx.Batch, w *AvailabilityWindow) {
	w.ID = uuid.New()
	w.Active = true
	w.CreatedAt = time.Now().UTC()
	b.Queue(`INSERT INTO availability_window (`+windowCols+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		w.ID, w.ProviderID, w.Category, w.DayOfWeek, int16(w.Start), int16(w.End), w.Active, w.CreatedAt)
}

func (r *windowRepoPG) Create(ctx context.Context, w *AvailabilityWindow) error {
	batch := &pgx.Batch{}
	queueInsertWindow(batch, w)
	return r.conn(ctx).SendBatch(ctx, batch).Close()
}

func (r *windowRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*AvailabilityWindow, error) {
	w, err := scanWindow(r.conn(ctx).QueryRow(ctx, `SELECT `+windowCols+` FROM availability_window WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("availability window", id)
	}
	return w, err
}

func (r *windowRepoPG) ListActive(ctx context.Context, providerID uuid.UUID, category catalog.Kind, day *DayOfWeek) ([]*AvailabilityWindow, error) {
	query := `SELECT ` + windowCols + ` FROM availability_window
		WHERE provider_id = $1 AND category = $2 AND active`
	args := []interface{}{providerID, category}
	if day != nil {
		query += ` AND day_of_week = $3`
		args = append(args, *day)
	}
	query += ` ORDER BY CASE day_of_week
		WHEN 'MONDAY' THEN 0 WHEN 'TUESDAY' THEN 1 WHEN 'WEDNESDAY' THEN 2 WHEN 'THURSDAY' THEN 3
		WHEN 'FRIDAY' THEN 4 WHEN 'SATURDAY' THEN 5 ELSE 6 END, start_minute`

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*AvailabilityWindow
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// =========== Slot Repository ===========

type slotRepoPG struct{ pool *pgxpool.Pool }

func NewSlotRepoPG(pool *pgxpool.Pool) SlotRepository { return &slotRepoPG{pool: pool} }

func (r *slotRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

// The conflict branch only fires when the existing row is unreserved, so a
// concurrent claimer that loses the race affects zero rows.
const claimSQL = `
	INSERT INTO slot_instance (window_id, slot_date, reserved, updated_at)
	VALUES ($1, $2, TRUE, NOW())
	ON CONFLICT (window_id, slot_date) DO UPDATE
		SET reserved = TRUE, updated_at = NOW()
		WHERE slot_instance.reserved = FALSE`

func (r *slotRepoPG) TryClaim(ctx context.Context, windowID uuid.UUID, date time.Time) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, claimSQL, windowID, DateOnly(date))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *slotRepoPG) Release(ctx context.Context, windowID uuid.UUID, date time.Time) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE slot_instance SET reserved = FALSE, updated_at = NOW()
		WHERE window_id = $1 AND slot_date = $2 AND reserved`, windowID, DateOnly(date))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *slotRepoPG) Get(ctx context.Context, windowID uuid.UUID, date time.Time) (*SlotInstance, error) {
	var s SlotInstance
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT window_id, slot_date, reserved, updated_at FROM slot_instance
		WHERE window_id = $1 AND slot_date = $2`, windowID, DateOnly(date)).
		Scan(&s.WindowID, &s.Date, &s.Reserved, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &SlotInstance{WindowID: windowID, Date: DateOnly(date)}, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *slotRepoPG) ReservedOn(ctx context.Context, windowIDs []uuid.UUID, date time.Time) (map[uuid.UUID]bool, error) {
	out := make(map[uuid.UUID]bool, len(windowIDs))
	if len(windowIDs) == 0 {
		return out, nil
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT window_id FROM slot_instance
		WHERE slot_date = $1 AND reserved AND window_id = ANY($2)`, DateOnly(date), windowIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}
