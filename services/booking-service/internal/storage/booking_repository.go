package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/modernmen/shopfront/libs/apperr"
	"github.com/modernmen/shopfront/libs/db"
	"github.com/modernmen/shopfront/services/booking-service/internal/availability"
	"github.com/modernmen/shopfront/services/booking-service/internal/model"
)

// inactive statuses never hold a slot; this matches appointments_no_overlap.
const holdsSlot = `status NOT IN ('cancelled', 'no-show', 'rescheduled')`

type BookingRepository struct {
	pool *db.Pool
}

type IdempotencyRecord struct {
	TenantID        string
	IdempotencyKey  string
	AppointmentID   string
	StatusCode      int
	ResponsePayload []byte
}

func NewBookingRepository(pool *db.Pool) *BookingRepository {
	return &BookingRepository{pool: pool}
}

func (r *BookingRepository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return r.pool.WithTx(ctx, fn)
}

func (r *BookingRepository) Reader() db.Querier {
	return r.pool
}

func (r *BookingRepository) Stylist(ctx context.Context, q db.Querier, tenantID, id string) (model.Stylist, error) {
	var s model.Stylist
	err := q.QueryRow(ctx, `
		SELECT id, name, active, work_days, work_start, work_end, break_start, break_end
		FROM stylists
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id).Scan(&s.ID, &s.Name, &s.Active, &s.WorkDays, &s.WorkStart, &s.WorkEnd, &s.BreakStart, &s.BreakEnd)
	if db.IsNotFound(err) || db.IsInvalidInput(err) {
		return model.Stylist{}, apperr.NotFound("stylist not found")
	}
	return s, err
}

func (r *BookingRepository) Service(ctx context.Context, q db.Querier, tenantID, id string) (model.Service, error) {
	var s model.Service
	err := q.QueryRow(ctx, `
		SELECT id, name, duration_minutes, price_cents, active
		FROM services
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id).Scan(&s.ID, &s.Name, &s.DurationMinutes, &s.PriceCents, &s.Active)
	if db.IsNotFound(err) || db.IsInvalidInput(err) {
		return model.Service{}, apperr.NotFound("service not found")
	}
	return s, err
}

// TimeOff returns the stylist's time-off ranges touching [from, to].
func (r *BookingRepository) TimeOff(ctx context.Context, q db.Querier, stylistID string, from, to time.Time) ([]availability.DateRange, error) {
	rows, err := q.Query(ctx, `
		SELECT start_date, end_date
		FROM stylist_time_off
		WHERE stylist_id = $1 AND start_date <= $3::date AND end_date >= $2::date
	`, stylistID, from.Format(time.DateOnly), to.Format(time.DateOnly))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []availability.DateRange
	for rows.Next() {
		var d availability.DateRange
		if err := rows.Scan(&d.Start, &d.End); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Busy lists the slot-holding appointments of a stylist that overlap [start, end).
func (r *BookingRepository) Busy(ctx context.Context, q db.Querier, tenantID, stylistID string, start, end time.Time) ([]Booked, error) {
	rows, err := q.Query(ctx, `
		SELECT id, start_time, end_time
		FROM appointments
		WHERE tenant_id = $1
			AND stylist_id = $2
			AND `+holdsSlot+`
			AND start_time < $4
			AND end_time > $3
		ORDER BY start_time ASC
	`, tenantID, stylistID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Booked
	for rows.Next() {
		var b Booked
		if err := rows.Scan(&b.ID, &b.Start, &b.End); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Booked is an appointment reduced to the interval it occupies.
type Booked struct {
	ID    string
	Start time.Time
	End   time.Time
}

func Intervals(booked []Booked) []availability.Interval {
	out := make([]availability.Interval, len(booked))
	for i, b := range booked {
		out[i] = availability.Interval{Start: b.Start, End: b.End}
	}
	return out
}

// LockIdempotencyKey claims key for the current transaction. replay is true
// when an earlier request already completed under the same key.
func (r *BookingRepository) LockIdempotencyKey(ctx context.Context, q db.Querier, tenantID, key string) (rec IdempotencyRecord, replay bool, err error) {
	rec, err = r.selectIdempotencyForUpdate(ctx, q, tenantID, key)
	if err == nil {
		return rec, rec.StatusCode != 0, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return IdempotencyRecord{}, false, err
	}

	_, err = q.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (tenant_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (tenant_id, idempotency_key) DO NOTHING
	`, tenantID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}

	rec, err = r.selectIdempotencyForUpdate(ctx, q, tenantID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	return rec, rec.StatusCode != 0, nil
}

func (r *BookingRepository) FinalizeIdempotency(ctx context.Context, q db.Querier, tenantID, key, appointmentID string, statusCode int, response []byte) error {
	_, err := q.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET appointment_id = $3,
			status_code = $4,
			response_payload = $5,
			updated_at = now()
		WHERE tenant_id = $1 AND idempotency_key = $2
	`, tenantID, key, appointmentID, statusCode, response)
	return err
}

func (r *BookingRepository) selectIdempotencyForUpdate(ctx context.Context, q db.Querier, tenantID, key string) (IdempotencyRecord, error) {
	var rec IdempotencyRecord
	var responseText string
	err := q.QueryRow(ctx, `
		SELECT tenant_id::text,
			idempotency_key,
			COALESCE(appointment_id::text, ''),
			COALESCE(status_code, 0),
			COALESCE(response_payload::text, '')
		FROM booking_idempotency_keys
		WHERE tenant_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, tenantID, key).Scan(
		&rec.TenantID,
		&rec.IdempotencyKey,
		&rec.AppointmentID,
		&rec.StatusCode,
		&responseText,
	)
	if err != nil {
		return IdempotencyRecord{}, err
	}
	if responseText != "" {
		rec.ResponsePayload = []byte(responseText)
	}
	return rec, nil
}
