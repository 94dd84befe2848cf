package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/modernmen/shopfront/libs/apperr"
	"github.com/modernmen/shopfront/libs/db"
	"github.com/modernmen/shopfront/libs/httpx"
	"github.com/modernmen/shopfront/services/booking-service/internal/model"
)

const appointmentColumns = `
	a.id, a.tenant_id, a.stylist_id, COALESCE(st.name, ''), a.service_id, COALESCE(sv.name, ''),
	COALESCE(a.customer_user_id::text, ''), a.customer_name, a.customer_email, a.customer_phone, a.notes,
	a.start_time, a.end_time, a.price_cents, a.status, a.cancelled_at, COALESCE(a.cancellation_reason, ''),
	a.created_at, a.updated_at`

const appointmentJoins = `
	LEFT JOIN stylists st ON st.id = a.stylist_id
	LEFT JOIN services sv ON sv.id = a.service_id`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var a model.Appointment
	err := row.Scan(&a.ID, &a.TenantID, &a.StylistID, &a.StylistName, &a.ServiceID, &a.ServiceName,
		&a.CustomerUserID, &a.CustomerName, &a.CustomerEmail, &a.CustomerPhone, &a.Notes,
		&a.StartTime, &a.EndTime, &a.PriceCents, &a.Status, &a.CancelledAt, &a.CancelReason,
		&a.CreatedAt, &a.UpdatedAt)
	switch {
	case db.IsNotFound(err) || db.IsInvalidInput(err):
		return model.Appointment{}, apperr.NotFound("appointment not found")
	case db.IsExclusionViolation(err):
		return model.Appointment{}, apperr.Conflict("time slot already booked")
	}
	return a, err
}

// Create inserts appt and returns it with stylist and service names filled in.
// An overlapping booking for the stylist fails with a conflict.
func (r *BookingRepository) Create(ctx context.Context, q db.Querier, appt model.Appointment) (model.Appointment, error) {
	return scanAppointment(q.QueryRow(ctx, `
		WITH a AS (
			INSERT INTO appointments
				(tenant_id, stylist_id, service_id, customer_user_id, customer_name, customer_email,
				 customer_phone, notes, start_time, end_time, price_cents, status)
			VALUES ($1, $2, $3, NULLIF($4, '')::uuid, $5, $6, $7, $8, $9, $10, $11, $12)
			RETURNING *
		)
		SELECT `+appointmentColumns+` FROM a`+appointmentJoins,
		appt.TenantID, appt.StylistID, appt.ServiceID, appt.CustomerUserID, appt.CustomerName, appt.CustomerEmail,
		appt.CustomerPhone, appt.Notes, appt.StartTime, appt.EndTime, appt.PriceCents, appt.Status))
}

func (r *BookingRepository) Get(ctx context.Context, q db.Querier, tenantID, id string) (model.Appointment, error) {
	return scanAppointment(q.QueryRow(ctx, `
		SELECT `+appointmentColumns+` FROM appointments a`+appointmentJoins+`
		WHERE a.tenant_id = $1 AND a.id = $2
	`, tenantID, id))
}

func (r *BookingRepository) GetForUpdate(ctx context.Context, q db.Querier, tenantID, id string) (model.Appointment, error) {
	return scanAppointment(q.QueryRow(ctx, `
		SELECT `+appointmentColumns+` FROM appointments a`+appointmentJoins+`
		WHERE a.tenant_id = $1 AND a.id = $2
		FOR UPDATE OF a
	`, tenantID, id))
}

// UpdateStatus sets the status and, for cancellations, the cancel columns.
func (r *BookingRepository) UpdateStatus(ctx context.Context, q db.Querier, tenantID, id, status, reason string) (model.Appointment, error) {
	return scanAppointment(q.QueryRow(ctx, `
		WITH a AS (
			UPDATE appointments
			SET status = $3,
				cancelled_at = CASE WHEN $3 = 'cancelled' THEN now() ELSE cancelled_at END,
				cancellation_reason = CASE WHEN $3 = 'cancelled' THEN NULLIF($4, '') ELSE cancellation_reason END,
				updated_at = now()
			WHERE tenant_id = $1 AND id = $2
			RETURNING *
		)
		SELECT `+appointmentColumns+` FROM a`+appointmentJoins,
		tenantID, id, status, reason))
}

func (r *BookingRepository) AppendHistory(ctx context.Context, q db.Querier, tenantID, appointmentID string, c model.StatusChange) error {
	_, err := q.Exec(ctx, `
		INSERT INTO appointment_status_history (tenant_id, appointment_id, status, previous_status, changed_by, reason, changed_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, '')::uuid, $6, $7)
	`, tenantID, appointmentID, c.Status, c.PreviousStatus, c.ChangedBy, c.Reason, c.ChangedAt)
	return err
}

func (r *BookingRepository) History(ctx context.Context, tenantID, appointmentID string) ([]model.StatusChange, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status, previous_status, COALESCE(changed_by::text, ''), reason, changed_at
		FROM appointment_status_history
		WHERE tenant_id = $1 AND appointment_id = $2
		ORDER BY changed_at, id
	`, tenantID, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.StatusChange{}
	for rows.Next() {
		var c model.StatusChange
		if err := rows.Scan(&c.Status, &c.PreviousStatus, &c.ChangedBy, &c.Reason, &c.ChangedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Filter narrows List. Empty fields are ignored.
type Filter struct {
	TenantID       string
	StylistID      string
	Status         string
	CustomerUserID string
	From           time.Time
	To             time.Time
}

func (f Filter) where() (string, []any) {
	clause := ` WHERE a.tenant_id = $1`
	args := []any{f.TenantID}
	add := func(expr string, v any) {
		args = append(args, v)
		clause += ` AND ` + expr + ` $` + strconv.Itoa(len(args))
	}
	if f.StylistID != "" {
		add("a.stylist_id::text =", f.StylistID)
	}
	if f.Status != "" {
		add("a.status =", f.Status)
	}
	if f.CustomerUserID != "" {
		add("a.customer_user_id::text =", f.CustomerUserID)
	}
	if !f.From.IsZero() {
		add("a.start_time >=", f.From)
	}
	if !f.To.IsZero() {
		add("a.start_time <", f.To)
	}
	return clause, args
}

func (r *BookingRepository) List(ctx context.Context, f Filter, page httpx.Page) ([]model.Appointment, int64, error) {
	where, args := f.where()

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM appointments a`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, page.Limit, page.Offset())
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+` FROM appointments a`+appointmentJoins+where+`
		ORDER BY a.start_time DESC
		LIMIT $`+strconv.Itoa(len(args)-1)+` OFFSET $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []model.Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}
