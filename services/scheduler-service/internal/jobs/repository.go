package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/modernmen/shopfront/libs/db"
	"github.com/modernmen/shopfront/libs/events"
	otelx "github.com/modernmen/shopfront/libs/otel"
)

const (
	StatusPending   = "pending"
	StatusProcessed = "processed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

type Job struct {
	ID             int64
	IdempotencyKey string
	TenantID       string
	AppointmentID  string
	RemindAt       time.Time
	Payload        events.ReminderDuePayload
	Status         string
	Attempts       int
	MaxAttempts    int
	NextRunAt      time.Time
	LastError      string
	Traceparent    string
	Tracestate     string
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// Insert schedules job unless its idempotency key already exists. It reports
// whether a row was created. The caller's trace context is stored with the
// job so the reminder event continues the booking's trace.
func (r *Repository) Insert(ctx context.Context, q db.Querier, job Job) (bool, error) {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return false, err
	}
	trace := otelx.CaptureTrace(ctx)
	tag, err := q.Exec(ctx, `
		INSERT INTO reminder_jobs (idempotency_key, tenant_id, appointment_id, remind_at, payload, next_run_at, max_attempts, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $4, $6, $7, $8)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, job.IdempotencyKey, job.TenantID, job.AppointmentID, job.RemindAt, payload, job.MaxAttempts, trace.Parent, trace.State)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CancelPending cancels every pending reminder of an appointment.
func (r *Repository) CancelPending(ctx context.Context, q db.Querier, tenantID, appointmentID string) (int64, error) {
	tag, err := q.Exec(ctx, `
		UPDATE reminder_jobs
		SET status = 'cancelled', updated_at = now()
		WHERE tenant_id = $1 AND appointment_id = $2 AND status = 'pending'
	`, tenantID, appointmentID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// FetchDue locks up to limit pending jobs whose next run is at or before now.
// Rows locked by another worker are skipped.
func (r *Repository) FetchDue(ctx context.Context, tx pgx.Tx, now time.Time, limit int) ([]Job, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, idempotency_key, tenant_id, appointment_id, remind_at, payload, status, attempts, max_attempts, next_run_at, COALESCE(last_error, ''), traceparent, tracestate
		FROM reminder_jobs
		WHERE status = 'pending' AND next_run_at <= $1
		ORDER BY next_run_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		var raw []byte
		if err := rows.Scan(&j.ID, &j.IdempotencyKey, &j.TenantID, &j.AppointmentID, &j.RemindAt, &raw, &j.Status,
			&j.Attempts, &j.MaxAttempts, &j.NextRunAt, &j.LastError, &j.Traceparent, &j.Tracestate); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &j.Payload); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *Repository) MarkProcessed(ctx context.Context, tx pgx.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE reminder_jobs
		SET status = 'processed', updated_at = now()
		WHERE id = ANY($1)
	`, ids)
	return err
}

// MarkFailed records a failed attempt. The job stays pending until attempts
// reaches maxAttempts.
func (r *Repository) MarkFailed(ctx context.Context, tx pgx.Tx, id int64, attempts, maxAttempts int, nextRunAt time.Time, lastError string) error {
	status := StatusPending
	if attempts >= maxAttempts {
		status = StatusFailed
	}
	_, err := tx.Exec(ctx, `
		UPDATE reminder_jobs
		SET attempts = $2,
		    status = $3,
		    next_run_at = $4,
		    last_error = $5,
		    updated_at = now()
		WHERE id = $1
	`, id, attempts, status, nextRunAt, lastError)
	return err
}
