package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/modernmen/shopfront/libs/apperr"
	"github.com/modernmen/shopfront/libs/db"
)

type Stylist struct {
	ID                string    `json:"id"`
	TenantID          string    `json:"tenantId"`
	UserID            string    `json:"userId,omitempty"`
	Name              string    `json:"name"`
	Email             string    `json:"email"`
	Bio               string    `json:"bio"`
	Active            bool      `json:"active"`
	WorkDays          []int32   `json:"workDays"`
	WorkStart         string    `json:"workStart"`
	WorkEnd           string    `json:"workEnd"`
	BreakStart        string    `json:"breakStart,omitempty"`
	BreakEnd          string    `json:"breakEnd,omitempty"`
	HourlyRateCents   int64     `json:"hourlyRateCents"`
	OvertimeRateCents int64     `json:"overtimeRateCents"`
	CommissionCents   int64     `json:"commissionCents"`
	IsClockedIn       bool      `json:"isClockedIn"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

type TimeOff struct {
	ID        string    `json:"id"`
	StylistID string    `json:"stylistId"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"createdAt"`
}

// Repository owns the stylists, work_sessions, clock_records,
// staff_schedules and payroll_records tables.
type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return r.pool.WithTx(ctx, fn)
}

// FindStylist reads a stylist outside any transaction.
func (r *Repository) FindStylist(ctx context.Context, tenantID, id string) (Stylist, error) {
	return r.GetStylist(ctx, r.pool, tenantID, id)
}

const stylistColumns = `
	id, tenant_id, COALESCE(user_id::text, ''), name, email, bio, active, work_days,
	work_start, work_end, break_start, break_end, hourly_rate_cents,
	overtime_rate_cents, commission_cents, is_clocked_in, created_at, updated_at`

func scanStylist(row pgx.Row) (Stylist, error) {
	var s Stylist
	err := row.Scan(&s.ID, &s.TenantID, &s.UserID, &s.Name, &s.Email, &s.Bio, &s.Active, &s.WorkDays,
		&s.WorkStart, &s.WorkEnd, &s.BreakStart, &s.BreakEnd, &s.HourlyRateCents,
		&s.OvertimeRateCents, &s.CommissionCents, &s.IsClockedIn, &s.CreatedAt, &s.UpdatedAt)
	if db.IsNotFound(err) || db.IsInvalidInput(err) {
		return Stylist{}, apperr.NotFound("stylist not found")
	}
	return s, err
}

func (r *Repository) ListStylists(ctx context.Context, tenantID string, activeOnly bool) ([]Stylist, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+stylistColumns+`
		FROM stylists
		WHERE tenant_id = $1 AND ($2 = false OR active)
		ORDER BY name
	`, tenantID, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Stylist
	for rows.Next() {
		s, err := scanStylist(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) GetStylist(ctx context.Context, q db.Querier, tenantID, id string) (Stylist, error) {
	return scanStylist(q.QueryRow(ctx, `
		SELECT `+stylistColumns+` FROM stylists WHERE tenant_id = $1 AND id = $2
	`, tenantID, id))
}

// LockStylist loads the stylist row FOR UPDATE. Clock actions for one
// stylist serialize on this lock.
func (r *Repository) LockStylist(ctx context.Context, q db.Querier, tenantID, id string) (Stylist, error) {
	return scanStylist(q.QueryRow(ctx, `
		SELECT `+stylistColumns+` FROM stylists WHERE tenant_id = $1 AND id = $2 FOR UPDATE
	`, tenantID, id))
}

func (r *Repository) StylistByUser(ctx context.Context, tenantID, userID string) (Stylist, error) {
	return scanStylist(r.pool.QueryRow(ctx, `
		SELECT `+stylistColumns+` FROM stylists WHERE tenant_id = $1 AND user_id = $2
	`, tenantID, userID))
}

func (r *Repository) CreateStylist(ctx context.Context, s Stylist) (Stylist, error) {
	out, err := scanStylist(r.pool.QueryRow(ctx, `
		INSERT INTO stylists (tenant_id, user_id, name, email, bio, active, work_days, work_start, work_end,
			break_start, break_end, hourly_rate_cents, overtime_rate_cents, commission_cents)
		VALUES ($1, NULLIF($2, '')::uuid, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING `+stylistColumns,
		s.TenantID, s.UserID, s.Name, s.Email, s.Bio, s.Active, s.WorkDays, s.WorkStart, s.WorkEnd,
		s.BreakStart, s.BreakEnd, s.HourlyRateCents, s.OvertimeRateCents, s.CommissionCents))
	return out, translate(err, "a stylist already exists for this user")
}

func (r *Repository) UpdateStylist(ctx context.Context, s Stylist) (Stylist, error) {
	out, err := scanStylist(r.pool.QueryRow(ctx, `
		UPDATE stylists SET
			user_id = NULLIF($3, '')::uuid, name = $4, email = $5, bio = $6, active = $7, work_days = $8,
			work_start = $9, work_end = $10, break_start = $11, break_end = $12,
			hourly_rate_cents = $13, overtime_rate_cents = $14, commission_cents = $15, updated_at = now()
		WHERE tenant_id = $1 AND id = $2
		RETURNING `+stylistColumns,
		s.TenantID, s.ID, s.UserID, s.Name, s.Email, s.Bio, s.Active, s.WorkDays, s.WorkStart, s.WorkEnd,
		s.BreakStart, s.BreakEnd, s.HourlyRateCents, s.OvertimeRateCents, s.CommissionCents))
	return out, translate(err, "a stylist already exists for this user")
}

func (r *Repository) DeleteStylist(ctx context.Context, tenantID, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM stylists WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if db.IsForeignKeyViolation(err) {
		return apperr.Conflict("stylist has appointments; deactivate the stylist instead")
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("stylist not found")
	}
	return nil
}

func (r *Repository) CreateTimeOff(ctx context.Context, tenantID string, t TimeOff) (TimeOff, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO stylist_time_off (tenant_id, stylist_id, start_date, end_date, reason)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, tenantID, t.StylistID, t.StartDate, t.EndDate, t.Reason).Scan(&t.ID, &t.CreatedAt)
	return t, err
}

func (r *Repository) ListTimeOff(ctx context.Context, tenantID, stylistID string) ([]TimeOff, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, stylist_id, start_date, end_date, reason, created_at
		FROM stylist_time_off
		WHERE tenant_id = $1 AND stylist_id = $2
		ORDER BY start_date
	`, tenantID, stylistID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TimeOff
	for rows.Next() {
		var t TimeOff
		if err := rows.Scan(&t.ID, &t.StylistID, &t.StartDate, &t.EndDate, &t.Reason, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func translate(err error, conflict string) error {
	switch {
	case err == nil:
		return nil
	case db.IsUniqueViolation(err), db.IsExclusionViolation(err):
		return apperr.Conflict(conflict)
	case db.IsForeignKeyViolation(err):
		return apperr.Validation("referenced record does not exist")
	default:
		return err
	}
}
