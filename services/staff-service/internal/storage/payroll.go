package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/modernmen/shopfront/libs/apperr"
	"github.com/modernmen/shopfront/libs/db"
	"github.com/modernmen/shopfront/services/staff-service/internal/payroll"
)

type Schedule struct {
	ID          string    `json:"id"`
	StylistID   string    `json:"stylistId"`
	StylistName string    `json:"stylistName,omitempty"`
	Date        time.Time `json:"date"`
	StartMinute int       `json:"startMinute"`
	EndMinute   int       `json:"endMinute"`
	Notes       string    `json:"notes,omitempty"`
}

func (r *Repository) CreateSchedule(ctx context.Context, tenantID string, s Schedule) (Schedule, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO staff_schedules (tenant_id, stylist_id, shift_date, start_minute, end_minute, notes)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, tenantID, s.StylistID, s.Date, s.StartMinute, s.EndMinute, s.Notes).Scan(&s.ID)
	return s, translate(err, "shift overlaps an existing shift for this stylist")
}

func (r *Repository) ListSchedules(ctx context.Context, tenantID, stylistID string, from, to time.Time) ([]Schedule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT ss.id, ss.stylist_id, s.name, ss.shift_date, ss.start_minute, ss.end_minute, ss.notes
		FROM staff_schedules ss JOIN stylists s ON s.id = ss.stylist_id
		WHERE ss.tenant_id = $1
			AND ($2 = '' OR ss.stylist_id::text = $2)
			AND ss.shift_date BETWEEN $3 AND $4
		ORDER BY ss.shift_date, ss.start_minute
	`, tenantID, stylistID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Schedule
	for rows.Next() {
		var s Schedule
		if err := rows.Scan(&s.ID, &s.StylistID, &s.StylistName, &s.Date, &s.StartMinute, &s.EndMinute, &s.Notes); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type PayrollRecord struct {
	ID          string     `json:"id"`
	StylistID   string     `json:"stylistId"`
	StylistName string     `json:"stylistName,omitempty"`
	PeriodStart time.Time  `json:"periodStart"`
	PeriodEnd   time.Time  `json:"periodEnd"`
	Status      string     `json:"status"`
	ApprovedBy  string     `json:"approvedBy,omitempty"`
	ApprovedAt  *time.Time `json:"approvedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	payroll.Result
}

// WorkedHours is the per-stylist sum of completed session hours in a period.
type WorkedHours struct {
	Regular  float64
	Overtime float64
}

// HoursByStylist sums completed sessions whose clock-in date falls within
// [from, to] inclusive. The bounds are midnights in the location carried by
// from and to, so callers pass dates in the tenant's timezone.
func (r *Repository) HoursByStylist(ctx context.Context, q db.Querier, tenantID string, from, to time.Time) (map[string]WorkedHours, error) {
	rows, err := q.Query(ctx, `
		SELECT stylist_id, COALESCE(SUM(regular_hours), 0)::float8, COALESCE(SUM(overtime_hours), 0)::float8
		FROM work_sessions
		WHERE tenant_id = $1 AND status = 'completed'
			AND clock_in >= $2 AND clock_in < $3
		GROUP BY stylist_id
	`, tenantID, from, to.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]WorkedHours{}
	for rows.Next() {
		var id string
		var h WorkedHours
		if err := rows.Scan(&id, &h.Regular, &h.Overtime); err != nil {
			return nil, err
		}
		out[id] = h
	}
	return out, rows.Err()
}

// UpsertPayroll writes a pending record together with the rates its pay was
// computed from, so later rate changes do not alter historical records. An approved record for the same
// stylist and period is left untouched and reported with ok=false.
func (r *Repository) UpsertPayroll(ctx context.Context, q db.Querier, tenantID string, rec PayrollRecord) (PayrollRecord, bool, error) {
	res := rec.Result
	err := q.QueryRow(ctx, `
		INSERT INTO payroll_records (tenant_id, stylist_id, period_start, period_end, regular_hours, overtime_hours,
			regular_rate_cents, overtime_rate_cents, regular_pay_cents, overtime_pay_cents, commission_cents, gross_cents,
			federal_tax_cents, state_tax_cents, social_security_cents, medicare_cents, net_cents, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, 'pending')
		ON CONFLICT (tenant_id, stylist_id, period_start, period_end) DO UPDATE SET
			regular_hours = EXCLUDED.regular_hours, overtime_hours = EXCLUDED.overtime_hours,
			regular_rate_cents = EXCLUDED.regular_rate_cents, overtime_rate_cents = EXCLUDED.overtime_rate_cents,
			regular_pay_cents = EXCLUDED.regular_pay_cents, overtime_pay_cents = EXCLUDED.overtime_pay_cents,
			commission_cents = EXCLUDED.commission_cents, gross_cents = EXCLUDED.gross_cents,
			federal_tax_cents = EXCLUDED.federal_tax_cents, state_tax_cents = EXCLUDED.state_tax_cents,
			social_security_cents = EXCLUDED.social_security_cents, medicare_cents = EXCLUDED.medicare_cents,
			net_cents = EXCLUDED.net_cents, created_at = now()
		WHERE payroll_records.status = 'pending'
		RETURNING id, status, created_at
	`, tenantID, rec.StylistID, rec.PeriodStart, rec.PeriodEnd, res.RegularHours, res.OvertimeHours,
		res.RegularRateCents, res.OvertimeRateCents, res.RegularPayCents, res.OvertimePayCents, res.CommissionCents,
		res.GrossCents, res.FederalTaxCents, res.StateTaxCents, res.SocialSecurityCents, res.MedicareCents, res.NetCents,
	).Scan(&rec.ID, &rec.Status, &rec.CreatedAt)
	if db.IsNotFound(err) {
		return rec, false, nil
	}
	if err != nil {
		return rec, false, err
	}
	return rec, true, nil
}

const payrollColumns = `
	p.id, p.stylist_id, s.name, p.period_start, p.period_end, p.status, COALESCE(p.approved_by::text, ''),
	p.approved_at, p.created_at, p.regular_hours::float8, p.overtime_hours::float8, p.regular_rate_cents,
	p.overtime_rate_cents, p.regular_pay_cents, p.overtime_pay_cents, p.commission_cents, p.gross_cents,
	p.federal_tax_cents, p.state_tax_cents, p.social_security_cents, p.medicare_cents, p.net_cents`

func scanPayroll(row pgx.Row) (PayrollRecord, error) {
	var p PayrollRecord
	err := row.Scan(&p.ID, &p.StylistID, &p.StylistName, &p.PeriodStart, &p.PeriodEnd, &p.Status, &p.ApprovedBy,
		&p.ApprovedAt, &p.CreatedAt, &p.RegularHours, &p.OvertimeHours, &p.RegularRateCents,
		&p.OvertimeRateCents, &p.RegularPayCents, &p.OvertimePayCents, &p.CommissionCents, &p.GrossCents,
		&p.FederalTaxCents, &p.StateTaxCents, &p.SocialSecurityCents, &p.MedicareCents, &p.NetCents)
	if db.IsNotFound(err) || db.IsInvalidInput(err) {
		return PayrollRecord{}, apperr.NotFound("payroll record not found")
	}
	if err != nil {
		return PayrollRecord{}, err
	}
	p.DeductionsCents = p.FederalTaxCents + p.StateTaxCents + p.SocialSecurityCents + p.MedicareCents
	return p, nil
}

// ListPayroll returns records whose period lies within [from, to].
func (r *Repository) ListPayroll(ctx context.Context, tenantID string, from, to time.Time) ([]PayrollRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+payrollColumns+`
		FROM payroll_records p JOIN stylists s ON s.id = p.stylist_id
		WHERE p.tenant_id = $1 AND p.period_start >= $2 AND p.period_end <= $3
		ORDER BY p.created_at DESC
		LIMIT 1000
	`, tenantID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PayrollRecord
	for rows.Next() {
		p, err := scanPayroll(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repository) ApprovePayroll(ctx context.Context, tenantID, id, approvedBy string) (PayrollRecord, error) {
	var status string
	err := r.pool.QueryRow(ctx, `
		SELECT status FROM payroll_records WHERE tenant_id = $1 AND id = $2
	`, tenantID, id).Scan(&status)
	if db.IsNotFound(err) || db.IsInvalidInput(err) {
		return PayrollRecord{}, apperr.NotFound("payroll record not found")
	}
	if err != nil {
		return PayrollRecord{}, err
	}
	if status != payroll.StatusPending {
		return PayrollRecord{}, apperr.Conflict("payroll record is already " + status)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE payroll_records SET status = 'approved', approved_by = NULLIF($3, '')::uuid, approved_at = now()
		WHERE tenant_id = $1 AND id = $2 AND status = 'pending'
	`, tenantID, id, approvedBy)
	if err != nil {
		return PayrollRecord{}, err
	}
	if tag.RowsAffected() == 0 {
		return PayrollRecord{}, apperr.Conflict("payroll record changed concurrently")
	}
	return scanPayroll(r.pool.QueryRow(ctx, `
		SELECT `+payrollColumns+`
		FROM payroll_records p JOIN stylists s ON s.id = p.stylist_id
		WHERE p.tenant_id = $1 AND p.id = $2
	`, tenantID, id))
}
