package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/modernmen/shopfront/libs/apperr"
	"github.com/modernmen/shopfront/libs/db"
	"github.com/modernmen/shopfront/services/staff-service/internal/timeclock"
)

const (
	SessionActive    = "active"
	SessionCompleted = "completed"
)

type Session struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"tenantId"`
	StylistID     string     `json:"stylistId"`
	StylistName   string     `json:"stylistName,omitempty"`
	ClockIn       time.Time  `json:"clockIn"`
	ClockOut      *time.Time `json:"clockOut,omitempty"`
	BreakMinutes  int        `json:"breakMinutes"`
	Status        string     `json:"status"`
	HoursWorked   float64    `json:"hoursWorked"`
	RegularHours  float64    `json:"regularHours"`
	OvertimeHours float64    `json:"overtimeHours"`
	IsManual      bool       `json:"isManual"`
	ManualReason  string     `json:"manualReason,omitempty"`
}

type ClockRecord struct {
	TenantID   string
	StylistID  string
	SessionID  string
	Action     string
	RecordedAt time.Time
	RecordedBy string
}

type SessionFilter struct {
	TenantID  string
	StylistID string
	From      time.Time
	To        time.Time
}

const sessionColumns = `
	ws.id, ws.tenant_id, ws.stylist_id, s.name, ws.clock_in, ws.clock_out, ws.break_minutes,
	ws.status, ws.hours_worked, ws.regular_hours, ws.overtime_hours, ws.is_manual, ws.manual_reason`

func scanSession(row pgx.Row) (Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.TenantID, &s.StylistID, &s.StylistName, &s.ClockIn, &s.ClockOut, &s.BreakMinutes,
		&s.Status, &s.HoursWorked, &s.RegularHours, &s.OvertimeHours, &s.IsManual, &s.ManualReason)
	if db.IsNotFound(err) || db.IsInvalidInput(err) {
		return Session{}, apperr.NotFound("work session not found")
	}
	return s, err
}

func (r *Repository) ActiveSession(ctx context.Context, q db.Querier, stylistID string) (Session, error) {
	return scanSession(q.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM work_sessions ws JOIN stylists s ON s.id = ws.stylist_id
		WHERE ws.stylist_id = $1 AND ws.status = 'active'
	`, stylistID))
}

func (r *Repository) StartSession(ctx context.Context, q db.Querier, tenantID, stylistID string, at time.Time) (Session, error) {
	s := Session{TenantID: tenantID, StylistID: stylistID, ClockIn: at, Status: SessionActive}
	err := q.QueryRow(ctx, `
		INSERT INTO work_sessions (tenant_id, stylist_id, clock_in, status)
		VALUES ($1, $2, $3, 'active')
		RETURNING id
	`, tenantID, stylistID, at).Scan(&s.ID)
	return s, translate(err, "stylist is already clocked in")
}

func (r *Repository) CompleteSession(ctx context.Context, q db.Querier, id string, clockOut time.Time, h timeclock.Hours) error {
	tag, err := q.Exec(ctx, `
		UPDATE work_sessions
		SET clock_out = $2, status = 'completed', hours_worked = $3, regular_hours = $4,
			overtime_hours = $5, updated_at = now()
		WHERE id = $1 AND status = 'active'
	`, id, clockOut, h.Worked, h.Regular, h.Overtime)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("work session is no longer active")
	}
	return nil
}

func (r *Repository) SetClockedIn(ctx context.Context, q db.Querier, stylistID string, clockedIn bool) error {
	_, err := q.Exec(ctx, `
		UPDATE stylists SET is_clocked_in = $2, updated_at = now() WHERE id = $1
	`, stylistID, clockedIn)
	return err
}

func (r *Repository) InsertClockRecord(ctx context.Context, q db.Querier, rec ClockRecord) error {
	_, err := q.Exec(ctx, `
		INSERT INTO clock_records (tenant_id, stylist_id, session_id, action, recorded_at, recorded_by)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, '')::uuid)
	`, rec.TenantID, rec.StylistID, rec.SessionID, rec.Action, rec.RecordedAt, rec.RecordedBy)
	return err
}

// CompletedHoursSince sums hours of sessions clocked in at or after since.
func (r *Repository) CompletedHoursSince(ctx context.Context, q db.Querier, stylistID string, since time.Time) (float64, error) {
	var total float64
	err := q.QueryRow(ctx, `
		SELECT COALESCE(SUM(hours_worked), 0)::float8
		FROM work_sessions
		WHERE stylist_id = $1 AND status = 'completed' AND clock_in >= $2
	`, stylistID, since).Scan(&total)
	return total, err
}

func (r *Repository) ListSessions(ctx context.Context, f SessionFilter) ([]Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM work_sessions ws JOIN stylists s ON s.id = ws.stylist_id
		WHERE ws.tenant_id = $1
			AND ($2 = '' OR ws.stylist_id::text = $2)
			AND ($3::timestamptz IS NULL OR ws.clock_in >= $3)
			AND ($4::timestamptz IS NULL OR ws.clock_in < $4)
		ORDER BY ws.clock_in DESC
		LIMIT 500
	`, f.TenantID, f.StylistID, nullTime(f.From), nullTime(f.To))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) GetSession(ctx context.Context, q db.Querier, tenantID, id string) (Session, error) {
	return scanSession(q.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM work_sessions ws JOIN stylists s ON s.id = ws.stylist_id
		WHERE ws.tenant_id = $1 AND ws.id = $2
		FOR UPDATE OF ws
	`, tenantID, id))
}

// CorrectSession overwrites a session with manually entered times.
func (r *Repository) CorrectSession(ctx context.Context, q db.Querier, s Session) error {
	_, err := q.Exec(ctx, `
		UPDATE work_sessions
		SET clock_in = $2, clock_out = $3, break_minutes = $4, status = $5, hours_worked = $6,
			regular_hours = $7, overtime_hours = $8, is_manual = true, manual_reason = $9, updated_at = now()
		WHERE id = $1
	`, s.ID, s.ClockIn, s.ClockOut, s.BreakMinutes, s.Status, s.HoursWorked, s.RegularHours, s.OvertimeHours, s.ManualReason)
	return err
}

func (r *Repository) DeleteSession(ctx context.Context, q db.Querier, tenantID, id string) error {
	tag, err := q.Exec(ctx, `DELETE FROM work_sessions WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("work session not found")
	}
	return nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
