package storage

import (
	"context"

	"github.com/modernmen/shopfront/libs/db"
)

// DayLayout is the format of the day keys passed to the repository.
const DayLayout = "2006-01-02"

// Delta is added to one tenant day. Zero fields leave the counter untouched.
type Delta struct {
	Booked              int
	Completed           int
	Cancelled           int
	NoShow              int
	RevenueCents        int64
	NotificationsSent   int
	NotificationsFailed int
}

type Totals struct {
	Booked              int64 `json:"booked"`
	Completed           int64 `json:"completed"`
	Cancelled           int64 `json:"cancelled"`
	NoShow              int64 `json:"noShow"`
	RevenueCents        int64 `json:"revenueCents"`
	NotificationsSent   int64 `json:"notificationsSent"`
	NotificationsFailed int64 `json:"notificationsFailed"`
}

type StylistStat struct {
	StylistID    string `json:"stylistId"`
	StylistName  string `json:"stylistName"`
	Completed    int64  `json:"completed"`
	RevenueCents int64  `json:"revenueCents"`
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) BumpDaily(ctx context.Context, q db.Querier, tenantID, day string, d Delta) error {
	_, err := q.Exec(ctx, `
		INSERT INTO analytics_daily (tenant_id, day, booked, completed, cancelled, no_show, revenue_cents, notifications_sent, notifications_failed)
		VALUES ($1, $2::date, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant_id, day)
		DO UPDATE SET booked = analytics_daily.booked + EXCLUDED.booked,
		              completed = analytics_daily.completed + EXCLUDED.completed,
		              cancelled = analytics_daily.cancelled + EXCLUDED.cancelled,
		              no_show = analytics_daily.no_show + EXCLUDED.no_show,
		              revenue_cents = analytics_daily.revenue_cents + EXCLUDED.revenue_cents,
		              notifications_sent = analytics_daily.notifications_sent + EXCLUDED.notifications_sent,
		              notifications_failed = analytics_daily.notifications_failed + EXCLUDED.notifications_failed,
		              updated_at = now()
	`, tenantID, day, d.Booked, d.Completed, d.Cancelled, d.NoShow, d.RevenueCents, d.NotificationsSent, d.NotificationsFailed)
	return err
}

// BumpStylist counts one completed appointment for a stylist. The latest
// non-empty name wins.
func (r *Repository) BumpStylist(ctx context.Context, q db.Querier, tenantID, stylistID, stylistName, day string, revenueCents int64) error {
	_, err := q.Exec(ctx, `
		INSERT INTO analytics_stylist_daily (tenant_id, stylist_id, stylist_name, day, completed, revenue_cents)
		VALUES ($1, $2, $3, $4::date, 1, $5)
		ON CONFLICT (tenant_id, stylist_id, day)
		DO UPDATE SET completed = analytics_stylist_daily.completed + 1,
		              revenue_cents = analytics_stylist_daily.revenue_cents + EXCLUDED.revenue_cents,
		              stylist_name = COALESCE(NULLIF(EXCLUDED.stylist_name, ''), analytics_stylist_daily.stylist_name)
	`, tenantID, stylistID, stylistName, day, revenueCents)
	return err
}

// Totals sums the daily rows between from and to, both inclusive.
func (r *Repository) Totals(ctx context.Context, tenantID, from, to string) (Totals, error) {
	var t Totals
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(booked), 0), COALESCE(SUM(completed), 0), COALESCE(SUM(cancelled), 0),
		       COALESCE(SUM(no_show), 0), COALESCE(SUM(revenue_cents), 0)::bigint,
		       COALESCE(SUM(notifications_sent), 0), COALESCE(SUM(notifications_failed), 0)
		FROM analytics_daily
		WHERE tenant_id = $1 AND day BETWEEN $2::date AND $3::date
	`, tenantID, from, to).Scan(&t.Booked, &t.Completed, &t.Cancelled, &t.NoShow, &t.RevenueCents, &t.NotificationsSent, &t.NotificationsFailed)
	return t, err
}

func (r *Repository) TopStylists(ctx context.Context, tenantID, from, to string, limit int) ([]StylistStat, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT stylist_id::text, MAX(stylist_name), SUM(completed), SUM(revenue_cents)::bigint
		FROM analytics_stylist_daily
		WHERE tenant_id = $1 AND day BETWEEN $2::date AND $3::date
		GROUP BY stylist_id
		ORDER BY SUM(completed) DESC, SUM(revenue_cents) DESC, stylist_id
		LIMIT $4
	`, tenantID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []StylistStat{}
	for rows.Next() {
		var s StylistStat
		if err := rows.Scan(&s.StylistID, &s.StylistName, &s.Completed, &s.RevenueCents); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
