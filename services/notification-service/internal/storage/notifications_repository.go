package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/modernmen/shopfront/libs/db"
)

const (
	StatusSent    = "sent"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

type Notification struct {
	ID        int64
	TenantID  string
	EventID   string
	Trigger   string
	Channel   string
	Recipient string
	Subject   string
	Body      string
	Status    string
	Error     string
	CreatedAt time.Time
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert stores n and returns its id. q is usually the inbox transaction.
func (r *Repository) Insert(ctx context.Context, q db.Querier, n Notification) (int64, error) {
	if q == nil {
		q = r.pool
	}
	var id int64
	err := q.QueryRow(ctx, `
		INSERT INTO notifications (tenant_id, event_id, trigger, channel, recipient, subject, body, status, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, n.TenantID, n.EventID, n.Trigger, n.Channel, n.Recipient, n.Subject, n.Body, n.Status, n.Error).Scan(&id)
	return id, err
}

// AdminEmails lists the tenant's admin logins, oldest first.
func (r *Repository) AdminEmails(ctx context.Context, tenantID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT email FROM users
		WHERE tenant_id = $1 AND role = 'admin'
		ORDER BY created_at
	`, tenantID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
