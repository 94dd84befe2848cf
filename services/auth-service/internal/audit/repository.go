package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/modernmen/shopfront/libs/db"
)

// Audit event types.
const (
	UserRegistered = "user.registered"
	UserCreated    = "user.created"
	LoginSucceeded = "login.succeeded"
	LoginFailed    = "login.failed"
	Logout         = "logout"
	KeyRotated     = "jwt.rotate"
)

type Entry struct {
	TenantID  string
	EventType string
	ActorID   string
	Metadata  map[string]any
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Record writes e with q, so callers can keep it in their transaction. A nil
// q uses the pool.
func (r *Repository) Record(ctx context.Context, q db.Querier, e Entry) error {
	if q == nil {
		q = r.pool
	}
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	raw, err := json.Marshal(e.Metadata)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `
		INSERT INTO audit_events (tenant_id, event_type, actor_id, metadata)
		VALUES (NULLIF($1, '')::uuid, $2, NULLIF($3, '')::uuid, $4)
	`, e.TenantID, e.EventType, e.ActorID, raw)
	return err
}

type Event struct {
	ID        int64           `json:"id"`
	EventType string          `json:"eventType"`
	ActorID   string          `json:"actorId,omitempty"`
	Metadata  json.RawMessage `json:"metadata"`
	CreatedAt time.Time       `json:"createdAt"`
}

func (r *Repository) ListRecent(ctx context.Context, tenantID string, limit int) ([]Event, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, event_type, COALESCE(actor_id::text, ''), metadata, created_at
		FROM audit_events
		WHERE tenant_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.EventType, &e.ActorID, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
