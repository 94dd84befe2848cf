package storage

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/modernmen/shopfront/libs/apperr"
	"github.com/modernmen/shopfront/libs/db"
)

// Repository owns the tenants and services tables.
type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return r.pool.WithTx(ctx, fn)
}

type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

const tenantColumns = `id, name, slug, email, phone, address, created_at, updated_at`

func scanTenant(row pgx.Row) (Tenant, error) {
	var t Tenant
	err := row.Scan(&t.ID, &t.Name, &t.Slug, &t.Email, &t.Phone, &t.Address, &t.CreatedAt, &t.UpdatedAt)
	if db.IsNotFound(err) || db.IsInvalidInput(err) {
		return Tenant{}, apperr.NotFound("tenant not found")
	}
	return t, err
}

// CreateTenant inserts t. An empty ID gets a fresh UUID.
func (r *Repository) CreateTenant(ctx context.Context, q db.Querier, t Tenant) (Tenant, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	out, err := scanTenant(q.QueryRow(ctx, `
		INSERT INTO tenants (id, name, slug, email, phone, address)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+tenantColumns,
		t.ID, t.Name, t.Slug, t.Email, t.Phone, t.Address))
	return out, translate(err, "a shop with this slug already exists")
}

func (r *Repository) GetTenant(ctx context.Context, id string) (Tenant, error) {
	return scanTenant(r.pool.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id))
}

type Service struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenantId"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	DurationMinutes int       `json:"durationMinutes"`
	PriceCents      int64     `json:"priceCents"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

const serviceColumns = `id, tenant_id, name, description, duration_minutes, price_cents, active, created_at, updated_at`

func scanService(row pgx.Row) (Service, error) {
	var s Service
	err := row.Scan(&s.ID, &s.TenantID, &s.Name, &s.Description, &s.DurationMinutes, &s.PriceCents, &s.Active, &s.CreatedAt, &s.UpdatedAt)
	if db.IsNotFound(err) || db.IsInvalidInput(err) {
		return Service{}, apperr.NotFound("service not found")
	}
	return s, err
}

func (r *Repository) CreateService(ctx context.Context, s Service) (Service, error) {
	out, err := scanService(r.pool.QueryRow(ctx, `
		INSERT INTO services (id, tenant_id, name, description, duration_minutes, price_cents, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+serviceColumns,
		uuid.NewString(), s.TenantID, s.Name, s.Description, s.DurationMinutes, s.PriceCents, s.Active))
	return out, translate(err, "service already exists")
}

func (r *Repository) ListServices(ctx context.Context, tenantID string, activeOnly bool) ([]Service, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+serviceColumns+`
		FROM services
		WHERE tenant_id = $1 AND ($2 = false OR active)
		ORDER BY name
	`, tenantID, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Service{}
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) GetService(ctx context.Context, tenantID, id string) (Service, error) {
	return scanService(r.pool.QueryRow(ctx, `
		SELECT `+serviceColumns+` FROM services WHERE tenant_id = $1 AND id = $2
	`, tenantID, id))
}

func (r *Repository) UpdateService(ctx context.Context, s Service) (Service, error) {
	return scanService(r.pool.QueryRow(ctx, `
		UPDATE services
		SET name = $3, description = $4, duration_minutes = $5, price_cents = $6, active = $7, updated_at = now()
		WHERE tenant_id = $1 AND id = $2
		RETURNING `+serviceColumns,
		s.TenantID, s.ID, s.Name, s.Description, s.DurationMinutes, s.PriceCents, s.Active))
}

func (r *Repository) DeleteService(ctx context.Context, tenantID, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM services WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if db.IsForeignKeyViolation(err) {
		return apperr.Conflict("service has appointments; deactivate it instead")
	}
	if db.IsInvalidInput(err) {
		return apperr.NotFound("service not found")
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("service not found")
	}
	return nil
}

func translate(err error, conflictMsg string) error {
	switch {
	case err == nil:
		return nil
	case db.IsUniqueViolation(err):
		return apperr.Conflict(conflictMsg)
	case db.IsForeignKeyViolation(err):
		return apperr.Validation("referenced record does not exist")
	}
	return err
}

// Slugify lower-cases name and joins its words with dashes.
func Slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
