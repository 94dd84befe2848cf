package seed

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/modernmen/shopfront/libs/apperr"
	"github.com/modernmen/shopfront/libs/db"
	"github.com/modernmen/shopfront/libs/settings"
)

// PGStore writes seed data straight into the service tables.
type PGStore struct {
	pool     *db.Pool
	settings *settings.Repository
}

func NewPGStore(pool *db.Pool) *PGStore {
	return &PGStore{pool: pool, settings: settings.NewRepository(pool)}
}

func (s *PGStore) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return s.pool.WithTx(ctx, fn)
}

func (s *PGStore) InsertTenant(ctx context.Context, q db.Querier, t Tenant) (string, error) {
	id := uuid.NewString()
	_, err := q.Exec(ctx, `
		INSERT INTO tenants (id, name, slug, email, phone, address)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, t.Name, t.Slug, t.Email, t.Phone, t.Address)
	if db.IsUniqueViolation(err) {
		return "", apperr.Conflict("a shop with this slug already exists")
	}
	return id, err
}

func (s *PGStore) SaveSettings(ctx context.Context, q db.Querier, tenantID string, cfg settings.Settings) error {
	return s.settings.Save(ctx, q, tenantID, cfg)
}

func (s *PGStore) InsertUser(ctx context.Context, q db.Querier, tenantID string, a Admin, passwordHash string) (string, error) {
	id := uuid.NewString()
	_, err := q.Exec(ctx, `
		INSERT INTO users (id, tenant_id, email, name, password_hash, role)
		VALUES ($1, $2, $3, $4, $5, 'admin')
	`, id, tenantID, a.Email, a.Name, passwordHash)
	if db.IsUniqueViolation(err) {
		return "", apperr.Conflict("email already registered")
	}
	return id, err
}

func (s *PGStore) InsertService(ctx context.Context, q db.Querier, tenantID string, svc Service) error {
	_, err := q.Exec(ctx, `
		INSERT INTO services (id, tenant_id, name, description, duration_minutes, price_cents)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.NewString(), tenantID, svc.Name, svc.Description, svc.DurationMinutes, svc.PriceCents)
	return err
}

// InsertStylist leaves unset schedule fields to the column defaults.
func (s *PGStore) InsertStylist(ctx context.Context, tenantID string, st Stylist) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO stylists (tenant_id, name, email, bio, work_days, work_start, work_end,
			hourly_rate_cents, overtime_rate_cents, commission_cents)
		VALUES ($1, $2, $3, $4,
			COALESCE($5::int[], '{1,2,3,4,5}'), COALESCE(NULLIF($6, ''), '09:00'), COALESCE(NULLIF($7, ''), '17:00'),
			$8, $9, $10)
		RETURNING id::text
	`, tenantID, st.Name, st.Email, st.Bio, st.WorkDays, st.WorkStart, st.WorkEnd,
		st.HourlyRateCents, st.OvertimeRateCents, st.CommissionCents).Scan(&id)
	return id, err
}
