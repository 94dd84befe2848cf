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

type User struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenantId"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}

type UserRepository struct {
	pool *db.Pool
}

func NewUserRepository(pool *db.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return r.pool.WithTx(ctx, fn)
}

const userColumns = `id, tenant_id, email, name, password_hash, role, created_at`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.TenantID, &u.Email, &u.Name, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if db.IsNotFound(err) || db.IsInvalidInput(err) {
		return User{}, apperr.NotFound("user not found")
	}
	return u, err
}

// Create inserts u with a lower-cased email. An empty ID gets a fresh UUID.
func (r *UserRepository) Create(ctx context.Context, q db.Querier, u User) (User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	out, err := scanUser(q.QueryRow(ctx, `
		INSERT INTO users (id, tenant_id, email, name, password_hash, role)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+userColumns,
		u.ID, u.TenantID, strings.ToLower(strings.TrimSpace(u.Email)), u.Name, u.PasswordHash, u.Role))
	switch {
	case db.IsUniqueViolation(err):
		return User{}, apperr.Conflict("email already registered")
	case db.IsForeignKeyViolation(err):
		return User{}, apperr.Validation("unknown tenant")
	}
	return out, err
}

func (r *UserRepository) GetByEmail(ctx context.Context, tenantID, email string) (User, error) {
	return scanUser(r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE tenant_id = $1 AND lower(email) = lower($2)
	`, tenantID, strings.TrimSpace(email)))
}

func (r *UserRepository) GetByID(ctx context.Context, q db.Querier, id string) (User, error) {
	if q == nil {
		q = r.pool
	}
	return scanUser(q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}
