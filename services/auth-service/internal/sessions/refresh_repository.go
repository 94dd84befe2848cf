package sessions

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"github.com/modernmen/shopfront/libs/apperr"
	"github.com/modernmen/shopfront/libs/db"
)

type RefreshToken struct {
	ID        string
	UserID    string
	Hash      string
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// Usable reports whether the token may still be exchanged at now.
func (t RefreshToken) Usable(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

// RefreshRepository stores refresh tokens by hash only; the raw value is
// never persisted.
type RefreshRepository struct {
	pool *db.Pool
}

func NewRefreshRepository(pool *db.Pool) *RefreshRepository {
	return &RefreshRepository{pool: pool}
}

func (r *RefreshRepository) Create(ctx context.Context, q db.Querier, userID, rawToken string, expiresAt time.Time) (string, error) {
	id := uuid.NewString()
	_, err := q.Exec(ctx, `
		INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at)
		VALUES ($1, $2, $3, $4)
	`, id, userID, HashToken(rawToken), expiresAt)
	if err != nil {
		return "", err
	}
	return id, nil
}

// GetByHash locks the token row so concurrent refreshes of the same token
// cannot both succeed.
func (r *RefreshRepository) GetByHash(ctx context.Context, q db.Querier, hash string) (RefreshToken, error) {
	var token RefreshToken
	err := q.QueryRow(ctx, `
		SELECT id, user_id, token_hash, expires_at, revoked_at
		FROM refresh_tokens
		WHERE token_hash = $1
		FOR UPDATE
	`, hash).Scan(&token.ID, &token.UserID, &token.Hash, &token.ExpiresAt, &token.RevokedAt)
	if db.IsNotFound(err) {
		return RefreshToken{}, apperr.NotFound("refresh token not found")
	}
	return token, err
}

func (r *RefreshRepository) Revoke(ctx context.Context, q db.Querier, id string) error {
	_, err := q.Exec(ctx, `
		UPDATE refresh_tokens
		SET revoked_at = now()
		WHERE id = $1 AND revoked_at IS NULL
	`, id)
	return err
}

func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
