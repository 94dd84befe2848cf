package settings

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/modernmen/shopfront/libs/db"
	"github.com/redis/go-redis/v9"
)

// Source is what consumers of settings depend on.
type Source interface {
	Get(ctx context.Context, tenantID string) (Settings, error)
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Load returns the raw stored document, or nil when the tenant has none.
func (r *Repository) Load(ctx context.Context, tenantID string) ([]byte, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx, `
		SELECT document FROM tenant_settings WHERE tenant_id = $1
	`, tenantID).Scan(&raw)
	if db.IsNotFound(err) {
		return nil, nil
	}
	return raw, err
}

func (r *Repository) Save(ctx context.Context, q db.Querier, tenantID string, s Settings) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `
		INSERT INTO tenant_settings (tenant_id, document, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (tenant_id) DO UPDATE SET document = EXCLUDED.document, updated_at = now()
	`, tenantID, raw)
	return err
}

// Decode overlays raw on Defaults.
func Decode(raw []byte) (Settings, error) {
	s := Defaults()
	if len(raw) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return Defaults(), err
	}
	s.Normalize()
	return s, nil
}

type loader interface {
	Load(ctx context.Context, tenantID string) ([]byte, error)
}

// Store reads settings through a Redis cache. A nil client disables caching;
// Redis errors fall through to Postgres.
type Store struct {
	repo   loader
	rdb    redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
}

func NewStore(repo *Repository, rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *Store {
	var cache redis.Cmdable
	if rdb != nil {
		cache = rdb
	}
	return newStore(repo, cache, ttl, logger)
}

func newStore(repo loader, rdb redis.Cmdable, ttl time.Duration, logger *slog.Logger) *Store {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Store{repo: repo, rdb: rdb, ttl: ttl, logger: logger}
}

func cacheKey(tenantID string) string {
	return "settings:" + tenantID
}

func (s *Store) Get(ctx context.Context, tenantID string) (Settings, error) {
	if s.rdb != nil {
		raw, err := s.rdb.Get(ctx, cacheKey(tenantID)).Bytes()
		switch {
		case err == nil:
			if out, err := Decode(raw); err == nil {
				return out, nil
			}
		case !errors.Is(err, redis.Nil):
			s.logger.Warn("settings cache read failed", "err", err, "tenant_id", tenantID)
		}
	}

	raw, err := s.repo.Load(ctx, tenantID)
	if err != nil {
		return Settings{}, err
	}
	out, err := Decode(raw)
	if err != nil {
		s.logger.Warn("stored settings invalid, using defaults", "err", err, "tenant_id", tenantID)
	}

	if s.rdb != nil {
		if cached, err := json.Marshal(out); err == nil {
			if err := s.rdb.Set(ctx, cacheKey(tenantID), cached, s.ttl).Err(); err != nil {
				s.logger.Warn("settings cache write failed", "err", err, "tenant_id", tenantID)
			}
		}
	}
	return out, nil
}

// Invalidate drops the cached document after an update.
func (s *Store) Invalidate(ctx context.Context, tenantID string) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Del(ctx, cacheKey(tenantID)).Err(); err != nil {
		s.logger.Warn("settings cache invalidate failed", "err", err, "tenant_id", tenantID)
	}
}

// Static serves fixed settings. Tests and offline tools use it.
type Static Settings

func (s Static) Get(context.Context, string) (Settings, error) {
	return Settings(s), nil
}
