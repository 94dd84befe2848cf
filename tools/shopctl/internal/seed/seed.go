// Package seed loads a shop description from YAML and writes it to the
// database: the tenant, its settings, the service catalogue, the stylists
// and an admin login.
package seed

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/modernmen/shopfront/libs/apperr"
	"github.com/modernmen/shopfront/libs/db"
	"github.com/modernmen/shopfront/libs/settings"
	"github.com/modernmen/shopfront/libs/validate"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

type File struct {
	Tenant   Tenant    `yaml:"tenant" json:"tenant" validate:"required"`
	Admin    Admin     `yaml:"admin" json:"admin" validate:"required"`
	Services []Service `yaml:"services" json:"services" validate:"dive"`
	Stylists []Stylist `yaml:"stylists" json:"stylists" validate:"dive"`
}

type Tenant struct {
	Name     string `yaml:"name" json:"name" validate:"required,max=200"`
	Slug     string `yaml:"slug" json:"slug" validate:"required,max=100"`
	Email    string `yaml:"email" json:"email" validate:"omitempty,email"`
	Phone    string `yaml:"phone" json:"phone"`
	Address  string `yaml:"address" json:"address"`
	Timezone string `yaml:"timezone" json:"timezone"`
}

type Admin struct {
	Name     string `yaml:"name" json:"name"`
	Email    string `yaml:"email" json:"email" validate:"required,email"`
	Password string `yaml:"password" json:"password" validate:"required,min=8"`
}

type Service struct {
	Name            string `yaml:"name" json:"name" validate:"required"`
	Description     string `yaml:"description" json:"description"`
	DurationMinutes int    `yaml:"duration_minutes" json:"duration_minutes" validate:"gte=5,lte=480"`
	PriceCents      int64  `yaml:"price_cents" json:"price_cents" validate:"gte=0"`
}

type Stylist struct {
	Name              string  `yaml:"name" json:"name" validate:"required"`
	Email             string  `yaml:"email" json:"email" validate:"omitempty,email"`
	Bio               string  `yaml:"bio" json:"bio"`
	WorkDays          []int32 `yaml:"work_days" json:"work_days" validate:"dive,gte=0,lte=6"`
	WorkStart         string  `yaml:"work_start" json:"work_start" validate:"omitempty,hhmm"`
	WorkEnd           string  `yaml:"work_end" json:"work_end" validate:"omitempty,hhmm"`
	HourlyRateCents   int64   `yaml:"hourly_rate_cents" json:"hourly_rate_cents" validate:"gte=0"`
	OvertimeRateCents int64   `yaml:"overtime_rate_cents" json:"overtime_rate_cents" validate:"gte=0"`
	CommissionCents   int64   `yaml:"commission_cents" json:"commission_cents" validate:"gte=0"`
}

// Parse decodes and validates a seed document. Unknown keys are rejected.
func Parse(raw []byte) (File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return File{}, fmt.Errorf("parse seed file: %w", err)
	}
	f.Tenant.Slug = strings.ToLower(strings.TrimSpace(f.Tenant.Slug))
	f.Admin.Email = strings.ToLower(strings.TrimSpace(f.Admin.Email))
	if err := validate.Struct(f); err != nil {
		return File{}, fmt.Errorf("invalid seed file: %w: %v", err, apperr.Details(err))
	}
	if _, err := f.Settings(); err != nil {
		return File{}, err
	}
	return f, nil
}

func Load(path string) (File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return File{}, err
	}
	return Parse(raw)
}

// Settings returns the default settings document with the tenant's time zone.
func (f File) Settings() (settings.Settings, error) {
	s := settings.Defaults()
	if f.Tenant.Timezone != "" {
		s.Timezone = f.Tenant.Timezone
	}
	if problems := s.Validate(); len(problems) > 0 {
		return settings.Settings{}, fmt.Errorf("invalid settings: %v", problems)
	}
	return s, nil
}

type Store interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	InsertTenant(ctx context.Context, q db.Querier, t Tenant) (string, error)
	SaveSettings(ctx context.Context, q db.Querier, tenantID string, s settings.Settings) error
	InsertUser(ctx context.Context, q db.Querier, tenantID string, a Admin, passwordHash string) (string, error)
	InsertService(ctx context.Context, q db.Querier, tenantID string, s Service) error
	InsertStylist(ctx context.Context, tenantID string, s Stylist) (string, error)
}

type Result struct {
	TenantID   string
	AdminID    string
	Services   int
	StylistIDs []string
}

type Seeder struct {
	store       Store
	logger      *slog.Logger
	concurrency int
	hash        func(password string) (string, error)
}

func NewSeeder(store Store, logger *slog.Logger, concurrency int) *Seeder {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Seeder{store: store, logger: logger, concurrency: concurrency, hash: hashPassword}
}

// Run writes the tenant, settings, services and admin in one transaction,
// then inserts the stylists concurrently.
func (s *Seeder) Run(ctx context.Context, f File) (Result, error) {
	cfg, err := f.Settings()
	if err != nil {
		return Result{}, err
	}
	hash, err := s.hash(f.Admin.Password)
	if err != nil {
		return Result{}, err
	}

	var res Result
	err = s.store.WithTx(ctx, func(tx pgx.Tx) error {
		tenantID, err := s.store.InsertTenant(ctx, tx, f.Tenant)
		if err != nil {
			return fmt.Errorf("tenant %s: %w", f.Tenant.Slug, err)
		}
		res.TenantID = tenantID
		if err := s.store.SaveSettings(ctx, tx, tenantID, cfg); err != nil {
			return fmt.Errorf("settings: %w", err)
		}
		if res.AdminID, err = s.store.InsertUser(ctx, tx, tenantID, f.Admin, hash); err != nil {
			return fmt.Errorf("admin %s: %w", f.Admin.Email, err)
		}
		for _, svc := range f.Services {
			if err := s.store.InsertService(ctx, tx, tenantID, svc); err != nil {
				return fmt.Errorf("service %s: %w", svc.Name, err)
			}
			res.Services++
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	s.logger.Info("tenant seeded", "tenant_id", res.TenantID, "slug", f.Tenant.Slug, "services", res.Services)

	ids := make([]string, len(f.Stylists))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, st := range f.Stylists {
		g.Go(func() error {
			id, err := s.store.InsertStylist(gctx, res.TenantID, st)
			if err != nil {
				return fmt.Errorf("stylist %s: %w", st.Name, err)
			}
			ids[i] = id
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}
	res.StylistIDs = ids
	s.logger.Info("stylists seeded", "tenant_id", res.TenantID, "count", len(ids))
	return res, nil
}

func hashPassword(raw string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
