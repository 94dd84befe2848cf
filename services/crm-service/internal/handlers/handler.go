package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/modernmen/shopfront/libs/apperr"
	"github.com/modernmen/shopfront/libs/db"
	"github.com/modernmen/shopfront/libs/httpx"
	"github.com/modernmen/shopfront/libs/settings"
	"github.com/modernmen/shopfront/services/crm-service/internal/chatbot"
	"github.com/modernmen/shopfront/services/crm-service/internal/loyalty"
	"github.com/modernmen/shopfront/services/crm-service/internal/model"
	"github.com/modernmen/shopfront/services/crm-service/internal/storage"
)

type Store interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	ListCustomers(ctx context.Context, f storage.CustomerFilter, page httpx.Page) ([]model.Customer, int64, error)
	CreateCustomer(ctx context.Context, q db.Querier, c model.Customer) (model.Customer, error)
	GetCustomer(ctx context.Context, q db.Querier, tenantID, id string) (model.Customer, error)
	GetCustomerForUpdate(ctx context.Context, q db.Querier, tenantID, id string) (model.Customer, error)
	UpdateCustomer(ctx context.Context, q db.Querier, c model.Customer) (model.Customer, error)
	DeleteCustomer(ctx context.Context, tenantID, id string) error
	LoyaltyHistory(ctx context.Context, tenantID, customerID string) ([]model.LoyaltyEntry, error)
	CreateCoupon(ctx context.Context, c model.Coupon) (model.Coupon, error)
	ListCoupons(ctx context.Context, tenantID string) ([]model.Coupon, error)
	CouponByCode(ctx context.Context, tenantID, code string) (model.Coupon, error)
	RedeemCoupon(ctx context.Context, tenantID, code string) (model.Coupon, error)
}

type Handler struct {
	store    Store
	loyalty  *loyalty.Service
	settings settings.Source
	bot      *chatbot.Bot
	logger   *slog.Logger
	now      func() time.Time
}

func New(store Store, awards *loyalty.Service, source settings.Source, bot *chatbot.Bot, logger *slog.Logger) *Handler {
	return &Handler{
		store:    store,
		loyalty:  awards,
		settings: source,
		bot:      bot,
		logger:   logger,
		now:      time.Now,
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if apperr.Status(err) == http.StatusInternalServerError {
		h.logger.Error(msg, "err", err)
	}
	httpx.WriteError(w, r, err)
}
