package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/modernmen/shopfront/libs/apperr"
	"github.com/modernmen/shopfront/libs/db"
	"github.com/modernmen/shopfront/libs/events"
	"github.com/modernmen/shopfront/libs/httpx"
	"github.com/modernmen/shopfront/libs/outbox"
	"github.com/modernmen/shopfront/libs/settings"
	"github.com/modernmen/shopfront/services/crm-service/internal/chatbot"
	"github.com/modernmen/shopfront/services/crm-service/internal/coupons"
	"github.com/modernmen/shopfront/services/crm-service/internal/loyalty"
	"github.com/modernmen/shopfront/services/crm-service/internal/model"
	"github.com/modernmen/shopfront/services/crm-service/internal/storage"
)

type fakeStore struct {
	customers map[string]model.Customer
	coupons   map[string]model.Coupon
	history   []model.LoyaltyEntry
	filter    storage.CustomerFilter
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		customers: map[string]model.Customer{
			"c-1": {ID: "c-1", TenantID: "t1", FirstName: "Sam", LastName: "Ortiz", Email: "sam@example.com", Status: model.CustomerActive, LoyaltyPoints: 90, LoyaltyTier: "bronze"},
		},
		coupons: map[string]model.Coupon{},
	}
}

func (f *fakeStore) WithTx(_ context.Context, fn func(tx pgx.Tx) error) error {
	customers, history := maps.Clone(f.customers), append([]model.LoyaltyEntry(nil), f.history...)
	if err := fn(nil); err != nil {
		f.customers, f.history = customers, history
		return err
	}
	return nil
}

func (f *fakeStore) ListCustomers(_ context.Context, filter storage.CustomerFilter, _ httpx.Page) ([]model.Customer, int64, error) {
	f.filter = filter
	out := []model.Customer{}
	for _, c := range f.customers {
		if c.TenantID == filter.TenantID {
			out = append(out, c)
		}
	}
	return out, int64(len(out)), nil
}

func (f *fakeStore) CreateCustomer(_ context.Context, _ db.Querier, c model.Customer) (model.Customer, error) {
	for _, existing := range f.customers {
		if existing.TenantID == c.TenantID && existing.Email == c.Email {
			return model.Customer{}, apperr.Conflict("customer email already exists")
		}
	}
	c.ID = "c-new"
	if c.Status == "" {
		c.Status = model.CustomerActive
	}
	f.customers[c.ID] = c
	return c, nil
}

func (f *fakeStore) GetCustomer(_ context.Context, _ db.Querier, tenantID, id string) (model.Customer, error) {
	c, ok := f.customers[id]
	if !ok || c.TenantID != tenantID {
		return model.Customer{}, apperr.NotFound("customer not found")
	}
	return c, nil
}

func (f *fakeStore) GetCustomerForUpdate(ctx context.Context, q db.Querier, tenantID, id string) (model.Customer, error) {
	return f.GetCustomer(ctx, q, tenantID, id)
}

func (f *fakeStore) UpdateCustomer(ctx context.Context, q db.Querier, c model.Customer) (model.Customer, error) {
	existing, err := f.GetCustomer(ctx, q, c.TenantID, c.ID)
	if err != nil {
		return model.Customer{}, err
	}
	c.LoyaltyPoints, c.LoyaltyTier = existing.LoyaltyPoints, existing.LoyaltyTier
	f.customers[c.ID] = c
	return c, nil
}

func (f *fakeStore) DeleteCustomer(ctx context.Context, tenantID, id string) error {
	if _, err := f.GetCustomer(ctx, nil, tenantID, id); err != nil {
		return err
	}
	delete(f.customers, id)
	return nil
}

func (f *fakeStore) SetLoyalty(_ context.Context, _ db.Querier, _, id string, points int64, tier string) error {
	c := f.customers[id]
	c.LoyaltyPoints, c.LoyaltyTier = points, tier
	f.customers[id] = c
	return nil
}

func (f *fakeStore) AppendLoyalty(_ context.Context, _ db.Querier, e model.LoyaltyEntry) error {
	f.history = append(f.history, e)
	return nil
}

func (f *fakeStore) LoyaltyHistory(_ context.Context, _, customerID string) ([]model.LoyaltyEntry, error) {
	var out []model.LoyaltyEntry
	for _, e := range f.history {
		if e.CustomerID == customerID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateCoupon(_ context.Context, c model.Coupon) (model.Coupon, error) {
	if _, ok := f.coupons[c.Code]; ok {
		return model.Coupon{}, apperr.Conflict("coupon code already exists")
	}
	c.ID = "cp-" + c.Code
	f.coupons[c.Code] = c
	return c, nil
}

func (f *fakeStore) ListCoupons(context.Context, string) ([]model.Coupon, error) {
	return nil, nil
}

func (f *fakeStore) CouponByCode(_ context.Context, _, code string) (model.Coupon, error) {
	c, ok := f.coupons[code]
	if !ok {
		return model.Coupon{}, apperr.NotFound("coupon not found")
	}
	return c, nil
}

func (f *fakeStore) RedeemCoupon(_ context.Context, _, code string) (model.Coupon, error) {
	c, ok := f.coupons[code]
	if !ok || !c.Active || (c.MaxUses > 0 && c.UsedCount >= c.MaxUses) {
		return model.Coupon{}, apperr.Conflict("coupon cannot be redeemed")
	}
	c.UsedCount++
	f.coupons[code] = c
	return c, nil
}

type fakeOutbox struct {
	events []outbox.Event
}

func (f *fakeOutbox) Insert(_ context.Context, _ db.Querier, evt outbox.Event) error {
	f.events = append(f.events, evt)
	return nil
}

var testNow = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

func newTestHandler(store *fakeStore, ob *fakeOutbox, cfg settings.Settings) *Handler {
	h := New(store, loyalty.NewService(store, ob), settings.Static(cfg), chatbot.New(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.now = func() time.Time { return testNow }
	return h
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Meta    *httpx.PageMeta `json:"meta"`
	Error   *httpx.ErrorBody
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return env
}

func withIdentity(req *http.Request, role string) *http.Request {
	req.Header.Set(httpx.HeaderUserID, "u-1")
	req.Header.Set(httpx.HeaderTenantID, "t1")
	req.Header.Set(httpx.HeaderRole, role)
	return req
}

func TestListCustomersPassesFilters(t *testing.T) {
	store := newFakeStore()
	h := newTestHandler(store, &fakeOutbox{}, settings.Defaults())

	req := withIdentity(httptest.NewRequest(http.MethodGet, "/api/v1/crm/customers?search=sam&status=active&loyalty_tier=bronze&sort=-loyaltyPoints", nil), "staff")
	rec := httptest.NewRecorder()
	h.ListCustomers(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	env := decode(t, rec)
	if env.Meta == nil || env.Meta.TotalDocs != 1 {
		t.Fatalf("expected meta with one customer, got %+v", env.Meta)
	}
	if store.filter.Search != "sam" || store.filter.Tier != "bronze" || store.filter.Sort != "-loyaltyPoints" {
		t.Fatalf("filter not forwarded: %+v", store.filter)
	}

	for _, query := range []string{"sort=password", "status=banned"} {
		rec = httptest.NewRecorder()
		h.ListCustomers(rec, withIdentity(httptest.NewRequest(http.MethodGet, "/api/v1/crm/customers?"+query, nil), "staff"))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", query, rec.Code)
		}
	}

	rec = httptest.NewRecorder()
	h.ListCustomers(rec, withIdentity(httptest.NewRequest(http.MethodGet, "/api/v1/crm/customers", nil), "customer"))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("customers cannot list, got %d", rec.Code)
	}
}

func TestCreateCustomer(t *testing.T) {
	store := newFakeStore()
	h := newTestHandler(store, &fakeOutbox{}, settings.Defaults())

	body := `{"first_name":" Ana ","last_name":"Ruiz","email":"ANA@example.com","phone":"555-0101"}`
	rec := httptest.NewRecorder()
	h.CreateCustomer(rec, withIdentity(httptest.NewRequest(http.MethodPost, "/api/v1/crm/customers", strings.NewReader(body)), "manager"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if c := store.customers["c-new"]; c.FirstName != "Ana" || c.Email != "ana@example.com" {
		t.Fatalf("customer not normalized: %+v", c)
	}

	rec = httptest.NewRecorder()
	h.CreateCustomer(rec, withIdentity(httptest.NewRequest(http.MethodPost, "/api/v1/crm/customers", strings.NewReader(`{"first_name":"A"}`)), "manager"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	env := decode(t, rec)
	if env.Error == nil || env.Error.Details["email"] == "" || env.Error.Details["last_name"] == "" {
		t.Fatalf("expected field details, got %+v", env.Error)
	}

	rec = httptest.NewRecorder()
	h.CreateCustomer(rec, withIdentity(httptest.NewRequest(http.MethodPost, "/api/v1/crm/customers", strings.NewReader(body)), "staff"))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("staff cannot create customers, got %d", rec.Code)
	}
}

func TestDeleteCustomerNotFound(t *testing.T) {
	h := newTestHandler(newFakeStore(), &fakeOutbox{}, settings.Defaults())
	req := withIdentity(httptest.NewRequest(http.MethodDelete, "/api/v1/crm/customers/nope", nil), "admin")
	req.SetPathValue("id", "nope")
	rec := httptest.NewRecorder()
	h.DeleteCustomer(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func pointsRequestFor(customerID string, points int) *http.Request {
	body := `{"customer_id":"` + customerID + `","points":` + strconv.Itoa(points) + `,"reason":"birthday"}`
	return withIdentity(httptest.NewRequest(http.MethodPost, "/api/v1/crm/loyalty/points", strings.NewReader(body)), "staff")
}

func TestAddPointsUpgradesTier(t *testing.T) {
	store, ob := newFakeStore(), &fakeOutbox{}
	h := newTestHandler(store, ob, settings.Defaults())

	rec := httptest.NewRecorder()
	h.AddPoints(rec, pointsRequestFor("c-1", 10))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got struct {
		CustomerID  string `json:"customerId"`
		NewTotal    int64  `json:"newTotal"`
		Tier        string `json:"tier"`
		TierChanged bool   `json:"tierChanged"`
	}
	if err := json.Unmarshal(decode(t, rec).Data, &got); err != nil {
		t.Fatal(err)
	}
	if got.CustomerID != "c-1" || got.NewTotal != 100 || got.Tier != "silver" || !got.TierChanged {
		t.Fatalf("unexpected change %+v", got)
	}
	if c := store.customers["c-1"]; c.LoyaltyPoints != 100 || c.LoyaltyTier != "silver" {
		t.Fatalf("customer not updated: %+v", c)
	}
	if len(store.history) != 1 || store.history[0].PreviousTotal != 90 || store.history[0].Reason != "birthday" {
		t.Fatalf("unexpected history %+v", store.history)
	}
	if len(ob.events) != 2 || ob.events[0].EventType != events.LoyaltyPointsEarned || ob.events[1].EventType != events.LoyaltyTierUpgraded {
		t.Fatalf("unexpected events %+v", ob.events)
	}
}

func TestAddPointsRejections(t *testing.T) {
	disabled := settings.Defaults()
	disabled.Loyalty.Enabled = false
	noTiers := settings.Defaults()
	noTiers.Loyalty.Tiers = nil

	cases := []struct {
		name string
		cfg  settings.Settings
		req  *http.Request
		want int
	}{
		{"unknown customer", settings.Defaults(), pointsRequestFor("c-404", 10), http.StatusNotFound},
		{"zero points", settings.Defaults(), pointsRequestFor("c-1", 0), http.StatusBadRequest},
		{"negative points", settings.Defaults(), pointsRequestFor("c-1", -5), http.StatusBadRequest},
		{"disabled", disabled, pointsRequestFor("c-1", 10), http.StatusBadRequest},
		{"no tiers", noTiers, pointsRequestFor("c-1", 10), http.StatusBadRequest},
	}
	for _, c := range cases {
		store, ob := newFakeStore(), &fakeOutbox{}
		h := newTestHandler(store, ob, c.cfg)
		rec := httptest.NewRecorder()
		h.AddPoints(rec, c.req)
		if rec.Code != c.want {
			t.Fatalf("%s: expected %d, got %d: %s", c.name, c.want, rec.Code, rec.Body.String())
		}
		if len(ob.events) != 0 || store.customers["c-1"].LoyaltyPoints != 90 {
			t.Fatalf("%s: state changed on rejection", c.name)
		}
	}
}

func TestValidateCoupon(t *testing.T) {
	store := newFakeStore()
	store.coupons["SAVE20"] = model.Coupon{
		ID: "cp-1", TenantID: "t1", Code: "SAVE20", DiscountType: model.DiscountPercent,
		Amount: 20, MaxDiscountCents: 500, MinPurchaseCents: 1000, Active: true,
	}
	h := newTestHandler(store, &fakeOutbox{}, settings.Defaults())

	call := func(body string) (int, coupons.Result) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/public/coupons/validate?tenant_id=t1", strings.NewReader(body))
		rec := httptest.NewRecorder()
		h.ValidateCoupon(rec, req)
		var res coupons.Result
		if rec.Code == http.StatusOK {
			if err := json.Unmarshal(decode(t, rec).Data, &res); err != nil {
				t.Fatal(err)
			}
		}
		return rec.Code, res
	}

	if code, _ := call(`{}`); code != http.StatusBadRequest {
		t.Fatalf("missing code: expected 400, got %d", code)
	}
	if _, res := call(`{"code":"nope"}`); res.Valid || res.Error != "Coupon not found or inactive" {
		t.Fatalf("unknown coupon: %+v", res)
	}
	_, res := call(`{"code":"save20","subtotal_cents":4000}`)
	if !res.Valid || res.DiscountCents == nil || *res.DiscountCents != 500 {
		t.Fatalf("expected capped discount of 500, got %+v", res)
	}
	if _, res := call(`{"code":"SAVE20","subtotal_cents":500}`); res.Valid || res.Error != "Minimum purchase not met" {
		t.Fatalf("expected minimum purchase failure, got %+v", res)
	}
}

func TestCreateAndRedeemCoupon(t *testing.T) {
	store := newFakeStore()
	h := newTestHandler(store, &fakeOutbox{}, settings.Defaults())

	rec := httptest.NewRecorder()
	body := `{"code":"fade10","discount_type":"percent","amount":150}`
	h.CreateCoupon(rec, withIdentity(httptest.NewRequest(http.MethodPost, "/api/v1/crm/coupons", strings.NewReader(body)), "admin"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("percent over 100: expected 400, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	body = `{"code":"fade10","discount_type":"fixed","amount":1000,"max_uses":1}`
	h.CreateCoupon(rec, withIdentity(httptest.NewRequest(http.MethodPost, "/api/v1/crm/coupons", strings.NewReader(body)), "admin"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if c, ok := store.coupons["FADE10"]; !ok || !c.Active {
		t.Fatalf("coupon not stored active under its normalized code: %+v", store.coupons)
	}

	redeem := func() int {
		req := withIdentity(httptest.NewRequest(http.MethodPost, "/api/v1/crm/coupons/FADE10/redeem", nil), "staff")
		req.SetPathValue("code", "FADE10")
		rec := httptest.NewRecorder()
		h.RedeemCoupon(rec, req)
		return rec.Code
	}
	if code := redeem(); code != http.StatusOK {
		t.Fatalf("first redeem: expected 200, got %d", code)
	}
	if code := redeem(); code != http.StatusConflict {
		t.Fatalf("second redeem: expected 409, got %d", code)
	}
}

func TestChatbot(t *testing.T) {
	h := newTestHandler(newFakeStore(), &fakeOutbox{}, settings.Defaults())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/public/chatbot?tenant_id=t1", strings.NewReader(`{"message":"I want to book a haircut"}`))
	rec := httptest.NewRecorder()
	h.Chat(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var reply chatbot.Reply
	if err := json.Unmarshal(decode(t, rec).Data, &reply); err != nil {
		t.Fatal(err)
	}
	if reply.Category != chatbot.CategoryBooking || reply.Message == "" {
		t.Fatalf("unexpected reply %+v", reply)
	}

	rec = httptest.NewRecorder()
	h.Chat(rec, httptest.NewRequest(http.MethodPost, "/api/v1/public/chatbot?tenant_id=t1", strings.NewReader(`{"message":"   "}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("blank message: expected 400, got %d", rec.Code)
	}
}

func TestChatbotDisabled(t *testing.T) {
	cfg := settings.Defaults()
	cfg.Chatbot.Enabled = false
	h := newTestHandler(newFakeStore(), &fakeOutbox{}, cfg)

	rec := httptest.NewRecorder()
	h.Chat(rec, httptest.NewRequest(http.MethodPost, "/api/v1/public/chatbot?tenant_id=t1", strings.NewReader(`{"message":"hi"}`)))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if env := decode(t, rec); env.Error == nil || env.Error.Code != apperr.CodeFeatureDisabled {
		t.Fatalf("expected feature disabled code, got %+v", env.Error)
	}

	rec = httptest.NewRecorder()
	h.ChatInfo(rec, httptest.NewRequest(http.MethodGet, "/api/v1/public/chatbot?tenant_id=t1", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("info: expected 403, got %d", rec.Code)
	}
}
