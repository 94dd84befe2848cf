package consumer

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/modernmen/shopfront/libs/apperr"
	"github.com/modernmen/shopfront/libs/db"
	"github.com/modernmen/shopfront/libs/events"
	"github.com/modernmen/shopfront/libs/kafkax"
	"github.com/modernmen/shopfront/libs/outbox"
	"github.com/modernmen/shopfront/libs/settings"
	"github.com/modernmen/shopfront/services/crm-service/internal/loyalty"
	"github.com/modernmen/shopfront/services/crm-service/internal/model"
	"github.com/segmentio/kafka-go"
)

type memInbox struct {
	seen map[string]bool
}

func (m *memInbox) Process(_ context.Context, meta kafkax.EventMeta, fn func(tx pgx.Tx) error) (bool, error) {
	if m.seen[meta.EventID] {
		return false, nil
	}
	if err := fn(nil); err != nil {
		return false, err
	}
	m.seen[meta.EventID] = true
	return true, nil
}

type memStore struct {
	customers []model.Customer
	entries   []model.LoyaltyEntry
}

func (s *memStore) FindCustomerForUpdate(_ context.Context, _ db.Querier, tenantID, userID, email string) (model.Customer, error) {
	for _, c := range s.customers {
		if c.TenantID == tenantID && ((userID != "" && c.UserID == userID) || (email != "" && c.Email == email)) {
			return c, nil
		}
	}
	return model.Customer{}, apperr.NotFound("customer not found")
}

func (s *memStore) CreateCustomer(_ context.Context, _ db.Querier, c model.Customer) (model.Customer, error) {
	c.ID = "c-auto"
	s.customers = append(s.customers, c)
	return c, nil
}

func (s *memStore) SetLoyalty(_ context.Context, _ db.Querier, _, id string, points int64, tier string) error {
	for i := range s.customers {
		if s.customers[i].ID == id {
			s.customers[i].LoyaltyPoints, s.customers[i].LoyaltyTier = points, tier
		}
	}
	return nil
}

func (s *memStore) AppendLoyalty(_ context.Context, _ db.Querier, e model.LoyaltyEntry) error {
	s.entries = append(s.entries, e)
	return nil
}

type memOutbox struct {
	topics []string
}

func (o *memOutbox) Insert(_ context.Context, _ db.Querier, evt outbox.Event) error {
	o.topics = append(o.topics, evt.EventType)
	return nil
}

func completedMessage(t *testing.T, appt events.Appointment) kafka.Message {
	t.Helper()
	raw, err := json.Marshal(appt)
	if err != nil {
		t.Fatal(err)
	}
	return kafka.Message{Topic: events.AppointmentCompleted, Value: raw}
}

func newCompleted(store *memStore, ob *memOutbox, cfg settings.Settings) (*Completed, *memInbox) {
	in := &memInbox{seen: map[string]bool{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewCompleted(in, store, loyalty.NewService(store, ob), settings.Static(cfg), logger), in
}

func TestCompletedAwardsExistingCustomer(t *testing.T) {
	store := &memStore{customers: []model.Customer{
		{ID: "c-1", TenantID: "t1", UserID: "u-1", Email: "sam@example.com", LoyaltyPoints: 480, LoyaltyTier: "silver"},
	}}
	ob := &memOutbox{}
	c, _ := newCompleted(store, ob, settings.Defaults())

	msg := completedMessage(t, events.Appointment{AppointmentID: "a-1", TenantID: "t1", CustomerID: "u-1", PriceCents: 3500})
	meta := kafkax.EventMeta{EventID: "evt-1", EventType: events.AppointmentCompleted}
	if err := c.Handle(context.Background(), msg, meta); err != nil {
		t.Fatal(err)
	}
	got := store.customers[0]
	if got.LoyaltyPoints != 522 || got.LoyaltyTier != "gold" {
		t.Fatalf("expected 522 points at gold, got %+v", got)
	}
	if len(store.entries) != 1 || store.entries[0].AppointmentID != "a-1" {
		t.Fatalf("unexpected history %+v", store.entries)
	}
	if len(ob.topics) != 2 || ob.topics[1] != events.LoyaltyTierUpgraded {
		t.Fatalf("unexpected events %v", ob.topics)
	}

	if err := c.Handle(context.Background(), msg, meta); err != nil {
		t.Fatal(err)
	}
	if store.customers[0].LoyaltyPoints != 522 {
		t.Fatalf("redelivery awarded twice: %+v", store.customers[0])
	}
}

func TestCompletedCreatesCustomerFromEmail(t *testing.T) {
	store, ob := &memStore{}, &memOutbox{}
	c, _ := newCompleted(store, ob, settings.Defaults())

	msg := completedMessage(t, events.Appointment{
		AppointmentID: "a-2", TenantID: "t1", CustomerName: "Walk In Guest",
		CustomerEmail: "guest@example.com", PriceCents: 2550,
	})
	if err := c.Handle(context.Background(), msg, kafkax.EventMeta{EventID: "evt-2"}); err != nil {
		t.Fatal(err)
	}
	if len(store.customers) != 1 {
		t.Fatalf("expected one customer, got %+v", store.customers)
	}
	got := store.customers[0]
	if got.FirstName != "Walk" || got.LastName != "In Guest" || got.LoyaltyPoints != 25 || got.LoyaltyTier != "bronze" {
		t.Fatalf("unexpected customer %+v", got)
	}
}

func TestCompletedSkips(t *testing.T) {
	disabled := settings.Defaults()
	disabled.Loyalty.Enabled = false

	cases := []struct {
		name string
		cfg  settings.Settings
		appt events.Appointment
	}{
		{"no identity", settings.Defaults(), events.Appointment{AppointmentID: "a-3", TenantID: "t1", PriceCents: 3000}},
		{"loyalty disabled", disabled, events.Appointment{AppointmentID: "a-4", TenantID: "t1", CustomerEmail: "x@example.com", PriceCents: 3000}},
	}
	for _, tc := range cases {
		store, ob := &memStore{}, &memOutbox{}
		c, _ := newCompleted(store, ob, tc.cfg)
		if err := c.Handle(context.Background(), completedMessage(t, tc.appt), kafkax.EventMeta{EventID: tc.appt.AppointmentID}); err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if len(store.customers) != 0 || len(ob.topics) != 0 {
			t.Fatalf("%s: expected no side effects", tc.name)
		}
	}
}
