package consumer

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/modernmen/shopfront/libs/db"
	"github.com/modernmen/shopfront/libs/events"
	"github.com/modernmen/shopfront/libs/kafkax"
	"github.com/modernmen/shopfront/libs/settings"
	"github.com/modernmen/shopfront/services/analytics-service/internal/storage"
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

type stylistDay struct {
	completed int
	revenue   int64
}

type memStore struct {
	daily    map[string]storage.Delta
	stylists map[string]stylistDay
}

func (s *memStore) BumpDaily(_ context.Context, _ db.Querier, tenantID, day string, d storage.Delta) error {
	cur := s.daily[tenantID+"|"+day]
	cur.Booked += d.Booked
	cur.Completed += d.Completed
	cur.Cancelled += d.Cancelled
	cur.NoShow += d.NoShow
	cur.RevenueCents += d.RevenueCents
	cur.NotificationsSent += d.NotificationsSent
	cur.NotificationsFailed += d.NotificationsFailed
	s.daily[tenantID+"|"+day] = cur
	return nil
}

func (s *memStore) BumpStylist(_ context.Context, _ db.Querier, tenantID, stylistID, _ string, day string, revenueCents int64) error {
	key := tenantID + "|" + stylistID + "|" + day
	cur := s.stylists[key]
	cur.completed++
	cur.revenue += revenueCents
	s.stylists[key] = cur
	return nil
}

func newHandler(cfg settings.Settings) (*Handler, *memStore) {
	store := &memStore{daily: map[string]storage.Delta{}, stylists: map[string]stylistDay{}}
	return New(&memInbox{seen: map[string]bool{}}, store, settings.Static(cfg), slog.New(slog.NewTextHandler(io.Discard, nil))), store
}

func message(t *testing.T, topic string, payload any) kafka.Message {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	return kafka.Message{Topic: topic, Value: raw}
}

func TestAppointmentLifecycleCounts(t *testing.T) {
	cfg := settings.Defaults()
	cfg.Timezone = "America/New_York"
	h, store := newHandler(cfg)

	// 01:30 UTC on the 11th is still the 10th in New York.
	a := events.Appointment{
		AppointmentID: "a-1", TenantID: "t1", StylistID: "s-1", StylistName: "Marco",
		StartTime: time.Date(2026, 3, 11, 1, 30, 0, 0, time.UTC), PriceCents: 3500,
	}
	ctx := context.Background()
	steps := []struct {
		topic string
		id    string
	}{
		{events.AppointmentBooked, "evt-1"},
		{events.AppointmentCompleted, "evt-2"},
		{events.AppointmentCompleted, "evt-2"},
		{events.AppointmentCancelled, "evt-3"},
		{events.AppointmentNoShow, "evt-4"},
	}
	for _, s := range steps {
		if err := h.Handle(ctx, message(t, s.topic, a), kafkax.EventMeta{EventID: s.id, EventType: s.topic}); err != nil {
			t.Fatal(err)
		}
	}

	got := store.daily["t1|2026-03-10"]
	want := storage.Delta{Booked: 1, Completed: 1, Cancelled: 1, NoShow: 1, RevenueCents: 3500}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
	if s := store.stylists["t1|s-1|2026-03-10"]; s.completed != 1 || s.revenue != 3500 {
		t.Fatalf("unexpected stylist stats %+v", s)
	}
}

func TestNotificationCounts(t *testing.T) {
	h, store := newHandler(settings.Defaults())
	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	sent := events.NotificationPayload{TenantID: "t1", Channel: "email", OccurredAt: at}
	if err := h.Handle(context.Background(), message(t, events.NotificationSent, sent), kafkax.EventMeta{EventID: "n-1"}); err != nil {
		t.Fatal(err)
	}
	failed := events.NotificationPayload{Channel: "email", Error: "relay refused", OccurredAt: at}
	if err := h.Handle(context.Background(), message(t, events.NotificationFailed, failed), kafkax.EventMeta{EventID: "n-2", TenantID: "t1"}); err != nil {
		t.Fatal(err)
	}

	if got := store.daily["t1|2026-03-10"]; got.NotificationsSent != 1 || got.NotificationsFailed != 1 {
		t.Fatalf("unexpected counters %+v", got)
	}
}

func TestUnexpectedTopic(t *testing.T) {
	h, _ := newHandler(settings.Defaults())
	if err := h.Handle(context.Background(), kafka.Message{Topic: events.ClockRecorded, Value: []byte("{}")}, kafkax.EventMeta{}); err == nil {
		t.Fatal("expected an error for an unsubscribed topic")
	}
}
