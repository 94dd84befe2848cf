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
	"github.com/modernmen/shopfront/services/scheduler-service/internal/jobs"
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
	jobs      map[string]jobs.Job
	cancelled []string
}

func (s *memStore) Insert(_ context.Context, _ db.Querier, job jobs.Job) (bool, error) {
	if _, ok := s.jobs[job.IdempotencyKey]; ok {
		return false, nil
	}
	s.jobs[job.IdempotencyKey] = job
	return true, nil
}

func (s *memStore) CancelPending(_ context.Context, _ db.Querier, _, appointmentID string) (int64, error) {
	s.cancelled = append(s.cancelled, appointmentID)
	var n int64
	for key, job := range s.jobs {
		if job.AppointmentID == appointmentID && job.Status != jobs.StatusCancelled {
			job.Status = jobs.StatusCancelled
			s.jobs[key] = job
			n++
		}
	}
	return n, nil
}

var now = time.Date(2026, 3, 8, 9, 0, 0, 0, time.UTC)

func newHandler() (*Handler, *memStore) {
	store := &memStore{jobs: map[string]jobs.Job{}}
	h := New(&memInbox{seen: map[string]bool{}}, store, settings.Static(settings.Defaults()), slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.now = func() time.Time { return now }
	return h, store
}

func message(t *testing.T, topic string, a events.Appointment) kafka.Message {
	t.Helper()
	raw, err := json.Marshal(a)
	if err != nil {
		t.Fatal(err)
	}
	return kafka.Message{Topic: topic, Value: raw}
}

func TestBookedSchedulesReminders(t *testing.T) {
	h, store := newHandler()
	a := events.Appointment{AppointmentID: "a-1", TenantID: "t1", CustomerEmail: "sam@example.com", StartTime: now.Add(48 * time.Hour)}

	if err := h.Handle(context.Background(), message(t, events.AppointmentBooked, a), kafkax.EventMeta{EventID: "evt-1"}); err != nil {
		t.Fatal(err)
	}
	if len(store.jobs) != 2 {
		t.Fatalf("expected 2 reminders, got %d", len(store.jobs))
	}
	if err := h.Handle(context.Background(), message(t, events.AppointmentBooked, a), kafkax.EventMeta{EventID: "evt-2"}); err != nil {
		t.Fatal(err)
	}
	if len(store.jobs) != 2 {
		t.Fatalf("redelivered booking duplicated reminders: %d", len(store.jobs))
	}
}

func TestCancelledDropsPendingReminders(t *testing.T) {
	h, store := newHandler()
	a := events.Appointment{AppointmentID: "a-1", TenantID: "t1", CustomerEmail: "sam@example.com", StartTime: now.Add(48 * time.Hour)}
	if err := h.Handle(context.Background(), message(t, events.AppointmentBooked, a), kafkax.EventMeta{EventID: "evt-1"}); err != nil {
		t.Fatal(err)
	}

	if err := h.Handle(context.Background(), message(t, events.AppointmentCancelled, a), kafkax.EventMeta{EventID: "evt-2"}); err != nil {
		t.Fatal(err)
	}
	if len(store.cancelled) != 1 || store.cancelled[0] != "a-1" {
		t.Fatalf("unexpected cancellations %v", store.cancelled)
	}
	for _, job := range store.jobs {
		if job.Status != jobs.StatusCancelled {
			t.Fatalf("job %s still pending", job.IdempotencyKey)
		}
	}
}

func TestUnexpectedTopic(t *testing.T) {
	h, _ := newHandler()
	err := h.Handle(context.Background(), kafka.Message{Topic: events.ClockRecorded, Value: []byte("{}")}, kafkax.EventMeta{})
	if err == nil {
		t.Fatal("expected an error for an unsubscribed topic")
	}
}
