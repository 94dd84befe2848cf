// Package inbox deduplicates consumed events per consumer group.
package inbox

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/modernmen/shopfront/libs/db"
	"github.com/modernmen/shopfront/libs/kafkax"
	"github.com/modernmen/shopfront/libs/metrics"
)

var ErrMissingEventID = errors.New("event id missing")

type Repository struct {
	pool     *db.Pool
	consumer string
}

func NewRepository(pool *db.Pool, consumer string) *Repository {
	return &Repository{pool: pool, consumer: consumer}
}

// Record inserts the event id for this consumer. It returns false when the
// event was already processed.
func (r *Repository) Record(ctx context.Context, q db.Querier, meta kafkax.EventMeta) (bool, error) {
	if meta.EventID == "" {
		return false, ErrMissingEventID
	}
	_, err := q.Exec(ctx, `
		INSERT INTO inbox_events (consumer, event_id, event_type)
		VALUES ($1, $2, $3)
	`, r.consumer, meta.EventID, meta.EventType)
	if err == nil {
		return true, nil
	}
	if db.IsUniqueViolation(err) {
		return false, nil
	}
	return false, err
}

// Process records the event and runs fn in one transaction, so a failed
// handler leaves the event eligible for redelivery.
func (r *Repository) Process(ctx context.Context, meta kafkax.EventMeta, fn func(tx pgx.Tx) error) (bool, error) {
	fresh := false
	err := r.pool.WithTx(ctx, func(tx pgx.Tx) error {
		ok, err := r.Record(ctx, tx, meta)
		if err != nil || !ok {
			return err
		}
		fresh = true
		return fn(tx)
	})
	result := "ok"
	switch {
	case err != nil:
		result = "error"
		fresh = false
	case !fresh:
		result = "duplicate"
	}
	metrics.EventsConsumed.WithLabelValues(r.consumer, meta.EventType, result).Inc()
	return fresh, err
}
