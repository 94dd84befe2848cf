package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/modernmen/shopfront/libs/db"
	"github.com/modernmen/shopfront/libs/kafkax"
	"github.com/modernmen/shopfront/libs/metrics"
	otelx "github.com/modernmen/shopfront/libs/otel"
	"github.com/segmentio/kafka-go"
)

// Writer is the subset of *kafka.Writer the publisher needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type store interface {
	FetchUnpublished(ctx context.Context, tx pgx.Tx, limit int) ([]Record, error)
	MarkPublished(ctx context.Context, tx pgx.Tx, ids []int64) error
	MarkAttempt(ctx context.Context, tx pgx.Tx, ids []int64, lastErr string) error
	PurgePublished(ctx context.Context, cutoff time.Time) (int64, error)
}

type beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PublisherConfig struct {
	Brokers   string
	PollEvery time.Duration
	BatchSize int
	// Rows published longer ago than Retain are purged once per hour. Zero keeps them.
	Retain time.Duration
}

type Publisher struct {
	db        beginner
	repo      store
	logger    *slog.Logger
	brokers   []string
	pollEvery time.Duration
	batchSize int
	retain    time.Duration
	newWriter func() Writer
}

func NewPublisher(pool *db.Pool, repo *Repository, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	p := newPublisher(pool, repo, logger, cfg)
	p.newWriter = func() Writer {
		return &kafka.Writer{
			Addr:                   kafka.TCP(p.brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		}
	}
	return p
}

func newPublisher(b beginner, repo store, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Publisher{
		db:        b,
		repo:      repo,
		logger:    logger,
		brokers:   kafkax.SplitBrokers(cfg.Brokers),
		pollEvery: cfg.PollEvery,
		batchSize: cfg.BatchSize,
		retain:    cfg.Retain,
	}
}

// Run polls the outbox until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	if len(p.brokers) == 0 {
		p.logger.Warn("outbox publisher disabled (no kafka brokers configured)")
		return
	}

	writer := p.newWriter()
	defer writer.Close()

	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()
	lastPurge := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.PublishBatch(ctx, writer); err != nil {
				p.logger.Error("outbox publish failed", "err", err)
			}
			if p.retain > 0 && time.Since(lastPurge) >= time.Hour {
				lastPurge = time.Now()
				if n, err := p.repo.PurgePublished(ctx, time.Now().Add(-p.retain)); err != nil {
					p.logger.Warn("outbox purge failed", "err", err)
				} else if n > 0 {
					p.logger.Info("outbox purged", "rows", n)
				}
			}
		}
	}
}

// PublishBatch sends one batch and marks it published in the same
// transaction that locked the rows.
func (p *Publisher) PublishBatch(ctx context.Context, writer Writer) (int, error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	records, err := p.repo.FetchUnpublished(ctx, tx, p.batchSize)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, tx.Commit(ctx)
	}

	msgs := make([]kafka.Message, 0, len(records))
	ids := make([]int64, 0, len(records))
	for _, r := range records {
		msgCtx := otelx.StoredTrace{Parent: r.Traceparent, State: r.Tracestate}.Context(ctx)
		headers := kafkax.EventHeaders(kafkax.EventMeta{EventID: r.EventID, EventType: r.EventType, TenantID: r.TenantID})
		msgs = append(msgs, kafka.Message{
			Topic:   r.EventType,
			Key:     []byte(r.AggregateID),
			Value:   r.Payload,
			Headers: kafkax.InjectTraceHeaders(msgCtx, headers),
		})
		ids = append(ids, r.ID)
	}

	if err := writer.WriteMessages(ctx, msgs...); err != nil {
		if markErr := p.repo.MarkAttempt(ctx, tx, ids, err.Error()); markErr == nil {
			_ = tx.Commit(ctx)
		}
		return 0, err
	}
	if err := p.repo.MarkPublished(ctx, tx, ids); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	for _, m := range msgs {
		metrics.EventsPublished.WithLabelValues(m.Topic).Inc()
	}
	return len(msgs), nil
}
