package kafkax

import (
	"context"
	"log/slog"
	"time"

	"github.com/modernmen/shopfront/libs/metrics"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Handler processes one message. A returned error makes the consumer retry
// the same message; handlers that need exactly-once effects pair with the
// inbox table.
type Handler func(ctx context.Context, msg kafka.Message, meta EventMeta) error

type ConsumerConfig struct {
	Brokers string
	GroupID string
	Topics  []string
	// MaxAttempts bounds handler retries for one message. After that the
	// message is logged, counted as dropped and committed.
	MaxAttempts int
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer commits a message only after its handler succeeded, or after
// MaxAttempts failures. Offsets are never committed ahead of handling.
type Consumer struct {
	reader      messageReader
	logger      *slog.Logger
	handler     Handler
	group       string
	backoff     time.Duration
	maxBackoff  time.Duration
	maxAttempts int
}

func NewConsumer(logger *slog.Logger, cfg ConsumerConfig, handler Handler) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     SplitBrokers(cfg.Brokers),
		GroupID:     cfg.GroupID,
		GroupTopics: cfg.Topics,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	return newConsumer(reader, logger, cfg, handler)
}

func newConsumer(reader messageReader, logger *slog.Logger, cfg ConsumerConfig, handler Handler) *Consumer {
	c := &Consumer{
		reader:      reader,
		logger:      logger.With("group_id", cfg.GroupID),
		handler:     handler,
		group:       cfg.GroupID,
		backoff:     time.Second,
		maxBackoff:  30 * time.Second,
		maxAttempts: cfg.MaxAttempts,
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = 10
	}
	return c
}

// Run blocks until ctx is cancelled. A message whose handling was cut short
// by shutdown stays uncommitted and is redelivered to the group.
func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka fetch error", "err", err)
			if !c.sleep(ctx, c.backoff) {
				return
			}
			continue
		}
		if !c.process(ctx, msg) {
			return
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka commit failed", "err", err, "topic", msg.Topic, "offset", msg.Offset)
		}
	}
}

// process runs the handler until it succeeds or gives up. It returns false
// when ctx ended first and the message must not be committed.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) bool {
	wait := c.backoff
	for attempt := 1; ; attempt++ {
		meta, err := c.handle(ctx, msg)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		if attempt >= c.maxAttempts {
			c.logger.Error("event dropped after retries", "err", err, "topic", msg.Topic, "event_id", meta.EventID, "attempts", attempt)
			metrics.EventsConsumed.WithLabelValues(c.group, msg.Topic, "dropped").Inc()
			return true
		}
		c.logger.Warn("event handler failed, retrying", "err", err, "topic", msg.Topic, "event_id", meta.EventID, "attempt", attempt, "retry_in", wait)
		if !c.sleep(ctx, wait) {
			return false
		}
		wait = min(wait*2, c.maxBackoff)
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) (EventMeta, error) {
	meta := ExtractEventMeta(msg)
	ctx, span := otel.Tracer("kafka").Start(ExtractTraceContext(ctx, msg), "kafka.consume "+msg.Topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
			attribute.String("messaging.message_id", meta.EventID),
		),
	)
	defer span.End()

	err := c.handler(ctx, msg, meta)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return meta, err
}

func (c *Consumer) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
