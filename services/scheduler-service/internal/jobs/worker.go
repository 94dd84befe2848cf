package jobs

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/modernmen/shopfront/libs/db"
	"github.com/modernmen/shopfront/libs/events"
	"github.com/modernmen/shopfront/libs/metrics"
	otelx "github.com/modernmen/shopfront/libs/otel"
	"github.com/modernmen/shopfront/libs/outbox"
)

type store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	FetchDue(ctx context.Context, tx pgx.Tx, now time.Time, limit int) ([]Job, error)
	MarkProcessed(ctx context.Context, tx pgx.Tx, ids []int64) error
	MarkFailed(ctx context.Context, tx pgx.Tx, id int64, attempts, maxAttempts int, nextRunAt time.Time, lastError string) error
}

type EventWriter interface {
	Insert(ctx context.Context, q db.Querier, evt outbox.Event) error
}

type Worker struct {
	store      store
	outbox     EventWriter
	logger     *slog.Logger
	interval   time.Duration
	batchSize  int
	backoff    time.Duration
	maxBackoff time.Duration
	now        func() time.Time
}

type WorkerConfig struct {
	Interval   time.Duration
	BatchSize  int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

func NewWorker(repo *Repository, outboxRepo EventWriter, logger *slog.Logger, cfg WorkerConfig) *Worker {
	return newWorker(repo, outboxRepo, logger, cfg)
}

func newWorker(s store, outboxRepo EventWriter, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Minute
	}
	if cfg.MaxBackoff < cfg.Backoff {
		cfg.MaxBackoff = time.Hour
	}
	return &Worker{
		store:      s,
		outbox:     outboxRepo,
		logger:     logger,
		interval:   cfg.Interval,
		batchSize:  cfg.BatchSize,
		backoff:    cfg.Backoff,
		maxBackoff: cfg.MaxBackoff,
		now:        time.Now,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.ProcessBatch(ctx); err != nil {
				w.logger.Error("reminder batch failed", "err", err)
			}
		}
	}
}

// ProcessBatch turns due jobs into reminder.due events. Each job is enqueued
// under its own savepoint so one failure does not abort the batch. It returns
// the number of jobs dispatched.
func (w *Worker) ProcessBatch(ctx context.Context) (int, error) {
	tx, err := w.store.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := w.now().UTC()
	due, err := w.store.FetchDue(ctx, tx, now, w.batchSize)
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		return 0, tx.Commit(ctx)
	}

	ids := make([]int64, 0, len(due))
	for _, job := range due {
		jobCtx := otelx.StoredTrace{Parent: job.Traceparent, State: job.Tracestate}.Context(ctx)
		if err := w.enqueue(jobCtx, tx, job, events.ReminderDue, ""); err != nil {
			if err := w.fail(jobCtx, tx, job, now, err); err != nil {
				return 0, err
			}
			continue
		}
		ids = append(ids, job.ID)
		metrics.RemindersDispatched.WithLabelValues("dispatched").Inc()
	}
	if err := w.store.MarkProcessed(ctx, tx, ids); err != nil {
		return 0, err
	}
	return len(ids), tx.Commit(ctx)
}

func (w *Worker) enqueue(ctx context.Context, tx pgx.Tx, job Job, topic, lastErr string) error {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = sp.Rollback(ctx) }()

	payload := job.Payload
	payload.JobID = job.ID
	payload.Attempts = job.Attempts
	payload.LastError = lastErr
	evt, err := outbox.NewEvent(job.TenantID, "reminder_job", strconv.FormatInt(job.ID, 10), topic, payload)
	if err != nil {
		return err
	}
	if err := w.outbox.Insert(ctx, sp, evt); err != nil {
		return err
	}
	return sp.Commit(ctx)
}

func (w *Worker) fail(ctx context.Context, tx pgx.Tx, job Job, now time.Time, cause error) error {
	attempts := job.Attempts + 1
	next := now.Add(w.Backoff(attempts))
	if err := w.store.MarkFailed(ctx, tx, job.ID, attempts, job.MaxAttempts, next, cause.Error()); err != nil {
		return err
	}
	if attempts < job.MaxAttempts {
		w.logger.Warn("reminder enqueue failed, will retry", "err", cause, "job_id", job.ID, "attempts", attempts, "next_run_at", next)
		metrics.RemindersDispatched.WithLabelValues("retry").Inc()
		return nil
	}
	w.logger.Error("reminder moved to dead letter", "err", cause, "job_id", job.ID, "attempts", attempts)
	metrics.RemindersDispatched.WithLabelValues("dead_letter").Inc()
	job.Attempts = attempts
	return w.enqueue(ctx, tx, job, events.ReminderDLQ, cause.Error())
}

// Backoff doubles the base delay for every attempt after the first, up to
// the configured maximum.
func (w *Worker) Backoff(attempts int) time.Duration {
	d := w.backoff
	for i := 1; i < attempts && d < w.maxBackoff; i++ {
		d *= 2
	}
	return min(d, w.maxBackoff)
}
