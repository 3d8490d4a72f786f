package relay

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"jobportal-admin/shared/events"
	"jobportal-admin/shared/logx"
	"jobportal-admin/shared/metricsx"
	"jobportal-admin/shared/outbox"
)

// Store is the outbox table. *outbox.Repo satisfies it.
type Store interface {
	ClaimPending(ctx context.Context, owner string, limit int) ([]outbox.Record, error)
	Get(ctx context.Context, eventID string) (outbox.Record, error)
	MarkDelivered(ctx context.Context, eventID string) error
	MarkFailed(ctx context.Context, eventID string, attempts int, nextRetryAt *time.Time, lastErr string, dead bool) error
	ReleaseStale(ctx context.Context, olderThan time.Duration) (int64, error)
	CountPending(ctx context.Context) (int, error)
}

// Channel is the event channel. *mqx.Producer satisfies it.
type Channel interface {
	Publish(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error
}

// Enqueuer schedules delivery of one claimed record.
type Enqueuer interface {
	EnqueueDelivery(ctx context.Context, eventID string) error
}

type Options struct {
	Owner       string
	BatchSize   int
	MaxAttempts int
	StaleAfter  time.Duration
	Logger      logx.Logger
	Now         func() time.Time
}

// Relay moves spooled events from the outbox onto the channel.
type Relay struct {
	store   Store
	channel Channel
	opts    Options
}

func New(store Store, channel Channel, opts Options) *Relay {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 20
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 2 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Relay{store: store, channel: channel, opts: opts}
}

// Scan claims due records and hands each to enqueue. A record that cannot be
// scheduled goes back to pending with a backoff.
func (r *Relay) Scan(ctx context.Context, enqueue Enqueuer) (int, error) {
	if released, err := r.store.ReleaseStale(ctx, r.opts.StaleAfter); err == nil && released > 0 {
		r.opts.Logger.Warn(ctx, "outbox_stale_released", "released stale outbox claims", slog.Int64("count", released))
	}
	records, err := r.store.ClaimPending(ctx, r.opts.Owner, r.opts.BatchSize)
	if err != nil {
		return 0, err
	}
	scheduled := 0
	for _, rec := range records {
		if err := enqueue.EnqueueDelivery(ctx, rec.EventID); err != nil {
			r.opts.Logger.Error(ctx, "enqueue_failed", "failed to enqueue outbox delivery",
				slog.String("error_code", "SERVICE_UNAVAILABLE"),
				slog.String("error", err.Error()),
				slog.String("event_id", rec.EventID),
			)
			r.fail(ctx, rec, err)
			continue
		}
		scheduled++
	}
	if pending, err := r.store.CountPending(ctx); err == nil {
		metricsx.SetOutboxPending(pending)
	}
	return scheduled, nil
}

// Deliver appends one spooled event to its topic. Delivered and dead records
// are skipped, so repeated deliveries of the same id are harmless.
func (r *Relay) Deliver(ctx context.Context, eventID string) error {
	ctx, span := otel.Tracer("relay").Start(ctx, "outbox.relay")
	span.SetAttributes(attribute.String("event.id", eventID))
	defer span.End()

	rec, err := r.store.Get(ctx, eventID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if rec.Status == outbox.StatusDelivered || rec.Status == outbox.StatusDead {
		return nil
	}
	span.SetAttributes(attribute.String("messaging.destination", rec.Topic))

	headers := map[string]string{
		events.HeaderEventType: rec.EventType,
		events.HeaderEventID:   rec.EventID,
	}
	if err := r.channel.Publish(ctx, rec.Topic, []byte(rec.EventType), rec.Payload, headers); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if dead := r.fail(ctx, rec, err); dead {
			return nil
		}
		return err
	}
	metricsx.IncEventPublished(rec.EventType, "relayed")
	return r.store.MarkDelivered(ctx, rec.EventID)
}

func (r *Relay) fail(ctx context.Context, rec outbox.Record, cause error) bool {
	attempts := rec.Attempts + 1
	next := r.opts.Now().UTC().Add(outbox.RetryDelay(attempts))
	dead := attempts >= r.opts.MaxAttempts
	if err := r.store.MarkFailed(ctx, rec.EventID, attempts, &next, cause.Error(), dead); err != nil {
		r.opts.Logger.Error(ctx, "outbox_mark_failed", "could not record outbox failure",
			slog.String("error_code", "SERVICE_UNAVAILABLE"),
			slog.String("error", err.Error()),
			slog.String("event_id", rec.EventID),
		)
	}
	if dead {
		metricsx.IncEventPublished(rec.EventType, "dead")
		r.opts.Logger.Warn(ctx, "outbox_dead", "outbox event moved to dead-letter",
			slog.String("event_id", rec.EventID),
			slog.Int("attempts", attempts),
		)
	}
	return dead
}
