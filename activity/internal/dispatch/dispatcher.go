package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"jobportal-admin/shared/events"
	"jobportal-admin/shared/logx"
	"jobportal-admin/shared/metricsx"
)

// Outcome is the terminal state of one delivery.
type Outcome string

const (
	Handled        Outcome = "handled"
	HandledUnknown Outcome = "handled_unknown"
	Duplicate      Outcome = "duplicate"
	Malformed      Outcome = "malformed"
	Failed         Outcome = "failed"
)

// Handler processes one event category. Implementations must be idempotent
// with respect to the event id.
type Handler interface {
	Handle(ctx context.Context, ev events.ActivityEvent) error
}

type HandlerFunc func(ctx context.Context, ev events.ActivityEvent) error

func (f HandlerFunc) Handle(ctx context.Context, ev events.ActivityEvent) error { return f(ctx, ev) }

// Deduper claims event ids so a redelivered event that already succeeded is
// skipped. Claim takes a short lease, Confirm turns it into a long-lived
// marker after success and Release gives it back after a failed attempt.
type Deduper interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Confirm(ctx context.Context, eventID string) error
	Release(ctx context.Context, eventID string) error
}

type Options struct {
	Dedupe Deduper
	Logger logx.Logger
	Now    func() time.Time
	// RetryBackoff is the first wait between attempts to hand a delivery
	// back to the channel. It doubles up to maxRetryBackoff.
	RetryBackoff time.Duration
}

const maxRetryBackoff = 5 * time.Second

// Dispatcher routes decoded events through a table keyed by event type.
type Dispatcher struct {
	handlers map[events.EventType]Handler
	dedupe   Deduper
	logger   logx.Logger
	now      func() time.Time
	backoff  time.Duration
}

func New(handlers map[events.EventType]Handler, opts Options) *Dispatcher {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 250 * time.Millisecond
	}
	table := make(map[events.EventType]Handler, len(handlers))
	for t, h := range handlers {
		if h != nil {
			table[t] = h
		}
	}
	return &Dispatcher{handlers: table, dedupe: opts.Dedupe, logger: opts.Logger, now: opts.Now, backoff: opts.RetryBackoff}
}

// Dispatch decodes payload and runs the handler registered for its type.
// Unknown types are recorded and reported as HandledUnknown. Only Failed
// carries an error.
func (d *Dispatcher) Dispatch(ctx context.Context, payload []byte) (Outcome, events.ActivityEvent, error) {
	start := d.now()
	ev, err := events.Decode(payload)
	if err != nil {
		d.logger.Warn(ctx, "dispatch_malformed", "dropping malformed activity event",
			slog.String("error_code", "INVALID_REQUEST"),
			slog.String("error", err.Error()),
		)
		metricsx.IncEventDispatched("unknown", string(Malformed))
		return Malformed, events.ActivityEvent{}, nil
	}
	outcome, err := d.dispatch(ctx, ev)
	metricsx.IncEventDispatched(typeLabel(ev.EventType), string(outcome))
	metricsx.ObserveDispatchLatency(d.now().Sub(start))
	return outcome, ev, err
}

func (d *Dispatcher) dispatch(ctx context.Context, ev events.ActivityEvent) (Outcome, error) {
	attrs := []slog.Attr{
		slog.String("event_id", ev.EventID),
		slog.String("event_type", string(ev.EventType)),
	}
	claimed := false
	if d.dedupe != nil {
		fresh, err := d.dedupe.Claim(ctx, ev.EventID)
		switch {
		case err != nil:
			d.logger.Warn(ctx, "dedupe_unavailable", "dedupe claim failed, handling anyway",
				append(attrs,
					slog.String("error_code", "SERVICE_UNAVAILABLE"),
					slog.String("error", err.Error()),
				)...,
			)
		case !fresh:
			d.logger.Debug(ctx, "dispatch_duplicate", "skipping already handled event", attrs...)
			return Duplicate, nil
		default:
			claimed = true
		}
	}

	h, ok := d.handlers[ev.EventType]
	if !ok {
		d.logger.Warn(ctx, "dispatch_unknown_type", "no handler for event type",
			append(attrs,
				slog.String("action", ev.Action),
				slog.String("target_resource", ev.TargetResource),
			)...,
		)
		if claimed {
			d.confirm(ctx, ev.EventID, attrs)
		}
		return HandledUnknown, nil
	}

	ctx, span := otel.Tracer("dispatch").Start(ctx, "activity.handle")
	span.SetAttributes(
		attribute.String("event.id", ev.EventID),
		attribute.String("event.type", string(ev.EventType)),
	)
	defer span.End()

	if err := h.Handle(ctx, ev); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if claimed {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			if relErr := d.dedupe.Release(releaseCtx, ev.EventID); relErr != nil {
				attrs = append(attrs, slog.String("release_error", relErr.Error()))
			}
			cancel()
		}
		d.logger.Error(ctx, "dispatch_handler_failed", "activity handler failed",
			append(attrs,
				slog.String("error_code", "INTERNAL"),
				slog.String("error", err.Error()),
			)...,
		)
		return Failed, err
	}
	if claimed {
		d.confirm(ctx, ev.EventID, attrs)
	}
	return Handled, nil
}

// confirm keeps the claim past its lease. A failed confirm only means a later
// redelivery runs the idempotent handler again.
func (d *Dispatcher) confirm(ctx context.Context, eventID string, attrs []slog.Attr) {
	if err := d.dedupe.Confirm(ctx, eventID); err != nil {
		d.logger.Warn(ctx, "dedupe_confirm_failed", "could not confirm dedupe claim",
			append(attrs,
				slog.String("error_code", "SERVICE_UNAVAILABLE"),
				slog.String("error", err.Error()),
			)...,
		)
	}
}

// Run consumes src until ctx is cancelled. Failed deliveries are redelivered
// through the source and committed only once the redelivery is accepted.
func (d *Dispatcher) Run(ctx context.Context, src Source) error {
	for {
		del, err := src.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			d.logger.Error(ctx, "source_fetch_failed", "failed to fetch delivery",
				slog.String("error_code", "UPSTREAM_UNAVAILABLE"),
				slog.String("error", err.Error()),
			)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}
		d.process(ctx, src, del)
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, src Source, del Delivery) {
	spanCtx, span := otel.Tracer("mqx").Start(ctx, "kafka.consume", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", del.Topic),
		attribute.Int("messaging.attempt", del.Attempt),
	)
	defer span.End()

	outcome, _, err := d.Dispatch(spanCtx, del.Value)
	switch outcome {
	case Failed:
		reason := err.Error()
		var topic string
		ok := d.retry(ctx, "redelivery_failed", del, func() error {
			var rerr error
			topic, rerr = src.Redeliver(spanCtx, del, reason)
			return rerr
		})
		if !ok {
			span.SetStatus(codes.Error, "redelivery abandoned")
			return
		}
		d.logger.Info(ctx, "event_redelivered", "failed event handed back to the channel",
			slog.String("topic", topic),
			slog.Int("attempt", del.Attempt+1),
		)
	case Malformed:
		ok := d.retry(ctx, "dead_letter_failed", del, func() error {
			return src.DeadLetter(spanCtx, del, "malformed")
		})
		if !ok {
			return
		}
	}
	if err := src.Commit(ctx, del); err != nil {
		d.logger.Error(ctx, "commit_failed", "failed to commit delivery",
			slog.String("error_code", "UPSTREAM_UNAVAILABLE"),
			slog.String("error", err.Error()),
		)
	}
}

// retry runs op until it succeeds or ctx ends. The delivery is never
// committed past a record that was not handed back, so on false the caller
// must return without committing and let Run stop at the committed offset.
func (d *Dispatcher) retry(ctx context.Context, event string, del Delivery, op func() error) bool {
	wait := d.backoff
	for {
		err := op()
		if err == nil {
			return true
		}
		d.logger.Error(ctx, event, "could not hand delivery back to the channel, retrying",
			slog.String("error_code", "UPSTREAM_UNAVAILABLE"),
			slog.String("error", err.Error()),
			slog.String("topic", del.Topic),
			slog.Duration("backoff", wait),
		)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
		wait *= 2
		if wait > maxRetryBackoff {
			wait = maxRetryBackoff
		}
	}
}

func typeLabel(t events.EventType) string {
	if t.Known() {
		return string(t)
	}
	return "unknown"
}
