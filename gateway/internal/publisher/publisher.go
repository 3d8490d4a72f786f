package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"jobportal-admin/shared/apperr"
	"jobportal-admin/shared/events"
	"jobportal-admin/shared/logx"
	"jobportal-admin/shared/metricsx"
	"jobportal-admin/shared/outbox"
)

// Appender is the channel handle. *mqx.Producer satisfies it.
type Appender interface {
	Publish(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error
}

// Spool keeps events whose append failed so a relay can retry them.
type Spool interface {
	Enqueue(ctx context.Context, rec outbox.Record) error
}

// Error reports a failed append. Deferred is set when the event was spooled
// for later delivery.
type Error struct {
	EventID  string
	Deferred bool
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("publish event %s: %v", e.EventID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Warning() apperr.Warning {
	msg := "activity event could not be published"
	if e.Deferred {
		msg = "activity event delivery deferred"
	}
	return apperr.Warning{Code: apperr.PublishFailed, Message: msg, EventID: e.EventID, Deferred: e.Deferred}
}

type Options struct {
	Topic   string
	Spool   Spool
	Timeout time.Duration
	Now     func() time.Time
	Logger  logx.Logger
}

// Publisher owns the channel handle for the lifetime of the process and is
// safe for concurrent use.
type Publisher struct {
	channel Appender
	topic   string
	spool   Spool
	timeout time.Duration
	stamper *events.Stamper
	logger  logx.Logger
}

func New(channel Appender, opts Options) *Publisher {
	if strings.TrimSpace(opts.Topic) == "" {
		opts.Topic = events.TopicAdminEvents
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &Publisher{
		channel: channel,
		topic:   strings.TrimSpace(opts.Topic),
		spool:   opts.Spool,
		timeout: opts.Timeout,
		stamper: events.NewStamper(opts.Now),
		logger:  opts.Logger,
	}
}

// Publish stamps ev and appends it to the shared topic, returning once
// the channel acknowledged. Caller cancellation does not abort an append
// already started, since the admin action behind it has committed.
func (p *Publisher) Publish(ctx context.Context, ev events.ActivityEvent) (events.ActivityEvent, error) {
	ev = p.stamper.Stamp(ev)
	if err := ev.Validate(); err != nil {
		return ev, apperr.Wrap(err, apperr.Internal, "invalid activity event")
	}
	topic := p.topic

	base := context.WithoutCancel(ctx)
	ctx, span := otel.Tracer("publisher").Start(base, "activity.publish")
	span.SetAttributes(
		attribute.String("event.id", ev.EventID),
		attribute.String("event.type", string(ev.EventType)),
	)
	defer span.End()

	appendCtx, cancel := context.WithTimeout(ctx, p.timeout)
	err := p.append(appendCtx, topic, ev)
	cancel()
	if err == nil {
		metricsx.IncEventPublished(string(ev.EventType), "ok")
		return ev, nil
	}
	span.RecordError(err)

	pubErr := &Error{EventID: ev.EventID, Err: err}
	attrs := []slog.Attr{
		slog.String("error_code", string(apperr.PublishFailed)),
		slog.String("error", err.Error()),
		slog.String("event_id", ev.EventID),
		slog.String("event_type", string(ev.EventType)),
		slog.String("topic", topic),
	}
	if p.spool != nil {
		spoolCtx, cancel := context.WithTimeout(ctx, p.timeout)
		spoolErr := p.enqueue(spoolCtx, topic, ev)
		cancel()
		if spoolErr != nil {
			attrs = append(attrs, slog.String("spool_error", spoolErr.Error()))
		} else {
			pubErr.Deferred = true
		}
	}
	outcome := "failed"
	if pubErr.Deferred {
		outcome = "deferred"
	}
	metricsx.IncEventPublished(string(ev.EventType), outcome)
	p.logger.Warn(ctx, "event_publish_failed", "activity event publish failed", append(attrs, slog.Bool("deferred", pubErr.Deferred))...)
	return ev, pubErr
}

// PublishAuditLog records a generic audit entry stamped at call time.
func (p *Publisher) PublishAuditLog(ctx context.Context, actorID string, action string, resource string) (events.ActivityEvent, error) {
	return p.Publish(ctx, events.ActivityEvent{
		EventType:      events.TypeAuditLog,
		ActorID:        actorID,
		Action:         action,
		TargetResource: resource,
		Status:         events.StatusLogged,
	})
}

func (p *Publisher) append(ctx context.Context, topic string, ev events.ActivityEvent) error {
	if p.channel == nil {
		return errors.New("event channel not configured")
	}
	payload, err := events.Encode(ev)
	if err != nil {
		return err
	}
	return p.channel.Publish(ctx, topic, []byte(ev.EventType), payload, events.Headers(ev))
}

func (p *Publisher) enqueue(ctx context.Context, topic string, ev events.ActivityEvent) error {
	rec, err := outbox.NewRecord(topic, ev)
	if err != nil {
		return err
	}
	return p.spool.Enqueue(ctx, rec)
}
