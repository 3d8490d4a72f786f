package handlers

import (
	"context"
	"log/slog"
	"time"

	"jobportal-admin/shared/events"
	"jobportal-admin/shared/logx"
	"jobportal-admin/shared/metricsx"
)

// Categories under which events are kept in the activity log.
const (
	CategoryAudit             = "audit"
	CategoryJobUpdate         = "job_update"
	CategoryUserActivity      = "user_activity"
	CategoryApplicationStatus = "application_status"
)

// LogStore appends an event to the activity log. Appending an event id that
// is already stored is a no-op reported as false.
type LogStore interface {
	Append(ctx context.Context, category string, ev events.ActivityEvent) (bool, error)
}

// ProjectionStore keeps the latest known status per application. Events
// older than the stored one are ignored.
type ProjectionStore interface {
	ApplyStatus(ctx context.Context, ev events.ActivityEvent) (bool, error)
}

// SeriesWriter is the time series sink. *influxx.Client satisfies it.
type SeriesWriter interface {
	WritePoint(ctx context.Context, measurement string, tags map[string]string, fields map[string]any, ts time.Time) error
}

type AuditHandler struct {
	Log    LogStore
	Logger logx.Logger
}

func (h AuditHandler) Handle(ctx context.Context, ev events.ActivityEvent) error {
	inserted, err := h.Log.Append(ctx, CategoryAudit, ev)
	if err != nil {
		return err
	}
	if inserted {
		h.Logger.Info(ctx, "audit_recorded", "admin action audited",
			slog.String("event_id", ev.EventID),
			slog.String("actor_id", ev.ActorID),
			slog.String("action", ev.Action),
			slog.String("target_resource", ev.TargetResource),
		)
	}
	return nil
}

type JobUpdateHandler struct {
	Log    LogStore
	Logger logx.Logger
}

func (h JobUpdateHandler) Handle(ctx context.Context, ev events.ActivityEvent) error {
	inserted, err := h.Log.Append(ctx, CategoryJobUpdate, ev)
	if err != nil {
		return err
	}
	if inserted {
		h.Logger.Info(ctx, "job_update_recorded", "job change recorded",
			slog.String("event_id", ev.EventID),
			slog.String("job_id", ev.TargetResource),
			slog.String("action", ev.Action),
			slog.String("status", ev.Status),
		)
	}
	return nil
}

// UserActivityHandler records user management actions and feeds the
// user_activity series.
type UserActivityHandler struct {
	Log    LogStore
	Series SeriesWriter
	Logger logx.Logger
}

func (h UserActivityHandler) Handle(ctx context.Context, ev events.ActivityEvent) error {
	if _, err := h.Log.Append(ctx, CategoryUserActivity, ev); err != nil {
		return err
	}
	writeSeries(ctx, h.Series, h.Logger, "user_activity", ev)
	return nil
}

// ApplicationStatusHandler records status changes and moves the per
// application projection forward.
type ApplicationStatusHandler struct {
	Log        LogStore
	Projection ProjectionStore
	Series     SeriesWriter
	Logger     logx.Logger
}

func (h ApplicationStatusHandler) Handle(ctx context.Context, ev events.ActivityEvent) error {
	if _, err := h.Log.Append(ctx, CategoryApplicationStatus, ev); err != nil {
		return err
	}
	if h.Projection != nil {
		applied, err := h.Projection.ApplyStatus(ctx, ev)
		if err != nil {
			return err
		}
		if !applied {
			h.Logger.Debug(ctx, "projection_stale_event", "newer status already projected",
				slog.String("event_id", ev.EventID),
				slog.String("application_id", ev.TargetResource),
			)
		}
	}
	writeSeries(ctx, h.Series, h.Logger, "application_status", ev)
	return nil
}

// writeSeries is best effort. Failures are counted and logged, never returned.
func writeSeries(ctx context.Context, w SeriesWriter, logger logx.Logger, measurement string, ev events.ActivityEvent) {
	if w == nil {
		return
	}
	tags := map[string]string{
		"event_id": ev.EventID,
		"action":   ev.Action,
		"status":   ev.Status,
	}
	if ev.ActorID != "" {
		tags["actor_id"] = ev.ActorID
	}
	fields := map[string]any{
		"target_resource": ev.TargetResource,
		"count":           1,
	}
	if err := w.WritePoint(ctx, measurement, tags, fields, ev.Timestamp); err != nil {
		metricsx.IncInfluxWriteFailure()
		logger.Warn(ctx, "series_write_failed", "time series write failed",
			slog.String("error_code", "UPSTREAM_UNAVAILABLE"),
			slog.String("error", err.Error()),
			slog.String("measurement", measurement),
			slog.String("event_id", ev.EventID),
		)
	}
}
