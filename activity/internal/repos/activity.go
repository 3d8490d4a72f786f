package repos

import (
	"context"
	"time"

	"jobportal-admin/shared/dbx"
	"jobportal-admin/shared/events"
)

// ActivityRepo stores handled events in Postgres.
type ActivityRepo struct {
	db dbx.DBTX
}

func NewActivityRepo(db dbx.DBTX) *ActivityRepo {
	return &ActivityRepo{db: db}
}

// Append inserts ev under category. It reports false when the event id was
// already recorded.
func (r *ActivityRepo) Append(ctx context.Context, category string, ev events.ActivityEvent) (bool, error) {
	occurredAt := ev.Timestamp
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	tag, err := r.db.Exec(ctx, `
		INSERT INTO activity_log (
			event_id, category, event_type, actor_id, action,
			target_resource, status, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (event_id) DO NOTHING
	`,
		ev.EventID,
		category,
		string(ev.EventType),
		dbx.NullIfEmpty(ev.ActorID),
		ev.Action,
		ev.TargetResource,
		ev.Status,
		occurredAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ApplyStatus upserts the application projection, keeping the row when the
// stored change is at least as recent as ev.
func (r *ActivityRepo) ApplyStatus(ctx context.Context, ev events.ActivityEvent) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO application_status_projection (
			application_id, status, last_event_id, changed_by, changed_at
		) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (application_id) DO UPDATE
		SET status = EXCLUDED.status,
			last_event_id = EXCLUDED.last_event_id,
			changed_by = EXCLUDED.changed_by,
			changed_at = EXCLUDED.changed_at
		WHERE application_status_projection.changed_at < EXCLUDED.changed_at
	`,
		ev.TargetResource,
		ev.Status,
		ev.EventID,
		dbx.NullIfEmpty(ev.ActorID),
		ev.Timestamp,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
