package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"jobportal-admin/shared/dbx"
	"jobportal-admin/shared/events"
)

const (
	StatusPending   = "pending"
	StatusSending   = "sending"
	StatusDelivered = "delivered"
	StatusDead      = "dead"
)

var ErrNotFound = errors.New("outbox record not found")

// Record is an activity event whose channel append failed and is waiting to
// be relayed.
type Record struct {
	EventID     string
	EventType   string
	Topic       string
	Payload     []byte
	Status      string
	Attempts    int
	NextRetryAt *time.Time
	LockedAt    *time.Time
	LockedBy    *string
	LastError   *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	PublishedAt *time.Time
}

func NewRecord(topic string, ev events.ActivityEvent) (Record, error) {
	payload, err := events.Encode(ev)
	if err != nil {
		return Record{}, err
	}
	now := time.Now().UTC()
	return Record{
		EventID:   ev.EventID,
		EventType: string(ev.EventType),
		Topic:     topic,
		Payload:   payload,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

type Repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

const recordColumns = `event_id, event_type, topic, payload, status, attempts, next_retry_at, locked_at, locked_by, last_error, created_at, updated_at, published_at`

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.EventID, &rec.EventType, &rec.Topic, &rec.Payload, &rec.Status, &rec.Attempts,
		&rec.NextRetryAt, &rec.LockedAt, &rec.LockedBy, &rec.LastError, &rec.CreatedAt, &rec.UpdatedAt, &rec.PublishedAt,
	)
	return rec, err
}

// Enqueue spools rec. Enqueueing the same event twice keeps the first row.
func (r *Repo) Enqueue(ctx context.Context, rec Record) error {
	return r.insert(ctx, r.pool, rec)
}

func (r *Repo) insert(ctx context.Context, db dbx.DBTX, rec Record) error {
	if rec.Status == "" {
		rec.Status = StatusPending
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	_, err := db.Exec(ctx, `
		INSERT INTO outbox_events (event_id, event_type, topic, payload, status, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (event_id) DO NOTHING
	`, rec.EventID, rec.EventType, rec.Topic, rec.Payload, rec.Status, rec.Attempts, rec.CreatedAt, rec.UpdatedAt)
	return err
}

// ClaimPending marks up to limit due records as sending and returns them.
func (r *Repo) ClaimPending(ctx context.Context, owner string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		WITH candidates AS (
			SELECT event_id
			FROM outbox_events
			WHERE status = $1 AND (next_retry_at IS NULL OR next_retry_at <= now())
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $2
		)
		UPDATE outbox_events o
		SET status = $3, locked_at = now(), locked_by = $4, updated_at = now()
		FROM candidates c
		WHERE o.event_id = c.event_id
		RETURNING o.event_id, o.event_type, o.topic, o.payload, o.status, o.attempts, o.next_retry_at,
			o.locked_at, o.locked_by, o.last_error, o.created_at, o.updated_at, o.published_at
	`, StatusPending, limit, StatusSending, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Record, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *Repo) Get(ctx context.Context, eventID string) (Record, error) {
	rec, err := scanRecord(r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM outbox_events WHERE event_id = $1`, eventID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

func (r *Repo) MarkDelivered(ctx context.Context, eventID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE outbox_events
		SET status = $2, published_at = now(), locked_at = NULL, locked_by = NULL, updated_at = now()
		WHERE event_id = $1
	`, eventID, StatusDelivered)
	return err
}

func (r *Repo) MarkFailed(ctx context.Context, eventID string, attempts int, nextRetryAt *time.Time, lastErr string, dead bool) error {
	status := StatusPending
	if dead {
		status = StatusDead
		nextRetryAt = nil
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE outbox_events
		SET status = $2, attempts = $3, next_retry_at = $4, last_error = $5, locked_at = NULL, locked_by = NULL, updated_at = now()
		WHERE event_id = $1
	`, eventID, status, attempts, nextRetryAt, lastErr)
	return err
}

// ReleaseStale returns records stuck in sending longer than olderThan to pending.
func (r *Repo) ReleaseStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE outbox_events
		SET status = $1, locked_at = NULL, locked_by = NULL, updated_at = now()
		WHERE status = $2 AND locked_at < now() - make_interval(secs => $3)
	`, StatusPending, StatusSending, olderThan.Seconds())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *Repo) CountPending(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM outbox_events WHERE status IN ($1, $2)`, StatusPending, StatusSending).Scan(&n)
	return n, err
}

// RetryDelay grows quadratically with the attempt number, capped at five minutes.
func RetryDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 5 * time.Second
	}
	delay := time.Duration(attempt*attempt) * 5 * time.Second
	if delay > 5*time.Minute {
		return 5 * time.Minute
	}
	return delay
}
