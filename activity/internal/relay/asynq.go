package relay

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/hibiken/asynq"
)

const (
	TaskOutboxScan     = "outbox.scan"
	TaskOutboxDispatch = "outbox.dispatch"
)

type dispatchPayload struct {
	EventID string `json:"event_id"`
}

// TaskEnqueuer is the subset of *asynq.Client used to schedule deliveries.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AsynqEnqueuer schedules one dispatch task per event id. A task already
// queued for the id counts as scheduled.
type AsynqEnqueuer struct {
	client TaskEnqueuer
	queue  string
}

func NewAsynqEnqueuer(client TaskEnqueuer, queue string) *AsynqEnqueuer {
	return &AsynqEnqueuer{client: client, queue: queue}
}

func (e *AsynqEnqueuer) EnqueueDelivery(ctx context.Context, eventID string) error {
	payload, err := json.Marshal(dispatchPayload{EventID: eventID})
	if err != nil {
		return err
	}
	task := asynq.NewTask(TaskOutboxDispatch, payload)
	_, err = e.client.EnqueueContext(ctx, task, asynq.Queue(e.queue), asynq.TaskID("outbox:"+eventID))
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

// EventIDFromTask reads the event id carried by a dispatch task.
func EventIDFromTask(t *asynq.Task) (string, error) {
	var payload dispatchPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return "", err
	}
	id := strings.TrimSpace(payload.EventID)
	if id == "" {
		return "", errors.New("event_id is required")
	}
	return id, nil
}
