package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobportal-admin/shared/events"
	"jobportal-admin/shared/logx"
	"jobportal-admin/shared/outbox"
)

type failure struct {
	attempts int
	next     *time.Time
	dead     bool
}

type fakeStore struct {
	records   map[string]outbox.Record
	pending   []string
	delivered []string
	failures  map[string]failure
}

func newFakeStore(recs ...outbox.Record) *fakeStore {
	s := &fakeStore{records: map[string]outbox.Record{}, failures: map[string]failure{}}
	for _, r := range recs {
		s.records[r.EventID] = r
		s.pending = append(s.pending, r.EventID)
	}
	return s
}

func (s *fakeStore) ClaimPending(_ context.Context, _ string, limit int) ([]outbox.Record, error) {
	var out []outbox.Record
	for _, id := range s.pending {
		if len(out) == limit {
			break
		}
		out = append(out, s.records[id])
	}
	return out, nil
}

func (s *fakeStore) Get(_ context.Context, id string) (outbox.Record, error) {
	r, ok := s.records[id]
	if !ok {
		return outbox.Record{}, outbox.ErrNotFound
	}
	return r, nil
}

func (s *fakeStore) MarkDelivered(_ context.Context, id string) error {
	s.delivered = append(s.delivered, id)
	r := s.records[id]
	r.Status = outbox.StatusDelivered
	s.records[id] = r
	return nil
}

func (s *fakeStore) MarkFailed(_ context.Context, id string, attempts int, next *time.Time, _ string, dead bool) error {
	s.failures[id] = failure{attempts: attempts, next: next, dead: dead}
	return nil
}

func (s *fakeStore) ReleaseStale(context.Context, time.Duration) (int64, error) { return 0, nil }
func (s *fakeStore) CountPending(context.Context) (int, error)                { return len(s.pending), nil }

type published struct {
	topic   string
	key     string
	headers map[string]string
}

type fakeChannel struct {
	sent []published
	err  error
}

func (c *fakeChannel) Publish(_ context.Context, topic string, key []byte, _ []byte, headers map[string]string) error {
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, published{topic: topic, key: string(key), headers: headers})
	return nil
}

type enqueueFunc func(ctx context.Context, id string) error

func (f enqueueFunc) EnqueueDelivery(ctx context.Context, id string) error { return f(ctx, id) }

func record(id string, attempts int) outbox.Record {
	return outbox.Record{
		EventID:   id,
		EventType: string(events.TypeJobUpdate),
		Topic:     events.TopicAdminEvents,
		Payload:   []byte(`{}`),
		Status:    outbox.StatusSending,
		Attempts:  attempts,
	}
}

var fixedNow = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func newRelay(store Store, ch Channel) *Relay {
	return New(store, ch, Options{Owner: "relay-1", MaxAttempts: 3, Logger: logx.Discard(), Now: func() time.Time { return fixedNow }})
}

func TestDeliverPublishesAndMarksDelivered(t *testing.T) {
	store := newFakeStore(record("e1", 0))
	ch := &fakeChannel{}
	require.NoError(t, newRelay(store, ch).Deliver(context.Background(), "e1"))

	require.Len(t, ch.sent, 1)
	assert.Equal(t, events.TopicAdminEvents, ch.sent[0].topic)
	assert.Equal(t, "JOB_UPDATE", ch.sent[0].key)
	assert.Equal(t, "e1", ch.sent[0].headers[events.HeaderEventID])
	assert.Equal(t, []string{"e1"}, store.delivered)

	require.NoError(t, newRelay(store, ch).Deliver(context.Background(), "e1"))
	assert.Len(t, ch.sent, 1)
}

func TestDeliverFailureBacksOff(t *testing.T) {
	store := newFakeStore(record("e1", 1))
	err := newRelay(store, &fakeChannel{err: errors.New("broker down")}).Deliver(context.Background(), "e1")
	assert.EqualError(t, err, "broker down")

	f := store.failures["e1"]
	assert.Equal(t, 2, f.attempts)
	assert.False(t, f.dead)
	require.NotNil(t, f.next)
	assert.Equal(t, fixedNow.Add(outbox.RetryDelay(2)), *f.next)
}

func TestDeliverGoesDeadAfterMaxAttempts(t *testing.T) {
	store := newFakeStore(record("e1", 2))
	err := newRelay(store, &fakeChannel{err: errors.New("broker down")}).Deliver(context.Background(), "e1")
	require.NoError(t, err)
	assert.True(t, store.failures["e1"].dead)
}

func TestScanEnqueuesClaimedRecords(t *testing.T) {
	store := newFakeStore(record("e1", 0), record("e2", 0))
	var scheduled []string
	n, err := newRelay(store, &fakeChannel{}).Scan(context.Background(), enqueueFunc(func(_ context.Context, id string) error {
		if id == "e2" {
			return errors.New("redis down")
		}
		scheduled = append(scheduled, id)
		return nil
	}))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"e1"}, scheduled)
	assert.Equal(t, 1, store.failures["e2"].attempts)
}

type recordingTasks struct {
	tasks []*asynq.Task
	err   error
}

func (r *recordingTasks) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.tasks = append(r.tasks, task)
	return &asynq.TaskInfo{}, nil
}

func TestAsynqEnqueuerRoundTrip(t *testing.T) {
	tasks := &recordingTasks{}
	require.NoError(t, NewAsynqEnqueuer(tasks, "outbox").EnqueueDelivery(context.Background(), "e9"))
	require.Len(t, tasks.tasks, 1)
	assert.Equal(t, TaskOutboxDispatch, tasks.tasks[0].Type())

	id, err := EventIDFromTask(tasks.tasks[0])
	require.NoError(t, err)
	assert.Equal(t, "e9", id)

	_, err = EventIDFromTask(asynq.NewTask(TaskOutboxDispatch, []byte(`{}`)))
	assert.Error(t, err)
}

func TestAsynqEnqueuerTreatsConflictAsScheduled(t *testing.T) {
	err := NewAsynqEnqueuer(&recordingTasks{err: asynq.ErrTaskIDConflict}, "outbox").EnqueueDelivery(context.Background(), "e9")
	assert.NoError(t, err)

	err = NewAsynqEnqueuer(&recordingTasks{err: errors.New("redis down")}, "outbox").EnqueueDelivery(context.Background(), "e9")
	assert.EqualError(t, err, "redis down")
}
