package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/janus-bridge/janus/internal/canonical"
)

// IngestMaxAttempts and IngestBackoffBase are the ingest queue's retry
// policy: it only does routing decisions, so failures should surface and
// retry quickly.
const (
	IngestMaxAttempts = 3
	IngestBackoffBase = 1 * time.Second
)

// DeliveryMaxAttempts and DeliveryBackoffBase are the delivery queue's
// retry policy: it calls out to a platform API, so it tolerates more
// attempts with a longer backoff before giving up.
const (
	DeliveryMaxAttempts = 5
	DeliveryBackoffBase = 2 * time.Second
)

// IngestRetention and DeliveryRetention are the job removal policies pruned
// periodically by the ticker loop in cmd/janusbridge: ingest jobs are cheap
// and high-volume routing decisions, delivery jobs carry more context per
// job, so fewer are kept.
var (
	IngestRetention   = RetentionPolicy{KeepCompleted: 1000, KeepFailed: 5000}
	DeliveryRetention = RetentionPolicy{KeepCompleted: 500, KeepFailed: 2000}
)

// Claimed pairs a dequeued job's id with its decoded payload so a worker
// can Complete/Fail/Reschedule it by id after processing.
type Claimed[T any] struct {
	JobID    string
	Attempts int
	Value    T
}

// IngestQueue wraps Store with typed access to the single global ingest
// queue that RouterWorker consumes.
type IngestQueue struct {
	store Store
}

func NewIngestQueue(store Store) *IngestQueue {
	return &IngestQueue{store: store}
}

func (q *IngestQueue) Push(ctx context.Context, evt canonical.Event) (string, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return "", fmt.Errorf("queue: marshal ingest event: %w", err)
	}
	return q.store.Enqueue(ctx, canonical.IngestQueueName, payload, IngestMaxAttempts)
}

func (q *IngestQueue) Pop(ctx context.Context) (*Claimed[canonical.Event], error) {
	j, err := q.store.Dequeue(ctx, canonical.IngestQueueName)
	if err != nil {
		return nil, fmt.Errorf("queue: dequeue ingest: %w", err)
	}
	if j == nil {
		return nil, nil
	}
	var evt canonical.Event
	if err := json.Unmarshal(j.Payload, &evt); err != nil {
		return nil, fmt.Errorf("queue: unmarshal ingest event: %w", err)
	}
	return &Claimed[canonical.Event]{JobID: j.ID, Attempts: j.Attempts, Value: evt}, nil
}

func (q *IngestQueue) Complete(ctx context.Context, jobID string) error {
	return q.store.Complete(ctx, jobID)
}

func (q *IngestQueue) Fail(ctx context.Context, jobID string, attempts int) error {
	return q.store.Fail(ctx, jobID, Backoff(IngestBackoffBase, attempts))
}

// DeliveryQueue wraps Store with typed access to a single
// deliver:<platform>:<channelId> queue, consumed by that channel's group of
// DeliveryWorkers.
type DeliveryQueue struct {
	store Store
	name  string
}

func NewDeliveryQueue(store Store, platform canonical.Platform, channelID string) *DeliveryQueue {
	return &DeliveryQueue{store: store, name: canonical.DeliveryQueueName(platform, channelID)}
}

func (q *DeliveryQueue) Name() string { return q.name }

func (q *DeliveryQueue) Push(ctx context.Context, job canonical.DeliveryJob) (string, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("queue: marshal delivery job: %w", err)
	}
	return q.store.Enqueue(ctx, q.name, payload, DeliveryMaxAttempts)
}

func (q *DeliveryQueue) Pop(ctx context.Context) (*Claimed[canonical.DeliveryJob], error) {
	j, err := q.store.Dequeue(ctx, q.name)
	if err != nil {
		return nil, fmt.Errorf("queue: dequeue delivery: %w", err)
	}
	if j == nil {
		return nil, nil
	}
	var job canonical.DeliveryJob
	if err := json.Unmarshal(j.Payload, &job); err != nil {
		return nil, fmt.Errorf("queue: unmarshal delivery job: %w", err)
	}
	return &Claimed[canonical.DeliveryJob]{JobID: j.ID, Attempts: j.Attempts, Value: job}, nil
}

func (q *DeliveryQueue) Complete(ctx context.Context, jobID string) error {
	return q.store.Complete(ctx, jobID)
}

func (q *DeliveryQueue) Fail(ctx context.Context, jobID string, attempts int) error {
	return q.store.Fail(ctx, jobID, Backoff(DeliveryBackoffBase, attempts))
}

// Reschedule returns an in-progress delivery job to pending after delay
// without counting a failed attempt, used for rate-limit backpressure.
func (q *DeliveryQueue) Reschedule(ctx context.Context, jobID string, delay time.Duration) error {
	return q.store.Reschedule(ctx, jobID, delay)
}
