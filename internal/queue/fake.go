package queue

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FakeStore is an in-memory Store for router/delivery worker tests.
type FakeStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	now  func() time.Time
}

func NewFakeStore() *FakeStore {
	return &FakeStore{jobs: map[string]*Job{}, now: time.Now}
}

func (s *FakeStore) Enqueue(ctx context.Context, queueName string, payload json.RawMessage, maxAttempts int) (string, error) {
	return s.EnqueueAt(ctx, queueName, payload, maxAttempts, time.Time{})
}

func (s *FakeStore) EnqueueAt(ctx context.Context, queueName string, payload json.RawMessage, maxAttempts int, runAt time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if runAt.IsZero() {
		runAt = s.now()
	}
	id := uuid.New().String()
	now := s.now()
	cp := make(json.RawMessage, len(payload))
	copy(cp, payload)
	s.jobs[id] = &Job{
		ID: id, QueueName: queueName, Payload: cp, Status: StatusPending,
		MaxAttempts: maxAttempts, RunAt: runAt, CreatedAt: now, UpdatedAt: now,
	}
	return id, nil
}

func (s *FakeStore) Dequeue(ctx context.Context, queueName string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var candidates []*Job
	for _, j := range s.jobs {
		if j.QueueName == queueName && j.Status == StatusPending && !j.RunAt.After(now) {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, k int) bool {
		if !candidates[i].RunAt.Equal(candidates[k].RunAt) {
			return candidates[i].RunAt.Before(candidates[k].RunAt)
		}
		return candidates[i].CreatedAt.Before(candidates[k].CreatedAt)
	})
	j := candidates[0]
	j.Status = StatusInProgress
	j.UpdatedAt = now
	cp := *j
	cp.Payload = append(json.RawMessage(nil), j.Payload...)
	return &cp, nil
}

func (s *FakeStore) Complete(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[jobID]; ok {
		j.Status = StatusCompleted
		j.UpdatedAt = s.now()
	}
	return nil
}

func (s *FakeStore) Fail(ctx context.Context, jobID string, backoff time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil
	}
	j.Attempts++
	j.UpdatedAt = s.now()
	if j.Attempts >= j.MaxAttempts {
		j.Status = StatusFailed
		return nil
	}
	j.Status = StatusPending
	j.RunAt = s.now().Add(backoff)
	return nil
}

func (s *FakeStore) Reschedule(ctx context.Context, jobID string, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil
	}
	j.Status = StatusPending
	j.RunAt = s.now().Add(delay)
	j.UpdatedAt = s.now()
	return nil
}

func (s *FakeStore) Prune(ctx context.Context, queueName string, policy RetentionPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneStatusLocked(queueName, StatusCompleted, policy.KeepCompleted)
	s.pruneStatusLocked(queueName, StatusFailed, policy.KeepFailed)
	return nil
}

func (s *FakeStore) pruneStatusLocked(queueName string, status Status, keep int) {
	if keep <= 0 {
		return
	}
	var matches []*Job
	for _, j := range s.jobs {
		if j.QueueName == queueName && j.Status == status {
			matches = append(matches, j)
		}
	}
	if len(matches) <= keep {
		return
	}
	sort.Slice(matches, func(i, k int) bool { return matches[i].UpdatedAt.After(matches[k].UpdatedAt) })
	for _, j := range matches[keep:] {
		delete(s.jobs, j.ID)
	}
}

// Len returns the number of jobs currently tracked, for test assertions.
func (s *FakeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

var _ Store = (*FakeStore)(nil)
