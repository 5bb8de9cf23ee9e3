package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Memory is an in-process Queue. Safe for concurrent use.
type Memory struct {
	mu    sync.Mutex
	seq   int64
	order []string
	jobs  map[string]*Job
	now   func() time.Time
}

// NewMemory creates an empty in-memory queue.
func NewMemory() *Memory {
	return &Memory{
		jobs: make(map[string]*Job),
		now:  time.Now,
	}
}

// NewMemoryWithClock creates an in-memory queue with an injected clock.
func NewMemoryWithClock(now func() time.Time) *Memory {
	q := NewMemory()
	q.now = now
	return q
}

// Enqueue implements Queue.
func (q *Memory) Enqueue(ctx context.Context, payload []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	id := fmt.Sprintf("job-%d", q.seq)
	cp := make([]byte, len(payload))
	copy(cp, payload)
	q.jobs[id] = &Job{
		ID:         id,
		State:      StateWaiting,
		Payload:    cp,
		EnqueuedAt: q.now().UTC(),
	}
	q.order = append(q.order, id)
	return id, nil
}

// Dequeue implements Queue.
func (q *Memory) Dequeue(ctx context.Context) (*Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, id := range q.order {
		j := q.jobs[id]
		if j != nil && j.State == StateWaiting {
			j.State = StateActive
			cp := *j
			return &cp, nil
		}
	}
	return nil, ErrEmpty
}

// Complete implements Queue.
func (q *Memory) Complete(_ context.Context, id string, remove bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if remove {
		q.remove(id)
		return nil
	}
	now := q.now().UTC()
	j.State = StateCompleted
	j.ProcessedAt = &now
	return nil
}

// Fail implements Queue.
func (q *Memory) Fail(_ context.Context, id string, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	now := q.now().UTC()
	j.State = StateFailed
	j.FailedReason = reason
	j.ProcessedAt = &now
	return nil
}

// Remove implements Queue.
func (q *Memory) Remove(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.jobs[id]; !ok {
		return ErrJobNotFound
	}
	q.remove(id)
	return nil
}

// remove deletes a job; callers hold the lock.
func (q *Memory) remove(id string) {
	delete(q.jobs, id)
	for i, oid := range q.order {
		if oid == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
}

// List implements Queue.
func (q *Memory) List(_ context.Context, states ...State) ([]*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	want := make(map[State]struct{}, len(states))
	for _, s := range states {
		want[s] = struct{}{}
	}

	var out []*Job
	for _, id := range q.order {
		j := q.jobs[id]
		if j == nil {
			continue
		}
		if len(want) > 0 {
			if _, ok := want[j.State]; !ok {
				continue
			}
		}
		cp := *j
		out = append(out, &cp)
	}
	return out, nil
}
