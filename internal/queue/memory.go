package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openvault/staked/internal/clock"
)

// Memory is the in-process Queue used by tests. Delivery runs on
// Drain rather than background goroutines, so tests control exactly
// when jobs execute and how simulated time interleaves with them.
type Memory struct {
	clock clock.Clock

	mu      sync.Mutex
	pending []Job
	dead    []Job
	subs    map[string]subscription
}

func NewMemory(clk clock.Clock) *Memory {
	return &Memory{clock: clk, subs: make(map[string]subscription)}
}

// Enqueue implements Queue.
func (m *Memory) Enqueue(ctx context.Context, queueName string, payload interface{}, opts EnqueueOptions) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("queue: marshal payload: %w", err)
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, Job{
		ID:          uuid.NewString(),
		Queue:       queueName,
		Payload:     body,
		MaxAttempts: maxAttempts,
		RunAt:       m.clock.Now().Add(opts.Delay),
	})
	return nil
}

// Subscribe implements Queue.
func (m *Memory) Subscribe(queueName string, h Handler, opts SubscribeOptions) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[queueName] = subscription{handler: h, opts: opts}
}

func (m *Memory) Start(ctx context.Context) error { return nil }
func (m *Memory) Stop(ctx context.Context) error  { return nil }

// Drain delivers every due job until the queue is quiet or an iteration
// cap trips. Failed jobs are re-queued with their retry delay, so a
// test advancing its simulated clock between Drains exercises backoff.
func (m *Memory) Drain(ctx context.Context) error {
	for i := 0; i < 1000; i++ {
		job, sub, ok := m.popDue()
		if !ok {
			return nil
		}
		job.Attempt++
		if err := sub.handler(ctx, job); err != nil {
			m.mu.Lock()
			if job.Attempt >= job.MaxAttempts {
				m.dead = append(m.dead, job)
			} else {
				job.RunAt = m.clock.Now().Add(retryDelay(sub.opts.Backoff, job.Attempt))
				m.pending = append(m.pending, job)
			}
			m.mu.Unlock()
		}
	}
	return fmt.Errorf("queue: drain did not quiesce")
}

func (m *Memory) popDue() (Job, subscription, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	sort.SliceStable(m.pending, func(i, j int) bool { return m.pending[i].RunAt.Before(m.pending[j].RunAt) })
	for i, job := range m.pending {
		if job.RunAt.After(now) {
			continue
		}
		sub, ok := m.subs[job.Queue]
		if !ok {
			continue
		}
		m.pending = append(m.pending[:i], m.pending[i+1:]...)
		return job, sub, true
	}
	return Job{}, subscription{}, false
}

// Pending returns a snapshot of undelivered jobs.
func (m *Memory) Pending() []Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Job, len(m.pending))
	copy(out, m.pending)
	return out
}

// Dead returns the dead-lettered jobs.
func (m *Memory) Dead() []Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Job, len(m.dead))
	copy(out, m.dead)
	return out
}

// NextRunAt reports the earliest scheduled delivery, for tests that
// advance a simulated clock to it.
func (m *Memory) NextRunAt() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return time.Time{}, false
	}
	earliest := m.pending[0].RunAt
	for _, j := range m.pending[1:] {
		if j.RunAt.Before(earliest) {
			earliest = j.RunAt
		}
	}
	return earliest, true
}
