// Package queue is the job transport between the HTTP layer and the
// background workers. Delivery is at-least-once: handlers are
// idempotent (the ledger's one-shot uniqueness and the state machines'
// CAS guards absorb redelivery), retries back off exponentially up to
// an attempt cap, and exhausted jobs land on a dead-letter list for
// operators.
package queue

import (
	"context"
	"encoding/json"
	"time"
)

// Job is one unit of work. Payload is opaque to the queue.
type Job struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Payload     json.RawMessage `json:"payload"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"maxAttempts"`
	// RunAt delays first delivery when set in the future.
	RunAt time.Time `json:"runAt"`
}

// EnqueueOptions tune one job's delivery.
type EnqueueOptions struct {
	// Delay postpones the first delivery.
	Delay time.Duration
	// MaxAttempts caps deliveries including the first. Zero means the
	// queue default.
	MaxAttempts int
	// Backoff is the base for exponential retry delay. Zero means the
	// queue default.
	Backoff time.Duration
}

// SubscribeOptions tune one queue's consumption.
type SubscribeOptions struct {
	// Concurrency is the number of parallel handlers. The payout
	// queues run at 1 for nonce discipline.
	Concurrency int
	// Backoff is the base retry delay for failed jobs on this queue.
	Backoff time.Duration
}

// Handler processes one job. A nil return acknowledges the job; an
// error schedules a retry until the attempt cap, then dead-letters it.
type Handler func(ctx context.Context, job Job) error

// Queue is the transport interface. Two implementations exist: the
// Redis-backed one used in production and an in-memory one for tests.
type Queue interface {
	// Enqueue places a job on the named queue.
	Enqueue(ctx context.Context, queueName string, payload interface{}, opts EnqueueOptions) error
	// Subscribe registers the handler for a queue. Must be called
	// before Start.
	Subscribe(queueName string, h Handler, opts SubscribeOptions)
	// Start launches the consumers; Stop drains them.
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

const (
	defaultMaxAttempts = 3
	defaultBackoff     = 5 * time.Second
	maxBackoff         = 10 * time.Minute
)

// retryDelay is the exponential backoff for the given attempt (1-based)
// with the queue's base delay.
func retryDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = defaultBackoff
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}
