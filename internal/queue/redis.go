package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/openvault/staked/internal/clock"
	"github.com/openvault/staked/internal/metrics"
)

const keyPrefix = "staked:q:"

// Redis is the production Queue on go-redis. Layout per queue:
//
//	staked:q:<name>            pending list (LPUSH producer, BRPOPLPUSH consumer)
//	staked:q:<name>:processing in-flight list, reclaimed on startup
//	staked:q:<name>:delayed    sorted set scored by the job's runAt
//	staked:q:<name>:dead       exhausted jobs for operator inspection
type Redis struct {
	client *redis.Client
	clock  clock.Clock
	log    logrus.FieldLogger

	mu      sync.Mutex
	subs    map[string]subscription
	cancel  context.CancelFunc
	done    sync.WaitGroup
	started bool
}

type subscription struct {
	handler Handler
	opts    SubscribeOptions
}

// NewRedis connects to redisURL and returns the queue.
func NewRedis(redisURL string, clk clock.Clock, log logrus.FieldLogger) (*Redis, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("queue: parse redis url: %w", err)
	}
	return NewRedisWithClient(redis.NewClient(opt), clk, log), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, clk clock.Clock, log logrus.FieldLogger) *Redis {
	return &Redis{
		client: client,
		clock:  clk,
		log:    log.WithField("component", "queue"),
		subs:   make(map[string]subscription),
	}
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func pendingKey(name string) string    { return keyPrefix + name }
func processingKey(name string) string { return keyPrefix + name + ":processing" }
func delayedKey(name string) string    { return keyPrefix + name + ":delayed" }
func deadKey(name string) string       { return keyPrefix + name + ":dead" }

// Enqueue implements Queue.
func (r *Redis) Enqueue(ctx context.Context, queueName string, payload interface{}, opts EnqueueOptions) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("queue: marshal payload: %w", err)
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	job := Job{
		ID:          uuid.NewString(),
		Queue:       queueName,
		Payload:     body,
		Attempt:     0,
		MaxAttempts: maxAttempts,
		RunAt:       r.clock.Now().Add(opts.Delay),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: marshal job: %w", err)
	}

	if opts.Delay > 0 {
		err = r.client.ZAdd(ctx, delayedKey(queueName), &redis.Z{
			Score:  float64(job.RunAt.UnixMilli()),
			Member: raw,
		}).Err()
	} else {
		err = r.client.LPush(ctx, pendingKey(queueName), raw).Err()
	}
	if err != nil {
		return fmt.Errorf("queue: enqueue %s: %w", queueName, err)
	}
	return nil
}

// Subscribe implements Queue.
func (r *Redis) Subscribe(queueName string, h Handler, opts SubscribeOptions) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[queueName] = subscription{handler: h, opts: opts}
}

// Start reclaims in-flight jobs from a previous run and launches the
// consumers.
func (r *Redis) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return errors.New("queue: already started")
	}
	r.started = true

	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	for name, sub := range r.subs {
		// A crash between BRPOPLPUSH and the ack leaves jobs on the
		// processing list; re-delivering them on startup is what makes
		// the queue at-least-once.
		if err := r.reclaim(ctx, name); err != nil {
			r.log.WithError(err).WithField("queue", name).Warn("reclaim failed")
		}
		for i := 0; i < sub.opts.Concurrency; i++ {
			r.done.Add(1)
			go r.consume(runCtx, name, sub)
		}
	}
	return nil
}

// Stop cancels the consumers and waits for in-flight handlers.
func (r *Redis) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	finished := make(chan struct{})
	go func() {
		r.done.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Redis) reclaim(ctx context.Context, name string) error {
	for {
		raw, err := r.client.RPopLPush(ctx, processingKey(name), pendingKey(name)).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		r.log.WithField("queue", name).WithField("job", trim(raw)).Info("reclaimed in-flight job")
	}
}

func (r *Redis) consume(ctx context.Context, name string, sub subscription) {
	defer r.done.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r.promoteDue(ctx, name)

		raw, err := r.client.BRPopLPush(ctx, pendingKey(name), processingKey(name), 2*time.Second).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.log.WithError(err).WithField("queue", name).Warn("queue pop failed")
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		r.handleOne(ctx, name, sub, raw)
	}
}

// promoteDue moves delayed jobs whose runAt has passed onto the pending
// list. ZREM returning zero means another consumer promoted the same
// member first, so each job is promoted once.
func (r *Redis) promoteDue(ctx context.Context, name string) {
	now := float64(r.clock.Now().UnixMilli())
	members, err := r.client.ZRangeByScore(ctx, delayedKey(name), &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%f", now), Count: 100,
	}).Result()
	if err != nil || len(members) == 0 {
		return
	}
	for _, m := range members {
		removed, err := r.client.ZRem(ctx, delayedKey(name), m).Result()
		if err != nil || removed == 0 {
			continue
		}
		if err := r.client.LPush(ctx, pendingKey(name), m).Err(); err != nil {
			r.log.WithError(err).WithField("queue", name).Error("promote delayed job failed")
		}
	}
}

func (r *Redis) handleOne(ctx context.Context, name string, sub subscription, raw string) {
	defer func() {
		if err := r.client.LRem(ctx, processingKey(name), 1, raw).Err(); err != nil && ctx.Err() == nil {
			r.log.WithError(err).WithField("queue", name).Warn("ack failed")
		}
	}()

	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		r.log.WithError(err).WithField("queue", name).Error("undecodable job dead-lettered")
		r.client.LPush(ctx, deadKey(name), raw)
		return
	}
	job.Attempt++

	jobCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	err := sub.handler(jobCtx, job)
	cancel()
	if err == nil {
		metrics.QueueJobs.WithLabelValues(name, "ack").Inc()
		return
	}

	log := r.log.WithFields(logrus.Fields{
		"queue": name, "job_id": job.ID, "attempt": job.Attempt, "max": job.MaxAttempts,
	}).WithError(err)

	if job.Attempt >= job.MaxAttempts {
		metrics.QueueJobs.WithLabelValues(name, "dead").Inc()
		log.Error("job exhausted, dead-lettered")
		if rejected, mErr := json.Marshal(job); mErr == nil {
			r.client.LPush(ctx, deadKey(name), rejected)
		}
		return
	}

	delay := retryDelay(sub.opts.Backoff, job.Attempt)
	job.RunAt = r.clock.Now().Add(delay)
	retry, mErr := json.Marshal(job)
	if mErr != nil {
		log.WithError(mErr).Error("re-marshal failed, dead-lettered")
		r.client.LPush(ctx, deadKey(name), raw)
		return
	}
	metrics.QueueJobs.WithLabelValues(name, "retry").Inc()
	log.WithField("retry_in", delay.String()).Warn("job failed, scheduled for retry")
	if err := r.client.ZAdd(ctx, delayedKey(name), &redis.Z{
		Score:  float64(job.RunAt.UnixMilli()),
		Member: retry,
	}).Err(); err != nil {
		log.WithError(err).Error("schedule retry failed")
	}
}

// DeadLetters returns up to limit dead jobs on a queue, newest first.
func (r *Redis) DeadLetters(ctx context.Context, queueName string, limit int64) ([]Job, error) {
	raws, err := r.client.LRange(ctx, deadKey(queueName), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: read dead letters: %w", err)
	}
	jobs := make([]Job, 0, len(raws))
	for _, raw := range raws {
		var j Job
		if json.Unmarshal([]byte(raw), &j) == nil {
			jobs = append(jobs, j)
		}
	}
	return jobs, nil
}

func trim(s string) string {
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}
