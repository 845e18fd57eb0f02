// Package worker schedules the background sweeps and owns the queue
// consumers' lifecycle. Everything here is a thin cron shell; the
// domain packages do the actual work and are individually idempotent,
// so an overlapping or repeated tick is harmless.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/openvault/staked/internal/config"
	"github.com/openvault/staked/internal/metrics"
	"github.com/openvault/staked/internal/queue"
)

// Sweep is one periodic pass. Implementations log their own failures;
// the runner only times and bounds them.
type Sweep func(ctx context.Context)

// Runner drives the cron entries and the queue.
type Runner struct {
	cron  *cron.Cron
	queue queue.Queue
	log   logrus.FieldLogger

	// base outlives any single tick; Stop cancels it to interrupt
	// in-flight sweeps.
	base   context.Context
	cancel context.CancelFunc
}

func NewRunner(q queue.Queue, log logrus.FieldLogger) *Runner {
	base, cancel := context.WithCancel(context.Background())
	return &Runner{
		cron:   cron.New(),
		queue:  q,
		log:    log.WithField("component", "worker"),
		base:   base,
		cancel: cancel,
	}
}

// Add registers a named sweep at the given interval. Each run gets a
// bounded deadline so a stuck pass cannot pile up behind itself
// forever.
func (r *Runner) Add(name string, every time.Duration, sweep Sweep) error {
	if every <= 0 {
		return fmt.Errorf("worker: %s: interval must be positive", name)
	}
	deadline := every * 4
	_, err := r.cron.AddFunc(fmt.Sprintf("@every %s", every), func() {
		ctx, cancel := context.WithTimeout(r.base, deadline)
		defer cancel()

		start := time.Now()
		sweep(ctx)
		elapsed := time.Since(start)
		metrics.WorkerRuns.WithLabelValues(name).Observe(elapsed.Seconds())
		if elapsed > every {
			r.log.WithFields(logrus.Fields{
				"worker": name, "elapsed": elapsed.String(),
			}).Warn("sweep ran longer than its interval")
		}
	})
	if err != nil {
		return fmt.Errorf("worker: schedule %s: %w", name, err)
	}
	r.log.WithFields(logrus.Fields{"worker": name, "every": every.String()}).Info("sweep scheduled")
	return nil
}

// Schedule wires the standard sweeps from configuration.
func (r *Runner) Schedule(w config.Workers, scan, track, accrue Sweep) error {
	if err := r.Add("deposit-scan", w.ScanInterval, scan); err != nil {
		return err
	}
	if err := r.Add("deposit-track", w.ConfirmInterval, track); err != nil {
		return err
	}
	// The accrual sweep also finalizes positions whose cooldown lapsed.
	return r.Add("reward-accrual", w.AccrualInterval, accrue)
}

// Start launches the queue consumers and the cron scheduler.
func (r *Runner) Start(ctx context.Context) error {
	if err := r.queue.Start(ctx); err != nil {
		return err
	}
	r.cron.Start()
	r.log.Info("workers started")
	return nil
}

// Stop halts the scheduler, waits for running sweeps, then drains the
// queue consumers.
func (r *Runner) Stop(ctx context.Context) error {
	stopped := r.cron.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		r.log.Warn("sweeps still running at shutdown deadline")
	}
	r.cancel()
	if err := r.queue.Stop(ctx); err != nil {
		return err
	}
	r.log.Info("workers stopped")
	return nil
}
