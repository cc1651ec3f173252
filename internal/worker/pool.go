// Package worker implements the worker pool (spec §4.5): a fixed number of
// long-lived workers draining the queue, driving each job through the
// processing pipeline with per-attempt timeouts, progress ticks, retries
// with full-jitter backoff, and cooperative cancellation. It is adapted
// from the teacher's internal/worker/processor.go Run loop; the
// per-job-type Handler registry the teacher used to dispatch image-resize
// vs. generic jobs is dropped, since spec.md's worker drives exactly one
// fixed pipeline (simulated delay, then artifact staging), not pluggable
// job kinds.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"distributed-download-service/internal/artifact"
	"distributed-download-service/internal/clock"
	"distributed-download-service/internal/job"
	"distributed-download-service/internal/queue"
	"distributed-download-service/internal/registry"
	"distributed-download-service/internal/telemetry"
)

// Config holds the worker pool's tunables (spec §6 option table).
type Config struct {
	Concurrency          int
	DelayMin, DelayMax   time.Duration
	ProgressTickInterval time.Duration
	PerAttemptTimeout    time.Duration
	BackoffBase          time.Duration
	BackoffMax           time.Duration
	ShutdownGrace        time.Duration
}

// Pool owns Concurrency workers draining reg/q and staging completed jobs
// via stager.
type Pool struct {
	cfg    Config
	clk    clock.Clock
	reg    *registry.Registry
	q      *queue.Queue
	stager *artifact.Stager

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// errAbandon is an internal sentinel: it tells Update to leave the record
// untouched because a concurrent sweep or Cancel already moved it to a
// terminal state. It is never returned to a caller outside this package.
var errAbandon = errors.New("worker: job no longer active, abandoning")

// New constructs a worker pool. Call Start to launch its goroutines.
func New(cfg Config, clk clock.Clock, reg *registry.Registry, q *queue.Queue, stager *artifact.Stager) *Pool {
	return &Pool{
		cfg:    cfg,
		clk:    clk,
		reg:    reg,
		q:      q,
		stager: stager,
		stopCh: make(chan struct{}),
	}
}

// Start launches Concurrency worker goroutines. They run until Stop is
// called. Cancelling ctx ends in-flight attempts and stops a worker before
// its next dequeue; a worker already blocked on an empty queue keeps waiting
// until Stop.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go p.loop(ctx)
	}
}

// Stop signals workers to cease at their next tick boundary, waits up to
// ShutdownGrace for them to exit, and returns. Jobs still running past the
// grace period are left as-is (spec §4.5 Shutdown) — on next process start
// they will not be resumed, since the registry is process-local.
func (p *Pool) Stop() {
	close(p.stopCh)
	p.q.Close()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(p.cfg.ShutdownGrace):
	}
}

func (p *Pool) loop(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		default:
		}

		jobID, err := p.q.Dequeue(p.stopCh)
		if err != nil {
			return // queue closed or pool stopping
		}

		p.attempt(ctx, jobID)
	}
}

// attempt drives one job through one pass of the pipeline (spec §4.5,
// steps 1-7). Any panic inside is recovered and turned into a terminal
// failed status with error.code = internal (spec §7), and the worker
// resumes its loop.
func (p *Pool) attempt(ctx context.Context, jobID string) {
	defer func() {
		if r := recover(); r != nil {
			_, _ = p.reg.Update(jobID, func(j *job.Job) error {
				if j.Status.Terminal() {
					return errAbandon
				}
				if err := j.Transition(job.StatusFailed); err != nil {
					return err
				}
				j.Error = job.ErrorDetail{
					Code:          "internal",
					Message:       fmt.Sprintf("panic recovered: %v", r),
					LastAttemptAt: p.clk.Now(),
				}
				j.Result = job.Result{}
				j.CompletedAt = p.clk.Now()
				return nil
			})
			telemetry.JobsFailed.Inc()
		}
	}()

	current, err := p.reg.Update(jobID, func(j *job.Job) error {
		if j.Status == job.StatusCancelled || j.Status == job.StatusExpired {
			return errAbandon
		}
		if err := j.Transition(job.StatusRunning); err != nil {
			return err
		}
		j.StartedAt = p.clk.Now()
		j.Attempts++
		j.ProgressPercent = 0
		j.Message = "running"
		return nil
	})
	if err != nil {
		return // abandoned (cancelled/expired) or already moved on; nothing to do
	}

	attemptCtx, cancelAttempt := context.WithTimeout(ctx, p.cfg.PerAttemptTimeout)
	defer cancelAttempt()
	go func() {
		// Pool shutdown ends the attempt at its next tick boundary.
		select {
		case <-p.stopCh:
			cancelAttempt()
		case <-attemptCtx.Done():
		}
	}()

	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()

	if !p.runProcessingPhase(attemptCtx, jobID) {
		return
	}

	current, err = p.reg.Update(jobID, func(j *job.Job) error {
		if j.Status == job.StatusCancelled || j.Status == job.StatusExpired {
			return errAbandon
		}
		if err := j.Transition(job.StatusProcessingArtifacts); err != nil {
			return err
		}
		j.ProgressPercent = 95
		j.Message = "staging artifact"
		return nil
	})
	if err != nil {
		return
	}

	result, stageErr := p.stager.Stage(attemptCtx, current, p.clk.Now())
	if stageErr == nil {
		_, err := p.reg.Update(jobID, func(j *job.Job) error {
			if j.Status.Terminal() {
				return errAbandon
			}
			if err := j.Transition(job.StatusCompleted); err != nil {
				return err
			}
			j.Result = result
			j.Error = job.ErrorDetail{} // drop any earlier attempt's failure
			j.ProgressPercent = 100
			j.Message = "completed"
			j.CompletedAt = p.clk.Now()
			return nil
		})
		if err == nil {
			telemetry.JobsCompleted.Inc()
		}
		return
	}

	p.handleFailure(jobID, current, stageErr)
}

// runProcessingPhase sleeps for the sampled delay in progressTickInterval
// increments, updating progress and checking for cancellation at each tick
// boundary (spec §4.5 step 3). It returns false if the job was abandoned
// (cancelled, expired, or the attempt context ended) before the phase
// completed.
func (p *Pool) runProcessingPhase(ctx context.Context, jobID string) bool {
	delay := p.clk.SampleDelay(p.cfg.DelayMin, p.cfg.DelayMax)
	var elapsed time.Duration

	for elapsed < delay {
		tick := p.cfg.ProgressTickInterval
		if remaining := delay - elapsed; remaining < tick {
			tick = remaining
		}

		if cancelled := p.clk.Sleep(tick, ctx.Done()); cancelled {
			if ctx.Err() != nil && ctx.Err() != context.Canceled {
				p.handleAttemptTimeout(jobID)
			}
			return false
		}
		elapsed += tick

		percent := capPercent(int(elapsed * 100 / maxDuration(delay, time.Nanosecond)))
		_, err := p.reg.Update(jobID, func(j *job.Job) error {
			if j.Status == job.StatusCancelled || j.Status == job.StatusExpired {
				return errAbandon
			}
			j.ProgressPercent = percent
			return nil
		})
		if err != nil {
			return false // cancelled or expired mid-tick: abandon without staging
		}
	}
	return true
}

func (p *Pool) handleAttemptTimeout(jobID string) {
	current, err := p.reg.Get(jobID)
	if err != nil || current.Status.Terminal() {
		return
	}
	p.handleFailure(jobID, current, artifact.Transient(errors.New("attempt_timeout")))
}

// handleFailure classifies err and either requeues the job for retry (full
// jitter backoff, spec §4.5) or leaves it terminally failed.
func (p *Pool) handleFailure(jobID string, snapshot job.Job, cause error) {
	transient := artifact.IsTransient(cause) || (!artifact.IsTransient(cause) && !artifact.IsPermanent(cause))
	eligibleForRetry := transient && snapshot.Attempts < snapshot.MaxAttempts

	code := "permanent"
	if transient {
		code = "transient"
	}

	var backoff time.Duration
	if eligibleForRetry {
		backoff = fullJitterBackoff(p.cfg.BackoffBase, p.cfg.BackoffMax, snapshot.Attempts, func(n int64) int64 {
			return rand.Int63n(n)
		})
	}

	updated, err := p.reg.Update(jobID, func(j *job.Job) error {
		if j.Status.Terminal() {
			return errAbandon
		}
		if err := j.Transition(job.StatusFailed); err != nil {
			return err
		}
		j.Error = job.ErrorDetail{
			Code:          code,
			Message:       cause.Error(),
			LastAttemptAt: p.clk.Now(),
		}
		j.Result = job.Result{}
		if eligibleForRetry {
			j.RetryAfterMs = backoff.Milliseconds()
		} else {
			j.CompletedAt = p.clk.Now()
		}
		return nil
	})
	if err != nil {
		return
	}

	if !eligibleForRetry {
		telemetry.JobsFailed.Inc()
		return
	}

	telemetry.JobsRetried.Inc()
	p.scheduleRetry(jobID, updated.Priority, backoff)
}

// scheduleRetry re-enqueues jobID after backoff, mirroring the teacher's
// scheduled-set-then-promote pattern (redis_queue.go's Schedule /
// PromoteScheduled) with a single delayed goroutine instead of a ZSET and a
// poller, since the queue is in-process. If the pool is stopping, the
// retry is abandoned rather than enqueued onto a closed queue (spec §4.5
// Shutdown: in-flight work is left as-is, not resumed).
func (p *Pool) scheduleRetry(jobID string, priority job.Priority, backoff time.Duration) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if cancelled := p.clk.Sleep(backoff, p.stopCh); cancelled {
			return
		}
		_, err := p.reg.Update(jobID, func(j *job.Job) error {
			if j.Status.Terminal() && j.Status != job.StatusFailed {
				return errAbandon
			}
			if j.Status != job.StatusFailed {
				return errAbandon
			}
			return j.Transition(job.StatusQueued)
		})
		if err != nil {
			return
		}
		_, _ = p.reg.Update(jobID, func(j *job.Job) error {
			j.ProgressPercent = 0
			j.Message = "retrying"
			return nil
		})
		_ = p.q.Enqueue(jobID, priority)
	}()
}

// fullJitterBackoff implements spec §4.5: backoff(n) = uniform(0, min(max,
// base*2^(n-1))). randInt63n is injected so tests can make it deterministic.
func fullJitterBackoff(base, max time.Duration, attempt int, randInt63n func(int64) int64) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	cap64 := float64(base) * pow2(attempt-1)
	capDur := time.Duration(cap64)
	if capDur > max || cap64 < 0 {
		capDur = max
	}
	if capDur <= 0 {
		return 0
	}
	return time.Duration(randInt63n(int64(capDur)))
}

func pow2(n int) float64 {
	if n <= 0 {
		return 1
	}
	result := 1.0
	for i := 0; i < n; i++ {
		result *= 2
	}
	return result
}

func capPercent(p int) int {
	if p > 95 {
		return 95
	}
	if p < 0 {
		return 0
	}
	return p
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
