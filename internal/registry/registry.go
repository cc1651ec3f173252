// Package registry implements the job registry (spec §4.3): a concurrent
// map from job ID to job record, a secondary idempotency index, and a
// periodic sweeper that expires and deletes aged records. It replaces the
// teacher's Postgres-backed store — spec.md is explicit that the registry is
// process-local by design (no durable persistence across restarts), so this
// package holds state in memory behind per-record locks instead of a SQL
// table behind a connection pool.
package registry

import (
	"fmt"
	"sync"
	"time"

	"distributed-download-service/internal/clock"
	"distributed-download-service/internal/job"
	"distributed-download-service/internal/telemetry"
)

// ErrNotFound is returned by Get/Update when a job ID is unknown (never
// inserted, or already swept away).
var ErrNotFound = fmt.Errorf("job not found")

type entry struct {
	mu  sync.Mutex
	job job.Job
}

// Registry is the engine's single source of truth for job state.
type Registry struct {
	clk clock.Clock

	mu   sync.Mutex // guards jobs and idempotencyIdx together, see Insert
	jobs map[string]*entry
	// idempotencyIdx maps "userID\x00clientRequestID" -> jobID.
	idempotencyIdx map[string]string

	stop chan struct{}
	wg   sync.WaitGroup
}

// New constructs an empty registry. Call Start to launch the sweeper.
func New(clk clock.Clock) *Registry {
	return &Registry{
		clk:            clk,
		jobs:           make(map[string]*entry),
		idempotencyIdx: make(map[string]string),
		stop:           make(chan struct{}),
	}
}

func idemKey(userID, clientRequestID string) string {
	return userID + "\x00" + clientRequestID
}

// Insert stores j under j.JobID, unless an unexpired record already exists
// for the same (UserID, ClientRequestID) pair — in which case that existing
// record is returned instead and j is discarded (spec §4.3 idempotency;
// invariant I6). The whole check-then-insert is atomic under r.mu so two
// concurrent Initiate calls racing on the same key can never both win
// (property P1).
func (r *Registry) Insert(j job.Job) (result job.Job, existed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if j.ClientRequestID != "" {
		key := idemKey(j.UserID, j.ClientRequestID)
		if existingID, ok := r.idempotencyIdx[key]; ok {
			if e, ok := r.jobs[existingID]; ok {
				e.mu.Lock()
				unexpired := r.clk.Now().Before(e.job.ExpiresAt)
				snap := e.job.Snapshot()
				e.mu.Unlock()
				if unexpired {
					return snap, true
				}
			}
			// Target gone or expired: the index entry is stale, drop it.
			delete(r.idempotencyIdx, key)
		}
	}

	r.jobs[j.JobID] = &entry{job: j}
	if j.ClientRequestID != "" {
		r.idempotencyIdx[idemKey(j.UserID, j.ClientRequestID)] = j.JobID
	}
	return j.Snapshot(), false
}

// Get returns a snapshot of the job, or ErrNotFound.
func (r *Registry) Get(jobID string) (job.Job, error) {
	r.mu.Lock()
	e, ok := r.jobs[jobID]
	r.mu.Unlock()
	if !ok {
		return job.Job{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job.Snapshot(), nil
}

// Mutator mutates a job in place. Returning an error aborts the update:
// the record is left as it was before the call.
type Mutator func(j *job.Job) error

// Update applies mutator to the record under its own per-record lock and
// returns the post-image. Only one mutator runs per jobID at a time
// (property P2, via this mutex), and mutators are expected to use
// job.Transition so illegal edges (I8) are rejected rather than silently
// applied.
func (r *Registry) Update(jobID string, mutator Mutator) (job.Job, error) {
	r.mu.Lock()
	e, ok := r.jobs[jobID]
	r.mu.Unlock()
	if !ok {
		return job.Job{}, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	draft := e.job
	if err := mutator(&draft); err != nil {
		return job.Job{}, err
	}
	draft.UpdatedAt = r.clk.Now()
	e.job = draft
	return e.job.Snapshot(), nil
}

// Filter selects jobs for List; returning true keeps the job in the result.
type Filter func(j job.Job) bool

// List returns snapshots of all jobs matching filter. Diagnostics only; not
// exposed over HTTP (spec §4.3).
func (r *Registry) List(filter Filter) []job.Job {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.jobs))
	for _, e := range r.jobs {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	out := make([]job.Job, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		snap := e.job.Snapshot()
		e.mu.Unlock()
		if filter == nil || filter(snap) {
			out = append(out, snap)
		}
	}
	return out
}

// Delete removes a record unconditionally (admin purge; not exposed over
// HTTP, spec §3 Lifecycle).
func (r *Registry) Delete(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleteLocked(jobID)
}

// deleteLocked removes jobID and its idempotency mapping. Caller must hold r.mu.
func (r *Registry) deleteLocked(jobID string) {
	e, ok := r.jobs[jobID]
	if !ok {
		return
	}
	e.mu.Lock()
	key := idemKey(e.job.UserID, e.job.ClientRequestID)
	e.mu.Unlock()
	delete(r.jobs, jobID)
	if mapped, ok := r.idempotencyIdx[key]; ok && mapped == jobID {
		delete(r.idempotencyIdx, key)
	}
}

// sweepOnce expires stale non-terminal records and deletes records that were
// already terminal (or just expired) on a prior tick, implementing the
// two-phase expire-then-delete policy of spec §4.3/§7. It visits each
// record under its own lock and never holds r.mu for longer than a single
// map mutation.
func (r *Registry) sweepOnce(now time.Time) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.jobs))
	for id := range r.jobs {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.mu.Lock()
		e, ok := r.jobs[id]
		r.mu.Unlock()
		if !ok {
			continue
		}

		e.mu.Lock()
		pastExpiry := now.After(e.job.ExpiresAt)
		alreadyTerminal := e.job.Status.Terminal()
		if pastExpiry && !alreadyTerminal {
			// Legal per I8: queued|running|processing_artifacts -> expired.
			_ = e.job.Transition(job.StatusExpired)
			e.job.CompletedAt = now
			e.job.UpdatedAt = now
			e.mu.Unlock()
			telemetry.JobsExpired.Inc()
			continue
		}
		shouldDelete := pastExpiry && alreadyTerminal
		e.mu.Unlock()

		if shouldDelete {
			r.mu.Lock()
			r.deleteLocked(id)
			r.mu.Unlock()
		}
	}
}

// Start launches the background sweeper, firing every interval until Stop
// is called.
func (r *Registry) Start(interval time.Duration) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				return
			case <-ticker.C:
				r.sweepOnce(r.clk.Now())
			}
		}
	}()
}

// Stop halts the sweeper and waits for it to exit.
func (r *Registry) Stop() {
	close(r.stop)
	r.wg.Wait()
}

// Sweep runs one sweep pass immediately; exported for tests.
func (r *Registry) Sweep() {
	r.sweepOnce(r.clk.Now())
}
