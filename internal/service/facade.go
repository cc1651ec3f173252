// Package service implements the job service façade (spec §4.7): the single
// synchronous entry point the HTTP layer calls. It owns input validation,
// idempotency handling, record creation, and enqueue, the same
// responsibilities the teacher's api/server.go handleEnqueue/handleGetJob/
// handleCancel inlined directly against store/queue; here they are pulled
// out into their own package so the HTTP layer has nothing left to decide.
package service

import (
	"errors"
	"fmt"
	"time"

	"distributed-download-service/internal/clock"
	"distributed-download-service/internal/job"
	"distributed-download-service/internal/queue"
	"distributed-download-service/internal/registry"
	"distributed-download-service/internal/telemetry"
)

const (
	minFileID = 10_000
	maxFileID = 100_000_000

	maxClientRequestIDLen = 128

	defaultNextPollInMs = 2000
)

// Kind classifies a façade-level outcome (spec §7 taxonomy, the subset the
// façade itself can produce).
type Kind string

const (
	KindValidation  Kind = "validation"
	KindServiceBusy Kind = "serviceBusy"
	KindNotFound    Kind = "notFound"
	KindGone        Kind = "gone"
)

// Error is a façade-level error carrying its taxonomy kind so the HTTP
// layer can map it to a status code without re-deriving the reason.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return string(e.Kind) + ": " + e.Message }

func validationErr(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Facade implements spec §4.7.
type Facade struct {
	clk         clock.Clock
	reg         *registry.Registry
	q           *queue.Queue
	jobTTL      time.Duration
	maxAttempts int
}

// New constructs the façade.
func New(clk clock.Clock, reg *registry.Registry, q *queue.Queue, jobTTL time.Duration, maxAttempts int) *Facade {
	return &Facade{clk: clk, reg: reg, q: q, jobTTL: jobTTL, maxAttempts: maxAttempts}
}

// InitiateRequest is the façade's input for Initiate (spec §4.7).
type InitiateRequest struct {
	FileIDs         []int64
	ClientRequestID string
	UserID          string
	Priority        job.Priority
}

// InitiateResult is the façade's output for Initiate.
type InitiateResult struct {
	JobID        string
	Status       job.Status
	NextPollInMs int64
	ExpiresAt    time.Time
	TotalFileIDs int
}

// Initiate validates req, resolves idempotency, creates a record, and
// enqueues it.
func (f *Facade) Initiate(req InitiateRequest) (InitiateResult, error) {
	if len(req.FileIDs) == 0 {
		return InitiateResult{}, validationErr("file_ids must be non-empty")
	}
	for _, id := range req.FileIDs {
		if id < minFileID || id > maxFileID {
			return InitiateResult{}, validationErr("file id %d out of range [%d, %d]", id, minFileID, maxFileID)
		}
	}
	if req.Priority == "" {
		req.Priority = job.PriorityStandard
	}
	if req.Priority != job.PriorityStandard && req.Priority != job.PriorityLow {
		return InitiateResult{}, validationErr("unknown priority %q", req.Priority)
	}
	if len(req.ClientRequestID) > maxClientRequestIDLen {
		return InitiateResult{}, validationErr("clientRequestId exceeds %d characters", maxClientRequestIDLen)
	}

	now := f.clk.Now()
	candidate := job.Job{
		JobID:           f.clk.NewJobID(),
		FileIDs:         append([]int64(nil), req.FileIDs...),
		ClientRequestID: req.ClientRequestID,
		UserID:          req.UserID,
		Priority:        req.Priority,
		Status:          job.StatusQueued,
		MaxAttempts:     f.maxAttempts,
		CreatedAt:       now,
		ExpiresAt:       now.Add(f.jobTTL),
		UpdatedAt:       now,
	}

	stored, existed := f.reg.Insert(candidate)
	if existed {
		telemetry.JobsDuplicate.Inc()
		return InitiateResult{
			JobID:        stored.JobID,
			Status:       stored.Status,
			NextPollInMs: defaultNextPollInMs,
			ExpiresAt:    stored.ExpiresAt,
			TotalFileIDs: len(stored.FileIDs),
		}, nil
	}

	if err := f.q.Enqueue(stored.JobID, stored.Priority); err != nil {
		f.reg.Delete(stored.JobID) // never leave an unenqueueable record behind
		telemetry.ServiceBusy.Inc()
		if errors.Is(err, queue.ErrQueueFull) {
			return InitiateResult{}, &Error{Kind: KindServiceBusy, Message: "work queue at capacity"}
		}
		return InitiateResult{}, &Error{Kind: KindServiceBusy, Message: err.Error()}
	}

	telemetry.JobsInitiated.Inc()
	return InitiateResult{
		JobID:        stored.JobID,
		Status:       stored.Status,
		NextPollInMs: defaultNextPollInMs,
		ExpiresAt:    stored.ExpiresAt,
		TotalFileIDs: len(stored.FileIDs),
	}, nil
}

// Status returns a snapshot of jobID, or a notFound Error.
func (f *Facade) Status(jobID string) (job.Job, error) {
	snap, err := f.reg.Get(jobID)
	if err != nil {
		return job.Job{}, &Error{Kind: KindNotFound, Message: "job not found"}
	}
	return snap, nil
}

// ResolveOutcome tags what Resolve decided so the HTTP layer can pick a
// status code without re-inspecting the job (spec §4.7/§6 GET .../:jobId).
type ResolveOutcome string

const (
	ResolveRedirect ResolveOutcome = "redirect"
	ResolveNotReady ResolveOutcome = "notReady"
	ResolveGone     ResolveOutcome = "gone"
	ResolveNotFound ResolveOutcome = "notFound"
)

// ResolveResult is Resolve's output.
type ResolveResult struct {
	Outcome ResolveOutcome
	Job     job.Job
}

// Resolve implements spec §4.7 Resolve.
func (f *Facade) Resolve(jobID string) ResolveResult {
	snap, err := f.reg.Get(jobID)
	if err != nil {
		return ResolveResult{Outcome: ResolveNotFound}
	}

	switch snap.Status {
	case job.StatusCompleted:
		if f.clk.Now().Before(snap.Result.URLExpiresAt) {
			return ResolveResult{Outcome: ResolveRedirect, Job: snap}
		}
		return ResolveResult{Outcome: ResolveGone, Job: snap}
	case job.StatusQueued, job.StatusRunning, job.StatusProcessingArtifacts:
		return ResolveResult{Outcome: ResolveNotReady, Job: snap}
	case job.StatusFailed, job.StatusCancelled:
		return ResolveResult{Outcome: ResolveGone, Job: snap}
	default: // expired, or any future terminal state absent from the registry
		return ResolveResult{Outcome: ResolveNotFound}
	}
}

// Cancel transitions jobID to cancelled if it is non-terminal, and is a
// no-op if it is already terminal (spec §4.7 "idempotent").
func (f *Facade) Cancel(jobID string) (job.Job, error) {
	alreadyTerminal := false
	snap, err := f.reg.Update(jobID, func(j *job.Job) error {
		if j.Status.Terminal() {
			alreadyTerminal = true
			return nil // already terminal: idempotent no-op, not an error
		}
		if err := j.Transition(job.StatusCancelled); err != nil {
			return err
		}
		j.CompletedAt = f.clk.Now() // I1: status ∈ terminal ⇒ completedAt ≠ ∅
		return nil
	})
	if err != nil {
		return job.Job{}, &Error{Kind: KindNotFound, Message: "job not found"}
	}
	if !alreadyTerminal {
		telemetry.JobsCancelled.Inc()
	}
	return snap, nil
}
