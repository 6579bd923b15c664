// Package runner executes pipeline runs on a bounded worker pool and
// retains finished reports for later retrieval.
package runner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-resolve/internal/metrics"
	"github.com/miradorstack/mirador-resolve/internal/models"
	"github.com/miradorstack/mirador-resolve/internal/utils"
)

// ErrBusy signals that the submission queue is full.
var ErrBusy = errors.New("runner queue is full")

// ErrUnknownHandle signals that no run exists for the given handle.
var ErrUnknownHandle = errors.New("unknown run handle")

// JobStatus describes where an async run currently is.
type JobStatus string

const (
	StatusQueued   JobStatus = "queued"
	StatusRunning  JobStatus = "running"
	StatusComplete JobStatus = "complete"
	StatusFailed   JobStatus = "failed"
)

// JobState is the externally visible state of one submitted run.
type JobState struct {
	Handle      string                   `json:"handle"`
	Status      JobStatus                `json:"status"`
	Error       string                   `json:"error,omitempty"`
	Report      *models.ResolutionReport `json:"report,omitempty"`
	SubmittedAt time.Time                `json:"submitted_at"`
}

// Resolver executes one pipeline run.
type Resolver interface {
	Resolve(ctx context.Context, incident models.Incident) (models.ResolutionReport, error)
}

type job struct {
	handle   string
	incident models.Incident
	// ctx and done are set for synchronous submissions; async jobs run
	// under the worker's context.
	ctx  context.Context
	done chan syncResult
}

type syncResult struct {
	report models.ResolutionReport
	err    error
}

// Runner owns the worker pool and the report store.
type Runner struct {
	logger   *slog.Logger
	resolver Resolver
	queue    chan job
	tracker  *utils.LatencyTracker

	mu        sync.Mutex
	jobs      map[string]*JobState
	order     []string
	retention int
	completed int

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New constructs a Runner with the given pool size and queue depth.
// retention caps how many finished runs stay queryable; the oldest are
// evicted first.
func New(logger *slog.Logger, resolver Resolver, workers, queueDepth, retention int) *Runner {
	if workers <= 0 {
		workers = 1
	}
	if queueDepth <= 0 {
		queueDepth = workers
	}
	if retention <= 0 {
		retention = 256
	}
	return &Runner{
		logger:    logger,
		resolver:  resolver,
		queue:     make(chan job, queueDepth),
		tracker:   utils.NewLatencyTracker(retention),
		jobs:      make(map[string]*JobState),
		retention: retention,
	}
}

// Start launches the worker pool. Workers stop when ctx is cancelled or
// Stop is called.
func (r *Runner) Start(ctx context.Context, workers int) {
	ctx, r.cancel = context.WithCancel(ctx)
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx)
	}
}

// Stop shuts the pool down and waits for in-flight runs to finish.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// Submit enqueues an incident for asynchronous resolution and returns a
// handle for polling. ErrBusy is returned when the queue is full.
func (r *Runner) Submit(incident models.Incident) (string, error) {
	handle := r.register()
	if err := r.enqueue(job{handle: handle, incident: incident}); err != nil {
		return "", err
	}
	return handle, nil
}

// RunSync routes a run through the same worker pool as Submit, so
// synchronous submissions share the pool bound and ErrBusy backpressure.
// It blocks until the run finishes and retains the report under the
// returned handle.
func (r *Runner) RunSync(ctx context.Context, incident models.Incident) (string, models.ResolutionReport, error) {
	handle := r.register()
	done := make(chan syncResult, 1)
	if err := r.enqueue(job{handle: handle, incident: incident, ctx: ctx, done: done}); err != nil {
		return "", models.ResolutionReport{}, err
	}

	select {
	case res := <-done:
		return handle, res.report, res.err
	case <-ctx.Done():
		// The worker finishes the run regardless; its result stays
		// pollable under the handle.
		return handle, models.ResolutionReport{}, ctx.Err()
	}
}

// register records a new queued job and returns its handle.
func (r *Runner) register() string {
	handle := uuid.NewString()
	state := &JobState{
		Handle:      handle,
		Status:      StatusQueued,
		SubmittedAt: time.Now().UTC(),
	}
	r.mu.Lock()
	r.jobs[handle] = state
	r.order = append(r.order, handle)
	r.evictLocked()
	r.mu.Unlock()
	return handle
}

// enqueue offers the job to the pool without blocking, rolling the
// registration back on a full queue.
func (r *Runner) enqueue(j job) error {
	select {
	case r.queue <- j:
		return nil
	default:
		r.mu.Lock()
		delete(r.jobs, j.handle)
		if n := len(r.order); n > 0 && r.order[n-1] == j.handle {
			r.order = r.order[:n-1]
		}
		r.mu.Unlock()
		return ErrBusy
	}
}

// Lookup returns the state for a handle.
func (r *Runner) Lookup(handle string) (JobState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.jobs[handle]
	if !ok {
		return JobState{}, ErrUnknownHandle
	}
	return *state, nil
}

func (r *Runner) worker(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-r.queue:
			r.setStatus(j.handle, StatusRunning, "", nil)
			runCtx := ctx
			if j.ctx != nil {
				runCtx = j.ctx
			}
			report, err := r.execute(runCtx, j.handle, j.incident)
			if j.done != nil {
				j.done <- syncResult{report: report, err: err}
			}
		}
	}
}

func (r *Runner) execute(ctx context.Context, handle string, incident models.Incident) (models.ResolutionReport, error) {
	started := time.Now()
	report, err := r.resolver.Resolve(ctx, incident)
	elapsed := time.Since(started)
	r.tracker.Observe(elapsed)

	outcome := metrics.OutcomeComplete
	switch {
	case err != nil:
		outcome = metrics.OutcomeError
		r.setStatus(handle, StatusFailed, err.Error(), nil)
	case report.Metadata.Degraded:
		outcome = metrics.OutcomeDegraded
		r.setStatus(handle, StatusComplete, "", &report)
	default:
		r.setStatus(handle, StatusComplete, "", &report)
	}
	metrics.ObserveRun(elapsed, outcome)

	r.mu.Lock()
	r.completed++
	logP95 := r.completed%20 == 0
	r.mu.Unlock()
	if logP95 {
		r.logger.Info("pipeline latency window",
			"p95", r.tracker.Percentile(95),
			"samples", r.tracker.Count(),
		)
	}
	return report, err
}

func (r *Runner) setStatus(handle string, status JobStatus, errMsg string, report *models.ResolutionReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.jobs[handle]
	if !ok {
		return
	}
	state.Status = status
	state.Error = errMsg
	state.Report = report
}

// evictLocked drops the oldest handles beyond the retention cap. Callers
// must hold r.mu.
func (r *Runner) evictLocked() {
	for len(r.order) > r.retention {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.jobs, oldest)
	}
}
