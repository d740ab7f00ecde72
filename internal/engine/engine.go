// Package engine implements spec §4.8's lifecycle orchestration: wiring
// the admission layer, model lifecycle manager and inference worker
// together, running the startup sequence, and coordinating graceful
// shutdown. It is deliberately the only package that imports all of
// internal/admission, internal/lifecycle, internal/worker and
// internal/backend at once — internal/httpapi depends on engine, not the
// other way around, inverting the teacher's cyclic engine/queue coupling
// (spec §9).
package engine

import (
	"context"
	"sync/atomic"
	"time"

	"exsaengine/internal/admission"
	"exsaengine/internal/backend"
	"exsaengine/internal/errs"
	"exsaengine/internal/job"
	"exsaengine/internal/lifecycle"
	"exsaengine/internal/registry"
	"exsaengine/internal/worker"
)

// DrainPolicy selects what happens to jobs still queued when shutdown is
// requested (spec §4.8 step 2).
type DrainPolicy string

const (
	// DrainFailFast rejects every still-queued job immediately with
	// errs.ShuttingDown, the spec's documented default.
	DrainFailFast DrainPolicy = "fail-fast"
	// DrainWait lets the worker finish draining the queue before the
	// process exits, up to Config.DrainTimeout.
	DrainWait DrainPolicy = "drain"
)

// Config carries the settings the orchestrator needs beyond what
// lifecycle.Config and admission already own.
type Config struct {
	ModelsDir       string
	Lifecycle       lifecycle.Config
	MaxQueueSize    int
	EnableRateLimit bool
	RateLimitMax    int
	RateLimitWindow time.Duration
	DrainPolicy     DrainPolicy
	DrainTimeout    time.Duration
	// BackendAvailable is set by main from which backend.Adapter build
	// tag was linked (internal/backend/llamacpp vs internal/backend/stub)
	// rather than probed at request time, so GET /v1/health stays cheap.
	BackendAvailable bool
}

// Engine bundles every collaborator the HTTP surface calls into. It holds
// no HTTP-specific state; internal/httpapi wraps it with routing.
type Engine struct {
	cfg         Config
	Queue       *admission.Queue
	RateLimiter *admission.RateLimiter // nil when disabled
	Models      *lifecycle.Manager
	Worker      *worker.Worker
	Warm        *registry.WarmCache

	started      time.Time
	stop         chan struct{}
	workerDone   chan struct{}
	shuttingDown atomic.Bool
}

// New constructs an Engine wired per spec §4.8: admission → lifecycle →
// worker, with the lifecycle manager's swap gate consulting the queue and
// worker busy-state (spec §4.4's "AND the admission queue is empty AND no
// job is in flight").
func New(cfg Config, adapter backend.Adapter) *Engine {
	models := lifecycle.New(adapter, cfg.ModelsDir, cfg.Lifecycle)
	queue := admission.NewQueue(cfg.MaxQueueSize)
	w := worker.New(queue, models, adapter)

	e := &Engine{
		cfg:        cfg,
		Queue:      queue,
		Models:     models,
		Worker:     w,
		Warm:       registry.NewWarmCache(8),
		stop:       make(chan struct{}),
		workerDone: make(chan struct{}),
	}
	if cfg.EnableRateLimit {
		e.RateLimiter = admission.NewRateLimiter(cfg.RateLimitMax, cfg.RateLimitWindow)
	}
	models.SetSwapGate(func() error {
		if e.Queue.Stats().Depth > 0 || e.Worker.Busy() {
			return errs.Busy("cannot swap model while requests are queued or in flight")
		}
		return nil
	})
	return e
}

// Start runs spec §4.8's startup sequence: load the initial model, then
// start the worker. Returns the lifecycle manager's error unchanged so
// main can exit non-zero on load failure.
func (e *Engine) Start(initialModelPath string) error {
	e.started = time.Now()
	if err := e.Models.Load(initialModelPath); err != nil {
		return err
	}
	go func() {
		defer close(e.workerDone)
		e.Worker.Run(e.stop)
	}()
	return nil
}

// Config returns the settings Engine was constructed with.
func (e *Engine) Config() Config { return e.cfg }

// BackendAvailable reports whether the linked backend.Adapter can
// actually load models (false for the no-CGO stub build), surfaced by
// GET /v1/health.
func (e *Engine) BackendAvailable() bool { return e.cfg.BackendAvailable }

// Uptime is the duration since Start.
func (e *Engine) Uptime() time.Duration {
	if e.started.IsZero() {
		return 0
	}
	return time.Since(e.started)
}

// ShuttingDown reports whether Shutdown has been called; admission checks
// this before enqueueing new work (spec §4.8 step 1).
func (e *Engine) ShuttingDown() bool { return e.shuttingDown.Load() }

// Admit runs spec §4.5's two sub-policies in order (rate limit, then
// bounded queue) and assigns nothing further — job.New already stamped
// the id and creation timestamp.
func (e *Engine) Admit(clientKey string, j *job.Job) error {
	if e.shuttingDown.Load() {
		return errs.ShuttingDown()
	}
	if e.RateLimiter != nil {
		if err := e.RateLimiter.CheckRateLimit(clientKey); err != nil {
			return err
		}
	}
	return e.Queue.TryEnqueue(j)
}

// Shutdown runs spec §4.8's shutdown sequence: stop accepting new
// requests, drain (or fail-fast) the queue per policy, and stop the
// worker. The active model handle is not closed: it stays loaded in the
// lifecycle manager. Calls after the first return nil without doing
// anything.
func (e *Engine) Shutdown(ctx context.Context) error {
	if !e.shuttingDown.CompareAndSwap(false, true) {
		return nil
	}

	if e.cfg.DrainPolicy == DrainWait {
		drainCtx := ctx
		if e.cfg.DrainTimeout > 0 {
			var cancel context.CancelFunc
			drainCtx, cancel = context.WithTimeout(ctx, e.cfg.DrainTimeout)
			defer cancel()
		}
		e.waitForDrain(drainCtx)
	} else {
		e.failQueuedJobs()
	}

	close(e.stop)
	select {
	case <-e.workerDone:
	case <-ctx.Done():
	}
	return nil
}

func (e *Engine) waitForDrain(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if e.Queue.Stats().Depth == 0 && !e.Worker.Busy() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// failQueuedJobs drains whatever is still in the queue without running
// it, terminating each with errs.ShuttingDown — the default fail-fast
// policy (spec §4.8 step 2).
func (e *Engine) failQueuedJobs() {
	for {
		j, ok := e.Queue.TryDequeue()
		if !ok {
			return
		}
		j.Sink.Emit(job.Event{
			Kind: job.EventDone,
			Done: job.DoneEvent{Reason: backend.FinishError, Err: errs.ShuttingDown()},
		})
		j.Sink.Close()
	}
}
