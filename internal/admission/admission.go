// Package admission implements spec §4.5: a bounded FIFO queue with a
// non-blocking fast-path enqueue and a token-bucket per-key rate
// limiter. It is grounded on the teacher's queueCh/genCh pattern in
// internal/manager/queue_admission.go, generalized into a single reusable
// type instead of being folded into the Manager's per-instance state.
package admission

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"exsaengine/internal/errs"
	"exsaengine/internal/job"
)

// Queue is a bounded FIFO of admitted jobs. Enqueue never blocks: it
// either reserves a slot immediately or rejects with QueueFull, mirroring
// the teacher's queueCh reservation but without the timer-based wait —
// spec §4.5 calls for immediate rejection, not a bounded wait, once the
// queue is full.
type Queue struct {
	mu       sync.Mutex
	ch       chan *job.Job
	depth    int
	maxDepth int
	enqueued uint64
	rejected uint64
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan *job.Job, capacity)}
}

// TryEnqueue attempts the fast-path, non-blocking admission spec §4.5
// describes. Returns errs.QueueFull if the queue is saturated.
func (q *Queue) TryEnqueue(j *job.Job) error {
	select {
	case q.ch <- j:
		q.mu.Lock()
		q.depth++
		if q.depth > q.maxDepth {
			q.maxDepth = q.depth
		}
		q.enqueued++
		q.mu.Unlock()
		return nil
	default:
		q.mu.Lock()
		q.rejected++
		q.mu.Unlock()
		return errs.QueueFull("inference queue is full")
	}
}

// Dequeue blocks until a job is available or stop is closed.
func (q *Queue) Dequeue(stop <-chan struct{}) (*job.Job, bool) {
	select {
	case j := <-q.ch:
		q.mu.Lock()
		q.depth--
		q.mu.Unlock()
		return j, true
	case <-stop:
		return nil, false
	}
}

// TryDequeue is Dequeue's non-blocking counterpart, used to drain whatever
// remains in the queue during shutdown without racing an already-closed
// stop signal against a still-populated channel.
func (q *Queue) TryDequeue() (*job.Job, bool) {
	select {
	case j := <-q.ch:
		q.mu.Lock()
		q.depth--
		q.mu.Unlock()
		return j, true
	default:
		return nil, false
	}
}

// Stats is a point-in-time snapshot for spec §4.8's status aggregation.
type Stats struct {
	Depth        int
	MaxDepth     int
	TotalEnqueued uint64
	TotalRejected uint64
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{Depth: q.depth, MaxDepth: q.maxDepth, TotalEnqueued: q.enqueued, TotalRejected: q.rejected}
}

// RateLimiter is a per-key token-bucket limiter built on
// golang.org/x/time/rate, one limiter per key (e.g. API key or client
// IP), created lazily and reused across requests. Each bucket holds up to
// max tokens and regains one token every window/max; it is not a sliding
// window. Limiters are never removed from the map once created.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	max      int
	window   time.Duration
}

// NewRateLimiter allows up to max requests per window, per key.
func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	if max <= 0 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{limiters: make(map[string]*rate.Limiter), max: max, window: window}
}

// Allow reports whether key may proceed now, consuming one token from its
// window if so.
func (r *RateLimiter) Allow(key string) bool {
	return r.limiterFor(key).Allow()
}

func (r *RateLimiter) limiterFor(key string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	lim, ok := r.limiters[key]
	if !ok {
		every := r.window / time.Duration(r.max)
		lim = rate.NewLimiter(rate.Every(every), r.max)
		r.limiters[key] = lim
	}
	return lim
}

// CheckRateLimit returns errs.RateLimited when key has exceeded its
// window, otherwise nil.
func (r *RateLimiter) CheckRateLimit(key string) error {
	if !r.Allow(key) {
		return errs.RateLimited("rate limit exceeded for " + key)
	}
	return nil
}
