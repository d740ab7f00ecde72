// Package job defines the InferenceJob unit spec §3 describes: the
// caller-facing request plus the event sink the worker (internal/worker)
// writes token/done events into. It is intentionally free of queue or
// backend concerns — those live in internal/admission and internal/worker
// respectively, following the teacher's separation of Manager state from
// the queueCh/genCh admission mechanics in queue_admission.go.
package job

import (
	"context"
	"time"

	"github.com/google/uuid"

	"exsaengine/internal/backend"
	"exsaengine/internal/sampling"
	"exsaengine/internal/template"
)

// Request is the caller-facing input to an inference job (spec §3). A
// request carries either Messages (the /v1/chat/completions path, rendered
// through internal/template) or Raw+RawPrompt (the /v1/generate legacy
// path). Spec §9's open question is resolved in favor of the raw path:
// raw prompts use only ExtraStops, never a template family's default stop
// strings, since the caller is assumed to have already rendered its own
// framing.
type Request struct {
	ModelID    string
	Messages   []template.Message
	Raw        bool
	RawPrompt  string
	Sampling   sampling.Raw
	MaxTokens  int
	Stream     bool
	ExtraStops []string
}

// EventKind tags one entry in a job's event stream.
type EventKind int

const (
	EventToken EventKind = iota
	EventDone
)

// Event is the tagged union spec §3 calls Token | Done. Exactly one of
// Token/Done is meaningful, selected by Kind.
type Event struct {
	Kind  EventKind
	Token TokenEvent
	Done  DoneEvent
}

// TokenEvent is one decoded piece, index is 0-based within the job.
type TokenEvent struct {
	Text  string
	Index int
}

// DoneEvent is the single terminal event every job emits exactly once.
type DoneEvent struct {
	Reason           backend.FinishReason
	PromptTokens     int
	CompletionTokens int
	Err              error
}

// Sink receives a job's event stream. Emit must not block indefinitely —
// streaming transports (internal/streaming) drain it as fast as the
// transport allows; non-streaming callers drain it into an accumulator.
type Sink interface {
	Emit(Event) bool
}

// ChanSink is the default Sink: a buffered channel plus a closed flag the
// worker polls as its cancellation signal, mirroring how the teacher's
// /infer handler treated a closed ResponseWriter/canceled context as the
// drain-stop signal.
type ChanSink struct {
	ch     chan Event
	closed chan struct{}
}

func NewChanSink(buffer int) *ChanSink {
	if buffer <= 0 {
		buffer = 16
	}
	return &ChanSink{ch: make(chan Event, buffer), closed: make(chan struct{})}
}

// Emit attempts to enqueue ev, returning false if the sink has been closed.
func (s *ChanSink) Emit(ev Event) bool {
	select {
	case <-s.closed:
		return false
	default:
	}
	select {
	case s.ch <- ev:
		return true
	case <-s.closed:
		return false
	}
}

// Events returns the channel the consumer ranges over.
func (s *ChanSink) Events() <-chan Event { return s.ch }

// Close marks the sink closed; subsequent Emit calls return false, which
// the worker's decode loop treats as a cancellation request (spec §4.6).
func (s *ChanSink) Close() {
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
}

// Job is one admitted unit of work: the validated request plus its event
// sink and bookkeeping the worker and admission layer both need.
type Job struct {
	ID        string
	Request   Request
	Sink      *ChanSink
	EnqueuedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates a Job with a fresh stable id (spec §3's InferenceJob.id),
// deriving a cancellable context from parent so admission timeouts and
// client disconnects both reach the worker through the same mechanism.
func New(parent context.Context, req Request) *Job {
	ctx, cancel := context.WithCancel(parent)
	return &Job{
		ID:         uuid.NewString(),
		Request:    req,
		Sink:       NewChanSink(16),
		EnqueuedAt: time.Now(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Context returns the job's cancellation context.
func (j *Job) Context() context.Context { return j.ctx }

// Cancel requests early termination; the worker observes this via
// Context().Done() and the sink's closed signal.
func (j *Job) Cancel() {
	j.cancel()
	j.Sink.Close()
}
