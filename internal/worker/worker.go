// Package worker implements the inference worker decode loop from spec
// §4.6: dequeue a job, acquire the active model handle, render and
// tokenize the prompt, check context capacity, build a fresh sampler
// chain, then decode with rolling-tail stop-string detection, UTF-8
// reassembly and cancellation, finally releasing the handle and resetting
// its KV cache. This generalizes the teacher's beginGeneration/Infer
// pairing (internal/manager/queue_admission.go +
// internal/manager/*_ensure.go) into a standalone worker that owns
// exactly one job at a time per spec §5's single-owner invariant.
package worker

import (
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"exsaengine/internal/admission"
	"exsaengine/internal/backend"
	"exsaengine/internal/errs"
	"exsaengine/internal/job"
	"exsaengine/internal/lifecycle"
	"exsaengine/internal/sampling"
	"exsaengine/internal/template"
)

// maxStopTail bounds the rolling-tail buffer scanned for stop strings:
// the longest family stop string is short, so this comfortably covers
// caller-supplied stops too without retaining the full generated text.
const maxStopTail = 64

// Worker drains a single admission.Queue, processing exactly one job at a
// time against the shared lifecycle.Manager.
type Worker struct {
	queue   *admission.Queue
	models  *lifecycle.Manager
	adapter backend.Adapter
	busy    atomic.Bool
}

func New(queue *admission.Queue, models *lifecycle.Manager, adapter backend.Adapter) *Worker {
	return &Worker{queue: queue, models: models, adapter: adapter}
}

// Run dequeues jobs until stop is closed, processing each to completion
// before dequeuing the next — spec §5's single in-flight generation per
// model invariant.
func (w *Worker) Run(stop <-chan struct{}) {
	for {
		j, ok := w.queue.Dequeue(stop)
		if !ok {
			return
		}
		w.Process(j)
	}
}

// Busy reports whether a job is currently in flight. The lifecycle
// manager's swap gate (spec §4.4: "Ready → Swapping ... AND no job is in
// flight") checks this alongside the queue's depth before allowing a
// load/reload to proceed.
func (w *Worker) Busy() bool { return w.busy.Load() }

// Process runs one job end to end, always emitting exactly one terminal
// Done event (spec §3) regardless of how it ends.
func (w *Worker) Process(j *job.Job) {
	w.busy.Store(true)
	defer w.busy.Store(false)

	reason, promptTokens, completionTokens, err := w.process(j)
	j.Sink.Emit(job.Event{
		Kind: job.EventDone,
		Done: job.DoneEvent{
			Reason:           reason,
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			Err:              err,
		},
	})
	j.Sink.Close()
}

func (w *Worker) process(j *job.Job) (backend.FinishReason, int, int, error) {
	if err := j.Context().Err(); err != nil {
		return backend.FinishCancelled, 0, 0, errs.ClientCancelled()
	}

	lease, err := w.models.Acquire()
	if err != nil {
		return backend.FinishError, 0, 0, err
	}
	defer lease.Release()
	defer lease.Context().Reset()

	var prompt string
	var stops []string
	if j.Request.Raw {
		// Spec §9's open question: raw prompts bypass template stop-strings
		// entirely, using only caller-supplied stops.
		prompt = j.Request.RawPrompt
		stops = append([]string(nil), j.Request.ExtraStops...)
	} else {
		family := template.DetectFamily(j.Request.ModelID)
		prompt, stops = template.Render(family, j.Request.Messages, j.Request.ExtraStops)
	}

	params, err := sampling.New(j.Request.Sampling)
	if err != nil {
		return backend.FinishError, 0, 0, err
	}
	chain := sampling.BuildChain(params, []int32{lease.Handle().EOSToken()})

	promptIDs, err := w.adapter.Tokenize(lease.Handle(), prompt, true)
	if err != nil {
		return backend.FinishError, 0, 0, err
	}
	if len(promptIDs) >= lease.Context().Capacity() {
		return backend.FinishError, len(promptIDs), 0, errs.ContextOverflow("prompt exceeds context capacity")
	}

	maxTokens := j.Request.MaxTokens
	if maxTokens <= 0 {
		maxTokens = lease.Context().Capacity() - len(promptIDs)
	}

	dec := newDecoder(stops, j.Sink)
	result, err := w.adapter.Generate(j.Context(), lease.Handle(), lease.Context(), backend.GenerateParams{
		Prompt:      prompt,
		AddBOS:      true,
		MaxTokens:   maxTokens,
		StopStrings: stops,
		Sampler:     toSamplerSpec(chain),
	}, dec.onToken)
	if err != nil {
		if j.Context().Err() != nil {
			return backend.FinishCancelled, len(promptIDs), dec.emitted, errs.ClientCancelled()
		}
		return backend.FinishError, len(promptIDs), dec.emitted, err
	}
	return result.Reason, len(promptIDs), dec.emitted, nil
}

func toSamplerSpec(c sampling.Chain) backend.SamplerSpec {
	p := c.Params
	return backend.SamplerSpec{
		Temperature:      p.Temperature,
		TopK:             p.TopK,
		TopP:             p.TopP,
		MinP:             p.MinP,
		RepeatPenalty:    p.RepeatPenalty,
		RepeatLastN:      p.RepeatLastN,
		PresencePenalty:  p.PresencePenalty,
		FrequencyPenalty: p.FrequencyPenalty,
		Mirostat:         int(p.Mirostat),
		MirostatTau:      p.MirostatTau,
		MirostatEta:      p.MirostatEta,
		Seed:             p.Seed,
	}
}

// decoder accumulates the rolling tail used for stop-string detection and
// buffers incomplete UTF-8 sequences across token pieces, emitting clean
// TokenEvents to the job's sink.
type decoder struct {
	stops   []string
	sink    *job.ChanSink
	tail    strings.Builder
	pending []byte
	emitted int
}

func newDecoder(stops []string, sink *job.ChanSink) *decoder {
	return &decoder{stops: stops, sink: sink}
}

// onToken is the backend.OnToken callback: it reassembles UTF-8, checks
// the rolling tail for a stop string, and forwards clean text to the
// sink. Returning false tells the backend to stop generating — either
// because a stop string matched or because the sink was closed
// (client disconnect/cancellation), per spec §4.6.
func (d *decoder) onToken(p backend.TokenPiece) bool {
	buf := append(d.pending, p.Text...)
	valid := validUTF8Prefix(buf)
	text := string(buf[:valid])
	d.pending = append(d.pending[:0], buf[valid:]...)

	if text == "" {
		return true
	}

	d.tail.WriteString(text)
	tail := d.tail.String()
	if len(tail) > maxStopTail {
		tail = tail[len(tail)-maxStopTail:]
		d.tail.Reset()
		d.tail.WriteString(tail)
	}

	if !d.sink.Emit(job.Event{Kind: job.EventToken, Token: job.TokenEvent{Text: text, Index: d.emitted}}) {
		return false
	}
	d.emitted++

	for _, stop := range d.stops {
		if stop != "" && strings.Contains(tail, stop) {
			return false
		}
	}
	return true
}

// validUTF8Prefix returns the length of the longest prefix of buf that is
// valid, complete UTF-8, leaving a possibly-incomplete multi-byte
// sequence for the next call to complete.
func validUTF8Prefix(buf []byte) int {
	if utf8.Valid(buf) {
		return len(buf)
	}
	for i := len(buf); i > 0 && i > len(buf)-utf8.UTFMax; i-- {
		if utf8.Valid(buf[:i]) {
			return i
		}
	}
	return 0
}
