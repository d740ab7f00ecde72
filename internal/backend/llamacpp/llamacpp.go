//go:build llama

// Package llamacpp is the in-process backend.Adapter implementation over
// github.com/go-skynet/go-llama.cpp, the CGO binding the teacher's
// adapter_llama.go already used. It is only compiled with -tags=llama; the
// default build links internal/backend/stub instead, exactly like the
// teacher's adapter_llama.go / adapter_llama_stub.go split.
package llamacpp

import (
	"context"

	llama "github.com/go-skynet/go-llama.cpp"

	"exsaengine/internal/backend"
	"exsaengine/internal/errs"
)

// Adapter loads go-llama.cpp models. Threads is fixed at construction,
// following the teacher's llamaAdapter{ctxSize, threads}.
type Adapter struct {
	threads int
}

func NewAdapter(threads int) *Adapter {
	if threads <= 0 {
		threads = 4
	}
	return &Adapter{threads: threads}
}

// handle wraps the loaded model plus the eos/vocab metadata spec §4.1 asks
// the backend to expose.
type handle struct {
	model    *llama.LLama
	eosToken int32
	vocab    int
}

func (h *handle) EOSToken() int32 { return h.eosToken }
func (h *handle) VocabSize() int  { return h.vocab }
func (h *handle) Close() error {
	if h.model != nil {
		h.model.Free()
		h.model = nil
	}
	return nil
}

// llamaContext has no separate native object in go-llama.cpp: the library
// operates directly on the loaded model via Predict. Context.Reset is
// therefore a bookkeeping no-op on the Go side — go-llama.cpp resets its
// own internal state at the start of every Predict call, which is the
// closest equivalent this binding exposes to spec §4.6's "reset KV cache
// for next job". This is a deliberate, documented collapse of spec §4.1's
// separate new_context operation (see DESIGN.md).
type llamaContext struct {
	capacity int
}

func (c *llamaContext) Capacity() int { return c.capacity }
func (c *llamaContext) Reset()        {}
func (c *llamaContext) Close() error  { return nil }

func (a *Adapter) Load(cfg backend.ModelConfig) (backend.Handle, error) {
	opts := []llama.ModelOption{llama.SetContext(cfg.ContextSize)}
	if cfg.GPULayers > 0 {
		opts = append(opts, llama.SetGPULayers(cfg.GPULayers))
	}
	m, err := llama.New(cfg.Path, opts...)
	if err != nil {
		return nil, errs.ModelLoad(err, "failed to load model")
	}
	return &handle{model: m, eosToken: llamaEOSToken, vocab: m.VocabSize()}, nil
}

// llamaEOSToken is the llama.cpp family's conventional end-of-sequence
// token id (</s>). go-llama.cpp's stop-word handling means most callers
// never observe this id directly, but spec §4.1 requires the backend to
// expose it as authoritative (spec §9's open question resolution).
const llamaEOSToken int32 = 2

func (a *Adapter) NewContext(h backend.Handle, contextSize, batchSize int) (backend.Context, error) {
	return &llamaContext{capacity: contextSize}, nil
}

func (a *Adapter) Tokenize(h backend.Handle, text string, addBOS bool) ([]int32, error) {
	hd, ok := h.(*handle)
	if !ok || hd.model == nil {
		return nil, errs.Backend(nil, "invalid model handle")
	}
	ids, err := hd.model.TokenizeString(text, addBOS)
	if err != nil {
		return nil, errs.Tokenize(err, "failed to tokenize prompt")
	}
	return ids, nil
}

func (a *Adapter) Generate(goCtx context.Context, h backend.Handle, c backend.Context, p backend.GenerateParams, onToken backend.OnToken) (backend.Result, error) {
	hd, ok := h.(*handle)
	if !ok || hd.model == nil {
		return backend.Result{}, errs.Backend(nil, "invalid model handle")
	}

	count := 0
	stopped := backend.FinishMaxTokens
	cancelled := false

	hd.model.SetTokenCallback(func(tok string) bool {
		select {
		case <-goCtx.Done():
			cancelled = true
			stopped = backend.FinishCancelled
			return false
		default:
		}
		keep := onToken(backend.TokenPiece{Text: tok, Count: count})
		count++
		if !keep {
			if !cancelled {
				stopped = backend.FinishStopString
			}
			return false
		}
		return true
	})

	po := mapSampler(p, a.threads)
	if _, err := hd.model.Predict(p.Prompt, po...); err != nil {
		if goCtx.Err() != nil {
			return backend.Result{Reason: backend.FinishCancelled}, goCtx.Err()
		}
		return backend.Result{Reason: backend.FinishError}, errs.Backend(err, "decode failed")
	}
	return backend.Result{Reason: stopped, CompletionTokens: count}, nil
}

func mapSampler(p backend.GenerateParams, threads int) []llama.PredictOption {
	s := p.Sampler
	po := []llama.PredictOption{
		llama.SetTokens(maxInt(1, p.MaxTokens)),
		llama.SetThreads(maxInt(1, threads)),
		llama.SetTopP(orDefault(s.TopP, llama.DefaultOptions.TopP)),
		llama.SetTopK(orDefaultInt(s.TopK, llama.DefaultOptions.TopK)),
		llama.SetTemperature(orDefault(s.Temperature, llama.DefaultOptions.Temperature)),
		llama.SetPenalty(orDefault(s.RepeatPenalty, llama.DefaultOptions.Penalty)),
	}
	if s.Seed != nil {
		po = append(po, llama.SetSeed(int(*s.Seed)))
	}
	if len(p.StopStrings) > 0 {
		po = append(po, llama.SetStopWords(p.StopStrings...))
	}
	if s.Mirostat != 0 {
		po = append(po, llama.SetMirostat(s.Mirostat), llama.SetMirostatTAU(s.MirostatTau), llama.SetMirostatETA(s.MirostatEta))
	}
	return po
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func orDefault(v, def float32) float32 {
	if v > 0 {
		return v
	}
	return def
}

func orDefaultInt(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
