// Package backend defines the narrow, implementation-opaque capability
// interface from spec §4.1: load, context creation, tokenize, generate and
// teardown. It deliberately does not schedule or know about queues — that
// is the admission layer and worker's job (spec §9's inversion of the
// teacher's cyclic engine/queue coupling).
package backend

import "context"

// ModelConfig is the immutable configuration from spec §3 used to load a
// model. Path must already be validated (registry.ValidatePath) before
// reaching the backend.
type ModelConfig struct {
	Path        string
	GPULayers   int
	ContextSize int
	BatchSize   int
}

// Handle is an opaque owned reference to a loaded native model. Backends
// return concrete types satisfying this interface; callers never reach
// through it.
type Handle interface {
	// EOSToken returns the model's end-of-sequence token id.
	EOSToken() int32
	// VocabSize returns the model's vocabulary size.
	VocabSize() int
	// Close releases the native model. Safe to call once; the lifecycle
	// manager is responsible for calling it exactly once, after the last
	// job referencing the handle has drained.
	Close() error
}

// Context is a stateful decode session against a loaded model (spec
// GLOSSARY). Not safe for concurrent use: only one worker goroutine may
// call Generate/Tokenize against a given Context at a time (spec §5).
type Context interface {
	// Capacity returns the context's token capacity.
	Capacity() int
	// Reset clears the KV cache and position cursor between jobs (spec
	// §4.6's "reset KV cache for next job").
	Reset()
	Close() error
}

// GenerateParams bundles the per-job inputs Generate needs: the already
// rendered+tokenized prompt is handed in as text (tokenization happens
// inside Generate so backends that only expose a coarse Predict-style API,
// like go-llama.cpp, can still satisfy this interface — see
// internal/backend/llamacpp's DESIGN.md entry for why the feed/sample split
// from spec §4.1 collapses into one call for that backend).
type GenerateParams struct {
	Prompt        string
	AddBOS        bool
	MaxTokens     int
	StopStrings   []string
	Sampler       SamplerSpec
}

// SamplerSpec is the backend-facing projection of sampling.Chain: plain
// values only, so backend packages do not need to import internal/sampling.
type SamplerSpec struct {
	Temperature      float32
	TopK             int
	TopP             float32
	MinP             float32
	RepeatPenalty    float32
	RepeatLastN      int
	PresencePenalty  float32
	FrequencyPenalty float32
	Mirostat         int
	MirostatTau      float32
	MirostatEta      float32
	Seed             *int64
}

// TokenPiece is one decoded fragment delivered by Generate. Count is the
// 0-based index of this piece within the job (spec §3 Token.index).
type TokenPiece struct {
	Text  string
	Count int
}

// FinishReason mirrors the Done.reason enum from spec §3.
type FinishReason string

const (
	FinishEOS         FinishReason = "stop_eos"
	FinishStopString  FinishReason = "stop_string"
	FinishMaxTokens   FinishReason = "stop_max_tokens"
	FinishCancelled   FinishReason = "stop_cancelled"
	FinishError       FinishReason = "stop_error"
)

// Result summarizes a completed (or terminated) generation.
type Result struct {
	Reason           FinishReason
	PromptTokens     int
	CompletionTokens int
}

// OnToken is invoked once per decoded piece. Returning false asks Generate
// to stop at the next safe point (used for client-disconnect cancellation
// and stop-string matches the worker detects on the rolling tail).
type OnToken func(TokenPiece) bool

// Adapter is the capability interface spec §4.1 describes. Exactly one
// concrete implementation is linked into a given binary: internal/backend/
// llamacpp (build tag "llama", CGO, go-llama.cpp) or internal/backend/stub
// (default, fails fast — never mocks generated text).
type Adapter interface {
	Load(cfg ModelConfig) (Handle, error)
	NewContext(h Handle, contextSize, batchSize int) (Context, error)
	Tokenize(h Handle, text string, addBOS bool) ([]int32, error)
	// Generate runs the decode loop described in spec §4.6 against ctx,
	// calling onToken per piece and returning once a terminal condition is
	// reached. ctx.Done() (the context.Context, not the backend.Context)
	// must cause a prompt, clean exit with Result.Reason ==
	// FinishCancelled.
	Generate(goCtx context.Context, h Handle, c Context, p GenerateParams, onToken OnToken) (Result, error)
}
