// Package sampling implements the validated SamplingParams record from
// spec §3 and the sampler-chain construction from §4.2, mapping onto the
// go-llama.cpp PredictOption surface the teacher's adapter_llama.go already
// used for temperature/top-k/top-p/penalty/seed/stop-words.
package sampling

import (
	"exsaengine/internal/errs"
)

// MirostatMode selects which mirostat variant is active (off, v1 or v2).
type MirostatMode int

const (
	MirostatOff MirostatMode = 0
	MirostatV1  MirostatMode = 1
	MirostatV2  MirostatMode = 2
)

// Params is the validated sampling record from spec §3. Zero value is not
// valid; always construct via New.
type Params struct {
	Temperature     float32
	TopK            int
	TopP            float32
	MinP            float32
	RepeatPenalty   float32
	RepeatLastN     int
	PresencePenalty float32
	FrequencyPenalty float32
	Mirostat        MirostatMode
	MirostatTau     float32
	MirostatEta     float32
	Seed            *int64 // nil = nondeterministic
}

// Defaults mirror common llama.cpp sampler defaults; callers may override
// any subset via Raw before calling New.
func Defaults() Raw {
	return Raw{
		Temperature:   0.8,
		TopP:          0.95,
		MinP:          0.05,
		RepeatPenalty: 1.1,
		MirostatTau:   5.0,
		MirostatEta:   0.1,
	}
}

// Raw is the unvalidated wire shape accepted from HTTP requests. Only Seed
// is a pointer (nil = no fixed seed); the other fields are plain values, so
// an omitted field and an explicit zero look the same here.
type Raw struct {
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

// New validates raw against the bounds in spec §3 and returns a Params, or
// a *errs.Error of kind KindValidation naming the offending field.
// Construction fails closed: downstream code may assume a returned Params
// is always within bounds.
func New(raw Raw) (Params, error) {
	if raw.Temperature < 0 {
		return Params{}, errs.Validation("temperature", "must be >= 0")
	}
	if raw.TopK < 0 {
		return Params{}, errs.Validation("top_k", "must be >= 0")
	}
	if raw.TopP < 0 || raw.TopP > 1 {
		return Params{}, errs.Validation("top_p", "must be within [0, 1]")
	}
	if raw.MinP < 0 || raw.MinP > 1 {
		return Params{}, errs.Validation("min_p", "must be within [0, 1]")
	}
	if raw.RepeatPenalty <= 0 {
		return Params{}, errs.Validation("repeat_penalty", "must be > 0")
	}
	if raw.RepeatLastN < 0 {
		return Params{}, errs.Validation("repeat_last_n", "must be >= 0")
	}
	if raw.PresencePenalty < -2 || raw.PresencePenalty > 2 {
		return Params{}, errs.Validation("presence_penalty", "must be within [-2, 2]")
	}
	if raw.FrequencyPenalty < -2 || raw.FrequencyPenalty > 2 {
		return Params{}, errs.Validation("frequency_penalty", "must be within [-2, 2]")
	}
	if raw.Mirostat < 0 || raw.Mirostat > 2 {
		return Params{}, errs.Validation("mirostat", "must be 0, 1 or 2")
	}
	if raw.MirostatTau < 0 {
		return Params{}, errs.Validation("mirostat_tau", "must be >= 0")
	}
	if raw.MirostatEta < 0 || raw.MirostatEta > 1 {
		return Params{}, errs.Validation("mirostat_eta", "must be within [0, 1]")
	}

	return Params{
		Temperature:      raw.Temperature,
		TopK:             raw.TopK,
		TopP:             raw.TopP,
		MinP:             raw.MinP,
		RepeatPenalty:    raw.RepeatPenalty,
		RepeatLastN:      raw.RepeatLastN,
		PresencePenalty:  raw.PresencePenalty,
		FrequencyPenalty: raw.FrequencyPenalty,
		Mirostat:         MirostatMode(raw.Mirostat),
		MirostatTau:      raw.MirostatTau,
		MirostatEta:      raw.MirostatEta,
		Seed:             raw.Seed,
	}, nil
}

// Chain describes the ordered sampler stages from spec §3: when mirostat is
// active the truncation/distribution stage is suppressed in favor of the
// mirostat feedback loop; otherwise the full
// penalties -> temperature -> top-k -> top-p -> min-p -> distribution chain
// runs. This is a plain description object: the worker forwards only its
// Params to the backend (as backend.SamplerSpec), so the stage flags are not
// passed on, and the stub backend does no sampling at all.
type Chain struct {
	Params        Params
	EOSTokens     []int32
	MirostatStage bool
	TruncateStage bool
}

// BuildChain is called once per job (spec §4.2): it returns fresh sampler
// state, never shared across jobs, so repeat/presence/frequency penalties
// and mirostat feedback never leak between requests.
func BuildChain(p Params, eosTokens []int32) Chain {
	return Chain{
		Params:        p,
		EOSTokens:     append([]int32(nil), eosTokens...),
		MirostatStage: p.Mirostat != MirostatOff,
		TruncateStage: p.Mirostat == MirostatOff,
	}
}
