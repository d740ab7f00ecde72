package types

// ChatMessage is one role-tagged turn in a chat completion request.
type ChatMessage struct {
	// Role is one of "system", "user" or "assistant".
	// example: user
	Role string `json:"role" example:"user"`
	// Content is the message text.
	// example: Write a haiku about the ocean.
	Content string `json:"content" example:"Write a haiku about the ocean."`
}

// SamplingOptions is the caller-tunable subset of sampling.Params carried
// on the wire. Zero values fall back to sampling.Defaults().
type SamplingOptions struct {
	Temperature      float64  `json:"temperature,omitempty" example:"0.8"`
	TopK             int      `json:"top_k,omitempty" example:"40"`
	TopP             float64  `json:"top_p,omitempty" example:"0.95"`
	MinP             float64  `json:"min_p,omitempty" example:"0.05"`
	RepeatPenalty    float64  `json:"repeat_penalty,omitempty" example:"1.1"`
	RepeatLastN      int      `json:"repeat_last_n,omitempty" example:"64"`
	PresencePenalty  float64  `json:"presence_penalty,omitempty"`
	FrequencyPenalty float64  `json:"frequency_penalty,omitempty"`
	Mirostat         int      `json:"mirostat,omitempty" example:"0"`
	MirostatTau      float64  `json:"mirostat_tau,omitempty" example:"5.0"`
	MirostatEta      float64  `json:"mirostat_eta,omitempty" example:"0.1"`
	Seed             *int64   `json:"seed,omitempty" example:"42"`
}

// ChatCompletionRequest is the body of POST /v1/chat/completions.
type ChatCompletionRequest struct {
	// Model selects which loaded model to use; empty uses the active
	// model regardless of name.
	// example: tinyllama-q4_k_m.gguf
	Model    string          `json:"model,omitempty" example:"tinyllama-q4_k_m.gguf"`
	Messages []ChatMessage   `json:"messages"`
	// Stream requests an SSE chat.completion.chunk response instead of a
	// single accumulated body.
	// example: true
	Stream    bool     `json:"stream,omitempty" example:"true"`
	MaxTokens int      `json:"max_tokens,omitempty" example:"256"`
	Stop      []string `json:"stop,omitempty"`
	SamplingOptions
}

// GenerateRequest is the body of POST /v1/generate: a single raw prompt
// rather than a chat message list, for callers that render their own
// template.
type GenerateRequest struct {
	Model     string          `json:"model,omitempty"`
	Prompt    string          `json:"prompt" example:"Once upon a time"`
	Stream    bool     `json:"stream,omitempty"`
	MaxTokens int      `json:"max_tokens,omitempty" example:"128"`
	Stop      []string `json:"stop,omitempty"`
	SamplingOptions
}
