package types

// Model describes one discoverable .gguf file under the configured
// models directory.
type Model struct {
	// ID is the model's path relative to the models directory, used as
	// the identifier in load/reload requests and chat completions.
	// example: tinyllama-q4_k_m.gguf
	ID string `json:"id" example:"tinyllama-q4_k_m.gguf"`
	// Name is the file's base name.
	// example: tinyllama-q4_k_m.gguf
	Name string `json:"name" example:"tinyllama-q4_k_m.gguf"`
	// Path is the model's absolute path on disk.
	Path string `json:"path"`
}

// ActiveModel describes the currently loaded model (GET /v1/models/active,
// and the success body of POST /v1/models/load and POST /v1/models/reload).
type ActiveModel struct {
	// State is the lifecycle manager's current state.
	// example: ready
	State string `json:"state" example:"ready"`
	// ModelID identifies the loaded model, empty if none is loaded.
	ModelID string `json:"model_id,omitempty"`
	// Family is the detected chat template family.
	// example: chatml
	Family string `json:"family,omitempty" example:"chatml"`
	// Error holds the last load failure message, if State is "failed".
	Error string `json:"error,omitempty"`
}

// ModelInfoResponse is the body of GET /v1/model/info: static metadata
// about the currently active model, distinct from ActiveModel's
// lifecycle-state view used by GET /v1/models/active.
type ModelInfoResponse struct {
	Path            string `json:"path"`
	ContextSize     int    `json:"context_size"`
	GPULayers       int    `json:"gpu_layers"`
	TemplateFamily  string `json:"template_family,omitempty"`
}

// LoadModelRequest is the body of POST /v1/models/load. POST
// /v1/models/reload takes no body.
type LoadModelRequest struct {
	// ModelPath selects a model discovered by GET /v1/models/list, either
	// by its relative id or an absolute path within the models directory.
	// example: tinyllama-q4_k_m.gguf
	ModelPath string `json:"model_path" example:"tinyllama-q4_k_m.gguf"`
	// GPULayers optionally overrides the configured layer offload count
	// for this load only.
	GPULayers int `json:"gpu_layers,omitempty"`
	// ContextSize optionally overrides the configured context window for
	// this load only.
	ContextSize int `json:"context_size,omitempty"`
}

// ListModelsResponse wraps GET /v1/models/list.
type ListModelsResponse struct {
	Models []Model `json:"models"`
}
