package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"exsaengine/internal/engine"
	"exsaengine/internal/errs"
	"exsaengine/internal/job"
	"exsaengine/internal/lifecycle"
	"exsaengine/internal/registry"
	"exsaengine/internal/sampling"
	"exsaengine/internal/streaming"
	"exsaengine/internal/template"
	"exsaengine/pkg/types"
)

// handlers holds the collaborators every route needs. Unexported: the
// package's public surface is NewMux, matching the teacher's Service-based
// NewMux(svc Service) shape.
type handlers struct {
	eng *engine.Engine
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	snap := h.eng.Models.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"uptime_s":          int64(h.eng.Uptime().Seconds()),
		"queue_depth":       h.eng.Queue.Stats().Depth,
		"model_loaded":      snap.State == lifecycle.Ready,
		"backend_available": h.eng.BackendAvailable(),
	})
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *handlers) readyz(w http.ResponseWriter, r *http.Request) {
	if h.eng.Models.Snapshot().State == lifecycle.Ready {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("loading"))
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	snap := h.eng.Models.Snapshot()
	qs := h.eng.Queue.Stats()
	ObserveQueueDepth(qs.Depth)
	writeJSON(w, http.StatusOK, types.StatusResponse{
		State:         string(snap.State),
		ModelID:       snap.ModelID,
		QueueDepth:    qs.Depth,
		MaxQueueDepth: qs.MaxDepth,
		TotalEnqueued: qs.TotalEnqueued,
		TotalRejected: qs.TotalRejected,
		UptimeSeconds: int64(h.eng.Uptime().Seconds()),
	})
}

func (h *handlers) modelInfo(w http.ResponseWriter, r *http.Request) {
	snap := h.eng.Models.Snapshot()
	writeJSON(w, http.StatusOK, types.ModelInfoResponse{
		Path:           snap.ModelPath,
		ContextSize:    snap.ContextSize,
		GPULayers:      snap.GPULayers,
		TemplateFamily: snap.Family,
	})
}

func (h *handlers) modelsList(w http.ResponseWriter, r *http.Request) {
	files, err := registry.List(h.eng.Config().ModelsDir)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to list models directory")
		return
	}
	models := make([]types.Model, 0, len(files))
	for _, f := range files {
		models = append(models, types.Model{ID: f.Name, Name: f.Name, Path: f.Path})
	}
	writeJSON(w, http.StatusOK, types.ListModelsResponse{Models: models})
}

func (h *handlers) modelsActive(w http.ResponseWriter, r *http.Request) {
	snap := h.eng.Models.Snapshot()
	writeJSON(w, http.StatusOK, types.ActiveModel{
		State:   string(snap.State),
		ModelID: snap.ModelID,
		Family:  snap.Family,
		Error:   snap.Err,
	})
}

func (h *handlers) modelsLoad(w http.ResponseWriter, r *http.Request) {
	var req types.LoadModelRequest
	if r.ContentLength != 0 {
		if !decodeJSON(w, r, &req) {
			return
		}
	}
	if strings.TrimSpace(req.ModelPath) == "" {
		writeJSONError(w, http.StatusBadRequest, "model_path is required")
		return
	}
	candidate := req.ModelPath
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(h.eng.Config().ModelsDir, candidate)
	}

	// Pre-stage the warm cache's stat lookup (spec §12's supplemented
	// VRAM-budget feature) before committing to the load; a stat failure
	// here just means no estimate gets logged, not a load failure, since
	// registry.ValidatePath inside Models.Load performs the real
	// existence check.
	if st, err := h.eng.Warm.Stat(candidate); err == nil && zlog != nil {
		gpuLayers := req.GPULayers
		if gpuLayers == 0 {
			gpuLayers = h.eng.Config().Lifecycle.GPULayers
		}
		vram := registry.EstimateVRAMMB(st.SizeBytes, gpuLayers, estimateTotalLayers(st.SizeBytes))
		zlog.Info().Str("path", candidate).Int64("estimated_vram_mb", vram).Msg("model load requested")
	}

	override := lifecycle.Config{GPULayers: req.GPULayers, ContextSize: req.ContextSize}
	SetSwapInProgress(true)
	defer SetSwapInProgress(false)
	if err := h.eng.Models.Load(candidate, override); err != nil {
		writeHTTPError(w, err)
		return
	}
	h.modelsActive(w, r)
}

// estimateTotalLayers is a rough constant used only for the informational
// VRAM estimate logged above; GGUF headers carry the real layer count but
// parsing them is the native backend's job (spec §1's scope boundary), not
// this HTTP layer's.
func estimateTotalLayers(sizeBytes int64) int {
	const bytesPerLayerEstimate = 200 * 1024 * 1024
	if sizeBytes <= 0 {
		return 32
	}
	layers := int(sizeBytes / bytesPerLayerEstimate)
	if layers < 1 {
		layers = 1
	}
	return layers
}

// modelsReload re-runs load against the currently active model's path
// with its currently active config (spec §4.4: "reload re-runs load with
// the currently active config"), picking up e.g. weights rewritten on
// disk at the same path. It takes no body.
func (h *handlers) modelsReload(w http.ResponseWriter, r *http.Request) {
	snap := h.eng.Models.Snapshot()
	if snap.ModelPath == "" {
		writeJSONError(w, http.StatusServiceUnavailable, "no model is currently loaded to reload")
		return
	}
	SetSwapInProgress(true)
	defer SetSwapInProgress(false)
	if err := h.eng.Models.Reload(snap.ModelPath); err != nil {
		writeHTTPError(w, err)
		return
	}
	h.modelsActive(w, r)
}

func (h *handlers) modelsUnload(w http.ResponseWriter, r *http.Request) {
	writeHTTPError(w, h.eng.Models.Unload())
}

func (h *handlers) embeddings(w http.ResponseWriter, r *http.Request) {
	// Delegated / out of core (spec §6): this server has no embedding
	// model loaded alongside the single active generation model, so the
	// endpoint exists for API-shape compatibility only.
	writeHTTPError(w, errs.NotImplemented("embeddings are delegated to an external service; not implemented by this server"))
}

func (h *handlers) generate(w http.ResponseWriter, r *http.Request) {
	var req types.GenerateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeJSONError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	if err := h.checkModelMatches(req.Model); err != nil {
		writeHTTPError(w, err)
		return
	}
	raw := samplingRawFromOptions(req.SamplingOptions)
	if _, err := sampling.New(raw); err != nil {
		writeHTTPError(w, err)
		return
	}
	j := job.New(r.Context(), job.Request{
		ModelID:    h.activeModelID(),
		Raw:        true,
		RawPrompt:  req.Prompt,
		Sampling:   raw,
		MaxTokens:  req.MaxTokens,
		Stream:     req.Stream,
		ExtraStops: req.Stop,
	})
	h.runJob(w, r, j, req.Stream)
}

func (h *handlers) chatCompletions(w http.ResponseWriter, r *http.Request) {
	var req types.ChatCompletionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Messages) == 0 {
		writeJSONError(w, http.StatusBadRequest, "messages is required")
		return
	}
	if err := h.checkModelMatches(req.Model); err != nil {
		writeHTTPError(w, err)
		return
	}
	raw := samplingRawFromOptions(req.SamplingOptions)
	if _, err := sampling.New(raw); err != nil {
		writeHTTPError(w, err)
		return
	}
	messages := make([]template.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, template.Message{Role: template.Role(m.Role), Content: m.Content})
	}
	j := job.New(r.Context(), job.Request{
		ModelID:    h.activeModelID(),
		Messages:   messages,
		Sampling:   raw,
		MaxTokens:  req.MaxTokens,
		Stream:     req.Stream,
		ExtraStops: req.Stop,
	})
	h.runJob(w, r, j, req.Stream)
}

// checkModelMatches enforces the single-active-model invariant against a
// caller-supplied model field: empty accepts whatever is active, a
// mismatched name is a 404 rather than silently serving the wrong model.
func (h *handlers) checkModelMatches(requested string) error {
	if requested == "" {
		return nil
	}
	snap := h.eng.Models.Snapshot()
	if snap.ModelID == "" || filepath.Base(snap.ModelID) != filepath.Base(requested) {
		return errs.ModelNotFound(requested)
	}
	return nil
}

func (h *handlers) activeModelID() string {
	return h.eng.Models.Snapshot().ModelID
}

// runJob admits j, then frames its event stream as SSE when stream is
// true or as a single accumulated JSON body otherwise (spec §4.7).
func (h *handlers) runJob(w http.ResponseWriter, r *http.Request, j *job.Job, stream bool) {
	lvl := requestLogLevel(r)
	start := time.Now()
	clientKey := r.RemoteAddr

	if err := h.eng.Admit(clientKey, j); err != nil {
		switch {
		case errs.Is(err, errs.KindQueueFull):
			IncrementBackpressure("queue_full")
		case errs.Is(err, errs.KindRateLimited):
			IncrementBackpressure("rate_limited")
		}
		writeHTTPError(w, err)
		return
	}

	if stream {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		var flush func()
		if f, ok := w.(http.Flusher); ok {
			flush = f.Flush
		}
		SetActiveGenerations(true)
		err := streaming.WriteSSE(w, flush, j.Request.ModelID, j.ID, j.Sink.Events())
		SetActiveGenerations(false)
		logJobEnd(lvl, r, "sse", start, err)
		return
	}

	SetActiveGenerations(true)
	acc, err := streaming.Accumulate(j.Sink.Events())
	SetActiveGenerations(false)
	if err != nil {
		if errs.Is(err, errs.KindBackend) {
			IncrementBackendErrors()
		}
		writeHTTPError(w, err)
		logJobEnd(lvl, r, "accumulate", start, err)
		return
	}
	if acc.CompletionTokens > 0 {
		ObserveTokensPerSecond(float64(acc.CompletionTokens) / time.Since(start).Seconds())
	}
	writeJSON(w, http.StatusOK, types.GenerateResponse{
		Text:             acc.Text,
		FinishReason:     acc.FinishReason,
		PromptTokens:     acc.PromptTokens,
		CompletionTokens: acc.CompletionTokens,
	})
	logJobEnd(lvl, r, "accumulate", start, nil)
}

func logJobEnd(lvl LogLevel, r *http.Request, mode string, start time.Time, err error) {
	if lvl < LevelInfo {
		return
	}
	dur := time.Since(start)
	if zlog != nil {
		z := zlog.Info().Str("path", r.URL.Path).Str("mode", mode).Dur("dur", dur)
		if rid := middleware.GetReqID(r.Context()); rid != "" {
			z = z.Str("request_id", rid)
		}
		if err != nil {
			z.Err(err).Msg("job end")
		} else {
			z.Msg("job end")
		}
	}
}

func samplingRawFromOptions(o types.SamplingOptions) sampling.Raw {
	defaults := sampling.Defaults()
	raw := sampling.Raw{
		Temperature:      float32(o.Temperature),
		TopK:             o.TopK,
		TopP:             float32(o.TopP),
		MinP:             float32(o.MinP),
		RepeatPenalty:    float32(o.RepeatPenalty),
		RepeatLastN:      o.RepeatLastN,
		PresencePenalty:  float32(o.PresencePenalty),
		FrequencyPenalty: float32(o.FrequencyPenalty),
		Mirostat:         o.Mirostat,
		MirostatTau:      float32(o.MirostatTau),
		MirostatEta:      float32(o.MirostatEta),
		Seed:             o.Seed,
	}
	if raw.Temperature == 0 {
		raw.Temperature = defaults.Temperature
	}
	if raw.TopP == 0 {
		raw.TopP = defaults.TopP
	}
	if raw.MinP == 0 {
		raw.MinP = defaults.MinP
	}
	if raw.RepeatPenalty == 0 {
		raw.RepeatPenalty = defaults.RepeatPenalty
	}
	if raw.MirostatTau == 0 {
		raw.MirostatTau = defaults.MirostatTau
	}
	if raw.MirostatEta == 0 {
		raw.MirostatEta = defaults.MirostatEta
	}
	return raw
}

// decodeJSON enforces the Content-Type and body-size checks the teacher's
// /infer handler applied, decoding into dst on success.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	ct := r.Header.Get("Content-Type")
	if ct != "" && !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && err != io.EOF {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeHTTPError maps an *errs.Error (or any HTTPError) to its status
// code; anything else is a 500, matching the teacher's HTTPError
// type-switch in NewMux's /infer handler.
func writeHTTPError(w http.ResponseWriter, err error) {
	if err == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	if he, ok := err.(HTTPError); ok {
		writeJSONError(w, he.StatusCode(), he.Error())
		return
	}
	writeJSONError(w, http.StatusInternalServerError, err.Error())
}
