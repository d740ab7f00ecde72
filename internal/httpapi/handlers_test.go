package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"exsaengine/internal/backend"
	"exsaengine/internal/engine"
	"exsaengine/internal/lifecycle"
	"exsaengine/pkg/types"
)

type fakeHandle struct{}

func (fakeHandle) EOSToken() int32 { return 2 }
func (fakeHandle) VocabSize() int  { return 100 }
func (fakeHandle) Close() error    { return nil }

type fakeContext struct{}

func (fakeContext) Capacity() int { return 4096 }
func (fakeContext) Reset()        {}
func (fakeContext) Close() error  { return nil }

type fakeAdapter struct {
	pieces []string
}

func (a *fakeAdapter) Load(cfg backend.ModelConfig) (backend.Handle, error) {
	return fakeHandle{}, nil
}

func (a *fakeAdapter) NewContext(h backend.Handle, contextSize, batchSize int) (backend.Context, error) {
	return fakeContext{}, nil
}

func (a *fakeAdapter) Tokenize(h backend.Handle, text string, addBOS bool) ([]int32, error) {
	return make([]int32, len(text)), nil
}

func (a *fakeAdapter) Generate(ctx context.Context, h backend.Handle, c backend.Context, p backend.GenerateParams, onToken backend.OnToken) (backend.Result, error) {
	count := 0
	for _, piece := range a.pieces {
		if !onToken(backend.TokenPiece{Text: piece, Count: count}) {
			return backend.Result{Reason: backend.FinishStopString, CompletionTokens: count}, nil
		}
		count++
	}
	return backend.Result{Reason: backend.FinishEOS, CompletionTokens: count}, nil
}

func newTestMux(t *testing.T, pieces []string) (http.Handler, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "chatml-model.gguf")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	eng := engine.New(engine.Config{
		ModelsDir:    dir,
		Lifecycle:    lifecycle.Config{ContextSize: 4096},
		MaxQueueSize: 4,
	}, &fakeAdapter{pieces: pieces})
	require.NoError(t, eng.Start(path))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = eng.Shutdown(ctx)
	})
	return NewMux(eng), path
}

func TestHealthEndpoint(t *testing.T) {
	mux, _ := newTestMux(t, []string{"hi"})
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
	require.Equal(t, true, body["model_loaded"])
}

func TestModelsListEndpoint(t *testing.T) {
	mux, path := newTestMux(t, []string{"hi"})
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/models/list", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var body types.ListModelsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Models, 1)
	require.Equal(t, filepath.Base(path), body.Models[0].ID)
}

func TestGenerateAccumulatedResponse(t *testing.T) {
	mux, _ := newTestMux(t, []string{"hel", "lo"})
	body, _ := json.Marshal(types.GenerateRequest{Prompt: "hi"})
	req := httptest.NewRequest(http.MethodPost, "/v1/generate", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	var resp types.GenerateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "hello", resp.Text)
	require.Equal(t, "stop_eos", resp.FinishReason)
}

func TestGenerateRejectsEmptyPrompt(t *testing.T) {
	mux, _ := newTestMux(t, nil)
	body, _ := json.Marshal(types.GenerateRequest{Prompt: ""})
	req := httptest.NewRequest(http.MethodPost, "/v1/generate", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatCompletionsStreamsSSE(t *testing.T) {
	mux, _ := newTestMux(t, []string{"hi", "there"})
	body, _ := json.Marshal(types.ChatCompletionRequest{
		Messages: []types.ChatMessage{{Role: "user", Content: "hi"}},
		Stream:   true,
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Header().Get("Content-Type"), "text/event-stream")
	require.Contains(t, w.Body.String(), "data: [DONE]")
	require.True(t, strings.Contains(w.Body.String(), "chat.completion.chunk"))
}

func TestChatCompletionsRejectsUnknownModel(t *testing.T) {
	mux, _ := newTestMux(t, []string{"hi"})
	body, _ := json.Marshal(types.ChatCompletionRequest{
		Model:    "does-not-exist.gguf",
		Messages: []types.ChatMessage{{Role: "user", Content: "hi"}},
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestModelsUnloadNotImplemented(t *testing.T) {
	mux, _ := newTestMux(t, nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/models/unload", nil))
	require.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestEmbeddingsNotImplemented(t *testing.T) {
	mux, _ := newTestMux(t, nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/embeddings", strings.NewReader(`{}`)))
	require.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestModelsReloadSucceedsWithLoadedModel(t *testing.T) {
	mux, _ := newTestMux(t, nil)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/models/reload", nil)
	mux.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code) // model is loaded by newTestMux's Start
}
