package lifecycle

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"exsaengine/internal/backend"
	"exsaengine/internal/errs"
)

type fakeHandle struct{ closed bool }

func (h *fakeHandle) EOSToken() int32 { return 2 }
func (h *fakeHandle) VocabSize() int  { return 100 }
func (h *fakeHandle) Close() error    { h.closed = true; return nil }

type fakeContext struct{ closed bool }

func (c *fakeContext) Capacity() int { return 4096 }
func (c *fakeContext) Reset()        {}
func (c *fakeContext) Close() error  { c.closed = true; return nil }

type fakeAdapter struct {
	failLoad bool
	loaded   []*fakeHandle
}

func (a *fakeAdapter) Load(cfg backend.ModelConfig) (backend.Handle, error) {
	if a.failLoad {
		return nil, errs.ModelLoad(nil, "boom")
	}
	h := &fakeHandle{}
	a.loaded = append(a.loaded, h)
	return h, nil
}

func (a *fakeAdapter) NewContext(h backend.Handle, contextSize, batchSize int) (backend.Context, error) {
	return &fakeContext{}, nil
}

func (a *fakeAdapter) Tokenize(h backend.Handle, text string, addBOS bool) ([]int32, error) {
	return nil, nil
}

func (a *fakeAdapter) Generate(ctx context.Context, h backend.Handle, c backend.Context, p backend.GenerateParams, onToken backend.OnToken) (backend.Result, error) {
	return backend.Result{}, nil
}

func modelFile(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	return p
}

func TestLoadTransitionsEmptyToReady(t *testing.T) {
	dir := t.TempDir()
	path := modelFile(t, dir, "a.gguf")
	m := New(&fakeAdapter{}, dir, Config{ContextSize: 4096})
	require.Equal(t, Empty, m.Snapshot().State)
	require.NoError(t, m.Load(path))
	require.Equal(t, Ready, m.Snapshot().State)
}

func TestLoadFailureEntersFailedState(t *testing.T) {
	dir := t.TempDir()
	path := modelFile(t, dir, "a.gguf")
	m := New(&fakeAdapter{failLoad: true}, dir, Config{})
	err := m.Load(path)
	require.Error(t, err)
	require.Equal(t, Failed, m.Snapshot().State)
}

func TestLoadRejectsPathOutsideModelsDir(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	path := modelFile(t, outside, "a.gguf")
	m := New(&fakeAdapter{}, dir, Config{})
	err := m.Load(path)
	require.True(t, errs.Is(err, errs.KindInvalidModelPath))
}

func TestAcquireFailsBeforeFirstLoad(t *testing.T) {
	dir := t.TempDir()
	m := New(&fakeAdapter{}, dir, Config{})
	_, err := m.Acquire()
	require.True(t, errs.Is(err, errs.KindModelNotReady))
}

func TestReloadKeepsOutgoingHandleAliveUntilReleased(t *testing.T) {
	dir := t.TempDir()
	a := &fakeAdapter{}
	m := New(a, dir, Config{})
	require.NoError(t, m.Load(modelFile(t, dir, "a.gguf")))

	lease, err := m.Acquire()
	require.NoError(t, err)

	require.NoError(t, m.Reload(modelFile(t, dir, "b.gguf")))
	require.Equal(t, Ready, m.Snapshot().State)

	first := a.loaded[0]
	require.False(t, first.closed, "outgoing handle must stay open while leased")

	lease.Release()
	require.True(t, first.closed, "outgoing handle closes once the last lease releases")
}

func TestReloadRejectedWhileSwapGateBusy(t *testing.T) {
	dir := t.TempDir()
	a := &fakeAdapter{}
	m := New(a, dir, Config{})
	require.NoError(t, m.Load(modelFile(t, dir, "a.gguf")))
	m.SetSwapGate(func() error { return errs.Busy("in flight") })

	err := m.Reload(modelFile(t, dir, "b.gguf"))
	require.True(t, errs.Is(err, errs.KindBusy))
	require.Equal(t, Ready, m.Snapshot().State)
}

func TestLoadWhileReadyConsultsSwapGate(t *testing.T) {
	dir := t.TempDir()
	a := &fakeAdapter{}
	m := New(a, dir, Config{})
	require.NoError(t, m.Load(modelFile(t, dir, "a.gguf")))
	m.SetSwapGate(func() error { return errs.Busy("in flight") })

	err := m.Load(modelFile(t, dir, "b.gguf"))
	require.True(t, errs.Is(err, errs.KindBusy))
}

func TestUnloadIsNotImplemented(t *testing.T) {
	dir := t.TempDir()
	m := New(&fakeAdapter{}, dir, Config{})
	err := m.Unload()
	require.True(t, errs.Is(err, errs.KindNotImplemented))
}
