// Package lifecycle implements the model lifecycle manager from spec
// §4.4: a single active model slot moving through Empty, Loading, Ready,
// Swapping and Failed, with refcounted handles so in-flight jobs keep
// draining against a retired handle while a swap is in progress. This
// generalizes the teacher's per-instance State field in
// internal/manager/types.go (State/Instance) from a multi-instance map
// into the single-active-model state machine spec §4.4 calls for, and
// folds in internal/registry's path containment check spec §4.4 reuses
// for load validation.
package lifecycle

import (
	"sync"

	"exsaengine/internal/backend"
	"exsaengine/internal/errs"
	"exsaengine/internal/registry"
	"exsaengine/internal/template"
)

// State is the lifecycle manager's state machine position (spec §4.4).
type State string

const (
	Empty    State = "empty"
	Loading  State = "loading"
	Ready    State = "ready"
	Swapping State = "swapping"
	Failed   State = "failed"
)

// Info is the read-only projection spec §6's /v1/model/info and
// /v1/status endpoints serve.
type Info struct {
	State       State
	ModelID     string
	ModelPath   string
	Family      string
	ContextSize int
	GPULayers   int
	Err         string
}

// refHandle wraps a backend.Handle with a reference count; the manager keeps
// retired handles alive until every job that acquired them releases its
// reference, then closes the native model.
type refHandle struct {
	h        backend.Handle
	ctx      backend.Context
	path     string
	modelID  string
	refs     int
	retiring bool
}

// Manager owns the single active model slot. mu guards the state machine
// transition; refHandle refcounting uses its own counter under the same
// lock, mirroring the teacher's single m.mu guarding both Instance.State
// and the queue primitives.
type Manager struct {
	mu    sync.RWMutex
	state State
	cur   *refHandle
	errMsg string

	adapter   backend.Adapter
	modelsDir string
	cfg       Config
	swapGate  func() error
}

// SetSwapGate installs the check spec §4.4 requires before a Ready model
// may be swapped: "AND the admission queue is empty AND no job is in
// flight". The gate is only consulted when swapping an already-Ready
// model; the initial Empty→Loading transition at startup never needs it.
// Wired by the lifecycle orchestrator (spec §4.8) from admission.Queue.Stats
// and worker.Worker.Busy, which lifecycle intentionally does not import
// directly (spec §9's inversion: the lifecycle manager does not "know"
// the admission layer or worker).
func (m *Manager) SetSwapGate(fn func() error) {
	m.mu.Lock()
	m.swapGate = fn
	m.mu.Unlock()
}

// Config carries the context/batch sizing spec §3 attaches to a loaded
// model.
type Config struct {
	ContextSize int
	BatchSize   int
	GPULayers   int
}

func New(adapter backend.Adapter, modelsDir string, cfg Config) *Manager {
	return &Manager{state: Empty, adapter: adapter, modelsDir: modelsDir, cfg: cfg}
}

func (m *Manager) Snapshot() Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info := Info{
		State:       m.state,
		Err:         m.errMsg,
		ContextSize: m.cfg.ContextSize,
		GPULayers:   m.cfg.GPULayers,
	}
	if m.cur != nil {
		info.ModelID = m.cur.modelID
		info.ModelPath = m.cur.path
		info.Family = string(template.DetectFamily(m.cur.modelID))
	}
	return info
}

// effectiveConfig overlays any non-zero fields of override onto m.cfg,
// letting POST /v1/models/load's optional gpu_layers/context_size (spec
// §6) win for this one load without mutating the manager's baseline
// config for subsequent loads that omit them.
func (m *Manager) effectiveConfig(override Config) Config {
	cfg := m.cfg
	if override.GPULayers != 0 {
		cfg.GPULayers = override.GPULayers
	}
	if override.ContextSize != 0 {
		cfg.ContextSize = override.ContextSize
	}
	if override.BatchSize != 0 {
		cfg.BatchSize = override.BatchSize
	}
	return cfg
}

// Load validates candidate against modelsDir containment, then loads it
// as the new active model. Concurrent calls to Load/Reload are rejected
// with errs.Busy while already Loading or Swapping, matching spec §4.4's
// single-writer invariant on the state machine. An optional overrides
// Config supplies per-call gpu_layers/context_size/batch_size (spec §6's
// /v1/models/load body); omit it to use the manager's baseline Config.
func (m *Manager) Load(candidate string, overrides ...Config) error {
	validated, err := registry.ValidatePath(m.modelsDir, candidate)
	if err != nil {
		return err
	}
	var override Config
	if len(overrides) > 0 {
		override = overrides[0]
	}

	m.mu.Lock()
	if m.state == Loading || m.state == Swapping {
		m.mu.Unlock()
		return errs.Busy("a load is already in progress")
	}
	if m.state == Ready {
		if err := m.checkSwapGateLocked(); err != nil {
			m.mu.Unlock()
			return err
		}
	}
	prevState := m.state
	m.state = Loading
	cfg := m.effectiveConfig(override)
	m.mu.Unlock()

	h, err := m.adapter.Load(backend.ModelConfig{
		Path:        validated,
		GPULayers:   cfg.GPULayers,
		ContextSize: cfg.ContextSize,
		BatchSize:   cfg.BatchSize,
	})
	if err != nil {
		m.mu.Lock()
		m.state = Failed
		m.errMsg = err.Error()
		m.mu.Unlock()
		return err
	}
	ctx, err := m.adapter.NewContext(h, cfg.ContextSize, cfg.BatchSize)
	if err != nil {
		_ = h.Close()
		m.mu.Lock()
		m.state = Failed
		m.errMsg = err.Error()
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	_ = prevState
	if retiring := m.cur; retiring != nil {
		retiring.retiring = true
		if retiring.refs == 0 {
			m.closeLocked(retiring)
		}
	}
	m.cur = &refHandle{h: h, ctx: ctx, path: validated, modelID: validated}
	m.state = Ready
	m.errMsg = ""
	m.cfg = cfg
	m.mu.Unlock()
	return nil
}

// Reload swaps the active model for candidate: the old handle is marked
// retiring so jobs that already acquired it may finish. While Swapping,
// Acquire keeps handing out the outgoing handle; once the new model is
// Ready, Acquire returns the new one. See Load for the semantics of
// overrides.
func (m *Manager) Reload(candidate string, overrides ...Config) error {
	validated, err := registry.ValidatePath(m.modelsDir, candidate)
	if err != nil {
		return err
	}
	var override Config
	if len(overrides) > 0 {
		override = overrides[0]
	}

	m.mu.Lock()
	if m.state == Loading || m.state == Swapping {
		m.mu.Unlock()
		return errs.Busy("a load is already in progress")
	}
	if err := m.checkSwapGateLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	retiring := m.cur
	m.state = Swapping
	cfg := m.effectiveConfig(override)
	m.mu.Unlock()

	h, err := m.adapter.Load(backend.ModelConfig{
		Path:        validated,
		GPULayers:   cfg.GPULayers,
		ContextSize: cfg.ContextSize,
		BatchSize:   cfg.BatchSize,
	})
	if err != nil {
		m.mu.Lock()
		m.state = Ready
		if m.cur == nil {
			m.state = Failed
		}
		m.errMsg = err.Error()
		m.mu.Unlock()
		return err
	}
	ctx, err := m.adapter.NewContext(h, cfg.ContextSize, cfg.BatchSize)
	if err != nil {
		_ = h.Close()
		m.mu.Lock()
		m.state = Ready
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	if retiring != nil {
		retiring.retiring = true
		if retiring.refs == 0 {
			m.closeLocked(retiring)
		}
	}
	m.cur = &refHandle{h: h, ctx: ctx, path: validated, modelID: validated}
	m.state = Ready
	m.errMsg = ""
	m.cfg = cfg
	m.mu.Unlock()
	return nil
}

// Unload is not implemented: spec §4.4 lists it as a Non-goal for the
// single-active-model slot (there is no meaningful "no model" serving
// state beyond the initial Empty one reached only before the first Load).
func (m *Manager) Unload() error {
	return errs.NotImplemented("unload is not supported; load a replacement model instead")
}

// Lease is an acquired reference to the currently active (or still
// draining) model handle. Callers must call Release exactly once.
type Lease struct {
	mgr *Manager
	rh  *refHandle
}

func (l *Lease) Handle() backend.Handle   { return l.rh.h }
func (l *Lease) Context() backend.Context { return l.rh.ctx }

func (l *Lease) Release() {
	l.mgr.mu.Lock()
	defer l.mgr.mu.Unlock()
	l.rh.refs--
	if l.rh.retiring && l.rh.refs == 0 {
		l.mgr.closeLocked(l.rh)
	}
}

// Acquire returns a Lease against the active model. Ready and Swapping
// (against the outgoing handle) both permit acquisition so in-flight jobs
// keep draining during a swap, per spec §4.4's refcounting requirement.
func (m *Manager) Acquire() (*Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case Empty, Loading:
		return nil, errs.ModelNotReady("no model is currently loaded")
	case Failed:
		return nil, errs.ModelNotReady("model failed to load: " + m.errMsg)
	}
	if m.cur == nil {
		return nil, errs.ModelNotReady("no model is currently loaded")
	}
	m.cur.refs++
	return &Lease{mgr: m, rh: m.cur}, nil
}

// checkSwapGateLocked runs the installed swap gate, if any. Caller must
// hold m.mu.
func (m *Manager) checkSwapGateLocked() error {
	if m.swapGate == nil {
		return nil
	}
	return m.swapGate()
}

// closeLocked releases a retired handle's native resources. Caller must
// hold m.mu.
func (m *Manager) closeLocked(rh *refHandle) {
	_ = rh.ctx.Close()
	_ = rh.h.Close()
}
