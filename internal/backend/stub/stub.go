// Package stub is the default (non-CGO) backend.Adapter implementation. It
// satisfies the interface but refuses to run inference, mirroring the
// teacher's adapter_llama_stub.go: production binaries built without the
// "llama" build tag must fail loudly rather than fabricate generated text.
package stub

import (
	"context"

	"exsaengine/internal/backend"
	"exsaengine/internal/errs"
)

// Adapter is the no-CGO backend.Adapter. NewAdapter is the constructor
// wired by cmd/exsaengine when built without -tags=llama.
type Adapter struct{}

func NewAdapter() *Adapter { return &Adapter{} }

func (a *Adapter) Load(cfg backend.ModelConfig) (backend.Handle, error) {
	return nil, errs.Backend(nil, "native backend not built (missing 'llama' build tag)")
}

func (a *Adapter) NewContext(h backend.Handle, contextSize, batchSize int) (backend.Context, error) {
	return nil, errs.Backend(nil, "native backend not built (missing 'llama' build tag)")
}

func (a *Adapter) Tokenize(h backend.Handle, text string, addBOS bool) ([]int32, error) {
	return nil, errs.Backend(nil, "native backend not built (missing 'llama' build tag)")
}

func (a *Adapter) Generate(goCtx context.Context, h backend.Handle, c backend.Context, p backend.GenerateParams, onToken backend.OnToken) (backend.Result, error) {
	select {
	case <-goCtx.Done():
		return backend.Result{Reason: backend.FinishCancelled}, goCtx.Err()
	default:
	}
	return backend.Result{}, errs.Backend(nil, "native backend not built (missing 'llama' build tag)")
}
