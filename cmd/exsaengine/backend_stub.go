//go:build !llama

package main

import (
	"exsaengine/internal/backend"
	"exsaengine/internal/backend/stub"
)

// selectBackend links the no-CGO stub when the binary is built without
// -tags=llama, matching the teacher's adapter_llama.go/adapter_llama_stub.go
// split.
func selectBackend(threads int) (backend.Adapter, bool) {
	return stub.NewAdapter(), false
}
