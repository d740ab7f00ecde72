//go:build llama

package main

import (
	"exsaengine/internal/backend"
	"exsaengine/internal/backend/llamacpp"
)

// selectBackend links the CGO go-llama.cpp adapter when the binary is
// built with -tags=llama.
func selectBackend(threads int) (backend.Adapter, bool) {
	return llamacpp.NewAdapter(threads), true
}
