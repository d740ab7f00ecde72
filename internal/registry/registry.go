// Package registry scans a models directory for GGUF files and validates
// that a candidate load path is confined to that directory, the way the
// teacher's registry.LoadDir and the lifecycle manager's path checks did,
// combined here since spec §4.4 treats directory scanning and containment
// validation as one concern (the model lifecycle manager's path guard).
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"exsaengine/internal/common/fsutil"
	"exsaengine/internal/errs"
)

// ModelFile describes a discoverable GGUF file under the models directory.
type ModelFile struct {
	Name string // base file name, e.g. "llama-3.1-8b-instruct.Q4_K_M.gguf"
	Path string // absolute path
}

// List scans dir (expanding a leading "~") for *.gguf files, sorted by name.
func List(dir string) ([]ModelFile, error) {
	abs, err := resolveDir(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read models dir: %w", err)
	}
	var out []ModelFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".gguf") {
			continue
		}
		out = append(out, ModelFile{Name: name, Path: filepath.Join(abs, name)})
	}
	return out, nil
}

// ValidatePath enforces spec §4.4's load-path guard: the target must exist,
// end in .gguf, and canonicalize to a descendant of modelsDir.
func ValidatePath(modelsDir, candidate string) (string, error) {
	if strings.TrimSpace(candidate) == "" {
		return "", errs.InvalidModelPath("model path is empty")
	}
	if !strings.HasSuffix(strings.ToLower(candidate), ".gguf") {
		return "", errs.InvalidModelPath("model path must end in .gguf")
	}

	absCandidate, err := filepath.Abs(candidate)
	if err != nil {
		return "", errs.InvalidModelPath("cannot resolve model path")
	}
	resolved, err := filepath.EvalSymlinks(absCandidate)
	if err != nil {
		return "", errs.InvalidModelPath("model path does not exist")
	}
	if fi, err := os.Stat(resolved); err != nil || fi.IsDir() {
		return "", errs.InvalidModelPath("model path does not exist")
	}

	absDir, err := resolveDir(modelsDir)
	if err != nil {
		return "", errs.InvalidModelPath("models directory is not configured correctly")
	}
	resolvedDir, err := filepath.EvalSymlinks(absDir)
	if err != nil {
		return "", errs.InvalidModelPath("models directory does not exist")
	}

	rel, err := filepath.Rel(resolvedDir, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errs.InvalidModelPath("model path is outside the configured models directory")
	}
	return resolved, nil
}

// resolveDir expands "~" and returns an absolute path, without requiring
// the directory to exist yet (List/ValidatePath check existence themselves).
func resolveDir(dir string) (string, error) {
	expanded, err := fsutil.ExpandHome(dir)
	if err != nil {
		return "", err
	}
	return filepath.Abs(expanded)
}
