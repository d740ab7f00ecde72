package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadFileYAML(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte("model_path: /models/a.gguf\ncontext_size: 8192\n"), 0o644))

	cfg, err := LoadFile(p)
	require.NoError(t, err)
	require.Equal(t, "/models/a.gguf", cfg.ModelPath)
	require.Equal(t, 8192, cfg.ContextSize)
}

func TestLoadFileTOML(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.toml")
	require.NoError(t, os.WriteFile(p, []byte("model_path = \"/models/b.gguf\"\nport = 4000\n"), 0o644))

	cfg, err := LoadFile(p)
	require.NoError(t, err)
	require.Equal(t, "/models/b.gguf", cfg.ModelPath)
	require.Equal(t, 4000, cfg.Port)
}

func TestLoadFileUnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.ini")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))

	_, err := LoadFile(p)
	require.Error(t, err)
}

func TestFromEnvOverridesFile(t *testing.T) {
	t.Setenv("MODEL_PATH", "/env/model.gguf")
	t.Setenv("PORT", "9090")
	t.Setenv("ENABLE_CORS", "true")

	base := Config{ModelPath: "/file/model.gguf", Port: 3000}
	cfg := FromEnv(base)
	require.Equal(t, "/env/model.gguf", cfg.ModelPath)
	require.Equal(t, 9090, cfg.Port)
	require.True(t, cfg.EnableCORS)
}

func TestFromEnvIgnoresInvalidInts(t *testing.T) {
	t.Setenv("PORT", "not-a-number")
	cfg := FromEnv(Config{Port: 1234})
	require.Equal(t, 1234, cfg.Port)
}

func TestResolveDefaults(t *testing.T) {
	cfg := Resolve(Config{})
	require.Equal(t, DefaultContextSize, cfg.ContextSize)
	require.Equal(t, cfg.ContextSize, cfg.BatchSize)
	require.Equal(t, DefaultHost, cfg.Host)
	require.Equal(t, DefaultPort, cfg.Port)
	require.Equal(t, DefaultMaxQueueSize, cfg.MaxQueueSize)
	require.Equal(t, DefaultRateLimitWindow, cfg.RateLimitWindow)
	require.NotEmpty(t, cfg.ModelsDir)
	require.Equal(t, "info", cfg.LogLevel)
}

func TestResolveKeepsExplicitValues(t *testing.T) {
	cfg := Resolve(Config{ContextSize: 2048, BatchSize: 512, Port: 8081})
	require.Equal(t, 2048, cfg.ContextSize)
	require.Equal(t, 512, cfg.BatchSize)
	require.Equal(t, 8081, cfg.Port)
}
