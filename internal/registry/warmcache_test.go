package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWarmCacheStatCachesAndEvicts(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i := 0; i < 3; i++ {
		p := filepath.Join(dir, string(rune('a'+i))+".gguf")
		require.NoError(t, os.WriteFile(p, []byte("xxxx"), 0o644))
		paths = append(paths, p)
	}

	c := NewWarmCache(2)
	for _, p := range paths[:2] {
		_, err := c.Stat(p)
		require.NoError(t, err)
	}
	require.Equal(t, 2, c.Len())

	// Third insert evicts the LRU entry (paths[0]).
	_, err := c.Stat(paths[2])
	require.NoError(t, err)
	require.Equal(t, 2, c.Len())

	c.mu.Lock()
	_, stillHas := c.entries[paths[0]]
	c.mu.Unlock()
	require.False(t, stillHas)
}

func TestWarmCacheStatMissingFile(t *testing.T) {
	c := NewWarmCache(4)
	_, err := c.Stat(filepath.Join(t.TempDir(), "missing.gguf"))
	require.Error(t, err)
}

func TestEstimateVRAMMB(t *testing.T) {
	require.Equal(t, int64(0), EstimateVRAMMB(1<<30, 0, 32))
	require.Equal(t, int64(0), EstimateVRAMMB(1<<30, 16, 0))
	got := EstimateVRAMMB(1024*1024*1000, 16, 32)
	require.Equal(t, int64(500), got)
	// gpuLayers clamps to totalLayers
	got2 := EstimateVRAMMB(1024*1024*1000, 64, 32)
	require.Equal(t, int64(1000), got2)
}
