package registry

import (
	"os"
	"sync"
	"time"
)

// Stat is a cached filesystem observation about a candidate model file:
// its size (the input to a VRAM estimate) and when it was last touched by
// a load/reload request.
type Stat struct {
	Path       string
	SizeBytes  int64
	LastUsed   time.Time
}

// WarmCache is a bounded, least-recently-used cache of model file stats,
// consulted by POST /v1/models/load before a swap to report an estimated
// footprint without re-stat-ing the same file on every request. It never
// holds a loaded model handle: spec §4.4 mandates exactly one active
// handle, so this cache only pre-stages metadata for the load path, never
// backend state — adapted from the teacher's evictUntilFits LRU-idle
// eviction over live Instances (internal/manager/evict.go) into an
// eviction over plain stat entries, since this repo has no multi-instance
// pool to evict from.
type WarmCache struct {
	mu       sync.Mutex
	capacity int
	order    []string // most-recently-used at the end
	entries  map[string]Stat
}

// NewWarmCache creates a cache holding at most capacity entries.
func NewWarmCache(capacity int) *WarmCache {
	if capacity <= 0 {
		capacity = 8
	}
	return &WarmCache{capacity: capacity, entries: make(map[string]Stat, capacity)}
}

// Stat returns cached size/last-used info for path, stat-ing the file and
// inserting a fresh entry (evicting the LRU entry if the cache is full) on
// a miss.
func (c *WarmCache) Stat(path string) (Stat, error) {
	c.mu.Lock()
	if s, ok := c.entries[path]; ok {
		c.touchLocked(path)
		c.mu.Unlock()
		return s, nil
	}
	c.mu.Unlock()

	fi, err := os.Stat(path)
	if err != nil {
		return Stat{}, err
	}
	s := Stat{Path: path, SizeBytes: fi.Size(), LastUsed: time.Now()}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.capacity {
		c.evictLRULocked()
	}
	c.entries[path] = s
	c.order = append(c.order, path)
	return s, nil
}

// EstimateVRAMMB returns a rough per-layer VRAM estimate for a model of
// the given on-disk size offloading gpuLayers layers, used only for the
// log line POST /v1/models/load writes (spec §3's ModelConfig carries gpu_layers;
// nothing downstream enforces this estimate as a hard budget check in the
// core, matching spec §1's scope: the native backend owns the real
// allocation decision).
func EstimateVRAMMB(sizeBytes int64, gpuLayers, totalLayers int) int64 {
	if totalLayers <= 0 || gpuLayers <= 0 {
		return 0
	}
	if gpuLayers > totalLayers {
		gpuLayers = totalLayers
	}
	sizeMB := sizeBytes / (1024 * 1024)
	return sizeMB * int64(gpuLayers) / int64(totalLayers)
}

func (c *WarmCache) touchLocked(path string) {
	for i, p := range c.order {
		if p == path {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.order = append(c.order, path)
	s := c.entries[path]
	s.LastUsed = time.Now()
	c.entries[path] = s
}

func (c *WarmCache) evictLRULocked() {
	if len(c.order) == 0 {
		return
	}
	lru := c.order[0]
	c.order = c.order[1:]
	delete(c.entries, lru)
}

// Len reports the number of cached entries, for tests and status
// reporting.
func (c *WarmCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
