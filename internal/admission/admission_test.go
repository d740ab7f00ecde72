package admission

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"exsaengine/internal/errs"
	"exsaengine/internal/job"
)

func TestTryEnqueueFastPath(t *testing.T) {
	q := NewQueue(2)
	require.NoError(t, q.TryEnqueue(job.New(context.Background(), job.Request{})))
	require.NoError(t, q.TryEnqueue(job.New(context.Background(), job.Request{})))
}

func TestTryEnqueueRejectsWhenFull(t *testing.T) {
	q := NewQueue(1)
	require.NoError(t, q.TryEnqueue(job.New(context.Background(), job.Request{})))
	err := q.TryEnqueue(job.New(context.Background(), job.Request{}))
	require.True(t, errs.Is(err, errs.KindQueueFull))
}

func TestDequeueReturnsInFIFOOrder(t *testing.T) {
	q := NewQueue(4)
	j1 := job.New(context.Background(), job.Request{ModelID: "a"})
	j2 := job.New(context.Background(), job.Request{ModelID: "b"})
	require.NoError(t, q.TryEnqueue(j1))
	require.NoError(t, q.TryEnqueue(j2))

	stop := make(chan struct{})
	got1, ok := q.Dequeue(stop)
	require.True(t, ok)
	require.Equal(t, "a", got1.Request.ModelID)
	got2, ok := q.Dequeue(stop)
	require.True(t, ok)
	require.Equal(t, "b", got2.Request.ModelID)
}

func TestDequeueUnblocksOnStop(t *testing.T) {
	q := NewQueue(1)
	stop := make(chan struct{})
	close(stop)
	_, ok := q.Dequeue(stop)
	require.False(t, ok)
}

func TestStatsTracksDepthAndCounts(t *testing.T) {
	q := NewQueue(2)
	require.NoError(t, q.TryEnqueue(job.New(context.Background(), job.Request{})))
	require.Equal(t, 1, q.Stats().Depth)
	require.EqualValues(t, 1, q.Stats().TotalEnqueued)

	stop := make(chan struct{})
	q.Dequeue(stop)
	require.Equal(t, 0, q.Stats().Depth)
}

func TestRateLimiterAllowsWithinWindowThenBlocks(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	require.NoError(t, rl.CheckRateLimit("client-a"))
	require.NoError(t, rl.CheckRateLimit("client-a"))
	err := rl.CheckRateLimit("client-a")
	require.True(t, errs.Is(err, errs.KindRateLimited))
}

func TestRateLimiterTracksKeysIndependently(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	require.NoError(t, rl.CheckRateLimit("client-a"))
	require.NoError(t, rl.CheckRateLimit("client-b"))
}
