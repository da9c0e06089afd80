package attempt

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLockoutAndExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := NewMemory().WithClock(func() time.Time { return now })

	for i := 0; i < MaxFailures-1; i++ {
		require.NoError(t, tr.RecordFailure(ctx, "s1"))
		now = now.Add(time.Second)
	}
	locked, err := tr.IsLocked(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, locked, "nine failures must not lock")

	require.NoError(t, tr.RecordFailure(ctx, "s1"))
	locked, _ = tr.IsLocked(ctx, "s1")
	assert.True(t, locked)

	other, _ := tr.IsLocked(ctx, "s2")
	assert.False(t, other, "sessions are independent")

	now = now.Add(LockoutWindow - time.Second)
	locked, _ = tr.IsLocked(ctx, "s1")
	assert.True(t, locked)

	now = now.Add(2 * time.Second)
	locked, _ = tr.IsLocked(ctx, "s1")
	assert.False(t, locked)
	n, _ := tr.Count(ctx, "s1")
	assert.Zero(t, n)
}

func TestMemoryResetOnSuccess(t *testing.T) {
	ctx := context.Background()
	tr := NewMemory()
	for i := 0; i < MaxFailures; i++ {
		require.NoError(t, tr.RecordFailure(ctx, "s1"))
	}
	require.NoError(t, tr.Reset(ctx, "s1"))
	locked, _ := tr.IsLocked(ctx, "s1")
	assert.False(t, locked)
	n, _ := tr.Count(ctx, "s1")
	assert.Zero(t, n)
}

func TestMemoryConcurrentFailures(t *testing.T) {
	ctx := context.Background()
	tr := NewMemory()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tr.RecordFailure(ctx, "s1")
		}()
	}
	wg.Wait()
	n, _ := tr.Count(ctx, "s1")
	assert.Equal(t, 50, n)
}

func TestRedisLockoutAndExpiry(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	tr, err := NewRedis(RedisConfig{Addr: mr.Addr(), Prefix: "test:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	for i := 0; i < MaxFailures; i++ {
		require.NoError(t, tr.RecordFailure(ctx, "s1"))
	}
	locked, err := tr.IsLocked(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, locked)
	assert.True(t, mr.Exists("test:attempt:s1"))

	mr.FastForward(LockoutWindow - time.Second)
	locked, _ = tr.IsLocked(ctx, "s1")
	assert.True(t, locked)

	mr.FastForward(2 * time.Second)
	locked, err = tr.IsLocked(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, locked)
	n, _ := tr.Count(ctx, "s1")
	assert.Zero(t, n)

	require.NoError(t, tr.RecordFailure(ctx, "s1"))
	require.NoError(t, tr.Reset(ctx, "s1"))
	n, _ = tr.Count(ctx, "s1")
	assert.Zero(t, n)
}

func TestNewDriver(t *testing.T) {
	tr, err := New("", nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryTracker{}, tr)

	_, err = New(DriverRedis, nil)
	assert.Error(t, err)
	_, err = New("etcd", nil)
	assert.Error(t, err)
}
