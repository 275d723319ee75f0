package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_FixedWindow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore(0)
	defer s.Close()

	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	window := time.Minute

	for i := 1; i <= 3; i++ {
		c, err := s.Incr(ctx, "1.2.3.4", window, start.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		assert.Equal(t, i, c.Count)
		assert.Equal(t, start.Add(time.Second), c.WindowStart)
	}

	// exactly window past the start still counts toward the same window
	c, err := s.Incr(ctx, "1.2.3.4", window, start.Add(time.Second+window))
	require.NoError(t, err)
	assert.Equal(t, 4, c.Count)

	later := start.Add(time.Second + window + time.Millisecond)
	c, err = s.Incr(ctx, "1.2.3.4", window, later)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Count)
	assert.Equal(t, later, c.WindowStart)
}

func TestMemoryStore_KeysAreIndependent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore(0)
	defer s.Close()

	now := time.Now()
	_, err := s.Incr(ctx, "a", time.Minute, now)
	require.NoError(t, err)
	_, err = s.Incr(ctx, "a", time.Minute, now)
	require.NoError(t, err)

	c, err := s.Incr(ctx, "b", time.Minute, now)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Count)
	assert.Equal(t, 2, s.Len())
}

func TestMemoryStore_Sweep(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore(0)
	defer s.Close()

	now := time.Now()
	_, err := s.Incr(ctx, "old", time.Minute, now.Add(-2*time.Minute))
	require.NoError(t, err)
	_, err = s.Incr(ctx, "fresh", time.Minute, now)
	require.NoError(t, err)

	s.Sweep(time.Minute, now)
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStore_ConcurrentIncr(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore(0)
	defer s.Close()

	now := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Incr(ctx, "k", time.Minute, now)
		}()
	}
	wg.Wait()

	c, err := s.Incr(ctx, "k", time.Minute, now)
	require.NoError(t, err)
	assert.Equal(t, 51, c.Count)
}

func TestMemoryStore_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore(time.Hour)
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}
