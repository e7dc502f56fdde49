package locker

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTryAcquire_ExclusivePerKey(t *testing.T) {
	t.Parallel()

	k := New()
	require.True(t, k.TryAcquire("source-1"))
	require.False(t, k.TryAcquire("source-1"))
	require.True(t, k.Held("source-1"))

	k.Release("source-1")
	require.False(t, k.Held("source-1"))
	require.True(t, k.TryAcquire("source-1"))
}

func TestTryAcquire_IndependentKeys(t *testing.T) {
	t.Parallel()

	k := New()
	require.True(t, k.TryAcquire("source-1"))
	require.True(t, k.TryAcquire("source-2"))
}

func TestRelease_UnheldKeyIsNoOp(t *testing.T) {
	t.Parallel()

	k := New()
	k.Release("never-acquired")
	require.True(t, k.TryAcquire("never-acquired"))
}

func TestTryAcquire_SingleWinnerUnderContention(t *testing.T) {
	t.Parallel()

	k := New()
	const goroutines = 32

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if k.TryAcquire("contested") {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, winners)
}
