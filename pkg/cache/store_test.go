package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelter-engine/pkg/logger"
)

func TestStoreTTL(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New(WithClock(func() time.Time { return now }))

	s.SetWithTTL("units", []string{"u001"}, time.Minute)
	s.Set("forever", 1)

	v, ok := Get[[]string](s, "units")
	require.True(t, ok)
	assert.Equal(t, []string{"u001"}, v)

	now = now.Add(2 * time.Minute)
	_, ok = s.Get("units")
	assert.False(t, ok, "entry should expire after its TTL")

	_, ok = s.Get("forever")
	assert.True(t, ok)

	stats := s.Stats()
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestTypedGetMismatch(t *testing.T) {
	s := New()
	s.Set("k", "text")

	_, ok := Get[int](s, "k")
	assert.False(t, ok)
}

func TestSweepNamespace(t *testing.T) {
	s := New()
	s.Set("resolve:a", 1)
	s.Set("resolve:b", 2)
	s.Set("units:all", 3)

	assert.Equal(t, 2, s.Sweep("resolve:"))
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 1, s.Sweep(""))
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, uint64(2), s.Stats().Sweeps)
}

func TestRunSweeperStopsWithContext(t *testing.T) {
	s := New()
	s.Set("resolve:a", 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.RunSweeper(ctx, "resolve:", 5*time.Millisecond, logger.NewMockLogger())
		close(done)
	}()

	require.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}

func TestConcurrentAccess(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Set("resolve:k", j)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Get("resolve:k")
				s.ClearPrefix("resolve:")
			}
		}()
	}
	wg.Wait()
}
