package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luki/simtemp/internal/sample"
)

func mk(i int) sample.Sample {
	return sample.Sample{Timestamp: uint64(i), TempMC: int32(40000 + i), Flags: sample.FlagNew}
}

func TestRingFIFOAndCapacity(t *testing.T) {
	r := New()

	for i := 0; i < Capacity; i++ {
		require.True(t, r.Enqueue(mk(i)), "enqueue %d within capacity", i)
	}
	require.Equal(t, Capacity, r.Len())
	require.Equal(t, uint32(100), r.Usage())

	require.False(t, r.Enqueue(mk(Capacity)), "65th enqueue must fail")
	require.Equal(t, Capacity, r.Len(), "failed enqueue must not evict")

	for i := 0; i < Capacity; i++ {
		s, ok := r.Dequeue()
		require.True(t, ok)
		require.Equal(t, mk(i), s, "dequeue order")
	}

	_, ok := r.Dequeue()
	require.False(t, ok)
	require.Equal(t, 0, r.Len())
}

func TestRingWrapAround(t *testing.T) {
	r := New()
	next := 0
	want := 0
	for round := 0; round < 5; round++ {
		for i := 0; i < 40; i++ {
			require.True(t, r.Enqueue(mk(next)))
			next++
		}
		for i := 0; i < 40; i++ {
			s, ok := r.Dequeue()
			require.True(t, ok)
			require.Equal(t, uint64(want), s.Timestamp)
			want++
		}
	}
}

func TestRingClear(t *testing.T) {
	r := New()
	for i := 0; i < 10; i++ {
		r.Enqueue(mk(i))
	}
	require.Equal(t, 10, r.Clear())
	require.Equal(t, 0, r.Len())
	_, ok := r.Dequeue()
	require.False(t, ok)

	require.True(t, r.Enqueue(mk(99)))
	s, ok := r.Dequeue()
	require.True(t, ok)
	require.Equal(t, uint64(99), s.Timestamp)
}

func TestRingConcurrentConsumersNoDuplicates(t *testing.T) {
	r := New()
	for i := 0; i < Capacity; i++ {
		r.Enqueue(mk(i))
	}

	var (
		mu   sync.Mutex
		seen = make(map[uint64]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				s, ok := r.Dequeue()
				if !ok {
					return
				}
				mu.Lock()
				seen[s.Timestamp]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, Capacity)
	for ts, n := range seen {
		require.Equal(t, 1, n, "sample %d delivered %d times", ts, n)
	}
}
