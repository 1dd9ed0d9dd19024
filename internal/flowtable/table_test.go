package flowtable

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/festats/internal/core"
)

type counter struct{ n int }

func TestGetOrCreate(t *testing.T) {
	tbl := New[counter](Config{MaxEntries: 10})

	calls := 0
	init := func() counter { calls++; return counter{n: 100} }

	e, err := tbl.GetOrCreate(7, init)
	require.NoError(t, err)
	assert.Equal(t, 100, e.Value.n)
	e.Value.n++

	again, err := tbl.GetOrCreate(7, init)
	require.NoError(t, err)
	assert.Same(t, e, again)
	assert.Equal(t, 101, again.Value.n)
	assert.Equal(t, 1, calls)

	got, ok := tbl.Get(7)
	assert.True(t, ok)
	assert.Same(t, e, got)
	_, ok = tbl.Get(8)
	assert.False(t, ok)

	st := tbl.Stats()
	assert.Equal(t, Stats{Entries: 1, Hits: 1, Misses: 1}, st)
}

func TestTableFull(t *testing.T) {
	tbl := New[int](Config{MaxEntries: 3})
	for k := uint32(0); k < 3; k++ {
		_, err := tbl.GetOrCreate(k, nil)
		require.NoError(t, err)
	}

	_, err := tbl.GetOrCreate(99, nil)
	assert.ErrorIs(t, err, core.ErrTableFull)
	assert.Equal(t, uint64(1), tbl.Stats().Rejected)

	// existing keys still resolve
	_, err = tbl.GetOrCreate(1, nil)
	assert.NoError(t, err)

	tbl.Delete(1)
	_, err = tbl.GetOrCreate(99, nil)
	assert.NoError(t, err)
	assert.Equal(t, 3, tbl.Len())
}

func TestTableFullSweepsIdleKeys(t *testing.T) {
	tbl := New[int](Config{
		MaxEntries:      2,
		IdleTimeout:     50 * time.Millisecond,
		CleanupInterval: time.Hour,
	})
	for k := uint32(0); k < 2; k++ {
		_, err := tbl.GetOrCreate(k, nil)
		require.NoError(t, err)
	}
	time.Sleep(120 * time.Millisecond)

	_, err := tbl.GetOrCreate(7, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, tbl.Len())
	st := tbl.Stats()
	assert.Zero(t, st.Rejected)
	assert.Equal(t, uint64(2), st.Evicted)
}

func TestDeleteCallsOnEvict(t *testing.T) {
	var evicted []uint32
	tbl := New[int](Config{OnEvict: func(k uint32) { evicted = append(evicted, k) }})
	_, _ = tbl.GetOrCreate(42, nil)
	_, _ = tbl.GetOrCreate(0xFFFFFFFF, nil)

	tbl.Delete(42)
	tbl.Delete(0xFFFFFFFF)
	assert.Equal(t, []uint32{42, 0xFFFFFFFF}, evicted)
	assert.Equal(t, uint64(2), tbl.Stats().Evicted)

	_, _ = tbl.GetOrCreate(1, nil)
	tbl.Flush()
	assert.Zero(t, tbl.Len())
	assert.Len(t, evicted, 2, "flush does not report evictions")
}

func TestIdleExpiry(t *testing.T) {
	var mu sync.Mutex
	var evicted []uint32
	tbl := New[int](Config{
		IdleTimeout:     200 * time.Millisecond,
		CleanupInterval: time.Hour,
		OnEvict: func(k uint32) {
			mu.Lock()
			evicted = append(evicted, k)
			mu.Unlock()
		},
	})

	_, err := tbl.GetOrCreate(1, nil)
	require.NoError(t, err)
	_, err = tbl.GetOrCreate(2, nil)
	require.NoError(t, err)

	// keep key 2 alive past key 1's deadline
	for i := 0; i < 5; i++ {
		time.Sleep(60 * time.Millisecond)
		_, ok := tbl.Get(2)
		require.True(t, ok)
	}
	tbl.Purge()

	_, ok := tbl.Get(1)
	assert.False(t, ok)
	_, ok = tbl.Get(2)
	assert.True(t, ok)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint32{1}, evicted)
}

func TestConcurrentGetOrCreateSingleEntry(t *testing.T) {
	tbl := New[int](Config{MaxEntries: 100})
	var wg sync.WaitGroup
	entries := make([]*Entry[int], 32)
	for i := range entries {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := tbl.GetOrCreate(5, nil)
			if err != nil {
				return
			}
			e.Lock()
			e.Value++
			e.Unlock()
			entries[i] = e
		}(i)
	}
	wg.Wait()

	for _, e := range entries {
		assert.Same(t, entries[0], e)
	}
	assert.Equal(t, 32, entries[0].Value)
	assert.Equal(t, 1, tbl.Len())
}

func BenchmarkGetOrCreateHit(b *testing.B) {
	tbl := New[int](Config{MaxEntries: 1 << 20, IdleTimeout: time.Minute})
	for k := uint32(0); k < 1024; k++ {
		_, _ = tbl.GetOrCreate(k, nil)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = tbl.GetOrCreate(uint32(i)&1023, nil)
	}
}
