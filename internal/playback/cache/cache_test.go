package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type memDisk struct {
	mu   sync.Mutex
	data map[uint64][]byte
}

func newMemDisk() *memDisk { return &memDisk{data: make(map[uint64][]byte)} }

func (m *memDisk) Get(_ context.Context, fp uint64) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.data[fp]
	return d, ok, nil
}

func (m *memDisk) Put(_ context.Context, fp uint64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[fp] = data
	return nil
}

func (m *memDisk) Reconcile(context.Context) error { return nil }

// S1: cache hit, then eviction, then disk promotion.
func TestCacheHitEvictPromote(t *testing.T) {
	disk := newMemDisk()
	c := New(Config{L1SizeCap: 2 * 1024 * 1024}, disk, false)

	const fpF = 1
	b := make([]byte, 1024*1024)
	c.Insert(fpF, b)

	got, ok := c.Get(fpF)
	require.True(t, ok)
	assert.Equal(t, b, got)

	// Fill past the cap with distinct fingerprints to force eviction of F.
	for i := uint64(2); i < 10; i++ {
		c.Insert(i, make([]byte, 1024*1024))
	}

	_, ok = c.Get(fpF)
	assert.False(t, ok, "F should have been evicted from L1")

	fromDisk, ok, err := c.GetFromDisk(context.Background(), fpF)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, b, fromDisk)

	// Promotion means a subsequent L1-only Get now hits.
	_, ok = c.Get(fpF)
	assert.True(t, ok)
}

// Property #2: LRU correctness.
func TestPropertyLRUCorrectness(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		cap := int64(rapid.IntRange(1000, 10000).Draw(rt, "cap"))
		c := New(Config{L1SizeCap: cap}, nil, false)

		n := rapid.IntRange(1, 30).Draw(rt, "n")
		sizes := make([]int64, n)
		for i := range sizes {
			sizes[i] = int64(rapid.IntRange(1, int(cap)).Draw(rt, fmt.Sprintf("size%d", i)))
		}

		for i, sz := range sizes {
			c.Insert(uint64(i), make([]byte, sz))
		}

		assert.LessOrEqual(rt, c.L1Size(), cap)

		// Sum the sizes of every entry still present, newest first, and
		// confirm the total matches the reported L1 occupancy.
		var total int64
		for i := n - 1; i >= 0; i-- {
			if _, ok := c.Get(uint64(i)); ok {
				total += sizes[i]
			}
		}
		assert.Equal(rt, c.L1Size(), total)
	})
}

// Property #1: cache coordination — exactly one fetch per fingerprint,
// all requesters see identical bytes, in_flight empty at quiescence.
func TestPropertyCacheCoordination(t *testing.T) {
	c := New(Config{L1SizeCap: 10 << 20}, nil, false)

	var fetchCount int64
	fetch := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt64(&fetchCount, 1)
		return []byte("payload"), nil
	}

	const fp = 42
	const concurrency = 50
	results := make([][]byte, concurrency)
	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(i int) {
			defer wg.Done()
			data, err := c.Resolve(context.Background(), fp, fetch)
			require.NoError(t, err)
			results[i] = data
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&fetchCount))
	for _, r := range results {
		assert.Equal(t, []byte("payload"), r)
	}
	assert.False(t, c.IsFetching(fp))
}
