package source

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hupe1980/seqbatch/internal/resource"
	"github.com/hupe1980/seqbatch/internal/retry"
	"github.com/hupe1980/seqbatch/metrics"
	"github.com/hupe1980/seqbatch/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLoader struct {
	mu       sync.Mutex
	calls    map[int]int
	failFor  int // number of failing calls before success
	panicFor int // number of panicking calls before success
	err      error
	delay    time.Duration
	entered  chan struct{} // receives once per call, if set
}

func (f *fakeLoader) load(_ context.Context, id int) ([]int, int64, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[int]int)
	}
	f.calls[id]++
	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	fail := f.failFor > 0
	if fail {
		f.failFor--
	}
	crash := f.panicFor > 0
	if crash {
		f.panicFor--
	}
	f.mu.Unlock()

	if crash {
		panic("loader crashed")
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if fail {
		return nil, 0, f.err
	}
	return []int{id, id * 10}, 100, nil
}

func (f *fakeLoader) count(id int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func newTestCache(f *fakeLoader, m metrics.Collector, rc *resource.Controller, sleeps *[]time.Duration) *Cache[[]int] {
	p := retry.Default()
	p.Sleeper = func(d time.Duration) {
		if sleeps != nil {
			*sleeps = append(*sleeps, d)
		}
	}
	return NewCache(CacheConfig[[]int]{
		Name:      "features",
		Chunks:    3,
		Load:      f.load,
		Reserve:   func(int) int64 { return 100 },
		Retry:     p,
		Resources: rc,
		Metrics:   m,
	})
}

func TestCache_RefCounting(t *testing.T) {
	f := &fakeLoader{}
	m := &metrics.Basic{}
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 1000})
	c := newTestCache(f, m, rc, nil)
	ctx := context.Background()

	h1, err := c.Acquire(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 10}, h1.Data())
	assert.Equal(t, Paged, c.State(1))
	assert.Equal(t, int64(100), rc.MemoryUsage())

	h2, err := c.Acquire(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, f.count(1), "resident chunk must not be reloaded")
	assert.Equal(t, 2, c.Refs(1))

	h1.Release()
	h1.Release() // idempotent per handle
	assert.Equal(t, Paged, c.State(1))
	assert.Equal(t, 1, c.Refs(1))

	h2.Release()
	assert.Equal(t, Unpaged, c.State(1))
	assert.Equal(t, int64(0), rc.MemoryUsage())

	h3, err := c.Acquire(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, f.count(1), "chunk reloads after page-out")
	h3.Release()

	s := m.Stats()
	assert.Equal(t, int64(2), s.PageIns)
	assert.Equal(t, int64(2), s.PageOuts)
	assert.Equal(t, int64(1), s.CacheHits)
}

func TestCache_OutOfRange(t *testing.T) {
	c := newTestCache(&fakeLoader{}, nil, nil, nil)
	_, err := c.Acquire(context.Background(), 3)
	var oor *model.ErrChunkOutOfRange
	require.ErrorAs(t, err, &oor)
	assert.Equal(t, 3, oor.Count)
}

func TestCache_RetryThenSuccess(t *testing.T) {
	f := &fakeLoader{failFor: 2, err: errors.New("transient read error")}
	var sleeps []time.Duration
	m := &metrics.Basic{}
	c := newTestCache(f, m, nil, &sleeps)

	h, err := c.Acquire(context.Background(), 0)
	require.NoError(t, err)
	defer h.Release()

	assert.Equal(t, 3, f.count(0))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeps)
	assert.Equal(t, int64(2), m.Stats().PageInRetries)
}

func TestCache_RetryExhausted(t *testing.T) {
	ioErr := errors.New("disk gone")
	f := &fakeLoader{failFor: 100, err: ioErr}
	var sleeps []time.Duration
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 1000})
	c := newTestCache(f, nil, rc, &sleeps)

	_, err := c.Acquire(context.Background(), 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPagingFailed)
	assert.ErrorIs(t, err, ioErr)
	assert.Equal(t, retry.DefaultAttempts, f.count(2))
	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}, sleeps)

	assert.Equal(t, Unpaged, c.State(2))
	assert.Equal(t, int64(0), rc.MemoryUsage())

	// A later request starts over.
	f.mu.Lock()
	f.failFor = 0
	f.mu.Unlock()
	h, err := c.Acquire(context.Background(), 2)
	require.NoError(t, err)
	h.Release()
}

func TestCache_PermanentErrorNotRetried(t *testing.T) {
	f := &fakeLoader{failFor: 100, err: retry.Permanent(errors.New("bad header"))}
	c := newTestCache(f, nil, nil, nil)

	_, err := c.Acquire(context.Background(), 0)
	assert.ErrorIs(t, err, ErrPagingFailed)
	assert.Equal(t, 1, f.count(0))
}

func TestCache_ConcurrentAcquireSharesLoad(t *testing.T) {
	f := &fakeLoader{delay: 20 * time.Millisecond}
	c := newTestCache(f, nil, nil, nil)

	var wg sync.WaitGroup
	handles := make([]*Handle[[]int], 8)
	var failures atomic.Int32
	for i := range handles {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := c.Acquire(context.Background(), 0)
			if err != nil {
				failures.Add(1)
				return
			}
			handles[i] = h
		}()
	}
	wg.Wait()

	require.Zero(t, failures.Load())
	assert.Equal(t, 1, f.count(0))
	assert.Equal(t, len(handles), c.Refs(0))

	for _, h := range handles {
		h.Release()
	}
	assert.Equal(t, Unpaged, c.State(0))
}

func TestCache_MemoryBudgetFailsFast(t *testing.T) {
	f := &fakeLoader{}
	m := &metrics.Basic{}
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 150})
	c := newTestCache(f, m, rc, nil)

	h0, err := c.Acquire(context.Background(), 0)
	require.NoError(t, err)

	// The second chunk cannot fit next to the first one. The caller holds
	// the first, so waiting would never end.
	_, err = c.Acquire(context.Background(), 1)
	require.ErrorIs(t, err, ErrPagingFailed)
	require.ErrorIs(t, err, resource.ErrMemoryLimitExceeded)
	assert.Equal(t, Unpaged, c.State(1))
	assert.Zero(t, f.count(1), "nothing is read without a reservation")
	assert.Equal(t, int64(100), rc.MemoryUsage())
	assert.Equal(t, int64(1), m.Stats().PageInErrors)

	h0.Release()
	h1, err := c.Acquire(context.Background(), 1)
	require.NoError(t, err)
	h1.Release()
	assert.Zero(t, rc.MemoryUsage())
}

func TestCache_LoaderPanicWakesWaiters(t *testing.T) {
	f := &fakeLoader{panicFor: 1, delay: 50 * time.Millisecond, entered: make(chan struct{}, 1)}
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 1000})
	c := newTestCache(f, nil, rc, nil)

	recovered := make(chan any, 1)
	go func() {
		defer func() { recovered <- recover() }()
		_, _ = c.Acquire(context.Background(), 0)
	}()
	<-f.entered

	// Waits on the in-flight load, which panics.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := c.Acquire(ctx, 0)
	require.ErrorIs(t, err, ErrPagingFailed)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)

	assert.Equal(t, "loader crashed", <-recovered)
	assert.Equal(t, Unpaged, c.State(0))
	assert.Zero(t, rc.MemoryUsage(), "reservation is returned after a panic")

	h, err := c.Acquire(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0}, h.Data())
	h.Release()
}

func TestCache_EvictCallback(t *testing.T) {
	var evicted []int
	c := NewCache(CacheConfig[[]int]{
		Name:   "labels",
		Chunks: 1,
		Load:   (&fakeLoader{}).load,
		Evict:  func(id int, data []int) { evicted = append(evicted, data...) },
	})

	h, err := c.Acquire(context.Background(), 0)
	require.NoError(t, err)
	h.Release()
	assert.Equal(t, []int{0, 0}, evicted)

	chunks, bytes := c.Resident()
	assert.Zero(t, chunks)
	assert.Zero(t, bytes)
}

func TestCache_DoubleReleasePanics(t *testing.T) {
	c := newTestCache(&fakeLoader{}, nil, nil, nil)
	assert.PanicsWithError(t, "source features chunk 0: chunk is not paged in", func() {
		c.release(0)
	})
}
