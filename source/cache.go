package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/hupe1980/seqbatch/internal/resource"
	"github.com/hupe1980/seqbatch/internal/retry"
	"github.com/hupe1980/seqbatch/metrics"
	"github.com/hupe1980/seqbatch/model"
)

// State is the residency state of a chunk.
type State uint8

const (
	Unpaged State = iota
	Paged
)

func (s State) String() string {
	if s == Paged {
		return "paged"
	}
	return "unpaged"
}

// LoadFunc reads chunk id from the backing store. It returns the chunk data
// and its resident size in bytes.
type LoadFunc[T any] func(ctx context.Context, id int) (T, int64, error)

// CacheConfig configures a Cache.
type CacheConfig[T any] struct {
	// Name identifies the owning source in logs and metrics.
	Name string
	// Chunks is the number of chunk slots.
	Chunks int
	// Load pages a chunk in. Required.
	Load LoadFunc[T]
	// Reserve returns the bytes to reserve from Resources before loading.
	// Nil reserves nothing.
	Reserve func(id int) int64
	// Evict is called outside the lock after a chunk was paged out.
	Evict func(id int, data T)

	Retry     retry.Policy
	Resources *resource.Controller
	Metrics   metrics.Collector
	Logger    *slog.Logger
}

type inflight struct {
	done chan struct{}
	err  error
}

type slot[T any] struct {
	state   State
	refs    int
	data    T
	bytes   int64
	loading *inflight
}

// Cache is an arena of chunk slots indexed by chunk id. Resident chunks are
// shared by all holders; concurrent requests for a chunk being loaded wait
// for that single load.
type Cache[T any] struct {
	cfg   CacheConfig[T]
	mu    sync.Mutex
	slots []slot[T]
}

// NewCache creates a cache with every slot unpaged.
func NewCache[T any](cfg CacheConfig[T]) *Cache[T] {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Noop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Cache[T]{cfg: cfg, slots: make([]slot[T], cfg.Chunks)}
}

// Handle owns one reference to a resident chunk.
type Handle[T any] struct {
	c    *Cache[T]
	id   int
	data T
	once sync.Once
}

// ID returns the chunk id.
func (h *Handle[T]) ID() int { return h.id }

// Data returns the resident chunk data. It must not be used after Release.
func (h *Handle[T]) Data() T { return h.data }

// Release drops the reference. Further calls are no-ops.
func (h *Handle[T]) Release() {
	h.once.Do(func() { h.c.release(h.id) })
}

// Acquire returns a handle to chunk id, paging it in if it is not resident.
func (c *Cache[T]) Acquire(ctx context.Context, id int) (*Handle[T], error) {
	if id < 0 || id >= len(c.slots) {
		return nil, &model.ErrChunkOutOfRange{ChunkID: id, Count: len(c.slots)}
	}

	c.mu.Lock()
	for {
		s := &c.slots[id]
		if s.state == Paged {
			s.refs++
			h := &Handle[T]{c: c, id: id, data: s.data}
			c.mu.Unlock()
			c.cfg.Metrics.RecordCacheHit(c.cfg.Name)
			c.cfg.Logger.Debug("chunk cache hit", "source", c.cfg.Name, "chunk", id)
			return h, nil
		}

		if l := s.loading; l != nil {
			c.mu.Unlock()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-l.done:
			}
			if l.err != nil {
				return nil, l.err
			}
			c.mu.Lock()
			continue
		}

		l := &inflight{done: make(chan struct{})}
		s.loading = l
		c.mu.Unlock()
		return c.load(ctx, id, l)
	}
}

// load pages chunk id in for the caller and every waiter on l. Waiters are
// woken even when the loader panics.
func (c *Cache[T]) load(ctx context.Context, id int, l *inflight) (*Handle[T], error) {
	l.err = fmt.Errorf("%w: source %s chunk %d: load aborted", ErrPagingFailed, c.cfg.Name, id)
	defer func() {
		c.mu.Lock()
		c.slots[id].loading = nil
		c.mu.Unlock()
		close(l.done)
	}()

	data, bytes, err := c.pageIn(ctx, id)
	if err != nil {
		l.err = err
		return nil, err
	}

	c.mu.Lock()
	s := &c.slots[id]
	c.transition(id, s, Paged)
	s.data, s.bytes, s.refs = data, bytes, 1
	c.mu.Unlock()
	l.err = nil
	return &Handle[T]{c: c, id: id, data: data}, nil
}

// pageIn reserves memory and runs the loader under the retry policy.
// Reserved memory is returned unless the load succeeds.
func (c *Cache[T]) pageIn(ctx context.Context, id int) (T, int64, error) {
	var zero T
	start := time.Now()

	var reserved int64
	if c.cfg.Reserve != nil {
		reserved = c.cfg.Reserve(id)
	}
	if err := c.cfg.Resources.ReserveMemory(reserved); err != nil {
		c.cfg.Metrics.RecordPageIn(c.cfg.Name, 0, 0, time.Since(start), err)
		c.cfg.Logger.Error("chunk page-in refused", "source", c.cfg.Name, "chunk", id, "bytes", reserved, "error", err)
		return zero, 0, fmt.Errorf("%w: source %s chunk %d: %w", ErrPagingFailed, c.cfg.Name, id, err)
	}
	committed := false
	defer func() {
		if !committed {
			c.cfg.Resources.ReleaseMemory(reserved)
		}
	}()

	var (
		data     T
		bytes    int64
		attempts int
	)
	op := fmt.Sprintf("page in %s chunk %d", c.cfg.Name, id)
	err := retry.Do(ctx, c.cfg.Retry, op, func(attempt int) error {
		attempts = attempt
		d, n, err := c.cfg.Load(ctx, id)
		if err != nil {
			return err
		}
		data, bytes = d, n
		return nil
	}, func(attempt int, err error) {
		c.cfg.Logger.Warn("chunk page-in failed, retrying",
			"source", c.cfg.Name, "chunk", id, "attempt", attempt, "error", err)
	})

	d := time.Since(start)
	if err != nil {
		c.cfg.Metrics.RecordPageIn(c.cfg.Name, 0, attempts, d, err)
		c.cfg.Logger.Error("chunk page-in failed",
			"source", c.cfg.Name, "chunk", id, "attempt", attempts, "error", err)
		return zero, 0, fmt.Errorf("%w: source %s chunk %d: %w", ErrPagingFailed, c.cfg.Name, id, err)
	}

	// Keep the accounting equal to what was reserved so page-out releases the
	// same amount.
	bytes = max(bytes, 0)
	committed = true
	if bytes > reserved {
		c.cfg.Resources.ReleaseMemory(reserved)
		if !c.cfg.Resources.TryAcquireMemory(bytes) {
			bytes = 0
		}
	} else {
		c.cfg.Resources.ReleaseMemory(reserved - bytes)
	}

	c.cfg.Metrics.RecordPageIn(c.cfg.Name, bytes, attempts, d, nil)
	c.cfg.Logger.Debug("chunk paged in",
		"source", c.cfg.Name, "chunk", id, "bytes", bytes, "attempt", attempts, "duration", d)
	return data, bytes, nil
}

func (c *Cache[T]) release(id int) {
	c.mu.Lock()
	s := &c.slots[id]
	if s.state != Paged || s.refs <= 0 {
		c.mu.Unlock()
		panic(fmt.Errorf("source %s chunk %d: %w", c.cfg.Name, id, ErrDoubleRelease))
	}
	s.refs--
	if s.refs > 0 {
		c.mu.Unlock()
		return
	}

	data, bytes := s.data, s.bytes
	var zero T
	s.data, s.bytes = zero, 0
	c.transition(id, s, Unpaged)
	c.mu.Unlock()

	c.cfg.Resources.ReleaseMemory(bytes)
	if c.cfg.Evict != nil {
		c.cfg.Evict(id, data)
	}
	c.cfg.Metrics.RecordPageOut(c.cfg.Name, bytes)
	c.cfg.Logger.Debug("chunk paged out", "source", c.cfg.Name, "chunk", id, "bytes", bytes)
}

// transition enforces Unpaged <-> Paged. Called with mu held.
func (c *Cache[T]) transition(id int, s *slot[T], to State) {
	if s.state == to {
		c.mu.Unlock()
		if to == Paged {
			panic(fmt.Errorf("source %s chunk %d: %w", c.cfg.Name, id, ErrDoublePage))
		}
		panic(fmt.Errorf("source %s chunk %d: %w", c.cfg.Name, id, ErrDoubleRelease))
	}
	s.state = to
}

// State returns the residency state of chunk id.
func (c *Cache[T]) State(id int) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slots[id].state
}

// Refs returns the number of live handles to chunk id.
func (c *Cache[T]) Refs(id int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slots[id].refs
}

// Resident returns the number of paged-in chunks and their total size.
func (c *Cache[T]) Resident() (chunks int, bytes int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.slots {
		if c.slots[i].state == Paged {
			chunks++
			bytes += c.slots[i].bytes
		}
	}
	return chunks, bytes
}

// Len returns the number of chunk slots.
func (c *Cache[T]) Len() int { return len(c.slots) }
