package resource

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrMemoryLimitExceeded is returned when a reservation does not fit the budget.
var ErrMemoryLimitExceeded = errors.New("memory limit exceeded")

// Config holds resource limits.
type Config struct {
	// MemoryLimitBytes bounds the bytes of resident chunk data.
	// If 0, usage is tracked but not limited.
	MemoryLimitBytes int64

	// MaxConcurrentReads bounds parallel reads against the backing store.
	// If 0, defaults to 8.
	MaxConcurrentReads int64

	// IOLimitBytesPerSec throttles paging reads. If 0, unlimited.
	IOLimitBytesPerSec int64
}

// Controller tracks memory and IO for the paging layer.
type Controller struct {
	cfg Config

	memSem  *semaphore.Weighted // nil if unlimited
	memUsed atomic.Int64
	memPeak atomic.Int64

	readSem *semaphore.Weighted

	ioLimiter *rate.Limiter
	ioBytes   atomic.Int64
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxConcurrentReads <= 0 {
		cfg.MaxConcurrentReads = 8
	}

	c := &Controller{
		cfg:     cfg,
		readSem: semaphore.NewWeighted(cfg.MaxConcurrentReads),
	}

	if cfg.MemoryLimitBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}

	if cfg.IOLimitBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}

	return c
}

// ReserveMemory reserves bytes without blocking. A request that does not
// fit next to the current reservations fails with ErrMemoryLimitExceeded.
//
// Every holder of a reader's memory is driven by the same caller, so
// waiting for the budget to free up would wait on that caller itself.
func (c *Controller) ReserveMemory(bytes int64) error {
	if c.TryAcquireMemory(bytes) {
		return nil
	}
	return fmt.Errorf("%w: %d bytes requested, %d of %d in use",
		ErrMemoryLimitExceeded, bytes, c.memUsed.Load(), c.cfg.MemoryLimitBytes)
}

// TryAcquireMemory reserves bytes without blocking.
func (c *Controller) TryAcquireMemory(bytes int64) bool {
	if c == nil || bytes <= 0 {
		return true
	}

	if c.memSem != nil && !c.memSem.TryAcquire(bytes) {
		return false
	}

	c.track(bytes)
	return true
}

func (c *Controller) track(bytes int64) {
	used := c.memUsed.Add(bytes)
	for {
		peak := c.memPeak.Load()
		if used <= peak || c.memPeak.CompareAndSwap(peak, used) {
			return
		}
	}
}

// ReleaseMemory returns reserved bytes.
func (c *Controller) ReleaseMemory(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}

	if c.memSem != nil {
		c.memSem.Release(bytes)
	}
	c.memUsed.Add(-bytes)
}

// MemoryUsage returns the currently reserved bytes.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// PeakMemoryUsage returns the highest reservation seen.
func (c *Controller) PeakMemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memPeak.Load()
}

// AcquireRead reserves a read slot.
func (c *Controller) AcquireRead(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.readSem.Acquire(ctx, 1)
}

// ReleaseRead frees a read slot.
func (c *Controller) ReleaseRead() {
	if c == nil {
		return
	}
	c.readSem.Release(1)
}

// AcquireIO waits until the IO limit admits bytes. Requests larger than
// the limiter burst are admitted in burst-sized steps.
func (c *Controller) AcquireIO(ctx context.Context, bytes int) error {
	if c == nil || bytes <= 0 {
		return nil
	}
	c.ioBytes.Add(int64(bytes))
	if c.ioLimiter == nil {
		return nil
	}
	burst := c.ioLimiter.Burst()
	for bytes > 0 {
		n := min(bytes, burst)
		if err := c.ioLimiter.WaitN(ctx, n); err != nil {
			return err
		}
		bytes -= n
	}
	return nil
}

// IOBytes returns the total bytes admitted through AcquireIO.
func (c *Controller) IOBytes() int64 {
	if c == nil {
		return 0
	}
	return c.ioBytes.Load()
}
