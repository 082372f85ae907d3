package resource

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_ReserveMemoryFailsFast(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 100})

	require.NoError(t, c.ReserveMemory(60))
	assert.False(t, c.TryAcquireMemory(50))

	err := c.ReserveMemory(50)
	require.ErrorIs(t, err, ErrMemoryLimitExceeded)
	assert.Contains(t, err.Error(), "50 bytes requested, 60 of 100 in use")
	assert.Equal(t, int64(60), c.MemoryUsage())

	c.ReleaseMemory(60)
	require.NoError(t, c.ReserveMemory(50))
	assert.Equal(t, int64(50), c.MemoryUsage())
	assert.Equal(t, int64(60), c.PeakMemoryUsage())
}

func TestController_OversizedRequestFailsFast(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 10})
	assert.ErrorIs(t, c.ReserveMemory(11), ErrMemoryLimitExceeded)
	assert.Zero(t, c.MemoryUsage())
}

func TestController_Unlimited(t *testing.T) {
	c := NewController(Config{})
	require.NoError(t, c.ReserveMemory(1<<40))
	c.ReleaseMemory(1 << 40)
	assert.Equal(t, int64(0), c.MemoryUsage())
}

func TestController_NilIsNoop(t *testing.T) {
	var c *Controller
	require.NoError(t, c.ReserveMemory(10))
	assert.True(t, c.TryAcquireMemory(10))
	c.ReleaseMemory(10)
	require.NoError(t, c.AcquireIO(context.Background(), 10))
	require.NoError(t, c.AcquireRead(context.Background()))
	c.ReleaseRead()
	assert.Zero(t, c.MemoryUsage())
}

func TestController_IOLargerThanBurst(t *testing.T) {
	c := NewController(Config{IOLimitBytesPerSec: 1 << 20})
	require.NoError(t, c.AcquireIO(context.Background(), 1<<20+10))
	assert.Equal(t, int64(1<<20+10), c.IOBytes())
}
