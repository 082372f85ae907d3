package htk

import (
	"errors"
	"fmt"

	"github.com/hupe1980/seqbatch/internal/retry"
	"github.com/hupe1980/seqbatch/model"
)

// DefaultMinFrames is the shortest valid utterance.
const DefaultMinFrames = 2

// DefaultConcurrency bounds parallel header and frame reads.
const DefaultConcurrency = 8

// ErrInvalidConfig is returned for unusable source configurations.
var ErrInvalidConfig = errors.New("htk: invalid configuration")

// Config describes an HTK feature stream.
type Config struct {
	// Name is the stream name.
	Name string
	// Paths are logical paths "[key=]file[[start,end]]".
	Paths []string
	// Dimension is the per-frame feature dimension. 0 takes it from the
	// first file header.
	Dimension int
	// Context is the number of neighbor frames on the left and right.
	Context [2]int
	// SampleDimension, if set and Context is zero, derives a symmetric
	// window of ((SampleDimension/Dimension)-1)/2 frames per side.
	SampleDimension int
	ElementType     model.ElementType
	// ChunkFrames is the frame budget per chunk. 0 selects the default.
	ChunkFrames int
	// MinFrames marks shorter utterances invalid. 0 selects DefaultMinFrames.
	MinFrames int
	// Retry is the page-in policy. The zero value selects retry.Default().
	Retry retry.Policy
	// Concurrency bounds parallel reads. 0 selects DefaultConcurrency.
	Concurrency int
}

func (c *Config) normalize() error {
	if c.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidConfig)
	}
	if len(c.Paths) == 0 {
		return fmt.Errorf("%w: stream %q has no paths", ErrInvalidConfig, c.Name)
	}
	if c.Dimension < 0 || c.SampleDimension < 0 || c.Context[0] < 0 || c.Context[1] < 0 {
		return fmt.Errorf("%w: stream %q has negative dimensions", ErrInvalidConfig, c.Name)
	}
	if c.ElementType == model.ElementUnknown {
		c.ElementType = model.ElementFloat32
	}
	if c.MinFrames <= 0 {
		c.MinFrames = DefaultMinFrames
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Retry.Attempts == 0 {
		c.Retry = retry.Default()
	}
	return nil
}

// window resolves the context window once the frame dimension is known.
func (c *Config) window() (left, right int, err error) {
	if c.Context != [2]int{} || c.SampleDimension == 0 {
		return c.Context[0], c.Context[1], nil
	}
	if c.SampleDimension%c.Dimension != 0 {
		return 0, 0, fmt.Errorf("%w: stream %q sample dimension %d is not a multiple of %d",
			ErrInvalidConfig, c.Name, c.SampleDimension, c.Dimension)
	}
	extent := ((c.SampleDimension / c.Dimension) - 1) / 2
	return extent, extent, nil
}
