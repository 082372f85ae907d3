package mlf

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/hupe1980/seqbatch/internal/mlffile"
	"github.com/hupe1980/seqbatch/internal/retry"
	"github.com/hupe1980/seqbatch/metrics"
	"github.com/hupe1980/seqbatch/model"
)

// ErrInvalidConfig is returned for unusable source configurations.
var ErrInvalidConfig = errors.New("mlf: invalid configuration")

// Config describes an MLF label stream.
type Config struct {
	Name  string
	Paths []string
	// LabelMappingFile is a state list. Without one, labels must be
	// integer class ids.
	LabelMappingFile string
	// Dimension is the class count. 0 takes the state list length.
	Dimension   int
	ElementType model.ElementType
	// FrameShift is the frame period in HTK 100ns units.
	FrameShift  int64
	ChunkFrames int
	// Retry applies to reading the label files.
	Retry retry.Policy
}

func (c *Config) normalize() error {
	if c.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidConfig)
	}
	if len(c.Paths) == 0 {
		return fmt.Errorf("%w: stream %q has no paths", ErrInvalidConfig, c.Name)
	}
	if c.Dimension < 0 {
		return fmt.Errorf("%w: stream %q has negative dimension", ErrInvalidConfig, c.Name)
	}
	if c.LabelMappingFile == "" && c.Dimension == 0 {
		return fmt.Errorf("%w: stream %q needs a dimension or a label mapping file", ErrInvalidConfig, c.Name)
	}
	if c.ElementType == model.ElementUnknown {
		c.ElementType = model.ElementFloat32
	}
	if c.FrameShift <= 0 {
		c.FrameShift = mlffile.DefaultFrameShift
	}
	if c.Retry.Attempts == 0 {
		c.Retry = retry.Default()
	}
	return nil
}

type options struct {
	logger  *slog.Logger
	metrics metrics.Collector
}

// Option configures a Source.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.Collector) Option {
	return func(o *options) { o.metrics = m }
}
