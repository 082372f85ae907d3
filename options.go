package seqbatch

import (
	"log/slog"

	"github.com/hupe1980/seqbatch/blobstore"
	"github.com/hupe1980/seqbatch/bundler"
	"github.com/hupe1980/seqbatch/metrics"
)

// DefaultMinibatchSize is the packer capacity used when none is configured.
const DefaultMinibatchSize = 256

type options struct {
	logger             *Logger
	metrics            metrics.Collector
	store              blobstore.BlobStore
	primary            int
	primaryName        string
	maxInvalidFraction float64
	window             int
	seed               int64
	minibatchSize      int
	epochSize          int
}

// Option configures New and Open.
type Option func(*options)

// WithLogger configures structured logging.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := seqbatch.NewJSONLogger(slog.LevelInfo)
//	r, _ := seqbatch.Open(ctx, cfg, seqbatch.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetrics configures a collector for paging and minibatch metrics.
// Pass nil to disable metrics collection.
//
// Example with metrics.Basic:
//
//	m := &metrics.Basic{}
//	r, _ := seqbatch.Open(ctx, cfg, seqbatch.WithMetrics(m))
//	// ... read epochs ...
//	fmt.Printf("page-ins: %d\n", m.Stats().PageIns)
func WithMetrics(m metrics.Collector) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithStore makes Open read the corpus from store instead of the backend
// named in the configuration.
func WithStore(store blobstore.BlobStore) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithPrimary selects the source whose sequences drive alignment.
func WithPrimary(i int) Option {
	return func(o *options) {
		o.primary = i
		o.primaryName = ""
	}
}

// WithPrimaryStream selects the primary source by stream name. Open only.
func WithPrimaryStream(name string) Option {
	return func(o *options) {
		o.primaryName = name
	}
}

// WithMaxInvalidFraction sets the largest tolerated fraction of primary
// sequences dropped by alignment. 1 disables the check.
func WithMaxInvalidFraction(f float64) Option {
	return func(o *options) {
		o.maxInvalidFraction = f
	}
}

// WithRandomization enables block randomization over windowSamples samples.
func WithRandomization(windowSamples int, seed int64) Option {
	return func(o *options) {
		o.window = windowSamples
		o.seed = seed
	}
}

// WithMinibatchSize sets the default minibatch size in samples.
func WithMinibatchSize(n int) Option {
	return func(o *options) {
		o.minibatchSize = n
	}
}

// WithEpochSize sets the default epoch size in samples. 0 means one sweep.
func WithEpochSize(n int) Option {
	return func(o *options) {
		o.epochSize = n
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metrics:            metrics.Noop{},
		maxInvalidFraction: bundler.DefaultMaxInvalidFraction,
		minibatchSize:      DefaultMinibatchSize,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	if o.metrics == nil {
		o.metrics = metrics.Noop{}
	}
	if o.minibatchSize <= 0 {
		o.minibatchSize = DefaultMinibatchSize
	}
	return o
}
