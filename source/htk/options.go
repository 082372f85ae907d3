package htk

import (
	"log/slog"

	"github.com/hupe1980/seqbatch/internal/cache"
	"github.com/hupe1980/seqbatch/internal/compress"
	"github.com/hupe1980/seqbatch/internal/resource"
	"github.com/hupe1980/seqbatch/metrics"
)

type options struct {
	logger      *slog.Logger
	metrics     metrics.Collector
	resources   *resource.Controller
	spill       cache.BlockCache
	compression compress.Type
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

// WithResourceController bounds resident chunk memory and throttles reads.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) { o.resources = rc }
}

// WithSpillCache keeps compressed images of paged-out chunks in c so a
// later page-in of the same chunk does not touch the backing store.
func WithSpillCache(c cache.BlockCache, t compress.Type) Option {
	return func(o *options) {
		o.spill = c
		o.compression = t
	}
}
