package bundler

import (
	"log/slog"

	"github.com/hupe1980/seqbatch/metrics"
)

// DefaultMaxInvalidFraction is the largest tolerated share of dropped
// primary sequences.
const DefaultMaxInvalidFraction = 0.5

type options struct {
	primary            int
	maxInvalidFraction float64
	logger             *slog.Logger
	metrics            metrics.Collector
}

// Option configures a Bundler.
type Option func(*options)

// WithPrimary selects the source whose sequence order drives alignment.
func WithPrimary(i int) Option {
	return func(o *options) { o.primary = i }
}

// WithMaxInvalidFraction sets the dropped-sequence threshold. 1 disables the check.
func WithMaxInvalidFraction(f float64) Option {
	return func(o *options) { o.maxInvalidFraction = f }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.Collector) Option {
	return func(o *options) { o.metrics = m }
}
