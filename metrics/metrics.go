// Package metrics defines the collector interface for paging and
// minibatch metrics.
package metrics

import (
	"sync/atomic"
	"time"
)

// Collector receives operational events. Implementations must be safe for
// concurrent use.
//
// Example Prometheus integration: see package metrics/prom.
type Collector interface {
	// RecordPageIn is called after a chunk page-in finished. attempts counts
	// the tries including the successful one; err is nil on success.
	RecordPageIn(source string, bytes int64, attempts int, d time.Duration, err error)

	// RecordPageOut is called when the last reference to a chunk is dropped.
	RecordPageOut(source string, bytes int64)

	// RecordCacheHit is called when a chunk request was served by a resident chunk.
	RecordCacheHit(source string)

	// RecordSpillHit is called when a page-in was served from the spill cache.
	RecordSpillHit(source string)

	// RecordMinibatch is called after each packed minibatch.
	RecordMinibatch(samples int, bytes int64, d time.Duration)

	// RecordAlignment is called once the bundler built its sequence list.
	RecordAlignment(total, dropped int)
}

// Noop discards all events.
type Noop struct{}

func (Noop) RecordPageIn(string, int64, int, time.Duration, error) {}
func (Noop) RecordPageOut(string, int64)                           {}
func (Noop) RecordCacheHit(string)                                 {}
func (Noop) RecordSpillHit(string)                                 {}
func (Noop) RecordMinibatch(int, int64, time.Duration)             {}
func (Noop) RecordAlignment(int, int)                              {}

// Basic keeps in-memory counters across all sources.
type Basic struct {
	PageIns          atomic.Int64
	PageInErrors     atomic.Int64
	PageInRetries    atomic.Int64
	PageInBytes      atomic.Int64
	PageInTotalNanos atomic.Int64
	PageOuts         atomic.Int64
	PageOutBytes     atomic.Int64
	CacheHits        atomic.Int64
	SpillHits        atomic.Int64
	Minibatches      atomic.Int64
	Samples          atomic.Int64
	MinibatchBytes   atomic.Int64
	AlignedSequences atomic.Int64
	DroppedSequences atomic.Int64
}

// RecordPageIn implements Collector.
func (b *Basic) RecordPageIn(_ string, bytes int64, attempts int, d time.Duration, err error) {
	b.PageIns.Add(1)
	b.PageInTotalNanos.Add(d.Nanoseconds())
	if attempts > 1 {
		b.PageInRetries.Add(int64(attempts - 1))
	}
	if err != nil {
		b.PageInErrors.Add(1)
		return
	}
	b.PageInBytes.Add(bytes)
}

// RecordPageOut implements Collector.
func (b *Basic) RecordPageOut(_ string, bytes int64) {
	b.PageOuts.Add(1)
	b.PageOutBytes.Add(bytes)
}

// RecordCacheHit implements Collector.
func (b *Basic) RecordCacheHit(string) { b.CacheHits.Add(1) }

// RecordSpillHit implements Collector.
func (b *Basic) RecordSpillHit(string) { b.SpillHits.Add(1) }

// RecordMinibatch implements Collector.
func (b *Basic) RecordMinibatch(samples int, bytes int64, _ time.Duration) {
	b.Minibatches.Add(1)
	b.Samples.Add(int64(samples))
	b.MinibatchBytes.Add(bytes)
}

// RecordAlignment implements Collector.
func (b *Basic) RecordAlignment(total, dropped int) {
	b.AlignedSequences.Store(int64(total))
	b.DroppedSequences.Store(int64(dropped))
}

// Stats is a snapshot of Basic.
type Stats struct {
	PageIns          int64
	PageInErrors     int64
	PageInRetries    int64
	PageInBytes      int64
	PageInAvgNanos   int64
	PageOuts         int64
	PageOutBytes     int64
	CacheHits        int64
	SpillHits        int64
	Minibatches      int64
	Samples          int64
	MinibatchBytes   int64
	AlignedSequences int64
	DroppedSequences int64
}

// Stats returns a snapshot of the counters.
func (b *Basic) Stats() Stats {
	s := Stats{
		PageIns:          b.PageIns.Load(),
		PageInErrors:     b.PageInErrors.Load(),
		PageInRetries:    b.PageInRetries.Load(),
		PageInBytes:      b.PageInBytes.Load(),
		PageOuts:         b.PageOuts.Load(),
		PageOutBytes:     b.PageOutBytes.Load(),
		CacheHits:        b.CacheHits.Load(),
		SpillHits:        b.SpillHits.Load(),
		Minibatches:      b.Minibatches.Load(),
		Samples:          b.Samples.Load(),
		MinibatchBytes:   b.MinibatchBytes.Load(),
		AlignedSequences: b.AlignedSequences.Load(),
		DroppedSequences: b.DroppedSequences.Load(),
	}
	if s.PageIns > 0 {
		s.PageInAvgNanos = b.PageInTotalNanos.Load() / s.PageIns
	}
	return s
}

// Tee forwards every event to each collector in order.
type Tee []Collector

func (t Tee) RecordPageIn(source string, bytes int64, attempts int, d time.Duration, err error) {
	for _, c := range t {
		c.RecordPageIn(source, bytes, attempts, d, err)
	}
}

func (t Tee) RecordPageOut(source string, bytes int64) {
	for _, c := range t {
		c.RecordPageOut(source, bytes)
	}
}

func (t Tee) RecordCacheHit(source string) {
	for _, c := range t {
		c.RecordCacheHit(source)
	}
}

func (t Tee) RecordSpillHit(source string) {
	for _, c := range t {
		c.RecordSpillHit(source)
	}
}

func (t Tee) RecordMinibatch(samples int, bytes int64, d time.Duration) {
	for _, c := range t {
		c.RecordMinibatch(samples, bytes, d)
	}
}

func (t Tee) RecordAlignment(total, dropped int) {
	for _, c := range t {
		c.RecordAlignment(total, dropped)
	}
}
