// Package prom implements metrics.Collector with Prometheus instruments.
package prom

import (
	"time"

	"github.com/hupe1980/seqbatch/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

var _ metrics.Collector = (*Collector)(nil)

// Collector exports paging and minibatch metrics.
type Collector struct {
	pageInLatency *prometheus.HistogramVec
	pageInBytes   *prometheus.CounterVec
	pageInRetries *prometheus.CounterVec
	pageOuts      *prometheus.CounterVec
	residentBytes *prometheus.GaugeVec
	cacheHits     *prometheus.CounterVec
	spillHits     *prometheus.CounterVec
	minibatches   prometheus.Counter
	samples       prometheus.Counter
	packLatency   prometheus.Histogram
	aligned       prometheus.Gauge
	dropped       prometheus.Gauge
}

// New creates the instruments and registers them with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		pageInLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "seqbatch_page_in_seconds",
			Help:    "Latency of chunk page-ins including retries",
			Buckets: prometheus.DefBuckets,
		}, []string{"source", "status"}),
		pageInBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seqbatch_page_in_bytes_total",
			Help: "Bytes made resident by page-ins",
		}, []string{"source"}),
		pageInRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seqbatch_page_in_retries_total",
			Help: "Retried page-in attempts",
		}, []string{"source"}),
		pageOuts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seqbatch_page_outs_total",
			Help: "Chunks paged out after their last reference was released",
		}, []string{"source"}),
		residentBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "seqbatch_resident_bytes",
			Help: "Bytes of currently resident chunks",
		}, []string{"source"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seqbatch_chunk_cache_hits_total",
			Help: "Chunk requests served by a resident chunk",
		}, []string{"source"}),
		spillHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seqbatch_spill_cache_hits_total",
			Help: "Page-ins served from the spill cache",
		}, []string{"source"}),
		minibatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "seqbatch_minibatches_total",
			Help: "Packed minibatches",
		}),
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "seqbatch_samples_total",
			Help: "Packed samples",
		}),
		packLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "seqbatch_minibatch_seconds",
			Help:    "Latency of ReadMinibatch",
			Buckets: prometheus.DefBuckets,
		}),
		aligned: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "seqbatch_aligned_sequences",
			Help: "Sequences in the unified sequence list",
		}),
		dropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "seqbatch_dropped_sequences",
			Help: "Primary sequences dropped during alignment",
		}),
	}
	reg.MustRegister(
		c.pageInLatency, c.pageInBytes, c.pageInRetries, c.pageOuts, c.residentBytes,
		c.cacheHits, c.spillHits, c.minibatches, c.samples, c.packLatency, c.aligned, c.dropped,
	)
	return c
}

func (c *Collector) RecordPageIn(source string, bytes int64, attempts int, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.pageInLatency.WithLabelValues(source, status).Observe(d.Seconds())
	if attempts > 1 {
		c.pageInRetries.WithLabelValues(source).Add(float64(attempts - 1))
	}
	if err == nil {
		c.pageInBytes.WithLabelValues(source).Add(float64(bytes))
		c.residentBytes.WithLabelValues(source).Add(float64(bytes))
	}
}

func (c *Collector) RecordPageOut(source string, bytes int64) {
	c.pageOuts.WithLabelValues(source).Inc()
	c.residentBytes.WithLabelValues(source).Sub(float64(bytes))
}

func (c *Collector) RecordCacheHit(source string) {
	c.cacheHits.WithLabelValues(source).Inc()
}

func (c *Collector) RecordSpillHit(source string) {
	c.spillHits.WithLabelValues(source).Inc()
}

func (c *Collector) RecordMinibatch(samples int, _ int64, d time.Duration) {
	c.minibatches.Inc()
	c.samples.Add(float64(samples))
	c.packLatency.Observe(d.Seconds())
}

func (c *Collector) RecordAlignment(total, dropped int) {
	c.aligned.Set(float64(total))
	c.dropped.Set(float64(dropped))
}
