package prom

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.RecordPageIn("features", 400, 1, time.Millisecond, nil)
	c.RecordPageIn("features", 400, 3, time.Millisecond, errors.New("io"))
	c.RecordPageOut("features", 100)
	c.RecordCacheHit("features")
	c.RecordSpillHit("features")
	c.RecordMinibatch(32, 1024, time.Millisecond)
	c.RecordAlignment(100, 5)

	assert.Equal(t, 400.0, testutil.ToFloat64(c.pageInBytes.WithLabelValues("features")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.pageInRetries.WithLabelValues("features")))
	assert.Equal(t, 300.0, testutil.ToFloat64(c.residentBytes.WithLabelValues("features")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheHits.WithLabelValues("features")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.spillHits.WithLabelValues("features")))
	assert.Equal(t, 32.0, testutil.ToFloat64(c.samples))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.dropped))

	n, err := testutil.GatherAndCount(reg, "seqbatch_page_in_seconds")
	assert.NoError(t, err)
	assert.Equal(t, 2, n)
}
