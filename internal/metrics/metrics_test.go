package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveQuery("count", time.Now(), nil)
		m.Acquired("hit")
		m.Pruned("closed")
		m.BulkRows("import", 1, 0)
		m.HandleOpened()
		m.HandleClosed()
	})
}

func TestMetrics_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Acquired("hit")
	m.Acquired("hit")
	m.Acquired("opened")
	m.Pruned("unreferenced")
	m.BulkRows("add_field", 9, 1)
	m.ObserveQuery("fetch", time.Now(), errors.New("boom"))
	m.HandleOpened()
	m.HandleOpened()
	m.HandleClosed()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.acquisitions.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.acquisitions.WithLabelValues("opened")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pruned.WithLabelValues("unreferenced")))
	assert.Equal(t, 9.0, testutil.ToFloat64(m.bulkRows.WithLabelValues("add_field", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bulkRows.WithLabelValues("add_field", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queryErrors.WithLabelValues("fetch")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.openHandles))

	n, err := testutil.GatherAndCount(reg, "matchdb_query_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDefault_Singleton(t *testing.T) {
	assert.Same(t, Default(), Default())
}
