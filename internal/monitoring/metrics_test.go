package monitoring

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	t.Parallel()
	m := NewMetrics()

	m.IncAccepted()
	m.IncAccepted()
	m.IncDropped()
	m.IncFlush(FlushOK)
	m.IncFlush(FlushInterrupted)
	m.IncFlush(FlushOK)
	m.SetQueueDepth(7)
	m.IncSynchronized()
	m.IncVoxelSkipped()
	m.IncRotated()
	m.IncRotated()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RecordsAccepted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordsDropped))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Flushes.WithLabelValues(FlushOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Flushes.WithLabelValues(FlushInterrupted)))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.QueueDepth))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordsSynchronized))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VoxelSectionsSkipped))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FilesRotated))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	t.Parallel()
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncAccepted()
		m.IncDropped()
		m.IncSynchronized()
		m.IncFlush(FlushOK)
		m.IncVoxelSkipped()
		m.IncRotated()
		m.SetQueueDepth(3)
		m.ObserveFlush(0.1)
	})
}

func TestMetrics_Handler(t *testing.T) {
	t.Parallel()
	m := NewMetrics()
	m.IncRotated()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "simrecord_files_rotated_total 1")
}
