package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Flush outcomes used as the "outcome" label on the flush counter.
const (
	FlushOK          = "ok"
	FlushInterrupted = "interrupted"
)

// Metrics holds the recorder's prometheus instruments on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	RecordsSynchronized  prometheus.Counter
	RecordsAccepted      prometheus.Counter
	RecordsDropped       prometheus.Counter
	Flushes              *prometheus.CounterVec
	VoxelSectionsSkipped prometheus.Counter
	FilesRotated         prometheus.Counter
	QueueDepth           prometheus.Gauge
	FlushSeconds         prometheus.Histogram
}

// NewMetrics creates and registers the recorder instruments. Each call uses an
// independent registry so tests can create as many as they like.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RecordsSynchronized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "simrecord",
			Name:      "records_synchronized_total",
			Help:      "Synchronized records emitted by the stream synchronizer.",
		}),
		RecordsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "simrecord",
			Name:      "records_accepted_total",
			Help:      "Records accepted into the ingestion queue.",
		}),
		RecordsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "simrecord",
			Name:      "records_dropped_total",
			Help:      "Records dropped because the ingestion queue was full.",
		}),
		Flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "simrecord",
			Name:      "flushes_total",
			Help:      "Chunk flushes by outcome.",
		}, []string{"outcome"}),
		VoxelSectionsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "simrecord",
			Name:      "voxel_sections_skipped_total",
			Help:      "Flushes whose voxels_removed section was skipped after a dimension mismatch.",
		}),
		FilesRotated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "simrecord",
			Name:      "files_rotated_total",
			Help:      "Output files opened after a rotation.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "simrecord",
			Name:      "queue_depth",
			Help:      "Records waiting in the ingestion queue.",
		}),
		FlushSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "simrecord",
			Name:      "flush_duration_seconds",
			Help:      "Wall time spent writing one chunk.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
	}
	m.registry.MustRegister(
		m.RecordsSynchronized,
		m.RecordsAccepted,
		m.RecordsDropped,
		m.Flushes,
		m.VoxelSectionsSkipped,
		m.FilesRotated,
		m.QueueDepth,
		m.FlushSeconds,
	)
	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// IncSynchronized counts one record emitted by the synchronizer.
func (m *Metrics) IncSynchronized() {
	if m != nil {
		m.RecordsSynchronized.Inc()
	}
}

// IncAccepted counts one record accepted into the ingest queue.
func (m *Metrics) IncAccepted() {
	if m != nil {
		m.RecordsAccepted.Inc()
	}
}

// IncDropped counts one record dropped because the ingest queue was full.
func (m *Metrics) IncDropped() {
	if m != nil {
		m.RecordsDropped.Inc()
	}
}

// IncFlush counts one flush with outcome FlushOK or FlushInterrupted.
func (m *Metrics) IncFlush(outcome string) {
	if m != nil {
		m.Flushes.WithLabelValues(outcome).Inc()
	}
}

// IncVoxelSkipped counts a voxel section skipped after a dimension mismatch.
func (m *Metrics) IncVoxelSkipped() {
	if m != nil {
		m.VoxelSectionsSkipped.Inc()
	}
}

// IncRotated counts one file rotation.
func (m *Metrics) IncRotated() {
	if m != nil {
		m.FilesRotated.Inc()
	}
}

// SetQueueDepth records the number of records waiting in the ingest queue.
func (m *Metrics) SetQueueDepth(n int) {
	if m != nil {
		m.QueueDepth.Set(float64(n))
	}
}

// ObserveFlush records the duration of one flush.
func (m *Metrics) ObserveFlush(seconds float64) {
	if m != nil {
		m.FlushSeconds.Observe(seconds)
	}
}
