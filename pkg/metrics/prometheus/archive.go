package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/stek29/idevicerestore/pkg/metrics"
)

func init() {
	metrics.RegisterArchiveMetricsConstructor(NewArchiveMetrics)
}

// archiveMetrics is the Prometheus implementation of metrics.ArchiveMetrics.
type archiveMetrics struct {
	readOperations   *prometheus.CounterVec
	readDuration      *prometheus.HistogramVec
	readBytes        *prometheus.HistogramVec
	cacheHits        *prometheus.CounterVec
	cacheMisses      *prometheus.CounterVec
	s3Operations     *prometheus.CounterVec
	s3OpDuration     *prometheus.HistogramVec
}

// NewArchiveMetrics creates a new Prometheus-backed ArchiveMetrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewArchiveMetrics() metrics.ArchiveMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &archiveMetrics{
		readOperations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "idevicerestore_archive_read_operations_total",
				Help: "Total number of archive entry reads by source and outcome",
			},
			[]string{"source", "error_code"},
		),
		readDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "idevicerestore_archive_read_duration_milliseconds",
				Help: "Duration of archive entry reads in milliseconds",
				Buckets: []float64{
					1, 5, 10, 50, 100, 500, 1000, 5000, 30000,
				},
			},
			[]string{"source"},
		),
		readBytes: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "idevicerestore_archive_read_bytes",
				Help: "Distribution of bytes read per archive entry",
				Buckets: []float64{
					4096, 65536, 1048576, 16777216, 134217728, 1073741824,
				},
			},
			[]string{"source"},
		),
		cacheHits: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "idevicerestore_archive_cache_hits_total",
				Help: "Total number of archive entry-digest cache hits",
			},
			[]string{"cache_type"},
		),
		cacheMisses: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "idevicerestore_archive_cache_misses_total",
				Help: "Total number of archive entry-digest cache misses",
			},
			[]string{"cache_type"},
		),
		s3Operations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "idevicerestore_archive_s3_operations_total",
				Help: "Total number of S3-backed archive source operations by outcome",
			},
			[]string{"operation", "status"},
		),
		s3OpDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "idevicerestore_archive_s3_operation_duration_milliseconds",
				Help: "Duration of S3-backed archive source operations in milliseconds",
				Buckets: []float64{
					10, 50, 100, 500, 1000, 5000, 10000, 30000,
				},
			},
			[]string{"operation"},
		),
	}
}

func (m *archiveMetrics) RecordRead(source string, bytes int64, duration time.Duration, errorCode string) {
	if m == nil {
		return
	}
	m.readOperations.WithLabelValues(source, errorCode).Inc()
	m.readDuration.WithLabelValues(source).Observe(duration.Seconds() * 1000)
	if bytes > 0 {
		m.readBytes.WithLabelValues(source).Observe(float64(bytes))
	}
}

func (m *archiveMetrics) RecordCacheHit(cacheType string) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(cacheType).Inc()
}

func (m *archiveMetrics) RecordCacheMiss(cacheType string) {
	if m == nil {
		return
	}
	m.cacheMisses.WithLabelValues(cacheType).Inc()
}

func (m *archiveMetrics) RecordS3Operation(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.s3Operations.WithLabelValues(operation, status).Inc()
	m.s3OpDuration.WithLabelValues(operation).Observe(duration.Seconds() * 1000)
}
