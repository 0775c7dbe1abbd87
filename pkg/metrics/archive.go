package metrics

import "time"

// ArchiveMetrics provides observability for the archive reader: listing and
// reading entries out of the firmware archive, and the BadgerDB-backed
// entry-digest cache fronting it.
type ArchiveMetrics interface {
	// RecordRead records a completed archive entry read with its source
	// ("zip", "s3") and outcome.
	RecordRead(source string, bytes int64, duration time.Duration, errorCode string)

	// RecordCacheHit records a cache hit on the archive entry-digest
	// cache.
	RecordCacheHit(cacheType string)

	// RecordCacheMiss records a cache miss on the archive entry-digest
	// cache.
	RecordCacheMiss(cacheType string)

	// RecordS3Operation records an S3-backed archive source operation.
	RecordS3Operation(operation string, duration time.Duration, err error)
}

// NewArchiveMetrics creates a new backend-provided ArchiveMetrics instance.
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewArchiveMetrics() ArchiveMetrics {
	if !IsEnabled() {
		return nil
	}
	return newPrometheusArchiveMetrics()
}

var newPrometheusArchiveMetrics func() ArchiveMetrics

// RegisterArchiveMetricsConstructor registers the Prometheus archive metrics
// constructor. Called by pkg/metrics/prometheus/archive.go's init().
func RegisterArchiveMetricsConstructor(constructor func() ArchiveMetrics) {
	newPrometheusArchiveMetrics = constructor
}
