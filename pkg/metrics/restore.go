package metrics

import "time"

// RestoreMetrics provides observability for the restore session's message
// loop: dispatched message types, reported progress, and status outcomes.
//
// Implementations are optional - pass nil to disable metrics collection with
// zero overhead.
//
// Example usage:
//
//	// With metrics enabled
//	metrics.InitRegistry()
//	m := prometheus.NewRestoreMetrics()
//	d := driver.New(sess, disp, prog, sc, m)
//
//	// Without metrics (pass nil for zero overhead)
//	d := driver.New(sess, disp, prog, sc, nil)
type RestoreMetrics interface {
	// RecordMessage records a completed dispatch of a restored message,
	// keyed by its top-level message type (e.g. "DataRequestMsg",
	// "StatusMsg", "ProgressMsg"), with its processing duration and
	// outcome. errorCode is the restoreerrors code string, empty on
	// success.
	RecordMessage(msgType string, duration time.Duration, errorCode string)

	// RecordDataRequest records a dispatched DataRequestMsg by DataType
	// (e.g. "SystemImageData", "BasebandData", "FUDData").
	RecordDataRequest(dataType string, duration time.Duration, errorCode string)

	// RecordProgress records a stage's reported completion percentage,
	// as mapped by the progress/status mapper.
	RecordProgress(stage string, percent int)

	// RecordStatus records a received StatusMsg's status code. A
	// non-zero code indicates the device reported a failure.
	RecordStatus(statusCode int64)

	// SetSessionState updates the current session lifecycle state gauge
	// (e.g. "opening", "seeding", "running", "finishing", "closed").
	SetSessionState(state string)

	// RecordSessionOutcome records a completed restore session's terminal
	// outcome ("success" or "failure").
	RecordSessionOutcome(outcome string, duration time.Duration)
}

// NewRestoreMetrics creates a new backend-provided RestoreMetrics instance.
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewRestoreMetrics() RestoreMetrics {
	if !IsEnabled() {
		return nil
	}
	return newPrometheusRestoreMetrics()
}

// newPrometheusRestoreMetrics is registered by pkg/metrics/prometheus/restore.go.
// This indirection avoids an import cycle between this package and the
// concrete Prometheus implementation.
var newPrometheusRestoreMetrics func() RestoreMetrics

// RegisterRestoreMetricsConstructor registers the Prometheus restore metrics
// constructor. Called by pkg/metrics/prometheus/restore.go's init().
func RegisterRestoreMetricsConstructor(constructor func() RestoreMetrics) {
	newPrometheusRestoreMetrics = constructor
}
