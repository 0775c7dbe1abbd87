package prometheus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/stek29/idevicerestore/pkg/metrics"
)

func init() {
	metrics.RegisterRestoreMetricsConstructor(NewRestoreMetrics)
}

// restoreMetrics is the Prometheus implementation of metrics.RestoreMetrics.
type restoreMetrics struct {
	messagesTotal   *prometheus.CounterVec
	messageDuration *prometheus.HistogramVec
	dataRequests    *prometheus.CounterVec
	dataReqDuration *prometheus.HistogramVec
	progress        *prometheus.GaugeVec
	statusCodes     *prometheus.CounterVec
	sessionState    *prometheus.GaugeVec
	sessionOutcome  *prometheus.CounterVec
	sessionDuration *prometheus.HistogramVec
}

// NewRestoreMetrics creates a new Prometheus-backed RestoreMetrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewRestoreMetrics() metrics.RestoreMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &restoreMetrics{
		messagesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "idevicerestore_messages_total",
				Help: "Total number of restored messages dispatched by type and outcome",
			},
			[]string{"msg_type", "error_code"},
		),
		messageDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "idevicerestore_message_duration_milliseconds",
				Help: "Duration of restored message handling in milliseconds",
				Buckets: []float64{
					1, 5, 10, 50, 100, 500, 1000, 5000, 30000, 120000,
				},
			},
			[]string{"msg_type"},
		),
		dataRequests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "idevicerestore_data_requests_total",
				Help: "Total number of DataRequestMsg dispatches by data type and outcome",
			},
			[]string{"data_type", "error_code"},
		),
		dataReqDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "idevicerestore_data_request_duration_milliseconds",
				Help: "Duration of DataRequestMsg handling in milliseconds",
				Buckets: []float64{
					10, 50, 100, 500, 1000, 5000, 30000, 120000, 600000,
				},
			},
			[]string{"data_type"},
		),
		progress: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "idevicerestore_stage_progress_percent",
				Help: "Most recently reported completion percentage per restore stage",
			},
			[]string{"stage"},
		),
		statusCodes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "idevicerestore_status_codes_total",
				Help: "Total number of StatusMsg receipts by status code",
			},
			[]string{"status_code"},
		),
		sessionState: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "idevicerestore_session_state",
				Help: "Current session lifecycle state (1 for the active state, 0 otherwise)",
			},
			[]string{"state"},
		),
		sessionOutcome: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "idevicerestore_session_outcomes_total",
				Help: "Total number of completed restore sessions by outcome",
			},
			[]string{"outcome"},
		),
		sessionDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "idevicerestore_session_duration_seconds",
				Help: "Total restore session duration in seconds by outcome",
				Buckets: []float64{
					30, 60, 120, 300, 600, 1200, 1800, 3600,
				},
			},
			[]string{"outcome"},
		),
	}
}

func (m *restoreMetrics) RecordMessage(msgType string, duration time.Duration, errorCode string) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(msgType, errorCode).Inc()
	m.messageDuration.WithLabelValues(msgType).Observe(duration.Seconds() * 1000)
}

func (m *restoreMetrics) RecordDataRequest(dataType string, duration time.Duration, errorCode string) {
	if m == nil {
		return
	}
	m.dataRequests.WithLabelValues(dataType, errorCode).Inc()
	m.dataReqDuration.WithLabelValues(dataType).Observe(duration.Seconds() * 1000)
}

func (m *restoreMetrics) RecordProgress(stage string, percent int) {
	if m == nil {
		return
	}
	m.progress.WithLabelValues(stage).Set(float64(percent))
}

func (m *restoreMetrics) RecordStatus(statusCode int64) {
	if m == nil {
		return
	}
	m.statusCodes.WithLabelValues(formatStatusCode(statusCode)).Inc()
}

func (m *restoreMetrics) SetSessionState(state string) {
	if m == nil {
		return
	}
	for _, s := range []string{"opening", "seeding", "running", "finishing", "closed"} {
		if s == state {
			m.sessionState.WithLabelValues(s).Set(1)
		} else {
			m.sessionState.WithLabelValues(s).Set(0)
		}
	}
}

func (m *restoreMetrics) RecordSessionOutcome(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.sessionOutcome.WithLabelValues(outcome).Inc()
	m.sessionDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func formatStatusCode(code int64) string {
	return strconv.FormatInt(code, 10)
}
