package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	sequencerPasses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sequencer_passes_total",
			Help: "Total number of completed sequencer passes",
		},
	)

	sequencerEnrollments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sequencer_enrollments_total",
			Help: "Enrollment outcomes per sequencer pass",
		},
		[]string{"outcome"},
	)

	emailsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sequencer_emails_sent_total",
			Help: "Total number of emails dispatched successfully",
		},
	)

	emailsBounced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sequencer_emails_bounced_total",
			Help: "Total number of emails rejected by the transport",
		},
	)

	enrollmentStops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sequencer_enrollment_stops_total",
			Help: "Enrollments stopped, by reason",
		},
		[]string{"reason"},
	)

	engagementEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engagement_events_total",
			Help: "Open/click tracking events applied",
		},
		[]string{"kind"},
	)
)

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(rw.statusCode)

		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		httpRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
	})
}

func RecordSequencerPass(processed, sent, skipped, errors int) {
	sequencerPasses.Inc()
	sequencerEnrollments.WithLabelValues("processed").Add(float64(processed))
	sequencerEnrollments.WithLabelValues("sent").Add(float64(sent))
	sequencerEnrollments.WithLabelValues("skipped").Add(float64(skipped))
	sequencerEnrollments.WithLabelValues("errors").Add(float64(errors))
}

func RecordEmailSent() {
	emailsSent.Inc()
}

func RecordEmailBounced() {
	emailsBounced.Inc()
}

func RecordEnrollmentStop(reason string) {
	enrollmentStops.WithLabelValues(reason).Inc()
}

func RecordEngagementEvent(kind string) {
	engagementEvents.WithLabelValues(kind).Inc()
}
