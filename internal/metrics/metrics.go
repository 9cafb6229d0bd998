// Package metrics holds the Prometheus collectors for the CRM.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joescharf/crm/internal/crmerr"
)

var (
	MutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_mutations_total",
			Help: "Total number of CRM mutations by operation and result code",
		},
		[]string{"op", "result"},
	)

	MutationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crm_mutation_duration_seconds",
			Help:    "Duration of CRM mutations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	PartialCompositeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_partial_composite_failures_total",
			Help: "Composite operations that stopped after some steps had been applied",
		},
		[]string{"op"},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_events_published_total",
			Help: "Domain events handed to the publisher, by result",
		},
		[]string{"result"},
	)

	PipelineValue = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crm_pipeline_value_rupees",
			Help: "Sum of deal values per pipeline stage",
		},
		[]string{"stage"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crm_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

// ResultLabel is the "result" label for err: "ok", the error code, or "internal".
func ResultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	code := crmerr.CodeOf(err)
	if code == "" {
		return "internal"
	}
	return string(code)
}

// ObserveMutation records one finished mutation.
func ObserveMutation(op string, start time.Time, err error) {
	MutationsTotal.WithLabelValues(op, ResultLabel(err)).Inc()
	MutationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if crmerr.IsPartialComposite(err) {
		PartialCompositeFailures.WithLabelValues(op).Inc()
	}
}

// RecordEvent counts a publish attempt.
func RecordEvent(err error) {
	if err != nil {
		EventsPublished.WithLabelValues("error").Inc()
		return
	}
	EventsPublished.WithLabelValues("ok").Inc()
}

// SetPipelineValue sets the gauge for one stage.
func SetPipelineValue(stage string, rupees int64) {
	PipelineValue.WithLabelValues(stage).Set(float64(rupees))
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses working through the middleware.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware counts requests and observes their latency.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		httpRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rw.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}
