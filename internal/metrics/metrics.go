// Package metrics exposes Prometheus collectors for release check runs and
// the HTTP surface. Route labels use the registered chi pattern so label
// cardinality stays bounded.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"release_notifier/internal/domain"
)

const namespace = "release_notifier"

// unmatchedRoute labels requests no registered route matched.
const unmatchedRoute = "unmatched"

// Run outcomes.
const (
	OutcomeSuccess      = "success"
	OutcomeCycleReset   = "cycle_reset"
	OutcomeDeadline     = "deadline"
	OutcomeUnavailable  = "catalog_unavailable"
	OutcomeUnauthorized = "unauthorized"
	OutcomeInProgress   = "in_progress"
	OutcomeError        = "error"
)

type Metrics struct {
	runs                 *prometheus.CounterVec
	usersProcessed       prometheus.Counter
	notificationsCreated prometheus.Counter
	artistFailures       prometheus.Counter
	publishErrors        prometheus.Counter
	runDuration          prometheus.Histogram

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpInflight prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Release check invocations by outcome.",
		}, []string{"outcome"}),
		usersProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "users_processed_total",
			Help:      "Users fully processed by release checks.",
		}),
		notificationsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_created_total",
			Help:      "Notifications created by release checks.",
		}),
		artistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artist_failures_total",
			Help:      "Followed artists whose check failed.",
		}),
		publishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Created notifications that could not be pushed.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of completed release checks.",
			Buckets:   []float64{.5, 1, 2.5, 5, 10, 20, 30, 45, 60},
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		httpInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_inflight",
			Help:      "Current number of in-flight HTTP requests.",
		}),
	}

	reg.MustRegister(
		m.runs,
		m.usersProcessed,
		m.notificationsCreated,
		m.artistFailures,
		m.publishErrors,
		m.runDuration,
		m.httpRequests,
		m.httpDuration,
		m.httpInflight,
	)

	return m
}

// ObserveRun records the outcome of one invocation. summary is nil when the
// run was rejected or aborted.
func (m *Metrics) ObserveRun(summary *domain.RunSummary, err error) {
	m.runs.WithLabelValues(Outcome(summary, err)).Inc()

	if summary == nil || err != nil {
		return
	}

	m.usersProcessed.Add(float64(summary.UsersProcessed))
	m.notificationsCreated.Add(float64(summary.NotificationsCreated))
	m.artistFailures.Add(float64(summary.ArtistFailures))
	m.publishErrors.Add(float64(summary.PublishErrors))
	m.runDuration.Observe(summary.Duration.Seconds())
}

func Outcome(summary *domain.RunSummary, err error) string {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return OutcomeUnauthorized
	case errors.Is(err, domain.ErrRunInProgress):
		return OutcomeInProgress
	case err != nil || summary == nil:
		return OutcomeError
	case summary.CycleCompleted:
		return OutcomeCycleReset
	case summary.CatalogUnavailable:
		return OutcomeUnavailable
	case summary.DeadlineReached:
		return OutcomeDeadline
	default:
		return OutcomeSuccess
	}
}

// Middleware instruments requests handled by a chi router.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.httpInflight.Inc()
		defer m.httpInflight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := unmatchedRoute
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		m.httpRequests.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
