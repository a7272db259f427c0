package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AlexKimmel/courtgate/internal/gateway"
	"github.com/AlexKimmel/courtgate/internal/ratelimit"
	"github.com/AlexKimmel/courtgate/internal/routing"
)

type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RateLimited     *prometheus.CounterVec
	SweptEntries    prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courtgate_requests_total",
				Help: "Total HTTP requests processed by the gateway",
			},
			[]string{"route", "method", "code"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "courtgate_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		RateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courtgate_rate_limited_total",
				Help: "Total requests rejected due to rate limiting",
			},
			[]string{"route", "class"},
		),
		SweptEntries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "courtgate_limiter_swept_entries_total",
				Help: "Expired rate limiter entries removed by sweeps",
			},
		),
	}

	reg.MustRegister(m.RequestsTotal, m.RequestDuration, m.RateLimited, m.SweptEntries)
	return m
}

// OnLimited matches the gateway.RateLimit callback.
func (m *Metrics) OnLimited(routeID string, c ratelimit.Class) {
	m.RateLimited.WithLabelValues(routeID, c.String()).Inc()
}

// OnSweep matches the memory.WithSweepHook callback.
func (m *Metrics) OnSweep(removed int) {
	m.SweptEntries.Add(float64(removed))
}

// RegisterTableSize exposes the limiter's tracked key count as a gauge.
func RegisterTableSize(reg prometheus.Registerer, size func() int) {
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "courtgate_limiter_keys",
			Help: "Caller keys currently tracked by the rate limiter",
		},
		func() float64 { return float64(size()) },
	))
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Middleware records per-request metrics.
// It runs before RouteMatcher, so the matched route is handed back by
// CaptureRoute.
func (m *Metrics) Middleware(skip map[string]struct{}) gateway.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			sink := &routeSink{}

			next.ServeHTTP(rec, withRouteSink(r, sink))

			route := "unknown"
			if sink.route != nil && sink.route.ID != "" {
				route = sink.route.ID
			}

			method := r.Method
			code := rec.status
			if code == 0 {
				code = http.StatusOK
			}

			m.RequestDuration.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
			m.RequestsTotal.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
		})
	}
}

// CaptureRoute stores the matched route for the metrics middleware.
// Place it right after RouteMatcher.
func CaptureRoute() gateway.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if sink, ok := r.Context().Value(sinkKey).(*routeSink); ok {
				sink.route, _ = routing.RouteFrom(r)
			}
			next.ServeHTTP(w, r)
		})
	}
}
