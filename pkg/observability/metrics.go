package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. Its recording methods are safe on a nil
// receiver so components can be built without metrics in tests and tooling.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Authorization metrics
	AuthzDecisionsTotal  *prometheus.CounterVec
	IntegrityIssuesTotal *prometheus.CounterVec
	MembershipMutations  *prometheus.CounterVec
	TransactionRetries   *prometheus.CounterVec
	SystemAdminChanges   *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsOpen         prometheus.Gauge
	DBConnectionsInUse        prometheus.Gauge
	DBConnectionsIdle         prometheus.Gauge
	DBConnectionsWaitCount    prometheus.Gauge
	DBConnectionsWaitDuration prometheus.Gauge

	// Token metrics
	APITokensCleanedTotal prometheus.Counter
	AuthFailuresTotal     *prometheus.CounterVec
	RateLimitedTotal      *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crew_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crew_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crew_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "route"},
		),

		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crew_authz_decisions_total",
				Help: "Authorization gate decisions by check type",
			},
			[]string{"check", "decision"},
		),
		IntegrityIssuesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crew_rbac_integrity_issues_total",
				Help: "Malformed permission lists, dropped permissions and storage failures seen during checks",
			},
			[]string{"kind", "source"},
		),
		MembershipMutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crew_membership_mutations_total",
				Help: "Membership writes by operation and result",
			},
			[]string{"operation", "result"},
		),
		TransactionRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crew_transaction_retries_total",
				Help: "Serializable transactions retried after a serialization failure",
			},
			[]string{"operation"},
		),
		SystemAdminChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crew_system_admin_changes_total",
				Help: "System administrator grants and revocations",
			},
			[]string{"action"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crew_cache_hits_total",
				Help: "Permission lookup cache hits",
			},
			[]string{"layer", "kind"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crew_cache_misses_total",
				Help: "Permission lookup cache misses",
			},
			[]string{"layer", "kind"},
		),

		DBConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crew_db_connections_open",
			Help: "Number of open database connections",
		}),
		DBConnectionsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crew_db_connections_in_use",
			Help: "Number of database connections in use",
		}),
		DBConnectionsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crew_db_connections_idle",
			Help: "Number of idle database connections",
		}),
		DBConnectionsWaitCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crew_db_connections_wait_count",
			Help: "Total number of connections waited for",
		}),
		DBConnectionsWaitDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crew_db_connections_wait_duration_seconds",
			Help: "Total time blocked waiting for a new connection",
		}),

		APITokensCleanedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crew_api_tokens_cleaned_total",
			Help: "Expired API tokens revoked by the cleanup job",
		}),
		AuthFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crew_auth_failures_total",
				Help: "Requests rejected or failed during token authentication",
			},
			[]string{"reason"},
		),
		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crew_rate_limited_total",
				Help: "Requests rejected by the rate limiter",
			},
			[]string{"scope"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.AuthzDecisionsTotal,
		m.IntegrityIssuesTotal,
		m.MembershipMutations,
		m.TransactionRetries,
		m.SystemAdminChanges,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DBConnectionsOpen,
		m.DBConnectionsInUse,
		m.DBConnectionsIdle,
		m.DBConnectionsWaitCount,
		m.DBConnectionsWaitDuration,
		m.APITokensCleanedTotal,
		m.AuthFailuresTotal,
		m.RateLimitedTotal,
	)

	return m
}

// CacheHit records a lookup served by a cache layer ("l1" or "l2")
func (m *Metrics) CacheHit(layer, kind string) {
	if m == nil {
		return
	}
	m.CacheHitsTotal.WithLabelValues(layer, kind).Inc()
}

// CacheMiss records a lookup a cache layer had to read through
func (m *Metrics) CacheMiss(layer, kind string) {
	if m == nil {
		return
	}
	m.CacheMissesTotal.WithLabelValues(layer, kind).Inc()
}

// AuthzDecision records the outcome of an HTTP permission gate
func (m *Metrics) AuthzDecision(check string, allowed bool) {
	if m == nil {
		return
	}
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	m.AuthzDecisionsTotal.WithLabelValues(check, decision).Inc()
}

// IntegrityIssue records a data problem reported by the permission checker
func (m *Metrics) IntegrityIssue(kind, source string) {
	if m == nil {
		return
	}
	m.IntegrityIssuesTotal.WithLabelValues(kind, source).Inc()
}

// MembershipMutation records a membership write and its result ("ok" or an error class)
func (m *Metrics) MembershipMutation(operation, result string) {
	if m == nil {
		return
	}
	m.MembershipMutations.WithLabelValues(operation, result).Inc()
}

// TransactionRetry records a retried serializable transaction
func (m *Metrics) TransactionRetry(operation string) {
	if m == nil {
		return
	}
	m.TransactionRetries.WithLabelValues(operation).Inc()
}

// SystemAdminChange records a grant or revocation of system administrator status
func (m *Metrics) SystemAdminChange(granted bool) {
	if m == nil {
		return
	}
	action := "revoke"
	if granted {
		action = "grant"
	}
	m.SystemAdminChanges.WithLabelValues(action).Inc()
}

// TokensCleaned records expired tokens revoked by the cleanup job
func (m *Metrics) TokensCleaned(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.APITokensCleanedTotal.Add(float64(n))
}

// AuthFailure records a failed authentication attempt by reason
func (m *Metrics) AuthFailure(reason string) {
	if m == nil {
		return
	}
	m.AuthFailuresTotal.WithLabelValues(reason).Inc()
}

// RateLimited records a request rejected by the limiter for scope ("user" or "ip")
func (m *Metrics) RateLimited(scope string) {
	if m == nil {
		return
	}
	m.RateLimitedTotal.WithLabelValues(scope).Inc()
}

// UpdateDBStats copies connection pool statistics into the database gauges
func (m *Metrics) UpdateDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
	m.DBConnectionsInUse.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBConnectionsWaitCount.Set(float64(stats.WaitCount))
	m.DBConnectionsWaitDuration.Set(stats.WaitDuration.Seconds())
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware records request metrics labelled by route template, so
// /projects/1/members and /projects/2/members share one series
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, route).Observe(float64(rw.bytesWritten))
		})
	}
}

func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(serveMux *http.ServeMux, registry *prometheus.Registry) {
	serveMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
