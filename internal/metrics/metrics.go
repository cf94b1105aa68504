package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Names of the application counters.
const (
	CounterUsersRegistered   = "users_registered"
	CounterLoginsFailed      = "logins_failed"
	CounterProfilesUpdated   = "profiles_updated"
	CounterMessagesSent      = "messages_sent"
	CounterBroadcastsSent    = "broadcasts_sent"
	CounterBroadcastsDropped = "broadcasts_dropped"
)

// Metrics holds all application metrics
type Metrics struct {
	mu sync.RWMutex

	requestCount  map[string]*uint64 // endpoint:method -> count
	requestErrors map[string]*uint64 // endpoint:method:status_class -> count
	durationSum   map[string]*uint64 // endpoint:method -> total microseconds

	activeWSConnections int64
	counters            map[string]*uint64

	startTime time.Time
}

// New creates a new Metrics instance
func New() *Metrics {
	return &Metrics{
		requestCount:  make(map[string]*uint64),
		requestErrors: make(map[string]*uint64),
		durationSum:   make(map[string]*uint64),
		counters:      make(map[string]*uint64),
		startTime:     time.Now(),
	}
}

// global metrics instance
var defaultMetrics = New()

// Default returns the default metrics instance
func Default() *Metrics {
	return defaultMetrics
}

func (m *Metrics) slot(table map[string]*uint64, key string) *uint64 {
	m.mu.RLock()
	p := table[key]
	m.mu.RUnlock()
	if p != nil {
		return p
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if p = table[key]; p == nil {
		p = new(uint64)
		table[key] = p
	}
	return p
}

// RecordRequest records a request. endpoint should be the route pattern so
// label cardinality stays bounded.
func (m *Metrics) RecordRequest(method, endpoint string, statusCode int, duration time.Duration) {
	key := endpoint + "|" + method
	atomic.AddUint64(m.slot(m.requestCount, key), 1)
	atomic.AddUint64(m.slot(m.durationSum, key), uint64(duration.Microseconds()))

	if statusCode >= 400 {
		errorKey := fmt.Sprintf("%s|%dxx", key, statusCode/100)
		atomic.AddUint64(m.slot(m.requestErrors, errorKey), 1)
	}
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	atomic.AddInt64(&m.activeWSConnections, 1)
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	atomic.AddInt64(&m.activeWSConnections, -1)
}

// IncCounter increments a counter
func (m *Metrics) IncCounter(name string) {
	atomic.AddUint64(m.slot(m.counters, name), 1)
}

// Counter returns the current value of a counter.
func (m *Metrics) Counter(name string) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p := m.counters[name]; p != nil {
		return atomic.LoadUint64(p)
	}
	return 0
}

func sortedKeys(table map[string]*uint64) []string {
	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder

		sb.WriteString("# HELP chat_uptime_seconds Time since the server started\n")
		sb.WriteString("# TYPE chat_uptime_seconds gauge\n")
		fmt.Fprintf(&sb, "chat_uptime_seconds %f\n\n", time.Since(m.startTime).Seconds())

		sb.WriteString("# HELP chat_websocket_connections_active Active WebSocket connections\n")
		sb.WriteString("# TYPE chat_websocket_connections_active gauge\n")
		fmt.Fprintf(&sb, "chat_websocket_connections_active %d\n\n", atomic.LoadInt64(&m.activeWSConnections))

		m.mu.RLock()
		defer m.mu.RUnlock()

		if len(m.requestCount) > 0 {
			sb.WriteString("# HELP chat_http_requests_total Total HTTP requests\n")
			sb.WriteString("# TYPE chat_http_requests_total counter\n")
			for _, key := range sortedKeys(m.requestCount) {
				parts := strings.SplitN(key, "|", 2)
				fmt.Fprintf(&sb, "chat_http_requests_total{endpoint=%q,method=%q} %d\n", parts[0], parts[1], atomic.LoadUint64(m.requestCount[key]))
			}
			sb.WriteString("\n")

			sb.WriteString("# HELP chat_http_request_duration_seconds_sum Total time spent serving requests\n")
			sb.WriteString("# TYPE chat_http_request_duration_seconds_sum counter\n")
			for _, key := range sortedKeys(m.durationSum) {
				parts := strings.SplitN(key, "|", 2)
				secs := float64(atomic.LoadUint64(m.durationSum[key])) / 1e6
				fmt.Fprintf(&sb, "chat_http_request_duration_seconds_sum{endpoint=%q,method=%q} %f\n", parts[0], parts[1], secs)
			}
			sb.WriteString("\n")
		}

		if len(m.requestErrors) > 0 {
			sb.WriteString("# HELP chat_http_errors_total Total HTTP errors by status class\n")
			sb.WriteString("# TYPE chat_http_errors_total counter\n")
			for _, key := range sortedKeys(m.requestErrors) {
				parts := strings.SplitN(key, "|", 3)
				fmt.Fprintf(&sb, "chat_http_errors_total{endpoint=%q,method=%q,status_class=%q} %d\n", parts[0], parts[1], parts[2], atomic.LoadUint64(m.requestErrors[key]))
			}
			sb.WriteString("\n")
		}

		if len(m.counters) > 0 {
			sb.WriteString("# HELP chat_events_total Application events\n")
			sb.WriteString("# TYPE chat_events_total counter\n")
			for _, name := range sortedKeys(m.counters) {
				fmt.Fprintf(&sb, "chat_events_total{name=%q} %d\n", name, atomic.LoadUint64(m.counters[name]))
			}
		}

		w.Write([]byte(sb.String()))
	}
}

// MetricsMiddleware creates middleware that records request metrics
func MetricsMiddleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &statusResponseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(wrapped, r)

			endpoint := r.Pattern
			if endpoint == "" {
				endpoint = "unmatched"
			}
			m.RecordRequest(r.Method, endpoint, wrapped.statusCode, time.Since(start))
		})
	}
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (w *statusResponseWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		w.statusCode = code
	}
	w.ResponseWriter.WriteHeader(code)
}
