package logger

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	apperrors "github.com/globalchat/backend/internal/errors"
)

// statusRecorder remembers the status and byte count of a response.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

// Hijack lets the websocket upgrader take over the connection.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// quietPaths are polled by probes and scrapers and would drown the log.
var quietPaths = []string{"/health", "/metrics"}

func isQuiet(path string) bool {
	for _, p := range quietPaths {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// LoggingMiddleware writes one access log line per request.
func LoggingMiddleware(next http.Handler) http.Handler {
	log := Default().WithComponent("http")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isQuiet(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}

		fields := map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      status,
			"bytes":       rec.bytes,
			"duration_ms": time.Since(start).Milliseconds(),
			"client_ip":   clientIP(r),
		}
		if q := sanitizeQuery(r.URL.RawQuery); q != "" {
			fields["query"] = q
		}

		switch {
		case status >= 500:
			log.Warn(r.Context(), "request failed", fields)
		case status >= 400:
			log.Info(r.Context(), "request rejected", fields)
		default:
			log.Info(r.Context(), "request completed", fields)
		}
	})
}

var sensitiveParams = []string{"token", "password", "secret", "key", "auth"}

// sanitizeQuery re-encodes a query string with credential-like values
// replaced. Unparseable queries are dropped entirely.
func sanitizeQuery(raw string) string {
	if raw == "" {
		return ""
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return "[unparseable]"
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		redact := false
		lower := strings.ToLower(k)
		for _, s := range sensitiveParams {
			if strings.Contains(lower, s) {
				redact = true
				break
			}
		}
		for _, v := range values[k] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			if redact {
				b.WriteString("[REDACTED]")
			} else {
				b.WriteString(url.QueryEscape(v))
			}
		}
	}
	return b.String()
}

// clientIP prefers the first X-Forwarded-For hop, then the peer address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RecoveryMiddleware turns a panic into a logged 500. The panic value stays
// in the log.
func RecoveryMiddleware(next http.Handler) http.Handler {
	log := Default().WithComponent("recovery")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			log.Error(r.Context(), "panic recovered", nil, map[string]interface{}{
				"panic":  rec,
				"method": r.Method,
				"path":   r.URL.Path,
			})
			apperrors.WriteError(w, apperrors.GetRequestID(r.Context()), apperrors.InternalError("an unexpected error occurred"))
		}()

		next.ServeHTTP(w, r)
	})
}

// ErrorObserver logs what apperrors handlers return: client errors at debug,
// the rest at error with the cause attached.
func ErrorObserver(log *Logger) apperrors.ErrorObserver {
	return func(r *http.Request, err error) {
		fields := map[string]interface{}{
			"method": r.Method,
			"path":   r.URL.Path,
		}
		if apperrors.IsClientError(err) {
			log.Debug(r.Context(), err.Error(), fields)
			return
		}
		log.Error(r.Context(), "request failed", err, fields)
	}
}
