package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// redactedParams lists query parameter names that never appear in logs.
var redactedParams = map[string]struct{}{
	"token":         {},
	"code":          {},
	"key":           {},
	"secret":        {},
	"password":      {},
	"api_key":       {},
	"apikey":        {},
	"access_token":  {},
	"refresh_token": {},
}

// RequestLoggingMiddleware logs one line per request with method, path,
// status, latency and client address.
type RequestLoggingMiddleware struct {
	logger *slog.Logger
}

func NewRequestLoggingMiddleware(logger *slog.Logger) *RequestLoggingMiddleware {
	return &RequestLoggingMiddleware{logger: logger}
}

// Handler wraps next with request logging. Health, metrics and file-serving
// paths are skipped to keep the log readable.
func (m *RequestLoggingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if skipLogging(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		attrs := []any{
			"method", r.Method,
			"path", loggablePath(r.URL),
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", clientAddr(r),
			"user_agent", r.UserAgent(),
		}

		if rec.status >= 500 {
			m.logger.Warn("request", attrs...)
		} else {
			m.logger.Info("request", attrs...)
		}
	})
}

func skipLogging(path string) bool {
	return path == "/health" ||
		path == "/metrics" ||
		strings.HasPrefix(path, "/files/")
}

// statusWriter captures the status code written by the handler.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

// clientAddr prefers proxy-supplied headers over the socket address.
func clientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// loggablePath renders the request path with credential-bearing query
// parameters replaced by a placeholder.
func loggablePath(u *url.URL) string {
	if u.RawQuery == "" {
		return u.Path
	}

	q, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return u.Path
	}
	for name := range q {
		if _, sensitive := redactedParams[strings.ToLower(name)]; sensitive {
			q.Set(name, "[REDACTED]")
		}
	}
	return u.Path + "?" + q.Encode()
}
