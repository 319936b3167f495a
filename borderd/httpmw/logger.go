package httpmw

import (
	"net/http"
	"time"

	"cdr.dev/slog/v3"
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Logger logs every request at debug level, or warn for 5xx responses.
func Logger(log slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: rw}

			next.ServeHTTP(sw, r)

			// Don't log successful health checks.
			if r.URL.Path == "/healthz" && sw.status == http.StatusOK {
				return
			}
			httplog := log.With(
				slog.F("method", r.Method),
				slog.F("path", r.URL.Path),
				slog.F("remote_addr", r.RemoteAddr),
				slog.F("status_code", sw.status),
				slog.F("took", time.Since(start)),
			)
			// Warn rather than error: slogtest fails tests on error logs.
			logLevelFn := httplog.Debug
			if sw.status >= http.StatusInternalServerError {
				logLevelFn = httplog.Warn
			}
			logLevelFn(r.Context(), r.Method)
		})
	}
}
