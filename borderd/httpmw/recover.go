package httpmw

import (
	"context"
	"net/http"
	"runtime/debug"

	"cdr.dev/slog/v3"

	"github.com/borderwatch/borderwatch/borderd/httpapi"
)

func Recover(log slog.Logger) func(h http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				r := recover()
				if r != nil {
					log.Warn(context.Background(),
						"panic serving http request (recovered)",
						slog.F("panic", r),
						slog.F("stack", string(debug.Stack())),
					)
					httpapi.InternalServerError(w, nil)
				}
			}()

			h.ServeHTTP(w, r)
		})
	}
}
