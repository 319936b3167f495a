package httpmw

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/borderwatch/borderwatch/borderd/httpapi"
)

// RateLimit returns a handler that limits requests per IP. A count of zero
// or less disables limiting.
func RateLimit(count int, window time.Duration) func(http.Handler) http.Handler {
	if count <= 0 {
		return func(handler http.Handler) http.Handler {
			return handler
		}
	}

	return httprate.Limit(
		count,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			httpapi.Write(w, http.StatusTooManyRequests, httpapi.Response{
				Message: "You've been rate limited for sending too many requests!",
			})
		}),
	)
}
