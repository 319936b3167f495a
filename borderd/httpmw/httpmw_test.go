package httpmw_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/borderwatch/borderwatch/borderd/httpmw"
	"github.com/borderwatch/borderwatch/testutil"
)

func TestRequestID(t *testing.T) {
	t.Parallel()

	var seen uuid.UUID
	rtr := chi.NewRouter()
	rtr.Use(httpmw.AttachRequestID)
	rtr.Get("/", func(rw http.ResponseWriter, r *http.Request) {
		seen = httpmw.RequestID(r)
		rw.WriteHeader(http.StatusOK)
	})

	rw := httptest.NewRecorder()
	rtr.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rw.Code)
	require.NotEqual(t, uuid.Nil, seen)
	require.Equal(t, seen.String(), rw.Header().Get("X-Borderwatch-Request-Id"))
}

func TestRecover(t *testing.T) {
	t.Parallel()

	rtr := chi.NewRouter()
	rtr.Use(httpmw.Logger(testutil.Logger(t)), httpmw.Recover(testutil.Logger(t)))
	rtr.Get("/", func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})

	rw := httptest.NewRecorder()
	rtr.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rw.Code)
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	t.Run("Limited", func(t *testing.T) {
		t.Parallel()
		rtr := chi.NewRouter()
		rtr.Use(httpmw.RateLimit(1, time.Minute))
		rtr.Get("/", func(rw http.ResponseWriter, _ *http.Request) {
			rw.WriteHeader(http.StatusOK)
		})

		rw := httptest.NewRecorder()
		rtr.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusOK, rw.Code)

		rw = httptest.NewRecorder()
		rtr.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusTooManyRequests, rw.Code)
		require.Contains(t, rw.Body.String(), "rate limited")
	})

	t.Run("Disabled", func(t *testing.T) {
		t.Parallel()
		rtr := chi.NewRouter()
		rtr.Use(httpmw.RateLimit(0, time.Minute))
		rtr.Get("/", func(rw http.ResponseWriter, _ *http.Request) {
			rw.WriteHeader(http.StatusOK)
		})

		for i := 0; i < 5; i++ {
			rw := httptest.NewRecorder()
			rtr.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/", nil))
			require.Equal(t, http.StatusOK, rw.Code)
		}
	})
}
