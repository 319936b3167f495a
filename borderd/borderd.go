// Package borderd serves the daemon's HTTP surface: health, live episode
// diagnostics, channel management and Prometheus metrics.
package borderd

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cdr.dev/slog/v3"

	"github.com/borderwatch/borderwatch/borderd/channels"
	"github.com/borderwatch/borderwatch/borderd/database"
	"github.com/borderwatch/borderwatch/borderd/httpapi"
	"github.com/borderwatch/borderwatch/borderd/httpmw"
	"github.com/borderwatch/borderwatch/borderd/presence"
	"github.com/borderwatch/borderwatch/buildinfo"
)

// EpisodeLister exposes the live episodes of the presence engine.
type EpisodeLister interface {
	Episodes() []presence.Episode
}

// Options are requirements for creating the API.
type Options struct {
	Logger             slog.Logger
	Database           database.Store
	Channels           *channels.Registry
	Episodes           EpisodeLister
	PrometheusRegistry *prometheus.Registry
	// HealthcheckTimeout bounds the database ping of /healthz.
	HealthcheckTimeout time.Duration
	// APIRateLimit caps channel management requests per IP per minute.
	// Zero disables the limit.
	APIRateLimit int
}

type API struct {
	*Options
	RootHandler chi.Router
}

// New constructs the borderd API.
func New(options *Options) *API {
	if options == nil {
		options = &Options{}
	}
	if options.PrometheusRegistry == nil {
		options.PrometheusRegistry = prometheus.NewRegistry()
	}
	if options.HealthcheckTimeout == 0 {
		options.HealthcheckTimeout = 5 * time.Second
	}
	if options.Channels == nil && options.Database != nil {
		options.Channels = channels.New(options.Database, nil)
	}

	r := chi.NewRouter()
	api := &API{
		Options:     options,
		RootHandler: r,
	}

	r.Use(
		httpmw.AttachRequestID,
		httpmw.Logger(options.Logger.Named("http")),
		httpmw.Recover(options.Logger),
	)

	r.Get("/healthz", api.healthz)
	r.Handle("/metrics", promhttp.HandlerFor(options.PrometheusRegistry, promhttp.HandlerOpts{}))
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(rw http.ResponseWriter, _ *http.Request) {
			httpapi.Write(rw, http.StatusOK, BuildInfoResponse{
				Version:     buildinfo.Version(),
				ExternalURL: buildinfo.ExternalURL(),
			})
		})
		r.Get("/episodes", api.episodes)
		r.Route("/channels", func(r chi.Router) {
			r.Use(httpmw.RateLimit(options.APIRateLimit, time.Minute))
			r.Get("/", api.listChannels)
			r.Post("/", api.postChannel)
			r.Put("/", api.putChannel)
			r.Delete("/", api.deleteChannels)
		})
	})
	r.NotFound(func(rw http.ResponseWriter, _ *http.Request) {
		httpapi.ResourceNotFound(rw)
	})
	return api
}

type BuildInfoResponse struct {
	Version     string `json:"version"`
	ExternalURL string `json:"external_url"`
}

type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Latency  string `json:"latency,omitempty"`
}

func (api *API) healthz(rw http.ResponseWriter, r *http.Request) {
	if api.Database == nil {
		httpapi.Write(rw, http.StatusOK, HealthResponse{Status: "ok", Database: "disabled"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), api.HealthcheckTimeout)
	defer cancel()
	latency, err := api.Database.Ping(ctx)
	if err != nil {
		api.Logger.Warn(ctx, "health check ping failed", slog.Error(err))
		httpapi.Write(rw, http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy", Database: err.Error()})
		return
	}
	httpapi.Write(rw, http.StatusOK, HealthResponse{Status: "ok", Database: "ok", Latency: latency.String()})
}

func (api *API) episodes(rw http.ResponseWriter, _ *http.Request) {
	episodes := []presence.Episode{}
	if api.Episodes != nil {
		episodes = api.Episodes.Episodes()
	}
	httpapi.Write(rw, http.StatusOK, episodes)
}
