package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"os/signal"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"cdr.dev/slog/v3"
	"github.com/coder/serpent"

	"github.com/borderwatch/borderwatch/borderd"
	"github.com/borderwatch/borderwatch/borderd/channels"
	"github.com/borderwatch/borderwatch/borderd/database"
	"github.com/borderwatch/borderwatch/borderd/notifications"
	"github.com/borderwatch/borderwatch/borderd/notifications/dispatch"
	"github.com/borderwatch/borderwatch/borderd/presence"
	"github.com/borderwatch/borderwatch/borderd/render"
	"github.com/borderwatch/borderwatch/borderd/residency"
	"github.com/borderwatch/borderwatch/borderd/world"
	"github.com/borderwatch/borderwatch/buildinfo"
	"github.com/borderwatch/borderwatch/cli/clilog"
)

// ServerOptions are the settings of the server command.
type ServerOptions struct {
	WorldURL              serpent.String
	WorldTimeout          serpent.Duration
	MapURL                serpent.String
	MapZoom               serpent.Int64
	FaceURL               serpent.String
	RefreshInterval       serpent.Duration
	HTTPAddress           serpent.String
	Destinations          serpent.String
	ResidencyMinSightings serpent.Int64
	APIRateLimit          serpent.Int64
	Logging               clilog.Options
}

func (o *ServerOptions) Options() serpent.OptionSet {
	opts := serpent.OptionSet{
		{
			Name:        "World URL",
			Flag:        "world-url",
			Env:         "BORDERWATCH_WORLD_URL",
			Description: "Base URL of the world map API. Players are read from <url>/players and territories from <url>/territories.",
			Value:       &o.WorldURL,
		},
		{
			Name:        "World Timeout",
			Flag:        "world-timeout",
			Env:         "BORDERWATCH_WORLD_TIMEOUT",
			Description: "Time allowed for fetching one world snapshot, retries included.",
			Default:     "20s",
			Value:       &o.WorldTimeout,
		},
		{
			Name:        "Map URL",
			Flag:        "map-url",
			Env:         "BORDERWATCH_MAP_URL",
			Description: "Web map linked from the coordinates of a notification.",
			Value:       &o.MapURL,
		},
		{
			Name:        "Map Zoom",
			Flag:        "map-zoom",
			Env:         "BORDERWATCH_MAP_ZOOM",
			Description: "Zoom level of the web map link.",
			Default:     "5",
			Value:       &o.MapZoom,
		},
		{
			Name:        "Face URL",
			Flag:        "face-url",
			Env:         "BORDERWATCH_FACE_URL",
			Description: "Prefix of player face thumbnails. The player name is appended.",
			Value:       &o.FaceURL,
		},
		{
			Name:        "Refresh Interval",
			Flag:        "refresh-interval",
			Env:         "BORDERWATCH_REFRESH_INTERVAL",
			Description: "How often the world is polled.",
			Default:     presence.DefaultInterval.String(),
			Value:       &o.RefreshInterval,
		},
		{
			Name:        "HTTP Address",
			Flag:        "http-address",
			Env:         "BORDERWATCH_HTTP_ADDRESS",
			Description: "Address serving health, metrics and the channel API.",
			Default:     "127.0.0.1:3110",
			Value:       &o.HTTPAddress,
		},
		{
			Name:        "Destinations",
			Flag:        "destinations",
			Env:         "BORDERWATCH_DESTINATIONS",
			Description: "YAML file mapping channel references to webhook URLs.",
			Value:       &o.Destinations,
		},
		{
			Name:        "Residency Minimum Sightings",
			Flag:        "residency-min-sightings",
			Env:         "BORDERWATCH_RESIDENCY_MIN_SIGHTINGS",
			Description: "Ticks a player must have been seen in a territory before it is considered their residence.",
			Default:     fmt.Sprint(residency.DefaultMinSightings),
			Value:       &o.ResidencyMinSightings,
		},
		{
			Name:        "API Rate Limit",
			Flag:        "api-rate-limit",
			Env:         "BORDERWATCH_API_RATE_LIMIT",
			Description: "Maximum channel API requests per minute from one IP. Set to 0 to disable.",
			Default:     "60",
			Value:       &o.APIRateLimit,
		},
	}
	o.Logging.Attach(&opts)
	return opts
}

func (o *ServerOptions) validate() (*url.URL, error) {
	if o.WorldURL.String() == "" {
		return nil, xerrors.New("--world-url is required")
	}
	worldURL, err := url.Parse(o.WorldURL.String())
	if err != nil {
		return nil, xerrors.Errorf("parse --world-url: %w", err)
	}
	if worldURL.Scheme != "http" && worldURL.Scheme != "https" {
		return nil, xerrors.Errorf("--world-url must be an http(s) URL, got %q", o.WorldURL.String())
	}
	if o.RefreshInterval.Value() <= 0 {
		return nil, xerrors.New("--refresh-interval must be positive")
	}
	if o.ResidencyMinSightings.Value() < 1 {
		return nil, xerrors.New("--residency-min-sightings must be at least 1")
	}
	return worldURL, nil
}

func (r *RootCmd) server() *serpent.Command {
	var opts ServerOptions
	return &serpent.Command{
		Use:        "server",
		Short:      "Watch territories and notify subscribed channels",
		Middleware: serpent.RequireNArgs(0),
		Options:    opts.Options(),
		Handler: func(inv *serpent.Invocation) error {
			ctx, cancel := context.WithCancel(inv.Context())
			defer cancel()

			worldURL, err := opts.validate()
			if err != nil {
				return err
			}

			logger, closeLog, err := clilog.New(clilog.FromOptions(&opts.Logging)).Build(inv)
			if err != nil {
				return xerrors.Errorf("make logger: %w", err)
			}
			defer closeLog()

			clock := r.clock()
			interval := opts.RefreshInterval.Value()

			dests, err := notifications.LoadDestinations(opts.Destinations.String())
			if err != nil {
				return err
			}

			db, err := database.Open(ctx, r.dbPath.String())
			if err != nil {
				return xerrors.Errorf("open database: %w", err)
			}
			defer db.Close()

			worldClient, err := world.NewClient(logger, world.ClientOptions{
				BaseURL:    worldURL,
				Timeout:    opts.WorldTimeout.Value(),
				MaxRetries: 3,
			})
			if err != nil {
				return xerrors.Errorf("create world client: %w", err)
			}

			registry := channels.New(db, clock)
			promRegistry := prometheus.NewRegistry()

			ticker := clock.NewTicker(interval, "presence")
			defer ticker.Stop()
			engine := presence.New(ctx, presence.Options{
				Provider:     worldClient,
				Channels:     registry,
				Destinations: dests,
				Residency:    residency.NewInferrer(db, opts.ResidencyMinSightings.Value()),
				Sightings:    residency.NewRecorder(db, logger, clock),
				Sink:         dispatch.NewWebhookDispatcher(logger, &http.Client{Timeout: 30 * time.Second}),
				Renderer:     render.New(render.Options{}),
				Interval:     interval,
				MapURL:       opts.MapURL.String(),
				MapZoom:      int(opts.MapZoom.Value()),
				FaceURL:      opts.FaceURL.String(),
				Clock:        clock,
				Metrics:      presence.NewMetrics(promRegistry),
				Logger:       logger,
			}, ticker.C)
			engine.Start()
			defer engine.Close()

			api := borderd.New(&borderd.Options{
				Logger:             logger,
				Database:           db,
				Channels:           registry,
				Episodes:           engine,
				PrometheusRegistry: promRegistry,
				APIRateLimit:       int(opts.APIRateLimit.Value()),
			})

			listener, err := net.Listen("tcp", opts.HTTPAddress.String())
			if err != nil {
				return xerrors.Errorf("listen %q: %w", opts.HTTPAddress.String(), err)
			}
			defer listener.Close()

			shutdownConnsCtx, shutdownConns := context.WithCancel(ctx)
			defer shutdownConns()
			server := &http.Server{
				// These errors are typically noise like "EOF".
				ErrorLog:          log.New(io.Discard, "", 0),
				Handler:           api.RootHandler,
				ReadHeaderTimeout: 10 * time.Second,
				BaseContext: func(_ net.Listener) context.Context {
					return shutdownConnsCtx
				},
			}

			errCh := make(chan error, 1)
			eg := errgroup.Group{}
			eg.Go(func() error {
				err := server.Serve(listener)
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			})
			go func() {
				errCh <- eg.Wait()
			}()

			logger.Info(ctx, "borderwatch server started",
				slog.F("version", buildinfo.Version()),
				slog.F("http_address", listener.Addr().String()),
				slog.F("world_url", worldURL.String()),
				slog.F("refresh_interval", interval),
				slog.F("destinations", dests.Refs()),
			)
			_, _ = fmt.Fprintf(inv.Stdout, "Started HTTP listener at http://%s\n", listener.Addr().String())

			notifyCtx, stop := signal.NotifyContext(ctx, StopSignals...)
			defer stop()

			var exitErr error
			select {
			case <-notifyCtx.Done():
				_, _ = fmt.Fprintln(inv.Stdout, "Interrupt caught, gracefully exiting...")
			case exitErr = <-errCh:
				if exitErr != nil {
					exitErr = xerrors.Errorf("serve http: %w", exitErr)
				}
			}

			var shutdownErr *multierror.Error
			if err := shutdownWithTimeout(server, 5*time.Second); err != nil {
				shutdownErr = multierror.Append(shutdownErr, xerrors.Errorf("shutdown http server: %w", err))
			}
			shutdownConns()
			engine.Close()
			logger.Info(ctx, "presence engine stopped", slog.F("live_episodes", len(engine.Episodes())))
			if err := db.Close(); err != nil {
				shutdownErr = multierror.Append(shutdownErr, xerrors.Errorf("close database: %w", err))
			}

			if exitErr != nil {
				return exitErr
			}
			return shutdownErr.ErrorOrNil()
		},
	}
}

func shutdownWithTimeout(s interface{ Shutdown(context.Context) error }, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Shutdown(ctx)
}
