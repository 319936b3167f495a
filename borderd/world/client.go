package world

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"cdr.dev/slog/v3"

	"github.com/borderwatch/borderwatch/borderd/geo"
	"github.com/borderwatch/borderwatch/buildinfo"
)

const (
	playersPath     = "players"
	territoriesPath = "territories"

	// maxBodyBytes bounds a single upstream response.
	maxBodyBytes = 32 << 20
)

// ClientOptions configures a Client.
type ClientOptions struct {
	// BaseURL is the root of the world map API. The client requests
	// <BaseURL>/players and <BaseURL>/territories.
	BaseURL *url.URL
	// HTTPClient defaults to a client with Timeout.
	HTTPClient *http.Client
	// Timeout bounds one snapshot, retries included.
	Timeout time.Duration
	// MaxRetries is the number of additional attempts per endpoint.
	MaxRetries uint64
}

// Client fetches world snapshots from a map API over HTTP.
type Client struct {
	opts ClientOptions
	log  slog.Logger
}

var _ Provider = (*Client)(nil)

// NewClient returns a Client reading from opts.BaseURL.
func NewClient(log slog.Logger, opts ClientOptions) (*Client, error) {
	if opts.BaseURL == nil {
		return nil, xerrors.New("world base url is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{opts: opts, log: log.Named("world")}, nil
}

// Snapshot fetches players and territories concurrently and joins them.
func (c *Client) Snapshot(ctx context.Context) (Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	var (
		players     []Occupant
		territories []Territory
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		body, err := c.fetch(egCtx, playersPath)
		if err != nil {
			return xerrors.Errorf("fetch players: %w", err)
		}
		players, err = ParsePlayers(body)
		if err != nil {
			return xerrors.Errorf("parse players: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		body, err := c.fetch(egCtx, territoriesPath)
		if err != nil {
			return xerrors.Errorf("fetch territories: %w", err)
		}
		territories, err = ParseTerritories(body)
		if err != nil {
			return xerrors.Errorf("parse territories: %w", err)
		}
		return nil
	})
	if err := eg.Wait(); err != nil {
		return Snapshot{}, err
	}

	c.log.Debug(ctx, "fetched world snapshot",
		slog.F("players", len(players)),
		slog.F("territories", len(territories)),
	)
	return NewSnapshot(territories, players), nil
}

func (c *Client) fetch(ctx context.Context, path string) ([]byte, error) {
	endpoint := c.opts.BaseURL.JoinPath(path).String()

	var body []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(xerrors.Errorf("create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "borderwatch/"+buildinfo.Version())

		resp, err := c.opts.HTTPClient.Do(req)
		if err != nil {
			return xerrors.Errorf("send request: %w", err)
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return xerrors.Errorf("read body: %w", err)
		}
		switch {
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return xerrors.Errorf("unexpected status %d", resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(xerrors.Errorf("unexpected status %d", resp.StatusCode))
		}
		body = b
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.opts.MaxRetries), ctx)
	err := backoff.RetryNotify(op, bo, func(err error, next time.Duration) {
		c.log.Debug(ctx, "retrying world request",
			slog.F("endpoint", endpoint),
			slog.F("next", next),
			slog.Error(err),
		)
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// ParsePlayers decodes a players document:
//
//	{"players":[{"name":"Alice","uuid":"...","x":1,"y":64,"z":2,"online":true}]}
func ParsePlayers(body []byte) ([]Occupant, error) {
	if !gjson.ValidBytes(body) {
		return nil, xerrors.New("invalid json")
	}
	list := gjson.GetBytes(body, "players")
	if !list.IsArray() {
		return nil, xerrors.New(`missing "players" array`)
	}
	var players []Occupant
	list.ForEach(func(_, v gjson.Result) bool {
		name := v.Get("name").String()
		if name == "" {
			return true
		}
		online := true
		if o := v.Get("online"); o.Exists() {
			online = o.Bool()
		}
		players = append(players, Occupant{
			Name: name,
			UUID: v.Get("uuid").String(),
			Position: geo.Vec3{
				X: v.Get("x").Float(),
				Y: v.Get("y").Float(),
				Z: v.Get("z").Float(),
			},
			Online: online,
		})
		return true
	})
	return players, nil
}

// ParseTerritories decodes a territories document:
//
//	{"territories":[{"name":"Oakland","owner":"Redwood",
//	  "areas":[{"name":"Oakland 1","points":[[0,0],[16,0],[16,16],[0,16]]}]}]}
//
// Points are [x, z] pairs. Areas with fewer than three points are dropped.
func ParseTerritories(body []byte) ([]Territory, error) {
	if !gjson.ValidBytes(body) {
		return nil, xerrors.New("invalid json")
	}
	list := gjson.GetBytes(body, "territories")
	if !list.IsArray() {
		return nil, xerrors.New(`missing "territories" array`)
	}
	var territories []Territory
	list.ForEach(func(_, v gjson.Result) bool {
		name := v.Get("name").String()
		if name == "" {
			return true
		}
		t := Territory{
			Name:  name,
			Owner: v.Get("owner").String(),
		}
		v.Get("areas").ForEach(func(_, a gjson.Result) bool {
			var poly geo.Polygon
			a.Get("points").ForEach(func(_, p gjson.Result) bool {
				xz := p.Array()
				if len(xz) != 2 {
					return true
				}
				poly = append(poly, geo.Point{X: xz[0].Float(), Z: xz[1].Float()})
				return true
			})
			if len(poly) < 3 {
				return true
			}
			t.Areas = append(t.Areas, Area{Name: a.Get("name").String(), Polygon: poly})
			return true
		})
		territories = append(territories, t)
		return true
	})
	return territories, nil
}
