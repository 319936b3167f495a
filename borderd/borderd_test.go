package borderd_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/borderwatch/borderwatch/borderd"
	"github.com/borderwatch/borderwatch/borderd/channels"
	"github.com/borderwatch/borderwatch/borderd/database/dbmem"
	"github.com/borderwatch/borderwatch/borderd/geo"
	"github.com/borderwatch/borderwatch/borderd/httpapi"
	"github.com/borderwatch/borderwatch/borderd/notifications"
	"github.com/borderwatch/borderwatch/borderd/presence"
	"github.com/borderwatch/borderwatch/testutil"
)

type staticEpisodes []presence.Episode

func (s staticEpisodes) Episodes() []presence.Episode {
	return s
}

func newAPI(t *testing.T, episodes borderd.EpisodeLister) (*httptest.Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	api := borderd.New(&borderd.Options{
		Logger:             testutil.Logger(t),
		Database:           dbmem.New(),
		Episodes:           episodes,
		PrometheusRegistry: reg,
	})
	srv := httptest.NewServer(api.RootHandler)
	t.Cleanup(srv.Close)
	return srv, reg
}

func do(t *testing.T, method, url string, body interface{}) (int, []byte) {
	t.Helper()
	ctx := testutil.Context(t, testutil.WaitShort)
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, r)
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res.StatusCode, data
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	srv, _ := newAPI(t, nil)

	status, body := do(t, http.MethodGet, srv.URL+"/healthz", nil)
	require.Equal(t, http.StatusOK, status)
	var resp borderd.HealthResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	require.Equal(t, "ok", resp.Status)
}

func TestEpisodes(t *testing.T) {
	t.Parallel()
	srv, _ := newAPI(t, staticEpisodes{{
		Territory:    "Oakland",
		Occupant:     "Alice",
		ElapsedTicks: 3,
		Journey:      []geo.Point{{X: 1, Z: 2}},
		Notice: &presence.Notice{Handle: notifications.Handle{
			Destination: notifications.Destination{Ref: "alerts", URL: "https://hooks.example/secret-token"},
			MessageID:   "42",
		}},
	}})

	status, body := do(t, http.MethodGet, srv.URL+"/api/v1/episodes", nil)
	require.Equal(t, http.StatusOK, status)
	require.NotContains(t, string(body), "secret-token")

	var episodes []presence.Episode
	require.NoError(t, json.Unmarshal(body, &episodes))
	require.Len(t, episodes, 1)
	require.Equal(t, 3, episodes[0].ElapsedTicks)
	require.Equal(t, "42", episodes[0].Notice.Handle.MessageID)

	t.Run("NoEngine", func(t *testing.T) {
		t.Parallel()
		srv, _ := newAPI(t, nil)
		status, body := do(t, http.MethodGet, srv.URL+"/api/v1/episodes", nil)
		require.Equal(t, http.StatusOK, status)
		require.Equal(t, "[]", strings.TrimSpace(string(body)))
	})
}

func TestChannelsAPI(t *testing.T) {
	t.Parallel()
	srv, _ := newAPI(t, nil)
	base := srv.URL + "/api/v1/channels"

	cfg := channels.Config{Kind: channels.KindTerritoryEnter, ChannelRef: "alerts", OwnerFilter: "Redwood"}
	status, _ := do(t, http.MethodPost, base, cfg)
	require.Equal(t, http.StatusCreated, status)

	status, _ = do(t, http.MethodPost, base, cfg)
	require.Equal(t, http.StatusConflict, status)

	status, body := do(t, http.MethodPost, base, map[string]string{"channel_ref": "x"})
	require.Equal(t, http.StatusBadRequest, status)
	var apiErr httpapi.Response
	require.NoError(t, json.Unmarshal(body, &apiErr))
	require.Equal(t, "notification_type", apiErr.Errors[0].Field)

	status, _ = do(t, http.MethodPost, base, channels.Config{Kind: "bogus", ChannelRef: "x"})
	require.Equal(t, http.StatusBadRequest, status)

	updated := cfg
	updated.IgnoreIfResident = true
	status, _ = do(t, http.MethodPut, base, borderd.UpdateChannelRequest{
		Match:   borderd.ChannelKeys{ChannelRef: "alerts", Kind: channels.KindTerritoryEnter},
		Channel: updated,
	})
	require.Equal(t, http.StatusOK, status)

	status, _ = do(t, http.MethodPut, base, borderd.UpdateChannelRequest{
		Match:   borderd.ChannelKeys{ChannelRef: "missing", Kind: channels.KindTerritoryEnter},
		Channel: updated,
	})
	require.Equal(t, http.StatusNotFound, status)

	status, body = do(t, http.MethodGet, base+"?channel_ref=alerts", nil)
	require.Equal(t, http.StatusOK, status)
	var list []channels.Config
	require.NoError(t, json.Unmarshal(body, &list))
	require.Equal(t, []channels.Config{updated}, list)

	status, _ = do(t, http.MethodGet, base+"?notification_type=bogus", nil)
	require.Equal(t, http.StatusBadRequest, status)

	status, body = do(t, http.MethodDelete, base+"?channel_ref=alerts", nil)
	require.Equal(t, http.StatusOK, status)
	var deleted borderd.DeleteChannelsResponse
	require.NoError(t, json.Unmarshal(body, &deleted))
	require.EqualValues(t, 1, deleted.Deleted)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	srv, reg := newAPI(t, nil)
	presence.NewMetrics(reg).StartedEpisodes.Inc()

	status, body := do(t, http.MethodGet, srv.URL+"/metrics", nil)
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, string(body), "borderwatch_presence_episodes_started_total 1")
}

func TestNotFound(t *testing.T) {
	t.Parallel()
	srv, _ := newAPI(t, nil)
	status, _ := do(t, http.MethodGet, srv.URL+"/nope", nil)
	require.Equal(t, http.StatusNotFound, status)
}
