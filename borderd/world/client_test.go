package world_test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/borderwatch/borderwatch/borderd/world"
	"github.com/borderwatch/borderwatch/testutil"
)

const (
	playersDoc     = `{"players":[{"name":"Alice","x":5,"y":64,"z":5,"online":true},{"name":"Bob","x":500,"y":64,"z":5}]}`
	territoriesDoc = `{"territories":[{"name":"Oakland","owner":"Redwood","areas":[{"name":"Oakland 1","points":[[0,0],[16,0],[16,16],[0,16]]}]}]}`
)

func TestClientSnapshot(t *testing.T) {
	t.Parallel()

	var playerCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "borderwatch/")
		switch r.URL.Path {
		case "/api/players":
			// The first call fails transiently to exercise retries.
			if playerCalls.Add(1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_, _ = w.Write([]byte(playersDoc))
		case "/api/territories":
			_, _ = w.Write([]byte(territoriesDoc))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	base, err := url.Parse(srv.URL + "/api")
	require.NoError(t, err)
	client, err := world.NewClient(testutil.Logger(t), world.ClientOptions{
		BaseURL:    base,
		Timeout:    testutil.WaitShort,
		MaxRetries: 3,
	})
	require.NoError(t, err)

	ctx := testutil.Context(t, testutil.WaitMedium)
	snap, err := client.Snapshot(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, playerCalls.Load())
	require.True(t, snap.Present("Oakland", "Alice"))
	require.False(t, snap.Present("Oakland", "Bob"))
}

func TestClientSnapshotPermanentFailure(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/territories" {
			_, _ = w.Write([]byte(territoriesDoc))
			return
		}
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	base, err := url.Parse(srv.URL)
	require.NoError(t, err)
	client, err := world.NewClient(testutil.Logger(t), world.ClientOptions{
		BaseURL:    base,
		Timeout:    time.Second * 5,
		MaxRetries: 3,
	})
	require.NoError(t, err)

	_, err = client.Snapshot(testutil.Context(t, testutil.WaitMedium))
	require.ErrorContains(t, err, "fetch players")
	require.EqualValues(t, 1, calls.Load())
}

func TestNewClientRequiresURL(t *testing.T) {
	t.Parallel()

	_, err := world.NewClient(testutil.Logger(t), world.ClientOptions{})
	require.Error(t, err)
}
