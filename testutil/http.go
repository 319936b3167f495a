package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

// RequireEventuallyResponseOK polls endpoint with GET until it answers 200
// with a JSON body that decodes into target. Use it to wait for a server
// started in the background to begin listening.
func RequireEventuallyResponseOK(ctx context.Context, t testing.TB, endpoint string, target any) {
	t.Helper()

	transport := &http.Transport{}
	defer transport.CloseIdleConnections()
	client := &http.Client{Transport: transport, Timeout: WaitShort}
	ready := Eventually(ctx, t, func(ctx context.Context) bool {
		return getJSON(ctx, client, endpoint, target) == nil
	}, IntervalFast)
	require.True(t, ready, "%s did not answer 200 in time", endpoint)
}

type statusError int

func (e statusError) Error() string {
	return http.StatusText(int(e))
}

func getJSON(ctx context.Context, client *http.Client, endpoint string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(target)
}
