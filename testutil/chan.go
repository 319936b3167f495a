package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// RequireReceive returns the next value from c. The test fails if ctx
// expires first or c is closed.
//
// Must be called from the goroutine running t.
func RequireReceive[A any](ctx context.Context, t testing.TB, c <-chan A) A {
	t.Helper()
	var zero A
	select {
	case <-ctx.Done():
		require.FailNow(t, "timed out waiting to receive")
		return zero
	case a, ok := <-c:
		require.True(t, ok, "channel closed while waiting to receive")
		return a
	}
}

// RequireSend sends a on c. The test fails if ctx expires first, which
// usually means the reader of c is stuck.
//
// Must be called from the goroutine running t.
func RequireSend[A any](ctx context.Context, t testing.TB, c chan<- A, a A) {
	t.Helper()
	select {
	case <-ctx.Done():
		require.FailNow(t, "timed out waiting to send")
	case c <- a:
	}
}
