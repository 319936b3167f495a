//go:build !windows

package cli

import (
	"os"
	"syscall"
)

// StopSignals gracefully stop the server.
var StopSignals = []os.Signal{
	os.Interrupt,
	syscall.SIGTERM,
	syscall.SIGHUP,
}
