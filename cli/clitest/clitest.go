// Package clitest runs borderwatch commands in-process for tests.
package clitest

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/require"

	"github.com/coder/serpent"

	"github.com/borderwatch/borderwatch/cli"
)

// Options customize the command under test.
type Options struct {
	// Clock defaults to the real clock.
	Clock quartz.Clock
	// DBPath defaults to a fresh database in a temporary directory.
	DBPath string
}

// Invocation is a command ready to run with captured output.
type Invocation struct {
	*serpent.Invocation
	DBPath string

	stdout *syncWriter
	stderr *syncWriter
}

// New creates a borderwatch invocation backed by a temporary database.
func New(t testing.TB, args ...string) *Invocation {
	return NewWithOptions(t, Options{}, args...)
}

func NewWithOptions(t testing.TB, opts Options, args ...string) *Invocation {
	t.Helper()
	if opts.DBPath == "" {
		opts.DBPath = filepath.Join(t.TempDir(), "borderwatch.db")
	}
	root := &cli.RootCmd{Clock: opts.Clock}
	cmd := root.Command(root.AGPL())

	inv := cmd.Invoke(args...)
	inv.Environ.Set("BORDERWATCH_DB_PATH", opts.DBPath)
	stdout, stderr := &syncWriter{}, &syncWriter{}
	inv.Stdout = stdout
	inv.Stderr = stderr
	return &Invocation{Invocation: inv, DBPath: opts.DBPath, stdout: stdout, stderr: stderr}
}

// Output returns what the command wrote to stdout so far.
func (i *Invocation) Output() string {
	return i.stdout.String()
}

// ErrOutput returns what the command wrote to stderr so far.
func (i *Invocation) ErrOutput() string {
	return i.stderr.String()
}

// Run runs the invocation to completion.
func (i *Invocation) Run(ctx context.Context) error {
	return i.Invocation.WithContext(ctx).Run()
}

// ErrorWaiter waits for a command started with StartWithWaiter.
type ErrorWaiter struct {
	t    testing.TB
	c    <-chan error
	once sync.Once
	err  error
}

func (w *ErrorWaiter) Wait() error {
	w.once.Do(func() {
		w.err = <-w.c
	})
	return w.err
}

func (w *ErrorWaiter) RequireSuccess() {
	w.t.Helper()
	require.NoError(w.t, w.Wait())
}

// StartWithWaiter runs the invocation in the background. The command's
// context is canceled when the test ends, and the test waits for it to
// exit.
func StartWithWaiter(t testing.TB, ctx context.Context, inv *Invocation) (*ErrorWaiter, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() {
		errCh <- inv.Run(ctx)
	}()
	w := &ErrorWaiter{t: t, c: errCh}
	t.Cleanup(func() {
		cancel()
		_ = w.Wait()
	})
	return w, cancel
}

type syncWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncWriter) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}
