// Package signalhandling implements spec.md §5's "Cancellation & signals":
// a foreground SIGINT/SIGTERM handler that runs an ordered list of cleanup
// steps and cancels the running operation's context, so the caller can
// unwind and exit non-zero rather than leaving host-side or subprocess
// state behind. It never removes .partial files — those are left in place
// for diagnosis by design.
package signalhandling

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/wal-g/tracelog"
)

// CleanupStep is one unit of shutdown work (stop the host backup job, kill
// a spawned NBD server subprocess, disconnect an NBD client device, remove
// a temporary block-map file). Steps run in registration order and a
// failing step does not stop later steps from running.
type CleanupStep func()

// Guard watches a signal channel and, on the first SIGINT or SIGTERM,
// invokes every registered CleanupStep once and cancels the context it was
// constructed with.
type Guard struct {
	cancel context.CancelFunc
	ch     chan os.Signal

	mu        sync.Mutex
	steps     []CleanupStep
	triggered bool
}

// New derives a cancellable context from parent and starts watching
// SIGINT/SIGTERM. Call Stop when the guarded operation finishes normally.
func New(parent context.Context) (context.Context, *Guard) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	return newGuard(parent, ch)
}

// NewWithChannel is New with an injected signal channel, so tests can
// trigger cleanup without sending a real OS signal to the test process.
func NewWithChannel(parent context.Context, ch chan os.Signal) (context.Context, *Guard) {
	return newGuard(parent, ch)
}

func newGuard(parent context.Context, ch chan os.Signal) (context.Context, *Guard) {
	ctx, cancel := context.WithCancel(parent)
	g := &Guard{cancel: cancel, ch: ch}
	go g.watch(ctx)
	return ctx, g
}

func (g *Guard) watch(ctx context.Context) {
	select {
	case sig, ok := <-g.ch:
		if !ok {
			return
		}
		tracelog.InfoLogger.Printf("signalhandling: received %s, running cleanup", sig)
		g.runCleanup()
		g.cancel()
	case <-ctx.Done():
	}
}

func (g *Guard) runCleanup() {
	g.mu.Lock()
	g.triggered = true
	steps := append([]CleanupStep(nil), g.steps...)
	g.mu.Unlock()

	for _, step := range steps {
		step()
	}
}

// AddStep registers a cleanup step. Steps registered after a signal has
// already been handled run immediately, since there is nothing left to
// wait for.
func (g *Guard) AddStep(step CleanupStep) {
	g.mu.Lock()
	triggered := g.triggered
	if !triggered {
		g.steps = append(g.steps, step)
	}
	g.mu.Unlock()

	if triggered {
		step()
	}
}

// Triggered reports whether a signal has already fired, so the caller can
// decide between a normal exit code and spec.md §5's "exits non-zero".
func (g *Guard) Triggered() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.triggered
}

// Stop stops watching for signals and cancels the guarded context. Call it
// once the guarded operation has finished on its own.
func (g *Guard) Stop() {
	signal.Stop(g.ch)
	g.cancel()
}
