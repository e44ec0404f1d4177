package framework

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/golang/glog"
)

type namedRunnable struct {
	Runnable
	name string
}

func (r *namedRunnable) Name() string {
	return r.name
}

// NamedRun wraps a Runnable with a name.
func NamedRun(name string, runnable Runnable) Runnable {
	return &namedRunnable{name: name, Runnable: runnable}
}

// ErrForcedExit is returned by Wait when a second stop signal arrived.
var ErrForcedExit = errors.New("forced exit")

type unitResult struct {
	name string
	err  error
}

// Runner spawns independent units of work and joins them.
type Runner struct {
	Context context.Context

	names  []string
	doneCh chan unitResult
	exitCh chan struct{}
}

// NewRunner creates a runner with a background context.
func NewRunner() *Runner {
	return NewRunnerWith(context.Background())
}

// NewRunnerWith creates a runner with the specified context.
func NewRunnerWith(ctx context.Context) *Runner {
	return &Runner{
		Context: ctx,
		doneCh:  make(chan unitResult, 4),
		exitCh:  make(chan struct{}),
	}
}

// HandleSignals handles Ctrl-C and SIGTERM. The first signal raises abort
// (if not nil) and cancels the runner context; the second forces Wait to
// return.
func (r *Runner) HandleSignals(abort *AbortFlag) *Runner {
	ctx, cancel := context.WithCancel(r.Context)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	r.Context = ctx
	go func() {
		<-sigCh
		glog.Info("stop requested")
		abort.abortIfSet()
		cancel()
		<-sigCh
		glog.Error("stop requested again, force exit")
		close(r.exitCh)
	}()
	return r
}

func (f *AbortFlag) abortIfSet() {
	if f != nil {
		f.Abort()
	}
}

// Go spawns Runnables with the runner context.
func (r *Runner) Go(units ...Runnable) *Runner {
	return r.GoWith(r.Context, units...)
}

// GoWith spawns Runnables with the specified context.
func (r *Runner) GoWith(ctx context.Context, units ...Runnable) *Runner {
	for _, unit := range units {
		name := strconv.Itoa(len(r.names))
		if named, ok := unit.(Named); ok {
			name = named.Name()
		}
		r.names = append(r.names, name)
		glog.V(4).Infof("start Runner[%s]", name)
		go func(unit Runnable, name string) {
			err := unit.Run(ctx)
			glog.V(4).Infof("Runner[%s] stopped: %v", name, err)
			r.doneCh <- unitResult{name: name, err: err}
		}(unit, name)
	}
	return r
}

// Wait waits until all units stop and aggregates their errors.
// context.Canceled is not considered an error.
func (r *Runner) Wait() error {
	var errs AggregatedError
	for range r.names {
		select {
		case <-r.exitCh:
			return ErrForcedExit
		case res := <-r.doneCh:
			if res.err != nil && !errors.Is(res.err, context.Canceled) {
				errs.Add(fmt.Errorf("%s: %w", res.name, res.err))
			}
		}
	}
	return errs.Aggregate()
}

// RunWithContextCancel runs a func which doesn't accept a context.
// onCancel is called only when the context is canceled, and is expected to
// unblock fn.
func RunWithContextCancel(ctx context.Context, onCancel func(), fn func() error) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- fn()
	}()
	select {
	case <-ctx.Done():
		if onCancel != nil {
			onCancel()
		}
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// RunWithContextCloser ensures closer.Close is called either on cancel or
// on exit of fn.
func RunWithContextCloser(ctx context.Context, closer io.Closer, fn func() error) error {
	var closed bool
	err := RunWithContextCancel(ctx, func() {
		closer.Close()
		closed = true
	}, fn)
	if !closed {
		closer.Close()
	}
	return err
}
