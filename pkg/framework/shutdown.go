package framework

import (
	"context"
	"sync"

	"github.com/golang/glog"
)

// Coordinator receives shutdown requests from units running deep inside
// the process and lets the top level perform the actual exit.
// Only the first request is recorded.
type Coordinator struct {
	once   sync.Once
	doneCh chan struct{}
	reason string
}

// NewCoordinator creates a Coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{doneCh: make(chan struct{})}
}

// RequestShutdown asks the top level to stop the process.
func (c *Coordinator) RequestShutdown(reason string) {
	c.once.Do(func() {
		glog.V(2).Infof("shutdown requested: %s", reason)
		c.reason = reason
		close(c.doneCh)
	})
}

// Done is closed once a shutdown has been requested.
func (c *Coordinator) Done() <-chan struct{} {
	return c.doneCh
}

// Reason returns the reason of the first request, empty if none.
func (c *Coordinator) Reason() string {
	select {
	case <-c.doneCh:
		return c.reason
	default:
		return ""
	}
}

// WithShutdown returns a copy of parent which is canceled when a shutdown
// is requested.
func (c *Coordinator) WithShutdown(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-c.doneCh:
			glog.Infof("shutdown: %s", c.reason)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
