// Package rendezvous hands the serial device over between processes.
//
// The process holding the device listens on a well-known loopback port. A
// process that wants the device connects to it; the holder takes the
// connection as a request to release the device and exit. Nothing is
// exchanged on the connection. The hand-over is best effort: the requester
// waits a settle delay and does not confirm the holder is gone.
package rendezvous

import (
	"context"
	"net"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"golang.org/x/net/netutil"

	fx "github.com/robotalks/uloader/pkg/framework"
)

// DefaultAddr is the well-known rendezvous address.
const DefaultAddr = "127.0.0.1:2156"

// Signal asks the current holder, if any, to release the device. It
// reports whether a holder was listening.
func Signal(ctx context.Context, addr string) bool {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		glog.V(2).Infof("rendezvous %s: no holder: %v", addr, err)
		return false
	}
	conn.Close()
	glog.Infof("rendezvous %s: holder signalled", addr)
	return true
}

// Acquire signals the holder and, if there was one, waits settle for it
// to let go of the device.
func Acquire(ctx context.Context, addr string, settle time.Duration) error {
	if !Signal(ctx, addr) || settle <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(settle):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Holder keeps the rendezvous port while the device is in use.
type Holder struct {
	// OnRelease runs after a peer asked for the device.
	OnRelease func()

	listener net.Listener
}

// Listen binds addr. It fails when another holder is still listening.
func Listen(addr string, onRelease func()) (*Holder, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "rendezvous listen %s", addr)
	}
	return &Holder{OnRelease: onRelease, listener: netutil.LimitListener(l, 1)}, nil
}

// Addr returns the bound address.
func (h *Holder) Addr() net.Addr {
	return h.listener.Addr()
}

// Close stops listening without running OnRelease. Use it for a holder
// that is never run.
func (h *Holder) Close() error {
	return h.listener.Close()
}

// Run waits for one peer, stops listening and runs OnRelease. It returns
// ctx.Err() without calling OnRelease if ctx is done first.
func (h *Holder) Run(ctx context.Context) error {
	err := fx.RunWithContextCloser(ctx, h.listener, func() error {
		conn, err := h.listener.Accept()
		if err != nil {
			return err
		}
		glog.Infof("rendezvous: release requested by %s", conn.RemoteAddr())
		conn.Close()
		return nil
	})
	if err != nil {
		return err
	}
	if h.OnRelease != nil {
		h.OnRelease()
	}
	return nil
}
