package relay

import (
	"context"
	"net"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"golang.org/x/net/netutil"

	fx "github.com/robotalks/uloader/pkg/framework"
	"github.com/robotalks/uloader/pkg/serialport"
)

// Dialer opens the target side of a tunnel.
type Dialer func(ctx context.Context) (Endpoint, error)

// Listen listens on addr for a single client.
func Listen(addr string) (net.Listener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "relay listen %s", addr)
	}
	return netutil.LimitListener(l, 1), nil
}

// Server accepts one client and tunnels it to the target.
type Server struct {
	Listener    net.Listener
	Dial        Dialer
	Session     *Session
	ReadTimeout time.Duration
}

// Run accepts exactly one connection, stops listening, dials the target
// and runs the tunnel.
func (s *Server) Run(ctx context.Context) error {
	var conn net.Conn
	err := fx.RunWithContextCloser(ctx, s.Listener, func() (err error) {
		conn, err = s.Listener.Accept()
		return
	})
	if err != nil {
		if conn != nil {
			conn.Close()
		}
		return err
	}
	glog.Infof("relay: client %s connected", conn.RemoteAddr())

	target, err := s.Dial(ctx)
	if err != nil {
		conn.Close()
		return errors.Wrap(err, "relay dial target")
	}
	client := NewNetEndpoint(conn, s.ReadTimeout)
	return s.Session.Tunnel(ctx, client, target)
}

// NetworkTarget dials a TCP destination.
func NetworkTarget(addr string, readTimeout time.Duration) Dialer {
	return func(ctx context.Context) (Endpoint, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		return NewNetEndpoint(conn, readTimeout), nil
	}
}

// SerialTarget opens the serial device.
func SerialTarget(spec serialport.Spec, readTimeout time.Duration) Dialer {
	return func(ctx context.Context) (Endpoint, error) {
		port, err := serialport.Open(spec, readTimeout)
		if err != nil {
			return nil, err
		}
		return NewSerialEndpoint(port, spec.Device), nil
	}
}
