// Package relay copies bytes between a debug client and the running target,
// over the network or through the serial port.
package relay

import (
	"io"
	"net"
	"os"
	"sync"
	"time"
)

// Origin tells how an Endpoint reports the absence of data.
type Origin int

// Endpoint origins.
const (
	// Network endpoints return an empty read only when the peer closed.
	Network Origin = iota
	// Serial endpoints return an empty read whenever no data arrived
	// within the read timeout.
	Serial
)

func (o Origin) String() string {
	if o == Serial {
		return "serial"
	}
	return "network"
}

// Endpoint is one side of a relay. Read must return within a bounded time.
type Endpoint interface {
	io.ReadWriteCloser
	Origin() Origin
}

// NetEndpoint is a network connection with a per-read deadline.
type NetEndpoint struct {
	Conn        net.Conn
	ReadTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

// NewNetEndpoint wraps conn.
func NewNetEndpoint(conn net.Conn, readTimeout time.Duration) *NetEndpoint {
	return &NetEndpoint{Conn: conn, ReadTimeout: readTimeout}
}

// Read implements io.Reader.
func (e *NetEndpoint) Read(p []byte) (int, error) {
	if e.ReadTimeout > 0 {
		if err := e.Conn.SetReadDeadline(time.Now().Add(e.ReadTimeout)); err != nil {
			return 0, err
		}
	}
	return e.Conn.Read(p)
}

// Write implements io.Writer.
func (e *NetEndpoint) Write(p []byte) (int, error) {
	return e.Conn.Write(p)
}

// Close implements io.Closer and is safe to call more than once.
func (e *NetEndpoint) Close() error {
	e.closeOnce.Do(func() {
		e.closeErr = e.Conn.Close()
	})
	return e.closeErr
}

// Origin implements Endpoint.
func (e *NetEndpoint) Origin() Origin {
	return Network
}

func (e *NetEndpoint) String() string {
	return "net:" + e.Conn.RemoteAddr().String()
}

// SerialEndpoint is a serial port whose reads already time out.
type SerialEndpoint struct {
	Port io.ReadWriteCloser
	Name string

	closeOnce sync.Once
	closeErr  error
}

// NewSerialEndpoint wraps port.
func NewSerialEndpoint(port io.ReadWriteCloser, name string) *SerialEndpoint {
	return &SerialEndpoint{Port: port, Name: name}
}

// Read implements io.Reader.
func (e *SerialEndpoint) Read(p []byte) (int, error) {
	return e.Port.Read(p)
}

// Write implements io.Writer.
func (e *SerialEndpoint) Write(p []byte) (int, error) {
	return e.Port.Write(p)
}

// Close implements io.Closer and is safe to call more than once.
func (e *SerialEndpoint) Close() error {
	e.closeOnce.Do(func() {
		e.closeErr = e.Port.Close()
	})
	return e.closeErr
}

// Origin implements Endpoint.
func (e *SerialEndpoint) Origin() Origin {
	return Serial
}

func (e *SerialEndpoint) String() string {
	return "serial:" + e.Name
}

func isTimeout(err error) bool {
	if os.IsTimeout(err) {
		return true
	}
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
