package relay

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

const bufferSize = 4096

// link closes a pair of endpoints exactly once, whichever leg gets there
// first.
type link struct {
	a, b   Endpoint
	once   sync.Once
	closed atomic.Bool
}

func (k *link) close() {
	k.once.Do(func() {
		k.closed.Store(true)
		k.a.Close()
		k.b.Close()
	})
}

// Leg copies bytes one way, from Src to Dst.
type Leg struct {
	Name string
	Src  Endpoint
	Dst  Endpoint

	session *Session
	link    *link
}

// Run copies until the source is done, a transport error happens, ctx is
// done or the session is aborted. On return both endpoints are closed and
// the leg is deregistered.
func (l *Leg) Run(ctx context.Context) error {
	l.session.register(l)
	defer l.session.deregister(l)
	defer l.link.close()

	glog.V(2).Infof("relay %s: started", l.Name)
	buf := make([]byte, bufferSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if l.session.aborted() {
			glog.V(2).Infof("relay %s: aborted", l.Name)
			return nil
		}

		n, err := l.Src.Read(buf)
		if n > 0 {
			if _, werr := l.Dst.Write(buf[:n]); werr != nil {
				return l.transportError(werr, "write")
			}
		}
		switch {
		case err == nil && n > 0:
		case err == nil || err == io.EOF:
			if l.Src.Origin() == Network {
				glog.V(2).Infof("relay %s: peer closed", l.Name)
				return nil
			}
		case isTimeout(err):
		default:
			return l.transportError(err, "read")
		}
	}
}

func (l *Leg) transportError(err error, op string) error {
	if l.link.closed.Load() {
		// the other leg closed the endpoints
		return nil
	}
	glog.Warningf("relay %s: %s: %v", l.Name, op, err)
	return errors.Wrapf(err, "relay %s %s", l.Name, op)
}

func (l *Leg) String() string {
	return fmt.Sprintf("%s(%v -> %v)", l.Name, l.Src, l.Dst)
}
