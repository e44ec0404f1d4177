package relay

import (
	"context"
	"sync"

	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"

	fx "github.com/robotalks/uloader/pkg/framework"
)

// Session owns the legs running in a relay process.
type Session struct {
	// Abort is polled by every leg once per iteration.
	Abort fx.Aborter
	// Coordinator is asked to shut the process down when a tunnel ends.
	Coordinator *fx.Coordinator

	lock sync.Mutex
	legs map[*Leg]struct{}
}

// NewSession creates a Session.
func NewSession(abort fx.Aborter, coordinator *fx.Coordinator) *Session {
	return &Session{
		Abort:       abort,
		Coordinator: coordinator,
		legs:        make(map[*Leg]struct{}),
	}
}

// NewLeg creates a leg copying from src to dst. It owns both endpoints.
func (s *Session) NewLeg(name string, src, dst Endpoint) *Leg {
	return &Leg{Name: name, Src: src, Dst: dst, session: s, link: &link{a: src, b: dst}}
}

// Legs returns the number of running legs.
func (s *Session) Legs() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.legs)
}

func (s *Session) register(l *Leg) {
	s.lock.Lock()
	s.legs[l] = struct{}{}
	s.lock.Unlock()
}

func (s *Session) deregister(l *Leg) {
	s.lock.Lock()
	delete(s.legs, l)
	s.lock.Unlock()
}

func (s *Session) aborted() bool {
	return s.Abort != nil && s.Abort.Aborted()
}

// Tunnel relays both ways between client and target until either side is
// done, then requests shutdown. Both endpoints are closed on return.
func (s *Session) Tunnel(ctx context.Context, client, target Endpoint) error {
	k := &link{a: client, b: target}
	legs := []*Leg{
		{Name: "upstream", Src: client, Dst: target, session: s, link: k},
		{Name: "downstream", Src: target, Dst: client, session: s, link: k},
	}
	glog.Infof("relay: tunnel %v <-> %v", client, target)
	g, ctx := errgroup.WithContext(ctx)
	for _, leg := range legs {
		leg := leg
		g.Go(func() error {
			defer s.requestShutdown("relay " + leg.Name + " finished")
			return leg.Run(ctx)
		})
	}
	err := g.Wait()
	glog.Infof("relay: tunnel closed")
	return err
}

func (s *Session) requestShutdown(reason string) {
	if s.Coordinator != nil {
		s.Coordinator.RequestShutdown(reason)
	}
}
