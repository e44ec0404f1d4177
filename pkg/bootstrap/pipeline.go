// Package bootstrap runs the bring-up of a board as an ordered list of
// phases sharing one Session.
package bootstrap

import (
	"context"

	"github.com/golang/glog"
)

// Phase is one step of the bring-up.
type Phase interface {
	Name() string
	ExecutePhase(ctx context.Context, s *Session) error
}

// Observer is told about phase progress.
type Observer interface {
	PhaseStarted(s *Session, phase string)
	PhaseFinished(s *Session, phase string, err error)
}

// Pipeline runs phases in order and stops at the first failure.
type Pipeline struct {
	Phases   []Phase
	Observer Observer
}

// Execute runs the phases. The returned error is a *PhaseError naming the
// failed phase.
func (p *Pipeline) Execute(ctx context.Context, s *Session) error {
	for _, phase := range p.Phases {
		name := phase.Name()
		if err := ctx.Err(); err != nil {
			return &PhaseError{Phase: name, Err: err}
		}
		glog.V(2).Infof("phase %s: start", name)
		if p.Observer != nil {
			p.Observer.PhaseStarted(s, name)
		}
		err := phase.ExecutePhase(ctx, s)
		if p.Observer != nil {
			p.Observer.PhaseFinished(s, name, err)
		}
		if err != nil {
			glog.Errorf("phase %s: %v", name, err)
			return &PhaseError{Phase: name, Err: err}
		}
		glog.V(2).Infof("phase %s: done", name)
	}
	return nil
}
