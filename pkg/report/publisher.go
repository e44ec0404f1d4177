package report

import (
	"os"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/robotalks/uloader/pkg/bootstrap"
)

// RunPhase is the phase name of the event closing a run.
const RunPhase = "run"

// HostID identifies this host in topics.
func HostID() string {
	id, err := machineid.ProtectedID(TopicRoot)
	if err == nil {
		return id
	}
	glog.Warningf("machine id: %v", err)
	if name, err := os.Hostname(); err == nil {
		return name
	}
	return "unknown"
}

// PublishFunc sends one encoded event.
type PublishFunc func(topic string, payload []byte) error

// Publisher publishes phase progress. It implements bootstrap.Observer.
type Publisher struct {
	Host    string
	Publish PublishFunc
	Now     func() time.Time
}

// Dial connects to the broker at brokerURL and returns a Publisher on it.
func Dial(brokerURL string, timeout time.Duration) (*Publisher, *Queue, error) {
	q, err := NewQueueFromURL(brokerURL)
	if err != nil {
		return nil, nil, err
	}
	token := q.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, nil, errors.Errorf("mqtt connect %s: timeout", brokerURL)
	}
	if err = token.Error(); err != nil {
		return nil, nil, errors.Wrapf(err, "mqtt connect %s", brokerURL)
	}
	p := &Publisher{
		Host: HostID(),
		Publish: func(topic string, payload []byte) error {
			token := q.Pub(topic, payload)
			if !token.WaitTimeout(timeout) {
				return errors.New("publish timeout")
			}
			return token.Error()
		},
	}
	return p, q, nil
}

func (p *Publisher) publish(s *bootstrap.Session, phase, status string, err error) {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	e := Event{Host: p.Host, RunID: s.ID, Phase: phase, Status: status, Time: now()}
	if err != nil {
		e.Error = err.Error()
	}
	payload, err := e.Encode()
	if err == nil {
		err = p.Publish(e.Topic(), payload)
	}
	if err != nil {
		glog.Warningf("report %s %s: %v", phase, status, err)
	}
}

// PhaseStarted implements bootstrap.Observer.
func (p *Publisher) PhaseStarted(s *bootstrap.Session, phase string) {
	p.publish(s, phase, StatusStarted, nil)
}

// PhaseFinished implements bootstrap.Observer.
func (p *Publisher) PhaseFinished(s *bootstrap.Session, phase string, err error) {
	p.publish(s, phase, status(err), err)
}

// RunFinished publishes the outcome of the whole run.
func (p *Publisher) RunFinished(s *bootstrap.Session, err error) {
	p.publish(s, RunPhase, status(err), err)
}

func status(err error) string {
	if err != nil {
		return StatusFailed
	}
	return StatusSucceeded
}
