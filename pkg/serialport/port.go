package serialport

import (
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"go.bug.st/serial"
)

// Port is an opened serial device. A Read that times out returns 0, nil.
type Port struct {
	serial.Port
	Spec Spec

	closeOnce sync.Once
	closeErr  error
}

// Open opens the device described by spec with the given read timeout and
// discards anything pending in the input buffer.
func Open(spec Spec, readTimeout time.Duration) (*Port, error) {
	p, err := serial.Open(spec.Device, spec.Mode())
	if err != nil {
		return nil, errors.Wrapf(err, "open serial port %q", spec.Device)
	}
	if readTimeout < time.Millisecond {
		readTimeout = time.Millisecond
	}
	if err = p.SetReadTimeout(readTimeout); err != nil {
		p.Close()
		return nil, errors.Wrapf(err, "set read timeout on %q", spec.Device)
	}
	if err = p.ResetInputBuffer(); err != nil {
		glog.Warningf("serial %s: flush input: %v", spec.Device, err)
	}
	glog.V(2).Infof("serial %s opened (%s, timeout %v)", spec.Device, spec, readTimeout)
	return &Port{Port: p, Spec: spec}, nil
}

// Close closes the device once.
func (p *Port) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.Port.Close()
		glog.V(2).Infof("serial %s closed", p.Spec.Device)
	})
	return p.closeErr
}

// List returns the serial devices present on the host.
func List() ([]string, error) {
	return serial.GetPortsList()
}
