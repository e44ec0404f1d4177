// Package transfer serves the application image over TFTP while the board
// fetches it.
package transfer

import (
	"context"
	"net"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// ErrPortBusy means the TFTP port cannot be bound on the host.
var ErrPortBusy = errors.New("tftp port is busy")

// ProbePort binds addr for UDP and releases it immediately.
func ProbePort(addr string) error {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return errors.Wrapf(ErrPortBusy, "%s: %v", addr, err)
	}
	return conn.Close()
}

// Service serves files until ctx is done.
type Service interface {
	Serve(ctx context.Context, addr string) error
}

// Target is the board side of a transfer.
type Target interface {
	StartTransfer(loadAddr, file string) error
	WaitTransferDone() error
}

// Orchestrator runs the TFTP service alongside the board's fetch.
type Orchestrator struct {
	Service Service
	// Addr is the service listen address, ":69" when empty.
	Addr string
}

// NewOrchestrator creates an Orchestrator serving dir on addr.
func NewOrchestrator(dir, addr string) *Orchestrator {
	return &Orchestrator{Service: NewServer(dir), Addr: addr}
}

func (o *Orchestrator) addr() string {
	if o.Addr == "" {
		return ":69"
	}
	return o.Addr
}

// Load has target fetch file into loadAddr. The service is started
// without waiting for it to be ready: the board retries on its side. Any
// error the service reports fails the load even if the board claims
// success. The service is stopped before Load returns.
func (o *Orchestrator) Load(ctx context.Context, target Target, loadAddr, file string) error {
	addr := o.addr()
	if err := ProbePort(addr); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() {
		errCh <- o.Service.Serve(ctx, addr)
	}()
	stop := func() error {
		cancel()
		return <-errCh
	}

	err := target.StartTransfer(loadAddr, file)
	if err == nil {
		err = target.WaitTransferDone()
	}
	if err != nil {
		stop()
		return err
	}

	if svcErr := stop(); svcErr != nil && !errors.Is(svcErr, context.Canceled) {
		glog.Errorf("tftp service failed during transfer: %v", svcErr)
		return errors.Wrap(svcErr, "tftp service")
	}
	return nil
}
