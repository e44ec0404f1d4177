package bootstrap

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/robotalks/uloader/pkg/relay"
)

// Launcher starts the companion processes once the target runs with the
// proxy active: a serial relay so a terminal can still reach the console,
// and optionally the terminal itself.
type Launcher struct {
	// RelayCommand is the relay executable, "pinhole" next to the running
	// executable when empty.
	RelayCommand    string
	SerialRelayPort int
	// TerminalCommand is split on white space and started after Delay.
	TerminalCommand string
	Delay           time.Duration
	// Start starts a command without waiting for it.
	Start func(*exec.Cmd) error
}

func (l *Launcher) relayCommand() string {
	if l.RelayCommand != "" {
		return l.RelayCommand
	}
	if exe, err := os.Executable(); err == nil {
		return filepath.Join(filepath.Dir(exe), "pinhole")
	}
	return "pinhole"
}

func (l *Launcher) start(cmd *exec.Cmd) error {
	glog.Infof("launch: %s", strings.Join(cmd.Args, " "))
	if l.Start != nil {
		return l.Start(cmd)
	}
	cmd.Stdout, cmd.Stderr = os.Stdout, os.Stderr
	return cmd.Start()
}

// Launch releases the serial port held by s and starts the companions. The
// terminal is not started if ctx is done during Delay.
func (l *Launcher) Launch(ctx context.Context, s *Session) error {
	if err := s.Close(); err != nil {
		glog.Warningf("close serial port: %v", err)
	}
	relayCmd := exec.Command(l.relayCommand(),
		"-listen", fmt.Sprintf("127.0.0.1:%d", l.SerialRelayPort),
		"-serial", s.SerialSpec)
	if err := l.start(relayCmd); err != nil {
		return errors.Wrap(err, "start serial relay")
	}
	args := strings.Fields(l.TerminalCommand)
	if len(args) == 0 {
		return nil
	}
	select {
	case <-time.After(l.Delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := l.start(exec.Command(args[0], args[1:]...)); err != nil {
		return errors.Wrap(err, "start terminal")
	}
	return nil
}

// ServeProxy relays one debug client on the proxy port to the debug server
// found on the target.
func ServeProxy(ctx context.Context, s *Session, rs *relay.Session, readTimeout time.Duration) error {
	l, err := relay.Listen(net.JoinHostPort(s.Proxy.Address, fmt.Sprint(s.Proxy.Port)))
	if err != nil {
		return err
	}
	glog.Infof("proxy %s -> %s", l.Addr(), s.DebugAddr())
	srv := &relay.Server{
		Listener:    l,
		Dial:        relay.NetworkTarget(s.DebugAddr(), readTimeout),
		Session:     rs,
		ReadTimeout: readTimeout,
	}
	return srv.Run(ctx)
}
