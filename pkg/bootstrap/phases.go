package bootstrap

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/robotalks/uloader/pkg/config"
	"github.com/robotalks/uloader/pkg/hostaddr"
	"github.com/robotalks/uloader/pkg/rendezvous"
	"github.com/robotalks/uloader/pkg/serialport"
	"github.com/robotalks/uloader/pkg/transfer"
	"github.com/robotalks/uloader/pkg/uboot"
)

// SerialPort is the opened serial device.
type SerialPort interface {
	uboot.Port
	io.Closer
}

// Opener opens the serial device described by spec.
type Opener func(spec serialport.Spec, readTimeout time.Duration) (SerialPort, error)

// OpenSerial opens a real serial device.
func OpenSerial(spec serialport.Spec, readTimeout time.Duration) (SerialPort, error) {
	port, err := serialport.Open(spec, readTimeout)
	if err != nil {
		return nil, err
	}
	return port, nil
}

// ChannelOptions derives the console options from cfg.
func ChannelOptions(cfg config.Config) uboot.Options {
	return uboot.Options{
		SyncRetries:     cfg.SyncRetries,
		CmdRetries:      cfg.CmdRetries,
		ResponseRetries: cfg.ResponseRetries,
		TransferRetries: cfg.TransferRetries,
		IPRetries:       cfg.IPRetries,
		ReadTimeout:     cfg.ReadTimeout,
		SyncReadTimeout: cfg.SyncReadTimeout,
		Prompt:          cfg.Prompt,
	}
}

// ConnectPhase takes the serial port over, synchronizes with U-Boot and
// configures its network environment.
type ConnectPhase struct {
	RendezvousAddr string
	Settle         time.Duration
	Open           Opener
	Options        uboot.Options
	Resolver       uboot.Resolver
}

// Name implements Phase.
func (p *ConnectPhase) Name() string { return "connect" }

// ExecutePhase implements Phase.
func (p *ConnectPhase) ExecutePhase(ctx context.Context, s *Session) error {
	s.progress("Attempting to open serial port\n")
	if err := rendezvous.Acquire(ctx, p.RendezvousAddr, p.Settle); err != nil {
		return err
	}
	spec, err := serialport.ParseSpec(s.SerialSpec)
	if err != nil {
		s.progress("    ERROR: Serial parameters not accepted. Expecting: port:baudrate:databits:parity:stopbits\n")
		return &ConfigError{Err: err}
	}
	open := p.Open
	if open == nil {
		open = OpenSerial
	}
	port, err := open(spec, p.Options.ReadTimeout)
	if err != nil {
		s.progress("    ERROR: Could not open serial port %q: %v\n", spec.Device, err)
		s.progress("           Please close any application that may be using this serial port\n")
		return err
	}
	s.progress("    SUCCESS: Opened serial port %q\n", spec.Device)
	s.Port = port

	ch := uboot.NewChannel(port, p.Options)
	ch.Out = s.Out
	ch.Abort = s.Abort
	s.Channel = ch
	if err = ch.WaitForPrompt(); err != nil {
		return err
	}
	resolver := p.Resolver
	if resolver == nil {
		resolver = hostaddr.NewResolver()
	}
	res, err := ch.SetupEnv(resolver)
	if err != nil {
		return err
	}
	s.TargetIP, s.ServerIP = res.TargetIP, res.ServerIP
	return nil
}

// LoadPhase serves the image while the board fetches it, then resyncs
// with the prompt.
type LoadPhase struct {
	// Addr is the TFTP listen address.
	Addr string
	// Service serves dir. A transfer.Server is used when nil.
	Service func(dir string) transfer.Service
}

// Name implements Phase.
func (p *LoadPhase) Name() string { return "load" }

// ExecutePhase implements Phase.
func (p *LoadPhase) ExecutePhase(ctx context.Context, s *Session) error {
	var svc transfer.Service
	if p.Service != nil {
		svc = p.Service(s.ImageDir)
	} else {
		svc = transfer.NewServer(s.ImageDir)
	}
	o := &transfer.Orchestrator{Service: svc, Addr: p.Addr}
	err := o.Load(ctx, s.Channel, s.LoadAddr, s.ImageName)
	if errors.Is(err, transfer.ErrPortBusy) {
		s.progress("    ERROR: Existing TFTP Server detected on localhost\n")
		return &ConfigError{Err: err}
	}
	if err != nil {
		return err
	}
	return s.Channel.WaitForPrompt()
}

// StartPhase jumps to the start address unless the run is load only.
type StartPhase struct{}

// Name implements Phase.
func (p *StartPhase) Name() string { return "start" }

// ExecutePhase implements Phase.
func (p *StartPhase) ExecutePhase(ctx context.Context, s *Session) error {
	if s.LoadOnly() {
		glog.Info("load only, not starting the image")
		return nil
	}
	return s.Channel.IssueGo(s.StartAddr)
}

// AutoDetectIPPhase learns the address the application advertises and
// checks its debug server is reachable.
type AutoDetectIPPhase struct {
	DebugPort   int
	Attempts    int
	Delay       time.Duration
	DialTimeout time.Duration
}

// Name implements Phase.
func (p *AutoDetectIPPhase) Name() string { return "autodetect-ip" }

// ExecutePhase implements Phase.
func (p *AutoDetectIPPhase) ExecutePhase(ctx context.Context, s *Session) error {
	ip, err := s.Channel.WaitForIP()
	if err != nil {
		s.progress("    ERROR: Timeout waiting for IP address advertisement from target.\n")
		return err
	}
	addr := net.JoinHostPort(ip.String(), fmt.Sprint(p.DebugPort))
	if err = p.verify(ctx, s, addr); err != nil {
		return err
	}
	s.DebugIP, s.DebugPort = ip, p.DebugPort
	s.progress("    SUCCESS: Found server at: %s\n", ip)
	return nil
}

func (p *AutoDetectIPPhase) verify(ctx context.Context, s *Session, addr string) error {
	select {
	case <-time.After(p.Delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	d := net.Dialer{Timeout: p.DialTimeout}
	var err error
	for i := 0; i < p.Attempts; i++ {
		var conn net.Conn
		if conn, err = d.DialContext(ctx, "tcp", addr); err == nil {
			conn.Close()
			return nil
		}
		s.progress("    WARNING: Could not connect to server: %s, %v\n", addr, err)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	if err == nil {
		err = errors.New("no attempts")
	}
	return errors.Wrapf(err, "debug server %s", addr)
}

// NewPipeline builds the phases of a run from cfg. IP detection runs only
// when the proxy is active.
func NewPipeline(cfg config.Config, s *Session) *Pipeline {
	phases := []Phase{
		&ConnectPhase{
			RendezvousAddr: cfg.RendezvousAddr,
			Settle:         cfg.SettleDelay,
			Options:        ChannelOptions(cfg),
		},
		&LoadPhase{
			Addr: fmt.Sprintf(":%d", cfg.TFTPPort),
			Service: func(dir string) transfer.Service {
				srv := transfer.NewServer(dir)
				srv.Timeout, srv.Retries = cfg.TFTPTimeout, cfg.TFTPRetries
				return srv
			},
		},
		&StartPhase{},
	}
	if s.Proxy.Active {
		phases = append(phases, &AutoDetectIPPhase{
			DebugPort:   cfg.DebugPort,
			Attempts:    cfg.VerifyAttempts,
			Delay:       cfg.VerifyDelay,
			DialTimeout: cfg.VerifyDialTimeout,
		})
	}
	return &Pipeline{Phases: phases}
}
