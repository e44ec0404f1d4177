package sh

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/uloader/pkg/bootstrap"
	"github.com/robotalks/uloader/pkg/config"
	fx "github.com/robotalks/uloader/pkg/framework"
	"github.com/robotalks/uloader/pkg/rendezvous"
	"github.com/robotalks/uloader/pkg/serialport"
	"github.com/robotalks/uloader/pkg/uboot"
)

// Shell provides an ishell backed U-Boot console.
type Shell struct {
	Interactive bool

	Shell  *ishell.Shell
	Config config.Config
	// Out receives console progress.
	Out io.Writer
	// OpenPort opens the serial device, bootstrap.OpenSerial when nil.
	OpenPort bootstrap.Opener

	lock sync.Mutex
	conn *Conn
}

// Conn is an open serial connection to the board. The rendezvous port is
// held for as long as the connection is open.
type Conn struct {
	Port    bootstrap.SerialPort
	Channel *uboot.Channel

	holder *rendezvous.Holder
}

const (
	shellKey           = "$shell"
	disconnectedPrompt = "[none] > "
)

var (
	evalOnly   bool
	serialSpec string

	commands = []*ishell.Cmd{
		&PortsCmd,
		&OpenCmd,
		&CloseCmd,
	}
)

func init() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.StringVar(&serialSpec, "serial", os.Getenv("ULOADER_SERIAL"), "Serial port to open, port:baud:databits:parity:stopbits.")
}

// AddCmds is used by other commands providers during init func.
func AddCmds(cmds ...*ishell.Cmd) {
	commands = append(commands, cmds...)
}

// New creates a new shell.
func New(cfg config.Config) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		Shell:       ishell.New(),
		Config:      cfg,
		Out:         os.Stdout,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(disconnectedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// MustBeConnected wraps command func requires an open port.
func MustBeConnected(fn func(c *ishell.Context)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if ShellFrom(c).Conn() == nil {
			c.Err(fmt.Errorf("no serial port open"))
			return
		}
		fn(c)
	}
}

// Conn returns the open connection, nil if none.
func (s *Shell) Conn() *Conn {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.conn
}

// Abortable runs fn on the open connection with the channel's abort flag
// raised by Ctrl-C.
func (s *Shell) Abortable(fn func(conn *Conn) error) error {
	conn := s.Conn()
	if conn == nil {
		return fmt.Errorf("no serial port open")
	}
	var abort fx.AbortFlag
	conn.Channel.Abort = &abort
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	stopCh := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
			abort.Abort()
		case <-stopCh:
		}
	}()
	defer func() {
		signal.Stop(sigCh)
		close(stopCh)
	}()
	return fn(conn)
}

// Open opens the serial port described by spec. Any port already open is
// closed first, and the current holder of the device, possibly another
// process, is asked to release it.
func (s *Shell) Open(spec string) error {
	parsed, err := serialport.ParseSpec(spec)
	if err != nil {
		return err
	}
	s.Close()

	ctx := context.Background()
	if err = rendezvous.Acquire(ctx, s.Config.RendezvousAddr, s.Config.SettleDelay); err != nil {
		return err
	}
	holder, err := rendezvous.Listen(s.Config.RendezvousAddr, nil)
	if err != nil {
		return err
	}
	open := s.OpenPort
	if open == nil {
		open = bootstrap.OpenSerial
	}
	port, err := open(parsed, s.Config.ReadTimeout)
	if err != nil {
		holder.Close()
		return err
	}

	ch := uboot.NewChannel(port, bootstrap.ChannelOptions(s.Config))
	ch.Out = s.Out
	conn := &Conn{Port: port, Channel: ch, holder: holder}
	holder.OnRelease = func() {
		if s.closeConn(conn) {
			fmt.Fprintf(s.Out, "\nserial port %s released to another process\n", parsed.Device)
		}
	}
	s.lock.Lock()
	s.conn = conn
	s.lock.Unlock()
	go holder.Run(ctx)
	s.setPrompt(fmt.Sprintf("%s > ", parsed.Device))
	return nil
}

// Close closes the open port, if any.
func (s *Shell) Close() {
	s.closeConn(s.Conn())
}

// closeConn closes conn if it is still the open connection.
func (s *Shell) closeConn(conn *Conn) bool {
	s.lock.Lock()
	if conn == nil || s.conn != conn {
		s.lock.Unlock()
		return false
	}
	s.conn = nil
	s.lock.Unlock()

	conn.holder.Close()
	conn.Port.Close()
	s.setPrompt(disconnectedPrompt)
	return true
}

func (s *Shell) setPrompt(prompt string) {
	if s.Shell != nil {
		s.Shell.SetPrompt(prompt)
	}
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	if serialSpec != "" {
		if err := s.Open(serialSpec); err != nil {
			log.Fatalf("open %q failed: %v", serialSpec, err)
		}
	}
	defer s.Close()

	if len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			log.Fatalln(err)
		}
		return
	}
	if s.Interactive {
		s.Shell.Run()
		return
	}
	log.Fatalln("command expected")
}

var (
	// PortsCmd lists serial ports.
	PortsCmd = ishell.Cmd{
		Name:    "ports",
		Aliases: []string{"list", "l"},
		Help:    "",
		Func: func(c *ishell.Context) {
			ports, err := serialport.List()
			if err != nil {
				c.Err(err)
				return
			}
			if len(ports) == 0 {
				c.Println("No serial ports found")
				return
			}
			for _, port := range ports {
				c.Println(port)
			}
		},
	}

	// OpenCmd opens a serial port.
	OpenCmd = ishell.Cmd{
		Name:    "open",
		Aliases: []string{"o"},
		Help:    "PORT:BAUD:DATABITS:PARITY:STOPBITS",
		Func: func(c *ishell.Context) {
			if len(c.Args) != 1 {
				c.Err(fmt.Errorf("serial spec required"))
				return
			}
			if err := ShellFrom(c).Open(c.Args[0]); err != nil {
				c.Err(err)
			}
		},
	}

	// CloseCmd closes the serial port.
	CloseCmd = ishell.Cmd{
		Name:    "close",
		Aliases: []string{"d"},
		Help:    "",
		Func: func(c *ishell.Context) {
			ShellFrom(c).Close()
		},
	}
)

// Main is a helper to provide a single call in main.
func Main() {
	flag.Parse()
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalln(err)
	}
	New(cfg).Run(flag.Args()...)
}
