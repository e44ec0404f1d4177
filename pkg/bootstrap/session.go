package bootstrap

import (
	"fmt"
	"io"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	fx "github.com/robotalks/uloader/pkg/framework"
	"github.com/robotalks/uloader/pkg/uboot"
)

// LoadOnlyAddress as the start address loads the image without jumping to
// it.
const LoadOnlyAddress = "0xFFFFFFFF"

// Proxy is the debug proxy requested on the command line.
type Proxy struct {
	Address  string
	Port     int
	Protocol string
	// Active is set only for TCP on the local host.
	Active bool
}

// ParseProxy validates the proxy arguments.
func ParseProxy(address, port, protocol string) (Proxy, error) {
	p := Proxy{Address: address, Protocol: protocol}
	n, err := strconv.Atoi(port)
	if err != nil || n <= 0 || n > 65535 {
		return p, configErrorf("invalid proxy port %q", port)
	}
	p.Port = n
	p.Active = strings.EqualFold(protocol, "TCP") &&
		(strings.EqualFold(address, "localhost") || address == "127.0.0.1")
	return p, nil
}

// Params are the parsed command line arguments.
type Params struct {
	Serial    string
	Image     string
	StartAddr string
	LoadAddr  string
	Proxy     *Proxy
}

// Usage is the argument synopsis.
const Usage = "serial <port:baud_rate:data_bits:parity:stop_bits> app <binary app filename> s <hex start address> l <hex load address> [--proxy <target_ip> <target_port> <protocol>]"

// ParseArgs parses the positional arguments of a run.
func ParseArgs(args []string) (Params, error) {
	var p Params
	keys := []struct {
		name string
		dst  *string
	}{
		{"serial", &p.Serial},
		{"app", &p.Image},
		{"s", &p.StartAddr},
		{"l", &p.LoadAddr},
	}
	rest := args
	for _, k := range keys {
		if len(rest) < 2 || rest[0] != k.name {
			return p, configErrorf("usage: %s", Usage)
		}
		*k.dst = rest[1]
		rest = rest[2:]
	}
	if len(rest) == 0 {
		return p, nil
	}
	if (rest[0] != "--proxy" && rest[0] != "-proxy" && rest[0] != "proxy") || len(rest) != 4 {
		return p, configErrorf("usage: %s", Usage)
	}
	proxy, err := ParseProxy(rest[1], rest[2], rest[3])
	if err != nil {
		return p, err
	}
	p.Proxy = &proxy
	return p, nil
}

// Session is the state of one bring-up run, handed from phase to phase.
type Session struct {
	ID string

	SerialSpec string
	ImageDir   string
	ImageName  string
	StartAddr  string
	LoadAddr   string
	Proxy      Proxy

	TargetIP  netip.Addr
	ServerIP  netip.Addr
	DebugIP   netip.Addr
	DebugPort int

	Channel *uboot.Channel
	Port    SerialPort

	// Out receives operator progress.
	Out io.Writer
	// Abort is polled by the unbounded waits.
	Abort fx.Aborter
}

// NewSession creates a session for params. The image must exist.
func NewSession(params Params) (*Session, error) {
	info, err := os.Stat(params.Image)
	if err != nil || info.IsDir() {
		return nil, configErrorf("application file not found: %s", params.Image)
	}
	s := &Session{
		ID:         uuid.NewString(),
		SerialSpec: params.Serial,
		ImageDir:   filepath.Dir(params.Image),
		ImageName:  filepath.Base(params.Image),
		StartAddr:  params.StartAddr,
		LoadAddr:   params.LoadAddr,
		Out:        io.Discard,
	}
	if params.Proxy != nil {
		s.Proxy = *params.Proxy
	}
	return s, nil
}

// LoadOnly reports whether the image is loaded without being started.
func (s *Session) LoadOnly() bool {
	return strings.EqualFold(s.StartAddr, LoadOnlyAddress)
}

// DebugAddr returns the debug server address found on the target.
func (s *Session) DebugAddr() string {
	return netip.AddrPortFrom(s.DebugIP, uint16(s.DebugPort)).String()
}

// Close releases the serial port.
func (s *Session) Close() error {
	if s.Port == nil {
		return nil
	}
	return s.Port.Close()
}

func (s *Session) progress(format string, args ...interface{}) {
	fmt.Fprintf(s.Out, format, args...)
}
