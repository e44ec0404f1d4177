package transfer

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/pin/tftp/v3"
	"github.com/pkg/errors"

	fx "github.com/robotalks/uloader/pkg/framework"
)

// Server is a read-only TFTP server exporting the files of one directory.
type Server struct {
	Dir     string
	Timeout time.Duration
	Retries int
}

// NewServer creates a Server exporting dir.
func NewServer(dir string) *Server {
	return &Server{Dir: dir, Timeout: 5 * time.Second, Retries: 10}
}

// Serve listens on addr and serves until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return errors.Wrapf(err, "tftp listen %s", addr)
	}
	return s.ServeConn(ctx, conn)
}

// ServeConn serves on an already bound connection until ctx is done.
// The connection is closed on return.
func (s *Server) ServeConn(ctx context.Context, conn net.PacketConn) error {
	srv := tftp.NewServer(s.readFile, nil)
	if s.Timeout > 0 {
		srv.SetTimeout(s.Timeout)
	}
	if s.Retries > 0 {
		srv.SetRetries(s.Retries)
	}
	srv.SetHook(logHook{})
	glog.Infof("tftp: serving %s on %s", s.Dir, conn.LocalAddr())
	defer conn.Close()
	var returned atomic.Bool
	return fx.RunWithContextCancel(ctx, func() {
		// Shutdown blocks unless Serve is still looping.
		if !returned.Load() {
			srv.Shutdown()
		}
	}, func() error {
		err := srv.Serve(conn)
		returned.Store(true)
		return err
	})
}

// Path maps a requested name into the exported directory. Only the base
// name is used.
func (s *Server) Path(name string) (string, error) {
	base := filepath.Base(filepath.Clean("/" + filepath.ToSlash(name)))
	if base == "/" || base == "." {
		return "", errors.Errorf("invalid file name %q", name)
	}
	return filepath.Join(s.Dir, base), nil
}

func (s *Server) readFile(name string, rf io.ReaderFrom) error {
	path, err := s.Path(name)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		glog.Warningf("tftp: read %q: %v", name, err)
		return err
	}
	defer f.Close()
	if out, ok := rf.(tftp.OutgoingTransfer); ok {
		if info, err := f.Stat(); err == nil {
			out.SetSize(info.Size())
		}
		addr := out.RemoteAddr()
		glog.V(2).Infof("tftp: %s requested %s", addr.String(), path)
	}
	n, err := rf.ReadFrom(f)
	if err != nil {
		return err
	}
	glog.V(2).Infof("tftp: sent %d bytes of %s", n, path)
	return nil
}

type logHook struct{}

func (logHook) OnSuccess(stats tftp.TransferStats) {
	glog.Infof("tftp: %s transferred in %v", stats.Filename, stats.Duration)
}

func (logHook) OnFailure(stats tftp.TransferStats, err error) {
	glog.Warningf("tftp: %s failed: %v", stats.Filename, err)
}
