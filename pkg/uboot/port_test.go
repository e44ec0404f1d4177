package uboot

import (
	"bytes"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// testPort replays scripted chunks. An empty chunk is a read timeout, and
// so is an exhausted script unless readErr is set.
type testPort struct {
	lock     sync.Mutex
	reads    []string
	written  bytes.Buffer
	respond  func(string) []string
	timeouts []time.Duration
	readErr  error
	nreads   int
}

func newTestPort(chunks ...string) *testPort {
	return &testPort{reads: chunks}
}

func (p *testPort) Read(b []byte) (int, error) {
	p.lock.Lock()
	p.nreads++
	if len(p.reads) == 0 {
		err := p.readErr
		p.lock.Unlock()
		if err != nil {
			return 0, err
		}
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	chunk := p.reads[0]
	n := copy(b, chunk)
	if n < len(chunk) {
		p.reads[0] = chunk[n:]
	} else {
		p.reads = p.reads[1:]
	}
	p.lock.Unlock()
	return n, nil
}

func (p *testPort) Write(b []byte) (int, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.written.Write(b)
	if p.respond != nil {
		p.reads = append(p.reads, p.respond(string(b))...)
	}
	return len(b), nil
}

func (p *testPort) SetReadTimeout(d time.Duration) error {
	p.lock.Lock()
	p.timeouts = append(p.timeouts, d)
	p.lock.Unlock()
	return nil
}

func (p *testPort) Written() string {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.written.String()
}

func (p *testPort) Remaining() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return len(p.reads)
}

func (p *testPort) Reads() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.nreads
}

type testResolver struct {
	server netip.Addr
	err    error
	asked  []netip.Addr
}

func (r *testResolver) Resolve(device netip.Addr) (netip.Addr, error) {
	r.asked = append(r.asked, device)
	return r.server, r.err
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.ReadTimeout = time.Millisecond
	opts.SyncReadTimeout = 2 * time.Millisecond
	return opts
}

func newTestChannel(t *testing.T, port *testPort) (*Channel, *strings.Builder) {
	t.Helper()
	out := &strings.Builder{}
	ch := NewChannel(port, testOptions())
	ch.Out = out
	require.Equal(t, Disconnected, ch.State())
	return ch, out
}
