package bootstrap

import (
	"bytes"
	"strings"
	"sync"
	"time"
)

// board simulates the U-Boot console of a target.
type board struct {
	lock    sync.Mutex
	reads   []string
	written bytes.Buffer
	closed  bool
	appIP   string
}

func (b *board) Read(p []byte) (int, error) {
	b.lock.Lock()
	if len(b.reads) == 0 {
		b.lock.Unlock()
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	chunk := b.reads[0]
	n := copy(p, chunk)
	if n < len(chunk) {
		b.reads[0] = chunk[n:]
	} else {
		b.reads = b.reads[1:]
	}
	b.lock.Unlock()
	return n, nil
}

func (b *board) Write(p []byte) (int, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.written.Write(p)
	cmd := strings.TrimSpace(string(p))
	switch {
	case string(p) == "\x03":
		b.reads = append(b.reads, "<INTERRUPT>\r\n", "=> ")
	case cmd == "setenv autoload no;dhcp":
		b.reads = append(b.reads, cmd+"\r\n",
			"BOOTP broadcast 1\r\n",
			"DHCP client bound to address 10.0.0.5 (3 ms)\r\n",
			"=> ")
	case strings.HasPrefix(cmd, "setenv serverip "):
		b.reads = append(b.reads, cmd+"\r\n", "=> ")
	case strings.HasPrefix(cmd, "tftp "):
		b.reads = append(b.reads, cmd+"\r\n",
			"Using FEC device\r\n",
			"TFTP from server 10.0.0.1; our IP address is 10.0.0.5\r\n",
			"Load address: 0x80000000\r\n",
			"Loading: ##########\r\n",
			"done\r\n",
			"Bytes transferred = 655360 (a0000 hex)\r\n",
			"=> ")
	case strings.HasPrefix(cmd, "go "):
		b.reads = append(b.reads, cmd+"\r\n",
			"## Starting application at 0x80000000 ...\r\n",
			"\r\n",
			"Nucleus networking up\r\n",
			b.appIP+"\r\n")
	}
	return len(p), nil
}

func (b *board) SetReadTimeout(time.Duration) error {
	return nil
}

func (b *board) Close() error {
	b.lock.Lock()
	b.closed = true
	b.lock.Unlock()
	return nil
}

func (b *board) Commands() []string {
	b.lock.Lock()
	defer b.lock.Unlock()
	var cmds []string
	for _, line := range strings.Split(b.written.String(), "\n") {
		line = strings.Trim(line, "\x03")
		if line != "" {
			cmds = append(cmds, line)
		}
	}
	return cmds
}
