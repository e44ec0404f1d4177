package uboot

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/golang/glog"
)

// IssueGo jumps to addr. It checks for the prompt left by the previous
// exchange, without interrupting, and does not wait for a reply: the next
// step resynchronizes on the application's output.
func (c *Channel) IssueGo(addr string) error {
	line, err := c.readLine()
	if err != nil {
		return err
	}
	ok, err := c.checkForPrompt(line, c.opts.CmdRetries)
	if err != nil {
		return err
	}
	if !ok {
		c.progress("    ERROR: Failed to issue 'go' command\n")
		return timeoutError("go", "no prompt %q", c.prompt)
	}
	c.progress("Issuing 'go' command to U-Boot\n")
	if err = c.Command(fmt.Sprintf("go %s", addr)); err != nil {
		return err
	}
	c.advance(Running)
	return nil
}

// WaitForIP waits for the application to start and advertise its IPv4
// address on a line of its own.
func (c *Channel) WaitForIP() (netip.Addr, error) {
	const op = "wait for ip"
	ok, _, err := c.scanLines(c.opts.IPRetries+1, func(l string) bool {
		return strings.HasPrefix(l, StartingAppToken)
	})
	if err != nil {
		return netip.Addr{}, err
	}
	if !ok {
		return netip.Addr{}, c.ipFailed(timeoutError(op, "application did not start"))
	}

	for tries := c.opts.IPRetries; tries > 0; tries-- {
		if c.aborted() {
			return netip.Addr{}, c.ipFailed(ErrAborted)
		}
		line, err := c.readLine()
		if err != nil {
			return netip.Addr{}, err
		}
		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}
		if IsValidIPv4(text) {
			addr := netip.MustParseAddr(text)
			c.progress("\n    SUCCESS: Autodetected IP address: %s\n", addr)
			glog.Infof("uboot: application address %s", addr)
			c.advance(IPAcquired)
			return addr, nil
		}
		c.progress(">")
	}
	return netip.Addr{}, c.ipFailed(timeoutError(op, "no address advertised"))
}

func (c *Channel) ipFailed(err error) error {
	c.progress("\n    ERROR: Autodetect IP address failed\n")
	return err
}
