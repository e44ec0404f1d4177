package uboot

import (
	"fmt"
	"strings"

	"github.com/golang/glog"
)

// StartTransfer asks the board to fetch file over TFTP into loadAddr.
// No prompt wait: the previous exchange already consumed it.
func (c *Channel) StartTransfer(loadAddr, file string) error {
	if err := c.Command(fmt.Sprintf("tftp %s %s", loadAddr, file)); err != nil {
		return err
	}
	c.advance(TransferPending)
	return nil
}

// WaitTransferDone follows the board's TFTP output until it reports the
// byte count. A link-down report fails immediately; quiet periods and
// TFTP timeouts consume the transfer retry budget.
func (c *Channel) WaitTransferDone() error {
	const op = "tftp transfer"
	c.progress("Waiting for TFTP to complete: ")

	line, err := c.readLine()
	if err != nil {
		return err
	}
	ok, err := c.scanForToken(line, LoadAddressToken, c.opts.ResponseRetries)
	if err != nil {
		return err
	}
	if !ok {
		return c.transferFailed(timeoutError(op, "no %q from target", LoadAddressToken))
	}

	for tries := c.opts.TransferRetries; tries > 0; {
		if c.aborted() {
			return c.transferFailed(ErrAborted)
		}
		if line, err = c.readLine(); err != nil {
			return err
		}
		switch {
		case strings.Contains(line, TransferDoneToken):
			glog.Infof("uboot: %s", strings.TrimSpace(line))
			c.progress("\n    SUCCESS: TFTP Transfer is complete\n")
			c.advance(TransferComplete)
			return nil
		case strings.Contains(line, LinkDownToken):
			c.progress("\n    ERROR: Link down")
			return c.transferFailed(signalError(op, "link down"))
		case line == "" || strings.Contains(line, TransferTimeoutMark):
			tries--
			c.progress("T")
		default:
			c.progress("#")
		}
	}
	return c.transferFailed(timeoutError(op, "retries exhausted"))
}

func (c *Channel) transferFailed(err error) error {
	c.progress("\n    ERROR: TFTP Transfer failed\n")
	return err
}
