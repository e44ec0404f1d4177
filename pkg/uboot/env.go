package uboot

import (
	"net/netip"
	"strings"

	"github.com/golang/glog"
)

// EnvResult is what SetupEnv learned.
type EnvResult struct {
	TargetIP netip.Addr
	ServerIP netip.Addr
}

// SetupEnv lets the board obtain a DHCP address, finds the host address on
// the same subnet and programs it as the board's TFTP server.
// It expects the interrupt acknowledgment to be the last line consumed.
func (c *Channel) SetupEnv(resolver Resolver) (EnvResult, error) {
	const op = "setup env"
	var res EnvResult
	c.progress("Setting U-Boot environment variables:\n")

	line, err := c.readLine()
	if err != nil {
		return res, err
	}
	tries := c.opts.ResponseRetries
	for strings.Contains(line, InterruptAck) && tries > 0 {
		if line, err = c.readLine(); err != nil {
			return res, err
		}
		tries--
	}
	if strings.Contains(line, InterruptAck) {
		return res, c.envFailed(timeoutError(op, "console kept echoing %s", InterruptAck))
	}
	ok, err := c.checkForPrompt(line, c.opts.CmdRetries)
	if err != nil {
		return res, err
	}
	if !ok {
		return res, c.envFailed(timeoutError(op, "no prompt %q", c.prompt))
	}

	if err = c.Command("setenv autoload no;dhcp"); err != nil {
		return res, err
	}
	ok, line, err = c.scanLines(c.opts.ResponseRetries, func(l string) bool {
		return strings.HasPrefix(l, DHCPBoundToken)
	})
	if err != nil {
		return res, err
	}
	if !ok {
		c.progress("    ERROR: Failed to obtain a DHCP address for the target\n")
		return res, c.envFailed(timeoutError(op, "no DHCP lease"))
	}
	target, ok := ExtractIPv4(strings.TrimSpace(line))
	if !ok {
		c.progress("    ERROR: Failed to obtain a DHCP address for the target\n")
		return res, c.envFailed(signalError(op, "no address in %q", strings.TrimSpace(line)))
	}
	res.TargetIP = target
	c.progress("    SUCCESS: Obtained a DHCP address for the target\n")
	glog.Infof("uboot: target address %s", target)

	server, err := resolver.Resolve(target)
	if err != nil {
		c.progress("    ERROR: Failed to locate the TFTP Server\n")
		c.progress("           Please ensure that both the host and the target are in the same subnet.\n")
		return res, c.envFailed(err)
	}
	c.progress("    SUCCESS: Found the TFTP Server\n")
	res.ServerIP = server

	if err = c.SetServerIP(server); err != nil {
		return res, c.envFailed(err)
	}
	c.progress("    SUCCESS: Minimum required U-Boot environment parameters set\n")
	c.advance(EnvConfigured)
	return res, nil
}

func (c *Channel) envFailed(err error) error {
	c.progress("    ERROR: Minimum required U-Boot environment parameters not set\n")
	return err
}

// SetServerIP waits for the prompt, sets serverip and waits for the prompt
// again.
func (c *Channel) SetServerIP(ip netip.Addr) error {
	const op = "set serverip"
	line, err := c.readLine()
	if err != nil {
		return err
	}
	ok, err := c.checkForPrompt(line, c.opts.CmdRetries)
	if err != nil {
		return err
	}
	if !ok {
		return timeoutError(op, "no prompt before command")
	}
	if err = c.Command("setenv serverip " + ip.String()); err != nil {
		return err
	}
	if line, err = c.readLine(); err != nil {
		return err
	}
	if ok, err = c.checkForPrompt(line, c.opts.CmdRetries); err != nil {
		return err
	}
	if !ok {
		return timeoutError(op, "no prompt after command")
	}
	return nil
}

// CheckEnv runs printenv for each name and fails listing the names the
// board does not have.
func (c *Channel) CheckEnv(names ...string) error {
	c.progress("Checking U-Boot environment variables set:\n")
	var missing []string
	for _, name := range names {
		if err := c.Command("printenv " + name); err != nil {
			return err
		}
		echo, err := c.readLine()
		if err != nil {
			return err
		}
		value, err := c.readLine()
		if err != nil {
			return err
		}
		glog.V(2).Infof("uboot: printenv %s: %q %q", name, echo, value)
		if value == "" || strings.Contains(value, EnvErrorToken) {
			c.progress("    %s:  FAILED\n", name)
			missing = append(missing, name)
			continue
		}
		c.progress("    %s:  PASSED\n", name)
	}
	if len(missing) > 0 {
		return c.envFailed(signalError("check env", "missing %s", strings.Join(missing, ", ")))
	}
	c.progress("    SUCCESS: Minimum required U-Boot environment parameters set\n")
	return nil
}

// scanLines reads up to tries lines until match accepts one, returning it.
func (c *Channel) scanLines(tries int, match func(string) bool) (bool, string, error) {
	var line string
	for ; tries > 0; tries-- {
		var err error
		if line, err = c.readLine(); err != nil {
			return false, "", err
		}
		if match(line) {
			return true, line, nil
		}
	}
	return false, line, nil
}
