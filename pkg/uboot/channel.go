package uboot

import (
	"fmt"
	"io"
	"net/netip"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	fx "github.com/robotalks/uloader/pkg/framework"
)

// Console tokens.
const (
	CtrlC               = "\x03"
	InterruptAck        = "<INTERRUPT>"
	DefaultPrompt       = "U-Boot"
	DHCPBoundToken      = "DHCP client bound to address"
	LoadAddressToken    = "Load address:"
	TransferDoneToken   = "Bytes transferred ="
	TransferTimeoutMark = "T"
	LinkDownToken       = "link down"
	StartingAppToken    = "## Starting application"
	EnvErrorToken       = "## Error:"
)

// State is the progress of a bring-up session on the channel.
type State int

// Channel states.
const (
	Disconnected State = iota
	Synced
	EnvConfigured
	TransferPending
	TransferComplete
	Running
	IPAcquired
)

var stateNames = []string{
	"Disconnected",
	"Synced",
	"EnvConfigured",
	"TransferPending",
	"TransferComplete",
	"Running",
	"IPAcquired",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Options are the retry budgets and timeouts of a Channel.
type Options struct {
	// SyncRetries bounds the interrupt attempts before the channel asks for
	// a power cycle and retries until aborted. Zero goes straight to the
	// unbounded loop.
	SyncRetries     int
	CmdRetries      int
	ResponseRetries int
	TransferRetries int
	IPRetries       int

	ReadTimeout     time.Duration
	SyncReadTimeout time.Duration

	Prompt string
}

// DefaultOptions returns the budgets used against stock U-Boot.
func DefaultOptions() Options {
	return Options{
		SyncRetries:     1,
		CmdRetries:      60,
		ResponseRetries: 60,
		TransferRetries: 10,
		IPRetries:       60,
		ReadTimeout:     100 * time.Millisecond,
		SyncReadTimeout: time.Second,
		Prompt:          DefaultPrompt,
	}
}

// Resolver finds the host address on the same subnet as the board.
type Resolver interface {
	Resolve(device netip.Addr) (netip.Addr, error)
}

// Channel is the U-Boot console on a serial port. It is not safe for
// concurrent use; one goroutine drives the whole dialogue.
type Channel struct {
	// Out receives operator progress.
	Out io.Writer
	// Abort is polled once per iteration of the unbounded waits.
	Abort fx.Aborter

	port  Port
	lines *lineReader
	opts  Options
	state State

	prompt        string
	promptLearned bool
}

// NewChannel creates a Channel over port.
func NewChannel(port Port, opts Options) *Channel {
	if opts.Prompt == "" {
		opts.Prompt = DefaultPrompt
	}
	return &Channel{
		Out:    io.Discard,
		port:   port,
		lines:  newLineReader(port),
		opts:   opts,
		prompt: opts.Prompt,
	}
}

// State returns the current session state.
func (c *Channel) State() State {
	return c.state
}

// Prompt returns the prompt currently expected.
func (c *Channel) Prompt() string {
	return c.prompt
}

// PromptLearned reports whether the prompt has been confirmed or adopted.
func (c *Channel) PromptLearned() bool {
	return c.promptLearned
}

// SetPrompt fixes the expected prompt.
func (c *Channel) SetPrompt(prompt string) {
	c.prompt = prompt
	c.promptLearned = true
}

func (c *Channel) advance(s State) {
	if s > c.state {
		glog.V(2).Infof("uboot: %s -> %s", c.state, s)
		c.state = s
	}
}

func (c *Channel) aborted() bool {
	return c.Abort != nil && c.Abort.Aborted()
}

func (c *Channel) progress(format string, args ...interface{}) {
	fmt.Fprintf(c.Out, format, args...)
}

func (c *Channel) readLine() (string, error) {
	line, err := c.lines.ReadLine()
	if err != nil {
		return "", errors.Wrap(err, "serial read")
	}
	if line != "" && glog.V(4) {
		glog.Infof("uboot <- %q", line)
	}
	return line, nil
}

func (c *Channel) send(s string) error {
	if glog.V(4) {
		glog.Infof("uboot -> %q", s)
	}
	if _, err := io.WriteString(c.port, s); err != nil {
		return errors.Wrap(err, "serial write")
	}
	return nil
}

// Command writes a console command terminated by a newline.
func (c *Channel) Command(cmd string) error {
	return c.send(cmd + "\n")
}

// ReadLine reads the next console line; empty means the port stayed quiet
// for a whole read timeout.
func (c *Channel) ReadLine() (string, error) {
	return c.readLine()
}

// CheckForToken reads up to tries lines and reports whether one of them
// starts with token. tries <= 0 reads nothing.
func (c *Channel) CheckForToken(token string, tries int) (bool, error) {
	for ; tries > 0; tries-- {
		line, err := c.readLine()
		if err != nil {
			return false, err
		}
		if strings.HasPrefix(line, token) {
			return true, nil
		}
	}
	return false, nil
}

// scanForToken is CheckForToken for a scan whose first line was already
// read by the caller.
func (c *Channel) scanForToken(line, token string, tries int) (bool, error) {
	if tries <= 0 {
		return false, nil
	}
	if strings.HasPrefix(line, token) {
		return true, nil
	}
	return c.CheckForToken(token, tries)
}

// checkForPrompt scans for the prompt starting at line, reading at most
// tries further lines.
func (c *Channel) checkForPrompt(line string, tries int) (bool, error) {
	if tries <= 0 {
		return false, nil
	}
	for {
		if c.matchPrompt(line) {
			return true, nil
		}
		if tries == 0 {
			return false, nil
		}
		next, err := c.readLine()
		if err != nil {
			return false, err
		}
		line = next
		tries--
	}
}

// matchPrompt matches line against the expected prompt. Until the prompt
// is confirmed, the first non-empty unmatched line is adopted as the
// prompt and counts as a match.
func (c *Channel) matchPrompt(line string) bool {
	if strings.HasPrefix(line, c.prompt) {
		c.promptLearned = true
		return true
	}
	if c.promptLearned {
		return false
	}
	learned := strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(learned) == "" {
		return false
	}
	glog.Warningf("uboot: adopting %q as prompt, expected %q", learned, c.prompt)
	c.prompt = learned
	c.promptLearned = true
	return true
}

func (c *Channel) setReadTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	if err := c.port.SetReadTimeout(d); err != nil {
		glog.Warningf("uboot: set read timeout %v: %v", d, err)
	}
}

// WaitForPrompt interrupts the board until it acknowledges. After
// SyncRetries attempts it asks the operator to power cycle the board and
// keeps trying until it succeeds or Abort is raised.
func (c *Channel) WaitForPrompt() error {
	c.progress("Attempting to establish communication with U-Boot: ")

	c.setReadTimeout(c.opts.SyncReadTimeout)
	defer c.setReadTimeout(c.opts.ReadTimeout)

	ok, err := c.loopForPrompt(c.opts.SyncRetries, false)
	if err == nil && !ok && !c.aborted() {
		c.progress("\n    Please power cycle the target and wait... (interrupt to abort)\n")
		glog.Info("uboot: no response to interrupt, waiting for power cycle")
		ok, err = c.loopForPrompt(0, true)
	}
	switch {
	case err != nil:
		c.progress("\n    ERROR: Unable to establish communication with U-Boot: %v\n", err)
		return err
	case !ok:
		c.progress("\n    ERROR: User aborted the connection\n")
		return ErrAborted
	}
	c.progress("\n    SUCCESS: Established communication with U-Boot\n")
	c.advance(Synced)
	return nil
}

func (c *Channel) loopForPrompt(tries int, indefinite bool) (bool, error) {
	for indefinite || tries > 0 {
		if c.aborted() {
			return false, nil
		}
		// Ctrl-C rather than a bare newline, which would repeat the last
		// command.
		if err := c.send(CtrlC); err != nil {
			return false, err
		}
		line, err := c.readLine()
		if err != nil {
			return false, err
		}
		if strings.Contains(line, InterruptAck) {
			return true, nil
		}
		if !indefinite {
			tries--
		}
	}
	return false, nil
}
