package uboot

import (
	"errors"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fx "github.com/robotalks/uloader/pkg/framework"
)

func TestCheckForToken(t *testing.T) {
	cases := []struct {
		name     string
		lines    []string
		tries    int
		expected bool
		consumed int
	}{
		{
			name:     "match on first line",
			lines:    []string{"Load address: 0x80000000\n", "x\n"},
			tries:    3,
			expected: true,
			consumed: 1,
		},
		{
			name:     "match within budget",
			lines:    []string{"noise\n", "", "Load address: 0x1\n"},
			tries:    3,
			expected: true,
			consumed: 3,
		},
		{
			name:     "match beyond budget",
			lines:    []string{"noise\n", "noise\n", "Load address: 0x1\n"},
			tries:    2,
			expected: false,
			consumed: 2,
		},
		{
			name:     "only at line start",
			lines:    []string{"  Load address: 0x1\n", "xLoad address:\n"},
			tries:    2,
			expected: false,
			consumed: 2,
		},
		{
			name:     "zero tries reads nothing",
			lines:    []string{"Load address: 0x1\n"},
			tries:    0,
			expected: false,
			consumed: 0,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			port := newTestPort(c.lines...)
			ch, _ := newTestChannel(t, port)
			ok, err := ch.CheckForToken(LoadAddressToken, c.tries)
			require.NoError(t, err)
			assert.Equal(t, c.expected, ok)
			assert.Equal(t, len(c.lines)-c.consumed, port.Remaining())
		})
	}
}

func TestWaitForPromptAcknowledged(t *testing.T) {
	port := newTestPort()
	port.respond = func(w string) []string {
		if w == CtrlC {
			return []string{"<INTERRUPT>\r\n"}
		}
		return nil
	}
	ch, out := newTestChannel(t, port)
	require.NoError(t, ch.WaitForPrompt())
	assert.Equal(t, Synced, ch.State())
	assert.Equal(t, CtrlC, port.Written())
	assert.Contains(t, out.String(), "SUCCESS: Established communication")
	opts := testOptions()
	assert.Equal(t, []time.Duration{opts.SyncReadTimeout, opts.ReadTimeout}, port.timeouts)
}

func TestWaitForPromptEscalatesUntilAcknowledged(t *testing.T) {
	port := newTestPort()
	attempts := 0
	port.respond = func(w string) []string {
		attempts++
		if attempts < 5 {
			return []string{"U-Boot 2020.01 booting\r\n"}
		}
		return []string{"=> <INTERRUPT>\r\n"}
	}
	ch, out := newTestChannel(t, port)
	require.NoError(t, ch.WaitForPrompt())
	assert.Equal(t, 5, attempts)
	assert.Contains(t, out.String(), "power cycle")
}

func TestWaitForPromptAbortedDuringIndefiniteRetry(t *testing.T) {
	port := newTestPort()
	var abort fx.AbortFlag
	ch, out := newTestChannel(t, port)
	ch.Abort = &abort

	time.AfterFunc(30*time.Millisecond, abort.Abort)
	errCh := make(chan error, 1)
	go func() { errCh <- ch.WaitForPrompt() }()
	select {
	case err := <-errCh:
		assert.Equal(t, ErrAborted, err)
	case <-time.After(2 * time.Second):
		t.Fatal("prompt sync did not stop after abort")
	}
	assert.Equal(t, Disconnected, ch.State())
	assert.Contains(t, out.String(), "aborted")
	assert.True(t, strings.Count(port.Written(), CtrlC) > 1)
}

func TestWaitForPromptAlreadyAborted(t *testing.T) {
	port := newTestPort()
	var abort fx.AbortFlag
	abort.Abort()
	ch, _ := newTestChannel(t, port)
	ch.Abort = &abort
	assert.Equal(t, ErrAborted, ch.WaitForPrompt())
	assert.Empty(t, port.Written())
}

func TestWaitForPromptTransportError(t *testing.T) {
	port := newTestPort()
	port.readErr = errors.New("device unplugged")
	ch, _ := newTestChannel(t, port)
	err := ch.WaitForPrompt()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device unplugged")
}

func TestPromptLearnedFromFirstUnmatchedLine(t *testing.T) {
	port := newTestPort("", "=> ", "", "setenv foo\r\n", "=> ")
	ch, _ := newTestChannel(t, port)
	ok, err := ch.checkForPrompt("", 5)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "=> ", ch.Prompt())
	assert.True(t, ch.PromptLearned())

	// once learned, other lines no longer count
	ok, err = ch.checkForPrompt("", 5)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, port.Remaining())
	assert.Equal(t, "=> ", ch.Prompt())
}

func TestPromptConfiguredPrefixConfirms(t *testing.T) {
	port := newTestPort("noise\n", "")
	ch, _ := newTestChannel(t, port)
	ok, err := ch.checkForPrompt("U-Boot> ", 3)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "U-Boot", ch.Prompt())

	ok, err = ch.checkForPrompt("", 2)
	require.NoError(t, err)
	assert.False(t, ok, "noise must not be adopted once confirmed")
}

func TestPromptZeroTries(t *testing.T) {
	port := newTestPort("U-Boot> ")
	ch, _ := newTestChannel(t, port)
	ok, err := ch.checkForPrompt("U-Boot> ", 0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, port.Remaining())
}

func dhcpBoard(t *testing.T) *testPort {
	port := newTestPort("<INTERRUPT>\r\n", "=> ")
	port.respond = func(w string) []string {
		switch {
		case strings.HasPrefix(w, "setenv autoload no;dhcp"):
			return []string{
				"setenv autoload no;dhcp\r\n",
				"BOOTP broadcast 1\r\n",
				"DHCP client bound to address 192.168.1.50 (12 ms)\r\n",
				"=> ",
			}
		case strings.HasPrefix(w, "setenv serverip"):
			return []string{strings.TrimSpace(w) + "\r\n", "=> "}
		}
		t.Errorf("unexpected command %q", w)
		return nil
	}
	return port
}

func TestSetupEnv(t *testing.T) {
	port := dhcpBoard(t)
	ch, out := newTestChannel(t, port)
	resolver := &testResolver{server: netip.MustParseAddr("192.168.1.10")}

	res, err := ch.SetupEnv(resolver)
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.50", res.TargetIP.String())
	assert.Equal(t, "192.168.1.10", res.ServerIP.String())
	assert.Equal(t, []netip.Addr{res.TargetIP}, resolver.asked)
	assert.Equal(t, "setenv autoload no;dhcp\nsetenv serverip 192.168.1.10\n", port.Written())
	assert.Equal(t, EnvConfigured, ch.State())
	assert.Equal(t, "=> ", ch.Prompt())
	assert.Contains(t, out.String(), "SUCCESS: Minimum required U-Boot environment parameters set")
}

func TestSetupEnvNoLease(t *testing.T) {
	port := newTestPort("<INTERRUPT>\r\n", "=> ")
	port.respond = func(w string) []string {
		return []string{"BOOTP broadcast 1\r\n", "BOOTP broadcast 2\r\n"}
	}
	ch, out := newTestChannel(t, port)
	_, err := ch.SetupEnv(&testResolver{})
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.Contains(t, out.String(), "Failed to obtain a DHCP address")
}

func TestSetupEnvResolverFailure(t *testing.T) {
	port := dhcpBoard(t)
	ch, out := newTestChannel(t, port)
	_, err := ch.SetupEnv(&testResolver{err: errors.New("no match")})
	assert.EqualError(t, err, "no match")
	assert.Contains(t, out.String(), "same subnet")
	assert.NotContains(t, port.Written(), "serverip")
}

func TestCheckEnv(t *testing.T) {
	port := newTestPort()
	port.respond = func(w string) []string {
		switch strings.TrimSpace(w) {
		case "printenv ethaddr":
			return []string{"printenv ethaddr\r\n", "ethaddr=00:11:22:33:44:55\r\n"}
		case "printenv serverip":
			return []string{"printenv serverip\r\n", "## Error: \"serverip\" not defined\r\n"}
		}
		return []string{w}
	}
	ch, out := newTestChannel(t, port)
	require.NoError(t, ch.CheckEnv("ethaddr"))
	err := ch.CheckEnv("ethaddr", "serverip", "ipaddr")
	require.Error(t, err)
	assert.True(t, IsSignal(err))
	assert.Contains(t, err.Error(), "serverip, ipaddr")
	assert.Contains(t, out.String(), "ethaddr:  PASSED")
}
