package uboot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fx "github.com/robotalks/uloader/pkg/framework"
)

func TestStartTransfer(t *testing.T) {
	port := newTestPort()
	ch, _ := newTestChannel(t, port)
	require.NoError(t, ch.StartTransfer("0x80000000", "app.bin"))
	assert.Equal(t, "tftp 0x80000000 app.bin\n", port.Written())
	assert.Equal(t, TransferPending, ch.State())
}

func TestWaitTransferDone(t *testing.T) {
	port := newTestPort(
		"Using FEC device\r\n",
		"TFTP from server 192.168.1.10; our IP address is 192.168.1.50\r\n",
		"Filename 'app.bin'.\r\n",
		"Load address: 0x80000000\r\n",
		"Loading: #################\r\n",
		"T ###############\r\n",
		"",
		"done\r\n",
		"Bytes transferred = 1048576 (100000 hex)\r\n",
	)
	ch, out := newTestChannel(t, port)
	require.NoError(t, ch.WaitTransferDone())
	assert.Equal(t, TransferComplete, ch.State())
	assert.Contains(t, out.String(), "#TT#")
	assert.Contains(t, out.String(), "SUCCESS: TFTP Transfer is complete")
}

func TestWaitTransferLinkDown(t *testing.T) {
	port := newTestPort(
		"Load address: 0x80000000\r\n",
		"FEC: link down\r\n",
		"Bytes transferred = 1 (1 hex)\r\n",
	)
	ch, out := newTestChannel(t, port)
	err := ch.WaitTransferDone()
	require.Error(t, err)
	assert.True(t, IsSignal(err))
	assert.Contains(t, out.String(), "ERROR: TFTP Transfer failed")
	assert.Equal(t, 1, port.Remaining())
}

func TestWaitTransferRetriesExhausted(t *testing.T) {
	port := newTestPort("Load address: 0x80000000\r\n")
	ch, out := newTestChannel(t, port)
	err := ch.WaitTransferDone()
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.Contains(t, out.String(), "TTTTTTTTTT")
	assert.NotEqual(t, TransferComplete, ch.State())
}

func TestWaitTransferNoLoadAddress(t *testing.T) {
	port := newTestPort("*** ERROR: `serverip' not set\r\n")
	ch, _ := newTestChannel(t, port)
	err := ch.WaitTransferDone()
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
}

func TestWaitTransferAborted(t *testing.T) {
	port := newTestPort("Load address: 0x80000000\r\n", "Loading: ###\r\n")
	var abort fx.AbortFlag
	abort.Abort()
	ch, _ := newTestChannel(t, port)
	ch.Abort = &abort
	assert.Equal(t, ErrAborted, ch.WaitTransferDone())
	assert.Equal(t, 1, port.Remaining())
}
