package serialport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

func TestParseSpec(t *testing.T) {
	spec, err := ParseSpec("/dev/ttyUSB0:115200:8:n:1")
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", spec.Device)
	assert.Equal(t, &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}, spec.Mode())
	assert.Equal(t, "/dev/ttyUSB0:115200:8:n:1", spec.String())

	spec, err = ParseSpec("COM3:9600:7:EVEN:2")
	require.NoError(t, err)
	assert.Equal(t, serial.EvenParity, spec.Parity)
	assert.Equal(t, serial.TwoStopBits, spec.StopBits)
	assert.Equal(t, 7, spec.DataBits)
}

func TestParseSpecRejects(t *testing.T) {
	cases := []struct {
		name string
		spec string
	}{
		{name: "too few fields", spec: "COM3:115200:8:N"},
		{name: "too many fields", spec: "COM3:115200:8:N:1:x"},
		{name: "empty device", spec: ":115200:8:N:1"},
		{name: "baud", spec: "COM3:fast:8:N:1"},
		{name: "data bits", spec: "COM3:115200:9:N:1"},
		{name: "parity", spec: "COM3:115200:8:M:1"},
		{name: "stop bits", spec: "COM3:115200:8:N:3"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := ParseSpec(c.spec)
			assert.Error(t, err)
		})
	}
}

func TestSpecStringWithoutRaw(t *testing.T) {
	spec := Spec{Device: "COM1", BaudRate: 57600, DataBits: 8, Parity: serial.OddParity, StopBits: serial.OneStopBit}
	assert.Equal(t, "COM1:57600:8:O:1", spec.String())
}
