// Package serialport opens the serial device connected to the target board.
package serialport

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.bug.st/serial"
)

// Spec describes a serial device as given on the command line:
// <device>:<baud>:<databits>:<parity>:<stopbits>
type Spec struct {
	Device   string
	BaudRate int
	DataBits int
	Parity   serial.Parity
	StopBits serial.StopBits

	raw string
}

var parities = map[string]serial.Parity{
	"N":    serial.NoParity,
	"NONE": serial.NoParity,
	"E":    serial.EvenParity,
	"EVEN": serial.EvenParity,
	"O":    serial.OddParity,
	"ODD":  serial.OddParity,
}

var stopBits = map[int]serial.StopBits{
	1: serial.OneStopBit,
	2: serial.TwoStopBits,
}

// ParseSpec parses a serial spec string.
func ParseSpec(s string) (Spec, error) {
	fields := strings.Split(strings.TrimSpace(s), ":")
	if len(fields) != 5 {
		return Spec{}, errors.Errorf("serial parameters %q not accepted, expecting port:baudrate:databits:parity:stopbits", s)
	}
	spec := Spec{Device: fields[0], raw: s}
	if spec.Device == "" {
		return Spec{}, errors.Errorf("serial parameters %q: empty device", s)
	}
	var err error
	if spec.BaudRate, err = strconv.Atoi(fields[1]); err != nil || spec.BaudRate <= 0 {
		return Spec{}, errors.Errorf("serial parameters %q: invalid baud rate %q", s, fields[1])
	}
	if spec.DataBits, err = strconv.Atoi(fields[2]); err != nil || spec.DataBits < 5 || spec.DataBits > 8 {
		return Spec{}, errors.Errorf("serial parameters %q: invalid data bits %q", s, fields[2])
	}
	parity, ok := parities[strings.ToUpper(fields[3])]
	if !ok {
		return Spec{}, errors.Errorf("serial parameters %q: invalid parity %q", s, fields[3])
	}
	spec.Parity = parity
	stop, err := strconv.Atoi(fields[4])
	if err != nil {
		return Spec{}, errors.Errorf("serial parameters %q: invalid stop bits %q", s, fields[4])
	}
	if spec.StopBits, ok = stopBits[stop]; !ok {
		return Spec{}, errors.Errorf("serial parameters %q: invalid stop bits %q", s, fields[4])
	}
	return spec, nil
}

// Mode converts the spec into the serial library mode.
func (s Spec) Mode() *serial.Mode {
	return &serial.Mode{
		BaudRate: s.BaudRate,
		DataBits: s.DataBits,
		Parity:   s.Parity,
		StopBits: s.StopBits,
	}
}

// String returns the spec in command line form.
func (s Spec) String() string {
	if s.raw != "" {
		return s.raw
	}
	parity := "N"
	switch s.Parity {
	case serial.EvenParity:
		parity = "E"
	case serial.OddParity:
		parity = "O"
	}
	stop := 1
	if s.StopBits == serial.TwoStopBits {
		stop = 2
	}
	return fmt.Sprintf("%s:%d:%d:%s:%d", s.Device, s.BaudRate, s.DataBits, parity, stop)
}
