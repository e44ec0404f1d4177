package uboot

import (
	"bytes"
	"io"
	"os"
	"time"
)

// MaxLineLength caps a single line; longer output is split.
const MaxLineLength = 4096

// Port is the serial connection to the board. Read must return after the
// configured read timeout, either with 0, nil or with a timeout error.
type Port interface {
	io.ReadWriter
	SetReadTimeout(time.Duration) error
}

// lineReader splits port input into lines. A read that times out ends the
// current line, so an idle port yields empty lines and a prompt without a
// newline is returned as soon as the port goes quiet.
type lineReader struct {
	r     io.Reader
	buf   []byte
	chunk [256]byte
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{r: r}
}

// ReadLine returns the next line including its '\n' if complete.
func (l *lineReader) ReadLine() (string, error) {
	for {
		if line, ok := l.cut(); ok {
			return line, nil
		}
		n, err := l.r.Read(l.chunk[:])
		if n > 0 {
			l.buf = append(l.buf, l.chunk[:n]...)
		}
		switch {
		case err != nil && !isTimeout(err):
			return "", err
		case n == 0 || err != nil:
			if line, ok := l.cut(); ok {
				return line, nil
			}
			line := string(l.buf)
			l.buf = l.buf[:0]
			return line, nil
		}
	}
}

func (l *lineReader) cut() (string, bool) {
	pos := bytes.IndexByte(l.buf, '\n')
	if pos < 0 {
		if len(l.buf) < MaxLineLength {
			return "", false
		}
		pos = MaxLineLength - 1
	}
	line := string(l.buf[:pos+1])
	l.buf = append(l.buf[:0], l.buf[pos+1:]...)
	return line, true
}

func isTimeout(err error) bool {
	return os.IsTimeout(err)
}
