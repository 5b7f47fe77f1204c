package server

import (
	"bufio"
	"io"
)

const (
	telnetIAC  = 0xFF
	telnetWILL = 0xFB
	telnetWONT = 0xFC
	telnetDO   = 0xFD
	telnetDONT = 0xFE
)

// telnetReader strips Telnet command sequences (RFC 854) from the control
// stream. IAC IAC is kept as a single 0xFF data byte.
type telnetReader struct {
	r *bufio.Reader
}

func newTelnetReader(r io.Reader) *telnetReader {
	return &telnetReader{r: bufio.NewReader(r)}
}

// Reset switches the reader to a new source and drops anything buffered
// from the old one.
func (t *telnetReader) Reset(r io.Reader) {
	t.r.Reset(r)
}

// Buffered returns the number of raw bytes read from the source but not yet
// returned.
func (t *telnetReader) Buffered() int {
	return t.r.Buffered()
}

// Read fills p with data bytes. It returns early rather than block once it
// has something and the buffer is drained.
func (t *telnetReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if n > 0 && t.r.Buffered() == 0 {
			return n, nil
		}

		b, err := t.r.ReadByte()
		if err != nil {
			if n > 0 {
				return n, nil
			}
			return 0, err
		}
		if b != telnetIAC {
			p[n] = b
			n++
			continue
		}

		op, err := t.r.ReadByte()
		if err != nil {
			return n, err
		}
		switch op {
		case telnetIAC:
			p[n] = telnetIAC
			n++
		case telnetWILL, telnetWONT, telnetDO, telnetDONT:
			if _, err := t.r.ReadByte(); err != nil {
				return n, err
			}
		}
	}
	return n, nil
}
