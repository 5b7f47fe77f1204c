package server

import (
	"bytes"
	"errors"
)

// CommandDecoder reassembles FTP command lines from a byte stream that may
// arrive in arbitrary chunks.
//
// A line ends at LF, at a bare CR, or at CRLF. A CR that ends one chunk and
// an LF that starts the next one count as a single terminator. Lines are
// decoded with the charset returned by the selector at decode time, not at
// construction time.
//
// A CommandDecoder belongs to a single connection and is not safe for
// concurrent use.
type CommandDecoder struct {
	charset EncodingSelector
	buf     []byte
	lastCR  bool
}

// NewCommandDecoder creates a decoder that uses sel to pick the charset for
// each line. A nil selector, or a selector returning nil, means UTF-8.
func NewCommandDecoder(sel EncodingSelector) *CommandDecoder {
	return &CommandDecoder{charset: sel}
}

// Frames appends p to the buffer and returns every line completed by it,
// without terminators and without decoding. Empty lines are dropped. Bytes
// after the last terminator stay buffered for the next call.
func (d *CommandDecoder) Frames(p []byte) [][]byte {
	var frames [][]byte
	for _, b := range p {
		if d.lastCR {
			d.lastCR = false
			if b == '\n' {
				continue
			}
		}

		switch b {
		case '\r':
			d.lastCR = true
			frames = d.flush(frames)
		case '\n':
			frames = d.flush(frames)
		default:
			d.buf = append(d.buf, b)
		}
	}
	return frames
}

func (d *CommandDecoder) flush(frames [][]byte) [][]byte {
	if len(d.buf) > 0 {
		frames = append(frames, bytes.Clone(d.buf))
	}
	d.buf = d.buf[:0]
	return frames
}

// Decode turns a single framed line into a Command using the current
// charset.
func (d *CommandDecoder) Decode(line []byte) (Command, error) {
	cs := d.Charset()
	text, err := cs.Decode(line)
	if err != nil {
		return Command{}, &DecodeError{Raw: bytes.Clone(line), Charset: cs.Name(), Err: err}
	}
	return parseCommand(text), nil
}

// Feed frames p and decodes every completed line. Lines that fail to decode
// are reported in the returned error (one *DecodeError per line, joined) and
// do not stop the lines after them.
func (d *CommandDecoder) Feed(p []byte) ([]Command, error) {
	var (
		cmds []Command
		errs []error
	)
	for _, line := range d.Frames(p) {
		cmd, err := d.Decode(line)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		cmds = append(cmds, cmd)
	}
	return cmds, errors.Join(errs...)
}

// Charset returns the charset that Decode would use now.
func (d *CommandDecoder) Charset() *Charset {
	if d.charset != nil {
		if cs := d.charset(); cs != nil {
			return cs
		}
	}
	return UTF8
}

// IsEmpty reports whether no unterminated bytes are buffered.
func (d *CommandDecoder) IsEmpty() bool {
	return len(d.buf) == 0
}

// Buffered returns the number of unterminated bytes held.
func (d *CommandDecoder) Buffered() int {
	return len(d.buf)
}

// Reset discards buffered bytes and the pending CR state. It returns how many
// bytes were dropped.
func (d *CommandDecoder) Reset() int {
	n := len(d.buf)
	d.buf = d.buf[:0]
	d.lastCR = false
	return n
}
