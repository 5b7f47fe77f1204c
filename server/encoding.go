package server

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
)

// ErrInvalidText is wrapped by Charset.Decode when the input bytes are not
// valid in the charset.
var ErrInvalidText = errors.New("invalid text for charset")

// Charset is the text encoding used to decode command lines and encode
// replies on a control connection.
type Charset struct {
	name string
	enc  encoding.Encoding
	// ascii restricts the charset to 7-bit bytes.
	ascii bool
	utf8  bool
}

var (
	// UTF8 is the charset negotiated by OPTS UTF8 ON (RFC 2640).
	UTF8 = &Charset{name: "UTF-8", enc: unicode.UTF8, utf8: true}

	// ASCII is the 7-bit charset of RFC 959.
	ASCII = &Charset{name: "US-ASCII", ascii: true}
)

// EncodingSelector returns the charset in effect right now. The decoder
// calls it for every line it decodes, so a session can switch charsets
// between two commands that arrived in the same read.
type EncodingSelector func() *Charset

// LookupCharset returns the charset registered under name. IANA names are
// tried first, then WHATWG labels.
func LookupCharset(name string) (*Charset, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "", "UTF8", "UTF-8":
		return UTF8, nil
	case "ASCII", "US-ASCII":
		return ASCII, nil
	}

	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		enc, err = htmlindex.Get(name)
		if err != nil {
			return nil, fmt.Errorf("unknown charset %q: %w", name, err)
		}
	}

	canonical, err := ianaindex.IANA.Name(enc)
	if err != nil {
		canonical = name
	}
	return &Charset{name: canonical, enc: enc}, nil
}

// Name returns the canonical charset name.
func (c *Charset) Name() string {
	return c.name
}

// Decode converts raw bytes to text. Bytes that are not valid in the charset
// are an error rather than being replaced.
func (c *Charset) Decode(b []byte) (string, error) {
	switch {
	case c.ascii:
		for i, ch := range b {
			if ch >= utf8.RuneSelf {
				return "", fmt.Errorf("%w: byte 0x%02x at offset %d", ErrInvalidText, ch, i)
			}
		}
		return string(b), nil
	case c.utf8:
		if !utf8.Valid(b) {
			return "", fmt.Errorf("%w: malformed UTF-8 sequence", ErrInvalidText)
		}
		return string(b), nil
	}

	out, err := c.enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidText, err)
	}
	return string(out), nil
}

// Encode converts text to bytes. Runes the charset cannot represent are
// replaced.
func (c *Charset) Encode(s string) []byte {
	switch {
	case c.ascii:
		out := make([]byte, 0, len(s))
		for _, r := range s {
			if r >= utf8.RuneSelf {
				r = '?'
			}
			out = append(out, byte(r))
		}
		return out
	case c.utf8:
		return []byte(s)
	}

	out, err := encoding.ReplaceUnsupported(c.enc.NewEncoder()).Bytes([]byte(s))
	if err != nil {
		return []byte(s)
	}
	return out
}

func (c *Charset) String() string {
	return c.name
}
