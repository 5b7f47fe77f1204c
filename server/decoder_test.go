package server

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecoderFraming(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		want   []Command
		empty  bool
	}{
		{"CRLF", []string{"USER bob\r\nPASS x\r\n"}, []Command{{"USER", "bob"}, {"PASS", "x"}}, true},
		{"bare LF", []string{"NOOP\nNOOP\n"}, []Command{{"NOOP", ""}, {"NOOP", ""}}, true},
		{"bare CR", []string{"NOOP\rPWD\r"}, []Command{{"NOOP", ""}, {"PWD", ""}}, true},
		{"mixed terminators", []string{"A\rB\nC\r\nD\n\r"}, []Command{{"A", ""}, {"B", ""}, {"C", ""}, {"D", ""}}, true},
		{"CRLF split across chunks", []string{"NOOP\r", "\nPWD\r\n"}, []Command{{"NOOP", ""}, {"PWD", ""}}, true},
		{"CR then CR", []string{"A\r", "\rB\r\n"}, []Command{{"A", ""}, {"B", ""}}, true},
		{"line split mid-word", []string{"RE", "TR fi", "le.txt\r\n"}, []Command{{"RETR", "file.txt"}}, true},
		{"blank lines dropped", []string{"\r\n\r\n\nNOOP\r\n\r\n"}, []Command{{"NOOP", ""}}, true},
		{"unterminated tail kept", []string{"NOOP\r\nPW"}, []Command{{"NOOP", ""}}, false},
		{"no terminator", []string{"TEST"}, nil, false},
		{"CR then unterminated", []string{"TEST1\rTEST2"}, []Command{{"TEST1", ""}}, false},
		{"argument keeps spaces", []string{"STOR  two  spaces \r\n"}, []Command{{"STOR", " two  spaces "}}, true},
		{"case preserved", []string{"retr File\r\n"}, []Command{{"retr", "File"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewCommandDecoder(nil)
			var got []Command
			for _, chunk := range tt.chunks {
				cmds, err := d.Feed([]byte(chunk))
				require.NoError(t, err)
				got = append(got, cmds...)
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.empty, d.IsEmpty())
		})
	}
}

// Feeding one byte at a time yields the same commands as feeding the whole
// stream at once.
func TestDecoderChunkingIndependence(t *testing.T) {
	streams := []string{
		"USER anonymous\r\nPASS guest@\r\nCWD /pub\r\nRETR a b.txt\r\n",
		"NOOP\rNOOP\nNOOP\r\n\r\n\n\rQUIT\r\n",
		"OPTS UTF8 ON\r\nCWD caf\xc3\xa9\r\n",
	}

	for _, stream := range streams {
		whole, err := NewCommandDecoder(nil).Feed([]byte(stream))
		require.NoError(t, err)

		d := NewCommandDecoder(nil)
		var bytewise []Command
		for i := 0; i < len(stream); i++ {
			cmds, err := d.Feed([]byte{stream[i]})
			require.NoError(t, err)
			bytewise = append(bytewise, cmds...)
		}
		assert.Equal(t, whole, bytewise, "stream %q", stream)
		assert.True(t, d.IsEmpty())
	}
}

func TestDecoderUsesCurrentCharset(t *testing.T) {
	latin1, err := LookupCharset("ISO-8859-1")
	require.NoError(t, err)

	current := latin1
	d := NewCommandDecoder(func() *Charset { return current })

	// Both lines are framed before either is decoded.
	frames := d.Frames([]byte("CWD caf\xc3\xa9\r\nCWD caf\xc3\xa9\r\n"))
	require.Len(t, frames, 2)

	first, err := d.Decode(frames[0])
	require.NoError(t, err)
	assert.Equal(t, "cafÃ©", first.Argument)

	current = UTF8
	second, err := d.Decode(frames[1])
	require.NoError(t, err)
	assert.Equal(t, "café", second.Argument)
}

func TestDecoderInvalidBytes(t *testing.T) {
	d := NewCommandDecoder(func() *Charset { return UTF8 })

	cmds, err := d.Feed([]byte("CWD \xff\xfe\r\nNOOP\r\n"))
	require.Error(t, err)
	assert.Equal(t, []Command{{"NOOP", ""}}, cmds, "a bad line does not stop the next one")

	var de *DecodeError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "UTF-8", de.Charset)
	assert.Equal(t, []byte("CWD \xff\xfe"), de.Raw)
	assert.ErrorIs(t, err, ErrInvalidText)
}

func TestDecoderNilSelector(t *testing.T) {
	d := NewCommandDecoder(func() *Charset { return nil })
	assert.Equal(t, UTF8, d.Charset())
}

func TestDecoderReset(t *testing.T) {
	d := NewCommandDecoder(nil)
	assert.Len(t, d.Frames([]byte("AUTH TLS\r\nPAR")), 1)
	assert.Equal(t, 3, d.Buffered())
	assert.Equal(t, 3, d.Reset())
	assert.True(t, d.IsEmpty())

	cmds, err := d.Feed([]byte("\nPBSZ 0\r\n"))
	require.NoError(t, err)
	assert.Equal(t, []Command{{"PBSZ", "0"}}, cmds)
}

func TestCommand(t *testing.T) {
	c := parseCommand("retr my file.txt")
	assert.Equal(t, Command{Name: "retr", Argument: "my file.txt"}, c)
	assert.Equal(t, "RETR", c.Verb())
	assert.Equal(t, "retr my file.txt", c.String())

	assert.Equal(t, Command{Name: "NOOP"}, parseCommand("NOOP"))
	assert.Equal(t, Command{Name: "CWD", Argument: ""}, parseCommand("CWD "))

	assert.True(t, Command{"Opts", "utf8 on"}.Equal(Command{"OPTS", "UTF8 ON"}))
	assert.False(t, Command{"CWD", "a"}.Equal(Command{"CWD", "b"}))
	assert.False(t, Command{"CWD", "a"}.Equal(Command{"MKD", "a"}))

	assert.Equal(t, "PASS ***", Command{"PASS", "hunter2"}.String())
	assert.Equal(t, "pass ***", Command{"pass", "hunter2"}.String())
}
