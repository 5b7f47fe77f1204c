package server

import (
	"context"
	"errors"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMetrics struct {
	mu       sync.Mutex
	commands []string
	logins   []bool
	sessions int
}

func (m *fakeMetrics) RecordCommand(cmd string, code int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, cmd+" "+strconv.Itoa(code))
}

func (m *fakeMetrics) RecordTransfer(string, int64, time.Duration) {}
func (m *fakeMetrics) RecordConnection(bool, string)               {}

func (m *fakeMetrics) RecordAuthentication(success bool, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logins = append(m.logins, success)
}

func (m *fakeMetrics) SessionStarted() { m.mu.Lock(); m.sessions++; m.mu.Unlock() }
func (m *fakeMetrics) SessionEnded()   { m.mu.Lock(); m.sessions--; m.mu.Unlock() }

func (m *fakeMetrics) snapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.commands...)
}

// recorder is a handler source whose commands record the arguments they
// receive.
type recorder struct {
	mu   sync.Mutex
	args []string
}

func (r *recorder) handler(reply Reply, err error) HandlerFactory {
	return Static(HandlerFunc(func(_ context.Context, _ *Session, arg string) (Reply, error) {
		r.mu.Lock()
		r.args = append(r.args, arg)
		r.mu.Unlock()
		return reply, err
	}))
}

func (r *recorder) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.args...)
}

func TestDispatchLoginGate(t *testing.T) {
	rec := &recorder{}
	s := newTestServer(t, WithHandlerSources(NewHandlerSource("test",
		Entry{Name: "SECRET", Factory: rec.handler(Reply{Code: 200, Message: "OK."}, nil)},
	)))
	c := dialPipe(t, s)

	c.send("SECRET\r\n")
	c.expect(530)
	assert.Empty(t, rec.calls(), "gated handler must not run")

	c.send("PWD\r\nRETR x\r\n")
	c.expect(530)
	c.expect(530)

	c.send("USER bob\r\nPASS wrong\r\n")
	c.expect(331)
	c.expect(530)

	c.send("PASS secret\r\n")
	c.expect(503)

	c.send("USER bob\r\nPASS secret\r\nSECRET now\r\n")
	c.expect(331)
	c.expect(230)
	c.expect(200)
	assert.Equal(t, []string{"now"}, rec.calls())
}

func TestDispatchUnknownAndTLSGate(t *testing.T) {
	m := &fakeMetrics{}
	s := newTestServer(t, WithMetrics(m))
	c := dialPipe(t, s)

	c.send("FOO bar\r\nAUTH TLS\r\nPBSZ 0\r\nNOOP\r\n")
	c.expect(500)
	c.expect(502)
	c.expect(502)
	c.expect(200)

	assert.Equal(t, []string{"UNKNOWN 500", "AUTH 502", "PBSZ 502", "NOOP 200"}, m.snapshot())
}

func TestDispatchReplyOrder(t *testing.T) {
	s := newTestServer(t)
	c := dialPipe(t, s)

	c.send("NOOP\r\nsyst\r\n\r\nFOO\rMODE S\nQUIT\r\n")
	c.expect(200)
	c.expect(215)
	c.expect(500)
	c.expect(200)
	c.expect(221)

	_, err := c.r.ReadByte()
	assert.ErrorIs(t, err, io.EOF, "QUIT closes the connection")
}

// A slow command pipelined ahead of a fast one is still answered first.
func TestDispatchReplyOrderSlowHandler(t *testing.T) {
	s := newTestServer(t, WithHandlerSources(NewHandlerSource("test",
		Entry{Name: "SLOW", Factory: Static(HandlerFunc(func(context.Context, *Session, string) (Reply, error) {
			time.Sleep(100 * time.Millisecond)
			return Reply{Code: 250, Message: "Slow done."}, nil
		})), Public: true},
	)))
	c := dialPipe(t, s)

	c.send("SLOW\r\nNOOP\r\nSLOW\r\n")
	assert.Equal(t, []string{"250 Slow done."}, c.expect(250))
	c.expect(200)
	c.expect(250)
}

// Commands that arrive in the same read as OPTS UTF8 are decoded with the
// charset OPTS selects.
func TestDispatchCharsetSwitchInSameRead(t *testing.T) {
	latin1, err := LookupCharset("ISO-8859-1")
	require.NoError(t, err)

	rec := &recorder{}
	s := newTestServer(t,
		WithDefaultCharset(latin1),
		WithHandlerSources(NewHandlerSource("test",
			Entry{Name: "ECHO", Factory: rec.handler(Reply{Code: 200, Message: "OK."}, nil), Public: true},
		)),
	)
	c := dialPipe(t, s)

	c.send("ECHO caf\xc3\xa9\r\nOPTS UTF8 ON\r\nECHO caf\xc3\xa9\r\nOPTS UTF8 OFF\r\nECHO caf\xe9\r\n")
	for _, code := range []int{200, 200, 200, 200, 200} {
		c.expect(code)
	}
	assert.Equal(t, []string{"cafÃ©", "café", "café"}, rec.calls())
}

func TestDispatchDecodeError(t *testing.T) {
	m := &fakeMetrics{}
	s := newTestServer(t, WithMetrics(m))
	c := dialPipe(t, s)

	c.send("CWD \xff\xfe\r\nNOOP\r\n")
	lines := c.expect(501)
	assert.Contains(t, lines[0], "UTF-8")
	c.expect(200)
	assert.Equal(t, []string{"INVALID 501", "NOOP 200"}, m.snapshot())
}

func TestDispatchHandlerErrors(t *testing.T) {
	rec := &recorder{}
	s := newTestServer(t, WithHandlerSources(NewHandlerSource("test",
		Entry{Name: "NOTDIR", Factory: rec.handler(Reply{}, NewReplyError(550, "Not a directory.")), Public: true},
		Entry{Name: "MISSING", Factory: rec.handler(Reply{}, &os.PathError{Op: "stat", Path: "x", Err: os.ErrNotExist}), Public: true},
		Entry{Name: "FAIL", Factory: rec.handler(Reply{}, errors.New("boom")), Public: true},
		Entry{Name: "SILENT", Factory: rec.handler(Reply{}, nil), Public: true},
		Entry{Name: "DROP", Factory: rec.handler(Reply{}, &TransportError{Op: "write", Err: io.ErrClosedPipe}), Public: true},
	)))
	c := dialPipe(t, s)

	c.send("NOTDIR\r\n")
	assert.Equal(t, []string{"550 Not a directory."}, c.expect(550))
	c.send("MISSING\r\n")
	c.expect(550)
	c.send("FAIL\r\n")
	c.expect(451)

	// A zero reply writes nothing; the next reply is NOOP's.
	c.send("SILENT\r\nNOOP\r\n")
	c.expect(200)

	c.send("DROP\r\n")
	_, err := c.r.ReadByte()
	assert.ErrorIs(t, err, io.EOF, "transport errors end the session")
}

func TestDispatchHandlerPanic(t *testing.T) {
	m := &fakeMetrics{}
	s := newTestServer(t, WithMetrics(m), WithHandlerSources(NewHandlerSource("test",
		Entry{Name: "BOOM", Factory: Static(HandlerFunc(func(context.Context, *Session, string) (Reply, error) {
			panic("nil map write")
		})), Public: true},
	)))
	c := dialPipe(t, s)

	c.send("BOOM\r\nNOOP\r\n")
	c.expect(451)
	c.expect(200)
	assert.Equal(t, []string{"BOOM 451", "NOOP 200"}, m.snapshot())
	assert.Equal(t, 1, s.ActiveSessions())
}

func TestDispatchLineTooLong(t *testing.T) {
	s := newTestServer(t)
	c := dialPipe(t, s)

	c.send("NOOP " + strings.Repeat("x", MaxCommandLength+100))
	c.expect(500)
	_, err := c.r.ReadByte()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSessionIdleTimeout(t *testing.T) {
	s := newTestServer(t, WithMaxIdleTime(100*time.Millisecond))
	c := dialPipe(t, s)

	lines := c.expect(421)
	assert.Equal(t, "421 Timeout.", lines[0])
	_, err := c.r.ReadByte()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSessionMetrics(t *testing.T) {
	m := &fakeMetrics{}
	s := newTestServer(t, WithMetrics(m))
	c := dialPipe(t, s)

	c.send("USER bob\r\nPASS nope\r\nUSER bob\r\nPASS secret\r\n")
	c.expect(331)
	c.expect(530)
	c.expect(331)
	c.expect(230)

	m.mu.Lock()
	assert.Equal(t, []bool{false, true}, m.logins)
	assert.Equal(t, 1, m.sessions)
	m.mu.Unlock()
	assert.Equal(t, 1, s.ActiveSessions())

	c.send("QUIT\r\n")
	c.expect(221)
	require.Eventually(t, func() bool { return s.ActiveSessions() == 0 }, time.Second, 5*time.Millisecond)
}

func TestSessionDrainOnShutdown(t *testing.T) {
	s := newTestServer(t)
	c := dialPipe(t, s)

	c.send("NOOP\r\n")
	c.expect(200)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Shutdown(ctx) }()

	c.expect(421)
	_, err := c.r.ReadByte()
	assert.ErrorIs(t, err, io.EOF)
	assert.NoError(t, <-done)
}

// blockingSource registers WAIT, which signals started and then runs block.
func blockingSource(started chan<- struct{}, block func(ctx context.Context)) HandlerSource {
	return NewHandlerSource("test", Entry{
		Name: "WAIT",
		Factory: Static(HandlerFunc(func(ctx context.Context, _ *Session, _ string) (Reply, error) {
			started <- struct{}{}
			block(ctx)
			return Reply{}, ctx.Err()
		})),
		Public: true,
	})
}

func TestShutdownTimeoutClosesRunningCommand(t *testing.T) {
	started := make(chan struct{}, 1)
	s := newTestServer(t,
		WithShutdownTimeout(100*time.Millisecond),
		WithHandlerSources(blockingSource(started, func(ctx context.Context) { <-ctx.Done() })),
	)
	c := dialPipe(t, s)
	c.send("WAIT\r\n")
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.Shutdown(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "closed forcibly")
	assert.Equal(t, 0, s.ActiveSessions())
}

func TestShutdownReturnsWhenContextExpires(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	s := newTestServer(t, WithHandlerSources(blockingSource(started, func(context.Context) { <-release })))
	c := dialPipe(t, s)
	// Cleanups run in reverse, so the handler is released before the pipe
	// and the server wait for the session.
	t.Cleanup(func() { close(release) })

	c.send("WAIT\r\n")
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Shutdown(ctx) }()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Contains(t, err.Error(), "still running")
	case <-time.After(3 * time.Second):
		t.Fatal("Shutdown did not return after its context expired")
	}
}
