package server

import (
	"bufio"
	"context"
	"net"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var denyAll = MembershipFunc(func(context.Context, string, string) (*Identity, error) {
	return nil, ErrLoginFailed
})

// allowAll logs in any user whose password is "secret".
var allowAll = MembershipFunc(func(_ context.Context, user, pass string) (*Identity, error) {
	if pass != "secret" {
		return nil, ErrLoginFailed
	}
	return &Identity{Name: user}, nil
})

type stubProvider struct{}

func (stubProvider) Open(context.Context, *Identity) (FileSystem, error) {
	return stubFS{}, nil
}

// stubFS is an empty, read-only root directory.
type stubFS struct{}

func (stubFS) ChangeDir(p string) error {
	if p == "/" {
		return nil
	}
	return os.ErrNotExist
}
func (stubFS) Getwd() string { return "/" }
func (stubFS) MakeDir(string) error { return os.ErrPermission }
func (stubFS) RemoveDir(string) error { return os.ErrPermission }
func (stubFS) Remove(string) error { return os.ErrPermission }
func (stubFS) Rename(string, string) error { return os.ErrPermission }
func (stubFS) ReadDir(string) ([]os.FileInfo, error) {
	return nil, nil
}
func (stubFS) OpenFile(string, int, os.FileMode) (File, error) {
	return nil, os.ErrNotExist
}
func (stubFS) Stat(string) (os.FileInfo, error) { return nil, os.ErrNotExist }
func (stubFS) Chtimes(string, time.Time) error { return os.ErrPermission }
func (stubFS) Chmod(string, os.FileMode) error { return os.ErrPermission }
func (stubFS) Close() error { return nil }

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	base := []Option{
		WithMembership(allowAll),
		WithFileSystem(stubProvider{}),
	}
	s, err := NewServer("127.0.0.1:0", append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// pipeClient drives a session over net.Pipe. Every Write on a pipe is
// delivered to a single Read on the other end, so lines sent together
// arrive in one read.
type pipeClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dialPipe(t *testing.T, s *Server) *pipeClient {
	t.Helper()
	client, server := net.Pipe()
	done := make(chan struct{})
	s.wg.Add(1)
	go func() {
		defer close(done)
		defer s.wg.Done()
		s.handleConnection(server)
	}()
	t.Cleanup(func() {
		client.Close()
		<-done
	})

	c := &pipeClient{t: t, conn: client, r: bufio.NewReader(client)}
	c.expect(220)
	return c
}

func (c *pipeClient) send(lines string) {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetWriteDeadline(time.Now().Add(5*time.Second)))
	_, err := c.conn.Write([]byte(lines))
	require.NoError(c.t, err)
}

// readReply reads one reply, multi-line or not, and returns its code and
// its lines without CRLF.
func (c *pipeClient) readReply() (string, []string) {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	first, err := c.r.ReadString('\n')
	require.NoError(c.t, err)
	first = strings.TrimRight(first, "\r\n")
	require.GreaterOrEqual(c.t, len(first), 4, "short reply %q", first)

	code, lines := first[:3], []string{first}
	if first[3] != '-' {
		return code, lines
	}
	for {
		line, err := c.r.ReadString('\n')
		require.NoError(c.t, err)
		line = strings.TrimRight(line, "\r\n")
		lines = append(lines, line)
		if strings.HasPrefix(line, code+" ") {
			return code, lines
		}
	}
}

func (c *pipeClient) expect(code int) []string {
	c.t.Helper()
	got, lines := c.readReply()
	require.Equal(c.t, strconv.Itoa(code), got, "reply %q", lines)
	return lines
}
