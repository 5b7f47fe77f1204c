package server

import (
	"context"
	"io"
	"os"
	"time"
)

// Identity is an authenticated user as seen by the server.
type Identity struct {
	// Name is the account name used for logging and the transfer log.
	Name string

	// Anonymous is set for guest logins.
	Anonymous bool

	// ReadOnly denies every operation that modifies the file system.
	ReadOnly bool

	// Home is the directory the user is jailed to, relative to the
	// provider root. Empty means the provider root.
	Home string
}

// Membership authenticates users.
//
// Implementations return ErrLoginFailed (or an error wrapping it) for bad
// credentials. Other errors are logged and also answered with 530. The HOST
// value sent before login (RFC 7151) is available through HostFromContext.
type Membership interface {
	Authenticate(ctx context.Context, user, credential string) (*Identity, error)
}

// MembershipFunc adapts a function to the Membership interface.
type MembershipFunc func(ctx context.Context, user, credential string) (*Identity, error)

// Authenticate calls f(ctx, user, credential).
func (f MembershipFunc) Authenticate(ctx context.Context, user, credential string) (*Identity, error) {
	return f(ctx, user, credential)
}

// FileSystemProvider opens the file system view of an authenticated user.
type FileSystemProvider interface {
	Open(ctx context.Context, id *Identity) (FileSystem, error)
}

// FileSystem is the per-session view of storage.
//
// Paths use forward slashes and are resolved against the current working
// directory. Implementations return errors matching os.ErrNotExist,
// os.ErrPermission and os.ErrExist so the server can answer with the right
// reply codes. A FileSystem is used by one session at a time.
type FileSystem interface {
	// ChangeDir changes the working directory.
	ChangeDir(path string) error

	// Getwd returns the working directory as an absolute, slash-separated
	// path.
	Getwd() string

	MakeDir(path string) error
	RemoveDir(path string) error
	Remove(path string) error
	Rename(from, to string) error

	// ReadDir lists a directory. An empty path is the working directory.
	ReadDir(path string) ([]os.FileInfo, error)

	// OpenFile opens a file with os.O_* flags.
	OpenFile(path string, flag int, perm os.FileMode) (File, error)

	Stat(path string) (os.FileInfo, error)
	Chtimes(path string, mtime time.Time) error
	Chmod(path string, mode os.FileMode) error

	// Close releases the view. Called when the session ends.
	Close() error
}

// File is an open file of a FileSystem.
type File interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer
}

type hostKey struct{}

// ContextWithHost returns a context carrying the HOST value of a session.
func ContextWithHost(ctx context.Context, host string) context.Context {
	return context.WithValue(ctx, hostKey{}, host)
}

// HostFromContext returns the HOST value sent before login, if any.
func HostFromContext(ctx context.Context) string {
	host, _ := ctx.Value(hostKey{}).(string)
	return host
}
