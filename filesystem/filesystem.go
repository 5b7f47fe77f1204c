// Package filesystem provides afero backed file systems for the FTP server.
//
// Every session gets its own view: a working directory plus an afero.Fs
// rooted at the user's home directory. Paths are cleaned against the
// virtual root "/" before they reach afero, so ".." never leaves the home
// directory, and afero.BasePathFs rejects anything that would.
//
// Views from NewOSProvider also follow symlinks on the host before every
// operation and refuse paths that end up outside the home directory.
package filesystem

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/gonzalop/ftpd/server"
)

// Provider opens per-user views of a single afero.Fs.
type Provider struct {
	fs         afero.Fs
	createHome bool

	// root is the host directory behind fs, set by NewOSProvider.
	root string
}

// Option configures a Provider.
type Option func(*Provider)

// WithCreateHome creates missing home directories on login for users that
// are not read-only.
func WithCreateHome(enable bool) Option {
	return func(p *Provider) {
		p.createHome = enable
	}
}

// NewProvider returns a provider serving fs.
func NewProvider(fs afero.Fs, opts ...Option) *Provider {
	p := &Provider{fs: fs}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewOSProvider returns a provider confined to root on the local disk.
// root must exist and be a directory.
func NewOSProvider(root string, opts ...Option) (*Provider, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("root path validation failed: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path is not a directory: %s", root)
	}

	root, err = filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root path: %w", err)
	}
	root, err = filepath.EvalSymlinks(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root path: %w", err)
	}

	p := NewProvider(afero.NewBasePathFs(afero.NewOsFs(), root), opts...)
	p.root = root
	return p, nil
}

// NewMemoryProvider returns a provider backed by an in-memory file system.
// Its contents are lost when the process exits.
func NewMemoryProvider(opts ...Option) *Provider {
	return NewProvider(afero.NewMemMapFs(), opts...)
}

// Fs returns the underlying file system.
func (p *Provider) Fs() afero.Fs { return p.fs }

// Open returns the view of id: jailed to id.Home and read-only when
// id.ReadOnly is set.
func (p *Provider) Open(_ context.Context, id *server.Identity) (server.FileSystem, error) {
	fs := p.fs

	if home := Clean("/", id.Home); home != "/" {
		info, err := fs.Stat(home)
		switch {
		case os.IsNotExist(err) && p.createHome && !id.ReadOnly:
			if err := fs.MkdirAll(home, 0o755); err != nil {
				return nil, fmt.Errorf("creating home %s: %w", home, err)
			}
		case err != nil:
			return nil, fmt.Errorf("home %s: %w", home, err)
		case !info.IsDir():
			return nil, fmt.Errorf("home %s is not a directory", home)
		}
		fs = afero.NewBasePathFs(fs, home)
	}

	if id.ReadOnly {
		fs = afero.NewReadOnlyFs(fs)
	}

	v := &View{fs: fs, cwd: "/"}
	if p.root != "" {
		home, err := filepath.EvalSymlinks(filepath.Join(p.root, filepath.FromSlash(Clean("/", id.Home))))
		if err != nil {
			return nil, fmt.Errorf("home %s: %w", id.Home, err)
		}
		if !within(p.root, home) {
			return nil, fmt.Errorf("home %s: %w", id.Home, os.ErrPermission)
		}
		v.hostRoot = home
	}
	return v, nil
}

// View is one session's view of a Provider. It implements
// server.FileSystem.
type View struct {
	fs  afero.Fs
	cwd string

	// hostRoot is the resolved host path of "/" for views on the local
	// disk, empty otherwise.
	hostRoot string
}

// Clean resolves p against the directory cwd and returns an absolute,
// slash-separated path that never climbs above "/".
func Clean(cwd, p string) string {
	if !strings.HasPrefix(p, "/") {
		p = path.Join(cwd, p)
	}
	return path.Clean("/" + p)
}

func (v *View) resolve(p string) string {
	if p == "" {
		return v.cwd
	}
	return Clean(v.cwd, p)
}

var errNotDirectory = server.NewReplyError(550, "Not a directory.")

// confine fails with os.ErrPermission when target, after following host
// symlinks, lies outside the home directory. Missing trailing components
// are resolved through their nearest existing parent. A dangling symlink is
// refused since creating through it would write wherever it points.
func (v *View) confine(target string) error {
	if v.hostRoot == "" {
		return nil
	}

	host := filepath.Join(v.hostRoot, filepath.FromSlash(target))
	var rest []string
	for {
		resolved, err := filepath.EvalSymlinks(host)
		if err == nil {
			if !within(v.hostRoot, filepath.Join(resolved, filepath.Join(rest...))) {
				return &os.PathError{Op: "resolve", Path: target, Err: os.ErrPermission}
			}
			return nil
		}
		if !os.IsNotExist(err) {
			// The operation itself reports ENOTDIR, EACCES and friends.
			return nil
		}
		if _, lerr := os.Lstat(host); lerr == nil {
			return &os.PathError{Op: "resolve", Path: target, Err: os.ErrPermission}
		}

		parent := filepath.Dir(host)
		if parent == host {
			return nil
		}
		rest = append([]string{filepath.Base(host)}, rest...)
		host = parent
	}
}

// within reports whether p is root or below it. Both must be clean.
func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// lookup resolves p and confines it.
func (v *View) lookup(p string) (string, error) {
	target := v.resolve(p)
	if err := v.confine(target); err != nil {
		return "", err
	}
	return target, nil
}

func (v *View) ChangeDir(p string) error {
	target, err := v.lookup(p)
	if err != nil {
		return err
	}
	info, err := v.fs.Stat(target)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return errNotDirectory
	}
	v.cwd = target
	return nil
}

func (v *View) Getwd() string { return v.cwd }

func (v *View) MakeDir(p string) error {
	target, err := v.lookup(p)
	if err != nil {
		return err
	}
	return v.fs.Mkdir(target, 0o755)
}

// RemoveDir removes an empty directory.
func (v *View) RemoveDir(p string) error {
	target, err := v.lookup(p)
	if err != nil {
		return err
	}
	if target == "/" {
		return os.ErrPermission
	}
	info, err := v.fs.Stat(target)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return errNotDirectory
	}
	entries, err := afero.ReadDir(v.fs, target)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		return server.NewReplyError(550, "Directory not empty.")
	}
	return v.fs.Remove(target)
}

// Remove deletes a file. Directories are removed with RemoveDir.
func (v *View) Remove(p string) error {
	target, err := v.lookup(p)
	if err != nil {
		return err
	}
	info, err := v.fs.Stat(target)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return server.NewReplyError(550, "Is a directory.")
	}
	return v.fs.Remove(target)
}

func (v *View) Rename(from, to string) error {
	src, err := v.lookup(from)
	if err != nil {
		return err
	}
	dst, err := v.lookup(to)
	if err != nil {
		return err
	}
	if src == "/" {
		return os.ErrPermission
	}
	return v.fs.Rename(src, dst)
}

// ReadDir lists p sorted by name.
func (v *View) ReadDir(p string) ([]os.FileInfo, error) {
	target, err := v.lookup(p)
	if err != nil {
		return nil, err
	}
	return afero.ReadDir(v.fs, target)
}

func (v *View) OpenFile(p string, flag int, perm os.FileMode) (server.File, error) {
	target, err := v.lookup(p)
	if err != nil {
		return nil, err
	}
	if target == "/" && flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0 {
		return nil, os.ErrPermission
	}
	return v.fs.OpenFile(target, flag, perm)
}

func (v *View) Stat(p string) (os.FileInfo, error) {
	target, err := v.lookup(p)
	if err != nil {
		return nil, err
	}
	return v.fs.Stat(target)
}

func (v *View) Chtimes(p string, mtime time.Time) error {
	target, err := v.lookup(p)
	if err != nil {
		return err
	}
	return v.fs.Chtimes(target, mtime, mtime)
}

func (v *View) Chmod(p string, mode os.FileMode) error {
	if mode > 0o777 {
		return os.ErrInvalid
	}
	target, err := v.lookup(p)
	if err != nil {
		return err
	}
	return v.fs.Chmod(target, mode)
}

// Close is a no-op: afero file systems hold no per-view resources.
func (v *View) Close() error { return nil }

var _ server.FileSystem = (*View)(nil)
var _ server.FileSystemProvider = (*Provider)(nil)
