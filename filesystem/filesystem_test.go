package filesystem

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonzalop/ftpd/server"
)

func newView(t *testing.T, id *server.Identity) (afero.Fs, server.FileSystem) {
	t.Helper()
	mem := afero.NewMemMapFs()
	require.NoError(t, mem.MkdirAll("/pub/docs", 0o755))
	require.NoError(t, afero.WriteFile(mem, "/pub/readme.txt", []byte("hello"), 0o644))
	require.NoError(t, mem.MkdirAll("/home/alice", 0o755))
	require.NoError(t, afero.WriteFile(mem, "/secret.txt", []byte("top secret"), 0o600))

	v, err := NewProvider(mem).Open(context.Background(), id)
	require.NoError(t, err)
	t.Cleanup(func() { v.Close() })
	return mem, v
}

func TestClean(t *testing.T) {
	tests := []struct {
		cwd, p, want string
	}{
		{"/", "", "/"},
		{"/", "pub", "/pub"},
		{"/pub", "docs", "/pub/docs"},
		{"/pub", "..", "/"},
		{"/pub", "../../..", "/"},
		{"/pub", "/etc/passwd", "/etc/passwd"},
		{"/a/b", "./c/../d", "/a/b/d"},
		{"/", "../../../../etc", "/etc"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Clean(tt.cwd, tt.p), "Clean(%q, %q)", tt.cwd, tt.p)
	}
}

func TestChangeDir(t *testing.T) {
	_, v := newView(t, &server.Identity{Name: "alice"})

	assert.Equal(t, "/", v.Getwd())
	require.NoError(t, v.ChangeDir("pub"))
	assert.Equal(t, "/pub", v.Getwd())
	require.NoError(t, v.ChangeDir("docs"))
	assert.Equal(t, "/pub/docs", v.Getwd())
	require.NoError(t, v.ChangeDir("../../../.."))
	assert.Equal(t, "/", v.Getwd())

	err := v.ChangeDir("missing")
	assert.True(t, errors.Is(err, os.ErrNotExist))

	err = v.ChangeDir("/pub/readme.txt")
	var re *server.ReplyError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 550, re.Code)
	assert.Equal(t, "/", v.Getwd(), "failed CWD must not move")
}

func TestHomeJail(t *testing.T) {
	mem, v := newView(t, &server.Identity{Name: "alice", Home: "/home/alice"})

	require.NoError(t, v.ChangeDir("/"))
	entries, err := v.ReadDir("")
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = v.Stat("../../secret.txt")
	assert.True(t, errors.Is(err, os.ErrNotExist))

	f, err := v.OpenFile("notes.txt", os.O_WRONLY|os.O_CREATE, 0o644)
	require.NoError(t, err)
	_, err = io.WriteString(f, "jail")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	data, err := afero.ReadFile(mem, "/home/alice/notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "jail", string(data))
}

func TestMissingHome(t *testing.T) {
	mem := afero.NewMemMapFs()
	_, err := NewProvider(mem).Open(context.Background(), &server.Identity{Name: "bob", Home: "/home/bob"})
	assert.Error(t, err)

	v, err := NewProvider(mem, WithCreateHome(true)).Open(context.Background(), &server.Identity{Name: "bob", Home: "/home/bob"})
	require.NoError(t, err)
	require.NoError(t, v.MakeDir("uploads"))

	ok, err := afero.DirExists(mem, "/home/bob/uploads")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReadOnly(t *testing.T) {
	_, v := newView(t, &server.Identity{Name: "anonymous", Anonymous: true, ReadOnly: true})

	f, err := v.OpenFile("/pub/readme.txt", os.O_RDONLY, 0)
	require.NoError(t, err)
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	f.Close()

	checks := map[string]error{
		"MakeDir":   v.MakeDir("/pub/new"),
		"Remove":    v.Remove("/pub/readme.txt"),
		"Rename":    v.Rename("/pub/readme.txt", "/pub/other.txt"),
		"Chtimes":   v.Chtimes("/pub/readme.txt", time.Now()),
		"Chmod":     v.Chmod("/pub/readme.txt", 0o600),
		"RemoveDir": v.RemoveDir("/pub/docs"),
	}
	for name, err := range checks {
		assert.True(t, errors.Is(err, os.ErrPermission), "%s: got %v", name, err)
	}

	_, err = v.OpenFile("/pub/upload.bin", os.O_WRONLY|os.O_CREATE, 0o644)
	assert.True(t, errors.Is(err, os.ErrPermission))
}

func TestRemoveDir(t *testing.T) {
	mem, v := newView(t, &server.Identity{Name: "alice"})

	var re *server.ReplyError
	err := v.RemoveDir("/pub")
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "Directory not empty.", re.Message)

	err = v.RemoveDir("/pub/readme.txt")
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 550, re.Code)

	require.NoError(t, v.RemoveDir("/pub/docs"))
	ok, _ := afero.DirExists(mem, "/pub/docs")
	assert.False(t, ok)

	assert.True(t, errors.Is(v.RemoveDir("/"), os.ErrPermission))
}

func TestRemoveRejectsDirectory(t *testing.T) {
	_, v := newView(t, &server.Identity{Name: "alice"})

	var re *server.ReplyError
	require.ErrorAs(t, v.Remove("/pub/docs"), &re)
	require.NoError(t, v.Remove("/pub/readme.txt"))

	_, err := v.Stat("/pub/readme.txt")
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestRenameAndChtimes(t *testing.T) {
	_, v := newView(t, &server.Identity{Name: "alice"})

	require.NoError(t, v.ChangeDir("/pub"))
	require.NoError(t, v.Rename("readme.txt", "docs/readme.md"))

	info, err := v.Stat("/pub/docs/readme.md")
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size())

	stamp := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, v.Chtimes("docs/readme.md", stamp))
	info, err = v.Stat("docs/readme.md")
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(stamp))

	assert.Equal(t, os.ErrInvalid, v.Chmod("docs/readme.md", 0o4755))
}

func TestNewOSProvider(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "file.txt"), []byte("x"), 0o644))

	_, err := NewOSProvider(filepath.Join(root, "missing"))
	assert.Error(t, err)
	_, err = NewOSProvider(filepath.Join(root, "file.txt"))
	assert.Error(t, err)

	p, err := NewOSProvider(root)
	require.NoError(t, err)
	v, err := p.Open(context.Background(), &server.Identity{Name: "alice"})
	require.NoError(t, err)

	entries, err := v.ReadDir("/")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "file.txt", entries[0].Name())

	_, err = v.Stat("../../../../etc/passwd")
	assert.Error(t, err)
}

func TestOSProviderSymlinkEscape(t *testing.T) {
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("top secret"), 0o600))

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pub", "a.txt"), []byte("a"), 0o644))
	for name, target := range map[string]string{
		"link":     outside,
		"leak.txt": filepath.Join(outside, "secret.txt"),
		"dangling": filepath.Join(outside, "created.txt"),
		"pub-link": filepath.Join(root, "pub"),
	} {
		if err := os.Symlink(target, filepath.Join(root, name)); err != nil {
			t.Skipf("symlinks unsupported: %v", err)
		}
	}

	p, err := NewOSProvider(root)
	require.NoError(t, err)
	v, err := p.Open(context.Background(), &server.Identity{Name: "alice"})
	require.NoError(t, err)

	_, err = v.OpenFile("/link/secret.txt", os.O_RDONLY, 0)
	assert.ErrorIs(t, err, os.ErrPermission)
	_, err = v.OpenFile("leak.txt", os.O_RDONLY, 0)
	assert.ErrorIs(t, err, os.ErrPermission)
	_, err = v.Stat("/link")
	assert.ErrorIs(t, err, os.ErrPermission)
	_, err = v.ReadDir("/link")
	assert.ErrorIs(t, err, os.ErrPermission)
	assert.ErrorIs(t, v.ChangeDir("/link"), os.ErrPermission)
	assert.Equal(t, "/", v.Getwd())
	assert.ErrorIs(t, v.MakeDir("/link/sub"), os.ErrPermission)
	assert.ErrorIs(t, v.Rename("/pub/a.txt", "/link/a.txt"), os.ErrPermission)

	// Creating through a directory link or a dangling link writes nothing
	// outside the root.
	_, err = v.OpenFile("/link/new.txt", os.O_CREATE|os.O_WRONLY, 0o644)
	assert.ErrorIs(t, err, os.ErrPermission)
	_, err = v.OpenFile("/dangling", os.O_CREATE|os.O_WRONLY, 0o644)
	assert.ErrorIs(t, err, os.ErrPermission)
	for _, name := range []string{"new.txt", "created.txt"} {
		_, err = os.Stat(filepath.Join(outside, name))
		assert.True(t, os.IsNotExist(err), name)
	}

	// Links that stay inside the root work.
	info, err := v.Stat("/pub-link/a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.Size())
	f, err := v.OpenFile("/pub-link/b.txt", os.O_CREATE|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	// A home directory that resolves outside the root is refused.
	_, err = p.Open(context.Background(), &server.Identity{Name: "bob", Home: "/link"})
	assert.ErrorIs(t, err, os.ErrPermission)
}
