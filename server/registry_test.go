package server

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nopFactory() HandlerFactory {
	return Static(HandlerFunc(func(context.Context, *Session, string) (Reply, error) {
		return Reply{Code: 200, Message: "OK."}, nil
	}))
}

func TestRegistryLookupIgnoresCase(t *testing.T) {
	r, err := NewRegistry(NewHandlerSource("ext",
		Entry{Name: "xCrc", Factory: nopFactory(), Features: []string{"XCRC"}},
	))
	require.NoError(t, err)

	for _, name := range []string{"XCRC", "xcrc", "XcRc"} {
		e, ok := r.Lookup(name)
		require.True(t, ok, name)
		assert.Equal(t, "XCRC", e.Name)
		assert.Equal(t, "ext", e.Source)
	}

	_, ok := r.Lookup("XCR")
	assert.False(t, ok, "prefixes do not match")
	_, ok = r.Lookup("XCRC ")
	assert.False(t, ok)
}

func TestRegistryDuplicates(t *testing.T) {
	_, err := NewRegistry(
		NewHandlerSource("first", Entry{Name: "SITE", Factory: nopFactory()}),
		NewHandlerSource("second", Entry{Name: "site", Factory: nopFactory()}),
	)
	var dup *DuplicateCommandError
	require.True(t, errors.As(err, &dup), "got %v", err)
	assert.Equal(t, "SITE", dup.Name)
	assert.Equal(t, "second", dup.Source)
	assert.Equal(t, "first", dup.Existing)

	_, err = NewRegistry(NewHandlerSource("self",
		Entry{Name: "X", Factory: nopFactory()},
		Entry{Name: "X", Factory: nopFactory()},
	))
	assert.True(t, errors.As(err, &dup))

	// A source that re-registers a builtin makes NewServer fail.
	_, err = NewServer(":0",
		WithMembership(denyAll),
		WithFileSystem(stubProvider{}),
		WithHandlerSources(NewHandlerSource("custom", Entry{Name: "NOOP", Factory: nopFactory()})),
	)
	assert.True(t, errors.As(err, &dup))
}

func TestRegistryInvalidEntries(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	assert.ErrorIs(t, r.Register(Entry{Name: "", Factory: nopFactory()}), ErrInvalidEntry)
	assert.ErrorIs(t, r.Register(Entry{Name: "NOOP"}), ErrInvalidEntry)
	assert.ErrorIs(t, r.Register(Entry{Name: "TWO WORDS", Factory: nopFactory()}), ErrInvalidEntry)
	assert.Zero(t, r.Len())
}

func TestRegistrySealed(t *testing.T) {
	r, err := NewRegistry(NewHandlerSource("a",
		Entry{Name: "B", Factory: nopFactory()},
		Entry{Name: "A", Factory: nopFactory()},
		Entry{Name: "C", Factory: nopFactory()},
	))
	require.NoError(t, err)
	err = r.Remove("c", "unknown")
	assert.ErrorIs(t, err, ErrUnknownCommand)
	assert.ErrorContains(t, err, "unknown")
	assert.Equal(t, 3, r.Len(), "a failed Remove removes nothing")
	require.NoError(t, r.Remove("c"))

	r.Seal()
	assert.ErrorIs(t, r.Register(Entry{Name: "D", Factory: nopFactory()}), ErrRegistrySealed)
	assert.ErrorIs(t, r.Remove("A"), ErrRegistrySealed)

	assert.Equal(t, []string{"A", "B"}, r.Names())
	entries := r.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "A", entries[0].Name)
	assert.Equal(t, 2, r.Len())
}

func TestServerRegistry(t *testing.T) {
	s := newTestServer(t, WithDisableCommands(SiteCommands...), WithDisableCommands("xpwd"))

	r := s.Registry()
	for _, name := range []string{"USER", "PASS", "RETR", "STOR", "MLSD", "AUTH", "PROT", "OPTS"} {
		_, ok := r.Lookup(name)
		assert.True(t, ok, name)
	}
	for _, name := range []string{"SITE", "XPWD"} {
		_, ok := r.Lookup(name)
		assert.False(t, ok, name)
	}

	auth, _ := r.Lookup("AUTH")
	assert.True(t, auth.RequiresTLS)
	assert.True(t, auth.Public)
	assert.Equal(t, "security", auth.Source)

	retr, _ := r.Lookup("RETR")
	assert.False(t, retr.Public)
	assert.Equal(t, "builtin", retr.Source)

	assert.ErrorIs(t, r.Register(Entry{Name: "LATE", Factory: nopFactory()}), ErrRegistrySealed)
}

func TestServerRejectsUnknownDisabledCommand(t *testing.T) {
	_, err := NewServer("127.0.0.1:0",
		WithMembership(allowAll),
		WithFileSystem(stubProvider{}),
		WithDisableCommands("SITE", "PROTT"),
	)
	require.ErrorIs(t, err, ErrUnknownCommand)
	assert.ErrorContains(t, err, "PROTT")
}

func TestHandlerFactoryPerSession(t *testing.T) {
	created := 0
	factory := func() Handler {
		created++
		return HandlerFunc(func(context.Context, *Session, string) (Reply, error) {
			return Reply{Code: 200, Message: "OK."}, nil
		})
	}
	s := newTestServer(t, WithHandlerSources(NewHandlerSource("counting",
		Entry{Name: "PING", Factory: factory, Public: true},
	)))

	c := dialPipe(t, s)
	c.send("PING\r\nPING\r\nping\r\n")
	c.expect(200)
	c.expect(200)
	c.expect(200)
	assert.Equal(t, 1, created, "one handler per session and name")
}
