package server

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Entry binds a command name to the factory that creates its handler.
type Entry struct {
	// Name is the command verb. Lookups ignore case.
	Name string

	// Factory creates the per-session handler.
	Factory HandlerFactory

	// Public commands may run before login. All others are answered with
	// 530 until the session is authenticated.
	Public bool

	// RequiresTLS commands are answered with 502 when the server has no
	// TLS configuration.
	RequiresTLS bool

	// Features are the FEAT lines advertised while this command is
	// registered.
	Features []string

	// Help is the syntax shown by HELP <name>.
	Help string

	// Source is the name of the HandlerSource that contributed the entry.
	// NewRegistry fills it in.
	Source string
}

// HandlerSource contributes a set of commands to a registry.
type HandlerSource interface {
	Name() string
	Commands() []Entry
}

type handlerSource struct {
	name    string
	entries []Entry
}

// NewHandlerSource groups entries under a source name.
func NewHandlerSource(name string, entries ...Entry) HandlerSource {
	return &handlerSource{name: name, entries: entries}
}

func (h *handlerSource) Name() string      { return h.name }
func (h *handlerSource) Commands() []Entry { return h.entries }

// Registry is the case-insensitive command table of a server.
//
// It is filled at startup and sealed when a server takes ownership of it.
// After that it is read-only and safe for concurrent lookups.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
	sealed  bool
}

// NewRegistry builds a registry from the given sources. Two entries with
// the same name, in the same source or in different ones, are a
// *DuplicateCommandError.
func NewRegistry(sources ...HandlerSource) (*Registry, error) {
	r := &Registry{entries: make(map[string]Entry)}
	for _, src := range sources {
		for _, e := range src.Commands() {
			e.Source = src.Name()
			if err := r.Register(e); err != nil {
				return nil, err
			}
		}
	}
	return r, nil
}

// Register adds a single entry.
func (r *Registry) Register(e Entry) error {
	if e.Name == "" || e.Factory == nil {
		return fmt.Errorf("%w: %q", ErrInvalidEntry, e.Name)
	}
	if strings.ContainsAny(e.Name, " \r\n") {
		return fmt.Errorf("%w: name %q contains whitespace", ErrInvalidEntry, e.Name)
	}

	key := strings.ToUpper(e.Name)
	e.Name = key

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return ErrRegistrySealed
	}
	if existing, ok := r.entries[key]; ok {
		return &DuplicateCommandError{Name: key, Source: e.Source, Existing: existing.Source}
	}
	r.entries[key] = e
	return nil
}

// Remove deletes the named commands. If any name is not registered nothing
// is removed and the error wraps ErrUnknownCommand.
func (r *Registry) Remove(names ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return ErrRegistrySealed
	}
	var unknown []string
	for _, name := range names {
		if _, ok := r.entries[strings.ToUpper(name)]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, strings.Join(unknown, ", "))
	}
	for _, name := range names {
		delete(r.entries, strings.ToUpper(name))
	}
	return nil
}

// Seal makes the registry read-only.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Lookup finds the entry for name, ignoring case. Only exact names match.
func (r *Registry) Lookup(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[strings.ToUpper(name)]
	return e, ok
}

// Names returns the registered command names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Entries returns the registered entries sorted by name.
func (r *Registry) Entries() []Entry {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(names))
	for _, name := range names {
		out = append(out, r.entries[name])
	}
	return out
}

// Len returns the number of registered commands.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
