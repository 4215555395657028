// ABOUTME: Thread-safe registry of modules keyed by validated identifier.
// ABOUTME: Rejects duplicate registration and preserves insertion order for listing.

package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/toolshell/internal/catalog"
	"github.com/2389/toolshell/internal/manifest"
)

// ErrDuplicateModule indicates a module with the same ID is already registered.
var ErrDuplicateModule = errors.New("module already registered")

// ErrUnknownModule indicates an unregister of a module that is not registered.
var ErrUnknownModule = errors.New("unknown module")

// ErrNotFound indicates a lookup for an ID that has no entry.
var ErrNotFound = errors.New("module not found")

// ErrInvalidEntry indicates a nil manifest or factory was passed to Register.
var ErrInvalidEntry = errors.New("invalid registry entry")

// Host is the capability accessor a module receives when it runs. It is the only
// path from a module to a sensitive host feature.
type Host interface {
	Use(ctx context.Context, c catalog.Capability, payload json.RawMessage) (json.RawMessage, error)
}

// Module is a runnable module instance.
type Module interface {
	Run(ctx context.Context, host Host, input json.RawMessage) (json.RawMessage, error)
}

// Factory produces a fresh module instance.
type Factory func() Module

// Entry binds a validated manifest to the factory for its implementation. Both are
// fixed at registration, so a module's declared permissions cannot change while it
// is registered.
type Entry struct {
	m       *manifest.Manifest
	factory Factory
}

// ID returns the entry's module identifier.
func (e *Entry) ID() manifest.ID {
	return e.m.ID()
}

// Manifest returns the validated manifest. Manifests are immutable.
func (e *Entry) Manifest() *manifest.Manifest {
	return e.m
}

// NewModule returns a fresh instance of the module.
func (e *Entry) NewModule() Module {
	return e.factory()
}

// Registry maps module identifiers to entries.
type Registry struct {
	mu      sync.RWMutex
	entries map[manifest.ID]*Entry
	order   []manifest.ID
	logger  *slog.Logger
}

// New creates an empty Registry.
func New(logger *slog.Logger) *Registry {
	return &Registry{
		entries: make(map[manifest.ID]*Entry),
		logger:  logger,
	}
}

// Register adds a module. Returns ErrDuplicateModule if the ID already exists;
// the existing entry is left untouched.
func (r *Registry) Register(m *manifest.Manifest, f Factory) (*Entry, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil manifest", ErrInvalidEntry)
	}
	if f == nil {
		return nil, fmt.Errorf("%w: nil factory for %s", ErrInvalidEntry, m.ID())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := m.ID()
	if existing, exists := r.entries[id]; exists {
		return nil, fmt.Errorf("%w: %s (version %s)", ErrDuplicateModule, id, existing.m.Version())
	}

	entry := &Entry{m: m, factory: f}
	r.entries[id] = entry
	r.order = append(r.order, id)

	r.logger.Info("module registered",
		"module_id", id,
		"version", m.Version().String(),
		"permissions", len(m.Permissions()),
		"total_modules", len(r.order),
	)
	return entry, nil
}

// Unregister removes a module. Returns ErrUnknownModule if it is not registered.
func (r *Registry) Unregister(id manifest.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[id]; !exists {
		return fmt.Errorf("%w: %s", ErrUnknownModule, id)
	}
	delete(r.entries, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}

	r.logger.Info("module unregistered", "module_id", id, "total_modules", len(r.order))
	return nil
}

// Get returns the entry for id, or ErrNotFound.
func (r *Registry) Get(id manifest.ID) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return entry, nil
}

// Lookup resolves an unvalidated identifier. Malformed identifiers report ErrNotFound.
func (r *Registry) Lookup(s string) (*Entry, error) {
	id, err := manifest.ParseID(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, s)
	}
	return r.Get(id)
}

// List returns every entry in insertion order.
func (r *Registry) List() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Entry, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id])
	}
	return out
}

// IDs returns every registered identifier in insertion order.
func (r *Registry) IDs() []manifest.ID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]manifest.ID, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered modules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Search returns entries whose manifest matches query, in insertion order.
func (r *Registry) Search(query string) []*Entry {
	return r.filter(func(e *Entry) bool { return e.m.Matches(query) })
}

// ByCategory returns entries in the given category, in insertion order.
func (r *Registry) ByCategory(cat manifest.Category) []*Entry {
	return r.filter(func(e *Entry) bool { return e.m.Category() == cat })
}

func (r *Registry) filter(keep func(*Entry) bool) []*Entry {
	var out []*Entry
	for _, e := range r.List() {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}
