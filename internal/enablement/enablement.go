// ABOUTME: Persisted set of enabled module ids with serialized writes.
// ABOUTME: Sole owner of the enabledModules preference key.

package enablement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/2389/toolshell/internal/store"
)

// Key is the preference key holding the JSON array of enabled module ids.
const Key = "enabledModules"

// ErrPersistence wraps every failure to write the enabled set.
var ErrPersistence = errors.New("persisting enabled modules")

// ErrInvalidID indicates an empty module id.
var ErrInvalidID = errors.New("invalid module id")

type recordState int

const (
	recordUnknown recordState = iota // not loaded, or the backend could not be read
	recordAbsent                     // backend has no value under Key
	recordPresent                    // backend has a value under Key, possibly unreadable
)

// Store tracks which modules are enabled and persists the set after each change.
type Store struct {
	backend store.PreferenceStore
	logger  *slog.Logger

	// writeMu serializes mutations end to end, including the backend write.
	writeMu sync.Mutex

	mu      sync.RWMutex
	enabled map[string]struct{} // replaced wholesale, never mutated in place
	record  recordState
	dirty   bool // last write failed; in-memory set is ahead of the backend
}

// New creates a Store over backend. Call Load before use.
func New(backend store.PreferenceStore, logger *slog.Logger) *Store {
	return &Store{
		backend: backend,
		logger:  logger.With("component", "enablement"),
		enabled: map[string]struct{}{},
	}
}

// Load reads the persisted set. It never fails: a read or decode error yields an
// empty set and a warning so a corrupt preference cannot keep the shell from starting.
func (s *Store) Load(ctx context.Context) []string {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	data, found, err := s.backend.GetPreference(ctx, Key)
	switch {
	case err != nil:
		s.logger.Warn("could not read enabled modules, starting with none", "error", err)
		s.replace(map[string]struct{}{}, recordUnknown, false)
		return []string{}
	case !found:
		s.logger.Debug("no enabled modules record yet")
		s.replace(map[string]struct{}{}, recordAbsent, false)
		return []string{}
	}

	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		s.logger.Warn("enabled modules record is corrupt, starting with none", "error", err)
		s.replace(map[string]struct{}{}, recordPresent, false)
		return []string{}
	}

	set := toSet(ids)
	s.replace(set, recordPresent, false)
	s.logger.Info("loaded enabled modules", "count", len(set))
	return sortedKeys(set)
}

// IsEnabled reports whether id is in the enabled set.
func (s *Store) IsEnabled(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.enabled[id]
	return ok
}

// Enabled returns the enabled ids in lexical order.
func (s *Store) Enabled() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.enabled)
}

// HasRecord reports whether a persisted record is known to exist.
func (s *Store) HasRecord() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.record == recordPresent
}

// Dirty reports whether the last write failed and has not been retried successfully.
func (s *Store) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}

// SetEnabled adds or removes id. Writes only when membership changes.
func (s *Store) SetEnabled(ctx context.Context, id string, enabled bool) error {
	if id == "" {
		return ErrInvalidID
	}
	return s.mutate(ctx, "set", func(cur map[string]struct{}) map[string]struct{} {
		if _, has := cur[id]; has == enabled {
			return nil
		}
		next := maps.Clone(cur)
		if enabled {
			next[id] = struct{}{}
		} else {
			delete(next, id)
		}
		return next
	})
}

// Toggle flips id and returns its new state.
func (s *Store) Toggle(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, ErrInvalidID
	}
	var now bool
	err := s.mutate(ctx, "toggle", func(cur map[string]struct{}) map[string]struct{} {
		next := maps.Clone(cur)
		if _, has := cur[id]; has {
			delete(next, id)
		} else {
			next[id] = struct{}{}
			now = true
		}
		return next
	})
	return now, err
}

// EnableAll replaces the enabled set with ids in a single write.
func (s *Store) EnableAll(ctx context.Context, ids []string) error {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			return ErrInvalidID
		}
		set[id] = struct{}{}
	}
	return s.mutate(ctx, "enable_all", func(cur map[string]struct{}) map[string]struct{} {
		if s.record == recordPresent && maps.Equal(cur, set) {
			return nil
		}
		return set
	})
}

// DisableAll clears the enabled set in a single write. The persisted record
// becomes an explicit empty array, which is never re-seeded.
func (s *Store) DisableAll(ctx context.Context) error {
	return s.mutate(ctx, "disable_all", func(cur map[string]struct{}) map[string]struct{} {
		if s.record == recordPresent && len(cur) == 0 {
			return nil
		}
		return map[string]struct{}{}
	})
}

// SeedDefaultIfEmpty enables ids only when no record has ever been persisted.
// A present-but-empty record means the user disabled everything and is left alone.
// Reports whether seeding happened.
func (s *Store) SeedDefaultIfEmpty(ctx context.Context, ids []string) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	state := s.record
	s.mu.RUnlock()
	if state != recordAbsent {
		return false, nil
	}

	set := toSet(ids)
	if err := s.persistAndSwap(ctx, "seed", set); err != nil {
		return false, err
	}
	s.logger.Info("seeded enabled modules with defaults", "count", len(set))
	return true, nil
}

// Flush retries a failed write. It is a no-op when nothing is pending.
func (s *Store) Flush(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	dirty, cur := s.dirty, s.enabled
	s.mu.RUnlock()
	if !dirty {
		return nil
	}
	return s.persistAndSwap(ctx, "flush", cur)
}

// mutate runs change against the latest set while holding writeMu. A nil result
// means nothing changed: no write happens.
func (s *Store) mutate(ctx context.Context, op string, change func(cur map[string]struct{}) map[string]struct{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cur := s.latestLocked(ctx)
	next := change(cur)
	if next == nil {
		return nil
	}
	return s.persistAndSwap(ctx, op, next)
}

// latestLocked returns the set a change applies to. Another process sharing the
// backend may have written the record since it was loaded, so a readable persisted
// record replaces the in-memory set. A pending failed write keeps the in-memory set,
// as does any read or decode error. Caller holds writeMu.
func (s *Store) latestLocked(ctx context.Context) map[string]struct{} {
	s.mu.RLock()
	cur, dirty := s.enabled, s.dirty
	s.mu.RUnlock()
	if dirty {
		return cur
	}

	data, found, err := s.backend.GetPreference(ctx, Key)
	if err != nil || !found {
		return cur
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return cur
	}
	persisted := toSet(ids)
	if !maps.Equal(persisted, cur) {
		s.logger.Info("enabled modules changed outside this process, reloading",
			"was", len(cur),
			"now", len(persisted),
		)
	}
	s.replace(persisted, recordPresent, false)
	return persisted
}

// persistAndSwap writes next and publishes it. On write failure the new set is still
// published and the store is marked dirty so the next mutation rewrites the full set.
// Caller holds writeMu.
func (s *Store) persistAndSwap(ctx context.Context, op string, next map[string]struct{}) error {
	ids := sortedKeys(next)
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("%w: encoding: %v", ErrPersistence, err)
	}

	if err := s.backend.PutPreference(ctx, Key, data); err != nil {
		s.mu.Lock()
		s.enabled = next
		s.dirty = true
		s.mu.Unlock()
		s.logger.Error("failed to persist enabled modules, will retry on next change",
			"op", op,
			"count", len(ids),
			"error", err,
		)
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	s.replace(next, recordPresent, false)
	s.logger.Debug("persisted enabled modules", "op", op, "count", len(ids))
	return nil
}

func (s *Store) replace(set map[string]struct{}, record recordState, dirty bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = set
	s.record = record
	s.dirty = dirty
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return set
}

// sortedKeys never returns nil so an empty set encodes as [] rather than null.
func sortedKeys(set map[string]struct{}) []string {
	out := slices.AppendSeq(make([]string, 0, len(set)), maps.Keys(set))
	slices.Sort(out)
	return out
}
