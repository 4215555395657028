// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to count or fail preference writes

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu          sync.RWMutex
	preferences map[string][]byte
	audit       []AuditEntry
	moduleKV    map[string]map[string]*ModuleValue // module ID -> key -> value

	prefWrites int
	putErr     error // returned by PutPreference when set
	getErr     error // returned by GetPreference when set
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		preferences: make(map[string][]byte),
		moduleKV:    make(map[string]map[string]*ModuleValue),
	}
}

// GetPreference returns a copy of the stored value.
func (m *MockStore) GetPreference(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.getErr != nil {
		return nil, false, m.getErr
	}
	v, ok := m.preferences[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

// PutPreference stores a copy of value. Every call counts as a write attempt.
func (m *MockStore) PutPreference(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.prefWrites++
	if m.putErr != nil {
		return m.putErr
	}
	v := make([]byte, len(value))
	copy(v, value)
	m.preferences[key] = v
	return nil
}

// PreferenceWrites returns how many times PutPreference has been called.
func (m *MockStore) PreferenceWrites() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.prefWrites
}

// SetPreferenceErrors makes subsequent Get/PutPreference calls fail. Pass nil to clear.
func (m *MockStore) SetPreferenceErrors(getErr, putErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getErr = getErr
	m.putErr = putErr
}

// AppendAuditLog records an entry in memory.
func (m *MockStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prepareAuditEntry(e)
	m.audit = append(m.audit, *e)
	return nil
}

// ListAuditLog returns entries matching the filter, newest first.
func (m *MockStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []AuditEntry{}
	for i := len(m.audit) - 1; i >= 0; i-- {
		e := m.audit[i]
		if f.Since != nil && e.Timestamp.Before(*f.Since) {
			continue
		}
		if f.ModuleID != nil && e.ModuleID != *f.ModuleID {
			continue
		}
		if f.Outcome != nil && e.Outcome != *f.Outcome {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })

	if limit := normalizeAuditLimit(f.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SetModuleValue stores a value in a module's key space.
func (m *MockStore) SetModuleValue(ctx context.Context, moduleID, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	space, ok := m.moduleKV[moduleID]
	if !ok {
		space = make(map[string]*ModuleValue)
		m.moduleKV[moduleID] = space
	}
	space[key] = &ModuleValue{ModuleID: moduleID, Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return nil
}

// GetModuleValue retrieves a value. Returns ErrNotFound if absent.
func (m *MockStore) GetModuleValue(ctx context.Context, moduleID, key string) (*ModuleValue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.moduleKV[moduleID][key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *v
	return &cp, nil
}

// ListModuleKeys returns a module's keys in lexical order.
func (m *MockStore) ListModuleKeys(ctx context.Context, moduleID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := []string{}
	for k := range m.moduleKV[moduleID] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// DeleteModuleValue removes a key. Returns ErrNotFound if absent.
func (m *MockStore) DeleteModuleValue(ctx context.Context, moduleID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.moduleKV[moduleID][key]; !ok {
		return ErrNotFound
	}
	delete(m.moduleKV[moduleID], key)
	return nil
}

// Close is a no-op for the mock.
func (m *MockStore) Close() error {
	return nil
}
