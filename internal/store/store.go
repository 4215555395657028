// ABOUTME: Store interfaces and data types for toolshell persistence
// ABOUTME: Defines preference, audit and per-module data storage contracts

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// PreferenceStore holds shell-local preferences as opaque values under well-known keys.
// A missing key is reported as found == false, never as an error.
type PreferenceStore interface {
	GetPreference(ctx context.Context, key string) (value []byte, found bool, err error)
	PutPreference(ctx context.Context, key string, value []byte) error
}

// AuditStore records capability access decisions
type AuditStore interface {
	AppendAuditLog(ctx context.Context, e *AuditEntry) error
	ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
}

// ModuleDataStore is the per-module key/value space backing the storage capability.
// Keys are scoped by module ID; one module never sees another's keys.
type ModuleDataStore interface {
	SetModuleValue(ctx context.Context, moduleID, key, value string) error
	GetModuleValue(ctx context.Context, moduleID, key string) (*ModuleValue, error)
	ListModuleKeys(ctx context.Context, moduleID string) ([]string, error)
	DeleteModuleValue(ctx context.Context, moduleID, key string) error
}

// Store combines every persistence contract
type Store interface {
	PreferenceStore
	AuditStore
	ModuleDataStore

	// Close releases any resources held by the store
	Close() error
}

// ModuleValue is one entry in a module's key/value space
type ModuleValue struct {
	ModuleID  string
	Key       string
	Value     string
	UpdatedAt time.Time
}
