// Package store provides persistent storage for toolshell using SQLite.
//
// # Architecture
//
// The store package uses an interface-driven architecture with narrow interfaces:
//
//   - PreferenceStore: Opaque values under well-known keys (the enabled-module record)
//   - AuditStore: Capability access decisions
//   - ModuleDataStore: Per-module key/value space behind the storage capability
//
// SQLiteStore implements all interfaces in a single struct. MockStore is an
// in-memory implementation for tests; it counts preference writes and can be told
// to fail them.
//
// # Schema
//
//	preferences (key PK, value, updated_at)
//	audit_log   (audit_id PK, module_id, capability, outcome, reason, ts)
//	module_kv   (module_id, key, value, updated_at; PK module_id+key)
//
// Timestamps are stored as fixed-width UTC strings so they sort correctly as text.
//
// # Usage
//
//	s, err := store.NewSQLiteStore("/path/to/toolshell.db")
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//
//	value, found, err := s.GetPreference(ctx, "enabledModules")
package store
