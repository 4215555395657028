// ABOUTME: Per-module key/value persistence backing the storage capability
// ABOUTME: Every query is scoped by module_id so modules cannot read each other's data

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SetModuleValue inserts or replaces a value in a module's key space.
func (s *SQLiteStore) SetModuleValue(ctx context.Context, moduleID, key, value string) error {
	query := `
		INSERT INTO module_kv (module_id, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(module_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query, moduleID, key, value, time.Now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("saving module value: %w", err)
	}
	return nil
}

// GetModuleValue retrieves a value. Returns ErrNotFound if the key is absent.
func (s *SQLiteStore) GetModuleValue(ctx context.Context, moduleID, key string) (*ModuleValue, error) {
	var v ModuleValue
	var updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT module_id, key, value, updated_at FROM module_kv WHERE module_id = ? AND key = ?`,
		moduleID, key,
	).Scan(&v.ModuleID, &v.Key, &v.Value, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying module value: %w", err)
	}

	v.UpdatedAt, err = time.Parse(timeLayout, updated)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &v, nil
}

// ListModuleKeys returns a module's keys in lexical order.
func (s *SQLiteStore) ListModuleKeys(ctx context.Context, moduleID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM module_kv WHERE module_id = ? ORDER BY key`, moduleID)
	if err != nil {
		return nil, fmt.Errorf("listing module keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scanning module key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// DeleteModuleValue removes a key. Returns ErrNotFound if the key is absent.
func (s *SQLiteStore) DeleteModuleValue(ctx context.Context, moduleID, key string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM module_kv WHERE module_id = ? AND key = ?`, moduleID, key)
	if err != nil {
		return fmt.Errorf("deleting module value: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
