// ABOUTME: Storage capability provider backed by the per-module key/value table.
// ABOUTME: A module only ever sees keys written under its own id.

package hostapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/2389/toolshell/internal/catalog"
	"github.com/2389/toolshell/internal/manifest"
	"github.com/2389/toolshell/internal/store"
)

// Storage implements get, set, delete and keys over a ModuleDataStore.
type Storage struct {
	store store.ModuleDataStore
}

// NewStorage creates a Storage provider.
func NewStorage(s store.ModuleDataStore) *Storage {
	return &Storage{store: s}
}

// StorageReply is returned by every storage op.
type StorageReply struct {
	Key   string   `json:"key,omitempty"`
	Value string   `json:"value,omitempty"`
	Found bool     `json:"found"`
	Keys  []string `json:"keys,omitempty"`
}

// Handle dispatches on the request op.
func (s *Storage) Handle(ctx context.Context, moduleID manifest.ID, payload json.RawMessage) (json.RawMessage, error) {
	req, err := DecodeRequest(payload)
	if err != nil {
		return nil, err
	}
	mod := string(moduleID)

	switch req.Op {
	case "get":
		if req.Key == "" {
			return nil, fmt.Errorf("%w: key is required", ErrBadRequest)
		}
		v, err := s.store.GetModuleValue(ctx, mod, req.Key)
		if errors.Is(err, store.ErrNotFound) {
			return reply(StorageReply{Key: req.Key})
		}
		if err != nil {
			return nil, err
		}
		return reply(StorageReply{Key: v.Key, Value: v.Value, Found: true})

	case "set":
		if req.Key == "" {
			return nil, fmt.Errorf("%w: key is required", ErrBadRequest)
		}
		if err := s.store.SetModuleValue(ctx, mod, req.Key, req.Value); err != nil {
			return nil, err
		}
		return reply(StorageReply{Key: req.Key, Value: req.Value, Found: true})

	case "delete":
		err := s.store.DeleteModuleValue(ctx, mod, req.Key)
		if errors.Is(err, store.ErrNotFound) {
			return reply(StorageReply{Key: req.Key})
		}
		if err != nil {
			return nil, err
		}
		return reply(StorageReply{Key: req.Key, Found: true})

	case "keys":
		keys, err := s.store.ListModuleKeys(ctx, mod)
		if err != nil {
			return nil, err
		}
		return reply(StorageReply{Keys: keys, Found: len(keys) > 0})
	}
	return nil, unsupported(catalog.Storage, req.Op)
}
