// ABOUTME: Tests for the module registry including duplicate rejection and ordering.
// ABOUTME: Validates thread-safe registration and lookup.

package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/toolshell/internal/catalog"
	"github.com/2389/toolshell/internal/manifest"
)

type nopModule struct{ tag string }

func (n nopModule) Run(ctx context.Context, host Host, input json.RawMessage) (json.RawMessage, error) {
	return json.Marshal(n.tag)
}

func factory(tag string) Factory {
	return func() Module { return nopModule{tag: tag} }
}

// createTestManifest builds a validated manifest for tests.
func createTestManifest(t *testing.T, name, version, category string, perms ...string) *manifest.Manifest {
	t.Helper()
	if perms == nil {
		perms = []string{}
	}
	m, err := manifest.FromRaw(manifest.Raw{
		Name:        name,
		DisplayName: name,
		Version:     version,
		Description: "test module " + name,
		Category:    category,
		Permissions: perms,
	})
	require.NoError(t, err)
	return m
}

func TestRegistryRegister(t *testing.T) {
	t.Run("registers module successfully", func(t *testing.T) {
		r := New(slog.Default())
		entry, err := r.Register(createTestManifest(t, "calculator", "1.0.0", ""), factory("calc"))
		require.NoError(t, err)
		assert.Equal(t, manifest.ID("calculator"), entry.ID())

		got, err := r.Get("calculator")
		require.NoError(t, err)
		assert.Same(t, entry, got)
	})

	t.Run("rejects duplicate and keeps original", func(t *testing.T) {
		r := New(slog.Default())
		_, err := r.Register(createTestManifest(t, "camera-tool", "1.0.0", "", "camera"), factory("first"))
		require.NoError(t, err)

		_, err = r.Register(createTestManifest(t, "camera-tool", "2.0.0", "", "camera", "microphone"), factory("second"))
		require.ErrorIs(t, err, ErrDuplicateModule)

		got, err := r.Get("camera-tool")
		require.NoError(t, err)
		assert.Equal(t, "1.0.0", got.Manifest().Version().String())
		assert.Len(t, got.Manifest().Permissions(), 1)

		out, err := got.NewModule().Run(context.Background(), nil, nil)
		require.NoError(t, err)
		assert.JSONEq(t, `"first"`, string(out))
		assert.Equal(t, 1, r.Len())
	})

	t.Run("rejects nil inputs", func(t *testing.T) {
		r := New(slog.Default())
		_, err := r.Register(nil, factory("x"))
		assert.ErrorIs(t, err, ErrInvalidEntry)

		_, err = r.Register(createTestManifest(t, "calculator", "1.0.0", ""), nil)
		assert.ErrorIs(t, err, ErrInvalidEntry)
		assert.Zero(t, r.Len())
	})
}

func TestRegistryUnregister(t *testing.T) {
	r := New(slog.Default())
	_, err := r.Register(createTestManifest(t, "a", "1.0.0", ""), factory("a"))
	require.NoError(t, err)
	_, err = r.Register(createTestManifest(t, "b", "1.0.0", ""), factory("b"))
	require.NoError(t, err)

	require.NoError(t, r.Unregister("a"))
	_, err = r.Get("a")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, []manifest.ID{"b"}, r.IDs())

	err = r.Unregister("a")
	assert.ErrorIs(t, err, ErrUnknownModule)

	// The identifier is free again after removal.
	_, err = r.Register(createTestManifest(t, "a", "2.0.0", ""), factory("a2"))
	require.NoError(t, err)
	assert.Equal(t, []manifest.ID{"b", "a"}, r.IDs())
}

func TestRegistryEntry_DeclaredSetCannotGrow(t *testing.T) {
	r := New(slog.Default())
	_, err := r.Register(createTestManifest(t, "color-picker", "1.0.0", "", "clipboard"), factory("ok"))
	require.NoError(t, err)

	got, err := r.Get("color-picker")
	require.NoError(t, err)
	perms := got.Manifest().Permissions()
	perms[0] = catalog.Camera

	for _, e := range r.List() {
		assert.True(t, e.Manifest().Declares(catalog.Clipboard))
		assert.False(t, e.Manifest().Declares(catalog.Camera))
	}
}

func TestRegistryGet_NotFound(t *testing.T) {
	r := New(slog.Default())
	entry, err := r.Get("missing")
	assert.Nil(t, entry)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = r.Lookup("Not A Valid Id")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistryList_InsertionOrderStable(t *testing.T) {
	r := New(slog.Default())
	names := []string{"zeta", "alpha", "mu", "beta"}
	for _, n := range names {
		_, err := r.Register(createTestManifest(t, n, "1.0.0", ""), factory(n))
		require.NoError(t, err)
	}

	for i := 0; i < 3; i++ {
		list := r.List()
		require.Len(t, list, len(names))
		for j, e := range list {
			assert.Equal(t, manifest.ID(names[j]), e.ID())
		}
	}

	// Mutating the snapshot does not affect the registry.
	snap := r.List()
	snap[0] = nil
	assert.NotNil(t, r.List()[0])
}

func TestRegistrySearchAndCategory(t *testing.T) {
	r := New(slog.Default())
	_, _ = r.Register(createTestManifest(t, "calculator", "1.0.0", "utilities"), factory("c"))
	_, _ = r.Register(createTestManifest(t, "qr-reader", "1.0.0", "media", "camera"), factory("q"))
	_, _ = r.Register(createTestManifest(t, "unit-converter", "1.0.0", "utilities"), factory("u"))

	utils := r.ByCategory(manifest.CategoryUtilities)
	require.Len(t, utils, 2)
	assert.Equal(t, manifest.ID("calculator"), utils[0].ID())
	assert.Equal(t, manifest.ID("unit-converter"), utils[1].ID())

	found := r.Search("QR")
	require.Len(t, found, 1)
	assert.Equal(t, manifest.ID("qr-reader"), found[0].ID())

	assert.Len(t, r.Search(""), 3)
	assert.Empty(t, r.Search("nothing-matches"))
}

func TestRegistryConcurrentRegister(t *testing.T) {
	r := New(slog.Default())
	var wg sync.WaitGroup
	errs := make(chan error, 100)

	// 50 distinct ids, each registered twice concurrently.
	for i := 0; i < 50; i++ {
		for j := 0; j < 2; j++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				m, err := manifest.FromRaw(manifest.Raw{
					Name: fmt.Sprintf("mod-%d", i), DisplayName: "m", Version: "1.0.0", Permissions: []string{},
				})
				if err != nil {
					errs <- err
					return
				}
				_, err = r.Register(m, factory("x"))
				errs <- err
			}(i)
		}
	}
	wg.Wait()
	close(errs)

	var dupes int
	for err := range errs {
		if err != nil {
			require.ErrorIs(t, err, ErrDuplicateModule)
			dupes++
		}
	}
	assert.Equal(t, 50, dupes)
	assert.Equal(t, 50, r.Len())
}
