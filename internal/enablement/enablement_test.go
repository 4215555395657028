package enablement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/2389/toolshell/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestStore(t *testing.T) (*Store, *store.MockStore) {
	t.Helper()
	backend := store.NewMockStore()
	s := New(backend, slog.Default())
	s.Load(context.Background())
	return s, backend
}

func persisted(t *testing.T, backend *store.MockStore) ([]string, bool) {
	t.Helper()
	data, found, err := backend.GetPreference(context.Background(), Key)
	require.NoError(t, err)
	if !found {
		return nil, false
	}
	var ids []string
	require.NoError(t, json.Unmarshal(data, &ids))
	return ids, true
}

func TestLoad_NoRecord(t *testing.T) {
	s, backend := newTestStore(t)
	assert.Empty(t, s.Enabled())
	assert.False(t, s.HasRecord())
	assert.Zero(t, backend.PreferenceWrites())
}

func TestLoad_ExistingRecord(t *testing.T) {
	backend := store.NewMockStore()
	require.NoError(t, backend.PutPreference(context.Background(), Key, []byte(`["qr-reader","calculator"]`)))

	s := New(backend, slog.Default())
	ids := s.Load(context.Background())
	assert.Equal(t, []string{"calculator", "qr-reader"}, ids)
	assert.True(t, s.IsEnabled("calculator"))
	assert.False(t, s.IsEnabled("pdf-modifier"))
	assert.True(t, s.HasRecord())
}

func TestLoad_CorruptRecordFailsSoft(t *testing.T) {
	backend := store.NewMockStore()
	require.NoError(t, backend.PutPreference(context.Background(), Key, []byte(`{not json`)))

	s := New(backend, slog.Default())
	ids := s.Load(context.Background())
	assert.NotNil(t, ids)
	assert.Empty(t, ids)

	// A corrupt record still counts as present, so it is not re-seeded.
	seeded, err := s.SeedDefaultIfEmpty(context.Background(), []string{"calculator"})
	require.NoError(t, err)
	assert.False(t, seeded)
}

func TestLoad_BackendErrorFailsSoft(t *testing.T) {
	backend := store.NewMockStore()
	backend.SetPreferenceErrors(errors.New("io error"), nil)

	s := New(backend, slog.Default())
	ids := s.Load(context.Background())
	assert.Empty(t, ids)

	// An unreadable backend might hold a real record; seeding must not clobber it.
	seeded, err := s.SeedDefaultIfEmpty(context.Background(), []string{"calculator"})
	require.NoError(t, err)
	assert.False(t, seeded)
}

func TestSetEnabled_InverseAndTwoWrites(t *testing.T) {
	s, backend := newTestStore(t)
	ctx := context.Background()
	original := s.IsEnabled("calculator")

	require.NoError(t, s.SetEnabled(ctx, "calculator", true))
	require.NoError(t, s.SetEnabled(ctx, "calculator", false))

	assert.Equal(t, original, s.IsEnabled("calculator"))
	assert.Equal(t, 2, backend.PreferenceWrites())
}

func TestSetEnabled_SameValueTwiceWritesOnce(t *testing.T) {
	s, backend := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetEnabled(ctx, "calculator", true))
	require.NoError(t, s.SetEnabled(ctx, "calculator", true))
	assert.Equal(t, 1, backend.PreferenceWrites())

	// Disabling something that is not enabled is also a no-op.
	require.NoError(t, s.SetEnabled(ctx, "qr-reader", false))
	assert.Equal(t, 1, backend.PreferenceWrites())

	ids, found := persisted(t, backend)
	assert.True(t, found)
	assert.Equal(t, []string{"calculator"}, ids)
}

func TestSetEnabled_RejectsEmptyID(t *testing.T) {
	s, backend := newTestStore(t)
	assert.ErrorIs(t, s.SetEnabled(context.Background(), "", true), ErrInvalidID)
	assert.Zero(t, backend.PreferenceWrites())
}

func TestToggle(t *testing.T) {
	s, backend := newTestStore(t)
	ctx := context.Background()

	on, err := s.Toggle(ctx, "calculator")
	require.NoError(t, err)
	assert.True(t, on)
	assert.True(t, s.IsEnabled("calculator"))

	on, err = s.Toggle(ctx, "calculator")
	require.NoError(t, err)
	assert.False(t, on)
	assert.False(t, s.IsEnabled("calculator"))
	assert.Equal(t, 2, backend.PreferenceWrites())
}

func TestEnableAllDisableAll_SingleWriteEach(t *testing.T) {
	s, backend := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnableAll(ctx, []string{"a", "b", "c", "d"}))
	assert.Equal(t, 1, backend.PreferenceWrites())
	assert.Equal(t, []string{"a", "b", "c", "d"}, s.Enabled())

	// Same set again: nothing to write.
	require.NoError(t, s.EnableAll(ctx, []string{"d", "c", "b", "a"}))
	assert.Equal(t, 1, backend.PreferenceWrites())

	require.NoError(t, s.DisableAll(ctx))
	assert.Equal(t, 2, backend.PreferenceWrites())
	assert.Empty(t, s.Enabled())

	ids, found := persisted(t, backend)
	assert.True(t, found)
	assert.Equal(t, []string{}, ids)

	data, _, _ := backend.GetPreference(ctx, Key)
	assert.Equal(t, "[]", string(data), "explicit empty array, not null")
}

func TestEnableAll_ReplacesSet(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetEnabled(ctx, "old", true))
	require.NoError(t, s.EnableAll(ctx, []string{"a", "b"}))
	assert.Equal(t, []string{"a", "b"}, s.Enabled())
	assert.ErrorIs(t, s.EnableAll(ctx, []string{"a", ""}), ErrInvalidID)
	assert.Equal(t, []string{"a", "b"}, s.Enabled())
}

func TestDisableAll_FirstRunWritesExplicitEmpty(t *testing.T) {
	s, backend := newTestStore(t)

	require.NoError(t, s.DisableAll(context.Background()))
	assert.Equal(t, 1, backend.PreferenceWrites())
	assert.True(t, s.HasRecord())
}

func TestSeedDefaultIfEmpty_FirstRun(t *testing.T) {
	s, backend := newTestStore(t)
	ctx := context.Background()

	seeded, err := s.SeedDefaultIfEmpty(ctx, []string{"calculator", "camera-tool"})
	require.NoError(t, err)
	assert.True(t, seeded)
	assert.True(t, s.IsEnabled("calculator"))
	assert.True(t, s.IsEnabled("camera-tool"))
	assert.Equal(t, 1, backend.PreferenceWrites())

	// Second call does nothing.
	seeded, err = s.SeedDefaultIfEmpty(ctx, []string{"calculator", "camera-tool", "new-one"})
	require.NoError(t, err)
	assert.False(t, seeded)
	assert.False(t, s.IsEnabled("new-one"))
	assert.Equal(t, 1, backend.PreferenceWrites())
}

func TestSeedDefaultIfEmpty_ExplicitEmptyNotReseeded(t *testing.T) {
	backend := store.NewMockStore()
	ctx := context.Background()

	// Previous run: user disabled everything.
	first := New(backend, slog.Default())
	first.Load(ctx)
	_, err := first.SeedDefaultIfEmpty(ctx, []string{"calculator"})
	require.NoError(t, err)
	require.NoError(t, first.DisableAll(ctx))

	// Next process start.
	next := New(backend, slog.Default())
	assert.Empty(t, next.Load(ctx))
	seeded, err := next.SeedDefaultIfEmpty(ctx, []string{"calculator"})
	require.NoError(t, err)
	assert.False(t, seeded)
	assert.Empty(t, next.Enabled())
}

func TestSaveFailure_LoggedAndRetriedOnNextMutation(t *testing.T) {
	s, backend := newTestStore(t)
	ctx := context.Background()

	backend.SetPreferenceErrors(nil, errors.New("disk full"))
	err := s.SetEnabled(ctx, "a", true)
	require.ErrorIs(t, err, ErrPersistence)
	assert.True(t, s.IsEnabled("a"), "in-memory state keeps the change")
	assert.True(t, s.Dirty())

	backend.SetPreferenceErrors(nil, nil)
	require.NoError(t, s.SetEnabled(ctx, "b", true))
	assert.False(t, s.Dirty())

	ids, found := persisted(t, backend)
	require.True(t, found)
	assert.Equal(t, []string{"a", "b"}, ids, "retry writes the full set including the failed change")
}

func TestFlush(t *testing.T) {
	s, backend := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Flush(ctx))
	assert.Zero(t, backend.PreferenceWrites(), "clean store does not write")

	backend.SetPreferenceErrors(nil, errors.New("locked"))
	require.Error(t, s.SetEnabled(ctx, "a", true))
	backend.SetPreferenceErrors(nil, nil)

	require.NoError(t, s.Flush(ctx))
	assert.False(t, s.Dirty())
	ids, _ := persisted(t, backend)
	assert.Equal(t, []string{"a"}, ids)
}

// slowBackend detects overlapping writes.
type slowBackend struct {
	*store.MockStore
	inFlight atomic.Int32
	overlaps atomic.Int32
}

func (b *slowBackend) PutPreference(ctx context.Context, key string, value []byte) error {
	if b.inFlight.Add(1) > 1 {
		b.overlaps.Add(1)
	}
	defer b.inFlight.Add(-1)
	time.Sleep(time.Millisecond)
	return b.MockStore.PutPreference(ctx, key, value)
}

func TestConcurrentWrites_Serialized(t *testing.T) {
	backend := &slowBackend{MockStore: store.NewMockStore()}
	s := New(backend, slog.Default())
	s.Load(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.SetEnabled(context.Background(), fmt.Sprintf("mod-%02d", i), true))
		}(i)
	}
	wg.Wait()

	assert.Zero(t, backend.overlaps.Load())
	assert.Equal(t, 20, backend.PreferenceWrites())

	ids, found := persisted(t, backend.MockStore)
	require.True(t, found)
	assert.Len(t, ids, 20, "persisted record reflects every write, none lost to interleaving")
}

func TestConcurrentReaders_SeeWholeBulkUpdates(t *testing.T) {
	backend := &slowBackend{MockStore: store.NewMockStore()}
	s := New(backend, slog.Default())
	s.Load(context.Background())

	setA := []string{"a1", "a2", "a3"}
	setB := []string{"b1", "b2", "b3", "b4"}
	require.NoError(t, s.EnableAll(context.Background(), setA))

	done := make(chan struct{})
	var readers sync.WaitGroup
	for i := 0; i < 4; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				got := s.Enabled()
				if !assert.True(t, equal(got, setA) || equal(got, setB), "partial set observed: %v", got) {
					return
				}
			}
		}()
	}

	for i := 0; i < 10; i++ {
		require.NoError(t, s.EnableAll(context.Background(), setB))
		require.NoError(t, s.EnableAll(context.Background(), setA))
	}
	close(done)
	readers.Wait()
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSharedBackend_MutationsFromBothStoresSurvive(t *testing.T) {
	ctx := context.Background()
	db, err := store.NewSQLiteStore(t.TempDir() + "/toolshell.db")
	require.NoError(t, err)
	defer db.Close()

	server := New(db, slog.Default())
	server.Load(ctx)
	_, err = server.SeedDefaultIfEmpty(ctx, []string{"calculator", "camera-tool", "unit-converter"})
	require.NoError(t, err)

	// A second process on the same database disables a module.
	cli := New(db, slog.Default())
	cli.Load(ctx)
	require.NoError(t, cli.SetEnabled(ctx, "camera-tool", false))

	// The server's next change applies on top of the persisted record.
	require.NoError(t, server.SetEnabled(ctx, "calculator", false))
	assert.False(t, server.IsEnabled("camera-tool"), "server picked up the other process's disable")

	restarted := New(db, slog.Default())
	assert.Equal(t, []string{"unit-converter"}, restarted.Load(ctx))
}

func TestSharedBackend_NoOpChangeStillReloads(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMockStore()
	server := New(backend, slog.Default())
	server.Load(ctx)
	require.NoError(t, server.EnableAll(ctx, []string{"a", "b"}))

	cli := New(backend, slog.Default())
	cli.Load(ctx)
	require.NoError(t, cli.SetEnabled(ctx, "b", false))
	writes := backend.PreferenceWrites()

	// Disabling what the other process already disabled writes nothing.
	require.NoError(t, server.SetEnabled(ctx, "b", false))
	assert.Equal(t, writes, backend.PreferenceWrites())
	assert.Equal(t, []string{"a"}, server.Enabled())
}
