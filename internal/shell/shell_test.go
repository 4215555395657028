// ABOUTME: Tests for the shell controller wired to the real registry, gate and stores.
// ABOUTME: Covers first-run seeding, enablement, module runs and permission probes.

package shell

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/toolshell/internal/catalog"
	"github.com/2389/toolshell/internal/enablement"
	"github.com/2389/toolshell/internal/gate"
	"github.com/2389/toolshell/internal/hostapi"
	"github.com/2389/toolshell/internal/manifest"
	"github.com/2389/toolshell/internal/modules"
	"github.com/2389/toolshell/internal/registry"
	"github.com/2389/toolshell/internal/store"
)

type testEnv struct {
	shell   *Shell
	backend *store.MockStore
	reg     *registry.Registry
}

func newShell(t *testing.T, backend *store.MockStore) *testEnv {
	t.Helper()
	logger := slog.Default()

	reg := registry.New(logger)
	_, errs := modules.RegisterAll(reg, logger)
	require.Empty(t, errs)

	en := enablement.New(backend, logger)
	host, err := hostapi.NewStandard(hostapi.Options{SandboxDir: t.TempDir()}, backend, logger)
	require.NoError(t, err)
	t.Cleanup(func() { host.Close() })

	g := gate.New(gate.Config{
		Registry:   reg,
		Enablement: en,
		Host:       host,
		Sink:       gate.NewStoreSink(backend),
		Logger:     logger,
	})
	sh := New(Config{Registry: reg, Enablement: en, Gate: g, Logger: logger})
	sh.Open(context.Background())
	return &testEnv{shell: sh, backend: backend, reg: reg}
}

func ids(views []ModuleView) []string {
	out := make([]string, len(views))
	for i, v := range views {
		out[i] = v.ID
	}
	return out
}

func TestOpen_FirstRunEnablesEverything(t *testing.T) {
	env := newShell(t, store.NewMockStore())

	assert.Len(t, env.shell.Active(), env.reg.Len())
	assert.Equal(t, 1, env.backend.PreferenceWrites())
}

func TestOpen_ExplicitEmptyStaysEmpty(t *testing.T) {
	backend := store.NewMockStore()
	first := newShell(t, backend)
	require.NoError(t, first.shell.DisableAll(context.Background()))

	next := newShell(t, backend)
	assert.Empty(t, next.shell.Active())
	for _, v := range next.shell.Modules() {
		assert.False(t, v.Enabled, v.ID)
	}
}

func TestOpen_RestoresPersistedSet(t *testing.T) {
	backend := store.NewMockStore()
	require.NoError(t, backend.PutPreference(context.Background(), enablement.Key, []byte(`["json-formatter","calculator","retired-module"]`)))

	env := newShell(t, backend)
	assert.Equal(t, []string{"calculator", "json-formatter"}, ids(env.shell.Active()), "registry order, unknown ids ignored")
}

func TestModules_View(t *testing.T) {
	env := newShell(t, store.NewMockStore())

	v, err := env.shell.Module("camera-tool")
	require.NoError(t, err)
	assert.Equal(t, "Camera Tool", v.DisplayName)
	assert.Equal(t, "1.0.0", v.Version)
	assert.True(t, v.Enabled)
	require.Len(t, v.Permissions, 1)
	assert.Equal(t, catalog.Camera, v.Permissions[0].ID)
	assert.Equal(t, catalog.RiskHigh, v.Risk.Highest)
	assert.Contains(t, v.LongDescriptionHTML, "<strong>camera</strong>")

	_, err = env.shell.Module("nope")
	assert.ErrorIs(t, err, registry.ErrNotFound)

	all := env.shell.Modules()
	assert.Len(t, all, 10)
	assert.Equal(t, "base64-encoder", all[0].ID, "embedded manifests register in file name order")
}

func TestEnableDisableToggle(t *testing.T) {
	env := newShell(t, store.NewMockStore())
	ctx := context.Background()

	require.NoError(t, env.shell.Disable(ctx, "calculator"))
	assert.NotContains(t, ids(env.shell.Active()), "calculator")

	on, err := env.shell.Toggle(ctx, "calculator")
	require.NoError(t, err)
	assert.True(t, on)

	require.NoError(t, env.shell.Enable(ctx, "calculator"))
	assert.Contains(t, ids(env.shell.Active()), "calculator")

	assert.ErrorIs(t, env.shell.Enable(ctx, "ghost"), registry.ErrNotFound)
	_, err = env.shell.Toggle(ctx, "ghost")
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestEnableAllDisableAll(t *testing.T) {
	env := newShell(t, store.NewMockStore())
	ctx := context.Background()
	writes := env.backend.PreferenceWrites()

	require.NoError(t, env.shell.DisableAll(ctx))
	assert.Empty(t, env.shell.Active())
	require.NoError(t, env.shell.EnableAll(ctx))
	assert.Len(t, env.shell.Active(), 10)
	assert.Equal(t, writes+2, env.backend.PreferenceWrites(), "one write per bulk operation")
}

func TestRun(t *testing.T) {
	env := newShell(t, store.NewMockStore())
	ctx := context.Background()

	out, err := env.shell.Run(ctx, "calculator", json.RawMessage(`{"expression":"2+2"}`))
	require.NoError(t, err)
	assert.Contains(t, string(out), `"result":4`)

	require.NoError(t, env.shell.Disable(ctx, "calculator"))
	_, err = env.shell.Run(ctx, "calculator", json.RawMessage(`{"expression":"2+2"}`))
	assert.ErrorIs(t, err, ErrModuleDisabled)

	_, err = env.shell.Run(ctx, "ghost", nil)
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestRun_CameraToolScenario(t *testing.T) {
	env := newShell(t, store.NewMockStore())
	ctx := context.Background()

	decisions, err := env.shell.Probe(ctx, "camera-tool")
	require.NoError(t, err)
	byCap := map[string]gate.AccessDecision{}
	for _, d := range decisions {
		byCap[d.Capability] = d
	}
	assert.True(t, byCap["camera"].Granted())
	assert.Equal(t, gate.ReasonNotDeclared, byCap["microphone"].Reason)

	require.NoError(t, env.shell.Disable(ctx, "camera-tool"))
	decisions, err = env.shell.Probe(ctx, "camera-tool")
	require.NoError(t, err)
	for _, d := range decisions {
		assert.False(t, d.Granted(), d.Capability)
	}
	assert.Equal(t, gate.ReasonModuleDisabled, decisions[0].Reason)
}

func TestProbe_CatalogOrderAndAudited(t *testing.T) {
	env := newShell(t, store.NewMockStore())
	ctx := context.Background()

	decisions, err := env.shell.Probe(ctx, "text-editor")
	require.NoError(t, err)
	require.Len(t, decisions, len(catalog.All()))
	for i, c := range catalog.All() {
		assert.Equal(t, string(c), decisions[i].Capability)
	}

	entries, err := env.backend.ListAuditLog(ctx, store.AuditFilter{})
	require.NoError(t, err)
	assert.Len(t, entries, len(catalog.All()))

	_, err = env.shell.Probe(ctx, "ghost")
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestProbe_CanceledContext(t *testing.T) {
	env := newShell(t, store.NewMockStore())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.shell.Probe(ctx, "calculator")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSearchAndCategory(t *testing.T) {
	env := newShell(t, store.NewMockStore())

	assert.Equal(t, []string{"password-generator"}, ids(env.shell.Search("password")))
	assert.ElementsMatch(t, []string{"base64-encoder", "json-formatter", "permission-tester"}, ids(env.shell.ByCategory(manifest.CategoryDevelopment)))
	assert.Empty(t, env.shell.Search("zzz-nothing"))
}

func TestPermissions(t *testing.T) {
	env := newShell(t, store.NewMockStore())

	usage := env.shell.Permissions()
	require.Len(t, usage, 12)
	byCap := map[catalog.Capability][]string{}
	for _, u := range usage {
		byCap[u.ID] = u.Modules
	}
	assert.ElementsMatch(t, []string{"base64-encoder", "json-formatter", "password-generator", "url-shortener", "color-picker"}, byCap[catalog.Clipboard])
	assert.Equal(t, []string{"camera-tool"}, byCap[catalog.Camera])
	assert.Empty(t, byCap[catalog.Microphone])
}

type panicModule struct{}

func (panicModule) Run(ctx context.Context, host registry.Host, input json.RawMessage) (json.RawMessage, error) {
	panic("boom")
}

func TestRun_PanicIsContained(t *testing.T) {
	env := newShell(t, store.NewMockStore())
	m, err := manifest.FromRaw(manifest.Raw{Name: "crasher", DisplayName: "Crasher", Version: "0.1.0", Permissions: []string{}})
	require.NoError(t, err)
	_, err = env.reg.Register(m, func() registry.Module { return panicModule{} })
	require.NoError(t, err)
	require.NoError(t, env.shell.Enable(context.Background(), "crasher"))

	_, err = env.shell.Run(context.Background(), "crasher", nil)
	assert.ErrorIs(t, err, ErrModuleCrashed)
}

func TestShell_WithSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "toolshell.db")
	ctx := context.Background()
	logger := slog.Default()

	open := func() (*Shell, *store.SQLiteStore) {
		db, err := store.NewSQLiteStore(path)
		require.NoError(t, err)
		reg := registry.New(logger)
		modules.RegisterAll(reg, logger)
		en := enablement.New(db, logger)
		g := gate.New(gate.Config{Registry: reg, Enablement: en, Sink: gate.NewStoreSink(db), Logger: logger})
		sh := New(Config{Registry: reg, Enablement: en, Gate: g, Logger: logger})
		sh.Open(ctx)
		return sh, db
	}

	sh, db := open()
	require.NoError(t, sh.DisableAll(ctx))
	require.NoError(t, sh.Enable(ctx, "unit-converter"))
	require.NoError(t, db.Close())

	sh, db = open()
	defer db.Close()
	assert.Equal(t, []string{"unit-converter"}, ids(sh.Active()))
}

func TestModule_ReregisteredDescriptionIsRenderedAgain(t *testing.T) {
	env := newShell(t, store.NewMockStore())
	register := func(desc string) {
		m, err := manifest.FromRaw(manifest.Raw{
			Name: "notes", DisplayName: "Notes", Version: "1.0.0",
			LongDescription: desc, Permissions: []string{},
		})
		require.NoError(t, err)
		_, err = env.reg.Register(m, func() registry.Module { return panicModule{} })
		require.NoError(t, err)
	}

	register("First *draft*")
	v, err := env.shell.Module("notes")
	require.NoError(t, err)
	assert.Contains(t, v.LongDescriptionHTML, "<em>draft</em>")

	require.NoError(t, env.reg.Unregister("notes"))
	register("Second **edition**")
	v, err = env.shell.Module("notes")
	require.NoError(t, err)
	assert.Contains(t, v.LongDescriptionHTML, "<strong>edition</strong>")
	assert.NotContains(t, v.LongDescriptionHTML, "draft")
}
