// ABOUTME: Tests for the capability gate decision rules and audit emission.
// ABOUTME: Includes property tests over random manifests and requests.

package gate

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/toolshell/internal/catalog"
	"github.com/2389/toolshell/internal/manifest"
	"github.com/2389/toolshell/internal/registry"
	"github.com/2389/toolshell/internal/store"
)

// enabledSet is a minimal Enablement for tests.
type enabledSet struct {
	mu  sync.RWMutex
	ids map[string]bool
}

func newEnabledSet(ids ...string) *enabledSet {
	s := &enabledSet{ids: map[string]bool{}}
	for _, id := range ids {
		s.ids[id] = true
	}
	return s
}

func (s *enabledSet) IsEnabled(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ids[id]
}

func (s *enabledSet) set(id string, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[id] = on
}

// recordingSink captures decisions.
type recordingSink struct {
	mu        sync.Mutex
	decisions []AccessDecision
	err       error
}

func (r *recordingSink) Record(ctx context.Context, d AccessDecision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions = append(r.decisions, d)
	return r.err
}

func (r *recordingSink) all() []AccessDecision {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.decisions)
}

// echoHost returns the capability name, or err when set.
type echoHost struct {
	mu    sync.Mutex
	calls []catalog.Capability
	err   error
}

func (h *echoHost) Call(ctx context.Context, moduleID manifest.ID, c catalog.Capability, payload json.RawMessage) (json.RawMessage, error) {
	h.mu.Lock()
	h.calls = append(h.calls, c)
	h.mu.Unlock()
	if h.err != nil {
		return nil, h.err
	}
	return json.Marshal(map[string]string{"module": string(moduleID), "capability": string(c)})
}

type nopModule struct{}

func (nopModule) Run(ctx context.Context, host registry.Host, input json.RawMessage) (json.RawMessage, error) {
	return input, nil
}

func registerModule(t *testing.T, reg *registry.Registry, name string, perms ...string) {
	t.Helper()
	if perms == nil {
		perms = []string{}
	}
	m, err := manifest.FromRaw(manifest.Raw{
		Name:        name,
		DisplayName: name,
		Version:     "1.0.0",
		Description: "test module",
		Permissions: perms,
	})
	require.NoError(t, err)
	_, err = reg.Register(m, func() registry.Module { return nopModule{} })
	require.NoError(t, err)
}

type fixture struct {
	gate    *Gate
	reg     *registry.Registry
	enabled *enabledSet
	host    *echoHost
	sink    *recordingSink
}

func setupGate(t *testing.T) *fixture {
	t.Helper()
	reg := registry.New(slog.Default())
	registerModule(t, reg, "camera-tool", "camera", "storage")
	registerModule(t, reg, "calculator")

	f := &fixture{
		reg:     reg,
		enabled: newEnabledSet("camera-tool", "calculator"),
		host:    &echoHost{},
		sink:    &recordingSink{},
	}
	f.gate = New(Config{
		Registry:   reg,
		Enablement: f.enabled,
		Host:       f.host,
		Sink:       f.sink,
		Logger:     slog.Default(),
	})
	return f
}

func TestGate_CameraToolScenario(t *testing.T) {
	f := setupGate(t)
	ctx := context.Background()

	d := f.gate.Check(ctx, "camera-tool", "camera")
	assert.True(t, d.Granted())
	assert.Equal(t, ReasonDeclared, d.Reason)

	d = f.gate.Check(ctx, "camera-tool", "microphone")
	assert.False(t, d.Granted())
	assert.Equal(t, ReasonNotDeclared, d.Reason)

	f.enabled.set("camera-tool", false)
	d = f.gate.Check(ctx, "camera-tool", "camera")
	assert.False(t, d.Granted())
	assert.Equal(t, ReasonModuleDisabled, d.Reason)

	events := f.sink.all()
	require.Len(t, events, 3)
	assert.Equal(t, Granted, events[0].Outcome)
	assert.Equal(t, Denied, events[1].Outcome)
	assert.Equal(t, Denied, events[2].Outcome)
}

func TestGate_DenialReasons(t *testing.T) {
	tests := []struct {
		name       string
		module     string
		capability string
		want       Reason
	}{
		{"unknown module", "ghost", "camera", ReasonUnknownModule},
		{"malformed module id", "Not Valid", "camera", ReasonUnknownModule},
		{"unknown capability", "camera-tool", "telepathy", ReasonUnknownCapability},
		{"not declared", "calculator", "clipboard", ReasonNotDeclared},
		{"declared", "camera-tool", "storage", ReasonDeclared},
		{"alias resolves", "camera-tool", "persistent-storage", ReasonDeclared},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupGate(t)
			d := f.gate.Check(context.Background(), tt.module, tt.capability)
			assert.Equal(t, tt.want, d.Reason)
			assert.Equal(t, tt.want == ReasonDeclared, d.Granted())
			assert.Equal(t, tt.module, d.ModuleID)
			assert.Equal(t, tt.capability, d.Capability)
			assert.NotEmpty(t, d.ID)
			assert.False(t, d.Timestamp.IsZero())
		})
	}
}

func TestGate_InvokeGrantedForwardsToHost(t *testing.T) {
	f := setupGate(t)

	out, err := f.gate.Invoke(context.Background(), "camera-tool", "camera", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"module":"camera-tool","capability":"camera"}`, string(out))
	assert.Equal(t, []catalog.Capability{catalog.Camera}, f.host.calls)
}

func TestGate_InvokeDeniedNeverReachesHost(t *testing.T) {
	f := setupGate(t)

	_, err := f.gate.Invoke(context.Background(), "calculator", "camera", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDenied)

	var denied *CapabilityDenied
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "calculator", denied.ModuleID)
	assert.Equal(t, "camera", denied.Capability)
	assert.Equal(t, ReasonNotDeclared, denied.Reason)
	assert.Empty(t, f.host.calls)
}

func TestGate_HostFailureIsNotDenial(t *testing.T) {
	f := setupGate(t)
	boom := errors.New("no camera attached")
	f.host.err = boom

	_, err := f.gate.Invoke(context.Background(), "camera-tool", "camera", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrDenied)

	// The gate still granted; the audit trail says so.
	events := f.sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, Granted, events[0].Outcome)
}

func TestGate_NoHost(t *testing.T) {
	f := setupGate(t)
	g := New(Config{Registry: f.reg, Enablement: f.enabled})

	_, err := g.Invoke(context.Background(), "camera-tool", "camera", nil)
	assert.ErrorIs(t, err, ErrNoHost)
}

func TestGate_SinkFailureDoesNotChangeDecision(t *testing.T) {
	f := setupGate(t)
	f.sink.err = errors.New("audit offline")

	d := f.gate.Check(context.Background(), "camera-tool", "camera")
	assert.True(t, d.Granted())
}

func TestGate_Accessor(t *testing.T) {
	f := setupGate(t)
	acc := f.gate.Accessor("camera-tool")
	ctx := context.Background()

	var host registry.Host = acc
	_, err := host.Use(ctx, catalog.Camera, nil)
	require.NoError(t, err)

	_, err = host.Use(ctx, catalog.Microphone, nil)
	assert.ErrorIs(t, err, ErrDenied)

	assert.True(t, acc.Check(ctx, catalog.Storage).Granted())
	assert.Equal(t, manifest.ID("camera-tool"), acc.ModuleID())
}

func TestGate_PermissionTesterProbeAllDenied(t *testing.T) {
	f := setupGate(t)
	registerModule(t, f.reg, "permission-tester")
	f.enabled.set("permission-tester", true)

	acc := f.gate.Accessor("permission-tester")
	for _, c := range catalog.All() {
		_, err := acc.Use(context.Background(), c, nil)
		var denied *CapabilityDenied
		require.ErrorAs(t, err, &denied, "capability %s", c)
		assert.Equal(t, ReasonNotDeclared, denied.Reason)
	}
	assert.Empty(t, f.host.calls)
	assert.Equal(t, uint64(len(catalog.All())), f.gate.Stats().Denied)
}

func TestGate_Stats(t *testing.T) {
	f := setupGate(t)
	ctx := context.Background()

	f.gate.Check(ctx, "camera-tool", "camera")
	f.gate.Check(ctx, "camera-tool", "camera")
	f.gate.Check(ctx, "calculator", "camera")

	assert.Equal(t, Stats{Granted: 2, Denied: 1}, f.gate.Stats())
}

func TestGate_ConcurrentRequestsIndependent(t *testing.T) {
	f := setupGate(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.True(t, f.gate.Check(context.Background(), "camera-tool", "camera").Granted())
		}()
		go func() {
			defer wg.Done()
			assert.False(t, f.gate.Check(context.Background(), "camera-tool", "usb").Granted())
		}()
	}
	wg.Wait()
	assert.Len(t, f.sink.all(), 100)
}

func TestGate_FixedClock(t *testing.T) {
	f := setupGate(t)
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	g := New(Config{Registry: f.reg, Enablement: f.enabled, Sink: f.sink, Now: func() time.Time { return at }})

	d := g.Check(context.Background(), "camera-tool", "camera")
	assert.Equal(t, at, d.Timestamp)
}

func TestProperty_GrantIffEnabledAndDeclared(t *testing.T) {
	all := catalog.All()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("granted exactly when enabled and declared", prop.ForAll(
		func(declaredIdx []int, requestIdx int, enabled bool) bool {
			var declared []string
			for _, i := range declaredIdx {
				if c := string(all[i]); !slices.Contains(declared, c) {
					declared = append(declared, c)
				}
			}

			reg := registry.New(slog.Default())
			registerModule(t, reg, "subject", declared...)
			set := newEnabledSet()
			set.set("subject", enabled)
			g := New(Config{Registry: reg, Enablement: set, Host: &echoHost{}, Sink: &recordingSink{}})

			requested := string(all[requestIdx])
			d := g.Check(context.Background(), "subject", requested)
			want := enabled && slices.Contains(declared, requested)
			return d.Granted() == want
		},
		gen.SliceOf(gen.IntRange(0, len(all)-1)),
		gen.IntRange(0, len(all)-1),
		gen.Bool(),
	))

	properties.Property("capabilities reaching the host are a subset of declared", prop.ForAll(
		func(declaredIdx []int, requests []int) bool {
			var declared []string
			for _, i := range declaredIdx {
				if c := string(all[i]); !slices.Contains(declared, c) {
					declared = append(declared, c)
				}
			}

			reg := registry.New(slog.Default())
			registerModule(t, reg, "subject", declared...)
			host := &echoHost{}
			g := New(Config{Registry: reg, Enablement: newEnabledSet("subject"), Host: host, Sink: &recordingSink{}})

			acc := g.Accessor("subject")
			for _, r := range requests {
				_, _ = acc.Use(context.Background(), all[r], nil)
			}
			for _, used := range host.calls {
				if !slices.Contains(declared, string(used)) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, len(all)-1)),
		gen.SliceOf(gen.IntRange(0, len(all)-1)),
	))

	properties.TestingRun(t)
}

func TestStoreSink(t *testing.T) {
	backend := store.NewMockStore()
	f := setupGate(t)
	g := New(Config{
		Registry:   f.reg,
		Enablement: f.enabled,
		Sink:       MultiSink{NewLogSink(slog.Default()), NewStoreSink(backend)},
	})
	ctx := context.Background()

	granted := g.Check(ctx, "camera-tool", "camera")
	g.Check(ctx, "calculator", "camera")

	entries, err := backend.ListAuditLog(ctx, store.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	var found bool
	for _, e := range entries {
		if e.ID == granted.ID {
			found = true
			assert.Equal(t, store.AuditGranted, e.Outcome)
			assert.Equal(t, "declared", e.Reason)
		}
	}
	assert.True(t, found)
}

func TestMultiSink_JoinsErrors(t *testing.T) {
	a := &recordingSink{err: errors.New("a")}
	b := &recordingSink{}
	c := &recordingSink{err: errors.New("c")}

	err := MultiSink{a, b, c}.Record(context.Background(), AccessDecision{ID: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a")
	assert.Contains(t, err.Error(), "c")
	assert.Len(t, b.all(), 1, "later sinks still receive the decision")
}
