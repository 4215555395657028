// ABOUTME: Capability gate mediating every module request for a sensitive host feature.
// ABOUTME: Grants only declared capabilities of enabled modules and audits every decision.

package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/2389/toolshell/internal/catalog"
	"github.com/2389/toolshell/internal/manifest"
	"github.com/2389/toolshell/internal/registry"
)

// ErrDenied matches every *CapabilityDenied.
var ErrDenied = errors.New("capability denied")

// ErrNoHost indicates the gate has no host to forward granted calls to.
var ErrNoHost = errors.New("no host configured")

// Outcome is the final state of a capability request.
type Outcome string

const (
	Granted Outcome = "granted"
	Denied  Outcome = "denied"
)

// Reason explains a decision.
type Reason string

const (
	ReasonDeclared          Reason = "declared"
	ReasonNotDeclared       Reason = "not declared"
	ReasonModuleDisabled    Reason = "module disabled"
	ReasonUnknownModule     Reason = "unknown module"
	ReasonUnknownCapability Reason = "unknown capability"
)

// AccessDecision is the record of one capability request.
type AccessDecision struct {
	ID         string    `json:"id"`
	ModuleID   string    `json:"module_id"`
	Capability string    `json:"capability"`
	Outcome    Outcome   `json:"outcome"`
	Reason     Reason    `json:"reason"`
	Timestamp  time.Time `json:"timestamp"`
}

// Granted reports whether the request was granted.
func (d AccessDecision) Granted() bool {
	return d.Outcome == Granted
}

// Err returns a *CapabilityDenied for denied decisions and nil otherwise.
func (d AccessDecision) Err() error {
	if d.Granted() {
		return nil
	}
	return &CapabilityDenied{ModuleID: d.ModuleID, Capability: d.Capability, Reason: d.Reason}
}

// CapabilityDenied is returned when policy refuses a request. It is distinct from
// any error the host itself produces.
type CapabilityDenied struct {
	ModuleID   string `json:"module_id"`
	Capability string `json:"capability"`
	Reason     Reason `json:"reason"`
}

func (e *CapabilityDenied) Error() string {
	return fmt.Sprintf("capability %q denied for module %q: %s", e.Capability, e.ModuleID, e.Reason)
}

// Is makes errors.Is(err, ErrDenied) match.
func (e *CapabilityDenied) Is(target error) bool {
	return target == ErrDenied
}

// Registry resolves a module id to its entry.
type Registry interface {
	Lookup(id string) (*registry.Entry, error)
}

// Enablement reports whether a module is currently enabled.
type Enablement interface {
	IsEnabled(id string) bool
}

// Host performs a granted capability call.
type Host interface {
	Call(ctx context.Context, moduleID manifest.ID, c catalog.Capability, payload json.RawMessage) (json.RawMessage, error)
}

// Config contains the collaborators of a Gate.
type Config struct {
	Registry   Registry
	Enablement Enablement
	Host       Host
	Sink       AuditSink
	Logger     *slog.Logger
	Now        func() time.Time
}

// Stats counts decisions since the gate was created.
type Stats struct {
	Granted uint64 `json:"granted"`
	Denied  uint64 `json:"denied"`
}

// Gate is the only sanctioned path from a module to a host capability.
// It keeps no per-request state; concurrent requests never affect one another.
type Gate struct {
	registry   Registry
	enablement Enablement
	host       Host
	sink       AuditSink
	logger     *slog.Logger
	now        func() time.Time

	granted atomic.Uint64
	denied  atomic.Uint64
}

// New creates a Gate. A nil Sink discards decisions after logging them.
func New(cfg Config) *Gate {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	sink := cfg.Sink
	if sink == nil {
		sink = NewLogSink(logger)
	}
	return &Gate{
		registry:   cfg.Registry,
		enablement: cfg.Enablement,
		host:       cfg.Host,
		sink:       sink,
		logger:     logger.With("component", "gate"),
		now:        now,
	}
}

// Check decides a request without performing it and records the decision.
func (g *Gate) Check(ctx context.Context, moduleID, capability string) AccessDecision {
	d := g.decide(moduleID, capability)
	g.record(ctx, d)
	return d
}

// Invoke decides a request and, when granted, forwards it to the host and returns
// the host's result unmodified. A denial returns *CapabilityDenied. Host failures
// are returned wrapped and never match ErrDenied.
func (g *Gate) Invoke(ctx context.Context, moduleID, capability string, payload json.RawMessage) (json.RawMessage, error) {
	d := g.Check(ctx, moduleID, capability)
	if !d.Granted() {
		return nil, d.Err()
	}
	if g.host == nil {
		return nil, ErrNoHost
	}

	// decide only grants known capabilities for registered modules
	c := catalog.Capability(capability)
	if parsed, err := catalog.Parse(capability); err == nil {
		c = parsed
	}
	out, err := g.host.Call(ctx, manifest.ID(moduleID), c, payload)
	if err != nil {
		g.logger.Warn("host capability failed",
			"module_id", moduleID,
			"capability", c,
			"error", err,
		)
		return nil, fmt.Errorf("host %s: %w", c, err)
	}
	return out, nil
}

// Accessor returns the capability handle handed to a running module.
func (g *Gate) Accessor(moduleID manifest.ID) *Accessor {
	return &Accessor{gate: g, moduleID: moduleID}
}

// Stats returns decision counters.
func (g *Gate) Stats() Stats {
	return Stats{Granted: g.granted.Load(), Denied: g.denied.Load()}
}

// decide walks Requested -> Checked -> Granted/Denied.
func (g *Gate) decide(moduleID, capability string) AccessDecision {
	d := AccessDecision{
		ID:         uuid.New().String(),
		ModuleID:   moduleID,
		Capability: capability,
		Outcome:    Denied,
		Timestamp:  g.now().UTC(),
	}

	entry, err := g.lookup(moduleID)
	if err != nil {
		d.Reason = ReasonUnknownModule
		return d
	}

	c, err := catalog.Parse(capability)
	if err != nil {
		d.Reason = ReasonUnknownCapability
		return d
	}

	if g.enablement == nil || !g.enablement.IsEnabled(moduleID) {
		d.Reason = ReasonModuleDisabled
		return d
	}

	if !entry.Manifest().Declares(c) {
		d.Reason = ReasonNotDeclared
		return d
	}

	d.Outcome = Granted
	d.Reason = ReasonDeclared
	return d
}

func (g *Gate) lookup(moduleID string) (*registry.Entry, error) {
	if g.registry == nil {
		return nil, registry.ErrNotFound
	}
	return g.registry.Lookup(moduleID)
}

func (g *Gate) record(ctx context.Context, d AccessDecision) {
	if d.Granted() {
		g.granted.Add(1)
	} else {
		g.denied.Add(1)
	}
	if err := g.sink.Record(ctx, d); err != nil {
		g.logger.Error("audit sink failed",
			"decision_id", d.ID,
			"module_id", d.ModuleID,
			"capability", d.Capability,
			"outcome", d.Outcome,
			"error", err,
		)
	}
}

// Accessor binds a module identity to the gate. It implements registry.Host.
type Accessor struct {
	gate     *Gate
	moduleID manifest.ID
}

// ModuleID returns the identity requests are made under.
func (a *Accessor) ModuleID() manifest.ID {
	return a.moduleID
}

// Use requests capability c on behalf of the bound module.
func (a *Accessor) Use(ctx context.Context, c catalog.Capability, payload json.RawMessage) (json.RawMessage, error) {
	return a.gate.Invoke(ctx, string(a.moduleID), string(c), payload)
}

// Check asks whether c would be granted, without performing it.
func (a *Accessor) Check(ctx context.Context, c catalog.Capability) AccessDecision {
	return a.gate.Check(ctx, string(a.moduleID), string(c))
}
