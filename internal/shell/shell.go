// ABOUTME: Shell controller joining the registry, enablement store and capability gate.
// ABOUTME: Backs the marketplace, active module list, module runs and permission probes.

package shell

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/sync/errgroup"

	"github.com/2389/toolshell/internal/catalog"
	"github.com/2389/toolshell/internal/enablement"
	"github.com/2389/toolshell/internal/gate"
	"github.com/2389/toolshell/internal/manifest"
	"github.com/2389/toolshell/internal/registry"
)

var (
	// ErrModuleDisabled is returned when running a module that is not enabled.
	ErrModuleDisabled = errors.New("module disabled")

	// ErrModuleCrashed is returned when a module panics while running.
	ErrModuleCrashed = errors.New("module crashed")
)

// ModuleView is a registered module joined with its enablement state.
type ModuleView struct {
	ID                  string            `json:"id"`
	DisplayName         string            `json:"display_name"`
	Version             string            `json:"version"`
	Description         string            `json:"description"`
	LongDescriptionHTML string            `json:"long_description_html,omitempty"`
	Category            manifest.Category `json:"category,omitempty"`
	Status              manifest.Status   `json:"status,omitempty"`
	Icon                string            `json:"icon,omitempty"`
	Color               string            `json:"color,omitempty"`
	Keywords            []string          `json:"keywords,omitempty"`
	Features            []string          `json:"features,omitempty"`
	Author              *manifest.Author  `json:"author,omitempty"`
	Permissions         []catalog.Info    `json:"permissions"`
	Risk                catalog.Summary   `json:"risk"`
	Enabled             bool              `json:"enabled"`
}

// PermissionUsage lists the modules declaring one capability.
type PermissionUsage struct {
	catalog.Info
	Modules []string `json:"modules"`
}

// Config contains the collaborators of a Shell.
type Config struct {
	Registry   *registry.Registry
	Enablement *enablement.Store
	Gate       *gate.Gate
	Logger     *slog.Logger
}

// Shell is the controller the view layer talks to.
type Shell struct {
	registry   *registry.Registry
	enablement *enablement.Store
	gate       *gate.Gate
	logger     *slog.Logger
	markdown   goldmark.Markdown

	htmlMu sync.Mutex
	html   map[manifest.ID]renderedHTML
}

// New creates a Shell. Call Open before serving requests.
func New(cfg Config) *Shell {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Shell{
		registry:   cfg.Registry,
		enablement: cfg.Enablement,
		gate:       cfg.Gate,
		logger:     logger.With("component", "shell"),
		markdown:   goldmark.New(goldmark.WithExtensions(extension.Linkify, extension.Strikethrough)),
		html:       make(map[manifest.ID]renderedHTML),
	}
}

// Open loads the persisted enabled set and, on first run, enables every registered module.
func (s *Shell) Open(ctx context.Context) {
	loaded := s.enablement.Load(ctx)

	seeded, err := s.enablement.SeedDefaultIfEmpty(ctx, s.allIDs())
	if err != nil {
		// The seeded set is in memory and will be retried on the next change.
		s.logger.Warn("seeding enabled modules failed", "error", err)
	}
	s.logger.Info("shell opened",
		"modules", s.registry.Len(),
		"enabled", len(s.enablement.Enabled()),
		"loaded", len(loaded),
		"seeded", seeded,
	)
}

// Modules returns every registered module in registry order.
func (s *Shell) Modules() []ModuleView {
	return s.views(s.registry.List())
}

// Module returns one module.
func (s *Shell) Module(id string) (ModuleView, error) {
	entry, err := s.registry.Lookup(id)
	if err != nil {
		return ModuleView{}, err
	}
	return s.view(entry), nil
}

// Active returns the enabled modules in registry order. Persisted ids with no
// registered module are ignored.
func (s *Shell) Active() []ModuleView {
	var out []ModuleView
	for _, e := range s.registry.List() {
		if s.enablement.IsEnabled(string(e.ID())) {
			out = append(out, s.view(e))
		}
	}
	if out == nil {
		out = []ModuleView{}
	}
	return out
}

// Search filters modules by name, description or keyword.
func (s *Shell) Search(query string) []ModuleView {
	return s.views(s.registry.Search(query))
}

// ByCategory filters modules by category.
func (s *Shell) ByCategory(cat manifest.Category) []ModuleView {
	return s.views(s.registry.ByCategory(cat))
}

// Enable enables a registered module.
func (s *Shell) Enable(ctx context.Context, id string) error {
	return s.setEnabled(ctx, id, true)
}

// Disable disables a registered module. Capability checks for it are denied from
// the moment this returns.
func (s *Shell) Disable(ctx context.Context, id string) error {
	return s.setEnabled(ctx, id, false)
}

// Toggle flips a registered module and returns its new state.
func (s *Shell) Toggle(ctx context.Context, id string) (bool, error) {
	entry, err := s.registry.Lookup(id)
	if err != nil {
		return false, err
	}
	on, err := s.enablement.Toggle(ctx, string(entry.ID()))
	if err != nil {
		return on, err
	}
	s.logger.Info("module toggled", "module_id", entry.ID(), "enabled", on)
	return on, nil
}

// EnableAll enables every registered module in one write.
func (s *Shell) EnableAll(ctx context.Context) error {
	if err := s.enablement.EnableAll(ctx, s.allIDs()); err != nil {
		return err
	}
	s.logger.Info("all modules enabled", "count", s.registry.Len())
	return nil
}

// DisableAll disables every module in one write.
func (s *Shell) DisableAll(ctx context.Context) error {
	if err := s.enablement.DisableAll(ctx); err != nil {
		return err
	}
	s.logger.Info("all modules disabled")
	return nil
}

// Run instantiates a module and runs it with a capability accessor bound to its id.
func (s *Shell) Run(ctx context.Context, id string, input json.RawMessage) (out json.RawMessage, err error) {
	entry, err := s.registry.Lookup(id)
	if err != nil {
		return nil, err
	}
	mid := entry.ID()
	if !s.enablement.IsEnabled(string(mid)) {
		return nil, fmt.Errorf("%w: %s", ErrModuleDisabled, mid)
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("module panicked", "module_id", mid, "panic", r)
			out, err = nil, fmt.Errorf("%w: %s: %v", ErrModuleCrashed, mid, r)
		}
	}()

	mod := entry.NewModule()
	out, err = mod.Run(ctx, s.gate.Accessor(mid), input)
	if err != nil {
		s.logger.Debug("module run failed", "module_id", mid, "error", err)
		return nil, err
	}
	return out, nil
}

// Probe checks every capability for a module concurrently and returns the decisions
// in catalog order. The module is not run and nothing is forwarded to the host.
func (s *Shell) Probe(ctx context.Context, id string) ([]gate.AccessDecision, error) {
	entry, err := s.registry.Lookup(id)
	if err != nil {
		return nil, err
	}

	caps := catalog.All()
	decisions := make([]gate.AccessDecision, len(caps))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range caps {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			decisions[i] = s.gate.Check(gctx, string(entry.ID()), string(c))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return decisions, nil
}

// Permissions lists every capability with the modules that declare it.
func (s *Shell) Permissions() []PermissionUsage {
	entries := s.registry.List()
	out := make([]PermissionUsage, 0, len(catalog.All()))
	for _, c := range catalog.All() {
		info, _ := catalog.Describe(c)
		u := PermissionUsage{Info: info, Modules: []string{}}
		for _, e := range entries {
			if e.Manifest().Declares(c) {
				u.Modules = append(u.Modules, string(e.ID()))
			}
		}
		out = append(out, u)
	}
	return out
}

// Stats returns gate decision counters.
func (s *Shell) Stats() gate.Stats {
	return s.gate.Stats()
}

// Flush retries a failed enablement write.
func (s *Shell) Flush(ctx context.Context) error {
	return s.enablement.Flush(ctx)
}

func (s *Shell) setEnabled(ctx context.Context, id string, on bool) error {
	entry, err := s.registry.Lookup(id)
	if err != nil {
		return err
	}
	if err := s.enablement.SetEnabled(ctx, string(entry.ID()), on); err != nil {
		return err
	}
	s.logger.Info("module enablement changed", "module_id", entry.ID(), "enabled", on)
	return nil
}

func (s *Shell) allIDs() []string {
	ids := s.registry.IDs()
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func (s *Shell) views(entries []*registry.Entry) []ModuleView {
	out := make([]ModuleView, 0, len(entries))
	for _, e := range entries {
		out = append(out, s.view(e))
	}
	return out
}

func (s *Shell) view(e *registry.Entry) ModuleView {
	m := e.Manifest()
	raw := m.Raw()
	perms := m.Permissions()
	infos := make([]catalog.Info, 0, len(perms))
	for _, c := range perms {
		if info, err := catalog.Describe(c); err == nil {
			infos = append(infos, info)
		}
	}
	return ModuleView{
		ID:                  string(m.ID()),
		DisplayName:         m.DisplayName(),
		Version:             m.Version().String(),
		Description:         m.Description(),
		LongDescriptionHTML: s.renderLongDescription(m),
		Category:            m.Category(),
		Status:              m.Status(),
		Icon:                m.Icon(),
		Color:               raw.Color,
		Keywords:            raw.Keywords,
		Features:            raw.Features,
		Author:              raw.Author,
		Permissions:         infos,
		Risk:                catalog.Summarize(perms),
		Enabled:             s.enablement.IsEnabled(string(m.ID())),
	}
}

// renderedHTML is a cached long description and the manifest it was rendered from.
type renderedHTML struct {
	from *manifest.Manifest
	html string
}

// renderLongDescription converts Markdown to HTML once per manifest. A module
// registered again under the same ID brings a new manifest and is rendered afresh.
func (s *Shell) renderLongDescription(m *manifest.Manifest) string {
	src := m.LongDescription()
	if src == "" {
		return ""
	}

	s.htmlMu.Lock()
	defer s.htmlMu.Unlock()
	if cached, ok := s.html[m.ID()]; ok && cached.from == m {
		return cached.html
	}

	var buf bytes.Buffer
	if err := s.markdown.Convert([]byte(src), &buf); err != nil {
		s.logger.Error("failed to convert markdown", "module_id", m.ID(), "error", err)
		buf.Reset()
		buf.WriteString("<p>Failed to render description.</p>")
	}
	s.html[m.ID()] = renderedHTML{from: m, html: buf.String()}
	return buf.String()
}
